// Package middleware はゲートウェイのGinミドルウェアを提供する。
//
// ポリシーに基づくアクセストークン検証（AccessGate）、アクセスログ、
// パニックリカバリ、CORS、レート制限を含む。各ミドルウェアはGinの
// ハンドラチェーン上で c.Next() による転送か c.Abort 系による打ち切りを選ぶ。
package middleware
