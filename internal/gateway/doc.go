// Package gateway は認証ゲートウェイのHTTPサーバーを提供する。
//
// /auth/login と /auth/register でユーザー登録・トークン発行を行い、
// 保護プレフィックス（既定 /api）配下のリクエストをアクセスゲートで検査してから
// 後段のリソースAPIへ転送する。アップロードされたファイルの保存と配信も担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として機能する。
package gateway
