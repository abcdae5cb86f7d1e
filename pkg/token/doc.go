// Package token は署名付きの期限付きアクセストークン（JWT）を発行・検証する。
//
// トークンはステートレスで自己完結しており、サーバー側にセッションを持たない。
// そのため有効期限前に失効させることはできない。
package token
