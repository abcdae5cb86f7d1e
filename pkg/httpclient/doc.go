// Package httpclient は後段のリソースAPIと通信するHTTPクライアントを提供する。
//
// ゲートを通過したリクエストをそのまま転送するForwardと、
// 疎通確認用のProbeを持つ。
package httpclient
