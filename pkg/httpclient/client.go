package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout は後段リクエストの既定タイムアウト。
const DefaultTimeout = 30 * time.Second

// forwardedHeaders は後段へ転送するリクエストヘッダー。
var forwardedHeaders = []string{
	"Accept",
	"Authorization",
	"Content-Type",
	"X-Request-ID",
	"X-User-ID",
}

// relayedHeaders は後段のレスポンスからクライアントへ中継するヘッダー。
// ページングや作成先の通知に使われるものに限る。
var relayedHeaders = []string{
	"Cache-Control",
	"ETag",
	"Last-Modified",
	"Link",
	"Location",
	"X-Total-Count",
}

// Client はリソースAPIへのHTTPクライアント。
type Client struct {
	// httpClient は内部で使用するHTTPクライアント。
	httpClient *http.Client
	// baseURL は接続先リソースAPIのベースURL。
	baseURL string
}

// New は新しいクライアントを生成する。
// baseURLには接続先のベースURL（例: "http://localhost:3000"）を指定する。
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// BaseURL は接続先のベースURLを返す。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ForwardRequest は後段へ転送するリクエストの内容。
type ForwardRequest struct {
	// Method はHTTPメソッド。
	Method string
	// Path はベースURLからの相対パス。
	Path string
	// RawQuery はクエリ文字列（?を含まない）。
	RawQuery string
	// Header は元のリクエストヘッダー。forwardedHeadersのみ転送する。
	Header http.Header
	// Body はリクエストボディ。nilの場合はボディなし。
	Body io.Reader
	// ContentLength はボディの長さ。不明な場合は-1。
	ContentLength int64
}

// Forward はリクエストを後段へ転送し、レスポンスを返す。
// 呼び出し側でレスポンスボディを閉じること。
func (c *Client) Forward(ctx context.Context, fr ForwardRequest) (*http.Response, error) {
	target := c.baseURL + "/" + strings.TrimLeft(fr.Path, "/")
	if fr.RawQuery != "" {
		target += "?" + fr.RawQuery
	}
	if _, err := url.Parse(target); err != nil {
		return nil, fmt.Errorf("転送先URLが不正: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, fr.Method, target, fr.Body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	if fr.Body != nil && fr.ContentLength >= 0 {
		req.ContentLength = fr.ContentLength
	}
	for _, key := range forwardedHeaders {
		if v := fr.Header.Get(key); v != "" {
			req.Header.Set(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	return resp, nil
}

// Probe はベースURLにGETを送り、後段が応答するかを確認する。
// 5xx応答と通信失敗をエラーとする。
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("HTTPエラー: status=%d", resp.StatusCode)
	}
	return nil
}

// RelayHeaders はレスポンスのうちクライアントへ中継するヘッダーを返す。
func RelayHeaders(resp *http.Response) map[string]string {
	headers := make(map[string]string)
	for _, key := range relayedHeaders {
		if v := resp.Header.Get(key); v != "" {
			headers[key] = v
		}
	}
	return headers
}
