package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/authgate/pkg/token"
)

const (
	// contextKeyUserID は認証済みユーザーIDを格納するGinコンテキストのキー。
	contextKeyUserID = "user_id"
	// contextKeyUsername は認証済みユーザー名を格納するGinコンテキストのキー。
	contextKeyUsername = "username"
	// headerKeyUserID は後段サービスへユーザーIDを伝播するHTTPヘッダーキー。
	headerKeyUserID = "X-User-ID"
	// rejectMessage は拒否時の応答メッセージ。失敗理由は区別しない。
	rejectMessage = "Wrong access token"
	// DefaultMaxBodyBytes はJSONボディとして読み込む既定の上限（10MiB）。
	DefaultMaxBodyBytes = 10 << 20
	// timestampLayout はupdatedAtの書式（ミリ秒精度のUTC ISO8601）。
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// AccessPolicy はどのHTTPメソッドにトークンを要求するかを表す。
// 起動時に設定から決まり、プロセスの生存中は変わらない。
type AccessPolicy struct {
	// RequireAuthOnRead はGET/HEADにトークンを要求するかどうか。
	RequireAuthOnRead bool
	// RequireAuthOnWrite はPOST/PUT/PATCH/DELETEにトークンを要求するかどうか。
	RequireAuthOnWrite bool
}

// Requires はmethodのリクエストにトークンが必要かを返す。
func (p AccessPolicy) Requires(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead:
		return p.RequireAuthOnRead
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return p.RequireAuthOnWrite
	default:
		return false
	}
}

// TokenVerifier はアクセストークンを検証してクレームを返す。
type TokenVerifier interface {
	Verify(token string) (*token.Claims, error)
}

// Decision はゲートの判定結果。
type Decision string

const (
	// DecisionPublic はポリシー上トークン不要として素通しした。
	DecisionPublic Decision = "public"
	// DecisionAuthorized はトークンを検証して通過させた。
	DecisionAuthorized Decision = "authorized"
	// DecisionRejected はトークンが無いか無効なため401で打ち切った。
	DecisionRejected Decision = "rejected"
)

// GateOption はAccessGateの動作を変更するオプション。
type GateOption func(*gateConfig)

type gateConfig struct {
	now     func() time.Time
	observe func(Decision)
	maxBody int64
}

// WithGateClock はupdatedAtの刻印に使う時計を差し替える。
func WithGateClock(now func() time.Time) GateOption {
	return func(c *gateConfig) {
		c.now = now
	}
}

// WithMaxBodyBytes は書き換えのために読み込むJSONボディの上限を設定する。
// 0以下を指定した場合は既定値のままとする。
func WithMaxBodyBytes(n int64) GateOption {
	return func(c *gateConfig) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithDecisionObserver は判定ごとに呼ばれる関数を登録する。メトリクス収集に使う。
func WithDecisionObserver(observe func(Decision)) GateOption {
	return func(c *gateConfig) {
		c.observe = observe
	}
}

// AccessGate はポリシーに従ってアクセストークンを要求するGinミドルウェアを返す。
//
// トークンが不要なメソッドはそのまま通す。必要な場合はAuthorizationヘッダーの
// 2番目の空白区切り要素をトークンとして検証し、成功すればユーザーIDを
// コンテキスト・X-User-IDヘッダー・JSONボディ（userId）に設定する。
// POST/PUTではさらにupdatedAtを刻印する。失敗時は401を返して処理を打ち切る。
func AccessGate(verifier TokenVerifier, policy AccessPolicy, opts ...GateOption) gin.HandlerFunc {
	cfg := gateConfig{now: time.Now, observe: func(Decision) {}, maxBody: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(c *gin.Context) {
		if !policy.Requires(c.Request.Method) {
			cfg.observe(DecisionPublic)
			c.Next()
			return
		}

		tokenString, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			reject(c, cfg)
			return
		}

		claims, err := verifier.Verify(tokenString)
		if err != nil {
			reject(c, cfg)
			return
		}

		c.Set(contextKeyUserID, claims.UserID)
		c.Set(contextKeyUsername, claims.Username)
		c.Request.Header.Set(headerKeyUserID, strconv.Itoa(claims.UserID))

		stamp := c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut
		if err := injectBody(c.Writer, c.Request, claims.UserID, stamp, cfg.now, cfg.maxBody); err != nil {
			if errors.Is(err, errBodyTooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"message": "Request body too large"})
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
			return
		}

		cfg.observe(DecisionAuthorized)
		c.Next()
	}
}

// bearerToken は "<scheme> <token>" 形式のヘッダーからトークン部分を取り出す。
// スキーム名は検査しない。
func bearerToken(header string) (string, bool) {
	fields := strings.Fields(header)
	if len(fields) < 2 {
		return "", false
	}
	return fields[1], true
}

func reject(c *gin.Context, cfg gateConfig) {
	cfg.observe(DecisionRejected)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"status":  http.StatusUnauthorized,
		"message": rejectMessage,
	})
}

// errBodyTooLarge はJSONボディが上限を超えたことを表す。
var errBodyTooLarge = errors.New("request body too large")

// injectBody はJSONオブジェクトのボディにuserId（とupdatedAt）を追加する。
// Content-TypeがJSONでないボディは読まずにそのまま残す。
// オブジェクト以外のJSONや、複数の値を含むボディも変更しない。
func injectBody(w http.ResponseWriter, r *http.Request, userID int, stamp bool, now func() time.Time, limit int64) error {
	if !isJSONContent(r.Header.Get("Content-Type")) {
		return nil
	}

	var raw []byte
	if r.Body != nil && r.Body != http.NoBody {
		var err error
		raw, err = io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
		_ = r.Body.Close()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return errBodyTooLarge
			}
			return err
		}
	}
	restore := func(b []byte) {
		r.Body = io.NopCloser(bytes.NewReader(b))
		r.ContentLength = int64(len(b))
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		if !stamp {
			restore(raw)
			return nil
		}
		raw = []byte("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil || body == nil {
		restore(raw)
		return nil
	}
	var trailing json.RawMessage
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		restore(raw)
		return nil
	}

	body["userId"] = userID
	if stamp {
		body["updatedAt"] = now().UTC().Format(timestampLayout)
	}

	rewritten, err := json.Marshal(body)
	if err != nil {
		restore(raw)
		return nil
	}
	restore(rewritten)
	r.Header.Set("Content-Type", "application/json")
	return nil
}

// isJSONContent はContent-TypeがJSONか、未指定かを判定する。
func isJSONContent(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// GetUserID はGinコンテキストから認証済みユーザーIDを取得する。
// AccessGateを通過していないリクエストではfalseを返す。
func GetUserID(c *gin.Context) (int, bool) {
	v, ok := c.Get(contextKeyUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int)
	return id, ok
}

// GetUsername はGinコンテキストから認証済みユーザー名を取得する。
func GetUsername(c *gin.Context) string {
	return c.GetString(contextKeyUsername)
}
