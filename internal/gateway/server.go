package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nao1215/authgate/internal/auth"
	"github.com/nao1215/authgate/internal/config"
	"github.com/nao1215/authgate/internal/credential"
	"github.com/nao1215/authgate/internal/password"
	"github.com/nao1215/authgate/pkg/httpclient"
	"github.com/nao1215/authgate/pkg/metrics"
	"github.com/nao1215/authgate/pkg/middleware"
	"github.com/nao1215/authgate/pkg/token"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

// Server は認証ゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg は起動時に読み込んだ設定。
	cfg config.Config
	// logger は構造化ロガー。
	logger zerolog.Logger
	// auth はユーザー登録とログインのサービス。
	auth *auth.Service
	// tokens はアクセストークンの発行・検証サービス。
	tokens *token.Service
	// upstream はリソースAPIへのクライアント。
	upstream *httpclient.Client
	// metrics はPrometheusメトリクス。
	metrics *metrics.Metrics
	// now は時刻の取得関数。テストで差し替える。
	now func() time.Time
	// closer はストアの後始末。ファイルストアではnil。
	closer io.Closer
}

// Option はNewServerの動作を変更するオプション。
type Option func(*Server)

// WithClock はトークンの発行・検証とupdatedAtの刻印に使う時計を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// NewServer は設定から依存関係を組み立て、ルーティング済みのサーバーを返す。
func NewServer(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	store, closer, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.closer = closer

	hasher, err := password.NewHasher(cfg.Salt)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("パスワードハッシャの初期化に失敗: %w", err)
	}

	tokens, err := token.NewService(cfg.SecretKey,
		token.WithLifetime(cfg.JWTExpiration.Duration()),
		token.WithClock(s.now),
	)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("トークンサービスの初期化に失敗: %w", err)
	}
	s.tokens = tokens
	s.auth = auth.NewService(store, hasher, tokens)
	s.upstream = httpclient.New(cfg.ResourceAPIURL, httpclient.DefaultTimeout)

	if cfg.UploadFolder != "" {
		if err := os.MkdirAll(cfg.UploadFolder, 0o755); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("アップロードディレクトリの作成に失敗: %w", err)
		}
	}

	router := gin.New()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(s.metrics.Middleware())
	router.Use(middleware.CORS(cfg.CORSOrigins))
	s.router = router
	s.setupRoutes()

	return s, nil
}

// openStore は設定されたドライバーの認証情報ストアを開く。
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (credential.Store, io.Closer, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		store, err := credential.OpenSQLiteStore(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("SQLiteストアの初期化に失敗: %w", err)
		}
		return store, store, nil
	case config.DriverFile, "":
		return credential.NewFileStore(cfg.DBFile, logger), nil, nil
	default:
		return nil, nil, fmt.Errorf("未対応のストアドライバー: %q", cfg.StoreDriver)
	}
}

// Handler はルーティング済みのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
		}
		return nil
	}
}

// Close はストアなどのリソースを解放する。
func (s *Server) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	var limiter *rate.Limiter
	if s.cfg.AuthRateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.AuthRateLimit), s.cfg.AuthRateBurst)
	}

	// 認証エンドポイント（トークン不要）
	authGroup := s.router.Group("/auth")
	authGroup.Use(middleware.RateLimit(limiter))
	{
		authGroup.POST("/login", s.handleLogin())
		authGroup.POST("/register", s.handleRegister())
	}

	gate := middleware.AccessGate(s.tokens,
		middleware.AccessPolicy{
			RequireAuthOnRead:  s.cfg.AuthRead.Bool(),
			RequireAuthOnWrite: s.cfg.AuthWrite.Bool(),
		},
		middleware.WithGateClock(s.now),
		middleware.WithDecisionObserver(func(d middleware.Decision) {
			s.metrics.RecordGateDecision(string(d))
		}),
	)

	// リソースAPI（ポリシーに従いトークンを要求してから転送）
	s.router.Any(s.cfg.APIPrefix+"/*path", gate, s.handleResourceProxy())

	if s.cfg.UploadFolder != "" {
		s.router.POST("/upload", gate, s.handleUpload())
		s.router.NoRoute(s.handleStatic())
	} else {
		s.router.NoRoute(handleNotFound)
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "authgate"})
	})
	s.router.GET("/ready", s.handleReady())
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
}

// handleReady は後段のリソースAPIが応答するかを返すハンドラを返す。
func (s *Server) handleReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.upstream.Probe(c.Request.Context()); err != nil {
			s.logger.Warn().Err(err).Str("upstream", s.upstream.BaseURL()).Msg("リソースAPIが応答しません")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func handleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"message": "Not found"})
}
