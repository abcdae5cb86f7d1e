package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultLifetime はトークンの既定の有効期間。
const DefaultLifetime = 24 * time.Hour

// issuer はトークンの発行者名。
const issuer = "authgate"

var (
	// ErrExpired はトークンの有効期限が切れていることを表す。
	ErrExpired = errors.New("token: expired")
	// ErrInvalid は署名不一致・形式不正・クレーム欠落など、期限切れ以外の検証失敗を表す。
	ErrInvalid = errors.New("token: invalid")
)

// Claims はアクセストークンのクレーム（ペイロード）を表す。
type Claims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの数値ID。
	UserID int `json:"userId"`
	// Username はログインに使用したユーザー名。
	Username string `json:"username"`
}

// Service はHS256署名でトークンを発行・検証する。
// 内部状態は不変なので複数のgoroutineから同時に利用できる。
type Service struct {
	// secret は署名用の秘密鍵。
	secret []byte
	// lifetime は発行時から失効までの期間。
	lifetime time.Duration
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// Option はServiceの生成オプション。
type Option func(*Service)

// WithLifetime はトークンの有効期間を設定する。
func WithLifetime(d time.Duration) Option {
	return func(s *Service) {
		s.lifetime = d
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService は新しいトークンサービスを生成する。
func NewService(secret string, opts ...Option) (*Service, error) {
	if secret == "" {
		return nil, errors.New("token: 署名用の秘密鍵が空です")
	}
	s := &Service{
		secret:   []byte(secret),
		lifetime: DefaultLifetime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.lifetime <= 0 {
		return nil, fmt.Errorf("token: 有効期間は正の値である必要があります: %s", s.lifetime)
	}
	return s, nil
}

// Lifetime は設定されている有効期間を返す。
func (s *Service) Lifetime() time.Duration {
	return s.lifetime
}

// Issue はユーザー情報を埋め込んだトークンを発行する。
func (s *Service) Issue(userID int, username string) (string, error) {
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
		},
		UserID:   userID,
		Username: username,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("トークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// Verify はトークンの署名と有効期限を検証し、クレームを返す。
// 期限切れの場合はErrExpired、それ以外の失敗はすべてErrInvalidを返す。
func (s *Service) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalid
	}
	return claims, nil
}
