// Package auth はユーザー登録とログインを実装する。
// 認証情報ストア・パスワードハッシャ・トークンサービスを組み合わせる。
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/nao1215/authgate/internal/credential"
)

var (
	// ErrMissingFields はユーザー名またはパスワードが空であることを表す。
	ErrMissingFields = errors.New("auth: username and password needed")
	// ErrInvalidCredentials はユーザーが存在しないかパスワードが一致しないことを表す。
	// どちらの理由かは区別しない。
	ErrInvalidCredentials = errors.New("auth: wrong username/password")
	// ErrUsernameTaken は登録しようとしたユーザー名が使用済みであることを表す。
	ErrUsernameTaken = errors.New("auth: username is taken")
)

// PasswordHasher はパスワードのハッシュ化と照合を行う。
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
	VerifyAbsent(plaintext string) bool
}

// TokenIssuer はログイン成功時にアクセストークンを発行する。
type TokenIssuer interface {
	Issue(userID int, username string) (string, error)
}

// Service はユーザー登録とログインを提供する。
type Service struct {
	store  credential.Store
	hasher PasswordHasher
	tokens TokenIssuer
}

// NewService は新しい認証サービスを生成する。
func NewService(store credential.Store, hasher PasswordHasher, tokens TokenIssuer) *Service {
	return &Service{store: store, hasher: hasher, tokens: tokens}
}

// Login はユーザー名とパスワードを照合し、アクセストークンを返す。
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", ErrMissingFields
	}

	user, found := credential.FindByUsername(s.store.LoadAll(ctx), username)
	if !found {
		s.hasher.VerifyAbsent(password)
		return "", ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return "", fmt.Errorf("アクセストークンの発行に失敗: %w", err)
	}
	return token, nil
}

// Register はパスワードをハッシュ化してユーザーを登録する。
// 重複確認と追記はストアの原子的操作で行う。
func (s *Service) Register(ctx context.Context, username, password string) (credential.User, error) {
	if username == "" || password == "" {
		return credential.User{}, ErrMissingFields
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return credential.User{}, fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}

	user, err := s.store.InsertUnique(ctx, username, digest)
	if errors.Is(err, credential.ErrUsernameTaken) {
		return credential.User{}, ErrUsernameTaken
	}
	if err != nil {
		return credential.User{}, fmt.Errorf("ユーザー登録に失敗: %w", err)
	}
	return user, nil
}
