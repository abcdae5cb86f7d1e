package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// testSecret はテスト用の署名鍵。
const testSecret = "test-secret-key-for-unit-tests"

// fakeClock はテストから進められる時計。
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// newTestService はテスト用の時計を持つServiceを生成する。
func newTestService(t *testing.T, clock *fakeClock, opts ...Option) *Service {
	t.Helper()

	opts = append(opts, WithClock(clock.Now))
	s, err := NewService(testSecret, opts...)
	if err != nil {
		t.Fatalf("NewService()でエラーが発生: %v", err)
	}
	return s
}

// TestNewService はNewService関数を検証する。
func TestNewService(t *testing.T) {
	t.Parallel()

	t.Run("既定の有効期間が24時間であること", func(t *testing.T) {
		t.Parallel()

		s, err := NewService(testSecret)
		if err != nil {
			t.Fatalf("NewService()でエラーが発生: %v", err)
		}
		if s.Lifetime() != 24*time.Hour {
			t.Errorf("Lifetime() = %v, want 24h", s.Lifetime())
		}
	})

	t.Run("空の秘密鍵でエラーが返ること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewService(""); err == nil {
			t.Fatal("NewService()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("0以下の有効期間でエラーが返ること", func(t *testing.T) {
		t.Parallel()

		if _, err := NewService(testSecret, WithLifetime(0)); err == nil {
			t.Fatal("NewService()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestIssueAndVerify は発行したトークンの検証を確認する。
func TestIssueAndVerify(t *testing.T) {
	t.Parallel()

	t.Run("発行直後のトークンからクレームを取り出せること", func(t *testing.T) {
		t.Parallel()

		clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		s := newTestService(t, clock)

		tok, err := s.Issue(7, "alice")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		claims, err := s.Verify(tok)
		if err != nil {
			t.Fatalf("Verify()でエラーが発生: %v", err)
		}
		if claims.UserID != 7 {
			t.Errorf("UserID = %d, want 7", claims.UserID)
		}
		if claims.Username != "alice" {
			t.Errorf("Username = %q, want %q", claims.Username, "alice")
		}
		if claims.ID == "" {
			t.Error("jtiが空")
		}
		wantExp := clock.t.Add(24 * time.Hour)
		if !claims.ExpiresAt.Time.Equal(wantExp) {
			t.Errorf("ExpiresAt = %v, want %v", claims.ExpiresAt.Time, wantExp)
		}
	})

	t.Run("有効期限を過ぎるとErrExpiredが返ること", func(t *testing.T) {
		t.Parallel()

		clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		s := newTestService(t, clock, WithLifetime(time.Hour))

		tok, err := s.Issue(1, "alice")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		clock.Advance(59 * time.Minute)
		if _, err := s.Verify(tok); err != nil {
			t.Fatalf("期限前のVerify()でエラーが発生: %v", err)
		}

		clock.Advance(2 * time.Minute)
		_, err = s.Verify(tok)
		if !errors.Is(err, ErrExpired) {
			t.Fatalf("Verify() error = %v, want ErrExpired", err)
		}
	})

	t.Run("異なる秘密鍵で署名されたトークンはErrInvalidになること", func(t *testing.T) {
		t.Parallel()

		other, err := NewService("another-secret")
		if err != nil {
			t.Fatalf("NewService()でエラーが発生: %v", err)
		}
		tok, err := other.Issue(1, "alice")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		s, err := NewService(testSecret)
		if err != nil {
			t.Fatalf("NewService()でエラーが発生: %v", err)
		}
		if _, err := s.Verify(tok); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Verify() error = %v, want ErrInvalid", err)
		}
	})

	t.Run("改ざんされたトークンはErrInvalidになること", func(t *testing.T) {
		t.Parallel()

		s, err := NewService(testSecret)
		if err != nil {
			t.Fatalf("NewService()でエラーが発生: %v", err)
		}
		tok, err := s.Issue(1, "alice")
		if err != nil {
			t.Fatalf("Issue()でエラーが発生: %v", err)
		}

		parts := strings.Split(tok, ".")
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: 99}).SignedString([]byte("x"))
		if err != nil {
			t.Fatalf("偽造トークンの生成に失敗: %v", err)
		}
		tampered := parts[0] + "." + strings.Split(forged, ".")[1] + "." + parts[2]

		if _, err := s.Verify(tampered); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Verify() error = %v, want ErrInvalid", err)
		}
	})

	t.Run("形式不正な文字列はErrInvalidになること", func(t *testing.T) {
		t.Parallel()

		s, err := NewService(testSecret)
		if err != nil {
			t.Fatalf("NewService()でエラーが発生: %v", err)
		}
		for _, in := range []string{"", "not.a.jwt", "garbage", "a.b"} {
			if _, err := s.Verify(in); !errors.Is(err, ErrInvalid) {
				t.Errorf("Verify(%q) error = %v, want ErrInvalid", in, err)
			}
		}
	})

	t.Run("HS256以外のアルゴリズムは拒否されること", func(t *testing.T) {
		t.Parallel()

		s, err := NewService(testSecret)
		if err != nil {
			t.Fatalf("NewService()でエラーが発生: %v", err)
		}
		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    issuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			UserID: 1,
		}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("トークン生成に失敗: %v", err)
		}

		if _, err := s.Verify(tok); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Verify() error = %v, want ErrInvalid", err)
		}
	})

	t.Run("有効期限のないトークンは拒否されること", func(t *testing.T) {
		t.Parallel()

		s, err := NewService(testSecret)
		if err != nil {
			t.Fatalf("NewService()でエラーが発生: %v", err)
		}
		claims := Claims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer},
			UserID:           1,
		}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		if err != nil {
			t.Fatalf("トークン生成に失敗: %v", err)
		}

		if _, err := s.Verify(tok); !errors.Is(err, ErrInvalid) {
			t.Fatalf("Verify() error = %v, want ErrInvalid", err)
		}
	})
}
