package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/authgate/internal/auth"
	"github.com/nao1215/authgate/internal/password"
)

const (
	msgMissingFields      = "username and password needed."
	msgInvalidCredentials = "Wrong username/password"
	msgUsernameTaken      = "Username is taken"
	msgRegistered         = "Registration completed"
	msgRegisterFailed     = "Registration failed"
	msgPasswordTooLong    = "password must be at most 72 bytes"
)

// credentialsRequest はログイン・登録リクエストのボディ。
// JSONとフォームの両方を受け付ける。
type credentialsRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// bindCredentials はリクエストボディからユーザー名とパスワードを取り出す。
// 解析できないボディは空の入力として扱う。
func bindCredentials(c *gin.Context) credentialsRequest {
	var req credentialsRequest
	if err := c.ShouldBind(&req); err != nil {
		return credentialsRequest{}
	}
	return req
}

// handleLogin はユーザー名とパスワードを照合してアクセストークンを返すハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := bindCredentials(c)

		accessToken, err := s.auth.Login(c.Request.Context(), req.Username, req.Password)
		switch {
		case err == nil:
			s.metrics.RecordAuth("login", "success")
			c.JSON(http.StatusCreated, gin.H{"accessToken": accessToken})
		case errors.Is(err, auth.ErrMissingFields):
			s.metrics.RecordAuth("login", "missing_fields")
			c.JSON(http.StatusBadRequest, gin.H{"message": msgMissingFields})
		case errors.Is(err, auth.ErrInvalidCredentials):
			s.metrics.RecordAuth("login", "invalid_credentials")
			c.JSON(http.StatusUnauthorized, gin.H{"message": msgInvalidCredentials})
		default:
			s.metrics.RecordAuth("login", "error")
			s.logger.Error().Err(err).Str("username", req.Username).Msg("ログイン処理に失敗")
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
		}
	}
}

// handleRegister はユーザーを登録するハンドラを返す。
func (s *Server) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := bindCredentials(c)

		user, err := s.auth.Register(c.Request.Context(), req.Username, req.Password)
		switch {
		case err == nil:
			s.metrics.RecordAuth("register", "success")
			s.logger.Info().Int("user_id", user.ID).Str("username", user.Username).Msg("ユーザーを登録しました")
			c.JSON(http.StatusCreated, gin.H{"message": msgRegistered})
		case errors.Is(err, auth.ErrMissingFields):
			s.metrics.RecordAuth("register", "missing_fields")
			c.JSON(http.StatusBadRequest, gin.H{"message": msgMissingFields})
		case errors.Is(err, auth.ErrUsernameTaken):
			s.metrics.RecordAuth("register", "taken")
			c.JSON(http.StatusBadRequest, gin.H{"message": msgUsernameTaken})
		case errors.Is(err, password.ErrTooLong):
			s.metrics.RecordAuth("register", "invalid")
			c.JSON(http.StatusBadRequest, gin.H{"message": msgPasswordTooLong})
		default:
			s.metrics.RecordAuth("register", "error")
			s.logger.Error().Err(err).Str("username", req.Username).Msg("ユーザー登録に失敗")
			c.JSON(http.StatusInternalServerError, gin.H{"message": msgRegisterFailed})
		}
	}
}
