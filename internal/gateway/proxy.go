package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/authgate/pkg/httpclient"
	"github.com/nao1215/authgate/pkg/middleware"
)

// handleResourceProxy はゲートを通過したリクエストをリソースAPIへ転送するハンドラを返す。
// 保護プレフィックスを取り除いたパスで転送し、ステータス・ボディ・Content-Typeを中継する。
func (s *Server) handleResourceProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		// クライアントが送ったX-User-IDは信用せず、ゲートの判定結果だけを伝播する
		header := c.Request.Header.Clone()
		header.Del("X-User-ID")
		if userID, ok := middleware.GetUserID(c); ok {
			header.Set("X-User-ID", strconv.Itoa(userID))
		}

		resp, err := s.upstream.Forward(c.Request.Context(), httpclient.ForwardRequest{
			Method:        c.Request.Method,
			Path:          c.Param("path"),
			RawQuery:      c.Request.URL.RawQuery,
			Header:        header,
			Body:          c.Request.Body,
			ContentLength: c.Request.ContentLength,
		})
		if err != nil {
			s.logger.Error().Err(err).
				Str("method", c.Request.Method).
				Str("path", c.Param("path")).
				Msg("リソースAPIへの転送に失敗")
			c.JSON(http.StatusBadGateway, gin.H{"message": "Resource API unavailable"})
			return
		}
		defer resp.Body.Close()

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/json"
		}
		c.DataFromReader(resp.StatusCode, resp.ContentLength, contentType, resp.Body, httpclient.RelayHeaders(resp))
	}
}
