package gateway

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// uploadField はアップロードファイルを受け取るマルチパートのフィールド名。
const uploadField = "file"

// handleUpload はマルチパートのfileフィールドをアップロードフォルダに保存するハンドラを返す。
// 保存名は "<フィールド名>-<UNIXミリ秒><拡張子>" とする。
func (s *Server) handleUpload() gin.HandlerFunc {
	return func(c *gin.Context) {
		fh, err := c.FormFile(uploadField)
		if errors.Is(err, http.ErrMissingFile) {
			c.JSON(http.StatusBadRequest, gin.H{"message": "file field is required"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}

		filename, err := s.saveUpload(fh)
		if err != nil {
			s.logger.Error().Err(err).Str("filename", fh.Filename).Msg("アップロードファイルの保存に失敗")
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}

		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		c.JSON(http.StatusCreated, gin.H{
			"path": fmt.Sprintf("%s://%s/%s", scheme, c.Request.Host, filename),
		})
	}
}

// maxNameAttempts は保存名が衝突したときに連番を試す回数。
const maxNameAttempts = 100

// saveUpload はアップロードファイルを既存ファイルを上書きしない名前で保存し、保存名を返す。
// 同じミリ秒の保存名が既にあれば "<フィールド名>-<UNIXミリ秒>-<連番><拡張子>" を使う。
func (s *Server) saveUpload(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("アップロードファイルのオープンに失敗: %w", err)
	}
	defer src.Close()

	ext := filepath.Ext(filepath.Base(fh.Filename))
	base := fmt.Sprintf("%s-%d", uploadField, s.now().UnixMilli())
	for i := 0; i < maxNameAttempts; i++ {
		filename := base + ext
		if i > 0 {
			filename = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		dst := filepath.Join(s.cfg.UploadFolder, filename)
		out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("保存先ファイルの作成に失敗: %w", err)
		}
		if _, err := io.Copy(out, src); err != nil {
			_ = out.Close()
			_ = os.Remove(dst)
			return "", fmt.Errorf("アップロードファイルの書き込みに失敗: %w", err)
		}
		if err := out.Close(); err != nil {
			_ = os.Remove(dst)
			return "", fmt.Errorf("アップロードファイルのクローズに失敗: %w", err)
		}
		return filename, nil
	}
	return "", fmt.Errorf("保存名の候補をすべて使い切った: %s%s", base, ext)
}

// handleStatic はアップロードフォルダ内の通常ファイルを配信するハンドラを返す。
// ルートに一致しなかったGET/HEADで使われ、それ以外は404を返す。
func (s *Server) handleStatic() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			handleNotFound(c)
			return
		}

		name := strings.TrimPrefix(path.Clean("/"+c.Request.URL.Path), "/")
		if name == "" || hasHiddenSegment(name) {
			handleNotFound(c)
			return
		}
		full := filepath.Join(s.cfg.UploadFolder, filepath.FromSlash(name))
		info, err := os.Stat(full)
		if err != nil || !info.Mode().IsRegular() {
			handleNotFound(c)
			return
		}
		c.File(full)
	}
}

// hasHiddenSegment はパスのいずれかの要素がドットで始まるかを判定する。
// 書き込み途中の一時ファイルなどは配信しない。
func hasHiddenSegment(name string) bool {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
