// Package logging はzerologベースの構造化ロガーを生成する。
//
// 全コンポーネントはここで生成したロガーを受け取り、
// リクエストログ・ストア障害・パニック等を同じ形式で出力する。
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Format はログの出力形式を表す。
type Format string

const (
	// FormatConsole は人間が読みやすいコンソール形式。
	FormatConsole Format = "console"
	// FormatJSON は1行1JSONの機械可読形式。
	FormatJSON Format = "json"
)

// New は指定レベル・形式のロガーを生成する。
// levelが空の場合はinfoとして扱う。
func New(w io.Writer, level string, format Format) (zerolog.Logger, error) {
	if w == nil {
		w = os.Stdout
	}

	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("ログレベルの解析に失敗: %w", err)
		}
		lvl = parsed
	}

	switch format {
	case FormatJSON:
	case FormatConsole, "":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), fmt.Errorf("未対応のログ形式です: %s", format)
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Str("app", "authgate").Logger(), nil
}
