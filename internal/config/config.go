// Package config はゲートウェイの設定を読み込む。
//
// 既定値、CONFIG_FILEで指定したTOMLファイル、環境変数の順に上書きする。
// 起動時に一度だけ読み込み、以降は変更しない。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/crypto/bcrypt"
)

// StoreDriver は認証情報ストアの種類。
type StoreDriver string

const (
	// DriverFile はJSONドキュメントファイルに保存する。
	DriverFile StoreDriver = "file"
	// DriverSQLite は組み込みSQLiteに保存する。
	DriverSQLite StoreDriver = "sqlite"
)

// configFileEnv は設定ファイルのパスを指定する環境変数。
const configFileEnv = "CONFIG_FILE"

// ErrInvalid は設定値が不正な場合のエラー。
var ErrInvalid = errors.New("invalid configuration")

// Config はゲートウェイの全設定。
type Config struct {
	Port           string      `toml:"port" envconfig:"PORT"`
	UploadFolder   string      `toml:"upload_folder" envconfig:"UPLOAD_FOLDER"`
	AuthRead       Switch      `toml:"auth_read" envconfig:"AUTH_READ"`
	AuthWrite      Switch      `toml:"auth_write" envconfig:"AUTH_WRITE"`
	SecretKey      string      `toml:"secret_key" envconfig:"SECRET_KEY"`
	JWTExpiration  Lifetime    `toml:"jwt_expiration" envconfig:"JWT_EXPIRATION"`
	Salt           int         `toml:"salt" envconfig:"SALT"`
	DBFile         string      `toml:"db_file" envconfig:"DB_FILE"`
	StoreDriver    StoreDriver `toml:"store_driver" envconfig:"STORE_DRIVER"`
	SQLitePath     string      `toml:"sqlite_path" envconfig:"SQLITE_PATH"`
	APIPrefix      string      `toml:"api_prefix" envconfig:"API_PREFIX"`
	ResourceAPIURL string      `toml:"resource_api_url" envconfig:"RESOURCE_API_URL"`
	CORSOrigins    []string    `toml:"cors_origins" envconfig:"CORS_ORIGINS"`
	AuthRateLimit  float64     `toml:"auth_rate_limit" envconfig:"AUTH_RATE_LIMIT"`
	AuthRateBurst  int         `toml:"auth_rate_burst" envconfig:"AUTH_RATE_BURST"`
	LogLevel       string      `toml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat      string      `toml:"log_format" envconfig:"LOG_FORMAT"`
}

// Default は既定値の設定を返す。SecretKeyは空のため、そのままでは検証を通らない。
func Default() Config {
	return Config{
		Port:           "8000",
		UploadFolder:   "public",
		AuthRead:       false,
		AuthWrite:      true,
		JWTExpiration:  Lifetime(24 * time.Hour),
		Salt:           bcrypt.DefaultCost,
		DBFile:         "db.json",
		StoreDriver:    DriverFile,
		SQLitePath:     "authgate.db",
		APIPrefix:      "/api",
		ResourceAPIURL: "http://localhost:3000",
		CORSOrigins:    []string{"*"},
		AuthRateLimit:  0,
		AuthRateBurst:  10,
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

// Load は既定値・設定ファイル・環境変数から設定を組み立てて検証する。
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(configFileEnv); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("環境変数の読み込みに失敗: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeFile はTOMLファイルの値で設定を上書きする。ファイルに無いキーは変更しない。
func (c *Config) mergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
	}
	defer f.Close()

	// 配列は既定値に追記されないよう空にしてから読み込む
	origins := c.CORSOrigins
	c.CORSOrigins = nil

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("設定ファイルの解析に失敗: %s: %w", path, err)
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = origins
	}
	return nil
}

func (c *Config) normalize() {
	c.APIPrefix = "/" + strings.Trim(c.APIPrefix, "/")
	c.ResourceAPIURL = strings.TrimRight(c.ResourceAPIURL, "/")
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	origins := c.CORSOrigins[:0]
	for _, o := range c.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSOrigins = origins
}

// Validate は設定値の整合性を検査する。
func (c Config) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("%w: SECRET_KEY is required", ErrInvalid)
	}
	if c.Salt < bcrypt.MinCost || c.Salt > bcrypt.MaxCost {
		return fmt.Errorf("%w: SALT must be between %d and %d, got %d", ErrInvalid, bcrypt.MinCost, bcrypt.MaxCost, c.Salt)
	}
	if c.JWTExpiration.Duration() <= 0 {
		return fmt.Errorf("%w: JWT_EXPIRATION must be positive", ErrInvalid)
	}
	switch c.StoreDriver {
	case DriverFile:
		if c.DBFile == "" {
			return fmt.Errorf("%w: DB_FILE is required for the file store", ErrInvalid)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: SQLITE_PATH is required for the sqlite store", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown STORE_DRIVER %q", ErrInvalid, c.StoreDriver)
	}
	if c.APIPrefix == "/" {
		return fmt.Errorf("%w: API_PREFIX must not be the root path", ErrInvalid)
	}
	first, _, _ := strings.Cut(strings.TrimPrefix(c.APIPrefix, "/"), "/")
	if _, reserved := reservedSegments[first]; reserved {
		return fmt.Errorf("%w: API_PREFIX %q collides with the built-in /%s route", ErrInvalid, c.APIPrefix, first)
	}
	if c.UploadFolder != "" {
		for key, file := range map[string]string{"DB_FILE": c.DBFile, "SQLITE_PATH": c.SQLitePath} {
			if file != "" && isWithin(c.UploadFolder, file) {
				return fmt.Errorf("%w: UPLOAD_FOLDER must not contain %s (%s)", ErrInvalid, key, file)
			}
		}
	}
	u, err := url.Parse(c.ResourceAPIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: RESOURCE_API_URL must be an absolute URL, got %q", ErrInvalid, c.ResourceAPIURL)
	}
	if c.AuthRateLimit < 0 {
		return fmt.Errorf("%w: AUTH_RATE_LIMIT must not be negative", ErrInvalid)
	}
	if c.AuthRateLimit > 0 && c.AuthRateBurst < 1 {
		return fmt.Errorf("%w: AUTH_RATE_BURST must be at least 1", ErrInvalid)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("%w: unknown LOG_FORMAT %q", ErrInvalid, c.LogFormat)
	}
	return nil
}

// reservedSegments はゲートウェイ自身が使うルートの先頭セグメント。
// API_PREFIXと重なるとルーティングが衝突する。
var reservedSegments = map[string]struct{}{
	"auth":    {},
	"upload":  {},
	"health":  {},
	"ready":   {},
	"metrics": {},
}

// isWithin はfileがdir配下（dir自身を含む）にあるかを判定する。
// 静的配信フォルダに認証情報ストアが含まれないことの確認に使う。
func isWithin(dir, file string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return true
	}
	absFile, err := filepath.Abs(file)
	if err != nil {
		return true
	}
	rel, err := filepath.Rel(absDir, absFile)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Switch はyes/noなどで指定する真偽値。
type Switch bool

// UnmarshalText はyes/true/1/onを真、no/false/0/offを偽として解釈する。
// 空文字列は値を変更しない。
func (s *Switch) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "":
		return nil
	case "yes", "true", "1", "on":
		*s = true
	case "no", "false", "0", "off":
		*s = false
	default:
		return fmt.Errorf("%w: %q is not a yes/no value", ErrInvalid, text)
	}
	return nil
}

// Bool は真偽値を返す。
func (s Switch) Bool() bool {
	return bool(s)
}

// Lifetime はトークンの有効期間。
type Lifetime time.Duration

// UnmarshalText はGoのduration表記（24h）、日数（7d）、整数秒（3600）を受け付ける。
func (l *Lifetime) UnmarshalText(text []byte) error {
	d, err := ParseLifetime(string(text))
	if err != nil {
		return err
	}
	*l = Lifetime(d)
	return nil
}

// Duration はtime.Durationとして返す。
func (l Lifetime) Duration() time.Duration {
	return time.Duration(l)
}

// ParseLifetime は有効期間の文字列を解析する。
func ParseLifetime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty lifetime", ErrInvalid)
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.ParseFloat(days, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: lifetime %q", ErrInvalid, s)
		}
		return time.Duration(n * float64(24*time.Hour)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: lifetime %q", ErrInvalid, s)
	}
	return d, nil
}
