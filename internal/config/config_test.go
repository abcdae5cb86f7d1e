package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setEnv はテスト中だけ環境変数を設定する。t.Setenvを使うためt.Parallelは併用しない。
func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

// clearEnv は設定に関わる環境変数を空にし、テストが実行環境に左右されないようにする。
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_FILE", "PORT", "UPLOAD_FOLDER", "AUTH_READ", "AUTH_WRITE", "SECRET_KEY",
		"JWT_EXPIRATION", "SALT", "DB_FILE", "STORE_DRIVER", "SQLITE_PATH", "API_PREFIX",
		"RESOURCE_API_URL", "CORS_ORIGINS", "AUTH_RATE_LIMIT", "AUTH_RATE_BURST",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRET_KEY", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "public", cfg.UploadFolder)
	assert.False(t, cfg.AuthRead.Bool())
	assert.True(t, cfg.AuthWrite.Bool())
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiration.Duration())
	assert.Equal(t, 10, cfg.Salt)
	assert.Equal(t, "db.json", cfg.DBFile)
	assert.Equal(t, DriverFile, cfg.StoreDriver)
	assert.Equal(t, "/api", cfg.APIPrefix)
	assert.Equal(t, "http://localhost:3000", cfg.ResourceAPIURL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Zero(t, cfg.AuthRateLimit)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	setEnv(t, map[string]string{
		"SECRET_KEY":       "s3cret",
		"PORT":             "9000",
		"AUTH_READ":        "yes",
		"AUTH_WRITE":       "no",
		"JWT_EXPIRATION":   "7d",
		"SALT":             "4",
		"STORE_DRIVER":     "sqlite",
		"SQLITE_PATH":      "/tmp/users.db",
		"API_PREFIX":       "v1/",
		"RESOURCE_API_URL": "http://upstream:3000/",
		"CORS_ORIGINS":     "http://a.example, http://b.example",
		"AUTH_RATE_LIMIT":  "2.5",
		"AUTH_RATE_BURST":  "5",
		"LOG_LEVEL":        "DEBUG",
		"LOG_FORMAT":       "json",
	})

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.True(t, cfg.AuthRead.Bool())
	assert.False(t, cfg.AuthWrite.Bool())
	assert.Equal(t, 7*24*time.Hour, cfg.JWTExpiration.Duration())
	assert.Equal(t, 4, cfg.Salt)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "/tmp/users.db", cfg.SQLitePath)
	assert.Equal(t, "/v1", cfg.APIPrefix)
	assert.Equal(t, "http://upstream:3000", cfg.ResourceAPIURL)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.CORSOrigins)
	assert.InDelta(t, 2.5, cfg.AuthRateLimit, 1e-9)
	assert.Equal(t, 5, cfg.AuthRateBurst)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "authgate.toml")
	content := `
port = "7000"
secret_key = "from-file"
auth_read = "yes"
jwt_expiration = "1h"
upload_folder = ""
cors_origins = ["http://file.example"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	setEnv(t, map[string]string{
		"CONFIG_FILE": path,
		"PORT":        "7100",
	})

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7100", cfg.Port, "環境変数が設定ファイルより優先される")
	assert.Equal(t, "from-file", cfg.SecretKey)
	assert.True(t, cfg.AuthRead.Bool())
	assert.True(t, cfg.AuthWrite.Bool(), "ファイルに無いキーは既定値のまま")
	assert.Equal(t, time.Hour, cfg.JWTExpiration.Duration())
	assert.Empty(t, cfg.UploadFolder)
	assert.Equal(t, []string{"http://file.example"}, cfg.CORSOrigins)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "秘密鍵なし", env: map[string]string{}},
		{name: "コストが小さすぎる", env: map[string]string{"SECRET_KEY": "k", "SALT": "3"}},
		{name: "コストが大きすぎる", env: map[string]string{"SECRET_KEY": "k", "SALT": "32"}},
		{name: "有効期間が0", env: map[string]string{"SECRET_KEY": "k", "JWT_EXPIRATION": "0"}},
		{name: "有効期間が解析できない", env: map[string]string{"SECRET_KEY": "k", "JWT_EXPIRATION": "soon"}},
		{name: "未知のドライバー", env: map[string]string{"SECRET_KEY": "k", "STORE_DRIVER": "redis"}},
		{name: "yes/noでない真偽値", env: map[string]string{"SECRET_KEY": "k", "AUTH_READ": "maybe"}},
		{name: "ルートのプレフィックス", env: map[string]string{"SECRET_KEY": "k", "API_PREFIX": "/"}},
		{name: "認証エンドポイントと重なるプレフィックス", env: map[string]string{"SECRET_KEY": "k", "API_PREFIX": "/auth"}},
		{name: "アップロードと重なるプレフィックス", env: map[string]string{"SECRET_KEY": "k", "API_PREFIX": "upload/v1"}},
		{name: "メトリクスと重なるプレフィックス", env: map[string]string{"SECRET_KEY": "k", "API_PREFIX": "/metrics"}},
		{name: "アップロードフォルダがDBファイルを含む", env: map[string]string{"SECRET_KEY": "k", "UPLOAD_FOLDER": "."}},
		{name: "アップロードフォルダがSQLiteファイルを含む", env: map[string]string{"SECRET_KEY": "k", "UPLOAD_FOLDER": "data", "DB_FILE": "db.json", "SQLITE_PATH": "data/authgate.db"}},
		{name: "相対URL", env: map[string]string{"SECRET_KEY": "k", "RESOURCE_API_URL": "localhost"}},
		{name: "負のレート", env: map[string]string{"SECRET_KEY": "k", "AUTH_RATE_LIMIT": "-1"}},
		{name: "未知のログ形式", env: map[string]string{"SECRET_KEY": "k", "LOG_FORMAT": "xml"}},
		{name: "存在しない設定ファイル", env: map[string]string{"SECRET_KEY": "k", "CONFIG_FILE": "/nonexistent/authgate.toml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			setEnv(t, tt.env)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsUnknownFileKeys(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "authgate.toml")
	require.NoError(t, os.WriteFile(path, []byte("secret_key = \"k\"\nsecrt = \"typo\"\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}

func TestSwitchUnmarshalText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		start   Switch
		want    Switch
		wantErr bool
	}{
		{in: "yes", want: true},
		{in: "YES", want: true},
		{in: "true", want: true},
		{in: "1", want: true},
		{in: "on", want: true},
		{in: "no", start: true, want: false},
		{in: "false", start: true, want: false},
		{in: "0", start: true, want: false},
		{in: "off", start: true, want: false},
		{in: "", start: true, want: true},
		{in: "maybe", wantErr: true},
	}
	for _, tt := range tests {
		s := tt.start
		err := s.UnmarshalText([]byte(tt.in))
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalid, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, s, "input %q", tt.in)
	}
}

func TestParseLifetime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "24h", want: 24 * time.Hour},
		{in: "90m", want: 90 * time.Minute},
		{in: "7d", want: 7 * 24 * time.Hour},
		{in: "3600", want: time.Hour},
		{in: " 2h ", want: 2 * time.Hour},
		{in: "", wantErr: true},
		{in: "xd", wantErr: true},
		{in: "tomorrow", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseLifetime(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalid, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestIsWithin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dir  string
		file string
		want bool
	}{
		{dir: ".", file: "db.json", want: true},
		{dir: "public", file: "db.json", want: false},
		{dir: "public", file: "public/users/db.json", want: true},
		{dir: "public", file: "public-data/db.json", want: false},
		{dir: "/srv/app", file: "/srv/app/../app/db.json", want: true},
		{dir: "/srv/app/public", file: "/srv/app/..db.json", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isWithin(tt.dir, tt.file), "dir=%q file=%q", tt.dir, tt.file)
	}
}

func TestLoadAllowsEmptyUploadFolderNextToDB(t *testing.T) {
	clearEnv(t)
	setEnv(t, map[string]string{"SECRET_KEY": "k", "UPLOAD_FOLDER": "", "DB_FILE": "db.json"})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.UploadFolder)
}
