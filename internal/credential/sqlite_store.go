package credential

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nao1215/authgate/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore は組み込みSQLiteにユーザーを保存する。
// usernameの一意インデックスに加え、採番のためにプロセス内の書き込みも直列化する。
type SQLiteStore struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// writeMu は採番と挿入を1つの区間にまとめる。
	writeMu sync.Mutex
	// logger は読み込み失敗などを記録する。
	logger zerolog.Logger
}

// OpenSQLiteStore はpathのSQLiteデータベースを開き、スキーマを適用する。
func OpenSQLiteStore(ctx context.Context, path string, logger zerolog.Logger) (*SQLiteStore, error) {
	logger = logger.With().Str("component", "sqlite_store").Str("path", path).Logger()

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベース接続の確認に失敗: %w", err)
	}
	if _, err := migration.Run(ctx, db, migrationsFS, "migrations", logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadAll は全ユーザーをID順に返す。失敗時はログに記録し、空を返す。
func (s *SQLiteStore) LoadAll(ctx context.Context) []User {
	rows, err := s.db.QueryContext(ctx, "SELECT id, username, password FROM users ORDER BY id")
	if err != nil {
		s.logger.Error().Err(err).Msg("ユーザー一覧の取得に失敗")
		return []User{}
	}
	defer func() { _ = rows.Close() }()

	users := []User{}
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash); err != nil {
			s.logger.Error().Err(err).Msg("ユーザーレコードの読み取りに失敗")
			return []User{}
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error().Err(err).Msg("ユーザー一覧の取得に失敗")
		return []User{}
	}
	return users
}

// InsertUnique はトランザクション内で件数を数えて採番し、ユーザーを挿入する。
func (s *SQLiteStore) InsertUnique(ctx context.Context, username, passwordHash string) (User, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM users WHERE username = ?", username).Scan(&exists)
	switch {
	case err == nil:
		return User{}, ErrUsernameTaken
	case !errors.Is(err, sql.ErrNoRows):
		return User{}, fmt.Errorf("ユーザーの検索に失敗: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return User{}, fmt.Errorf("ユーザー件数の取得に失敗: %w", err)
	}

	user := User{ID: count + 1, Username: username, PasswordHash: passwordHash}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO users (id, username, password) VALUES (?, ?, ?)",
		user.ID, user.Username, user.PasswordHash,
	); err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrUsernameTaken
		}
		return User{}, fmt.Errorf("ユーザーの挿入に失敗: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("コミットに失敗: %w", err)
	}
	return user, nil
}

// isUniqueViolation は別プロセスとの競合でusernameの一意制約に違反したかを判定する。
// 主キー（id）の衝突はユーザー名の重複ではないため含めない。
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
