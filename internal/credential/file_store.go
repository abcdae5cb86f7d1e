package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// usersKey はドキュメント内でユーザー配列を保持するキー。
const usersKey = "users"

// FileStore はリソースAPIと共有するJSONドキュメントにユーザーを保存する。
// 読み込みは共有ロック、書き込みは排他ロックで直列化する。
// 他プロセスによる同時書き込みは防げない。
type FileStore struct {
	// path はJSONドキュメントのパス。
	path string
	// mu はドキュメントの読み書きを保護する。
	mu sync.RWMutex
	// logger は読み込み失敗などを記録する。
	logger zerolog.Logger
}

// NewFileStore はpathのJSONドキュメントを使うFileStoreを生成する。
// ファイルは初回の書き込み時に作成される。
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger.With().Str("component", "file_store").Str("path", path).Logger(),
	}
}

// LoadAll は全ユーザーを返す。
// ファイルの読み込み・パースに失敗した場合は空を返し、ユーザー未登録として扱う。
func (s *FileStore) LoadAll(_ context.Context) []User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := s.readDocument()
	if err != nil {
		s.logger.Error().Err(err).Msg("ユーザー一覧の取得に失敗")
		return []User{}
	}
	users, _ := s.decodeUsers(doc)
	return users
}

// InsertUnique は排他ロック内でドキュメントを読み込み、重複がなければ追記して書き戻す。
func (s *FileStore) InsertUnique(_ context.Context, username, passwordHash string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readDocument()
	if errors.Is(err, fs.ErrNotExist) {
		doc = map[string]json.RawMessage{}
	} else if err != nil {
		return User{}, fmt.Errorf("ユーザーの保存に失敗: %w", err)
	}

	users, entries := s.decodeUsers(doc)
	if _, found := FindByUsername(users, username); found {
		return User{}, ErrUsernameTaken
	}

	user := User{ID: len(entries) + 1, Username: username, PasswordHash: passwordHash}
	encoded, err := json.Marshal(user)
	if err != nil {
		return User{}, fmt.Errorf("ユーザーのシリアライズに失敗: %w", err)
	}
	entries = append(entries, encoded)

	rawUsers, err := json.Marshal(entries)
	if err != nil {
		return User{}, fmt.Errorf("ユーザー配列のシリアライズに失敗: %w", err)
	}
	doc[usersKey] = rawUsers

	if err := s.writeDocument(doc); err != nil {
		return User{}, fmt.Errorf("ユーザーの保存に失敗: %w", err)
	}
	return user, nil
}

// readDocument はドキュメント全体をトップレベルのキーごとに読み込む。
// リソースAPIのコレクションは解釈せずそのまま保持する。
func (s *FileStore) readDocument() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("ドキュメントのパースに失敗: %w", err)
	}
	if doc == nil {
		doc = map[string]json.RawMessage{}
	}
	return doc, nil
}

// decodeUsers はusersキーの配列を解釈する。
// 配列でない値は空として扱う。解釈できない要素はスキップするが、
// 採番に使う件数には含めるため生の要素も返す。
func (s *FileStore) decodeUsers(doc map[string]json.RawMessage) ([]User, []json.RawMessage) {
	raw, ok := doc[usersKey]
	if !ok {
		return []User{}, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil || entries == nil {
		return []User{}, nil
	}

	users := make([]User, 0, len(entries))
	for i, entry := range entries {
		var u User
		if err := json.Unmarshal(entry, &u); err != nil {
			s.logger.Warn().Err(err).Int("index", i).Msg("解釈できないユーザーレコードをスキップ")
			continue
		}
		users = append(users, u)
	}
	return users, entries
}

// writeDocument は一時ファイルに書き出してからリネームし、ドキュメントを置き換える。
func (s *FileStore) writeDocument(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("ドキュメントのシリアライズに失敗: %w", err)
	}
	data = append(bytes.TrimSpace(data), '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	mode := fs.FileMode(0o644)
	if info, err := os.Stat(s.path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("一時ファイルの権限設定に失敗: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("一時ファイルへの書き込みに失敗: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("一時ファイルのクローズに失敗: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("ドキュメントの置き換えに失敗: %w", err)
	}
	return nil
}
