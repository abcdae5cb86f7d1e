package credential

import (
	"context"
	"errors"
)

// ErrUsernameTaken は同じユーザー名のレコードが既に存在することを表す。
var ErrUsernameTaken = errors.New("credential: username is taken")

// User は保存されたユーザーレコード。
type User struct {
	// ID は登録時点の件数+1で採番される数値ID。
	ID int `json:"id"`
	// Username はログイン名。ストア内で一意。
	Username string `json:"username"`
	// PasswordHash はbcryptダイジェスト。既存ファイルとの互換のためキー名はpassword。
	PasswordHash string `json:"password"`
}

// Store はユーザーレコードの保存先。
type Store interface {
	// LoadAll は全ユーザーを返す。読み込みに失敗した場合はログに記録し、空を返す。
	LoadAll(ctx context.Context) []User
	// InsertUnique は重複確認と追記を1つの原子的操作として行う。
	// 同名ユーザーが存在する場合はErrUsernameTakenを返す。
	InsertUnique(ctx context.Context, username, passwordHash string) (User, error)
}

// FindByUsername はusersから完全一致するユーザーを探す。
func FindByUsername(users []User, username string) (User, bool) {
	for _, u := range users {
		if u.Username == username {
			return u, true
		}
	}
	return User{}, false
}
