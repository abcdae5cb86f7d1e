// Package password はbcryptによるパスワードのハッシュ化と照合を提供する。
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost は既定のbcryptコスト。
const DefaultCost = 10

// maxPasswordBytes はbcryptが扱えるパスワードの最大バイト数。
// これを超える入力はbcryptが黙って切り詰めるため明示的に拒否する。
const maxPasswordBytes = 72

// ErrTooLong はパスワードが長すぎることを表す。
var ErrTooLong = errors.New("password: 72バイトを超えるパスワードは使用できません")

// Hasher はプロセス起動時に決めたコストでパスワードをハッシュ化する。
// ソルトはbcryptがハッシュごとに生成し、ダイジェストに埋め込む。
type Hasher struct {
	// cost はbcryptのワークファクタ。
	cost int
	// dummy は存在しないユーザーの照合時間を揃えるためのダイジェスト。
	dummy []byte
}

// NewHasher は指定コストのHasherを生成する。
func NewHasher(cost int) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("password: bcryptコストは%d〜%dの範囲で指定してください: %d", bcrypt.MinCost, bcrypt.MaxCost, cost)
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("authgate-timing-equalizer"), cost)
	if err != nil {
		return nil, fmt.Errorf("ダミーハッシュの生成に失敗: %w", err)
	}
	return &Hasher{cost: cost, dummy: dummy}, nil
}

// Cost はHasherのbcryptコストを返す。
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash は平文パスワードをbcryptダイジェストに変換する。
func (h *Hasher) Hash(plaintext string) (string, error) {
	if len(plaintext) > maxPasswordBytes {
		return "", ErrTooLong
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
	}
	return string(digest), nil
}

// Verify は平文パスワードが保存済みダイジェストと一致するかを返す。
// ソルトとコストはダイジェストに埋め込まれたものを使う。
func (h *Hasher) Verify(plaintext, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// VerifyAbsent はユーザーが存在しない場合に呼び出し、
// Verifyと同程度の時間をかけて常にfalseを返す。
func (h *Hasher) VerifyAbsent(plaintext string) bool {
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(plaintext))
	return false
}
