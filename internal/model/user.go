// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// PasswordHashはJSONに出力しない。
type User struct {
	ID           string
	Email        string
	PasswordHash string `json:"-"`
	Name         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ResetToken はパスワードリセット用の使い捨てトークンを表す。
// 生のトークン値は保存せず、SHA-256ダイジェストのみを保持する。
// 行は削除せず、使用済み・期限切れになっても残す。
type ResetToken struct {
	ID        string
	TokenHash string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
}

// IsExpiredAt は指定時刻においてトークンが期限切れかどうかを返す。
// 有効期限ちょうどの時刻はまだ有効とみなす。
func (t *ResetToken) IsExpiredAt(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
