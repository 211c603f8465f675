// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

var (
	// ErrDuplicateEmail はemailの一意制約違反を表す。
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrUserNotFound は更新対象のユーザーが存在しないことを表す。
	ErrUserNotFound = errors.New("user not found")

	// ErrResetTokenAlreadyUsed は使用済みフラグの条件付き更新が0件だったことを表す。
	ErrResetTokenAlreadyUsed = errors.New("reset token already used")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みemailでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。
	// emailが既に存在する場合はErrDuplicateEmailをラップして返す。
	Create(ctx context.Context, user *model.User) error

	// UpdatePassword はユーザーのパスワードハッシュを更新する。
	// 対象が存在しない場合はErrUserNotFoundを返す。
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// ResetTokenRepository はパスワードリセットトークンの永続化インターフェース。
// 行の削除操作は提供しない。
type ResetTokenRepository interface {
	// Create はリセットトークンを作成する。
	Create(ctx context.Context, token *model.ResetToken) error

	// FindByTokenHash はトークンのダイジェストで検索する。見つからない場合はnilを返す。
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.ResetToken, error)

	// FindByTokenHashForUpdate はFindByTokenHashと同じだが行ロックを取得する。
	// UnitOfWork内でのみ使用すること。
	FindByTokenHashForUpdate(ctx context.Context, tokenHash string) (*model.ResetToken, error)

	// MarkUsed は未使用のトークンを使用済みにする。
	// 既に使用済みの場合はErrResetTokenAlreadyUsedを返す。
	MarkUsed(ctx context.Context, tokenID string, usedAt time.Time) error
}

// Stores は同一トランザクションに束ねられたリポジトリの集合。
type Stores struct {
	Users       UserRepository
	ResetTokens ResetTokenRepository
}

// UnitOfWork は複数の永続化操作を1つのトランザクションで実行する。
// fnがエラーを返した場合はすべての書き込みがロールバックされる。
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error
}
