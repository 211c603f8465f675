// Package reset はパスワードリセットトークンのライフサイクルを管理する。
//
// トークンの状態は Created → {Used, Expired} の一方向のみ遷移する。
// Expiredは保存せず、有効期限と現在時刻から導出する。
// 新しいトークンを発行しても既存のトークンは無効化しない。
package reset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
)

// DefaultTTL はリセットトークンのデフォルト有効期間。
const DefaultTTL = time.Hour

var (
	ErrTokenNotFound = errors.New("reset token not found")
	ErrTokenUsed     = errors.New("reset token already used")
	ErrTokenExpired  = errors.New("reset token expired")
	ErrTokenMismatch = errors.New("reset token does not belong to user")
)

// Config はManagerの設定。
type Config struct {
	TTL time.Duration
	// Now は現在時刻を返す。nilの場合はtime.Nowを使う。
	Now func() time.Time
	// Generate は生のトークン値を生成する。nilの場合は32バイトの乱数を使う。
	Generate func() (string, error)
}

// RequestResult はRequestの結果。
// 該当ユーザーが存在しない場合はゼロ値となる。
type RequestResult struct {
	Token     string
	User      *model.User
	ExpiresAt time.Time
}

// Issued はトークンが発行されたかを返す。
func (r *RequestResult) Issued() bool {
	return r != nil && r.Token != ""
}

// Manager はリセットトークンの発行・検証・消費を行う。
type Manager struct {
	users    repository.UserRepository
	tokens   repository.ResetTokenRepository
	uow      repository.UnitOfWork
	ttl      time.Duration
	now      func() time.Time
	generate func() (string, error)
}

// NewManager はManagerを生成する。
func NewManager(users repository.UserRepository, tokens repository.ResetTokenRepository, uow repository.UnitOfWork, cfg Config) *Manager {
	m := &Manager{
		users:    users,
		tokens:   tokens,
		uow:      uow,
		ttl:      cfg.TTL,
		now:      cfg.Now,
		generate: cfg.Generate,
	}
	if m.ttl <= 0 {
		m.ttl = DefaultTTL
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.generate == nil {
		m.generate = func() (string, error) {
			return security.GenerateToken(security.ResetTokenBytes)
		}
	}
	return m
}

// Request はemailに対応するユーザーのリセットトークンを発行する。
// ユーザーが存在しない場合もエラーにはせず、空の結果を返す。
func (m *Manager) Request(ctx context.Context, email string) (*RequestResult, error) {
	user, err := m.users.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, fmt.Errorf("failed to find user for reset: %w", err)
	}
	if user == nil {
		return &RequestResult{}, nil
	}

	raw, err := m.generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate reset token: %w", err)
	}

	now := m.now()
	rt := &model.ResetToken{
		ID:        uuid.NewString(),
		TokenHash: security.DigestToken(raw),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.tokens.Create(ctx, rt); err != nil {
		return nil, fmt.Errorf("failed to store reset token: %w", err)
	}

	return &RequestResult{Token: raw, User: user, ExpiresAt: rt.ExpiresAt}, nil
}

// Validate はトークンが未使用かつ有効期限内であることを確認し、所有ユーザーIDを返す。
func (m *Manager) Validate(ctx context.Context, raw string) (string, error) {
	if raw == "" {
		return "", ErrTokenNotFound
	}
	rt, err := m.tokens.FindByTokenHash(ctx, security.DigestToken(raw))
	if err != nil {
		return "", fmt.Errorf("failed to find reset token: %w", err)
	}
	if err := m.check(rt); err != nil {
		return "", err
	}
	return rt.UserID, nil
}

// Consume はパスワードハッシュの更新とトークンの使用済み化を1つのトランザクションで行う。
// トークンの所有者がuserIDと一致しない場合は書き込み前にErrTokenMismatchを返す。
func (m *Manager) Consume(ctx context.Context, raw, userID, newPasswordHash string) error {
	if raw == "" {
		return ErrTokenNotFound
	}
	digest := security.DigestToken(raw)

	return m.uow.Do(ctx, func(ctx context.Context, s repository.Stores) error {
		rt, err := s.ResetTokens.FindByTokenHashForUpdate(ctx, digest)
		if err != nil {
			return fmt.Errorf("failed to lock reset token: %w", err)
		}
		if err := m.check(rt); err != nil {
			return err
		}
		if rt.UserID != userID {
			return ErrTokenMismatch
		}

		if err := s.Users.UpdatePassword(ctx, userID, newPasswordHash); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		if err := s.ResetTokens.MarkUsed(ctx, rt.ID, m.now()); err != nil {
			if errors.Is(err, repository.ErrResetTokenAlreadyUsed) {
				return ErrTokenUsed
			}
			return fmt.Errorf("failed to consume reset token: %w", err)
		}
		return nil
	})
}

// check は未検出・使用済み・期限切れの順に判定する。
func (m *Manager) check(rt *model.ResetToken) error {
	switch {
	case rt == nil:
		return ErrTokenNotFound
	case rt.Used:
		return ErrTokenUsed
	case rt.IsExpiredAt(m.now()):
		return ErrTokenExpired
	default:
		return nil
	}
}
