// Package memory はテストとローカル検証用のインメモリなリポジトリ実装を提供する。
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

// Hooks は障害注入用のフック。nilのフックは呼ばれない。
type Hooks struct {
	UpdatePassword func(userID string) error
	MarkUsed       func(tokenID string) error
}

// Store はユーザーとリセットトークンを保持するインメモリストア。
// Doによるトランザクションは直列化され、fnがエラーを返すとトランザクション内の書き込みだけを取り消す。
// トランザクション外の書き込みはロールバックの影響を受けない。
type Store struct {
	Hooks Hooks

	txMu sync.Mutex

	mu     sync.Mutex
	users  map[string]model.User
	tokens map[string]model.ResetToken
}

// New は空のStoreを生成する。
func New() *Store {
	return &Store{
		users:  make(map[string]model.User),
		tokens: make(map[string]model.ResetToken),
	}
}

// Users はUserRepositoryとしてのビューを返す。
func (s *Store) Users() repository.UserRepository { return userRepo{s: s} }

// ResetTokens はResetTokenRepositoryとしてのビューを返す。
func (s *Store) ResetTokens() repository.ResetTokenRepository { return tokenRepo{s: s} }

// Do はfnをトランザクションとして実行する。
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, stores repository.Stores) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &undoLog{}
	if err := fn(ctx, repository.Stores{Users: userRepo{s: s, tx: tx}, ResetTokens: tokenRepo{s: s, tx: tx}}); err != nil {
		s.mu.Lock()
		tx.rollback()
		s.mu.Unlock()
		return err
	}
	return nil
}

// undoLog はトランザクション内の書き込み前の値を記録する。
// 記録とロールバックはStore.muを保持した状態で呼ぶ。nilのundoLogは何も記録しない。
type undoLog struct {
	undo []func()
}

func (l *undoLog) user(s *Store, id string) {
	if l == nil {
		return
	}
	prev, ok := s.users[id]
	l.undo = append(l.undo, func() {
		if ok {
			s.users[id] = prev
		} else {
			delete(s.users, id)
		}
	})
}

func (l *undoLog) token(s *Store, id string) {
	if l == nil {
		return
	}
	prev, ok := s.tokens[id]
	l.undo = append(l.undo, func() {
		if ok {
			s.tokens[id] = prev
		} else {
			delete(s.tokens, id)
		}
	})
}

func (l *undoLog) rollback() {
	for i := len(l.undo) - 1; i >= 0; i-- {
		l.undo[i]()
	}
	l.undo = nil
}

// TokensForUser は指定ユーザーのトークン行をすべて返す。
func (s *Store) TokensForUser(userID string) []model.ResetToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ResetToken
	for _, t := range s.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

// TokenCount は保存されているトークン行の総数を返す。
func (s *Store) TokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// ExpireToken はテスト用にトークンの有効期限を書き換える。
func (s *Store) ExpireToken(tokenHash string, expiresAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tokens {
		if t.TokenHash == tokenHash {
			t.ExpiresAt = expiresAt
			s.tokens[id] = t
			return true
		}
	}
	return false
}

type userRepo struct {
	s  *Store
	tx *undoLog
}

func (r userRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r userRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (r userRepo) Create(_ context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return fmt.Errorf("failed to insert user: %w", repository.ErrDuplicateEmail)
		}
	}
	r.tx.user(r.s, user.ID)
	r.s.users[user.ID] = *user
	return nil
}

func (r userRepo) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	if h := r.s.Hooks.UpdatePassword; h != nil {
		if err := h(userID); err != nil {
			return err
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[userID]
	if !ok {
		return repository.ErrUserNotFound
	}
	r.tx.user(r.s, userID)
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now()
	r.s.users[userID] = u
	return nil
}

type tokenRepo struct {
	s  *Store
	tx *undoLog
}

func (r tokenRepo) Create(_ context.Context, token *model.ResetToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tokens {
		if t.TokenHash == token.TokenHash {
			return fmt.Errorf("failed to insert reset token: duplicate token hash")
		}
	}
	r.tx.token(r.s, token.ID)
	r.s.tokens[token.ID] = *token
	return nil
}

func (r tokenRepo) FindByTokenHash(_ context.Context, tokenHash string) (*model.ResetToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tokens {
		if t.TokenHash == tokenHash {
			t := t
			return &t, nil
		}
	}
	return nil, nil
}

func (r tokenRepo) FindByTokenHashForUpdate(ctx context.Context, tokenHash string) (*model.ResetToken, error) {
	return r.FindByTokenHash(ctx, tokenHash)
}

func (r tokenRepo) MarkUsed(_ context.Context, tokenID string, usedAt time.Time) error {
	if h := r.s.Hooks.MarkUsed; h != nil {
		if err := h(tokenID); err != nil {
			return err
		}
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tokens[tokenID]
	if !ok || t.Used {
		return repository.ErrResetTokenAlreadyUsed
	}
	r.tx.token(r.s, tokenID)
	t.Used = true
	t.UsedAt = &usedAt
	r.s.tokens[tokenID] = t
	return nil
}

// compile-time interface check
var (
	_ repository.UserRepository       = userRepo{}
	_ repository.ResetTokenRepository = tokenRepo{}
	_ repository.UnitOfWork           = (*Store)(nil)
)
