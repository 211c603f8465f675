package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/authgate/internal/database"
	"github.com/hitoshi/authgate/internal/model"
)

const resetTokenColumns = `id, token_hash, user_id, created_at, expires_at, used, used_at`

// PostgresResetTokenRepo はPostgreSQLを使用したリセットトークンリポジトリ。
type PostgresResetTokenRepo struct {
	db database.DBTX
}

// NewPostgresResetTokenRepo はPostgresResetTokenRepoを生成する。
func NewPostgresResetTokenRepo(db database.DBTX) *PostgresResetTokenRepo {
	return &PostgresResetTokenRepo{db: db}
}

// Create はリセットトークンを作成する。
func (r *PostgresResetTokenRepo) Create(ctx context.Context, token *model.ResetToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO password_reset_tokens (id, token_hash, user_id, created_at, expires_at, used)
		 VALUES ($1, $2, $3, $4, $5, FALSE)`,
		token.ID, token.TokenHash, token.UserID, token.CreatedAt, token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reset token: %w", err)
	}
	return nil
}

// FindByTokenHash はトークンのダイジェストで検索する。見つからない場合はnilを返す。
func (r *PostgresResetTokenRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.ResetToken, error) {
	token, err := scanResetToken(r.db.QueryRowContext(ctx,
		`SELECT `+resetTokenColumns+` FROM password_reset_tokens WHERE token_hash = $1`,
		tokenHash,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find reset token: %w", err)
	}
	return token, nil
}

// FindByTokenHashForUpdate はトークン行をFOR UPDATEでロックして取得する。
func (r *PostgresResetTokenRepo) FindByTokenHashForUpdate(ctx context.Context, tokenHash string) (*model.ResetToken, error) {
	token, err := scanResetToken(r.db.QueryRowContext(ctx,
		`SELECT `+resetTokenColumns+` FROM password_reset_tokens WHERE token_hash = $1 FOR UPDATE`,
		tokenHash,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to lock reset token: %w", err)
	}
	return token, nil
}

// MarkUsed は未使用のトークンを使用済みにする。
// used = FALSE を条件に含めるため、同一トークンの二重消費は0件更新となる。
func (r *PostgresResetTokenRepo) MarkUsed(ctx context.Context, tokenID string, usedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE password_reset_tokens SET used = TRUE, used_at = $2 WHERE id = $1 AND used = FALSE`,
		tokenID, usedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark reset token used: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrResetTokenAlreadyUsed
	}
	return nil
}

func scanResetToken(row *sql.Row) (*model.ResetToken, error) {
	token := &model.ResetToken{}
	var usedAt sql.NullTime
	err := row.Scan(&token.ID, &token.TokenHash, &token.UserID, &token.CreatedAt, &token.ExpiresAt, &token.Used, &usedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		token.UsedAt = &t
	}
	return token, nil
}

// compile-time interface check
var _ ResetTokenRepository = (*PostgresResetTokenRepo)(nil)
