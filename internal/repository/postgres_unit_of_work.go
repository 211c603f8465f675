package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/authgate/internal/database"
)

// PostgresUnitOfWork は*sql.Txの上にリポジトリを組み立てるUnitOfWork実装。
type PostgresUnitOfWork struct {
	db *sql.DB
}

// NewPostgresUnitOfWork はPostgresUnitOfWorkを生成する。
func NewPostgresUnitOfWork(db *sql.DB) *PostgresUnitOfWork {
	return &PostgresUnitOfWork{db: db}
}

// Do はトランザクション内でfnを実行する。
// fnに渡すStoresはすべて同一のトランザクションを共有する。
func (u *PostgresUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, stores Stores) error) error {
	return database.WithTx(ctx, u.db, nil, func(ctx context.Context, tx database.DBTX) error {
		return fn(ctx, Stores{
			Users:       NewPostgresUserRepo(tx),
			ResetTokens: NewPostgresResetTokenRepo(tx),
		})
	})
}

// compile-time interface check
var _ UnitOfWork = (*PostgresUnitOfWork)(nil)
