package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/hitoshi/authgate/internal/model"
)

var userRowColumns = []string{"id", "email", "password_hash", "name", "created_at", "updated_at"}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

// PostgresUserRepoはUserRepositoryインターフェースを満たすことを検証
func TestPostgresUserRepo_ImplementsInterface(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
}

func TestPostgresUserRepo_FindByEmail_Found(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1")).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows(userRowColumns).
			AddRow("u-1", "alice@example.com", "$2a$hash", "Alice", now, now))

	user, err := repo.FindByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil || user.ID != "u-1" || user.PasswordHash != "$2a$hash" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresUserRepo_FindByEmail_NotFoundReturnsNil(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE email = $1")).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows(userRowColumns))

	user, err := repo.FindByEmail(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil user, got %+v", user)
	}
}

func TestPostgresUserRepo_FindByID_DBErrorIsWrapped(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)
	dbErr := errors.New("connection reset")

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs("u-1").
		WillReturnError(dbErr)

	_, err := repo.FindByID(context.Background(), "u-1")
	if !errors.Is(err, dbErr) {
		t.Fatalf("err = %v, want wrapped %v", err, dbErr)
	}
}

func TestPostgresUserRepo_Create_Success(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)
	now := time.Now()
	user := &model.User{ID: "u-1", Email: "alice@example.com", PasswordHash: "h", Name: "Alice", CreatedAt: now, UpdatedAt: now}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs("u-1", "alice@example.com", "h", "Alice", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// 一意制約違反はErrDuplicateEmailに変換されることを検証
func TestPostgresUserRepo_Create_UniqueViolationMapsToDuplicateEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

	err := repo.Create(context.Background(), &model.User{ID: "u-1", Email: "alice@example.com"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestPostgresUserRepo_Create_OtherPQErrorIsNotDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pq.Error{Code: "23502"})

	err := repo.Create(context.Background(), &model.User{ID: "u-1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrDuplicateEmail) {
		t.Error("not-null violation must not be reported as duplicate email")
	}
}

func TestPostgresUserRepo_UpdatePassword(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash = $1")).
		WithArgs("new-hash", "u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdatePassword(context.Background(), "u-1", "new-hash"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPostgresUserRepo_UpdatePassword_NoRowsReturnsNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostgresUserRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET password_hash = $1")).
		WithArgs("new-hash", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdatePassword(context.Background(), "missing", "new-hash")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}
