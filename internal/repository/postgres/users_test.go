package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/arklim/marketplace-auth/internal/core/domain"
	"github.com/arklim/marketplace-auth/internal/repository"
)

var userRowColumns = []string{"id", "email", "password_hash", "role", "status", "created_at", "updated_at"}

func newMockRepo(t *testing.T) (*UserRepository, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)

	return NewRepositories(mock).Users, mock
}

func TestUserRepository_GetByEmail(t *testing.T) {
	repo, mock := newMockRepo(t)
	createdAt := time.Now().UTC()

	rows := pgxmock.NewRows(userRowColumns).AddRow(
		"6f1c2d8e-1a2b-4c3d-9e8f-001122334455", "a@example.com", "argon2id$v=19$...", "seller", "active", createdAt, createdAt,
	)

	mock.ExpectQuery(`SELECT id::text, email, password_hash, role, status, created_at, updated_at FROM marketplace\.users WHERE lower\(email\) = \$1 LIMIT 1`).
		WithArgs("a@example.com").
		WillReturnRows(rows)

	user, err := repo.GetByEmail(context.Background(), "  A@Example.com ")
	if err != nil {
		t.Fatalf("GetByEmail returned error: %v", err)
	}
	if user.Email != "a@example.com" || user.Role != domain.RoleSeller || user.Status != domain.UserStatusActive {
		t.Fatalf("unexpected user: %+v", user)
	}
	if !user.CanAuthenticate() {
		t.Fatalf("expected active user to be able to authenticate")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_GetByEmailNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FROM marketplace\.users WHERE lower\(email\)`).
		WithArgs("ghost@example.com").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByEmail(context.Background(), "ghost@example.com")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_GetByID(t *testing.T) {
	repo, mock := newMockRepo(t)
	createdAt := time.Now().UTC()

	rows := pgxmock.NewRows(userRowColumns).AddRow(
		"user-1", "b@example.com", "hash", "user", "suspended", createdAt, createdAt,
	)

	mock.ExpectQuery(`FROM marketplace\.users WHERE id::text = \$1`).
		WithArgs("user-1").
		WillReturnRows(rows)

	user, err := repo.GetByID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if user.ID != "user-1" || user.CanAuthenticate() {
		t.Fatalf("unexpected user: %+v", user)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUserRepository_QueryFailure(t *testing.T) {
	repo, mock := newMockRepo(t)
	boom := errors.New("connection reset")

	mock.ExpectQuery(`FROM marketplace\.users`).
		WithArgs("user-1").
		WillReturnError(boom)

	_, err := repo.GetByID(context.Background(), "user-1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
	if errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("driver failures must not look like a missing user")
	}
}

func TestUserRepository_EmptyLookup(t *testing.T) {
	repo, mock := newMockRepo(t)

	if _, err := repo.GetByEmail(context.Background(), " "); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for blank email, got %v", err)
	}
	if _, err := repo.GetByID(context.Background(), ""); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for blank id, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected queries: %v", err)
	}
}
