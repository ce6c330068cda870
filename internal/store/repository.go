/**
 * @description
 * This file implements the data access layer for the billing service.
 * Every query lives in this package; the app layer only sees its interfaces.
 */
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// Repository handles database operations for billing, catalogue and leads.
type Repository struct {
	db *pgxpool.Pool
}

// execer is satisfied by both the pool and an open pgx.Tx, so single-statement
// helpers can run standalone or inside a multi-statement write.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
