package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// lockConn is the part of a pooled connection the advisory unlock needs.
type lockConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Release()
}

// TryAdvisoryLock takes a session-level Postgres advisory lock on a dedicated
// pool connection. When acquired, the returned release func unlocks it and
// hands the connection back to the pool.
func (r *Repository) TryAdvisoryLock(ctx context.Context, key int64) (func(context.Context) error, bool, error) {
	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		return releaseAdvisoryLock(ctx, conn, conn.Conn().Close, key)
	}
	return release, true, nil
}

// releaseAdvisoryLock unlocks key and returns conn to the pool. When the unlock
// fails the session may still hold the lock, so the connection is closed first
// and the pool discards it instead of reusing it.
func releaseAdvisoryLock(ctx context.Context, conn lockConn, closeSession func(context.Context) error, key int64) error {
	defer conn.Release()
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", key); err != nil {
		if closeErr := closeSession(context.WithoutCancel(ctx)); closeErr != nil {
			return fmt.Errorf("advisory unlock: %w (closing session: %v)", err, closeErr)
		}
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
