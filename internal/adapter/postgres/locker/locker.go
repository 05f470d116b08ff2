package locker

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	portlocker "github.com/alanyang/task-mesh/internal/port/locker"
)

// MasterLockKey is the advisory lock key every master takes before distributing work.
const MasterLockKey int64 = 0x7461736b6d657368 // "taskmesh"

var ErrLockHeld = errors.New("advisory lock held by another session")

var _ portlocker.AdvisoryLocker = (*Locker)(nil)

// Locker implements port/locker.AdvisoryLocker using Postgres session advisory locks.
// Lock and unlock run on the same acquired connection: pg_advisory_lock is
// session-level, so unlocking on a different connection is a no-op.
type Locker struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Locker {
	return &Locker{pool: pool}
}

// WithLock blocks until the lock is free, then runs fn while holding it.
func (l *Locker) WithLock(ctx context.Context, key int64, fn func(ctx context.Context) error) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for advisory lock: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}
	// Background ctx so the unlock still fires when ctx was cancelled mid-fn.
	defer conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key) //nolint:errcheck

	return fn(ctx)
}

// TryWithLock is WithLock without waiting: ErrLockHeld when another session owns key.
func (l *Locker) TryWithLock(ctx context.Context, key int64, fn func(ctx context.Context) error) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for advisory lock: %w", err)
	}
	defer conn.Release()

	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		return fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		return ErrLockHeld
	}
	defer conn.Exec(context.Background(), "SELECT pg_advisory_unlock($1)", key) //nolint:errcheck

	return fn(ctx)
}
