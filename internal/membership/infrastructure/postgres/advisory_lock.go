package postgres

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"

	"membership/internal/common/logging"
	"membership/internal/membership/domain"
)

// AdvisoryLocker implements domain.Locker with PostgreSQL session advisory
// locks, so the guard holds across every instance sharing the database.
// The lock lives on a dedicated pooled connection: pg_advisory_unlock must
// run on the same session that acquired the lock.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

// NewAdvisoryLocker creates a new AdvisoryLocker.
func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

// WithLock acquires the named advisory lock, runs fn and releases the lock.
// pg_try_advisory_lock fails fast, so a second concurrent caller gets
// ErrLockConflict instead of queueing behind the first.
func (l *AdvisoryLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection for advisory lock: %w", err)
	}
	defer conn.Release()

	lockID := hashKey(key)

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired); err != nil {
		return fmt.Errorf("acquiring advisory lock: %w", err)
	}
	if !acquired {
		return domain.ErrLockConflict
	}

	defer func() {
		var released bool
		if err := conn.QueryRow(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockID).Scan(&released); err != nil || !released {
			// The session release on conn.Release() still frees the lock
			// eventually; log so a leak is visible.
			logging.Error("Failed to release advisory lock", "key", key, "error", err)
		}
	}()

	return fn(ctx)
}

// hashKey folds a lock name into the bigint key space advisory locks use.
func hashKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// Verify interface implementation.
var _ domain.Locker = (*AdvisoryLocker)(nil)
