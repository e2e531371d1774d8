package memory

import (
	"context"
	"sync"

	"membership/internal/membership/domain"
)

// Locker is an in-process implementation of domain.Locker for tests and
// single-instance deployments.
type Locker struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocker creates a new Locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]bool)}
}

// WithLock acquires the named lock, runs fn and releases the lock.
// Fails fast with ErrLockConflict when the lock is already held.
func (l *Locker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[key] {
		l.mu.Unlock()
		return domain.ErrLockConflict
	}
	l.held[key] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}()

	return fn(ctx)
}

var _ domain.Locker = (*Locker)(nil)
