package domain

import (
	"context"
	"time"

	"membership/internal/common/types"
)

// ApplicationRepository defines the interface for application persistence.
type ApplicationRepository interface {
	// Save persists an application aggregate.
	// Implementations may return ErrOptimisticLock if a version conflict is detected.
	Save(ctx context.Context, app *Application) error
	// FindByID retrieves an application by ID.
	// Returns ErrApplicationNotFound when no record exists.
	FindByID(ctx context.Context, id ApplicationID) (*Application, error)
	// FindByCardNumber retrieves the application holding a claimed card number.
	// Returns ErrApplicationNotFound when no record exists.
	FindByCardNumber(ctx context.Context, number string) (*Application, error)
	// FindByPassToken retrieves the application owning a pass token.
	// Returns ErrApplicationNotFound when no record exists.
	FindByPassToken(ctx context.Context, token string) (*Application, error)
	// Delete removes an application. The claimed pool entry survives as
	// assigned unless explicitly released.
	Delete(ctx context.Context, id ApplicationID) error
}

// CardPool defines the interface for the shared pool of card numbers.
type CardPool interface {
	// ClaimNext atomically selects the unassigned entry with the lowest
	// sequence, marks it assigned and returns its number.
	// Returns ErrPoolExhausted when no free entry remains.
	// Safe under arbitrary concurrent callers: two concurrent calls never
	// return the same number.
	ClaimNext(ctx context.Context) (string, error)
	// BulkInsert adds numbers with increasing sequence values continuing
	// from the current maximum. Numbers already present are skipped and
	// reported; a storage error aborts the whole batch.
	BulkInsert(ctx context.Context, numbers []string) (BulkInsertResult, error)
	// Release flips an assigned entry back to free (administrative action).
	Release(ctx context.Context, number string) error
	// Update renames an entry. Returns ErrDuplicateCardNumber if the new
	// value already exists, ErrCardNotFound if the entry is missing.
	Update(ctx context.Context, number, newNumber string) error
	// Delete removes an entry. Returns ErrCardNotFound if missing.
	Delete(ctx context.Context, number string) error
	// Available returns the count of unassigned entries.
	Available(ctx context.Context) (int, error)
	// List returns entries ordered by sequence for administration.
	List(ctx context.Context, limit, offset int) ([]CardPoolEntry, error)
}

// Locker is the idempotency guard: a named mutual-exclusion lock preventing
// two concurrent handlers from processing the same application.
type Locker interface {
	// WithLock acquires the named lock, runs fn and releases the lock on
	// every exit path. It fails fast with ErrLockConflict instead of
	// blocking when the lock is already held.
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// Repositories provides access to all repositories within a transaction.
// This is used with the Atomic pattern to ensure all operations share the
// same transaction.
type Repositories interface {
	Applications() ApplicationRepository
	Cards() CardPool
	Outbox() OutboxRepository
}

// AtomicCallback is the function signature for atomic operations.
// Any error returned will cause the transaction to be rolled back.
type AtomicCallback func(repos Repositories) error

// AtomicExecutor runs a callback within a single storage transaction.
// The service requests an atomic operation with procedures defined in the
// callback; commits and rollbacks are handled by the datastore.
type AtomicExecutor interface {
	// Atomic executes the callback within a database transaction.
	// If the callback returns nil, the transaction is committed.
	// If the callback returns an error, the transaction is rolled back.
	Atomic(ctx context.Context, fn AtomicCallback) error
}

// OutboxEntry represents a side-effect event waiting to be dispatched.
// Entries are written in the same transaction as the status transition and
// dispatched best-effort after commit.
type OutboxEntry struct {
	ID            types.EventID
	EventType     string
	ApplicationID ApplicationID
	CorrelationID types.CorrelationID
	Payload       []byte
	OccurredAt    time.Time
	PublishedAt   *time.Time
}

// OutboxRepository defines the interface for the outbox pattern.
type OutboxRepository interface {
	// Append adds an event to the outbox.
	Append(ctx context.Context, entry *OutboxEntry) error
	// FetchUnpublished retrieves unpublished events for dispatching.
	FetchUnpublished(ctx context.Context, limit int) ([]*OutboxEntry, error)
	// MarkPublished marks events as dispatched.
	MarkPublished(ctx context.Context, ids []types.EventID) error
}
