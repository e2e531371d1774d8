package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"membership/internal/common/types"
	"membership/internal/membership/domain"
)

// DataStore implements domain.AtomicExecutor and domain.Repositories for testing.
// It provides an in-memory implementation that supports the Atomic pattern.
// Concurrency: all access is guarded by a mutex.
type DataStore struct {
	mu            sync.RWMutex
	applications  map[string]*domain.Application
	pool          []domain.CardPoolEntry
	nextPoolID    int64
	outboxEntries []*domain.OutboxEntry

	applicationRepo *ApplicationRepository
	cardPool        *CardPool
	outboxRepo      *OutboxRepository
}

// NewDataStore creates a new in-memory DataStore.
func NewDataStore() *DataStore {
	ds := &DataStore{
		applications:  make(map[string]*domain.Application),
		pool:          make([]domain.CardPoolEntry, 0),
		nextPoolID:    1,
		outboxEntries: make([]*domain.OutboxEntry, 0),
	}

	ds.applicationRepo = &ApplicationRepository{store: ds}
	ds.cardPool = &CardPool{store: ds}
	ds.outboxRepo = &OutboxRepository{store: ds}

	return ds
}

// Applications returns the application repository.
func (ds *DataStore) Applications() domain.ApplicationRepository {
	return ds.applicationRepo
}

// Cards returns the card pool.
func (ds *DataStore) Cards() domain.CardPool {
	return ds.cardPool
}

// Outbox returns the outbox repository.
func (ds *DataStore) Outbox() domain.OutboxRepository {
	return ds.outboxRepo
}

// Atomic executes the callback atomically.
// It locks the store, runs the callback against a transactional snapshot,
// and commits staged changes only if the callback succeeds.
// Concurrency: the store is locked for the duration of the callback.
func (ds *DataStore) Atomic(ctx context.Context, fn domain.AtomicCallback) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	tx := &transactionalDataStore{
		parent:             ds,
		stagedApplications: make(map[string]*domain.Application),
		stagedDeletes:      make(map[string]bool),
		pool:               append([]domain.CardPoolEntry(nil), ds.pool...),
		nextPoolID:         ds.nextPoolID,
		stagedOutbox:       make([]*domain.OutboxEntry, 0),
	}

	if err := fn(tx); err != nil {
		return err
	}

	// Commit: apply staged changes
	for k, v := range tx.stagedApplications {
		ds.applications[k] = v
	}
	for k := range tx.stagedDeletes {
		delete(ds.applications, k)
	}
	ds.pool = tx.pool
	ds.nextPoolID = tx.nextPoolID
	ds.outboxEntries = append(ds.outboxEntries, tx.stagedOutbox...)

	return nil
}

// transactionalDataStore provides transaction isolation for memory operations.
// The card pool is snapshotted wholesale and swapped back in on commit.
type transactionalDataStore struct {
	parent             *DataStore
	stagedApplications map[string]*domain.Application
	stagedDeletes      map[string]bool
	pool               []domain.CardPoolEntry
	nextPoolID         int64
	stagedOutbox       []*domain.OutboxEntry
}

func (tx *transactionalDataStore) Applications() domain.ApplicationRepository {
	return &txApplicationRepository{tx: tx}
}

func (tx *transactionalDataStore) Cards() domain.CardPool {
	return &txCardPool{tx: tx}
}

func (tx *transactionalDataStore) Outbox() domain.OutboxRepository {
	return &txOutboxRepository{tx: tx}
}

// Transactional repository implementations

type txApplicationRepository struct {
	tx *transactionalDataStore
}

func (r *txApplicationRepository) Save(ctx context.Context, app *domain.Application) error {
	r.tx.stagedApplications[app.ID().String()] = app
	return nil
}

func (r *txApplicationRepository) FindByID(ctx context.Context, id domain.ApplicationID) (*domain.Application, error) {
	key := id.String()
	if r.tx.stagedDeletes[key] {
		return nil, domain.ErrApplicationNotFound
	}
	if app, ok := r.tx.stagedApplications[key]; ok {
		return app, nil
	}
	if app, ok := r.tx.parent.applications[key]; ok {
		return cloneApplication(app), nil
	}
	return nil, domain.ErrApplicationNotFound
}

func (r *txApplicationRepository) FindByCardNumber(ctx context.Context, number string) (*domain.Application, error) {
	return r.find(func(app *domain.Application) bool {
		return app.CardNumber() == number && number != ""
	})
}

func (r *txApplicationRepository) FindByPassToken(ctx context.Context, token string) (*domain.Application, error) {
	return r.find(func(app *domain.Application) bool {
		return app.PassToken() == token && token != ""
	})
}

func (r *txApplicationRepository) find(match func(*domain.Application) bool) (*domain.Application, error) {
	for _, app := range r.tx.stagedApplications {
		if match(app) {
			return app, nil
		}
	}
	for key, app := range r.tx.parent.applications {
		if r.tx.stagedDeletes[key] {
			continue
		}
		if _, staged := r.tx.stagedApplications[key]; staged {
			continue
		}
		if match(app) {
			return cloneApplication(app), nil
		}
	}
	return nil, domain.ErrApplicationNotFound
}

// cloneApplication rehydrates a detached copy so mutations made inside a
// failed Atomic callback cannot leak into the committed state, matching the
// rollback semantics of the Postgres store.
func cloneApplication(app *domain.Application) *domain.Application {
	return domain.ReconstructApplication(domain.ReconstructedApplication{
		ID:             app.ID(),
		Status:         app.Status(),
		WantsCard:      app.WantsCard(),
		WantsPass:      app.WantsPass(),
		Name:           app.Name(),
		Surname:        app.Surname(),
		Email:          app.Email(),
		Nationality:    app.Nationality(),
		CardNumber:     app.CardNumber(),
		PassToken:      app.PassToken(),
		PaymentLinkID:  app.PaymentLinkID(),
		PaymentLinkURL: app.PaymentLinkURL(),
		DateCreated:    app.DateCreated(),
		DateApproved:   copyTime(app.DateApproved()),
		DatePaid:       copyTime(app.DatePaid()),
		LastScannedAt:  copyTime(app.LastScannedAt()),
		Version:        app.Version(),
	})
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (r *txApplicationRepository) Delete(ctx context.Context, id domain.ApplicationID) error {
	key := id.String()
	if _, err := r.FindByID(ctx, id); err != nil {
		return err
	}
	delete(r.tx.stagedApplications, key)
	r.tx.stagedDeletes[key] = true
	return nil
}

type txCardPool struct {
	tx *transactionalDataStore
}

func (p *txCardPool) ClaimNext(ctx context.Context) (string, error) {
	idx := -1
	for i, entry := range p.tx.pool {
		if entry.Assigned {
			continue
		}
		if idx == -1 || entry.Sequence < p.tx.pool[idx].Sequence {
			idx = i
		}
	}
	if idx == -1 {
		return "", domain.ErrPoolExhausted
	}
	p.tx.pool[idx].Assigned = true
	return p.tx.pool[idx].Number, nil
}

func (p *txCardPool) BulkInsert(ctx context.Context, numbers []string) (domain.BulkInsertResult, error) {
	var result domain.BulkInsertResult

	existing := make(map[string]bool, len(p.tx.pool))
	var maxSeq int64
	for _, entry := range p.tx.pool {
		existing[entry.Number] = true
		if entry.Sequence > maxSeq {
			maxSeq = entry.Sequence
		}
	}

	for _, number := range numbers {
		if existing[number] {
			result.Duplicates = append(result.Duplicates, number)
			continue
		}
		maxSeq++
		p.tx.pool = append(p.tx.pool, domain.CardPoolEntry{
			ID:       p.tx.nextPoolID,
			Sequence: maxSeq,
			Number:   number,
		})
		p.tx.nextPoolID++
		existing[number] = true
		result.Inserted++
	}

	return result, nil
}

func (p *txCardPool) Release(ctx context.Context, number string) error {
	for i, entry := range p.tx.pool {
		if entry.Number == number {
			p.tx.pool[i].Assigned = false
			return nil
		}
	}
	return domain.ErrCardNotFound
}

func (p *txCardPool) Update(ctx context.Context, number, newNumber string) error {
	idx := -1
	for i, entry := range p.tx.pool {
		if entry.Number == newNumber && number != newNumber {
			return domain.ErrDuplicateCardNumber
		}
		if entry.Number == number {
			idx = i
		}
	}
	if idx == -1 {
		return domain.ErrCardNotFound
	}
	p.tx.pool[idx].Number = newNumber
	return nil
}

func (p *txCardPool) Delete(ctx context.Context, number string) error {
	for i, entry := range p.tx.pool {
		if entry.Number == number {
			p.tx.pool = append(p.tx.pool[:i], p.tx.pool[i+1:]...)
			return nil
		}
	}
	return domain.ErrCardNotFound
}

func (p *txCardPool) Available(ctx context.Context) (int, error) {
	count := 0
	for _, entry := range p.tx.pool {
		if !entry.Assigned {
			count++
		}
	}
	return count, nil
}

func (p *txCardPool) List(ctx context.Context, limit, offset int) ([]domain.CardPoolEntry, error) {
	return listPool(p.tx.pool, limit, offset), nil
}

func listPool(pool []domain.CardPoolEntry, limit, offset int) []domain.CardPoolEntry {
	sorted := append([]domain.CardPoolEntry(nil), pool...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	if offset >= len(sorted) {
		return []domain.CardPoolEntry{}
	}
	sorted = sorted[offset:]
	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}
	return sorted
}

type txOutboxRepository struct {
	tx *transactionalDataStore
}

func (r *txOutboxRepository) Append(ctx context.Context, entry *domain.OutboxEntry) error {
	r.tx.stagedOutbox = append(r.tx.stagedOutbox, entry)
	return nil
}

func (r *txOutboxRepository) FetchUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEntry, error) {
	return fetchUnpublished(r.tx.parent.outboxEntries, limit), nil
}

func (r *txOutboxRepository) MarkPublished(ctx context.Context, ids []types.EventID) error {
	markPublished(r.tx.parent.outboxEntries, ids)
	return nil
}

func fetchUnpublished(entries []*domain.OutboxEntry, limit int) []*domain.OutboxEntry {
	var result []*domain.OutboxEntry
	for _, entry := range entries {
		if entry.PublishedAt == nil {
			result = append(result, entry)
			if len(result) >= limit {
				break
			}
		}
	}
	return result
}

func markPublished(entries []*domain.OutboxEntry, ids []types.EventID) {
	now := time.Now()
	idSet := make(map[string]bool)
	for _, id := range ids {
		idSet[id.String()] = true
	}
	for _, entry := range entries {
		if idSet[entry.ID.String()] {
			entry.PublishedAt = &now
		}
	}
}

// Non-transactional repository implementations (for direct access)

// ApplicationRepository provides non-transactional access to in-memory applications.
type ApplicationRepository struct {
	store *DataStore
}

// Save stores an application in memory, overwriting any existing entry.
func (r *ApplicationRepository) Save(ctx context.Context, app *domain.Application) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.applications[app.ID().String()] = app
	return nil
}

// FindByID loads an application by ID from memory.
// Returns ErrApplicationNotFound when missing.
func (r *ApplicationRepository) FindByID(ctx context.Context, id domain.ApplicationID) (*domain.Application, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if app, ok := r.store.applications[id.String()]; ok {
		return app, nil
	}
	return nil, domain.ErrApplicationNotFound
}

// FindByCardNumber scans in-memory applications for a matching card number.
func (r *ApplicationRepository) FindByCardNumber(ctx context.Context, number string) (*domain.Application, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, app := range r.store.applications {
		if app.CardNumber() == number && number != "" {
			return app, nil
		}
	}
	return nil, domain.ErrApplicationNotFound
}

// FindByPassToken scans in-memory applications for a matching pass token.
func (r *ApplicationRepository) FindByPassToken(ctx context.Context, token string) (*domain.Application, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, app := range r.store.applications {
		if app.PassToken() == token && token != "" {
			return app, nil
		}
	}
	return nil, domain.ErrApplicationNotFound
}

// Delete removes an application from memory.
func (r *ApplicationRepository) Delete(ctx context.Context, id domain.ApplicationID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := id.String()
	if _, ok := r.store.applications[key]; !ok {
		return domain.ErrApplicationNotFound
	}
	delete(r.store.applications, key)
	return nil
}

// CardPool provides non-transactional access to the in-memory pool.
type CardPool struct {
	store *DataStore
}

// ClaimNext marks the lowest-sequence free entry assigned and returns its number.
func (p *CardPool) ClaimNext(ctx context.Context) (string, error) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	idx := -1
	for i, entry := range p.store.pool {
		if entry.Assigned {
			continue
		}
		if idx == -1 || entry.Sequence < p.store.pool[idx].Sequence {
			idx = i
		}
	}
	if idx == -1 {
		return "", domain.ErrPoolExhausted
	}
	p.store.pool[idx].Assigned = true
	return p.store.pool[idx].Number, nil
}

// BulkInsert appends numbers to the in-memory pool, skipping duplicates.
func (p *CardPool) BulkInsert(ctx context.Context, numbers []string) (domain.BulkInsertResult, error) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()

	var result domain.BulkInsertResult
	existing := make(map[string]bool, len(p.store.pool))
	var maxSeq int64
	for _, entry := range p.store.pool {
		existing[entry.Number] = true
		if entry.Sequence > maxSeq {
			maxSeq = entry.Sequence
		}
	}
	for _, number := range numbers {
		if existing[number] {
			result.Duplicates = append(result.Duplicates, number)
			continue
		}
		maxSeq++
		p.store.pool = append(p.store.pool, domain.CardPoolEntry{
			ID:       p.store.nextPoolID,
			Sequence: maxSeq,
			Number:   number,
		})
		p.store.nextPoolID++
		existing[number] = true
		result.Inserted++
	}
	return result, nil
}

// Release flips an assigned entry back to free.
func (p *CardPool) Release(ctx context.Context, number string) error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	for i, entry := range p.store.pool {
		if entry.Number == number {
			p.store.pool[i].Assigned = false
			return nil
		}
	}
	return domain.ErrCardNotFound
}

// Update renames a pool entry.
func (p *CardPool) Update(ctx context.Context, number, newNumber string) error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	idx := -1
	for i, entry := range p.store.pool {
		if entry.Number == newNumber && number != newNumber {
			return domain.ErrDuplicateCardNumber
		}
		if entry.Number == number {
			idx = i
		}
	}
	if idx == -1 {
		return domain.ErrCardNotFound
	}
	p.store.pool[idx].Number = newNumber
	return nil
}

// Delete removes a pool entry.
func (p *CardPool) Delete(ctx context.Context, number string) error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	for i, entry := range p.store.pool {
		if entry.Number == number {
			p.store.pool = append(p.store.pool[:i], p.store.pool[i+1:]...)
			return nil
		}
	}
	return domain.ErrCardNotFound
}

// Available counts unassigned entries.
func (p *CardPool) Available(ctx context.Context) (int, error) {
	p.store.mu.RLock()
	defer p.store.mu.RUnlock()
	count := 0
	for _, entry := range p.store.pool {
		if !entry.Assigned {
			count++
		}
	}
	return count, nil
}

// List returns entries ordered by sequence.
func (p *CardPool) List(ctx context.Context, limit, offset int) ([]domain.CardPoolEntry, error) {
	p.store.mu.RLock()
	defer p.store.mu.RUnlock()
	return listPool(p.store.pool, limit, offset), nil
}

// OutboxRepository provides non-transactional access to in-memory outbox entries.
type OutboxRepository struct {
	store *DataStore
}

// Append adds an event entry to the in-memory outbox.
func (r *OutboxRepository) Append(ctx context.Context, entry *domain.OutboxEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.outboxEntries = append(r.store.outboxEntries, entry)
	return nil
}

// FetchUnpublished returns unpublished events in insertion order, up to the limit.
func (r *OutboxRepository) FetchUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEntry, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return fetchUnpublished(r.store.outboxEntries, limit), nil
}

// MarkPublished sets PublishedAt for the specified events.
func (r *OutboxRepository) MarkPublished(ctx context.Context, ids []types.EventID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	markPublished(r.store.outboxEntries, ids)
	return nil
}

// Verify interface implementations
var (
	_ domain.AtomicExecutor = (*DataStore)(nil)
	_ domain.Repositories   = (*DataStore)(nil)
)
