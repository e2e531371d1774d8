package application

import (
	"context"
	"fmt"

	"membership/internal/common/logging"
	"membership/internal/membership/domain"
)

// CardPoolService covers the administrative surface of the card number pool:
// bulk loading freshly printed batches and correcting individual entries.
type CardPoolService struct {
	dataStore domain.AtomicExecutor
	repos     domain.Repositories
}

// NewCardPoolService creates a new CardPoolService.
func NewCardPoolService(dataStore interface {
	domain.AtomicExecutor
	domain.Repositories
}) *CardPoolService {
	return &CardPoolService{
		dataStore: dataStore,
		repos:     dataStore,
	}
}

// BulkAddResponse reports the outcome of a batch upload.
type BulkAddResponse struct {
	Inserted   int      `json:"inserted"`
	Duplicates []string `json:"duplicates,omitempty"`
}

// BulkAdd loads a batch of printed card numbers into the pool. Every number
// must match the card format; one malformed number rejects the whole batch
// so a mispasted file never half-loads. Numbers already present are skipped
// and reported back.
func (s *CardPoolService) BulkAdd(ctx context.Context, numbers []string) (*BulkAddResponse, error) {
	if len(numbers) == 0 {
		return &BulkAddResponse{}, nil
	}
	for _, number := range numbers {
		if !domain.ValidCardNumber(number) {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidCardNumber, number)
		}
	}

	var result domain.BulkInsertResult
	err := s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		var err error
		result, err = repos.Cards().BulkInsert(ctx, numbers)
		return err
	})
	if err != nil {
		return nil, err
	}

	logging.InfoContext(ctx, "Card numbers loaded into pool",
		"inserted", result.Inserted,
		"duplicates", len(result.Duplicates),
	)

	return &BulkAddResponse{
		Inserted:   result.Inserted,
		Duplicates: result.Duplicates,
	}, nil
}

// PoolView is the administrative listing of the pool.
type PoolView struct {
	Available int                    `json:"available"`
	Entries   []domain.CardPoolEntry `json:"entries"`
}

// List returns a page of pool entries plus the free count.
func (s *CardPoolService) List(ctx context.Context, limit, offset int) (*PoolView, error) {
	entries, err := s.repos.Cards().List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	available, err := s.repos.Cards().Available(ctx)
	if err != nil {
		return nil, err
	}
	return &PoolView{Available: available, Entries: entries}, nil
}

// Update renames a pool entry, correcting a mistyped number.
func (s *CardPoolService) Update(ctx context.Context, number, newNumber string) error {
	if !domain.ValidCardNumber(newNumber) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidCardNumber, newNumber)
	}
	return s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		return repos.Cards().Update(ctx, number, newNumber)
	})
}

// Delete removes a pool entry.
func (s *CardPoolService) Delete(ctx context.Context, number string) error {
	return s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		return repos.Cards().Delete(ctx, number)
	})
}

// Release puts an assigned number back into circulation, for example after
// a misprint was swapped at the desk.
func (s *CardPoolService) Release(ctx context.Context, number string) error {
	err := s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		return repos.Cards().Release(ctx, number)
	})
	if err != nil {
		return err
	}
	logging.InfoContext(ctx, "Card number released back to pool", "card_number", number)
	return nil
}
