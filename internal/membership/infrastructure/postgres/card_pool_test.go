package postgres_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"membership/internal/membership/domain"
	"membership/internal/membership/infrastructure/postgres"
)

// CardPoolSuite tests the pool against a real Postgres instance. The claim
// path depends on row locking (FOR UPDATE SKIP LOCKED), which no in-memory
// substitute reproduces.
type CardPoolSuite struct {
	suite.Suite
	ctx  context.Context
	pool *postgres.CardPool
}

func TestCardPoolSuite(t *testing.T) {
	suite.Run(t, new(CardPoolSuite))
}

func (s *CardPoolSuite) SetupTest() {
	s.ctx = context.Background()
	s.Require().NoError(truncateTables(s.ctx, getTestPool()))
	s.pool = postgres.NewCardPool(getTestPool())
}

func (s *CardPoolSuite) TestBulkInsert() {
	s.Run("assigns increasing sequences", func() {
		result, err := s.pool.BulkInsert(s.ctx, []string{"1234567ABCA", "1234567ABCB", "1234567ABCC"})
		s.Require().NoError(err)
		s.Equal(3, result.Inserted)
		s.Empty(result.Duplicates)

		entries, err := s.pool.List(s.ctx, 10, 0)
		s.Require().NoError(err)
		s.Require().Len(entries, 3)
		for i, entry := range entries {
			s.Equal(int64(i+1), entry.Sequence)
			s.False(entry.Assigned)
		}
	})

	s.Run("continues the sequence from the current maximum", func() {
		_, err := s.pool.BulkInsert(s.ctx, []string{"1234567ABCD"})
		s.Require().NoError(err)

		entries, err := s.pool.List(s.ctx, 10, 0)
		s.Require().NoError(err)
		s.Equal(int64(4), entries[len(entries)-1].Sequence)
	})

	s.Run("skips and reports duplicates", func() {
		result, err := s.pool.BulkInsert(s.ctx, []string{"1234567ABCA", "1234567ABCE"})
		s.Require().NoError(err)
		s.Equal(1, result.Inserted)
		s.Equal([]string{"1234567ABCA"}, result.Duplicates)
	})
}

func (s *CardPoolSuite) TestClaimNext() {
	s.Run("claims in sequence order", func() {
		_, err := s.pool.BulkInsert(s.ctx, []string{"1234567ABCA", "1234567ABCB"})
		s.Require().NoError(err)

		number, err := s.pool.ClaimNext(s.ctx)
		s.Require().NoError(err)
		s.Equal("1234567ABCA", number)

		number, err = s.pool.ClaimNext(s.ctx)
		s.Require().NoError(err)
		s.Equal("1234567ABCB", number)

		_, err = s.pool.ClaimNext(s.ctx)
		s.ErrorIs(err, domain.ErrPoolExhausted)
	})

	s.Run("concurrent claims never hand out the same number", func() {
		numbers := []string{
			"2000000ABCA", "2000000ABCB", "2000000ABCC", "2000000ABCD",
			"2000000ABCE", "2000000ABCF", "2000000ABCG", "2000000ABCH",
		}
		_, err := s.pool.BulkInsert(s.ctx, numbers)
		s.Require().NoError(err)

		var mu sync.Mutex
		claimed := make(map[string]int)

		g, ctx := errgroup.WithContext(s.ctx)
		for range numbers {
			g.Go(func() error {
				number, err := s.pool.ClaimNext(ctx)
				if err != nil {
					return err
				}
				mu.Lock()
				claimed[number]++
				mu.Unlock()
				return nil
			})
		}
		s.Require().NoError(g.Wait())

		s.Len(claimed, len(numbers), "every claim must return a distinct number")
		for number, count := range claimed {
			s.Equal(1, count, "number %s claimed %d times", number, count)
		}

		available, err := s.pool.Available(s.ctx)
		s.Require().NoError(err)
		s.Zero(available)
	})
}

func (s *CardPoolSuite) TestAdministration() {
	s.Run("release frees a claimed number", func() {
		_, err := s.pool.BulkInsert(s.ctx, []string{"1234567ABCA"})
		s.Require().NoError(err)
		_, err = s.pool.ClaimNext(s.ctx)
		s.Require().NoError(err)

		available, err := s.pool.Available(s.ctx)
		s.Require().NoError(err)
		s.Zero(available)

		s.Require().NoError(s.pool.Release(s.ctx, "1234567ABCA"))

		available, err = s.pool.Available(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, available)
	})

	s.Run("update renames an entry and rejects collisions", func() {
		_, err := s.pool.BulkInsert(s.ctx, []string{"1234567ABCA", "1234567ABCB"})
		s.Require().NoError(err)

		s.Require().NoError(s.pool.Update(s.ctx, "1234567ABCA", "1234567ABCZ"))
		s.ErrorIs(s.pool.Update(s.ctx, "1234567ABCZ", "1234567ABCB"), domain.ErrDuplicateCardNumber)
		s.ErrorIs(s.pool.Update(s.ctx, "0000000XXXX", "1234567ABCY"), domain.ErrCardNotFound)
	})

	s.Run("delete removes an entry", func() {
		_, err := s.pool.BulkInsert(s.ctx, []string{"1234567ABCA"})
		s.Require().NoError(err)

		s.Require().NoError(s.pool.Delete(s.ctx, "1234567ABCA"))
		s.ErrorIs(s.pool.Delete(s.ctx, "1234567ABCA"), domain.ErrCardNotFound)
	})
}
