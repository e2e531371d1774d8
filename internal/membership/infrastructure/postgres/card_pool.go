package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"membership/internal/membership/domain"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// CardPool implements domain.CardPool using PostgreSQL.
type CardPool struct {
	db Executor
}

// NewCardPool creates a new CardPool.
func NewCardPool(db Executor) *CardPool {
	return &CardPool{db: db}
}

// ClaimNext assigns the free entry with the lowest sequence. The row lock
// (FOR UPDATE) makes concurrent claims serialize on the candidate row, so
// two transactions never walk away with the same number.
func (p *CardPool) ClaimNext(ctx context.Context) (string, error) {
	var number string
	err := p.db.QueryRow(ctx, `
		UPDATE membership.card_pool
		SET assigned = TRUE
		WHERE id = (
			SELECT id FROM membership.card_pool
			WHERE assigned = FALSE
			ORDER BY sequence
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING number`,
	).Scan(&number)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrPoolExhausted
	}
	if err != nil {
		return "", err
	}
	return number, nil
}

// BulkInsert adds a printed batch, continuing the sequence from the current
// maximum. Duplicates are skipped and reported; any other error aborts the
// batch.
func (p *CardPool) BulkInsert(ctx context.Context, numbers []string) (domain.BulkInsertResult, error) {
	var result domain.BulkInsertResult

	var maxSeq int64
	err := p.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM membership.card_pool`,
	).Scan(&maxSeq)
	if err != nil {
		return result, err
	}

	for _, number := range numbers {
		maxSeq++
		tag, err := p.db.Exec(ctx, `
			INSERT INTO membership.card_pool (sequence, number, assigned)
			VALUES ($1, $2, FALSE)
			ON CONFLICT (number) DO NOTHING`,
			maxSeq, number,
		)
		if err != nil {
			return result, err
		}
		if tag.RowsAffected() == 0 {
			result.Duplicates = append(result.Duplicates, number)
			maxSeq--
			continue
		}
		result.Inserted++
	}

	return result, nil
}

// Release flips an assigned entry back to free.
func (p *CardPool) Release(ctx context.Context, number string) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE membership.card_pool SET assigned = FALSE WHERE number = $1`,
		number,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCardNotFound
	}
	return nil
}

// Update renames an entry, keeping its sequence position.
func (p *CardPool) Update(ctx context.Context, number, newNumber string) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE membership.card_pool SET number = $1 WHERE number = $2`,
		newNumber, number,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateCardNumber
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCardNotFound
	}
	return nil
}

// Delete removes an entry.
func (p *CardPool) Delete(ctx context.Context, number string) error {
	tag, err := p.db.Exec(ctx,
		`DELETE FROM membership.card_pool WHERE number = $1`,
		number,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCardNotFound
	}
	return nil
}

// Available returns the count of unassigned entries.
func (p *CardPool) Available(ctx context.Context) (int, error) {
	var count int
	err := p.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM membership.card_pool WHERE assigned = FALSE`,
	).Scan(&count)
	return count, err
}

// List returns entries ordered by sequence.
func (p *CardPool) List(ctx context.Context, limit, offset int) ([]domain.CardPoolEntry, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, sequence, number, assigned
		FROM membership.card_pool
		ORDER BY sequence
		LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.CardPoolEntry, 0)
	for rows.Next() {
		var entry domain.CardPoolEntry
		if err := rows.Scan(&entry.ID, &entry.Sequence, &entry.Number, &entry.Assigned); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Verify interface implementation.
var _ domain.CardPool = (*CardPool)(nil)
