package postgres

import (
	"context"
	"fmt"
	"time"

	"membership/internal/common/types"
	"membership/internal/membership/domain"
)

// OutboxRepository implements domain.OutboxRepository using PostgreSQL.
//
// Events are written to the outbox within the same transaction as domain
// changes, then dispatched asynchronously by the publisher.
type OutboxRepository struct {
	db Executor
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(db Executor) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Append adds an event to the outbox.
// It persists the event payload and metadata as part of the current transaction.
func (r *OutboxRepository) Append(ctx context.Context, entry *domain.OutboxEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO membership.outbox (
			event_id, event_type, application_id, correlation_id, payload, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID.String(),
		entry.EventType,
		entry.ApplicationID.String(),
		entry.CorrelationID.String(),
		entry.Payload,
		entry.OccurredAt,
	)
	return err
}

// FetchUnpublished retrieves unpublished events for dispatching.
// It locks rows with FOR UPDATE SKIP LOCKED to support concurrent publishers,
// ordering by occurred_at to maintain event ordering.
func (r *OutboxRepository) FetchUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT event_id, event_type, application_id, correlation_id, payload, occurred_at, published_at
		FROM membership.outbox
		WHERE published_at IS NULL
		ORDER BY occurred_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*domain.OutboxEntry, 0)
	for rows.Next() {
		var (
			eventID       string
			eventType     string
			applicationID string
			correlationID string
			payload       []byte
			occurredAt    time.Time
			publishedAt   *time.Time
		)
		if err := rows.Scan(&eventID, &eventType, &applicationID, &correlationID, &payload, &occurredAt, &publishedAt); err != nil {
			return nil, err
		}

		appID, err := domain.ParseApplicationID(applicationID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid application id in outbox: %v", domain.ErrCorruptData, err)
		}

		entries = append(entries, &domain.OutboxEntry{
			ID:            types.EventID(eventID),
			EventType:     eventType,
			ApplicationID: appID,
			CorrelationID: types.CorrelationID(correlationID),
			Payload:       payload,
			OccurredAt:    occurredAt,
			PublishedAt:   publishedAt,
		})
	}

	return entries, rows.Err()
}

// MarkPublished marks events as published.
// It is a no-op when the input list is empty.
func (r *OutboxRepository) MarkPublished(ctx context.Context, ids []types.EventID) error {
	if len(ids) == 0 {
		return nil
	}

	stringIDs := make([]string, len(ids))
	for i, id := range ids {
		stringIDs[i] = id.String()
	}

	_, err := r.db.Exec(ctx, `
		UPDATE membership.outbox
		SET published_at = $1
		WHERE event_id = ANY($2)`,
		time.Now(), stringIDs,
	)
	return err
}

// Verify interface implementation.
var _ domain.OutboxRepository = (*OutboxRepository)(nil)
