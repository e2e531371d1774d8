package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"membership/internal/common/logging"
	"membership/internal/common/metrics"
	"membership/internal/common/types"
	"membership/internal/membership/domain"
)

// maxDispatchConcurrency bounds parallel deliveries to the mail and wallet
// backends within one batch.
const maxDispatchConcurrency = 8

// Publisher drains the outbox and dispatches side effects: notification
// emails, wallet links and ledger rows. Dispatch is at-most-once per entry
// and best-effort; a failed delivery is logged and the entry is still marked
// published so a broken mail server cannot wedge the queue. Membership state
// never depends on any of these side effects.
type Publisher struct {
	repos    domain.Repositories
	mailer   Mailer
	wallet   WalletService
	ledger   LedgerRecorder
	fee      types.Money
	interval time.Duration
	batch    int
}

// NewPublisher creates a new Publisher.
func NewPublisher(
	repos domain.Repositories,
	mailer Mailer,
	wallet WalletService,
	ledger LedgerRecorder,
	fee types.Money,
	interval time.Duration,
	batch int,
) *Publisher {
	return &Publisher{
		repos:    repos,
		mailer:   mailer,
		wallet:   wallet,
		ledger:   ledger,
		fee:      fee,
		interval: interval,
		batch:    batch,
	}
}

// Run drains the outbox on a fixed interval until the context is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logging.Info("Outbox publisher started",
		"interval", p.interval.String(), "batch_size", p.batch)

	for {
		select {
		case <-ctx.Done():
			logging.Info("Outbox publisher stopped")
			return
		case <-ticker.C:
			if err := p.DispatchBatch(ctx); err != nil {
				logging.Error("Outbox dispatch failed", "error", err)
			}
		}
	}
}

// DispatchBatch fetches one batch of unpublished entries, dispatches them
// concurrently and marks them published.
func (p *Publisher) DispatchBatch(ctx context.Context) error {
	entries, err := p.repos.Outbox().FetchUnpublished(ctx, p.batch)
	if err != nil {
		return fmt.Errorf("fetching unpublished events: %w", err)
	}
	if len(entries) == 0 {
		metrics.OutboxPendingEvents.Set(0)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxDispatchConcurrency)

	ids := make([]types.EventID, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ID)

		g.Go(func() error {
			ectx := logging.WithCorrelationID(gctx, entry.CorrelationID)
			ectx = logging.WithApplicationID(ectx, entry.ApplicationID.String())
			if err := p.dispatch(ectx, entry); err != nil {
				logging.ErrorContext(ectx, "Failed to dispatch event",
					"event_id", entry.ID.String(),
					"event_type", entry.EventType,
					"error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := p.repos.Outbox().MarkPublished(ctx, ids); err != nil {
		return fmt.Errorf("marking events published: %w", err)
	}

	logging.Debug("Outbox batch dispatched", "count", len(ids))
	return nil
}

func (p *Publisher) dispatch(ctx context.Context, entry *domain.OutboxEntry) error {
	switch entry.EventType {
	case domain.EventTypeApplicationApproved:
		return p.dispatchApproved(ctx, entry.Payload)
	case domain.EventTypeApplicationDeclined:
		return p.dispatchDeclined(ctx, entry.Payload)
	case domain.EventTypeApplicationPaid:
		return p.dispatchPaid(ctx, entry.Payload)
	case domain.EventTypeCardIssued:
		return p.dispatchIssued(ctx, entry.Payload)
	case domain.EventTypeCardDelivered:
		// Handover is its own confirmation; nothing to send.
		return nil
	case domain.EventTypePassBlacklisted:
		return p.dispatchBlacklisted(ctx, entry.Payload)
	default:
		logging.WarnContext(ctx, "Unknown event type in outbox", "event_type", entry.EventType)
		return nil
	}
}

// dispatchApproved sends the approval email. Card applicants get the payment
// link, pass applicants get their wallet link.
func (p *Publisher) dispatchApproved(ctx context.Context, payload []byte) error {
	var event domain.ApplicationApprovedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshalling approved event: %w", err)
	}

	params := map[string]string{
		"name": event.Name,
	}
	if event.WantsCard {
		params["payment_link_url"] = event.PaymentLinkURL
	}
	if event.WantsPass && event.PassToken != "" {
		link, err := p.wallet.PassWalletLink(ctx, event.ApplicationID, event.PassToken)
		if err != nil {
			logging.WarnContext(ctx, "Could not build pass wallet link", "error", err)
		}
		params["pass_wallet_url"] = link
	}

	return p.mailer.Send(ctx, event.Email, "approval", params)
}

func (p *Publisher) dispatchDeclined(ctx context.Context, payload []byte) error {
	var event domain.ApplicationDeclinedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshalling declined event: %w", err)
	}
	return p.mailer.Send(ctx, event.Email, "decline", map[string]string{
		"name": event.Name,
	})
}

// dispatchPaid records the issuance ledger row and sends the card assignment
// email with the card wallet link. The two deliveries are independent; the
// first failure wins the error slot but both are attempted.
func (p *Publisher) dispatchPaid(ctx context.Context, payload []byte) error {
	var event domain.ApplicationPaidEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshalling paid event: %w", err)
	}

	var firstErr error
	if err := p.ledger.RecordIssuance(ctx, IssuanceRow{
		Date:            event.OccurredAt.Format("2006-01-02"),
		Name:            event.Name + " " + event.Surname,
		CardNumber:      event.CardNumber,
		PointOfSale:     "online",
		Nationality:     event.Nationality,
		MethodOfPayment: "payment link",
		Amount:          p.fee,
	}); err != nil {
		firstErr = fmt.Errorf("recording issuance: %w", err)
	}

	link, err := p.wallet.CardWalletLink(ctx, event.ApplicationID, event.CardNumber)
	if err != nil {
		logging.WarnContext(ctx, "Could not build card wallet link", "error", err)
	}

	if err := p.mailer.Send(ctx, event.Email, "card_assignment", map[string]string{
		"name":            event.Name,
		"card_number":     event.CardNumber,
		"card_wallet_url": link,
	}); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sending card assignment mail: %w", err)
	}

	return firstErr
}

func (p *Publisher) dispatchIssued(ctx context.Context, payload []byte) error {
	var event domain.CardIssuedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshalling issued event: %w", err)
	}
	return p.mailer.Send(ctx, event.Email, "card_issuance", map[string]string{
		"name":        event.Name,
		"card_number": event.CardNumber,
	})
}

func (p *Publisher) dispatchBlacklisted(ctx context.Context, payload []byte) error {
	var event domain.PassBlacklistedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshalling blacklisted event: %w", err)
	}
	return p.mailer.Send(ctx, event.Email, "pass_blacklist", map[string]string{
		"name": event.Name,
	})
}
