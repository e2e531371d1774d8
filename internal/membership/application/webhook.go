package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"membership/internal/common/logging"
	"membership/internal/common/metrics"
	"membership/internal/common/types"
	"membership/internal/membership/domain"
)

// Outcome classifies the result of a payment webhook delivery. Everything
// except a processed event and a signature failure is benign: the external
// provider delivers at-least-once, and a non-2xx answer would only trigger
// its retry storm.
type Outcome string

const (
	// OutcomeProcessed means the payment was applied and a card claimed.
	OutcomeProcessed Outcome = "processed"
	// OutcomeAlreadyProcessed means the event was a duplicate delivery.
	OutcomeAlreadyProcessed Outcome = "already_processed"
	// OutcomeIgnored means the event is not for this system or is already
	// being handled by a concurrent delivery.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeNotFound means the referenced application does not exist.
	OutcomeNotFound Outcome = "not_found"
)

// eventTypePaymentCompleted is the only provider event type this handler consumes.
const eventTypePaymentCompleted = "checkout.session.completed"

// paymentEvent is the wire shape of the provider's signed event.
type paymentEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			PaymentLink string `json:"payment_link"`
			Metadata    struct {
				ApplicationID string `json:"application_id"`
				PaymentLink   string `json:"payment_link"`
			} `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// PaymentEventHandler consumes payment-completion webhooks exactly once per
// application. Safety comes from three layers: the per-application
// idempotency lock, the duplicate-suppression check on the loaded
// application, and the transactional pool claim in MarkPaid.
type PaymentEventHandler struct {
	verifier SignatureVerifier
	locker   domain.Locker
	service  *MembershipService
	payments PaymentProvider
	repos    domain.Repositories
}

// NewPaymentEventHandler creates a new PaymentEventHandler.
func NewPaymentEventHandler(
	verifier SignatureVerifier,
	locker domain.Locker,
	service *MembershipService,
	payments PaymentProvider,
	repos domain.Repositories,
) *PaymentEventHandler {
	return &PaymentEventHandler{
		verifier: verifier,
		locker:   locker,
		service:  service,
		payments: payments,
		repos:    repos,
	}
}

// HandleEvent verifies and applies one webhook delivery. It is safe to
// invoke with the same event body any number of times; only the first
// successful application has observable side effects.
func (h *PaymentEventHandler) HandleEvent(ctx context.Context, payload []byte, sigHeader string) (Outcome, error) {
	if err := h.verifier.Verify(payload, sigHeader); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var event paymentEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", fmt.Errorf("malformed event payload: %w", err)
	}

	if event.Type != eventTypePaymentCompleted {
		logging.DebugContext(ctx, "Ignoring payment event", "type", event.Type)
		metrics.RecordWebhookEvent(string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}

	rawID := event.Data.Object.Metadata.ApplicationID
	if rawID == "" {
		logging.WarnContext(ctx, "No application_id metadata in payment event")
		metrics.RecordWebhookEvent(string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}
	appID, err := domain.ParseApplicationID(rawID)
	if err != nil {
		logging.WarnContext(ctx, "Malformed application_id in payment event", "application_id", rawID)
		metrics.RecordWebhookEvent(string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}

	ctx = logging.WithApplicationID(ctx, appID.String())

	// Reuse the correlation ID of the inbound delivery so the transition and
	// its outbox entry trace back to this webhook call.
	correlationID := logging.CorrelationIDFromContext(ctx)
	if correlationID.IsEmpty() {
		correlationID = types.NewCorrelationID()
		ctx = logging.WithCorrelationID(ctx, correlationID)
	}

	linkID := event.Data.Object.PaymentLink
	if linkID == "" {
		linkID = event.Data.Object.Metadata.PaymentLink
	}

	outcome := OutcomeProcessed
	err = h.locker.WithLock(ctx, "application:"+appID.String(), func(ctx context.Context) error {
		app, err := h.repos.Applications().FindByID(ctx, appID)
		if errors.Is(err, domain.ErrApplicationNotFound) {
			logging.WarnContext(ctx, "Application from payment event not found")
			outcome = OutcomeNotFound
			return nil
		}
		if err != nil {
			return err
		}

		// Duplicate suppression: the provider redelivers events, and the
		// pool must never be claimed twice for one application.
		if app.PaymentSettled() {
			logging.WarnContext(ctx, "Duplicate payment event detected")
			outcome = OutcomeAlreadyProcessed
			return nil
		}

		if _, err := h.service.MarkPaid(ctx, appID, correlationID); err != nil {
			// A payment event for an application whose state cannot accept it
			// (a pass-only application, or one not yet approved) must not
			// bounce back to the provider as an error; that would only
			// trigger redeliveries of an event that can never apply.
			if errors.Is(err, domain.ErrInvalidTransition) {
				logging.WarnContext(ctx, "Payment event does not apply to the application's state",
					"status_error", err.Error())
				outcome = OutcomeIgnored
				return nil
			}
			return err
		}

		h.deactivateLink(ctx, app, linkID)
		return nil
	})
	if errors.Is(err, domain.ErrLockConflict) {
		logging.WarnContext(ctx, "Could not acquire lock; another delivery is in flight")
		metrics.RecordLockConflict("application")
		metrics.RecordWebhookEvent(string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}

	metrics.RecordWebhookEvent(string(outcome))
	return outcome, nil
}

// deactivateLink disables the payment link once the payment settled.
// Best-effort: the business transition has already committed.
func (h *PaymentEventHandler) deactivateLink(ctx context.Context, app *domain.Application, linkID string) {
	if linkID == "" {
		linkID = app.PaymentLinkID()
	}
	if linkID == "" {
		return
	}
	if err := h.payments.DeactivatePaymentLink(ctx, linkID); err != nil {
		logging.ErrorContext(ctx, "Payment processed, but failed to deactivate payment link",
			"payment_link_id", linkID, "error", err)
	}
}
