package domain

import (
	"encoding/json"
	"time"

	"membership/internal/common/types"
)

// Event types for the Membership context.
const (
	EventTypeApplicationApproved = "application.approved"
	EventTypeApplicationDeclined = "application.declined"
	EventTypeApplicationPaid     = "application.paid"
	EventTypeCardIssued          = "card.issued"
	EventTypeCardDelivered       = "card.delivered"
	EventTypePassBlacklisted     = "pass.blacklisted"
)

// ApplicationApprovedEvent is emitted when staff approve an application.
// The dispatcher sends the approval email with the payment link (card
// applications) or the pass token (pass applications).
type ApplicationApprovedEvent struct {
	ApplicationID  string    `json:"application_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	WantsCard      bool      `json:"wants_card"`
	WantsPass      bool      `json:"wants_pass"`
	PassToken      string    `json:"pass_token,omitempty"`
	PaymentLinkURL string    `json:"payment_link_url,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// ApplicationDeclinedEvent is emitted when staff decline an application.
type ApplicationDeclinedEvent struct {
	ApplicationID string    `json:"application_id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ApplicationPaidEvent is emitted when a payment settles and a card number
// is claimed. The dispatcher records the issuance ledger row, generates the
// wallet link and sends the card assignment email.
type ApplicationPaidEvent struct {
	ApplicationID string    `json:"application_id"`
	Name          string    `json:"name"`
	Surname       string    `json:"surname"`
	Email         string    `json:"email"`
	Nationality   string    `json:"nationality"`
	CardNumber    string    `json:"card_number"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// CardIssuedEvent is emitted when a paid card is handed to fulfillment.
type CardIssuedEvent struct {
	ApplicationID string    `json:"application_id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	CardNumber    string    `json:"card_number"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// CardDeliveredEvent is emitted when a card is physically handed over.
type CardDeliveredEvent struct {
	ApplicationID string    `json:"application_id"`
	CardNumber    string    `json:"card_number"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// PassBlacklistedEvent is emitted when a pass-only application is banned.
type PassBlacklistedEvent struct {
	ApplicationID string    `json:"application_id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func newOutboxEntry(eventType string, app *Application, correlationID types.CorrelationID, event any, occurredAt time.Time) (*OutboxEntry, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return &OutboxEntry{
		ID:            types.NewEventID(),
		EventType:     eventType,
		ApplicationID: app.ID(),
		CorrelationID: correlationID,
		Payload:       payload,
		OccurredAt:    occurredAt,
	}, nil
}

// NewApplicationApprovedOutboxEntry creates an outbox entry for the approval event.
func NewApplicationApprovedOutboxEntry(app *Application, correlationID types.CorrelationID) (*OutboxEntry, error) {
	now := time.Now()
	return newOutboxEntry(EventTypeApplicationApproved, app, correlationID, ApplicationApprovedEvent{
		ApplicationID:  app.ID().String(),
		Name:           app.Name(),
		Email:          app.Email(),
		WantsCard:      app.WantsCard(),
		WantsPass:      app.WantsPass(),
		PassToken:      app.PassToken(),
		PaymentLinkURL: app.PaymentLinkURL(),
		OccurredAt:     now,
	}, now)
}

// NewApplicationDeclinedOutboxEntry creates an outbox entry for the decline event.
func NewApplicationDeclinedOutboxEntry(app *Application, correlationID types.CorrelationID) (*OutboxEntry, error) {
	now := time.Now()
	return newOutboxEntry(EventTypeApplicationDeclined, app, correlationID, ApplicationDeclinedEvent{
		ApplicationID: app.ID().String(),
		Name:          app.Name(),
		Email:         app.Email(),
		OccurredAt:    now,
	}, now)
}

// NewApplicationPaidOutboxEntry creates an outbox entry for the paid event.
func NewApplicationPaidOutboxEntry(app *Application, correlationID types.CorrelationID) (*OutboxEntry, error) {
	now := time.Now()
	return newOutboxEntry(EventTypeApplicationPaid, app, correlationID, ApplicationPaidEvent{
		ApplicationID: app.ID().String(),
		Name:          app.Name(),
		Surname:       app.Surname(),
		Email:         app.Email(),
		Nationality:   app.Nationality(),
		CardNumber:    app.CardNumber(),
		OccurredAt:    now,
	}, now)
}

// NewCardIssuedOutboxEntry creates an outbox entry for the issued event.
func NewCardIssuedOutboxEntry(app *Application, correlationID types.CorrelationID) (*OutboxEntry, error) {
	now := time.Now()
	return newOutboxEntry(EventTypeCardIssued, app, correlationID, CardIssuedEvent{
		ApplicationID: app.ID().String(),
		Name:          app.Name(),
		Email:         app.Email(),
		CardNumber:    app.CardNumber(),
		OccurredAt:    now,
	}, now)
}

// NewCardDeliveredOutboxEntry creates an outbox entry for the delivered event.
func NewCardDeliveredOutboxEntry(app *Application, correlationID types.CorrelationID) (*OutboxEntry, error) {
	now := time.Now()
	return newOutboxEntry(EventTypeCardDelivered, app, correlationID, CardDeliveredEvent{
		ApplicationID: app.ID().String(),
		CardNumber:    app.CardNumber(),
		OccurredAt:    now,
	}, now)
}

// NewPassBlacklistedOutboxEntry creates an outbox entry for the blacklist event.
func NewPassBlacklistedOutboxEntry(app *Application, correlationID types.CorrelationID) (*OutboxEntry, error) {
	now := time.Now()
	return newOutboxEntry(EventTypePassBlacklisted, app, correlationID, PassBlacklistedEvent{
		ApplicationID: app.ID().String(),
		Name:          app.Name(),
		Email:         app.Email(),
		OccurredAt:    now,
	}, now)
}
