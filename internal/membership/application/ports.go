package application

import (
	"context"
	"errors"

	"membership/internal/common/types"
	"membership/internal/membership/domain"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// SignatureVerifier checks the authenticity of an inbound webhook payload.
type SignatureVerifier interface {
	// Verify returns ErrInvalidSignature when the signature header does not
	// match the payload.
	Verify(payload []byte, sigHeader string) error
}

// PaymentLink is an external payment request created for an approved
// card application.
type PaymentLink struct {
	ID  string
	URL string
}

// PaymentProvider is the outbound port to the payment processor.
type PaymentProvider interface {
	// CreatePaymentLink creates a one-off payment request for the
	// membership fee.
	CreatePaymentLink(ctx context.Context, app *domain.Application, fee types.Money) (PaymentLink, error)
	// DeactivatePaymentLink disables a link after the payment settled.
	// Idempotent on the provider side.
	DeactivatePaymentLink(ctx context.Context, linkID string) error
}

// Mailer sends templated notification emails. Fire-and-forget: failures
// are logged by callers and never fail a transition.
type Mailer interface {
	Send(ctx context.Context, to, templateKey string, params map[string]string) error
}

// WalletService builds mobile-wallet links for issued credentials.
// Both links are optional; failures degrade to an empty link.
type WalletService interface {
	CardWalletLink(ctx context.Context, applicationID, cardNumber string) (string, error)
	PassWalletLink(ctx context.Context, applicationID, passToken string) (string, error)
}

// IssuanceRow is one row recorded in the external issuance ledger
// (spreadsheet/ticketing systems).
type IssuanceRow struct {
	Date            string
	Name            string
	CardNumber      string
	PointOfSale     string
	Nationality     string
	MethodOfPayment string
	Amount          types.Money
}

// LedgerRecorder records issued memberships in external bookkeeping.
type LedgerRecorder interface {
	RecordIssuance(ctx context.Context, row IssuanceRow) error
}
