package domain

import (
	"regexp"
	"time"
)

// ScanWindow is the rolling interval during which a pass may be
// approved for physical access at most once.
const ScanWindow = 24 * time.Hour

var cardNumberPattern = regexp.MustCompile(`^\d{7}[A-Z]{3}[A-Z0-9]$`)

// ValidCardNumber reports whether s has the membership card number format.
func ValidCardNumber(s string) bool {
	return cardNumberPattern.MatchString(s)
}

// Application represents one person's membership request (aggregate root).
// Invariants:
//   - cardNumber is set iff status is Paid or later and the card was requested
//   - status only moves forward along the transition graph, never backward
//   - stage timestamps are monotonic: dateApproved >= dateCreated, datePaid >= dateApproved
type Application struct {
	id          ApplicationID
	status      Status
	wantsCard   bool
	wantsPass   bool
	name        string
	surname     string
	email       string
	nationality string

	cardNumber     string
	passToken      string
	paymentLinkID  string
	paymentLinkURL string

	dateCreated   time.Time
	dateApproved  *time.Time
	datePaid      *time.Time
	lastScannedAt *time.Time

	version int
}

// NewApplicationParams carries the validated form fields for a new application.
// The form/storage layer is responsible for field-level validation; the
// aggregate only enforces its own invariants.
type NewApplicationParams struct {
	Name        string
	Surname     string
	Email       string
	Nationality string
	WantsCard   bool
	WantsPass   bool
}

// NewApplication creates a Pending application.
// The now parameter makes the function pure and testable.
func NewApplication(p NewApplicationParams, now time.Time) (*Application, error) {
	if !p.WantsCard && !p.WantsPass {
		return nil, ErrNothingRequested
	}
	return &Application{
		id:          NewApplicationID(),
		status:      StatusPending,
		wantsCard:   p.WantsCard,
		wantsPass:   p.WantsPass,
		name:        p.Name,
		surname:     p.Surname,
		email:       p.Email,
		nationality: p.Nationality,
		dateCreated: now,
		version:     1,
	}, nil
}

// ReconstructedApplication carries persisted state for rehydration.
type ReconstructedApplication struct {
	ID             ApplicationID
	Status         Status
	WantsCard      bool
	WantsPass      bool
	Name           string
	Surname        string
	Email          string
	Nationality    string
	CardNumber     string
	PassToken      string
	PaymentLinkID  string
	PaymentLinkURL string
	DateCreated    time.Time
	DateApproved   *time.Time
	DatePaid       *time.Time
	LastScannedAt  *time.Time
	Version        int
}

// ReconstructApplication rehydrates an Application from persistence.
// This bypasses validation - only use for loading from database.
func ReconstructApplication(r ReconstructedApplication) *Application {
	return &Application{
		id:             r.ID,
		status:         r.Status,
		wantsCard:      r.WantsCard,
		wantsPass:      r.WantsPass,
		name:           r.Name,
		surname:        r.Surname,
		email:          r.Email,
		nationality:    r.Nationality,
		cardNumber:     r.CardNumber,
		passToken:      r.PassToken,
		paymentLinkID:  r.PaymentLinkID,
		paymentLinkURL: r.PaymentLinkURL,
		dateCreated:    r.DateCreated,
		dateApproved:   r.DateApproved,
		datePaid:       r.DatePaid,
		lastScannedAt:  r.LastScannedAt,
		version:        r.Version,
	}
}

// Approve moves a Pending application to Approved and, when a pass was
// requested, issues the pass token. Card payment collection happens after
// the transition commits.
func (a *Application) Approve(now time.Time) error {
	if a.status != StatusPending {
		return ErrInvalidTransition
	}
	a.status = StatusApproved
	if a.wantsPass && a.passToken == "" {
		a.passToken = NewPassToken()
	}
	at := laterOf(now, a.dateCreated)
	a.dateApproved = &at
	a.touch()
	return nil
}

// Decline rejects a Pending application.
func (a *Application) Decline() error {
	if a.status != StatusPending {
		return ErrInvalidTransition
	}
	a.status = StatusDeclined
	a.touch()
	return nil
}

// MarkPaid records the settled payment and the claimed card number.
// Only card applications in Approved state may be paid; the caller claims
// the card number from the pool inside the same transaction.
func (a *Application) MarkPaid(cardNumber string, now time.Time) error {
	if a.status != StatusApproved || !a.wantsCard {
		return ErrInvalidTransition
	}
	if cardNumber == "" {
		return ErrCardNotFound
	}
	a.status = StatusPaid
	a.cardNumber = cardNumber
	floor := a.dateCreated
	if a.dateApproved != nil {
		floor = *a.dateApproved
	}
	at := laterOf(now, floor)
	a.datePaid = &at
	a.touch()
	return nil
}

// Issue marks a paid card as physically handed to fulfillment.
func (a *Application) Issue() error {
	if a.status != StatusPaid || !a.wantsCard {
		return ErrInvalidTransition
	}
	a.status = StatusIssued
	a.touch()
	return nil
}

// Deliver marks the card or pass as handed over. Reachable from Issued, and
// directly from Paid for in-person scan handover. A card application must
// hold a claimed card number before it can be delivered, so Approved only
// reaches Delivered for pass-only applications.
func (a *Application) Deliver() error {
	switch a.status {
	case StatusApproved, StatusPaid, StatusIssued:
		if a.wantsCard && a.cardNumber == "" {
			return ErrInvalidTransition
		}
		a.status = StatusDelivered
		a.touch()
		return nil
	}
	return ErrInvalidTransition
}

// Blacklist bans a pass-only application. Card applications cannot be
// blacklisted through this action.
func (a *Application) Blacklist() error {
	if a.wantsCard {
		return ErrInvalidTransition
	}
	if a.status != StatusPending && a.status != StatusApproved {
		return ErrInvalidTransition
	}
	a.status = StatusBlacklisted
	a.touch()
	return nil
}

// RecordPassScan registers a physical-access validation of the pass token.
// A pass may be approved at most once per ScanWindow; a scan inside the
// window returns ErrAlreadyScanned and leaves the timestamp untouched.
func (a *Application) RecordPassScan(now time.Time) error {
	if !a.wantsPass || a.passToken == "" {
		return ErrPassNotEnabled
	}
	switch a.status {
	case StatusApproved, StatusPaid, StatusIssued, StatusDelivered:
	default:
		return ErrPassNotEnabled
	}
	if a.lastScannedAt != nil && now.Sub(*a.lastScannedAt) < ScanWindow {
		return ErrAlreadyScanned
	}
	at := now
	a.lastScannedAt = &at
	a.touch()
	return nil
}

// AttachPaymentLink stores the external payment link reference created
// after approval. It is recorded once and used later to deactivate the link.
func (a *Application) AttachPaymentLink(linkID, linkURL string) {
	a.paymentLinkID = linkID
	a.paymentLinkURL = linkURL
	a.touch()
}

// PaymentSettled reports whether a payment-completion event for this
// application has already been fully applied: the status reached Paid and,
// when a card was requested, a card number was claimed. Pass-only
// applications settle on status alone; their card number stays empty.
func (a *Application) PaymentSettled() bool {
	if !a.status.settled() {
		return false
	}
	if a.wantsCard && a.cardNumber == "" {
		return false
	}
	return true
}

func (a *Application) touch() {
	a.version++
}

func laterOf(t, floor time.Time) time.Time {
	if t.Before(floor) {
		return floor
	}
	return t
}

// Getters

func (a *Application) ID() ApplicationID        { return a.id }
func (a *Application) Status() Status           { return a.status }
func (a *Application) WantsCard() bool          { return a.wantsCard }
func (a *Application) WantsPass() bool          { return a.wantsPass }
func (a *Application) Name() string             { return a.name }
func (a *Application) Surname() string          { return a.surname }
func (a *Application) Email() string            { return a.email }
func (a *Application) Nationality() string      { return a.nationality }
func (a *Application) CardNumber() string       { return a.cardNumber }
func (a *Application) PassToken() string        { return a.passToken }
func (a *Application) PaymentLinkID() string    { return a.paymentLinkID }
func (a *Application) PaymentLinkURL() string   { return a.paymentLinkURL }
func (a *Application) DateCreated() time.Time   { return a.dateCreated }
func (a *Application) DateApproved() *time.Time { return a.dateApproved }
func (a *Application) DatePaid() *time.Time     { return a.datePaid }
func (a *Application) LastScannedAt() *time.Time { return a.lastScannedAt }
func (a *Application) Version() int             { return a.version }
