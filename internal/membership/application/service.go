package application

import (
	"context"
	"time"

	"membership/internal/common/logging"
	"membership/internal/common/metrics"
	"membership/internal/common/types"
	"membership/internal/membership/domain"
)

// MembershipService is the status transition engine. Every state change of
// an application happens here, inside a single Atomic callback, so a claim
// from the card pool and the status write either both commit or both roll
// back. Side effects are appended to the outbox within the same transaction
// and dispatched after commit by the Publisher.
type MembershipService struct {
	dataStore domain.AtomicExecutor
	repos     domain.Repositories
	payments  PaymentProvider
	fee       types.Money
	clock     func() time.Time
}

// NewMembershipService creates a new MembershipService.
// The dataStore must implement both AtomicExecutor and Repositories.
func NewMembershipService(dataStore interface {
	domain.AtomicExecutor
	domain.Repositories
}, payments PaymentProvider, fee types.Money) *MembershipService {
	return &MembershipService{
		dataStore: dataStore,
		repos:     dataStore,
		payments:  payments,
		fee:       fee,
		clock:     time.Now,
	}
}

// CreateApplicationRequest carries the validated form fields.
type CreateApplicationRequest struct {
	Name          string
	Surname       string
	Email         string
	Nationality   string
	WantsCard     bool
	WantsPass     bool
	CorrelationID types.CorrelationID
}

// CreateApplicationResponse is returned after a successful submission.
type CreateApplicationResponse struct {
	ApplicationID string `json:"application_id"`
	Status        string `json:"status"`
}

// CreateApplication stores a new Pending application.
func (s *MembershipService) CreateApplication(ctx context.Context, req CreateApplicationRequest) (*CreateApplicationResponse, error) {
	app, err := domain.NewApplication(domain.NewApplicationParams{
		Name:        req.Name,
		Surname:     req.Surname,
		Email:       req.Email,
		Nationality: req.Nationality,
		WantsCard:   req.WantsCard,
		WantsPass:   req.WantsPass,
	}, s.clock())
	if err != nil {
		return nil, err
	}

	err = s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		return repos.Applications().Save(ctx, app)
	})
	if err != nil {
		return nil, err
	}

	logging.InfoContext(ctx, "Application created",
		"application_id", app.ID().String(),
		"wants_card", app.WantsCard(),
		"wants_pass", app.WantsPass(),
	)

	return &CreateApplicationResponse{
		ApplicationID: app.ID().String(),
		Status:        app.Status().String(),
	}, nil
}

// TransitionResponse is the common response for status transitions.
type TransitionResponse struct {
	ApplicationID string `json:"application_id"`
	Status        string `json:"status"`
	CardNumber    string `json:"card_number,omitempty"`
}

// Approve moves a Pending application to Approved. For pass applications a
// pass token is issued inside the transition; for card applications a
// payment link is generated after the transition committed and attached
// best-effort. Approval of a card application is refused while the pool is
// empty so applicants are never asked to pay for a card that cannot be
// assigned.
func (s *MembershipService) Approve(ctx context.Context, id domain.ApplicationID, correlationID types.CorrelationID) (*TransitionResponse, error) {
	var app *domain.Application

	err := s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		var err error
		app, err = repos.Applications().FindByID(ctx, id)
		if err != nil {
			return err
		}

		if app.WantsCard() {
			free, err := repos.Cards().Available(ctx)
			if err != nil {
				return err
			}
			if free == 0 {
				return domain.ErrPoolExhausted
			}
		}

		if err := app.Approve(s.clock()); err != nil {
			return err
		}
		return repos.Applications().Save(ctx, app)
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordTransition(domain.StatusApproved.String())

	// The payment link is an external call; it happens outside the
	// transaction so a provider outage cannot roll back the approval.
	if app.WantsCard() {
		link, err := s.payments.CreatePaymentLink(ctx, app, s.fee)
		if err != nil {
			logging.ErrorContext(ctx, "Failed to create payment link",
				"application_id", id.String(), "error", err)
		} else {
			app.AttachPaymentLink(link.ID, link.URL)
		}
	}

	err = s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		if app.PaymentLinkID() != "" {
			if err := repos.Applications().Save(ctx, app); err != nil {
				return err
			}
		}
		entry, err := domain.NewApplicationApprovedOutboxEntry(app, correlationID)
		if err != nil {
			return err
		}
		return repos.Outbox().Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	logging.InfoContext(ctx, "Application approved",
		"application_id", id.String(),
		"payment_link_id", app.PaymentLinkID(),
	)

	return &TransitionResponse{
		ApplicationID: app.ID().String(),
		Status:        app.Status().String(),
	}, nil
}

// Decline rejects a Pending application.
func (s *MembershipService) Decline(ctx context.Context, id domain.ApplicationID, correlationID types.CorrelationID) (*TransitionResponse, error) {
	return s.transition(ctx, id, domain.StatusDeclined.String(), func(app *domain.Application) error {
		return app.Decline()
	}, func(app *domain.Application) (*domain.OutboxEntry, error) {
		return domain.NewApplicationDeclinedOutboxEntry(app, correlationID)
	})
}

// MarkPaid applies a settled payment: it claims the lowest free card number
// from the pool and moves the application to Paid, all in one transaction.
// If the pool is exhausted the transaction rolls back and the application
// stays Approved for manual intervention.
func (s *MembershipService) MarkPaid(ctx context.Context, id domain.ApplicationID, correlationID types.CorrelationID) (*TransitionResponse, error) {
	var app *domain.Application

	err := s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		var err error
		app, err = repos.Applications().FindByID(ctx, id)
		if err != nil {
			return err
		}
		if !app.WantsCard() || app.Status() != domain.StatusApproved {
			return domain.ErrInvalidTransition
		}

		number, err := repos.Cards().ClaimNext(ctx)
		if err != nil {
			return err
		}
		if err := app.MarkPaid(number, s.clock()); err != nil {
			return err
		}
		if err := repos.Applications().Save(ctx, app); err != nil {
			return err
		}

		entry, err := domain.NewApplicationPaidOutboxEntry(app, correlationID)
		if err != nil {
			return err
		}
		return repos.Outbox().Append(ctx, entry)
	})
	if err != nil {
		if err == domain.ErrPoolExhausted {
			metrics.CardPoolExhaustedTotal.Inc()
			logging.WarnContext(ctx, "No free card numbers left to assign",
				"application_id", id.String())
		}
		return nil, err
	}

	metrics.CardClaimsTotal.Inc()
	metrics.RecordTransition(domain.StatusPaid.String())
	logging.InfoContext(ctx, "Application marked as Paid and assigned card number",
		"application_id", id.String(),
		"card_number", app.CardNumber(),
	)

	return &TransitionResponse{
		ApplicationID: app.ID().String(),
		Status:        app.Status().String(),
		CardNumber:    app.CardNumber(),
	}, nil
}

// Issue marks a paid card as handed to fulfillment.
func (s *MembershipService) Issue(ctx context.Context, id domain.ApplicationID, correlationID types.CorrelationID) (*TransitionResponse, error) {
	return s.transition(ctx, id, domain.StatusIssued.String(), func(app *domain.Application) error {
		return app.Issue()
	}, func(app *domain.Application) (*domain.OutboxEntry, error) {
		return domain.NewCardIssuedOutboxEntry(app, correlationID)
	})
}

// Deliver marks a card as handed over.
func (s *MembershipService) Deliver(ctx context.Context, id domain.ApplicationID, correlationID types.CorrelationID) (*TransitionResponse, error) {
	return s.transition(ctx, id, domain.StatusDelivered.String(), func(app *domain.Application) error {
		return app.Deliver()
	}, func(app *domain.Application) (*domain.OutboxEntry, error) {
		return domain.NewCardDeliveredOutboxEntry(app, correlationID)
	})
}

// Blacklist bans a pass-only application.
func (s *MembershipService) Blacklist(ctx context.Context, id domain.ApplicationID, correlationID types.CorrelationID) (*TransitionResponse, error) {
	return s.transition(ctx, id, domain.StatusBlacklisted.String(), func(app *domain.Application) error {
		return app.Blacklist()
	}, func(app *domain.Application) (*domain.OutboxEntry, error) {
		return domain.NewPassBlacklistedOutboxEntry(app, correlationID)
	})
}

// transition runs a guarded single-application transition plus its outbox
// append in one transaction.
func (s *MembershipService) transition(
	ctx context.Context,
	id domain.ApplicationID,
	target string,
	mutate func(app *domain.Application) error,
	event func(app *domain.Application) (*domain.OutboxEntry, error),
) (*TransitionResponse, error) {
	var app *domain.Application

	err := s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		var err error
		app, err = repos.Applications().FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := mutate(app); err != nil {
			return err
		}
		if err := repos.Applications().Save(ctx, app); err != nil {
			return err
		}
		entry, err := event(app)
		if err != nil {
			return err
		}
		return repos.Outbox().Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordTransition(target)
	logging.InfoContext(ctx, "Application transitioned",
		"application_id", id.String(),
		"status", app.Status().String(),
	)

	return &TransitionResponse{
		ApplicationID: app.ID().String(),
		Status:        app.Status().String(),
		CardNumber:    app.CardNumber(),
	}, nil
}

// ApplicationView is the read model returned to staff tooling.
type ApplicationView struct {
	ApplicationID  string     `json:"application_id"`
	Status         string     `json:"status"`
	WantsCard      bool       `json:"wants_card"`
	WantsPass      bool       `json:"wants_pass"`
	Name           string     `json:"name"`
	Surname        string     `json:"surname"`
	Email          string     `json:"email"`
	Nationality    string     `json:"nationality"`
	CardNumber     string     `json:"card_number,omitempty"`
	PassToken      string     `json:"pass_token,omitempty"`
	PaymentLinkURL string     `json:"payment_link_url,omitempty"`
	DateCreated    time.Time  `json:"date_created"`
	DateApproved   *time.Time `json:"date_approved,omitempty"`
	DatePaid       *time.Time `json:"date_paid,omitempty"`
	LastScannedAt  *time.Time `json:"last_scanned_at,omitempty"`
}

// GetApplication retrieves an application by ID.
// This is a read-only operation and doesn't use the Atomic pattern.
func (s *MembershipService) GetApplication(ctx context.Context, id domain.ApplicationID) (*ApplicationView, error) {
	app, err := s.repos.Applications().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return newApplicationView(app), nil
}

func newApplicationView(app *domain.Application) *ApplicationView {
	return &ApplicationView{
		ApplicationID:  app.ID().String(),
		Status:         app.Status().String(),
		WantsCard:      app.WantsCard(),
		WantsPass:      app.WantsPass(),
		Name:           app.Name(),
		Surname:        app.Surname(),
		Email:          app.Email(),
		Nationality:    app.Nationality(),
		CardNumber:     app.CardNumber(),
		PassToken:      app.PassToken(),
		PaymentLinkURL: app.PaymentLinkURL(),
		DateCreated:    app.DateCreated(),
		DateApproved:   app.DateApproved(),
		DatePaid:       app.DatePaid(),
		LastScannedAt:  app.LastScannedAt(),
	}
}
