package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"membership/internal/membership/domain"
)

// ApplicationRepository implements domain.ApplicationRepository using PostgreSQL.
type ApplicationRepository struct {
	db Executor
}

// NewApplicationRepository creates a new ApplicationRepository.
func NewApplicationRepository(db Executor) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

const applicationColumns = `
	id, status, wants_card, wants_pass,
	name, surname, email, nationality,
	card_number, pass_token,
	payment_link_id, payment_link_url,
	date_created, date_approved, date_paid, last_scanned_at,
	version`

// Save persists an application to the database.
// Uses optimistic locking via version column to prevent concurrent modification conflicts.
func (r *ApplicationRepository) Save(ctx context.Context, app *domain.Application) error {
	var existingVersion int
	err := r.db.QueryRow(ctx,
		`SELECT version FROM membership.applications WHERE id = $1`,
		app.ID().String(),
	).Scan(&existingVersion)

	if errors.Is(err, pgx.ErrNoRows) {
		_, err = r.db.Exec(ctx, `
			INSERT INTO membership.applications (
				id, status, wants_card, wants_pass,
				name, surname, email, nationality,
				card_number, pass_token,
				payment_link_id, payment_link_url,
				date_created, date_approved, date_paid, last_scanned_at,
				version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
			app.ID().String(),
			app.Status().String(),
			app.WantsCard(),
			app.WantsPass(),
			app.Name(),
			app.Surname(),
			app.Email(),
			app.Nationality(),
			nullableString(app.CardNumber()),
			nullableString(app.PassToken()),
			nullableString(app.PaymentLinkID()),
			nullableString(app.PaymentLinkURL()),
			app.DateCreated(),
			app.DateApproved(),
			app.DatePaid(),
			app.LastScannedAt(),
			app.Version(),
		)
		return err
	}
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE membership.applications
		SET status = $1,
			card_number = $2,
			pass_token = $3,
			payment_link_id = $4,
			payment_link_url = $5,
			date_approved = $6,
			date_paid = $7,
			last_scanned_at = $8,
			version = $9
		WHERE id = $10 AND version = $11`,
		app.Status().String(),
		nullableString(app.CardNumber()),
		nullableString(app.PassToken()),
		nullableString(app.PaymentLinkID()),
		nullableString(app.PaymentLinkURL()),
		app.DateApproved(),
		app.DatePaid(),
		app.LastScannedAt(),
		app.Version(),
		app.ID().String(),
		existingVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

// FindByID retrieves an application by ID.
func (r *ApplicationRepository) FindByID(ctx context.Context, id domain.ApplicationID) (*domain.Application, error) {
	return r.findOne(ctx,
		`SELECT `+applicationColumns+` FROM membership.applications WHERE id = $1`,
		id.String(),
	)
}

// FindByCardNumber retrieves the application holding a claimed card number.
func (r *ApplicationRepository) FindByCardNumber(ctx context.Context, number string) (*domain.Application, error) {
	return r.findOne(ctx,
		`SELECT `+applicationColumns+` FROM membership.applications WHERE card_number = $1`,
		number,
	)
}

// FindByPassToken retrieves the application owning a pass token.
func (r *ApplicationRepository) FindByPassToken(ctx context.Context, token string) (*domain.Application, error) {
	return r.findOne(ctx,
		`SELECT `+applicationColumns+` FROM membership.applications WHERE pass_token = $1`,
		token,
	)
}

// Delete removes an application row. The claimed pool entry stays assigned.
func (r *ApplicationRepository) Delete(ctx context.Context, id domain.ApplicationID) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM membership.applications WHERE id = $1`,
		id.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrApplicationNotFound
	}
	return nil
}

func (r *ApplicationRepository) findOne(ctx context.Context, query string, args ...any) (*domain.Application, error) {
	var (
		id             string
		status         string
		wantsCard      bool
		wantsPass      bool
		name           string
		surname        string
		email          string
		nationality    string
		cardNumber     *string
		passToken      *string
		paymentLinkID  *string
		paymentLinkURL *string
		dateCreated    time.Time
		dateApproved   *time.Time
		datePaid       *time.Time
		lastScannedAt  *time.Time
		version        int
	)

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&id, &status, &wantsCard, &wantsPass,
		&name, &surname, &email, &nationality,
		&cardNumber, &passToken,
		&paymentLinkID, &paymentLinkURL,
		&dateCreated, &dateApproved, &datePaid, &lastScannedAt,
		&version,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrApplicationNotFound
	}
	if err != nil {
		return nil, err
	}

	parsedID, err := domain.ParseApplicationID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid application id: %v", domain.ErrCorruptData, err)
	}
	parsedStatus, err := domain.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid status %q", domain.ErrCorruptData, status)
	}

	return domain.ReconstructApplication(domain.ReconstructedApplication{
		ID:             parsedID,
		Status:         parsedStatus,
		WantsCard:      wantsCard,
		WantsPass:      wantsPass,
		Name:           name,
		Surname:        surname,
		Email:          email,
		Nationality:    nationality,
		CardNumber:     stringFromNullable(cardNumber),
		PassToken:      stringFromNullable(passToken),
		PaymentLinkID:  stringFromNullable(paymentLinkID),
		PaymentLinkURL: stringFromNullable(paymentLinkURL),
		DateCreated:    dateCreated,
		DateApproved:   dateApproved,
		DatePaid:       datePaid,
		LastScannedAt:  lastScannedAt,
		Version:        version,
	}), nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringFromNullable(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Verify interface implementation.
var _ domain.ApplicationRepository = (*ApplicationRepository)(nil)
