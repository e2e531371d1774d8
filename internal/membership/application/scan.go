package application

import (
	"context"
	"errors"
	"time"

	"membership/internal/common/logging"
	"membership/internal/common/metrics"
	"membership/internal/common/types"
	"membership/internal/membership/domain"
)

// Scan results for door and desk devices. The scanner UI only switches on
// this value, so unknown tokens and banned passes collapse into "declined".
const (
	ScanResultApproved       = "approved"
	ScanResultAlreadyScanned = "already_scanned"
	ScanResultDeclined       = "declined"
)

// PassValidationResult is returned to the door scanner.
type PassValidationResult struct {
	Result        string     `json:"result"`
	Name          string     `json:"name,omitempty"`
	Surname       string     `json:"surname,omitempty"`
	LastScannedAt *time.Time `json:"last_scanned_at,omitempty"`
}

// CardScanResult is returned to the pickup desk when a card is scanned
// during handover.
type CardScanResult struct {
	ApplicationID    string `json:"application_id"`
	Name             string `json:"name"`
	Surname          string `json:"surname"`
	Email            string `json:"email"`
	CardNumber       string `json:"card_number"`
	Status           string `json:"status"`
	AlreadyDelivered bool   `json:"already_delivered"`
}

// ScanService handles the two scanner flows: pass validation at the door
// and card handover at the pickup desk.
type ScanService struct {
	dataStore domain.AtomicExecutor
	clock     func() time.Time
}

// NewScanService creates a new ScanService.
func NewScanService(dataStore domain.AtomicExecutor) *ScanService {
	return &ScanService{
		dataStore: dataStore,
		clock:     time.Now,
	}
}

// ValidatePass checks a scanned pass token and stamps the scan time. A pass
// admits once per throttle window; a repeat scan inside the window reports
// already_scanned without touching the stamp. Unknown, pending, declined and
// blacklisted passes all read as declined.
func (s *ScanService) ValidatePass(ctx context.Context, token string) (*PassValidationResult, error) {
	result := &PassValidationResult{Result: ScanResultDeclined}

	err := s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		app, err := repos.Applications().FindByPassToken(ctx, token)
		if errors.Is(err, domain.ErrApplicationNotFound) {
			logging.WarnContext(ctx, "Unknown pass token scanned")
			return nil
		}
		if err != nil {
			return err
		}

		result.Name = app.Name()
		result.Surname = app.Surname()
		result.LastScannedAt = app.LastScannedAt()

		switch err := app.RecordPassScan(s.clock()); {
		case errors.Is(err, domain.ErrAlreadyScanned):
			result.Result = ScanResultAlreadyScanned
			return nil
		case errors.Is(err, domain.ErrPassNotEnabled):
			return nil
		case err != nil:
			return err
		}

		result.Result = ScanResultApproved
		result.LastScannedAt = app.LastScannedAt()
		return repos.Applications().Save(ctx, app)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordScan("pass", result.Result)
	return result, nil
}

// ScanCard looks up the holder of a scanned card and marks the card as
// delivered. Scanning an already delivered card is informational only and
// does not fail.
func (s *ScanService) ScanCard(ctx context.Context, number string, correlationID types.CorrelationID) (*CardScanResult, error) {
	var result *CardScanResult

	err := s.dataStore.Atomic(ctx, func(repos domain.Repositories) error {
		app, err := repos.Applications().FindByCardNumber(ctx, number)
		if err != nil {
			return err
		}

		result = &CardScanResult{
			ApplicationID: app.ID().String(),
			Name:          app.Name(),
			Surname:       app.Surname(),
			Email:         app.Email(),
			CardNumber:    app.CardNumber(),
		}

		if app.Status() == domain.StatusDelivered {
			result.Status = app.Status().String()
			result.AlreadyDelivered = true
			return nil
		}

		if err := app.Deliver(); err != nil {
			return err
		}
		if err := repos.Applications().Save(ctx, app); err != nil {
			return err
		}
		result.Status = app.Status().String()

		entry, err := domain.NewCardDeliveredOutboxEntry(app, correlationID)
		if err != nil {
			return err
		}
		return repos.Outbox().Append(ctx, entry)
	})
	if err != nil {
		metrics.RecordScan("card", ScanResultDeclined)
		return nil, err
	}

	if result.AlreadyDelivered {
		metrics.RecordScan("card", ScanResultAlreadyScanned)
		logging.InfoContext(ctx, "Card scanned after delivery",
			"card_number", number)
	} else {
		metrics.RecordScan("card", ScanResultApproved)
		metrics.RecordTransition(domain.StatusDelivered.String())
		logging.InfoContext(ctx, "Card delivered at pickup",
			"application_id", result.ApplicationID,
			"card_number", number)
	}

	return result, nil
}
