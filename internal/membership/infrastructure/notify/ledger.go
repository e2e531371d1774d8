package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"membership/internal/common/logging"
	"membership/internal/membership/application"
)

// HTTPLedgerRecorder implements application.LedgerRecorder by posting
// issuance rows to the bookkeeping webhook (spreadsheet integration).
type HTTPLedgerRecorder struct {
	url        string
	httpClient *http.Client
}

// NewHTTPLedgerRecorder creates a recorder posting to the given URL.
func NewHTTPLedgerRecorder(url string) *HTTPLedgerRecorder {
	return &HTTPLedgerRecorder{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type ledgerRow struct {
	Date            string `json:"date"`
	Name            string `json:"name"`
	CardNumber      string `json:"card_number"`
	PointOfSale     string `json:"point_of_sale"`
	Nationality     string `json:"nationality"`
	MethodOfPayment string `json:"method_of_payment"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
}

// RecordIssuance appends one row to the external ledger.
func (r *HTTPLedgerRecorder) RecordIssuance(ctx context.Context, row application.IssuanceRow) error {
	payload, err := json.Marshal(ledgerRow{
		Date:            row.Date,
		Name:            row.Name,
		CardNumber:      row.CardNumber,
		PointOfSale:     row.PointOfSale,
		Nationality:     row.Nationality,
		MethodOfPayment: row.MethodOfPayment,
		Amount:          row.Amount.Amount.String(),
		Currency:        row.Amount.Currency,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting ledger row: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ledger returned status %d", resp.StatusCode)
	}
	return nil
}

// LogLedgerRecorder logs rows instead of recording them.
type LogLedgerRecorder struct{}

// RecordIssuance logs the row.
func (LogLedgerRecorder) RecordIssuance(ctx context.Context, row application.IssuanceRow) error {
	logging.InfoContext(ctx, "Ledger recording skipped (no ledger configured)",
		"card_number", row.CardNumber, "name", row.Name)
	return nil
}

// Verify interface implementations.
var (
	_ application.LedgerRecorder = (*HTTPLedgerRecorder)(nil)
	_ application.LedgerRecorder = LogLedgerRecorder{}
)
