package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"membership/internal/common/types"
	"membership/internal/membership/application"
	"membership/internal/membership/domain"
)

func testFee() types.Money {
	fee, err := types.NewMoneyFromString("16.00", types.CurrencyEUR)
	if err != nil {
		panic(err)
	}
	return fee
}

// fakePayments records created and deactivated payment links.
type fakePayments struct {
	mu          sync.Mutex
	created     int
	deactivated []string
	failCreate  bool
}

func (f *fakePayments) CreatePaymentLink(ctx context.Context, app *domain.Application, fee types.Money) (application.PaymentLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return application.PaymentLink{}, errors.New("payment provider unavailable")
	}
	f.created++
	id := fmt.Sprintf("plink_%d", f.created)
	return application.PaymentLink{ID: id, URL: "https://pay.example.org/" + id}, nil
}

func (f *fakePayments) DeactivatePaymentLink(ctx context.Context, linkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated = append(f.deactivated, linkID)
	return nil
}

// acceptAllVerifier accepts any payload whose header is non-empty.
type acceptAllVerifier struct{}

func (acceptAllVerifier) Verify(payload []byte, sigHeader string) error {
	if sigHeader == "" {
		return errors.New("missing signature header")
	}
	return nil
}

type sentMail struct {
	To       string
	Template string
	Params   map[string]string
}

// fakeMailer records sent mails.
type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail bool
}

func (f *fakeMailer) Send(ctx context.Context, to, templateKey string, params map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("mail relay down")
	}
	f.sent = append(f.sent, sentMail{To: to, Template: templateKey, Params: params})
	return nil
}

func (f *fakeMailer) sentMails() []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMail(nil), f.sent...)
}

// fakeWallet returns deterministic links.
type fakeWallet struct{}

func (fakeWallet) CardWalletLink(ctx context.Context, applicationID, cardNumber string) (string, error) {
	return "https://wallet.example.org/card/" + cardNumber, nil
}

func (fakeWallet) PassWalletLink(ctx context.Context, applicationID, passToken string) (string, error) {
	return "https://wallet.example.org/pass/" + passToken, nil
}

// fakeLedger records issuance rows.
type fakeLedger struct {
	mu   sync.Mutex
	rows []application.IssuanceRow
}

func (f *fakeLedger) RecordIssuance(ctx context.Context, row application.IssuanceRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeLedger) recorded() []application.IssuanceRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]application.IssuanceRow(nil), f.rows...)
}
