package membership

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"membership/internal/common/types"
	"membership/internal/membership/application"
	"membership/internal/membership/domain"
	"membership/internal/membership/infrastructure/memory"
	"membership/internal/membership/infrastructure/stripe"
)

const webhookSecret = "whsec_feature_test"

type membershipState struct {
	ctx           context.Context
	correlationID types.CorrelationID
	dataStore     *memory.DataStore
	service       *application.MembershipService
	scans         *application.ScanService
	webhooks      *application.PaymentEventHandler

	applicationID  domain.ApplicationID
	lastError      error
	lastOutcome    application.Outcome
	lastScanResult string
}

type featurePayments struct{}

func (featurePayments) CreatePaymentLink(_ context.Context, app *domain.Application, _ types.Money) (application.PaymentLink, error) {
	id := "plink_" + app.ID().String()
	return application.PaymentLink{ID: id, URL: "https://pay.example.org/" + id}, nil
}

func (featurePayments) DeactivatePaymentLink(context.Context, string) error { return nil }

func InitializeMembershipScenario(sc *godog.ScenarioContext) {
	state := &membershipState{
		ctx:           context.Background(),
		correlationID: types.NewCorrelationID(),
	}

	sc.Step(`^a pool with card numbers "([^"]*)"$`, state.aPoolWithCardNumbers)
	sc.Step(`^a pool with no card numbers$`, state.aPoolWithNoCardNumbers)

	sc.Step(`^I submit an application for a (card|pass)$`, state.iSubmitAnApplication)
	sc.Step(`^I approve the application$`, state.iApproveTheApplication)
	sc.Step(`^I attempt to approve the application$`, state.iAttemptToApproveTheApplication)
	sc.Step(`^the application is blacklisted$`, state.theApplicationIsBlacklisted)

	sc.Step(`^a settled payment event arrives$`, state.aSettledPaymentEventArrives)
	sc.Step(`^the same payment event arrives again$`, state.aSettledPaymentEventArrives)

	sc.Step(`^the pass is scanned at the door$`, state.thePassIsScannedAtTheDoor)
	sc.Step(`^the card is scanned at the pickup desk$`, state.theCardIsScannedAtThePickupDesk)

	sc.Step(`^the application status should be "([^"]*)"$`, state.theApplicationStatusShouldBe)
	sc.Step(`^the application should have a pass token$`, state.theApplicationShouldHaveAPassToken)
	sc.Step(`^the application should have a payment link$`, state.theApplicationShouldHaveAPaymentLink)
	sc.Step(`^the application should hold card number "([^"]*)"$`, state.theApplicationShouldHoldCardNumber)
	sc.Step(`^the approval should be refused with error "([^"]*)"$`, state.theApprovalShouldBeRefusedWithError)
	sc.Step(`^the event outcome should be "([^"]*)"$`, state.theEventOutcomeShouldBe)
	sc.Step(`^the pool should have (\d+) free card numbers$`, state.thePoolShouldHaveFreeCardNumbers)
	sc.Step(`^the scan result should be "([^"]*)"$`, state.theScanResultShouldBe)
}

func (s *membershipState) setup(numbers []string) error {
	s.dataStore = memory.NewDataStore()

	fee, err := types.NewMoneyFromString("16.00", types.CurrencyEUR)
	if err != nil {
		return err
	}

	s.service = application.NewMembershipService(s.dataStore, featurePayments{}, fee)
	s.scans = application.NewScanService(s.dataStore)
	s.webhooks = application.NewPaymentEventHandler(
		stripe.NewSignatureVerifier(webhookSecret),
		memory.NewLocker(),
		s.service,
		featurePayments{},
		s.dataStore,
	)

	if len(numbers) == 0 {
		return nil
	}
	_, err = application.NewCardPoolService(s.dataStore).BulkAdd(s.ctx, numbers)
	return err
}

func (s *membershipState) aPoolWithCardNumbers(numbers string) error {
	return s.setup(strings.Split(numbers, ","))
}

func (s *membershipState) aPoolWithNoCardNumbers() error {
	return s.setup(nil)
}

func (s *membershipState) iSubmitAnApplication(kind string) error {
	resp, err := s.service.CreateApplication(s.ctx, application.CreateApplicationRequest{
		Name:          "Eleni",
		Surname:       "Georgiou",
		Email:         "eleni@example.org",
		Nationality:   "CY",
		WantsCard:     kind == "card",
		WantsPass:     kind == "pass",
		CorrelationID: s.correlationID,
	})
	if err != nil {
		return err
	}
	s.applicationID, err = domain.ParseApplicationID(resp.ApplicationID)
	return err
}

func (s *membershipState) iApproveTheApplication() error {
	_, err := s.service.Approve(s.ctx, s.applicationID, s.correlationID)
	return err
}

func (s *membershipState) iAttemptToApproveTheApplication() error {
	_, s.lastError = s.service.Approve(s.ctx, s.applicationID, s.correlationID)
	return nil
}

func (s *membershipState) theApplicationIsBlacklisted() error {
	_, err := s.service.Blacklist(s.ctx, s.applicationID, s.correlationID)
	return err
}

func (s *membershipState) aSettledPaymentEventArrives() error {
	payload := []byte(fmt.Sprintf(
		`{"type":"checkout.session.completed","data":{"object":{"metadata":{"application_id":%q}}}}`,
		s.applicationID.String(),
	))

	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	header := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	outcome, err := s.webhooks.HandleEvent(s.ctx, payload, header)
	if err != nil {
		return err
	}
	s.lastOutcome = outcome
	return nil
}

func (s *membershipState) thePassIsScannedAtTheDoor() error {
	app, err := s.dataStore.Applications().FindByID(s.ctx, s.applicationID)
	if err != nil {
		return err
	}
	result, err := s.scans.ValidatePass(s.ctx, app.PassToken())
	if err != nil {
		return err
	}
	s.lastScanResult = result.Result
	return nil
}

func (s *membershipState) theCardIsScannedAtThePickupDesk() error {
	app, err := s.dataStore.Applications().FindByID(s.ctx, s.applicationID)
	if err != nil {
		return err
	}
	_, err = s.scans.ScanCard(s.ctx, app.CardNumber(), s.correlationID)
	return err
}

func (s *membershipState) theApplicationStatusShouldBe(status string) error {
	app, err := s.dataStore.Applications().FindByID(s.ctx, s.applicationID)
	if err != nil {
		return err
	}
	if app.Status().String() != status {
		return fmt.Errorf("expected status %q, got %q", status, app.Status())
	}
	return nil
}

func (s *membershipState) theApplicationShouldHaveAPassToken() error {
	app, err := s.dataStore.Applications().FindByID(s.ctx, s.applicationID)
	if err != nil {
		return err
	}
	if app.PassToken() == "" {
		return errors.New("expected a pass token to be issued")
	}
	return nil
}

func (s *membershipState) theApplicationShouldHaveAPaymentLink() error {
	app, err := s.dataStore.Applications().FindByID(s.ctx, s.applicationID)
	if err != nil {
		return err
	}
	if app.PaymentLinkURL() == "" {
		return errors.New("expected a payment link to be attached")
	}
	return nil
}

func (s *membershipState) theApplicationShouldHoldCardNumber(number string) error {
	app, err := s.dataStore.Applications().FindByID(s.ctx, s.applicationID)
	if err != nil {
		return err
	}
	if app.CardNumber() != number {
		return fmt.Errorf("expected card number %q, got %q", number, app.CardNumber())
	}
	return nil
}

func (s *membershipState) theApprovalShouldBeRefusedWithError(errorMsg string) error {
	if s.lastError == nil {
		return errors.New("expected approval to be refused, but it succeeded")
	}
	if !strings.Contains(s.lastError.Error(), errorMsg) {
		return fmt.Errorf("expected error containing %q, got: %v", errorMsg, s.lastError)
	}
	return nil
}

func (s *membershipState) theEventOutcomeShouldBe(outcome string) error {
	if string(s.lastOutcome) != outcome {
		return fmt.Errorf("expected outcome %q, got %q", outcome, s.lastOutcome)
	}
	return nil
}

func (s *membershipState) thePoolShouldHaveFreeCardNumbers(count int) error {
	available, err := s.dataStore.Cards().Available(s.ctx)
	if err != nil {
		return err
	}
	if available != count {
		return fmt.Errorf("expected %d free card numbers, got %d", count, available)
	}
	return nil
}

func (s *membershipState) theScanResultShouldBe(result string) error {
	if s.lastScanResult != result {
		return fmt.Errorf("expected scan result %q, got %q", result, s.lastScanResult)
	}
	return nil
}
