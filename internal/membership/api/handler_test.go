package api_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"membership/internal/common/types"
	"membership/internal/membership/api"
	"membership/internal/membership/application"
	"membership/internal/membership/domain"
	"membership/internal/membership/infrastructure/memory"
	"membership/internal/membership/infrastructure/stripe"
)

const webhookSecret = "whsec_handler_test"

// HandlerSuite exercises the HTTP surface end to end against the in-memory
// datastore, including the error-to-status mapping.
type HandlerSuite struct {
	suite.Suite
	mux      *http.ServeMux
	payments *recordingPayments
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

type recordingPayments struct {
	created     int
	deactivated []string
}

func (p *recordingPayments) CreatePaymentLink(_ context.Context, _ *domain.Application, _ types.Money) (application.PaymentLink, error) {
	p.created++
	id := fmt.Sprintf("plink_%d", p.created)
	return application.PaymentLink{ID: id, URL: "https://pay.example.org/" + id}, nil
}

func (p *recordingPayments) DeactivatePaymentLink(_ context.Context, linkID string) error {
	p.deactivated = append(p.deactivated, linkID)
	return nil
}

func (s *HandlerSuite) SetupTest() {
	dataStore := memory.NewDataStore()
	s.payments = &recordingPayments{}

	fee, err := types.NewMoneyFromString("16.00", types.CurrencyEUR)
	s.Require().NoError(err)

	service := application.NewMembershipService(dataStore, s.payments, fee)
	cards := application.NewCardPoolService(dataStore)
	scans := application.NewScanService(dataStore)
	webhooks := application.NewPaymentEventHandler(
		stripe.NewSignatureVerifier(webhookSecret),
		memory.NewLocker(),
		service,
		s.payments,
		dataStore,
	)

	s.mux = http.NewServeMux()
	api.NewHandler(service, cards, scans, webhooks).RegisterRoutes(s.mux)
}

func (s *HandlerSuite) doRequest(method, path string, body any) *httptest.ResponseRecorder {
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		jsonBody, err := json.Marshal(body)
		s.Require().NoError(err)
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) createApplication(wantsCard, wantsPass bool) string {
	rec := s.doRequest(http.MethodPost, "/applications", map[string]any{
		"name": "Eleni", "surname": "Georgiou", "email": "eleni@example.org",
		"nationality": "CY", "wants_card": wantsCard, "wants_pass": wantsPass,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ApplicationID string `json:"application_id"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.ApplicationID
}

func (s *HandlerSuite) loadPool(numbers ...string) {
	rec := s.doRequest(http.MethodPost, "/cards", map[string]any{"numbers": numbers})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
}

// signedWebhook posts the payload with a valid provider signature.
func (s *HandlerSuite) signedWebhook(payload []byte) *httptest.ResponseRecorder {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func paymentCompletedEvent(applicationID string) []byte {
	return []byte(fmt.Sprintf(
		`{"type":"checkout.session.completed","data":{"object":{"payment_link":"plink_1","metadata":{"application_id":%q}}}}`,
		applicationID,
	))
}

func (s *HandlerSuite) TestApplicationLifecycle() {
	s.Run("invalid form returns 400", func() {
		rec := s.doRequest(http.MethodPost, "/applications", map[string]any{
			"name": "Eleni", "surname": "Georgiou", "email": "not-an-email", "wants_pass": true,
		})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("wanting nothing returns 400", func() {
		rec := s.doRequest(http.MethodPost, "/applications", map[string]any{
			"name": "Eleni", "surname": "Georgiou", "email": "eleni@example.org",
		})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("unknown application returns 404", func() {
		rec := s.doRequest(http.MethodGet, "/applications/00000000-0000-0000-0000-000000000000", nil)
		s.Equal(http.StatusNotFound, rec.Code)
	})

	s.Run("malformed application id returns 400", func() {
		rec := s.doRequest(http.MethodGet, "/applications/not-a-uuid", nil)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("approving a card application with an empty pool returns 409", func() {
		id := s.createApplication(true, false)
		rec := s.doRequest(http.MethodPost, "/applications/"+id+"/approve", nil)
		s.Equal(http.StatusConflict, rec.Code)
		s.Contains(rec.Body.String(), "no free card numbers")
	})

	s.Run("submit, approve and fetch", func() {
		s.loadPool("1234567ABCA")
		id := s.createApplication(true, false)

		rec := s.doRequest(http.MethodPost, "/applications/"+id+"/approve", nil)
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

		rec = s.doRequest(http.MethodGet, "/applications/"+id, nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"status":"Approved"`)
		s.Contains(rec.Body.String(), "https://pay.example.org/")
	})

	s.Run("double approval returns 409", func() {
		id := s.createApplication(false, true)
		rec := s.doRequest(http.MethodPost, "/applications/"+id+"/approve", nil)
		s.Require().Equal(http.StatusOK, rec.Code)

		rec = s.doRequest(http.MethodPost, "/applications/"+id+"/approve", nil)
		s.Equal(http.StatusConflict, rec.Code)
		s.Contains(rec.Body.String(), "invalid status transition")
	})
}

func (s *HandlerSuite) TestPaymentWebhook() {
	s.Run("valid event claims a card and returns 200", func() {
		s.loadPool("1234567ABCA")
		id := s.createApplication(true, false)
		s.Require().Equal(http.StatusOK, s.doRequest(http.MethodPost, "/applications/"+id+"/approve", nil).Code)

		rec := s.signedWebhook(paymentCompletedEvent(id))
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		s.Contains(rec.Body.String(), `"outcome":"processed"`)

		rec = s.doRequest(http.MethodGet, "/applications/"+id, nil)
		s.Contains(rec.Body.String(), `"status":"Paid"`)
		s.Contains(rec.Body.String(), `"card_number":"1234567ABCA"`)
	})

	s.Run("replayed event returns 200 with already_processed", func() {
		s.loadPool("1234567ABCB")
		id := s.createApplication(true, false)
		s.Require().Equal(http.StatusOK, s.doRequest(http.MethodPost, "/applications/"+id+"/approve", nil).Code)

		s.Require().Equal(http.StatusOK, s.signedWebhook(paymentCompletedEvent(id)).Code)
		rec := s.signedWebhook(paymentCompletedEvent(id))
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"outcome":"already_processed"`)
	})

	s.Run("bad signature returns 400", func() {
		payload := paymentCompletedEvent(s.createApplication(true, false))
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(payload))
		req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
		rec := httptest.NewRecorder()
		s.mux.ServeHTTP(rec, req)
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Contains(rec.Body.String(), "invalid signature")
	})

	s.Run("unrelated event type returns 200 ignored", func() {
		rec := s.signedWebhook([]byte(`{"type":"invoice.created","data":{"object":{}}}`))
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"outcome":"ignored"`)
	})

	s.Run("unknown application returns 200 not_found", func() {
		rec := s.signedWebhook(paymentCompletedEvent("00000000-0000-0000-0000-000000000000"))
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"outcome":"not_found"`)
	})
}

func (s *HandlerSuite) TestScanEndpoints() {
	s.Run("pass validation flow", func() {
		id := s.createApplication(false, true)
		s.Require().Equal(http.StatusOK, s.doRequest(http.MethodPost, "/applications/"+id+"/approve", nil).Code)

		rec := s.doRequest(http.MethodGet, "/applications/"+id, nil)
		var view struct {
			PassToken string `json:"pass_token"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &view))
		s.Require().NotEmpty(view.PassToken)

		rec = s.doRequest(http.MethodGet, "/validate/"+view.PassToken, nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"result":"approved"`)

		rec = s.doRequest(http.MethodGet, "/validate/"+view.PassToken, nil)
		s.Contains(rec.Body.String(), `"result":"already_scanned"`)

		rec = s.doRequest(http.MethodGet, "/validate/pass-unknown", nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"result":"declined"`)
	})

	s.Run("card scan delivers the card", func() {
		s.loadPool("1234567ABCC")
		id := s.createApplication(true, false)
		s.Require().Equal(http.StatusOK, s.doRequest(http.MethodPost, "/applications/"+id+"/approve", nil).Code)
		s.Require().Equal(http.StatusOK, s.signedWebhook(paymentCompletedEvent(id)).Code)

		rec := s.doRequest(http.MethodPost, "/scan", map[string]any{"card_number": "1234567ABCC"})
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
		s.Contains(rec.Body.String(), `"status":"Delivered"`)
		s.Contains(rec.Body.String(), `"already_delivered":false`)

		rec = s.doRequest(http.MethodPost, "/scan", map[string]any{"card_number": "1234567ABCC"})
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"already_delivered":true`)
	})

	s.Run("unknown card returns 404", func() {
		rec := s.doRequest(http.MethodPost, "/scan", map[string]any{"card_number": "0000000XXXX"})
		s.Equal(http.StatusNotFound, rec.Code)
	})

	s.Run("missing card number returns 400", func() {
		rec := s.doRequest(http.MethodPost, "/scan", map[string]any{})
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestCardPoolEndpoints() {
	s.Run("bulk add reports duplicates", func() {
		s.loadPool("1234567ABCA")
		rec := s.doRequest(http.MethodPost, "/cards", map[string]any{
			"numbers": []string{"1234567ABCA", "1234567ABCB"},
		})
		s.Require().Equal(http.StatusCreated, rec.Code)
		s.Contains(rec.Body.String(), `"inserted":1`)
		s.Contains(rec.Body.String(), `"1234567ABCA"`)
	})

	s.Run("malformed number rejects the batch", func() {
		rec := s.doRequest(http.MethodPost, "/cards", map[string]any{
			"numbers": []string{"nope"},
		})
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Contains(rec.Body.String(), "invalid card number format")
	})

	s.Run("empty batch returns 400", func() {
		rec := s.doRequest(http.MethodPost, "/cards", map[string]any{"numbers": []string{}})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("list, update, release, delete", func() {
		rec := s.doRequest(http.MethodGet, "/cards", nil)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"available":2`)

		rec = s.doRequest(http.MethodPatch, "/cards/1234567ABCA", map[string]any{"number": "1234567ABCZ"})
		s.Equal(http.StatusNoContent, rec.Code)

		rec = s.doRequest(http.MethodPatch, "/cards/1234567ABCZ", map[string]any{"number": "1234567ABCB"})
		s.Equal(http.StatusConflict, rec.Code)

		rec = s.doRequest(http.MethodPost, "/cards/1234567ABCZ/release", nil)
		s.Equal(http.StatusNoContent, rec.Code)

		rec = s.doRequest(http.MethodDelete, "/cards/1234567ABCB", nil)
		s.Equal(http.StatusNoContent, rec.Code)

		rec = s.doRequest(http.MethodDelete, "/cards/1234567ABCB", nil)
		s.Equal(http.StatusNotFound, rec.Code)
	})
}
