package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"membership/internal/common/types"
	"membership/internal/membership/application"
	"membership/internal/membership/domain"
)

// Client implements application.PaymentProvider against the payment
// provider's form-encoded REST API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new payment API client.
func NewClient(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type paymentLinkResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreatePaymentLink creates a single-use payment link for the membership
// fee. The application ID rides along as metadata so the completion webhook
// can find its way back.
func (c *Client) CreatePaymentLink(ctx context.Context, app *domain.Application, fee types.Money) (application.PaymentLink, error) {
	form := url.Values{}
	form.Set("line_items[0][price_data][currency]", strings.ToLower(fee.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(fee.MinorUnits(), 10))
	form.Set("line_items[0][price_data][product_data][name]", "Membership card")
	form.Set("line_items[0][quantity]", "1")
	form.Set("metadata[application_id]", app.ID().String())

	var link paymentLinkResponse
	if err := c.post(ctx, "/v1/payment_links", form, &link); err != nil {
		return application.PaymentLink{}, fmt.Errorf("creating payment link: %w", err)
	}
	return application.PaymentLink{ID: link.ID, URL: link.URL}, nil
}

// DeactivatePaymentLink disables a payment link so it cannot be paid twice.
// Deactivating an already inactive link succeeds on the provider side.
func (c *Client) DeactivatePaymentLink(ctx context.Context, linkID string) error {
	form := url.Values{}
	form.Set("active", "false")

	if err := c.post(ctx, "/v1/payment_links/"+url.PathEscape(linkID), form, nil); err != nil {
		return fmt.Errorf("deactivating payment link %s: %w", linkID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("payment API %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("payment API returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// Verify interface implementation.
var _ application.PaymentProvider = (*Client)(nil)
