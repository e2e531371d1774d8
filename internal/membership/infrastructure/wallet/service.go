package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"membership/internal/membership/application"
)

// cacheSize bounds the number of generated links kept in memory. Links are
// deterministic per credential, so re-requesting one on a mail retry should
// not hit the wallet backend again.
const cacheSize = 1024

// Service builds mobile-wallet save links by asking the wallet backend to
// mint a signed pass object. A missing base URL disables the corresponding
// link kind; callers receive an empty string and degrade gracefully.
type Service struct {
	cardBaseURL string
	passBaseURL string
	httpClient  *http.Client
	cache       *lru.Cache[string, string]
}

// NewService creates a new wallet link Service.
func NewService(cardBaseURL, passBaseURL string) (*Service, error) {
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		cardBaseURL: cardBaseURL,
		passBaseURL: passBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache: cache,
	}, nil
}

type linkResponse struct {
	URL string `json:"url"`
}

// CardWalletLink returns the wallet save link for an assigned card.
func (s *Service) CardWalletLink(ctx context.Context, applicationID, cardNumber string) (string, error) {
	if s.cardBaseURL == "" {
		return "", nil
	}
	return s.link(ctx, "card:"+applicationID, s.cardBaseURL, url.Values{
		"application_id": {applicationID},
		"card_number":    {cardNumber},
	})
}

// PassWalletLink returns the wallet save link for an issued pass token.
func (s *Service) PassWalletLink(ctx context.Context, applicationID, passToken string) (string, error) {
	if s.passBaseURL == "" {
		return "", nil
	}
	return s.link(ctx, "pass:"+applicationID, s.passBaseURL, url.Values{
		"application_id": {applicationID},
		"token":          {passToken},
	})
}

func (s *Service) link(ctx context.Context, cacheKey, baseURL string, params url.Values) (string, error) {
	if link, ok := s.cache.Get(cacheKey); ok {
		return link, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting wallet link: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("wallet backend returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var link linkResponse
	if err := json.Unmarshal(body, &link); err != nil {
		return "", fmt.Errorf("decoding wallet link response: %w", err)
	}

	s.cache.Add(cacheKey, link.URL)
	return link.URL, nil
}

// Verify interface implementation.
var _ application.WalletService = (*Service)(nil)
