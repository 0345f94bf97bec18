package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
)

// ProofLocator turns a stored proof reference into a URL the extractor can fetch.
type ProofLocator interface {
	URL(ctx context.Context, key string) (string, error)
}

// HTTPExtractor asks a remote OCR/extraction endpoint to read a proof.
//
// Request body:  {"proof_url": "...", "expected_amount": "49.99", "currency": "USD"}
// Response body: {"amount": "49.99", "paid_at": "...", "account_suffix": "1234", "confidence": 87}
type HTTPExtractor struct {
	endpoint string
	token    string
	locator  ProofLocator
	client   *http.Client
}

type HTTPOption func(*HTTPExtractor)

func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPExtractor) {
		if c != nil {
			e.client = c
		}
	}
}

// WithBearerToken sets the Authorization header sent to the endpoint.
func WithBearerToken(token string) HTTPOption {
	return func(e *HTTPExtractor) { e.token = token }
}

// NewHTTPExtractor panics if locator is nil.
func NewHTTPExtractor(endpoint string, locator ProofLocator, opts ...HTTPOption) (*HTTPExtractor, error) {
	if endpoint == "" {
		return nil, ErrEndpointNotDefined
	}
	if locator == nil {
		panic("validation: proof locator is required")
	}
	e := &HTTPExtractor{
		endpoint: endpoint,
		locator:  locator,
		client:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

type extractRequest struct {
	ProofURL       string          `json:"proof_url"`
	ExpectedAmount decimal.Decimal `json:"expected_amount"`
	Currency       string          `json:"currency,omitempty"`
}

func (e *HTTPExtractor) Extract(ctx context.Context, req Request) (Extraction, error) {
	url, err := e.locator.URL(ctx, req.ProofRef)
	if err != nil {
		return Extraction{}, fmt.Errorf("locate proof: %w", err)
	}

	body, err := json.Marshal(extractRequest{
		ProofURL:       url,
		ExpectedAmount: req.ExpectedAmount,
		Currency:       req.Currency,
	})
	if err != nil {
		return Extraction{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return Extraction{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if e.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return Extraction{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Extraction{}, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var ext Extraction
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ext); err != nil {
		return Extraction{}, errors.Join(ErrMalformedResponse, err)
	}
	return ext, nil
}
