package validation_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/sharepool/svc/validation"
)

type mockLocator struct {
	mock.Mock
}

func (m *mockLocator) URL(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func TestHTTPExtractor_Extract(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://cdn.example/proofs/42.png?sig=x", body["proof_url"])
		assert.Equal(t, "49.99", body["expected_amount"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"amount":"49.99","paid_at":"2025-03-01T10:00:00Z","account_suffix":"1234","confidence":87}`))
	}))
	t.Cleanup(srv.Close)

	loc := &mockLocator{}
	loc.On("URL", mock.Anything, "proofs/42.png").Return("https://cdn.example/proofs/42.png?sig=x", nil)

	ex, err := validation.NewHTTPExtractor(srv.URL, loc, validation.WithBearerToken("s3cret"))
	require.NoError(t, err)

	ext, err := ex.Extract(context.Background(), validation.Request{
		ProofRef:       "proofs/42.png",
		ExpectedAmount: decimal.RequireFromString("49.99"),
	})
	require.NoError(t, err)
	require.NotNil(t, ext.Amount)
	assert.True(t, ext.Amount.Equal(decimal.RequireFromString("49.99")))
	require.NotNil(t, ext.PaidAt)
	assert.Equal(t, 2025, ext.PaidAt.Year())
	assert.Equal(t, "1234", ext.AccountSuffix)
	assert.Equal(t, 87, ext.Confidence)
	loc.AssertExpectations(t)
}

func TestHTTPExtractor_NullAmount(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"amount":null,"confidence":40}`))
	}))
	t.Cleanup(srv.Close)

	loc := &mockLocator{}
	loc.On("URL", mock.Anything, "k").Return("http://x/k", nil)

	ex, err := validation.NewHTTPExtractor(srv.URL, loc)
	require.NoError(t, err)

	ext, err := ex.Extract(context.Background(), validation.Request{ProofRef: "k"})
	require.NoError(t, err)
	assert.Nil(t, ext.Amount)
	assert.Equal(t, 40, ext.Confidence)
}

func TestHTTPExtractor_Errors(t *testing.T) {
	t.Parallel()

	t.Run("non-200", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		t.Cleanup(srv.Close)

		loc := &mockLocator{}
		loc.On("URL", mock.Anything, "k").Return("http://x/k", nil)
		ex, err := validation.NewHTTPExtractor(srv.URL, loc)
		require.NoError(t, err)

		_, err = ex.Extract(context.Background(), validation.Request{ProofRef: "k"})
		assert.ErrorIs(t, err, validation.ErrUnexpectedStatus)
		assert.Contains(t, err.Error(), "overloaded")
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"amount":`))
		}))
		t.Cleanup(srv.Close)

		loc := &mockLocator{}
		loc.On("URL", mock.Anything, "k").Return("http://x/k", nil)
		ex, err := validation.NewHTTPExtractor(srv.URL, loc)
		require.NoError(t, err)

		_, err = ex.Extract(context.Background(), validation.Request{ProofRef: "k"})
		assert.ErrorIs(t, err, validation.ErrMalformedResponse)
	})

	t.Run("locator failure", func(t *testing.T) {
		t.Parallel()
		missing := errors.New("no such key")
		loc := &mockLocator{}
		loc.On("URL", mock.Anything, "k").Return("", missing)
		ex, err := validation.NewHTTPExtractor("http://127.0.0.1:1", loc)
		require.NoError(t, err)

		_, err = ex.Extract(context.Background(), validation.Request{ProofRef: "k"})
		assert.ErrorIs(t, err, missing)
	})

	t.Run("missing endpoint", func(t *testing.T) {
		t.Parallel()
		_, err := validation.NewHTTPExtractor("", &mockLocator{})
		assert.ErrorIs(t, err, validation.ErrEndpointNotDefined)
	})
}
