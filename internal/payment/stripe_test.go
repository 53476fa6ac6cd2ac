package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

func newTestStripeClient(t *testing.T, handler http.HandlerFunc) *StripeClient {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(server.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewStripeClientWithBackends("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
}

func TestStripeClient_GetCheckoutSession(t *testing.T) {
	client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_test_abc", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cs_test_abc",
			"object": "checkout.session",
			"payment_status": "paid",
			"amount_total": 35000,
			"currency": "mxn",
			"payment_intent": "pi_abc",
			"customer_details": {"email": "dj@example.com", "name": "DJ"},
			"metadata": {"item_id": "7"}
		}`))
	})

	session, err := client.GetCheckoutSession(context.Background(), "cs_test_abc")
	require.NoError(t, err)
	assert.Equal(t, "paid", session.PaymentStatus)
	assert.Equal(t, int64(35000), session.AmountTotal)
	assert.Equal(t, "mxn", session.Currency)
	assert.Equal(t, "pi_abc", session.PaymentIntentID)
	assert.Equal(t, "dj@example.com", session.CustomerDetails.Email)
	assert.Equal(t, "7", session.Metadata["item_id"])
}

func TestStripeClient_NotFound(t *testing.T) {
	client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session"}}`))
	})

	_, err := client.GetCheckoutSession(context.Background(), "cs_test_missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStripeClient_FindSessionByIntent(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
			assert.Equal(t, "pi_123", r.URL.Query().Get("payment_intent"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"object": "list",
				"has_more": false,
				"url": "/v1/checkout/sessions",
				"data": [{"id": "cs_test_x", "object": "checkout.session", "customer_email": "found@example.com"}]
			}`))
		})

		session, err := client.FindCheckoutSessionByPaymentIntent(context.Background(), "pi_123")
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Equal(t, "found@example.com", session.CustomerEmail)
	})

	t.Run("none", func(t *testing.T) {
		client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"object":"list","has_more":false,"url":"/v1/checkout/sessions","data":[]}`))
		})

		session, err := client.FindCheckoutSessionByPaymentIntent(context.Background(), "pi_123")
		require.NoError(t, err)
		assert.Nil(t, session)
	})
}

func TestStripeStatusError_Temporary(t *testing.T) {
	rateLimited := translateStripeError(&stripe.Error{HTTPStatusCode: http.StatusTooManyRequests, Msg: "slow down"})
	badKey := translateStripeError(&stripe.Error{HTTPStatusCode: http.StatusUnauthorized, Msg: "invalid key"})

	assert.True(t, isTransient(rateLimited))
	assert.False(t, isTransient(badKey))
	assert.False(t, errors.Is(badKey, ErrRejected))
}

func TestTranslateStripeError_Rejection(t *testing.T) {
	err := translateStripeError(&stripe.Error{HTTPStatusCode: http.StatusBadRequest, Code: stripe.ErrorCodeParameterMissing, Msg: "missing id"})

	assert.True(t, errors.Is(err, ErrRejected))
	assert.False(t, isTransient(err))

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, "parameter_missing", rejected.Issue)
}
