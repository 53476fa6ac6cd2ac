// internal/payment/stripe.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeClient adapts stripe-go to StripeAPI.
type StripeClient struct {
	api *client.API
}

func NewStripeClient(secretKey string) *StripeClient {
	return &StripeClient{api: client.New(secretKey, nil)}
}

// NewStripeClientWithBackends is used by tests to point stripe-go at a local server.
func NewStripeClientWithBackends(secretKey string, backends *stripe.Backends) *StripeClient {
	return &StripeClient{api: client.New(secretKey, backends)}
}

func (c *StripeClient) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := c.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return nil, translateStripeError(err)
	}
	return toCheckoutSession(s), nil
}

func (c *StripeClient) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("latest_charge")

	pi, err := c.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, translateStripeError(err)
	}

	out := &PaymentIntent{
		ID:             pi.ID,
		Status:         string(pi.Status),
		Amount:         pi.Amount,
		AmountReceived: pi.AmountReceived,
		Currency:       string(pi.Currency),
		ReceiptEmail:   pi.ReceiptEmail,
		Metadata:       pi.Metadata,
	}
	if pi.LatestCharge != nil && pi.LatestCharge.BillingDetails != nil {
		bd := pi.LatestCharge.BillingDetails
		out.Billing = &Customer{Email: bd.Email, Name: bd.Name, Phone: bd.Phone}
	}
	return out, nil
}

func (c *StripeClient) FindCheckoutSessionByPaymentIntent(ctx context.Context, intentID string) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionListParams{
		PaymentIntent: stripe.String(intentID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := c.api.CheckoutSessions.List(params)
	if iter.Next() {
		return toCheckoutSession(iter.CheckoutSession()), nil
	}
	if err := iter.Err(); err != nil {
		return nil, translateStripeError(err)
	}
	return nil, nil
}

func toCheckoutSession(s *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:            s.ID,
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
		CustomerEmail: s.CustomerEmail,
		Metadata:      s.Metadata,
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	if s.CustomerDetails != nil {
		out.CustomerDetails = &Customer{
			Email: s.CustomerDetails.Email,
			Name:  s.CustomerDetails.Name,
			Phone: s.CustomerDetails.Phone,
		}
	}
	return out
}

// stripeStatusError keeps the HTTP status so retry classification can see it.
type stripeStatusError struct {
	status int
	err    *stripe.Error
}

func (e *stripeStatusError) Error() string {
	return fmt.Sprintf("stripe: status %d: %s", e.status, e.err.Msg)
}

func (e *stripeStatusError) Unwrap() error { return e.err }

func (e *stripeStatusError) Temporary() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

func translateStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return err
	}
	if stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing {
		return fmt.Errorf("%w: %s", ErrNotFound, stripeErr.Msg)
	}
	if isRejection(stripeErr.HTTPStatusCode) {
		issue := string(stripeErr.Code)
		if issue == "" {
			issue = stripeErr.Msg
		}
		return &RejectedError{Status: stripeErr.HTTPStatusCode, Issue: issue}
	}
	return &stripeStatusError{status: stripeErr.HTTPStatusCode, err: stripeErr}
}
