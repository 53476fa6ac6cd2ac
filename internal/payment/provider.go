// internal/payment/provider.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned by provider clients when the object does not exist.
	ErrNotFound = errors.New("provider object not found")
	// ErrAlreadyCaptured is returned by CaptureOrder when the order was captured earlier.
	ErrAlreadyCaptured = errors.New("order already captured")
	// ErrRejected matches every RejectedError.
	ErrRejected = errors.New("rejected by payment provider")
)

// RejectedError is a provider 4xx answer that repeating the request cannot
// change, such as a declined capture. Issue is the provider's reason code.
type RejectedError struct {
	Status int
	Issue  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected by payment provider: status %d: %s", e.Status, e.Issue)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// isRejection reports whether a provider status is a final refusal. Auth
// failures, request timeouts and rate limits are not.
func isRejection(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return status >= 400 && status < 500
}

// Customer is the buyer contact block shared by Stripe objects.
type Customer struct {
	Email string
	Name  string
	Phone string
}

// CheckoutSession is the subset of a hosted-checkout session the verifier reads.
type CheckoutSession struct {
	ID              string
	PaymentStatus   string
	PaymentIntentID string
	AmountTotal     int64
	Currency        string
	CustomerEmail   string
	CustomerDetails *Customer
	Metadata        map[string]string
}

// PaymentIntent is the subset of a payment intent the verifier reads.
type PaymentIntent struct {
	ID             string
	Status         string
	Amount         int64
	AmountReceived int64
	Currency       string
	ReceiptEmail   string
	Billing        *Customer
	Metadata       map[string]string
}

// StripeAPI is implemented by StripeClient and by test fakes.
type StripeAPI interface {
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	// FindCheckoutSessionByPaymentIntent returns nil, nil when no session references the intent.
	FindCheckoutSessionByPaymentIntent(ctx context.Context, intentID string) (*CheckoutSession, error)
}

// PayPal order statuses.
const (
	OrderCreated   = "CREATED"
	OrderSaved     = "SAVED"
	OrderApproved  = "APPROVED"
	OrderVoided    = "VOIDED"
	OrderCompleted = "COMPLETED"

	CaptureCompleted = "COMPLETED"
)

type Money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type Capture struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount *Money `json:"amount,omitempty"`
}

type PurchaseUnit struct {
	ReferenceID string `json:"reference_id,omitempty"`
	CustomID    string `json:"custom_id,omitempty"`
	Amount      *Money `json:"amount,omitempty"`
	Payments    *struct {
		Captures []Capture `json:"captures,omitempty"`
	} `json:"payments,omitempty"`
}

type Payer struct {
	EmailAddress string `json:"email_address,omitempty"`
	Name         *struct {
		GivenName string `json:"given_name,omitempty"`
		Surname   string `json:"surname,omitempty"`
	} `json:"name,omitempty"`
	Phone *struct {
		PhoneNumber struct {
			NationalNumber string `json:"national_number,omitempty"`
		} `json:"phone_number"`
	} `json:"phone,omitempty"`
}

// Order is a PayPal Orders v2 resource.
type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Payer         *Payer         `json:"payer,omitempty"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units,omitempty"`
}

// PayPalAPI is implemented by PayPalClient and by test fakes.
type PayPalAPI interface {
	GetOrder(ctx context.Context, id string) (*Order, error)
	CaptureOrder(ctx context.Context, id string) (*Order, error)
}
