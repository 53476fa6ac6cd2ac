// internal/payment/verifier.go
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "entitlement-workers/internal/common/errors"
	"entitlement-workers/internal/common/logger"
	"entitlement-workers/internal/common/metrics"
	"entitlement-workers/internal/common/retry"
	"entitlement-workers/internal/models"
)

// VerifierConfig bounds provider calls and sets the default-item policy.
type VerifierConfig struct {
	Timeout          time.Duration
	MaxAttempts      int
	DefaultItemID    int64
	AllowDefaultItem bool
}

func (c VerifierConfig) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("verification timeout must be positive")
	}
	if c.AllowDefaultItem && c.DefaultItemID <= 0 {
		return fmt.Errorf("default item id must be positive when the default item is allowed")
	}
	return nil
}

// VerifyOptions carries caller-supplied hints. Neither can override what the
// provider reports: EmailOverride only fills a missing email, ItemIDHint only
// a PayPal order that carries no item of its own.
type VerifyOptions struct {
	EmailOverride string
	ItemIDHint    int64
}

type Verifier struct {
	stripe StripeAPI
	paypal PayPalAPI
	config VerifierConfig
	logger logger.Logger
}

// NewVerifier builds a verifier. Either provider may be nil when not configured.
func NewVerifier(stripe StripeAPI, paypal PayPalAPI, config VerifierConfig, log logger.Logger) *Verifier {
	return &Verifier{
		stripe: stripe,
		paypal: paypal,
		config: config,
		logger: log.WithFields(map[string]interface{}{"component": "payment-verifier"}),
	}
}

// VerifyReference parses raw and verifies it.
func (v *Verifier) VerifyReference(ctx context.Context, raw string, opts VerifyOptions) (*models.VerifiedPayment, error) {
	ref, err := ParseReference(raw)
	if err != nil {
		return nil, err
	}
	return v.Verify(ctx, ref, opts)
}

// Verify re-derives the payment from its provider. Nothing is taken on trust from the caller.
func (v *Verifier) Verify(ctx context.Context, ref models.Reference, opts VerifyOptions) (*models.VerifiedPayment, error) {
	var (
		vp  *models.VerifiedPayment
		err error
	)

	switch ref.Kind {
	case models.ReferenceCheckoutSession:
		vp, err = v.verifyCheckoutSession(ctx, ref, opts)
	case models.ReferencePaymentIntent:
		vp, err = v.verifyPaymentIntent(ctx, ref, opts)
	case models.ReferencePayPalOrder:
		vp, err = v.verifyPayPalOrder(ctx, ref, opts)
	default:
		err = apperrors.NewInternalError(fmt.Sprintf("unhandled reference kind %s", ref.Kind), nil)
	}

	if err != nil {
		stdErr := apperrors.AsStandardError(err)
		metrics.PaymentVerificationFailures.WithLabelValues(string(ref.Kind.Provider()), string(stdErr.Code)).Inc()
		v.logger.Warn("payment verification failed", map[string]interface{}{
			"reference": ref.Raw,
			"kind":      ref.Kind.String(),
			"errorCode": string(stdErr.Code),
			"details":   stdErr.Details,
		})
		return nil, err
	}

	v.logger.Info("payment verified", map[string]interface{}{
		"reference":     ref.Raw,
		"provider":      string(vp.Provider),
		"transactionId": vp.ProviderTransactionID,
		"itemId":        vp.ItemID,
		"amountMinor":   vp.AmountMinorUnits,
		"currency":      vp.CurrencyCode,
	})
	return vp, nil
}

func (v *Verifier) verifyCheckoutSession(ctx context.Context, ref models.Reference, opts VerifyOptions) (*models.VerifiedPayment, error) {
	if v.stripe == nil {
		return nil, apperrors.NewProviderNotConfiguredError(string(models.ProviderStripe))
	}

	var session *CheckoutSession
	err := v.call(ctx, models.ProviderStripe, ref.Raw, func(ctx context.Context) error {
		var err error
		session, err = v.stripe.GetCheckoutSession(ctx, ref.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if session.PaymentStatus != "paid" {
		return nil, apperrors.NewPaymentNotCompletedError(string(models.ProviderStripe), session.PaymentStatus)
	}

	itemID, defaulted, err := v.resolveItem(ref, session.Metadata, 0)
	if err != nil {
		return nil, err
	}

	var details Customer
	if session.CustomerDetails != nil {
		details = *session.CustomerDetails
	}
	email := firstNonEmpty(details.Email, session.CustomerEmail, session.Metadata["email"], opts.EmailOverride)
	if email == "" {
		return nil, apperrors.NewMissingBuyerEmailError(ref.Raw)
	}

	return &models.VerifiedPayment{
		Provider:              models.ProviderStripe,
		Reference:             ref.Raw,
		ProviderTransactionID: firstNonEmpty(session.PaymentIntentID, session.ID),
		ItemID:                itemID,
		ItemDefaulted:         defaulted,
		AmountMinorUnits:      session.AmountTotal,
		CurrencyCode:          strings.ToUpper(session.Currency),
		BuyerEmail:            normalizeEmail(email),
		BuyerName:             firstNonEmpty(details.Name, session.Metadata["name"]),
		BuyerPhone:            firstNonEmpty(details.Phone, session.Metadata["phone"]),
		CampaignTags:          campaignTags(session.Metadata),
	}, nil
}

func (v *Verifier) verifyPaymentIntent(ctx context.Context, ref models.Reference, opts VerifyOptions) (*models.VerifiedPayment, error) {
	if v.stripe == nil {
		return nil, apperrors.NewProviderNotConfiguredError(string(models.ProviderStripe))
	}

	var intent *PaymentIntent
	err := v.call(ctx, models.ProviderStripe, ref.Raw, func(ctx context.Context) error {
		var err error
		intent, err = v.stripe.GetPaymentIntent(ctx, ref.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if intent.Status != "succeeded" {
		return nil, apperrors.NewPaymentNotCompletedError(string(models.ProviderStripe), intent.Status)
	}

	var billing Customer
	if intent.Billing != nil {
		billing = *intent.Billing
	}
	metadata := intent.Metadata
	email := firstNonEmpty(intent.ReceiptEmail, billing.Email, metadata["email"])
	name := firstNonEmpty(billing.Name, metadata["name"])
	phone := firstNonEmpty(billing.Phone, metadata["phone"])

	// The intent may not carry the buyer; the session that created it usually does.
	if email == "" {
		var session *CheckoutSession
		err := v.call(ctx, models.ProviderStripe, ref.Raw, func(ctx context.Context) error {
			var err error
			session, err = v.stripe.FindCheckoutSessionByPaymentIntent(ctx, ref.ID)
			return err
		})
		if err != nil && !errors.Is(err, apperrors.ErrPaymentNotFound) {
			return nil, err
		}
		if session != nil {
			var details Customer
			if session.CustomerDetails != nil {
				details = *session.CustomerDetails
			}
			email = firstNonEmpty(details.Email, session.CustomerEmail, session.Metadata["email"])
			name = firstNonEmpty(name, details.Name)
			phone = firstNonEmpty(phone, details.Phone)
			if _, present, _ := itemFromMetadata(metadata); !present {
				metadata = mergeMetadata(metadata, session.Metadata)
			}
		}
	}

	email = firstNonEmpty(email, opts.EmailOverride)
	if email == "" {
		return nil, apperrors.NewMissingBuyerEmailError(ref.Raw)
	}

	itemID, defaulted, err := v.resolveItem(ref, metadata, 0)
	if err != nil {
		return nil, err
	}

	amount := intent.AmountReceived
	if amount == 0 {
		amount = intent.Amount
	}

	return &models.VerifiedPayment{
		Provider:              models.ProviderStripe,
		Reference:             ref.Raw,
		ProviderTransactionID: intent.ID,
		ItemID:                itemID,
		ItemDefaulted:         defaulted,
		AmountMinorUnits:      amount,
		CurrencyCode:          strings.ToUpper(intent.Currency),
		BuyerEmail:            normalizeEmail(email),
		BuyerName:             name,
		BuyerPhone:            phone,
		CampaignTags:          campaignTags(metadata),
	}, nil
}

func (v *Verifier) verifyPayPalOrder(ctx context.Context, ref models.Reference, opts VerifyOptions) (*models.VerifiedPayment, error) {
	if v.paypal == nil {
		return nil, apperrors.NewProviderNotConfiguredError(string(models.ProviderPayPal))
	}

	order, err := v.getOrder(ctx, ref)
	if err != nil {
		return nil, err
	}

	if order.Status == OrderApproved || order.Status == OrderSaved {
		var captured *Order
		err := v.call(ctx, models.ProviderPayPal, ref.Raw, func(ctx context.Context) error {
			var err error
			captured, err = v.paypal.CaptureOrder(ctx, ref.ID)
			return err
		})
		switch {
		case errors.Is(err, ErrAlreadyCaptured):
			v.logger.Info("order already captured, re-reading final state", map[string]interface{}{
				"reference": ref.Raw,
			})
			if order, err = v.getOrder(ctx, ref); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, err
		default:
			order = mergeCapture(order, captured)
		}
	}

	if order.Status != OrderCompleted {
		return nil, apperrors.NewPaymentNotCompletedError(string(models.ProviderPayPal), order.Status)
	}
	if len(order.PurchaseUnits) == 0 {
		return nil, apperrors.NewPaymentNotCompletedError(string(models.ProviderPayPal), "no purchase unit")
	}

	unit := order.PurchaseUnits[0]
	capture, anyCapture := completedCapture(unit)
	if anyCapture && capture == nil {
		return nil, apperrors.NewPaymentNotCompletedError(string(models.ProviderPayPal), "capture pending")
	}

	money := unit.Amount
	txnID := order.ID
	if capture != nil {
		txnID = capture.ID
		if capture.Amount != nil {
			money = capture.Amount
		}
	}
	if money == nil {
		return nil, apperrors.NewPaymentNotCompletedError(string(models.ProviderPayPal), "no amount")
	}
	amount, err := models.ParseMajorAmount(money.Value, money.CurrencyCode)
	if err != nil {
		return nil, apperrors.NewInternalError("parse paypal amount", err)
	}

	itemID, customFound := itemFromCustomID(unit.CustomID)
	defaulted := false
	if !customFound {
		if itemID, defaulted, err = v.resolveItem(ref, nil, opts.ItemIDHint); err != nil {
			return nil, err
		}
	}

	var email, name, phone string
	if order.Payer != nil {
		email = order.Payer.EmailAddress
		if order.Payer.Name != nil {
			name = strings.TrimSpace(order.Payer.Name.GivenName + " " + order.Payer.Name.Surname)
		}
		if order.Payer.Phone != nil {
			phone = order.Payer.Phone.PhoneNumber.NationalNumber
		}
	}
	email = firstNonEmpty(email, opts.EmailOverride)
	if email == "" {
		return nil, apperrors.NewMissingBuyerEmailError(ref.Raw)
	}

	return &models.VerifiedPayment{
		Provider:              models.ProviderPayPal,
		Reference:             ref.Raw,
		ProviderTransactionID: txnID,
		ItemID:                itemID,
		ItemDefaulted:         defaulted,
		AmountMinorUnits:      amount,
		CurrencyCode:          strings.ToUpper(money.CurrencyCode),
		BuyerEmail:            normalizeEmail(email),
		BuyerName:             name,
		BuyerPhone:            phone,
	}, nil
}

func (v *Verifier) getOrder(ctx context.Context, ref models.Reference) (*Order, error) {
	var order *Order
	err := v.call(ctx, models.ProviderPayPal, ref.Raw, func(ctx context.Context) error {
		var err error
		order, err = v.paypal.GetOrder(ctx, ref.ID)
		return err
	})
	return order, err
}

// resolveItem applies metadata, then hint, then the default-item policy.
func (v *Verifier) resolveItem(ref models.Reference, metadata map[string]string, hint int64) (int64, bool, error) {
	id, present, ok := itemFromMetadata(metadata)
	if present && !ok {
		return 0, false, apperrors.NewPaymentNotCompletedError(string(ref.Kind.Provider()), "invalid item id in metadata")
	}
	if ok {
		return id, false, nil
	}
	if hint > 0 {
		return hint, false, nil
	}
	if !v.config.AllowDefaultItem {
		return 0, false, apperrors.NewPaymentNotCompletedError(string(ref.Kind.Provider()), "missing item id")
	}

	v.logger.Warn("payment carries no item id, using default item", map[string]interface{}{
		"reference":     ref.Raw,
		"defaultItemId": v.config.DefaultItemID,
	})
	return v.config.DefaultItemID, true, nil
}

// call runs one provider request under the verification policy and maps
// failures into the payment error taxonomy.
func (v *Verifier) call(ctx context.Context, provider models.Provider, reference string, op func(ctx context.Context) error) error {
	policy := retry.Policy{
		MaxAttempts:    v.config.MaxAttempts,
		BaseDelay:      250 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		AttemptTimeout: v.config.Timeout,
	}

	err := retry.Do(ctx, policy, op, isTransient)
	var rejected *RejectedError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAlreadyCaptured):
		return err
	case errors.Is(err, ErrNotFound):
		return apperrors.NewPaymentNotFoundError(string(provider), reference, err)
	case errors.As(err, &rejected):
		return apperrors.NewPaymentNotCompletedError(string(provider), rejected.Issue).
			WithMetadata("reference", reference)
	default:
		return apperrors.NewProviderUnavailableError(string(provider), err)
	}
}

// isTransient reports whether a provider error is worth another attempt.
func isTransient(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyCaptured) || errors.Is(err, ErrRejected) {
		return false
	}
	var temp interface{ Temporary() bool }
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return true
}

// mergeCapture overlays a capture response on the order it captured; the
// capture response omits fields such as the purchase unit amount and custom_id.
func mergeCapture(order, captured *Order) *Order {
	if captured == nil {
		return order
	}
	merged := *order
	merged.Status = captured.Status
	if captured.Payer != nil {
		merged.Payer = captured.Payer
	}
	merged.PurchaseUnits = make([]PurchaseUnit, len(order.PurchaseUnits))
	copy(merged.PurchaseUnits, order.PurchaseUnits)
	for i := range merged.PurchaseUnits {
		if i < len(captured.PurchaseUnits) && captured.PurchaseUnits[i].Payments != nil {
			merged.PurchaseUnits[i].Payments = captured.PurchaseUnits[i].Payments
		}
	}
	if len(merged.PurchaseUnits) == 0 {
		merged.PurchaseUnits = captured.PurchaseUnits
	}
	return &merged
}

// completedCapture returns the first COMPLETED capture and whether any capture exists.
func completedCapture(unit PurchaseUnit) (*Capture, bool) {
	if unit.Payments == nil || len(unit.Payments.Captures) == 0 {
		return nil, false
	}
	for i := range unit.Payments.Captures {
		if unit.Payments.Captures[i].Status == CaptureCompleted {
			return &unit.Payments.Captures[i], true
		}
	}
	return nil, true
}

func mergeMetadata(primary, secondary map[string]string) map[string]string {
	out := make(map[string]string, len(primary)+len(secondary))
	for k, v := range secondary {
		out[k] = v
	}
	for k, v := range primary {
		out[k] = v
	}
	return out
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
