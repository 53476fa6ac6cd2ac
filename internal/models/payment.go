// internal/models/payment.go
package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Provider names the payment provider that owns a reference.
type Provider string

const (
	ProviderStripe Provider = "stripe"
	ProviderPayPal Provider = "paypal"
)

// ReferenceKind is the tag of a parsed payment reference.
type ReferenceKind int

const (
	ReferenceUnknown ReferenceKind = iota
	ReferenceCheckoutSession
	ReferencePaymentIntent
	ReferencePayPalOrder
)

func (k ReferenceKind) String() string {
	switch k {
	case ReferenceCheckoutSession:
		return "checkout_session"
	case ReferencePaymentIntent:
		return "payment_intent"
	case ReferencePayPalOrder:
		return "paypal_order"
	default:
		return "unknown"
	}
}

// Provider returns the provider that issued references of this kind.
func (k ReferenceKind) Provider() Provider {
	switch k {
	case ReferenceCheckoutSession, ReferencePaymentIntent:
		return ProviderStripe
	case ReferencePayPalOrder:
		return ProviderPayPal
	default:
		return ""
	}
}

// Reference is a provider reference after classification. Raw keeps the
// string exactly as the caller supplied it; ID is what the provider API expects.
type Reference struct {
	Kind ReferenceKind
	ID   string
	Raw  string
}

func (r Reference) String() string {
	return r.Raw
}

// VerifiedPayment is derived from the provider on every verification and never
// accepted from callers.
type VerifiedPayment struct {
	Provider              Provider          `json:"provider"`
	Reference             string            `json:"reference"`
	ProviderTransactionID string            `json:"providerTransactionId"`
	ItemID                int64             `json:"itemId"`
	ItemDefaulted         bool              `json:"itemDefaulted"`
	AmountMinorUnits      int64             `json:"amountMinorUnits"`
	CurrencyCode          string            `json:"currencyCode"`
	BuyerEmail            string            `json:"buyerEmail"`
	BuyerName             string            `json:"buyerName,omitempty"`
	BuyerPhone            string            `json:"buyerPhone,omitempty"`
	CampaignTags          map[string]string `json:"campaignTags,omitempty"`
}

// AmountPaid converts the minor-unit amount into the currency's major unit.
func (v VerifiedPayment) AmountPaid() float64 {
	return MinorToMajor(v.AmountMinorUnits, v.CurrencyCode)
}

var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true,
	"KRW": true, "MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true,
	"VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

var threeDecimalCurrencies = map[string]bool{
	"BHD": true, "JOD": true, "KWD": true, "OMR": true, "TND": true,
}

// CurrencyExponent returns the number of minor-unit digits for an ISO 4217 code.
func CurrencyExponent(currency string) int {
	code := strings.ToUpper(currency)
	switch {
	case zeroDecimalCurrencies[code]:
		return 0
	case threeDecimalCurrencies[code]:
		return 3
	default:
		return 2
	}
}

func MinorToMajor(minor int64, currency string) float64 {
	div := 1.0
	for i := 0; i < CurrencyExponent(currency); i++ {
		div *= 10
	}
	return float64(minor) / div
}

// ParseMajorAmount converts a decimal string such as "350.00" into minor units
// without going through floating point.
func ParseMajorAmount(value, currency string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty amount")
	}
	exp := CurrencyExponent(currency)

	whole, frac, _ := strings.Cut(value, ".")
	if len(frac) > exp {
		trimmed := strings.TrimRight(frac[exp:], "0")
		if trimmed != "" {
			return 0, fmt.Errorf("amount %q has more precision than %s allows", value, currency)
		}
		frac = frac[:exp]
	}
	frac += strings.Repeat("0", exp-len(frac))

	n, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative amount %q", value)
	}
	return n, nil
}
