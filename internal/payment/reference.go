// internal/payment/reference.go
package payment

import (
	"regexp"
	"strings"

	apperrors "entitlement-workers/internal/common/errors"
	"entitlement-workers/internal/models"
)

const paypalNamespacePrefix = "paypal:"

var (
	stripeIDPattern    = regexp.MustCompile(`^(cs|pi)_[A-Za-z0-9_]+$`)
	paypalOrderPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]{5,39}$`)
)

// ParseReference classifies a provider reference. It is the only place that
// inspects reference shape; everything downstream switches on Reference.Kind.
func ParseReference(raw string) (models.Reference, error) {
	s := strings.TrimSpace(raw)
	ref := models.Reference{Raw: s, ID: s}

	switch {
	case s == "":
		return models.Reference{}, apperrors.NewInvalidReferenceError(raw)

	case strings.HasPrefix(s, "cs_"):
		if !stripeIDPattern.MatchString(s) {
			return models.Reference{}, apperrors.NewInvalidReferenceError(raw)
		}
		ref.Kind = models.ReferenceCheckoutSession

	case strings.HasPrefix(s, "pi_"):
		if !stripeIDPattern.MatchString(s) {
			return models.Reference{}, apperrors.NewInvalidReferenceError(raw)
		}
		ref.Kind = models.ReferencePaymentIntent

	case strings.HasPrefix(strings.ToLower(s), paypalNamespacePrefix):
		id := strings.TrimSpace(s[len(paypalNamespacePrefix):])
		if !paypalOrderPattern.MatchString(id) {
			return models.Reference{}, apperrors.NewInvalidReferenceError(raw)
		}
		ref.Kind = models.ReferencePayPalOrder
		ref.ID = id

	case paypalOrderPattern.MatchString(s):
		ref.Kind = models.ReferencePayPalOrder

	default:
		return models.Reference{}, apperrors.NewInvalidReferenceError(raw)
	}

	return ref, nil
}
