// internal/common/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type ErrorCode string

const (
	// Unverifiable payment
	ErrCodeInvalidReference     ErrorCode = "INVALID_REFERENCE"
	ErrCodePaymentNotCompleted  ErrorCode = "PAYMENT_NOT_COMPLETED"
	ErrCodePaymentNotFound      ErrorCode = "PAYMENT_NOT_FOUND"
	ErrCodeProviderUnavailable  ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodeProviderNotSupported ErrorCode = "PROVIDER_NOT_CONFIGURED"

	// Buyer identity
	ErrCodeMissingBuyerEmail    ErrorCode = "MISSING_BUYER_EMAIL"
	ErrCodeSubjectEmailMismatch ErrorCode = "SUBJECT_EMAIL_MISMATCH"
	ErrCodeSubjectNotFound      ErrorCode = "SUBJECT_NOT_FOUND"

	// Reconciliation
	ErrCodePendingNotConfirmed ErrorCode = "PENDING_NOT_CONFIRMED"

	// Infrastructure
	ErrCodeDatabaseFailed ErrorCode = "DATABASE_FAILED"
	ErrCodeValidation     ErrorCode = "VALIDATION_FAILED"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// StandardError is the single error shape returned across package boundaries.
// Message is safe to show to a buyer or operator; Details is for logs only.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// Is matches any StandardError carrying the same code, so the sentinels below
// work with errors.Is regardless of message or details.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata returns e after attaching a metadata key.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidReference     = &StandardError{Code: ErrCodeInvalidReference}
	ErrPaymentNotCompleted  = &StandardError{Code: ErrCodePaymentNotCompleted}
	ErrPaymentNotFound      = &StandardError{Code: ErrCodePaymentNotFound}
	ErrProviderUnavailable  = &StandardError{Code: ErrCodeProviderUnavailable}
	ErrProviderNotSupported = &StandardError{Code: ErrCodeProviderNotSupported}
	ErrMissingBuyerEmail    = &StandardError{Code: ErrCodeMissingBuyerEmail}
	ErrSubjectEmailMismatch = &StandardError{Code: ErrCodeSubjectEmailMismatch}
	ErrSubjectNotFound      = &StandardError{Code: ErrCodeSubjectNotFound}
	ErrPendingNotConfirmed  = &StandardError{Code: ErrCodePendingNotConfirmed}
	ErrDatabaseFailed       = &StandardError{Code: ErrCodeDatabaseFailed}
	ErrValidation           = &StandardError{Code: ErrCodeValidation}
	ErrInternal             = &StandardError{Code: ErrCodeInternal}
)

type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

func newError(code ErrorCode, message, details string, retryable bool, cause error) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

func NewInvalidReferenceError(reference string) *StandardError {
	return newError(ErrCodeInvalidReference, "Payment not completed: unrecognized payment reference",
		fmt.Sprintf("reference: %q", reference), false, nil)
}

func NewPaymentNotCompletedError(provider, status string) *StandardError {
	return newError(ErrCodePaymentNotCompleted, "Payment not completed",
		fmt.Sprintf("provider: %s, status: %s", provider, status), false, nil).
		WithMetadata("provider", provider).
		WithMetadata("status", status)
}

func NewPaymentNotFoundError(provider, reference string, err error) *StandardError {
	details := fmt.Sprintf("provider: %s, reference: %s", provider, reference)
	if err != nil {
		details += ", error: " + err.Error()
	}
	return newError(ErrCodePaymentNotFound, "Payment not completed: payment not found",
		details, false, err).WithMetadata("provider", provider)
}

func NewProviderUnavailableError(provider string, err error) *StandardError {
	return newError(ErrCodeProviderUnavailable, "Payment provider unavailable, try again later",
		fmt.Sprintf("provider: %s, error: %v", provider, err), true, err).
		WithMetadata("provider", provider)
}

func NewProviderNotConfiguredError(provider string) *StandardError {
	return newError(ErrCodeProviderNotSupported, "Payment provider not configured",
		fmt.Sprintf("provider: %s", provider), false, nil)
}

func NewMissingBuyerEmailError(reference string) *StandardError {
	return newError(ErrCodeMissingBuyerEmail, "Missing buyer email",
		fmt.Sprintf("reference: %s; supply an email override to reconcile", reference), false, nil).
		WithMetadata("reference", reference)
}

func NewSubjectEmailMismatchError(subjectID int64) *StandardError {
	return newError(ErrCodeSubjectEmailMismatch, "Account does not match the paying customer",
		fmt.Sprintf("subjectId: %d", subjectID), false, nil)
}

func NewSubjectNotFoundError(subjectID int64) *StandardError {
	return newError(ErrCodeSubjectNotFound, "Account not found",
		fmt.Sprintf("subjectId: %d", subjectID), false, nil)
}

func NewPendingNotConfirmedError(reference string) *StandardError {
	return newError(ErrCodePendingNotConfirmed, "Payment not yet confirmed by provider",
		fmt.Sprintf("reference: %s", reference), false, nil)
}

func NewDatabaseError(operation string, err error) *StandardError {
	return newError(ErrCodeDatabaseFailed, "Internal error",
		fmt.Sprintf("operation: %s, error: %v", operation, err), true, err)
}

func NewValidationError(details string) *StandardError {
	return newError(ErrCodeValidation, "Invalid input", details, false, nil)
}

func NewInternalError(details string, err error) *StandardError {
	if err != nil {
		details = fmt.Sprintf("%s: %v", details, err)
	}
	return newError(ErrCodeInternal, "Internal error", details, false, err)
}

// AsStandardError unwraps err to a StandardError, wrapping foreign errors as internal.
func AsStandardError(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError("unexpected error", err)
}

// UserMessage returns the short reason string safe to surface to callers.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	return AsStandardError(err).Message
}

var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeInvalidReference:     "PAYMENT_NOT_COMPLETED",
	ErrCodePaymentNotCompleted:  "PAYMENT_NOT_COMPLETED",
	ErrCodePaymentNotFound:      "PAYMENT_NOT_COMPLETED",
	ErrCodeProviderUnavailable:  "PROVIDER_UNAVAILABLE",
	ErrCodeProviderNotSupported: "PAYMENT_NOT_COMPLETED",
	ErrCodeMissingBuyerEmail:    "MISSING_BUYER_EMAIL",
	ErrCodeSubjectEmailMismatch: "SUBJECT_EMAIL_MISMATCH",
	ErrCodeSubjectNotFound:      "SUBJECT_NOT_FOUND",
	ErrCodePendingNotConfirmed:  "PENDING_NOT_CONFIRMED",
	ErrCodeDatabaseFailed:       "INTERNAL_ERROR",
	ErrCodeValidation:           "VALIDATION_FAILED",
	ErrCodeInternal:             "INTERNAL_ERROR",
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseFailed:
		return 3

	case ErrCodeProviderUnavailable:
		return 2

	default:
		return 0 // business errors and authorization failures never retry
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	if ref, ok := stdErr.Metadata["reference"]; ok {
		vars["reference"] = ref
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "PAYMENT") || strings.Contains(codeStr, "REFERENCE") || strings.Contains(codeStr, "PROVIDER"):
		return "PAYMENT"
	case strings.Contains(codeStr, "SUBJECT") || strings.Contains(codeStr, "EMAIL"):
		return "IDENTITY"
	case strings.Contains(codeStr, "PENDING"):
		return "RECONCILIATION"
	case strings.Contains(codeStr, "DATABASE"):
		return "DATABASE"
	case strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
