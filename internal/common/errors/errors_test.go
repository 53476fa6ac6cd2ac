package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardError_IsMatchesByCode(t *testing.T) {
	err := NewMissingBuyerEmailError("pi_123")
	wrapped := fmt.Errorf("activate: %w", err)

	assert.True(t, errors.Is(wrapped, ErrMissingBuyerEmail))
	assert.False(t, errors.Is(wrapped, ErrPaymentNotCompleted))
}

func TestStandardError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewProviderUnavailableError("stripe", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, err.Retryable)
}

func TestUserMessage_NeverLeaksDetails(t *testing.T) {
	err := NewPaymentNotFoundError("paypal", "ORDER1", errors.New(`{"name":"RESOURCE_NOT_FOUND","debug_id":"abc"}`))

	msg := UserMessage(err)
	assert.Equal(t, "Payment not completed: payment not found", msg)
	assert.NotContains(t, msg, "debug_id")
	assert.Contains(t, err.Details, "debug_id")
}

func TestAsStandardError_WrapsForeignErrors(t *testing.T) {
	stdErr := AsStandardError(errors.New("boom"))

	require.NotNil(t, stdErr)
	assert.Equal(t, ErrCodeInternal, stdErr.Code)
	assert.Equal(t, "Internal error", stdErr.Message)
	assert.Nil(t, AsStandardError(nil))
}

func TestConvertToBPMNError(t *testing.T) {
	tests := []struct {
		name        string
		err         *StandardError
		wantCode    string
		wantRetries int
	}{
		{"invalid reference", NewInvalidReferenceError("xyz"), "PAYMENT_NOT_COMPLETED", 0},
		{"not paid", NewPaymentNotCompletedError("stripe", "unpaid"), "PAYMENT_NOT_COMPLETED", 0},
		{"missing email", NewMissingBuyerEmailError("pi_1"), "MISSING_BUYER_EMAIL", 0},
		{"mismatch", NewSubjectEmailMismatchError(42), "SUBJECT_EMAIL_MISMATCH", 0},
		{"provider down", NewProviderUnavailableError("paypal", errors.New("timeout")), "PROVIDER_UNAVAILABLE", 2},
		{"database", NewDatabaseError("insert entitlement", errors.New("conn refused")), "INTERNAL_ERROR", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bpmn := ConvertToBPMNError(tt.err)
			assert.Equal(t, tt.wantCode, bpmn.Code)
			assert.Equal(t, tt.wantRetries, bpmn.Retries)
			assert.Equal(t, string(tt.err.Code), bpmn.ErrorVariables["originalErrorCode"])
		})
	}
}

func TestConvertToBPMNError_CarriesReference(t *testing.T) {
	bpmn := ConvertToBPMNError(NewMissingBuyerEmailError("pi_9"))
	vars := bpmn.ToErrorVariables()

	assert.Equal(t, "pi_9", vars["reference"])
	assert.Equal(t, "MISSING_BUYER_EMAIL", vars["errorCode"])
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "PAYMENT", GetErrorCategory(ErrCodePaymentNotCompleted))
	assert.Equal(t, "IDENTITY", GetErrorCategory(ErrCodeSubjectEmailMismatch))
	assert.Equal(t, "RECONCILIATION", GetErrorCategory(ErrCodePendingNotConfirmed))
	assert.Equal(t, "DATABASE", GetErrorCategory(ErrCodeDatabaseFailed))
	assert.Equal(t, "OTHER", GetErrorCategory(ErrCodeInternal))
}

func TestRetriesFor(t *testing.T) {
	tests := []struct {
		name      string
		err       *StandardError
		remaining int32
		want      int
	}{
		{"database error retries", NewDatabaseError("insert", errors.New("conn reset")), 5, 3},
		{"capped by what zeebe has left", NewDatabaseError("insert", errors.New("conn reset")), 1, 1},
		{"no retries left", NewProviderUnavailableError("stripe", errors.New("timeout")), 0, 0},
		{"business error never retries", NewMissingBuyerEmailError("PAYPAL_X"), 3, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RetriesFor(ConvertToBPMNError(tt.err), tt.remaining))
		})
	}
}
