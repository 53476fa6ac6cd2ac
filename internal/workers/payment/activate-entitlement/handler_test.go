package activateentitlement

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"entitlement-workers/internal/activation"
	"entitlement-workers/internal/common/config"
	apperrors "entitlement-workers/internal/common/errors"
	"entitlement-workers/internal/common/logger"
	"entitlement-workers/internal/common/validation"
	"entitlement-workers/internal/models"
	"entitlement-workers/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Mock Activator
// ==========================

type MockActivator struct {
	mock.Mock
}

func (m *MockActivator) Activate(ctx context.Context, req activation.Request) (*activation.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*activation.Result), args.Error(1)
}

// ==========================
// Test Helpers
// ==========================

func createMockJob(key int64, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               TaskType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "checkout-process",
		ElementId:          "Activity_ActivateEntitlement",
		CustomHeaders:      "{}",
		Worker:             "test-worker",
		Retries:            3,
		Variables:          string(variablesJSON),
	}}
}

func createTestHandler(t *testing.T, activator Activator) *Handler {
	reg, err := registry.Default()
	require.NoError(t, err)
	validator, err := validation.NewValidator(reg)
	require.NoError(t, err)
	return NewHandler(DefaultConfig(), activator, validator, nil, logger.NewTestLogger(t))
}

func createResult(created bool) *activation.Result {
	return &activation.Result{
		Credential: models.Credential{
			Username: "vault-1a2b3c4d-9f0e",
			Secret:   "s3cret",
			Host:     "vault-1a2b3c4d-9f0e.storage.example.com",
			Tier:     models.TierIsolated,
		},
		Entitlement: &models.Entitlement{ID: 11, SubjectID: 42, ItemID: 7, AmountPaid: 350, Currency: "MXN"},
		SubjectID:   42,
		Created:     created,
	}
}

// ==========================
// Tests
// ==========================

func TestHandler_Execute_Success(t *testing.T) {
	activator := &MockActivator{}
	activator.On("Activate", mock.Anything, activation.Request{
		Reference:  "cs_test_abc",
		SubjectID:  42,
		Buyer:      activation.BuyerHint{Name: "DJ", Phone: "+525555"},
		ItemIDHint: 0,
		Source:     TaskType,
	}).Return(createResult(true), nil)

	h := createTestHandler(t, activator)
	output, err := h.Execute(context.Background(), &Input{
		Reference:  "cs_test_abc",
		SubjectID:  42,
		BuyerName:  "DJ",
		BuyerPhone: "+525555",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(11), output.EntitlementID)
	assert.Equal(t, int64(7), output.ItemID)
	assert.Equal(t, "vault-1a2b3c4d-9f0e", output.Username)
	assert.Equal(t, "s3cret", output.Secret)
	assert.Equal(t, "isolated", output.Tier)
	assert.True(t, output.Created)
	assert.False(t, output.Degraded)
	activator.AssertExpectations(t)
}

func TestHandler_Execute_PropagatesBusinessError(t *testing.T) {
	activator := &MockActivator{}
	activator.On("Activate", mock.Anything, mock.Anything).
		Return(nil, apperrors.NewSubjectEmailMismatchError(42))

	h := createTestHandler(t, activator)
	_, err := h.Execute(context.Background(), &Input{Reference: "cs_test_abc", SubjectID: 42})

	require.Error(t, err)
	bpmn := apperrors.ConvertToBPMNError(apperrors.AsStandardError(err))
	assert.Equal(t, "SUBJECT_EMAIL_MISMATCH", bpmn.Code)
	assert.False(t, bpmn.Retryable)
}

func TestHandler_Execute_RequiresReferenceAndSubject(t *testing.T) {
	activator := &MockActivator{}
	h := createTestHandler(t, activator)

	_, err := h.Execute(context.Background(), &Input{Reference: "cs_test_abc"})

	assert.ErrorIs(t, err, apperrors.ErrValidation)
	activator.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything)
}

func TestHandler_DecodeAndExecute_ValidatesVariables(t *testing.T) {
	activator := &MockActivator{}
	h := createTestHandler(t, activator)

	job := createMockJob(1, map[string]interface{}{"reference": "cs_test_abc", "subjectId": "not-a-number"})
	_, err := h.decodeAndExecute(context.Background(), job)

	assert.ErrorIs(t, err, apperrors.ErrValidation)
	activator.AssertNotCalled(t, "Activate", mock.Anything, mock.Anything)
}

func TestHandler_DecodeAndExecute_PassesItemHint(t *testing.T) {
	activator := &MockActivator{}
	activator.On("Activate", mock.Anything, mock.MatchedBy(func(req activation.Request) bool {
		return req.Reference == "PAYPAL_ORDER9" && req.ItemIDHint == 7
	})).Return(createResult(false), nil)

	h := createTestHandler(t, activator)
	job := createMockJob(2, map[string]interface{}{"reference": "PAYPAL_ORDER9", "subjectId": 42, "itemId": 7})

	output, err := h.decodeAndExecute(context.Background(), job)

	require.NoError(t, err)
	assert.False(t, output.Created)
	activator.AssertExpectations(t)
}

func TestNewConfig(t *testing.T) {
	assert.Equal(t, 90*time.Second, NewConfig(config.WorkerConfig{}).Timeout)
	assert.Equal(t, 5*time.Second, NewConfig(config.WorkerConfig{Timeout: 5000}).Timeout)
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, (&Config{}).Validate())
}
