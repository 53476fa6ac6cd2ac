package listpendingpayments

import (
	"context"
	"testing"
	"time"

	apperrors "entitlement-workers/internal/common/errors"
	"entitlement-workers/internal/common/logger"
	"entitlement-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPendingLister struct {
	mock.Mock
}

func (m *MockPendingLister) ListUnresolvedPending(ctx context.Context) ([]models.PendingPayment, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PendingPayment), args.Error(1)
}

func TestHandler_Execute_ReturnsPending(t *testing.T) {
	lister := &MockPendingLister{}
	lister.On("ListUnresolvedPending", mock.Anything).Return([]models.PendingPayment{
		{ID: 1, ProviderReference: "cs_live_a", Status: models.PendingPaid, CreatedAt: time.Now()},
		{ID: 2, ProviderReference: "PAYPAL_B", Status: models.PendingPaid, CreatedAt: time.Now()},
	}, nil)

	h := NewHandler(DefaultConfig(), lister, nil, logger.NewTestLogger(t))
	output, err := h.Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, output.Count)
	assert.Equal(t, "cs_live_a", output.Pending[0].ProviderReference)
}

func TestHandler_Execute_EmptyIsNotNil(t *testing.T) {
	lister := &MockPendingLister{}
	lister.On("ListUnresolvedPending", mock.Anything).Return(nil, nil)

	h := NewHandler(DefaultConfig(), lister, nil, logger.NewTestLogger(t))
	output, err := h.Execute(context.Background())

	require.NoError(t, err)
	assert.NotNil(t, output.Pending)
	assert.Zero(t, output.Count)
}

func TestHandler_Execute_StoreFailure(t *testing.T) {
	lister := &MockPendingLister{}
	lister.On("ListUnresolvedPending", mock.Anything).
		Return(nil, apperrors.NewDatabaseError("list pending payments", assert.AnError))

	h := NewHandler(DefaultConfig(), lister, nil, logger.NewTestLogger(t))
	_, err := h.Execute(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrDatabaseFailed)
}
