package notify

import (
	"context"
	"errors"
	"testing"

	"entitlement-workers/internal/common/config"
	"entitlement-workers/internal/common/logger"
	"entitlement-workers/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

type MockSESService struct {
	inputs []*ses.SendEmailInput
	err    error
}

func (m *MockSESService) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

type MockSNSService struct {
	inputs []*sns.PublishInput
	err    error
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sns.PublishOutput{MessageId: aws.String("sms-1")}, nil
}

func testConfig(email, sms bool) config.NotificationConfig {
	var cfg config.NotificationConfig
	cfg.Email.Enabled = email
	cfg.Email.FromEmail = "store@example.com"
	cfg.SMS.Enabled = sms
	cfg.SMS.SenderID = "STORE"
	return cfg
}

func sampleConfirmation() Confirmation {
	return Confirmation{
		Email:      "buyer@example.com",
		Phone:      "+15550100",
		Name:       "Ana",
		ItemID:     7,
		AmountPaid: 49,
		Currency:   "USD",
		Username:   "vault-1a2b3c4d-9f0e",
		Host:       "vault-1a2b3c4d-9f0e.storage.example.com",
		Tier:       models.TierIsolated,
	}
}

func TestNotifier_SendConfirmation_Email(t *testing.T) {
	mockSES := &MockSESService{}
	mockSNS := &MockSNSService{}
	n := NewNotifierWithClients(testConfig(true, false), mockSES, mockSNS, logger.NewTestLogger(t))

	sent := n.SendConfirmation(context.Background(), sampleConfirmation())

	assert.True(t, sent)
	require.Len(t, mockSES.inputs, 1)
	assert.Empty(t, mockSNS.inputs)

	in := mockSES.inputs[0]
	assert.Equal(t, []string{"buyer@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "store@example.com", aws.ToString(in.Source))
	assert.Equal(t, "Your purchase of item #7 is ready", aws.ToString(in.Message.Subject.Data))

	body := aws.ToString(in.Message.Body.Text.Data)
	assert.Contains(t, body, "Hello Ana,")
	assert.Contains(t, body, "49.00 USD")
	assert.Contains(t, body, "Username: vault-1a2b3c4d-9f0e")
	assert.Contains(t, body, "vault-1a2b3c4d-9f0e.storage.example.com")
}

func TestNotifier_SendConfirmation_PlaceholderBody(t *testing.T) {
	mockSES := &MockSESService{}
	n := NewNotifierWithClients(testConfig(true, false), mockSES, &MockSNSService{}, logger.NewTestLogger(t))

	c := sampleConfirmation()
	c.Tier = models.TierPlaceholder
	c.Username = "pending-42"
	c.Host = ""
	require.True(t, n.SendConfirmation(context.Background(), c))

	body := aws.ToString(mockSES.inputs[0].Message.Body.Text.Data)
	assert.Contains(t, body, "still being prepared")
	assert.NotContains(t, body, "pending-42")
}

func TestNotifier_SendConfirmation_SMS(t *testing.T) {
	mockSNS := &MockSNSService{}
	n := NewNotifierWithClients(testConfig(false, true), &MockSESService{}, mockSNS, logger.NewTestLogger(t))

	require.True(t, n.SendConfirmation(context.Background(), sampleConfirmation()))
	require.Len(t, mockSNS.inputs, 1)

	in := mockSNS.inputs[0]
	assert.Equal(t, "+15550100", aws.ToString(in.PhoneNumber))
	assert.Contains(t, aws.ToString(in.Message), "item #7")
	assert.Equal(t, "STORE", aws.ToString(in.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue))
}

func TestNotifier_SendConfirmation_Failures(t *testing.T) {
	mockSES := &MockSESService{err: errors.New("throttled")}
	mockSNS := &MockSNSService{err: errors.New("opted out")}
	log, logs := logger.NewObservedLogger()
	n := NewNotifierWithClients(testConfig(true, true), mockSES, mockSNS, log)

	assert.False(t, n.SendConfirmation(context.Background(), sampleConfirmation()))
	assert.Len(t, mockSES.inputs, 1)
	assert.Len(t, mockSNS.inputs, 1)

	assert.Equal(t, 2, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestNotifier_SendConfirmation_Disabled(t *testing.T) {
	mockSES := &MockSESService{}
	mockSNS := &MockSNSService{}
	n := NewNotifierWithClients(testConfig(false, false), mockSES, mockSNS, logger.NewTestLogger(t))

	assert.False(t, n.SendConfirmation(context.Background(), sampleConfirmation()))
	assert.Empty(t, mockSES.inputs)
	assert.Empty(t, mockSNS.inputs)
}
