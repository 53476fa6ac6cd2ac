package app

import (
	"context"
	"testing"
	"time"

	"entitlement-workers/internal/common/config"
	"entitlement-workers/internal/common/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifierConfig(t *testing.T) {
	disallow := false
	cfg := &config.Config{}
	cfg.Payments.VerificationTimeout = 15000
	cfg.Payments.MaxAttempts = 2
	cfg.Activation.DefaultItemID = 9
	cfg.Activation.AllowDefaultItem = &disallow

	vc := VerifierConfig(cfg)

	assert.Equal(t, 15*time.Second, vc.Timeout)
	assert.Equal(t, 2, vc.MaxAttempts)
	assert.Equal(t, int64(9), vc.DefaultItemID)
	assert.False(t, vc.AllowDefaultItem)
	assert.NoError(t, vc.Validate())
}

func TestPaymentClients_UnconfiguredAreNilInterfaces(t *testing.T) {
	stripeAPI, paypalAPI := PaymentClients(&config.Config{})

	assert.Nil(t, stripeAPI)
	assert.Nil(t, paypalAPI)
}

func TestPaymentClients_Configured(t *testing.T) {
	cfg := &config.Config{}
	cfg.Payments.Stripe.SecretKey = "sk_test_123"
	cfg.Payments.PayPal.ClientID = "client"
	cfg.Payments.PayPal.ClientSecret = "secret"
	cfg.Payments.PayPal.BaseURL = "https://api-m.sandbox.paypal.com"

	stripeAPI, paypalAPI := PaymentClients(cfg)

	assert.NotNil(t, stripeAPI)
	assert.NotNil(t, paypalAPI)
}

func TestConnectRedis(t *testing.T) {
	log := logger.NewTestLogger(t)

	t.Run("not configured", func(t *testing.T) {
		assert.Nil(t, connectRedis(context.Background(), config.RedisConfig{}, log))
	})

	t.Run("reachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := connectRedis(context.Background(), config.RedisConfig{Address: mr.Addr()}, log)
		require.NotNil(t, rdb)
		assert.NoError(t, rdb.Close())
	})
}
