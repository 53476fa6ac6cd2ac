package provisioning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"entitlement-workers/internal/common/logger"
	"entitlement-workers/internal/common/metrics"
	"entitlement-workers/internal/models"
)

type fakeAccounts struct {
	mu      sync.Mutex
	calls   int
	err     error
	block   bool
	login   string
	created []string
}

func (f *fakeAccounts) CreateRestrictedAccount(ctx context.Context, username, ownerHint string) (string, string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return "", "", ctx.Err()
	}
	if f.err != nil {
		return "", "", f.err
	}

	f.mu.Lock()
	f.created = append(f.created, username)
	f.mu.Unlock()
	if f.login != "" {
		return f.login, "s3cret-" + f.login, nil
	}
	return username, "s3cret-" + username, nil
}

func TestProvision_Isolated(t *testing.T) {
	accounts := &fakeAccounts{}
	p := NewProvisioner(isolatedOnly(), accounts, logger.NewTestLogger(t))

	cred := p.Provision(context.Background(), 42)

	assert.Equal(t, models.TierIsolated, cred.Tier)
	assert.Regexp(t, `^vault-[0-9a-f]{8}-[0-9a-f]{4}$`, cred.Username)
	assert.Equal(t, cred.Username+".storage.example.com", cred.Host)
	assert.NotEmpty(t, cred.Secret)
	assert.Equal(t, 1, accounts.calls)
}

func TestProvision_IsolatedFailureFallsBackToShared(t *testing.T) {
	cfg := isolatedOnly()
	cfg.Shared = sharedOnly().Shared

	tests := []struct {
		name     string
		accounts *fakeAccounts
		wantKind string
	}{
		{"quota", &fakeAccounts{err: fmt.Errorf("%w: limit", ErrQuotaExceeded)}, "quota"},
		{"transient", &fakeAccounts{err: fmt.Errorf("%w: 502", ErrBackendUnavailable)}, "transient"},
		{"timeout", &fakeAccounts{block: true}, "transient"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := cfg
			cfg.Timeout = 30 * time.Millisecond
			log, logs := logger.NewObservedLogger()
			before := testutil.ToFloat64(metrics.ProvisioningFailures.WithLabelValues(tt.wantKind))

			cred := NewProvisioner(cfg, tt.accounts, log).Provision(context.Background(), 42)

			assert.Equal(t, models.TierShared, cred.Tier)
			assert.Equal(t, "u100-sub1", cred.Username)
			assert.Equal(t, "u100.storage.example.com", cred.Host)
			assert.Equal(t, 1, tt.accounts.calls, "isolated tier is attempted exactly once")

			warnings := logs.FilterMessage("isolated account creation failed, falling back").All()
			require.Len(t, warnings, 1)
			assert.Equal(t, tt.wantKind, warnings[0].ContextMap()["failureKind"])
			assert.Equal(t, 1, logs.FilterMessage("issuing shared storage credential").Len())
			assert.Equal(t, before+1, testutil.ToFloat64(metrics.ProvisioningFailures.WithLabelValues(tt.wantKind)))
		})
	}
}

func TestProvision_UnrecognizedLoginFallsBack(t *testing.T) {
	cfg := isolatedOnly()
	cfg.Shared = sharedOnly().Shared
	accounts := &fakeAccounts{login: "u4242-sub7"}
	log, logs := logger.NewObservedLogger()
	before := testutil.ToFloat64(metrics.ProvisioningFailures.WithLabelValues("rejected"))

	cred := NewProvisioner(cfg, accounts, log).Provision(context.Background(), 42)

	assert.Equal(t, models.TierShared, cred.Tier)
	assert.Equal(t, "u100-sub1", cred.Username)
	assert.Equal(t, 1, accounts.calls)
	assert.Equal(t, 1, logs.FilterMessage("storage backend assigned an unrecognized login, account left unused").Len())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ProvisioningFailures.WithLabelValues("rejected")))

	rebuilt := cfg.Credential(cred.Username, cred.Secret)
	assert.Equal(t, cred.Tier, rebuilt.Tier)
	assert.Equal(t, cred.Host, rebuilt.Host)
}

func TestProvision_IsolatedCredentialRebuildsFromUsername(t *testing.T) {
	cfg := isolatedOnly()
	cred := NewProvisioner(cfg, &fakeAccounts{}, logger.NewNoOpLogger()).Provision(context.Background(), 42)

	rebuilt := cfg.Credential(cred.Username, cred.Secret)

	assert.Equal(t, models.TierIsolated, rebuilt.Tier)
	assert.Equal(t, cred, rebuilt)
}

func TestProvision_PlaceholderWhenNothingConfigured(t *testing.T) {
	log, logs := logger.NewObservedLogger()
	before := testutil.ToFloat64(metrics.CredentialsProvisioned.WithLabelValues("placeholder"))

	cred := NewProvisioner(Config{Timeout: time.Second}, nil, log).Provision(context.Background(), 42)

	assert.Equal(t, models.TierPlaceholder, cred.Tier)
	assert.True(t, cred.Degraded())
	assert.Equal(t, "pending-42", cred.Username)
	assert.Len(t, cred.Secret, 32)
	assert.Empty(t, cred.Host)

	entries := logs.FilterMessage("issued placeholder credential, buyer has no working storage access").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, true, entries[0].ContextMap()["degraded"])
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.CredentialsProvisioned.WithLabelValues("placeholder")))
}

func TestProvision_IsolatedFailureWithoutSharedIsPlaceholder(t *testing.T) {
	accounts := &fakeAccounts{err: errors.New("boom")}

	cred := NewProvisioner(isolatedOnly(), accounts, logger.NewNoOpLogger()).Provision(context.Background(), 7)

	assert.Equal(t, models.TierPlaceholder, cred.Tier)
	assert.Equal(t, "pending-7", cred.Username)
}

func TestProvision_IsolatedWithoutClientIsSkipped(t *testing.T) {
	cred := NewProvisioner(isolatedOnly(), nil, logger.NewNoOpLogger()).Provision(context.Background(), 7)

	assert.Equal(t, models.TierPlaceholder, cred.Tier)
}

func TestProvision_AlwaysReturnsCredential(t *testing.T) {
	configs := []Config{{Timeout: time.Second}, isolatedOnly(), sharedOnly()}
	for i, cfg := range configs {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			cred := NewProvisioner(cfg, &fakeAccounts{block: true}, logger.NewNoOpLogger()).Provision(ctx, 99)

			assert.NotEmpty(t, cred.Username)
			assert.NotEmpty(t, cred.Secret)
		})
	}
}

func TestProvision_PlaceholderSecretsAreRandom(t *testing.T) {
	p := NewProvisioner(Config{Timeout: time.Second}, nil, logger.NewNoOpLogger())

	a := p.Provision(context.Background(), 1)
	b := p.Provision(context.Background(), 1)

	assert.Equal(t, a.Username, b.Username)
	assert.NotEqual(t, a.Secret, b.Secret)
}
