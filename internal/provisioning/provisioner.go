// internal/provisioning/provisioner.go
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"entitlement-workers/internal/common/logger"
	"entitlement-workers/internal/common/metrics"
	"entitlement-workers/internal/common/retry"
	"entitlement-workers/internal/models"
)

// Provisioner issues storage credentials, degrading isolated -> shared -> placeholder.
// It never returns an error; callers detect degradation through Credential.Tier.
type Provisioner struct {
	config   Config
	tiers    []models.CredentialTier
	accounts AccountCreator
	logger   logger.Logger
}

// NewProvisioner wires the tiers selected from cfg. accounts may be nil when
// isolated provisioning is not configured.
func NewProvisioner(cfg Config, accounts AccountCreator, log logger.Logger) *Provisioner {
	p := &Provisioner{
		config:   cfg,
		tiers:    SelectTiers(cfg),
		accounts: accounts,
		logger:   log.WithFields(map[string]interface{}{"component": "credential-provisioner"}),
	}

	if cfg.Isolated.Configured() && accounts == nil {
		p.logger.Error("isolated provisioning configured without an account client, tier disabled", nil)
	}
	if len(p.tiers) == 1 {
		p.logger.Error("no storage credentials configured, every activation will receive a placeholder", map[string]interface{}{
			"degraded": true,
		})
	}
	return p
}

// Config returns the immutable configuration the provisioner was built with.
func (p *Provisioner) Config() Config {
	return p.config
}

// Provision returns a non-empty credential for subjectID.
func (p *Provisioner) Provision(ctx context.Context, subjectID int64) models.Credential {
	for _, tier := range p.tiers {
		switch tier {
		case models.TierIsolated:
			cred, err := p.provisionIsolated(ctx, subjectID)
			if err == nil {
				metrics.CredentialsProvisioned.WithLabelValues(string(models.TierIsolated)).Inc()
				return cred
			}
			kind := failureKind(err)
			metrics.ProvisioningFailures.WithLabelValues(kind).Inc()
			p.logger.Warn("isolated account creation failed, falling back", map[string]interface{}{
				"subjectId":   subjectID,
				"failureKind": kind,
				"error":       err.Error(),
			})

		case models.TierShared:
			metrics.CredentialsProvisioned.WithLabelValues(string(models.TierShared)).Inc()
			p.logger.Warn("issuing shared storage credential", map[string]interface{}{
				"subjectId": subjectID,
				"tier":      string(models.TierShared),
			})
			return models.Credential{
				Username: p.config.Shared.Username,
				Secret:   p.config.Shared.Secret,
				Host:     p.config.Shared.Host,
				Tier:     models.TierShared,
			}

		case models.TierPlaceholder:
			return p.placeholder(subjectID)
		}
	}

	return p.placeholder(subjectID)
}

func (p *Provisioner) provisionIsolated(ctx context.Context, subjectID int64) (models.Credential, error) {
	if p.accounts == nil {
		return models.Credential{}, fmt.Errorf("%w: no account client", ErrBackendUnavailable)
	}

	desired := IsolatedUsername(p.config.Isolated.UsernamePrefix, subjectID, newNonce())
	var username, secret string

	err := retry.Do(ctx, retry.Once(p.config.Timeout), func(ctx context.Context) error {
		var err error
		username, secret, err = p.accounts.CreateRestrictedAccount(ctx, desired, fmt.Sprintf("subject %d", subjectID))
		return err
	}, nil)
	if err != nil {
		return models.Credential{}, err
	}
	if username == "" || secret == "" {
		return models.Credential{}, fmt.Errorf("%w: empty credential returned", ErrBackendUnavailable)
	}
	// A stored credential is rebuilt from its username alone, so a login that
	// does not read back as isolated cannot be handed out.
	if TierOf(p.config, username) != models.TierIsolated {
		p.logger.Warn("storage backend assigned an unrecognized login, account left unused", map[string]interface{}{
			"subjectId": subjectID,
			"requested": desired,
			"username":  username,
		})
		return models.Credential{}, fmt.Errorf("%w: %q", ErrUnexpectedLogin, username)
	}

	p.logger.Info("isolated storage account created", map[string]interface{}{
		"subjectId": subjectID,
		"username":  username,
	})

	return p.config.Credential(username, secret), nil
}

func (p *Provisioner) placeholder(subjectID int64) models.Credential {
	username := PlaceholderUsername(subjectID)
	metrics.CredentialsProvisioned.WithLabelValues(string(models.TierPlaceholder)).Inc()
	p.logger.Error("issued placeholder credential, buyer has no working storage access", map[string]interface{}{
		"subjectId": subjectID,
		"username":  username,
		"tier":      string(models.TierPlaceholder),
		"degraded":  true,
	})

	return models.Credential{
		Username: username,
		Secret:   strings.ReplaceAll(uuid.NewString(), "-", ""),
		Tier:     models.TierPlaceholder,
	}
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return "quota"
	case errors.Is(err, ErrBackendUnavailable), errors.Is(err, context.DeadlineExceeded):
		return "transient"
	default:
		return "rejected"
	}
}

func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
}
