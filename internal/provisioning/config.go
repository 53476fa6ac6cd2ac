// internal/provisioning/config.go
package provisioning

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"entitlement-workers/internal/common/config"
	"entitlement-workers/internal/models"
)

const placeholderPrefix = "pending-"

type IsolatedConfig struct {
	BaseURL        string
	APIToken       string
	BoxID          string
	UsernamePrefix string
	HostSuffix     string
}

func (c IsolatedConfig) Configured() bool {
	return c.BaseURL != "" && c.APIToken != "" && c.BoxID != ""
}

type SharedConfig struct {
	Username string
	Secret   string
	Host     string
}

func (c SharedConfig) Configured() bool {
	return c.Username != "" && c.Secret != ""
}

// Config is assembled once at startup and never mutated.
type Config struct {
	Timeout  time.Duration
	Isolated IsolatedConfig
	Shared   SharedConfig
}

func NewConfig(cfg config.ProvisioningConfig) Config {
	prefix := cfg.Isolated.UsernamePrefix
	if prefix == "" {
		prefix = "vault"
	}
	return Config{
		Timeout: config.GetDuration(cfg.Timeout),
		Isolated: IsolatedConfig{
			BaseURL:        strings.TrimSuffix(cfg.Isolated.BaseURL, "/"),
			APIToken:       cfg.Isolated.APIToken,
			BoxID:          cfg.Isolated.BoxID,
			UsernamePrefix: prefix,
			HostSuffix:     strings.TrimPrefix(cfg.Isolated.HostSuffix, "."),
		},
		Shared: SharedConfig{
			Username: cfg.Shared.Username,
			Secret:   cfg.Shared.Secret,
			Host:     cfg.Shared.Host,
		},
	}
}

func (c Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("provisioning timeout must be positive")
	}
	if c.Isolated.Configured() && c.Isolated.HostSuffix == "" {
		return fmt.Errorf("isolated provisioning requires a host suffix")
	}
	return nil
}

// SelectTiers lists the tiers to attempt, in order. The placeholder tier is always last.
func SelectTiers(cfg Config) []models.CredentialTier {
	tiers := make([]models.CredentialTier, 0, 3)
	if cfg.Isolated.Configured() {
		tiers = append(tiers, models.TierIsolated)
	}
	if cfg.Shared.Configured() {
		tiers = append(tiers, models.TierShared)
	}
	return append(tiers, models.TierPlaceholder)
}

// IsolatedUsername builds "<prefix>-<hash8>-<nonce>". The hash part is stable
// per subject so repeated accounts for one buyer are easy to spot.
func IsolatedUsername(prefix string, subjectID int64, nonce string) string {
	sum := sha256.Sum256([]byte(strconv.FormatInt(subjectID, 10)))
	return fmt.Sprintf("%s-%s-%s", prefix, hex.EncodeToString(sum[:])[:8], nonce)
}

func PlaceholderUsername(subjectID int64) string {
	return placeholderPrefix + strconv.FormatInt(subjectID, 10)
}

func (c Config) isolatedPattern() *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(c.Isolated.UsernamePrefix) + `-[0-9a-f]{8}-[0-9a-f]{4}$`)
}

// TierOf infers the tier from the username alone.
func TierOf(cfg Config, username string) models.CredentialTier {
	switch {
	case username == "":
		return ""
	case strings.HasPrefix(username, placeholderPrefix):
		return models.TierPlaceholder
	case cfg.Shared.Username != "" && username == cfg.Shared.Username:
		return models.TierShared
	case cfg.isolatedPattern().MatchString(username):
		return models.TierIsolated
	default:
		return ""
	}
}

// HostFor derives the connection host from the username without calling the backend.
func HostFor(cfg Config, username string) string {
	switch TierOf(cfg, username) {
	case models.TierIsolated:
		if cfg.Isolated.HostSuffix == "" {
			return ""
		}
		return username + "." + cfg.Isolated.HostSuffix
	case models.TierShared:
		return cfg.Shared.Host
	default:
		return ""
	}
}

// Credential rebuilds the full credential for a stored username and secret.
func (c Config) Credential(username, secret string) models.Credential {
	return models.Credential{
		Username: username,
		Secret:   secret,
		Host:     HostFor(c, username),
		Tier:     TierOf(c, username),
	}
}
