// internal/app/services.go
package app

import (
	"context"
	"fmt"
	"time"

	"entitlement-workers/internal/activation"
	"entitlement-workers/internal/audit"
	"entitlement-workers/internal/common/config"
	"entitlement-workers/internal/common/database"
	"entitlement-workers/internal/common/logger"
	"entitlement-workers/internal/common/observability"
	"entitlement-workers/internal/common/retry"
	"entitlement-workers/internal/common/validation"
	"entitlement-workers/internal/notify"
	"entitlement-workers/internal/payment"
	"entitlement-workers/internal/provisioning"
	"entitlement-workers/internal/store"
	"entitlement-workers/pkg/registry"
)

// Services holds every long-lived dependency of the activation subsystem.
// Redis and Elasticsearch are optional and nil when unavailable.
type Services struct {
	Postgres      *database.PostgresClient
	Redis         *database.RedisClient
	Elasticsearch *database.ElasticsearchClient

	Orchestrator *activation.Orchestrator
	Reconciler   *activation.Reconciler
	Validator    *validation.Validator

	closers []func() error
	logger  logger.Logger
}

// Build connects to the backing stores and assembles the orchestrator and
// reconciler. Only Postgres is mandatory.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger, obs *observability.Observability) (*Services, error) {
	s := &Services{logger: log}

	pg, err := connectPostgres(ctx, cfg.Database.Postgres, log)
	if err != nil {
		return nil, err
	}
	s.Postgres = pg
	s.closers = append(s.closers, pg.Close)

	if cfg.Database.Postgres.MigrateOnStart {
		applied, err := database.Migrate(cfg.Database.Postgres)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
		log.Info("database migrations checked", map[string]interface{}{"applied": applied})
	}

	s.Redis = connectRedis(ctx, cfg.Database.Redis, log)
	if s.Redis != nil {
		s.closers = append(s.closers, s.Redis.Close)
	}

	recorder := audit.Recorder(audit.NopRecorder{})
	if cfg.Audit.Enabled {
		if es := connectElasticsearch(ctx, cfg.Database.Elasticsearch, log); es != nil {
			s.Elasticsearch = es
			if err := es.EnsureIndex(ctx, cfg.Audit.Index, audit.IndexMapping); err != nil {
				log.Warn("audit index not prepared, relying on dynamic mapping", map[string]interface{}{
					"index": cfg.Audit.Index,
					"error": err.Error(),
				})
			}
			recorder = audit.NewElasticsearchRecorder(es.Client, cfg.Audit.Index, log)
		}
	}

	verifierCfg := VerifierConfig(cfg)
	if err := verifierCfg.Validate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("invalid payments config: %w", err)
	}
	stripeAPI, paypalAPI := PaymentClients(cfg)
	verifier := payment.NewVerifier(stripeAPI, paypalAPI, verifierCfg, log)

	provCfg := provisioning.NewConfig(cfg.Provisioning)
	if err := provCfg.Validate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("invalid provisioning config: %w", err)
	}
	var accounts provisioning.AccountCreator
	if provCfg.Isolated.Configured() {
		accounts = provisioning.NewStorageBoxClient(provCfg.Isolated, provCfg.Timeout)
	}
	provisioner := provisioning.NewProvisioner(provCfg, accounts, log)

	var notifier activation.Notifier
	if cfg.Notifications.Email.Enabled || cfg.Notifications.SMS.Enabled {
		n, err := notify.NewNotifier(ctx, cfg.Notifications, log)
		if err != nil {
			log.Warn("confirmations disabled, notifier unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			notifier = n
		}
	}

	var entitlements activation.EntitlementStore = store.NewEntitlementStore(pg.DB)
	if s.Redis != nil {
		entitlements = store.NewCachedEntitlements(store.NewEntitlementStore(pg.DB), s.Redis.Client, s.Redis.CacheTTL, log)
	}

	s.Orchestrator = activation.NewOrchestrator(activation.Dependencies{
		Verifier:     verifier,
		Provisioner:  provisioner,
		Entitlements: entitlements,
		Subjects:     store.NewSubjectRepository(pg.DB),
		Pending:      store.NewPendingLedger(pg.DB),
		Notifier:     notifier,
		Audit:        recorder,
		Obs:          obs,
	}, log)
	s.Reconciler = activation.NewReconciler(s.Orchestrator, cfg.Activation.BulkConcurrency, log)

	reg, err := registry.Default()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load activity registry: %w", err)
	}
	if err := reg.Validate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("invalid activity registry: %w", err)
	}
	if s.Validator, err = validation.NewValidator(reg); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to compile input schemas: %w", err)
	}

	return s, nil
}

// Close releases connections in reverse order of acquisition.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	s.closers = nil
}

// VerifierConfig derives the payment verifier settings.
func VerifierConfig(cfg *config.Config) payment.VerifierConfig {
	return payment.VerifierConfig{
		Timeout:          config.GetDuration(cfg.Payments.VerificationTimeout),
		MaxAttempts:      cfg.Payments.MaxAttempts,
		DefaultItemID:    cfg.Activation.DefaultItemID,
		AllowDefaultItem: cfg.Activation.DefaultItemAllowed(),
	}
}

// PaymentClients returns a client per configured provider. Unconfigured
// providers come back as nil interfaces.
func PaymentClients(cfg *config.Config) (payment.StripeAPI, payment.PayPalAPI) {
	var (
		stripeAPI payment.StripeAPI
		paypalAPI payment.PayPalAPI
	)
	if cfg.Payments.Stripe.SecretKey != "" {
		stripeAPI = payment.NewStripeClient(cfg.Payments.Stripe.SecretKey)
	}
	if cfg.Payments.PayPal.ClientID != "" {
		paypalAPI = payment.NewPayPalClient(payment.PayPalConfig{
			ClientID:     cfg.Payments.PayPal.ClientID,
			ClientSecret: cfg.Payments.PayPal.ClientSecret,
			BaseURL:      cfg.Payments.PayPal.BaseURL,
			Timeout:      config.GetDuration(cfg.Payments.VerificationTimeout),
		})
	}
	return stripeAPI, paypalAPI
}

func connectPostgres(ctx context.Context, cfg config.PostgresConfig, log logger.Logger) (*database.PostgresClient, error) {
	pg, err := database.NewPostgres(cfg)
	if err != nil {
		return nil, err
	}

	attempt := 0
	err = retry.Do(ctx, retry.Backoff(15, 2*time.Second), func(ctx context.Context) error {
		attempt++
		if err := pg.Ping(ctx); err != nil {
			log.Warn("PostgreSQL connection failed, retrying...", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
			return err
		}
		return nil
	}, nil)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("postgres unreachable: %w", err)
	}

	log.Info("PostgreSQL connected successfully", nil)
	return pg, nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log logger.Logger) *database.RedisClient {
	if cfg.Address == "" {
		log.Info("redis not configured, entitlement cache disabled", nil)
		return nil
	}
	rdb, err := database.NewRedis(cfg)
	if err != nil {
		log.Warn("redis client failed, entitlement cache disabled", map[string]interface{}{"error": err.Error()})
		return nil
	}
	if err := retry.Do(ctx, retry.Backoff(3, time.Second), rdb.Ping, nil); err != nil {
		log.Warn("redis unreachable, entitlement cache disabled", map[string]interface{}{"error": err.Error()})
		rdb.Close()
		return nil
	}
	log.Info("Redis connected successfully", nil)
	return rdb
}

func connectElasticsearch(ctx context.Context, cfg config.ElasticsearchConfig, log logger.Logger) *database.ElasticsearchClient {
	es, err := database.NewElasticsearch(cfg)
	if err != nil {
		log.Warn("elasticsearch client failed, audit trail disabled", map[string]interface{}{"error": err.Error()})
		return nil
	}
	if err := retry.Do(ctx, retry.Backoff(3, time.Second), es.Ping, nil); err != nil {
		log.Warn("elasticsearch unreachable, audit trail disabled", map[string]interface{}{"error": err.Error()})
		return nil
	}
	log.Info("Elasticsearch connected successfully", nil)
	return es
}
