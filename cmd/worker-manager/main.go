// cmd/worker-manager/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"entitlement-workers/internal/app"
	"entitlement-workers/internal/common/camunda"
	"entitlement-workers/internal/common/config"
	"entitlement-workers/internal/common/logger"
	"entitlement-workers/internal/common/observability"

	aber "entitlement-workers/internal/workers/payment/activate-by-reference"
	ae "entitlement-workers/internal/workers/payment/activate-entitlement"
	br "entitlement-workers/internal/workers/payment/bulk-rescue"
	lpp "entitlement-workers/internal/workers/payment/list-pending-payments"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
	})

	zapLog.Info("Starting worker manager...", zap.String("environment", cfg.App.Environment))

	obs, err := observability.New("entitlement-workers")
	if err != nil {
		zapLog.Warn("otel metrics disabled", zap.Error(err))
		obs = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Init Zeebe Client with retry ---
	zeebe, err := camunda.NewClientWithConfig(ctx, &camunda.ClientConfig{
		GatewayAddress:         cfg.Camunda.BrokerAddress,
		UsePlaintextConnection: true,
		ConnectionTimeout:      config.GetDuration(cfg.Camunda.RequestTimeout),
	}, log)
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	services, err := app.Build(ctx, cfg, log, obs)
	if err != nil {
		zeebe.Close()
		zapLog.Fatal("service wiring failed", zap.Error(err))
	}

	// --- Register Workers ---
	workers := camunda.NewWorkers(zeebe, log)

	workers.Start(ae.TaskType, config.GetWorkerConfig(cfg, ae.TaskType), ae.NewHandler(
		ae.NewConfig(config.GetWorkerConfig(cfg, ae.TaskType)),
		services.Orchestrator, services.Validator, obs, log,
	))

	workers.Start(aber.TaskType, config.GetWorkerConfig(cfg, aber.TaskType), aber.NewHandler(
		aber.NewConfig(config.GetWorkerConfig(cfg, aber.TaskType)),
		services.Reconciler, services.Validator, obs, log,
	))

	workers.Start(br.TaskType, config.GetWorkerConfig(cfg, br.TaskType), br.NewHandler(
		br.NewConfig(config.GetWorkerConfig(cfg, br.TaskType)),
		services.Reconciler, services.Validator, obs, log,
	))

	workers.Start(lpp.TaskType, config.GetWorkerConfig(cfg, lpp.TaskType), lpp.NewHandler(
		lpp.NewConfig(config.GetWorkerConfig(cfg, lpp.TaskType)),
		services.Reconciler, obs, log,
	))

	zapLog.Info("workers registered", zap.Int("count", workers.Count()))

	// --- Health & Metrics Server ---
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.HTTPPort),
		Handler:           newHealthMux(readinessChecks(zeebe, services), log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping workers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	workers.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	if err := zeebe.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}
	services.Close()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error flushing metrics", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped")
}

func readinessChecks(zeebe *camunda.Client, services *app.Services) map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"zeebe":    zeebe.HealthCheck,
		"postgres": services.Postgres.Ping,
	}
	if services.Redis != nil {
		checks["redis"] = services.Redis.Ping
	}
	return checks
}
