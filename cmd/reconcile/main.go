// cmd/reconcile/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"entitlement-workers/internal/app"
	"entitlement-workers/internal/cli"
	"entitlement-workers/internal/common/config"
	"entitlement-workers/internal/common/logger"
	"entitlement-workers/pkg/registry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cmd := cli.NewRootCommand(connect, registry.Default)
	err := cmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}

// connect wires the same services the worker manager uses, logging to stderr
// so command output stays clean.
func connect(ctx context.Context) (cli.Reconciler, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config load failed: %w", err)
	}

	zapLog := logger.New(cfg.Logging.Level, "console")
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{"cli": "reconcile"})

	services, err := app.Build(ctx, cfg, log, nil)
	if err != nil {
		_ = zapLog.Sync()
		return nil, nil, err
	}
	return services.Reconciler, func() {
		services.Close()
		_ = zapLog.Sync()
	}, nil
}
