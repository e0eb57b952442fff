package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/amirasaad/coopcredit/infra/initializer"
	"github.com/amirasaad/coopcredit/pkg/app"
	"github.com/amirasaad/coopcredit/pkg/config"
	"github.com/amirasaad/coopcredit/webapi"
	log "github.com/charmbracelet/log"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return fmt.Errorf("failed to load application configuration: %w", err)
	}

	rt, err := initializer.InitializeDependencies(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			slog.Error("❌ [ERROR] Failed to release resources", "error", cerr)
		}
	}()
	logger := rt.Deps.Logger

	a := app.New(rt.Deps, cfg)
	if err := initializer.RegisterAppJobs(rt, a); err != nil {
		return fmt.Errorf("failed to register jobs: %w", err)
	}
	rt.Scheduler.Start()

	fiberApp := webapi.SetupApp(a)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := cfg.Server.Addr()
	logger.Info("Starting server",
		"env", cfg.Env,
		"address", addr,
		"scheme", cfg.Server.Scheme,
		"timezone", rt.Location.String(),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- fiberApp.Listen(addr)
	}()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		logger.Info("Shutting down server")
		err = fiberApp.ShutdownWithTimeout(shutdownTimeout)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	rt.Scheduler.Stop(stopCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
