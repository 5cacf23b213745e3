package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/infodancer/maild/internal/auth"
	"github.com/infodancer/maild/internal/config"
	"github.com/infodancer/maild/internal/logging"
	"github.com/infodancer/maild/internal/mailstore"
	"github.com/infodancer/maild/internal/metrics"
	"github.com/infodancer/maild/internal/pop3"
	"github.com/infodancer/maild/internal/smtp"
)

// runServe runs the POP3 and SMTP services, plus the metrics endpoint
// when enabled, until SIGINT or SIGTERM.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	flags := config.RegisterFlags(fs)

	cfg, err := loadConfig(fs, flags, args)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var collector metrics.Collector = &metrics.NoopCollector{}
	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector = metrics.NewPrometheusCollector(registry)
	}

	// The stores, the lock table and the auth backend are shared so that
	// both services see the same mailboxes and users.
	backend, err := auth.Open(cfg.Auth)
	if err != nil {
		return fmt.Errorf("opening auth provider: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("error closing auth provider", "error", err)
		}
	}()

	store, err := mailstore.NewMaildir(cfg.Server.Maildir)
	if err != nil {
		return err
	}
	locker := mailstore.NewLocker()

	pop, err := pop3.NewStack(pop3.StackConfig{
		Config:    cfg,
		Store:     store,
		Locker:    locker,
		Auth:      backend,
		Collector: collector,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("building pop3 service: %w", err)
	}
	defer pop.Close() //nolint:errcheck

	sub, err := smtp.NewStack(smtp.StackConfig{
		Config:    cfg,
		Store:     store,
		Auth:      backend,
		Collector: collector,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("building smtp service: %w", err)
	}
	defer sub.Close() //nolint:errcheck

	logger.Info("starting maild",
		"hostname", cfg.Server.Hostname,
		"pop3_listeners", len(cfg.Pop3.Listeners),
		"smtp_listeners", len(cfg.SMTP.Listeners),
		"smtp_workers", cfg.SMTP.Workers,
		"auth", cfg.Auth.Type,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pop.Run(gctx) })
	g.Go(func() error { return sub.Run(gctx) })

	if registry != nil {
		metricsServer := metrics.NewPrometheusServer(cfg.Metrics.Address, cfg.Metrics.Path, registry)
		g.Go(func() error {
			logger.Info("metrics server listening", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
			if err := metricsServer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("maild stopped")
	return nil
}
