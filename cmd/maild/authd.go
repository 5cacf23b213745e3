package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"github.com/infodancer/maild/internal/auth"
	"github.com/infodancer/maild/internal/config"
	"github.com/infodancer/maild/internal/logging"
)

// runAuthd serves the SQLite user database to remote maild instances.
func runAuthd(args []string) error {
	fs := flag.NewFlagSet("authd", flag.ExitOnError)
	flags := config.RegisterFlags(fs)

	cfg, err := loadConfig(fs, flags, args)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	users, err := auth.OpenSQLite(cfg.Auth.Database)
	if err != nil {
		return err
	}
	defer users.Close() //nolint:errcheck

	ln, err := net.Listen("tcp", cfg.Authd.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Authd.Listen, err)
	}

	srv := auth.NewGRPCServer(
		auth.NewGRPCService(users, logger),
		grpc.ChainUnaryInterceptor(auth.LoggingInterceptor(logger)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down auth service")
		srv.GracefulStop()
	}()

	logger.Info("auth service listening", "address", ln.Addr().String(), "database", cfg.Auth.Database)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
