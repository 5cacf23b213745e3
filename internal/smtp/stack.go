package smtp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/infodancer/maild/internal/auth"
	"github.com/infodancer/maild/internal/config"
	"github.com/infodancer/maild/internal/logging"
	"github.com/infodancer/maild/internal/mailstore"
	"github.com/infodancer/maild/internal/metrics"
	"github.com/infodancer/maild/internal/server"
)

// StackConfig groups the configuration needed to build a Stack.
// Components left nil are built from Config and owned by the Stack.
type StackConfig struct {
	Config    config.Config
	Store     mailstore.Store   // overrides server.maildir when non-nil
	Auth      auth.Provider     // overrides [auth] when non-nil
	Collector metrics.Collector // nil → NoopCollector
	Logger    *slog.Logger      // nil → slog.Default()
}

// Stack owns all components of a running SMTP service.
type Stack struct {
	server   *server.Server
	handler  server.ConnectionHandler
	pool     *server.WorkerPool
	timeouts config.TimeoutsConfig
	closers  []io.Closer
	logger   *slog.Logger
}

// NewStack creates a Stack from the given configuration. Sessions run on a
// pool of smtpd.workers workers; accepting blocks while all are busy.
func NewStack(cfg StackConfig) (*Stack, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	collector := cfg.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}

	smtpCfg := cfg.Config.SMTP
	s := &Stack{logger: logger, timeouts: smtpCfg.Timeouts}

	provider := cfg.Auth
	if provider == nil {
		b, err := auth.Open(cfg.Config.Auth)
		if err != nil {
			return nil, err
		}
		provider = b
		s.closers = append(s.closers, b)
		logger.Info("authentication enabled", "type", cfg.Config.Auth.Type)
	}

	store := cfg.Store
	if store == nil {
		md, err := mailstore.NewMaildir(cfg.Config.Server.Maildir)
		if err != nil {
			s.Close() //nolint:errcheck
			return nil, err
		}
		store = md
		logger.Info("message store enabled", "type", "maildir", "path", cfg.Config.Server.Maildir)
	}

	s.handler = Handler(Config{
		Hostname: cfg.Config.Server.Hostname,
		Limits: Limits{
			MaxMessageSize: smtpCfg.MaxMessageSize,
			MaxRecipients:  smtpCfg.MaxRecipients,
			RequireAuth:    smtpCfg.AuthRequired(),
		},
		Store:     store,
		Auth:      provider,
		Collector: collector,
	})

	s.pool = server.NewWorkerPool(smtpCfg.Workers)

	srv, err := server.New(server.Config{
		Protocol:       metrics.ProtocolSMTP,
		Addresses:      smtpCfg.Addresses(),
		IdleTimeout:    smtpCfg.Timeouts.IdleTimeout(),
		CommandTimeout: smtpCfg.Timeouts.CommandTimeout(),
		Logger:         logger,
		Handler:        s.handler,
		Pool:           s.pool,
	})
	if err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}

	s.server = srv
	return s, nil
}

// Run starts the listeners and blocks until the context is cancelled and
// in-flight sessions have drained.
func (s *Stack) Run(ctx context.Context) error {
	return s.server.Run(ctx)
}

// Shutdown stops accepting connections.
func (s *Stack) Shutdown() {
	s.server.Shutdown()
}

// Close shuts down all closeable components in reverse registration order.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunSingleConn processes exactly one SMTP session on the given connection.
func (s *Stack) RunSingleConn(ctx context.Context, conn net.Conn) {
	c := server.NewConnection(conn, server.ConnectionConfig{
		IdleTimeout:    s.timeouts.IdleTimeout(),
		CommandTimeout: s.timeouts.CommandTimeout(),
		Logger:         s.logger,
	})
	defer func() { _ = c.Close() }()
	s.handler(logging.NewContext(ctx, s.logger), c)
}
