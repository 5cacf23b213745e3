package pop3

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
	Locker    *mailstore.Locker // shared with other stacks when non-nil
	Auth      auth.Backend      // overrides [auth] when non-nil
	Collector metrics.Collector // nil → NoopCollector
	Logger    *slog.Logger      // nil → slog.Default()
}

// Stack owns all components of a running POP3 service and manages their lifecycle.
type Stack struct {
	server   *server.Server
	handler  server.ConnectionHandler
	timeouts config.TimeoutsConfig
	closers  []io.Closer
	logger   *slog.Logger
}

// NewStack creates a Stack from the given configuration, wiring up all components.
func NewStack(cfg StackConfig) (*Stack, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	collector := cfg.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}

	s := &Stack{logger: logger, timeouts: cfg.Config.Pop3.Timeouts}

	backend := cfg.Auth
	if backend == nil {
		b, err := auth.Open(cfg.Config.Auth)
		if err != nil {
			return nil, err
		}
		backend = b
		s.closers = append(s.closers, b)
		logger.Info("authentication enabled", "type", cfg.Config.Auth.Type)
	}

	// Create message store: caller-supplied store takes priority over config.
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

	locker := cfg.Locker
	if locker == nil {
		locker = mailstore.NewLocker()
	}

	s.handler = Handler(Config{
		Hostname:  cfg.Config.Server.Hostname,
		Store:     store,
		Locker:    locker,
		Auth:      backend,
		Secrets:   backend,
		Collector: collector,
	})

	srv, err := server.New(server.Config{
		Protocol:       metrics.ProtocolPOP3,
		Addresses:      cfg.Config.Pop3.Addresses(),
		IdleTimeout:    cfg.Config.Pop3.Timeouts.IdleTimeout(),
		CommandTimeout: cfg.Config.Pop3.Timeouts.CommandTimeout(),
		Logger:         logger,
		Handler:        s.handler,
		Limiter:        server.NewConnectionLimiter(metrics.ProtocolPOP3, cfg.Config.Pop3.MaxConnections, collector),
		OnReject:       RejectConnection,
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

// RunSingleConn processes exactly one POP3 session on the given connection.
func (s *Stack) RunSingleConn(ctx context.Context, conn net.Conn) {
	c := server.NewConnection(conn, server.ConnectionConfig{
		IdleTimeout:    s.timeouts.IdleTimeout(),
		CommandTimeout: s.timeouts.CommandTimeout(),
		Logger:         s.logger,
	})
	defer func() { _ = c.Close() }()
	s.handler(logging.NewContext(ctx, s.logger), c)
}
