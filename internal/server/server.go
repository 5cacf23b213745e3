package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Server runs one protocol on several listeners.
type Server struct {
	cfg    Config
	logger *slog.Logger

	listeners []*Listener
	mu        sync.Mutex
}

// Config holds configuration for creating a new Server. Limiter and Pool
// are shared by every listener of the server.
type Config struct {
	Protocol       string
	Addresses      []string
	IdleTimeout    time.Duration
	CommandTimeout time.Duration
	DrainTimeout   time.Duration
	Logger         *slog.Logger
	Handler        ConnectionHandler
	Limiter        *ConnectionLimiter
	OnReject       func(c net.Conn)
	Pool           *WorkerPool
}

// New creates a new Server with the given configuration.
func New(sc Config) (*Server, error) {
	if len(sc.Addresses) == 0 {
		return nil, errors.New("at least one listen address is required")
	}
	if sc.Handler == nil {
		return nil, ErrNoHandler
	}

	logger := sc.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{cfg: sc, logger: logger}, nil
}

func (s *Server) listenerConfig(address string) ListenerConfig {
	return ListenerConfig{
		Address:        address,
		Protocol:       s.cfg.Protocol,
		IdleTimeout:    s.cfg.IdleTimeout,
		CommandTimeout: s.cfg.CommandTimeout,
		DrainTimeout:   s.cfg.DrainTimeout,
		Logger:         s.logger,
		Handler:        s.cfg.Handler,
		Limiter:        s.cfg.Limiter,
		OnReject:       s.cfg.OnReject,
		Pool:           s.cfg.Pool,
	}
}

// Run starts all configured listeners and blocks until the context is cancelled.
// All listeners run in their own goroutines.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	for _, addr := range s.cfg.Addresses {
		s.listeners = append(s.listeners, NewListener(s.listenerConfig(addr)))
	}
	s.mu.Unlock()

	s.logger.Info("starting server",
		slog.String("protocol", s.cfg.Protocol),
		slog.Int("listener_count", len(s.listeners)),
	)

	// A failing listener cancels its siblings.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errChan := make(chan error, len(s.listeners))

	for _, l := range s.listeners {
		wg.Add(1)
		go func(listener *Listener) {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("listener %s: %w", listener.Address(), err)
				cancel()
			}
		}(l)
	}

	// Listeners return on cancellation, Shutdown, or error; each one
	// drains its sessions first.
	wg.Wait()
	if s.cfg.Pool != nil {
		s.cfg.Pool.Wait()
	}

	close(errChan)
	var firstErr error
	for err := range errChan {
		if firstErr == nil {
			firstErr = err
		}
		s.logger.Error("listener error", slog.String("error", err.Error()))
	}

	s.logger.Info("server stopped", slog.String("protocol", s.cfg.Protocol))

	return firstErr
}

// Shutdown stops accepting on every listener. Run returns once the
// in-flight sessions have drained.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.listeners {
		_ = l.Close()
	}
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}
