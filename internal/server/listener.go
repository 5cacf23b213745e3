package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/infodancer/maild/internal/logging"
)

// DefaultDrainTimeout is how long Serve waits for sessions after shutdown
// before closing their sockets.
const DefaultDrainTimeout = 30 * time.Second

// ListenerConfig holds configuration for a single listener.
type ListenerConfig struct {
	Address        string
	Protocol       string
	IdleTimeout    time.Duration
	CommandTimeout time.Duration
	DrainTimeout   time.Duration
	Logger         *slog.Logger
	Handler        ConnectionHandler

	// Limiter refuses connections over its limit; OnReject may write a
	// protocol-specific refusal before the socket is closed.
	Limiter  *ConnectionLimiter
	OnReject func(c net.Conn)

	// Pool, when set, runs sessions on a bounded set of workers and
	// blocks the accept loop while all of them are busy.
	Pool *WorkerPool
}

// Listener accepts connections on one address and hands each one to the
// configured handler.
type Listener struct {
	cfg    ListenerConfig
	logger *slog.Logger

	mu     sync.Mutex
	ln     net.Listener
	active map[*Connection]struct{}
	wg     sync.WaitGroup
}

// NewListener creates a listener; nothing is bound until Start or Serve.
func NewListener(cfg ListenerConfig) *Listener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	return &Listener{
		cfg:    cfg,
		logger: logger.With(slog.String("listener", cfg.Address), slog.String("protocol", cfg.Protocol)),
		active: make(map[*Connection]struct{}),
	}
}

// Address returns the configured address, or the bound one once serving.
func (l *Listener) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.ln.Addr().String()
	}
	return l.cfg.Address
}

// Start binds the configured address and serves until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.cfg.Address)
	if err != nil {
		return err
	}
	return l.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled or ln fails.
// On return every session has finished.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	if l.cfg.Handler == nil {
		_ = ln.Close()
		return ErrNoHandler
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	l.logger.Info("listener started", slog.String("address", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var acceptErr error
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				acceptErr = err
			}
			break
		}
		if !l.dispatch(ctx, c) {
			break
		}
	}

	_ = ln.Close()
	l.drain()
	l.logger.Info("listener stopped")

	if acceptErr != nil {
		return acceptErr
	}
	return ctx.Err()
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

// dispatch starts a session for c. It returns false when the listener
// should stop accepting.
func (l *Listener) dispatch(ctx context.Context, c net.Conn) bool {
	if l.cfg.Limiter != nil {
		if !l.cfg.Limiter.TryAcquire() {
			l.logger.Warn("connection limit reached",
				slog.String("remote_addr", c.RemoteAddr().String()),
				slog.Int64("active", l.cfg.Limiter.Active()),
				slog.Int64("rejected", l.cfg.Limiter.Rejected()),
			)
			if l.cfg.OnReject != nil {
				_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
				l.cfg.OnReject(c)
			}
			_ = c.Close()
			return true
		}
	}

	logger := l.logger.With(
		slog.String("session_id", uuid.NewString()),
		slog.String("protocol", l.cfg.Protocol),
		slog.String("remote_addr", c.RemoteAddr().String()),
	)
	conn := NewConnection(c, ConnectionConfig{
		IdleTimeout:    l.cfg.IdleTimeout,
		CommandTimeout: l.cfg.CommandTimeout,
		Logger:         logger,
	})

	l.track(conn)
	l.wg.Add(1)
	run := func() {
		defer l.wg.Done()
		defer l.untrack(conn)
		defer func() { _ = conn.Close() }()
		if l.cfg.Limiter != nil {
			defer l.cfg.Limiter.Release()
		}
		l.cfg.Handler(logging.NewContext(ctx, logger), conn)
	}

	if l.cfg.Pool == nil {
		go run()
		return true
	}

	if err := l.cfg.Pool.Go(ctx, run); err != nil {
		// Shutdown while waiting for a worker.
		l.wg.Done()
		l.untrack(conn)
		_ = conn.Close()
		if l.cfg.Limiter != nil {
			l.cfg.Limiter.Release()
		}
		return false
	}
	return true
}

func (l *Listener) track(c *Connection) {
	l.mu.Lock()
	l.active[c] = struct{}{}
	l.mu.Unlock()
}

func (l *Listener) untrack(c *Connection) {
	l.mu.Lock()
	delete(l.active, c)
	l.mu.Unlock()
}

// drain waits for sessions to end, force-closing stragglers after the
// drain timeout. Closed sockets end their sessions without a commit.
func (l *Listener) drain() {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(l.cfg.DrainTimeout):
	}

	l.mu.Lock()
	l.logger.Warn("closing sessions still open after drain timeout", slog.Int("count", len(l.active)))
	for c := range l.active {
		_ = c.Close()
	}
	l.mu.Unlock()
	<-done
}
