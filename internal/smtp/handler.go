package smtp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/infodancer/maild/internal/auth"
	"github.com/infodancer/maild/internal/logging"
	"github.com/infodancer/maild/internal/mailstore"
	"github.com/infodancer/maild/internal/metrics"
	"github.com/infodancer/maild/internal/server"
)

// Config wires an SMTP handler to its collaborators.
type Config struct {
	Hostname  string
	Limits    Limits
	Store     mailstore.Store
	Auth      auth.Provider
	Collector metrics.Collector
}

// Handler creates an SMTP protocol handler with the given configuration.
func Handler(cfg Config) server.ConnectionHandler {
	if cfg.Collector == nil {
		cfg.Collector = &metrics.NoopCollector{}
	}

	cmds := make(Commands)
	RegisterCommands(cmds, cfg.Store, cfg.Collector)
	RegisterAuthCommands(cmds, cfg.Auth, cfg.Collector)

	return func(ctx context.Context, conn *server.Connection) {
		handleConnection(ctx, conn, cfg, cmds)
	}
}

// handleConnection manages a single SMTP connection.
func handleConnection(ctx context.Context, conn *server.Connection, cfg Config, cmds Commands) {
	logger := logging.FromContext(ctx)
	collector := cfg.Collector

	collector.ConnectionOpened(metrics.ProtocolSMTP)
	defer collector.ConnectionClosed(metrics.ProtocolSMTP)

	sess := NewSession(cfg.Hostname, cfg.Limits)
	defer sess.Close()

	logger.Info("starting SMTP session", "state", sess.State().String())

	greeting := ReplyLine{Code: 220, Message: cfg.Hostname + " ESMTP Service Ready"}
	if !send(conn, greeting) {
		logger.Error("failed to send greeting")
		return
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("context cancelled, closing connection")
			send(conn, ReplyShuttingDown)
			return
		default:
		}

		if err := conn.ResetIdleTimeout(); err != nil {
			logger.Error("failed to reset idle timeout", "error", err.Error())
			return
		}

		line, err := conn.ReadLine()
		if err != nil {
			logReadError(logger, err)
			return
		}

		if err := conn.SetCommandTimeout(); err != nil {
			logger.Error("failed to set command timeout", "error", err.Error())
			return
		}

		verb, arg, err := ParseCommand(line)
		if err != nil {
			if !send(conn, ReplyUnknownCommand) {
				return
			}
			continue
		}

		cmd, ok := cmds.Get(verb)
		if !ok {
			if !send(conn, ReplyUnknownCommand) {
				return
			}
			continue
		}

		logger.Debug("executing command",
			"command", verb,
			"state", sess.State().String(),
		)

		collector.CommandProcessed(metrics.ProtocolSMTP, verb)

		reply, err := cmd.Execute(ctx, sess, conn, arg)
		if err != nil {
			// The transport failed mid-command; try to say so, then hang up.
			logger.Error("command aborted by transport error",
				"command", verb,
				"error", err.Error(),
			)
			send(conn, ReplyShuttingDown)
			return
		}

		if !send(conn, reply) {
			return
		}

		logger.Debug("sent reply", "code", reply.Code)

		if sess.State() == StateClosed {
			logger.Info("QUIT command received, closing connection")
			return
		}
	}
}

// send writes reply and reports whether the connection is still usable.
func send(conn *server.Connection, reply ReplyLine) bool {
	if _, err := conn.Writer().WriteString(reply.String()); err != nil {
		return false
	}
	return conn.Flush() == nil
}

func logReadError(logger *slog.Logger, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Info("client closed connection")
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Info("idle timeout, closing connection")
	default:
		logger.Error("error reading command", "error", err.Error())
	}
}
