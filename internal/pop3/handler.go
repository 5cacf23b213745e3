package pop3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/infodancer/maild/internal/address"
	"github.com/infodancer/maild/internal/auth"
	"github.com/infodancer/maild/internal/digest"
	"github.com/infodancer/maild/internal/logging"
	"github.com/infodancer/maild/internal/mailstore"
	"github.com/infodancer/maild/internal/metrics"
	"github.com/infodancer/maild/internal/server"
)

// TooManyConnections is written to connections refused by the limiter.
const TooManyConnections = "-ERR [SYS/TEMP] too many connections\r\n"

// Config wires a POP3 handler to its collaborators.
type Config struct {
	Hostname  string
	Store     mailstore.Store
	Locker    *mailstore.Locker
	Auth      auth.Provider
	Secrets   auth.SecretProvider
	Collector metrics.Collector
}

// Handler creates a POP3 protocol handler with the given configuration.
func Handler(cfg Config) server.ConnectionHandler {
	if cfg.Locker == nil {
		cfg.Locker = mailstore.NewLocker()
	}
	if cfg.Collector == nil {
		cfg.Collector = &metrics.NoopCollector{}
	}

	cmds := make(Commands)
	RegisterAuthCommands(cmds, cfg.Auth, cfg.Secrets, cfg.Store, cfg.Locker, cfg.Collector)
	RegisterTransactionCommands(cmds, cfg.Collector)

	return func(ctx context.Context, conn *server.Connection) {
		handleConnection(ctx, conn, cfg.Hostname, cmds, cfg.Collector)
	}
}

// RejectConnection writes the busy reply for a connection over the limit.
func RejectConnection(c net.Conn) {
	_, _ = io.WriteString(c, TooManyConnections)
}

// handleConnection manages a single POP3 connection.
func handleConnection(ctx context.Context, conn *server.Connection, hostname string, cmds Commands, collector metrics.Collector) {
	logger := logging.FromContext(ctx)

	collector.ConnectionOpened(metrics.ProtocolPOP3)
	defer collector.ConnectionClosed(metrics.ProtocolPOP3)

	sess := NewSession(hostname, digest.NewNonce())
	// A dropped connection releases the lock and commits nothing.
	defer sess.Close()

	logger.Info("starting POP3 session", "state", sess.State().String())

	greeting := fmt.Sprintf("+OK %s POP3 server ready %s", hostname, sess.Nonce())
	if err := conn.WriteLine(greeting); err != nil {
		logger.Error("failed to send greeting", "error", err.Error())
		return
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("context cancelled, closing connection")
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

		cmdName, args, err := ParseCommand(line)
		if err != nil {
			if !send(conn, errResponse("Invalid command")) {
				return
			}
			continue
		}

		cmd, ok := cmds.Get(cmdName)
		if !ok {
			if !send(conn, errResponse("Unknown command")) {
				return
			}
			continue
		}

		logger.Debug("executing command",
			"command", cmdName,
			"args_count", len(args),
		)

		collector.CommandProcessed(metrics.ProtocolPOP3, cmdName)

		resp, err := cmd.Execute(ctx, sess, conn, args)
		if err != nil {
			logger.Error("command execution error",
				"command", cmdName,
				"error", err.Error(),
			)
			resp = errResponse("Internal server error")
		}

		if !send(conn, resp) {
			return
		}

		logger.Debug("sent response",
			"ok", resp.OK,
			"message", resp.Message,
		)

		switch cmdName {
		case "PASS", "APOP":
			// Commands refused before reaching a provider are not auth attempts.
			if resp.OK || resp.Code == "AUTH" {
				collector.AuthAttempt(metrics.ProtocolPOP3, address.Domain(sess.Username()), resp.OK)
			}
		case "QUIT":
			if sess.State() == StateClosed {
				logger.Info("QUIT command received, closing connection")
				return
			}
		}
	}
}

// send writes resp and reports whether the connection is still usable.
func send(conn *server.Connection, resp Response) bool {
	if _, err := conn.Writer().WriteString(resp.String()); err != nil {
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
