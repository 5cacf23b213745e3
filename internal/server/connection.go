package server

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"
)

// MaxLineLength bounds a single protocol line, terminator included.
const MaxLineLength = 64 * 1024

// ConnectionHandler serves one accepted connection until it ends.
type ConnectionHandler func(ctx context.Context, conn *Connection)

// ConnectionConfig holds per-connection settings.
type ConnectionConfig struct {
	IdleTimeout    time.Duration
	CommandTimeout time.Duration
	Logger         *slog.Logger
}

// Connection wraps a client socket with buffered line I/O and deadlines.
type Connection struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	idleTimeout    time.Duration
	commandTimeout time.Duration
	logger         *slog.Logger

	closed atomic.Bool
}

// NewConnection wraps c.
func NewConnection(c net.Conn, cfg ConnectionConfig) *Connection {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		conn:           c,
		reader:         bufio.NewReader(c),
		writer:         bufio.NewWriter(c),
		idleTimeout:    cfg.IdleTimeout,
		commandTimeout: cfg.CommandTimeout,
		logger:         logger,
	}
}

// Reader returns the buffered reader.
func (c *Connection) Reader() *bufio.Reader {
	return c.reader
}

// Writer returns the buffered writer.
func (c *Connection) Writer() *bufio.Writer {
	return c.writer
}

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() *slog.Logger {
	return c.logger
}

// RemoteAddr returns the client address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ResetIdleTimeout bounds the wait for the client's next command.
func (c *Connection) ResetIdleTimeout() error {
	if c.idleTimeout <= 0 {
		return c.conn.SetReadDeadline(time.Time{})
	}
	return c.conn.SetReadDeadline(time.Now().Add(c.idleTimeout))
}

// SetCommandTimeout bounds the processing of the current command,
// including any payload it reads and the reply it writes.
func (c *Connection) SetCommandTimeout() error {
	if c.commandTimeout <= 0 {
		return c.conn.SetDeadline(time.Time{})
	}
	return c.conn.SetDeadline(time.Now().Add(c.commandTimeout))
}

// ReadLine reads one line and strips the CRLF or LF terminator.
func (c *Connection) ReadLine() (string, error) {
	var sb strings.Builder
	for {
		chunk, err := c.reader.ReadSlice('\n')
		if sb.Len()+len(chunk) > MaxLineLength {
			return "", ErrLineTooLong
		}
		sb.Write(chunk)
		if err == bufio.ErrBufferFull {
			continue
		}
		if err != nil {
			return "", err
		}
		break
	}
	line := sb.String()
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// WriteLine writes s followed by CRLF and flushes.
func (c *Connection) WriteLine(s string) error {
	if _, err := c.writer.WriteString(s + "\r\n"); err != nil {
		return err
	}
	return c.writer.Flush()
}

// Flush flushes buffered output.
func (c *Connection) Flush() error {
	return c.writer.Flush()
}

// Close closes the socket. Subsequent calls are no-ops.
func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// IsClosed reports whether Close has been called.
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}
