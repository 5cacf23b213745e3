package smtp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Conn is the part of a connection that commands use. DATA and AUTH read
// continuation lines from it and write intermediate replies.
type Conn interface {
	Logger() *slog.Logger
	ReadLine() (string, error)
	WriteLine(s string) error
}

// Command represents an SMTP command that can be executed.
type Command interface {
	// Name returns the command verb (e.g., "HELO", "MAIL", "DATA").
	Name() string

	// Execute processes the command and returns the final reply. A non-nil
	// error means the transport failed and the session must end.
	Execute(ctx context.Context, sess *Session, conn Conn, arg string) (ReplyLine, error)
}

// Commands is a registry of available commands.
type Commands map[string]Command

// Register adds a command to the registry.
func (c Commands) Register(cmd Command) {
	c[strings.ToUpper(cmd.Name())] = cmd
}

// Get retrieves a command by name (case-insensitive).
func (c Commands) Get(name string) (Command, bool) {
	cmd, ok := c[strings.ToUpper(name)]
	return cmd, ok
}

// ParseCommand splits a command line into its verb and the remainder.
// Unlike POP3 arguments, the remainder is kept intact: MAIL FROM and
// RCPT TO carry paths and parameters that are parsed by the command.
func ParseCommand(line string) (string, string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", fmt.Errorf("empty command")
	}

	verb, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(verb), strings.TrimSpace(arg), nil
}
