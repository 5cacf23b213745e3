package pop3

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ConnectionLogger is the interface for accessing logger from commands.
type ConnectionLogger interface {
	Logger() *slog.Logger
}

// Command represents a POP3 command that can be executed.
type Command interface {
	// Name returns the command name (e.g., "USER", "PASS", "QUIT").
	Name() string

	// Execute processes the command and returns a response.
	// The response should not include the +OK or -ERR prefix.
	// conn provides access to the connection logger.
	Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error)
}

// Response represents a POP3 response to a command.
type Response struct {
	// OK indicates success (+OK) or failure (-ERR).
	OK bool

	// Code is an optional RFC 2449 response code, e.g. "AUTH" or "SYS/TEMP".
	Code string

	// Message is the response message (without +OK/-ERR prefix).
	Message string

	// Lines contains multi-line response data (LIST, RETR, CAPA...).
	// Multi marks the response as multi-line even when Lines is empty.
	Lines []string
	Multi bool
}

// String formats the response as a POP3 protocol string.
func (r Response) String() string {
	var sb strings.Builder

	if r.OK {
		sb.WriteString("+OK")
	} else {
		sb.WriteString("-ERR")
	}

	if r.Code != "" {
		sb.WriteString(" [")
		sb.WriteString(r.Code)
		sb.WriteString("]")
	}

	if r.Message != "" {
		sb.WriteString(" ")
		sb.WriteString(r.Message)
	}

	sb.WriteString("\r\n")

	if len(r.Lines) > 0 || r.Multi {
		for _, line := range r.Lines {
			// Byte-stuff lines that start with "."
			if strings.HasPrefix(line, ".") {
				sb.WriteString(".")
			}
			sb.WriteString(line)
			sb.WriteString("\r\n")
		}
		sb.WriteString(".\r\n")
	}

	return sb.String()
}

// errResponse builds a -ERR response.
func errResponse(message string) Response {
	return Response{OK: false, Message: message}
}

// Commands is a set of commands keyed by upper-case name.
type Commands map[string]Command

// Register adds cmd to the set, replacing any command of the same name.
func (c Commands) Register(cmd Command) {
	c[strings.ToUpper(cmd.Name())] = cmd
}

// Get retrieves a command by name.
func (c Commands) Get(name string) (Command, bool) {
	cmd, ok := c[strings.ToUpper(name)]
	return cmd, ok
}

// ParseCommand parses a POP3 command line into command name and arguments.
// Returns the command name and arguments, or an error if the line is invalid.
// PASS is the exception: its single argument is the rest of the line after
// the separating space, so passwords keep their spaces.
func ParseCommand(line string) (string, []string, error) {
	// Split on whitespace
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("empty command")
	}

	cmdName := strings.ToUpper(parts[0])
	if cmdName == "PASS" {
		rest := strings.TrimLeftFunc(line, unicode.IsSpace)[len(parts[0]):]
		_, sep := utf8.DecodeRuneInString(rest)
		if rest = rest[sep:]; rest == "" {
			return cmdName, []string{}, nil
		}
		return cmdName, []string{rest}, nil
	}

	return cmdName, parts[1:], nil
}
