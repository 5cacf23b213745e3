package pop3

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/infodancer/maild/internal/address"
	"github.com/infodancer/maild/internal/metrics"
)

// maxMessageLine bounds a single stored line when splitting message content.
const maxMessageLine = 1 << 20

// notAuthenticated is the reply for mailbox commands before login.
var notAuthenticated = errResponse("not authenticated")

// statCommand implements the STAT command (RFC 1939).
// Returns the number of messages and total size in octets.
type statCommand struct{}

func (s *statCommand) Name() string {
	return "STAT"
}

func (s *statCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateAuthenticated {
		return notAuthenticated, nil
	}

	// STAT takes no arguments
	if len(args) > 0 {
		return errResponse("STAT command takes no arguments"), nil
	}

	return Response{OK: true, Message: fmt.Sprintf("%d %d", sess.MessageCount(), sess.TotalSize())}, nil
}

// listCommand implements the LIST command (RFC 1939).
// Without arguments, lists all recent messages. With argument, lists one message.
type listCommand struct {
	collector metrics.Collector
}

func (l *listCommand) Name() string {
	return "LIST"
}

func (l *listCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateAuthenticated {
		return notAuthenticated, nil
	}

	// LIST with no arguments - list all messages
	if len(args) == 0 {
		messages := sess.Listing()
		lines := make([]string, len(messages))
		var total int64
		for i, m := range messages {
			lines[i] = fmt.Sprintf("%d %d", m.MsgNum, m.Info.Size)
			total += m.Info.Size
		}
		l.collector.MessageListed(address.Domain(sess.Mailbox()))
		return Response{
			OK:      true,
			Message: fmt.Sprintf("%d messages (%d octets)", len(messages), total),
			Lines:   lines,
			Multi:   true,
		}, nil
	}

	// LIST with one argument - list specific message
	if len(args) != 1 {
		return errResponse("LIST command takes at most one argument"), nil
	}

	msgNum, err := strconv.Atoi(args[0])
	if err != nil {
		return errResponse("Invalid message number"), nil
	}

	msg, err := sess.GetListed(msgNum)
	if err != nil {
		return messageError(err), nil
	}

	return Response{OK: true, Message: fmt.Sprintf("%d %d", msgNum, msg.Size)}, nil
}

// retrCommand implements the RETR command (RFC 1939).
// Retrieves and sends the full message content.
type retrCommand struct {
	collector metrics.Collector
}

func (r *retrCommand) Name() string {
	return "RETR"
}

func (r *retrCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateAuthenticated {
		return notAuthenticated, nil
	}

	// RETR requires exactly one argument
	if len(args) != 1 {
		return errResponse("RETR command requires message number"), nil
	}

	msgNum, err := strconv.Atoi(args[0])
	if err != nil {
		return errResponse("Invalid message number"), nil
	}

	msg, err := sess.GetMessage(msgNum)
	if err != nil {
		return messageError(err), nil
	}

	reader, err := sess.Store().Retrieve(ctx, sess.Mailbox(), msg.Key)
	if err != nil {
		conn.Logger().Error("failed to retrieve message content",
			"msgNum", msgNum,
			"key", msg.Key,
			"error", err.Error(),
		)
		return Response{Code: "SYS/TEMP", Message: "Failed to retrieve message"}, nil
	}
	defer func() {
		_ = reader.Close()
	}()

	lines, err := messageLines(reader, -1)
	if err != nil {
		conn.Logger().Error("failed to read message content",
			"msgNum", msgNum,
			"key", msg.Key,
			"error", err.Error(),
		)
		return Response{Code: "SYS/TEMP", Message: "Failed to read message"}, nil
	}

	sess.MarkFetched(msgNum)
	r.collector.MessageRetrieved(address.Domain(sess.Mailbox()), msg.Size)

	return Response{
		OK:      true,
		Message: fmt.Sprintf("%d octets", msg.Size),
		Lines:   lines,
		Multi:   true,
	}, nil
}

// topCommand implements the TOP command.
// Returns the first n lines of the message. Flags are not changed.
type topCommand struct{}

func (t *topCommand) Name() string {
	return "TOP"
}

func (t *topCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateAuthenticated {
		return notAuthenticated, nil
	}

	// TOP requires exactly two arguments: msgnum and n
	if len(args) != 2 {
		return errResponse("TOP command requires message number and line count"), nil
	}

	msgNum, err := strconv.Atoi(args[0])
	if err != nil {
		return errResponse("Invalid message number"), nil
	}

	lineCount, err := strconv.Atoi(args[1])
	if err != nil || lineCount < 0 {
		return errResponse("Invalid line count"), nil
	}

	msg, err := sess.GetMessage(msgNum)
	if err != nil {
		return messageError(err), nil
	}

	reader, err := sess.Store().Retrieve(ctx, sess.Mailbox(), msg.Key)
	if err != nil {
		conn.Logger().Error("failed to retrieve message content",
			"msgNum", msgNum,
			"key", msg.Key,
			"error", err.Error(),
		)
		return Response{Code: "SYS/TEMP", Message: "Failed to retrieve message"}, nil
	}
	lines, err := messageLines(reader, lineCount)
	_ = reader.Close()
	if err != nil {
		conn.Logger().Error("failed to parse message",
			"msgNum", msgNum,
			"key", msg.Key,
			"error", err.Error(),
		)
		return Response{Code: "SYS/TEMP", Message: "Failed to read message"}, nil
	}

	return Response{
		OK:    true,
		Lines: lines,
		Multi: true,
	}, nil
}

// deleCommand implements the DELE command (RFC 1939).
// Marks a message for deletion.
type deleCommand struct{}

func (d *deleCommand) Name() string {
	return "DELE"
}

func (d *deleCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateAuthenticated {
		return notAuthenticated, nil
	}

	// DELE requires exactly one argument
	if len(args) != 1 {
		return errResponse("DELE command requires message number"), nil
	}

	msgNum, err := strconv.Atoi(args[0])
	if err != nil {
		return errResponse("Invalid message number"), nil
	}

	if err := sess.MarkDeleted(msgNum); err != nil {
		return messageError(err), nil
	}

	return Response{OK: true, Message: fmt.Sprintf("message %d deleted", msgNum)}, nil
}

// rsetCommand implements the RSET command (RFC 1939).
// Unmarks all messages marked for deletion.
type rsetCommand struct{}

func (r *rsetCommand) Name() string {
	return "RSET"
}

func (r *rsetCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateAuthenticated {
		return notAuthenticated, nil
	}

	// RSET takes no arguments
	if len(args) > 0 {
		return errResponse("RSET command takes no arguments"), nil
	}

	sess.Reset()

	return Response{OK: true, Message: fmt.Sprintf("maildrop has %d messages (%d octets)", sess.MessageCount(), sess.TotalSize())}, nil
}

// noopCommand implements the NOOP command (RFC 1939).
type noopCommand struct{}

func (n *noopCommand) Name() string {
	return "NOOP"
}

func (n *noopCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateAuthenticated {
		return notAuthenticated, nil
	}

	// NOOP takes no arguments
	if len(args) > 0 {
		return errResponse("NOOP command takes no arguments"), nil
	}

	return Response{OK: true}, nil
}

// uidlCommand implements the UIDL command (RFC 1939).
// Returns the store key of each listed message.
type uidlCommand struct{}

func (u *uidlCommand) Name() string {
	return "UIDL"
}

func (u *uidlCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateAuthenticated {
		return notAuthenticated, nil
	}

	// UIDL with no arguments - list all messages
	if len(args) == 0 {
		messages := sess.Listing()
		lines := make([]string, len(messages))
		for i, m := range messages {
			lines[i] = fmt.Sprintf("%d %s", m.MsgNum, m.Info.Key)
		}
		return Response{
			OK:    true,
			Lines: lines,
			Multi: true,
		}, nil
	}

	// UIDL with one argument - get specific message UID
	if len(args) != 1 {
		return errResponse("UIDL command takes at most one argument"), nil
	}

	msgNum, err := strconv.Atoi(args[0])
	if err != nil {
		return errResponse("Invalid message number"), nil
	}

	msg, err := sess.GetListed(msgNum)
	if err != nil {
		return messageError(err), nil
	}

	return Response{OK: true, Message: fmt.Sprintf("%d %s", msgNum, msg.Key)}, nil
}

// messageError maps a session lookup error to its reply.
func messageError(err error) Response {
	switch {
	case errors.Is(err, ErrMessageDeleted):
		return errResponse("Message already deleted")
	case errors.Is(err, ErrNoSuchMessage), errors.Is(err, ErrMessageNotRecent):
		return errResponse("No such message")
	default:
		return errResponse("Failed to retrieve message")
	}
}

// messageLines splits message content into lines for a POP3 response.
// A negative limit returns the whole message; otherwise at most limit
// lines are returned. Both LF and CRLF line endings are accepted.
func messageLines(reader io.Reader, limit int) ([]string, error) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 4096), maxMessageLine)

	var lines []string
	for (limit < 0 || len(lines) < limit) && scanner.Scan() {
		lines = append(lines, strings.TrimSuffix(scanner.Text(), "\r"))
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

// RegisterTransactionCommands registers all transaction-related commands.
func RegisterTransactionCommands(cmds Commands, collector metrics.Collector) {
	cmds.Register(&statCommand{})
	cmds.Register(&listCommand{collector: collector})
	cmds.Register(&retrCommand{collector: collector})
	cmds.Register(&deleCommand{})
	cmds.Register(&rsetCommand{})
	cmds.Register(&noopCommand{})
	cmds.Register(&uidlCommand{})
	cmds.Register(&topCommand{})
}
