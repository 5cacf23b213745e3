package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/infodancer/maild/internal/address"
	"github.com/infodancer/maild/internal/mailstore"
	"github.com/infodancer/maild/internal/metrics"
)

var (
	needGreeting = ReplyBadSequence.WithMessage("Send HELO/EHLO first")
	needMail     = ReplyBadSequence.WithMessage("Need MAIL command first")
	needRcpt     = ReplyBadSequence.WithMessage("Need RCPT command first")
)

// heloCommand implements HELO (RFC 5321 4.1.1.1).
type heloCommand struct{}

func (h *heloCommand) Name() string {
	return "HELO"
}

func (h *heloCommand) Execute(ctx context.Context, sess *Session, conn Conn, arg string) (ReplyLine, error) {
	if arg == "" {
		return ReplyBadSyntax.WithMessage("Syntax: HELO hostname"), nil
	}
	sess.Greet(arg, false)
	return ReplyOK.WithMessage("%s Hello %s", sess.Hostname(), arg), nil
}

// ehloCommand implements EHLO and advertises the service extensions.
type ehloCommand struct{}

func (e *ehloCommand) Name() string {
	return "EHLO"
}

func (e *ehloCommand) Execute(ctx context.Context, sess *Session, conn Conn, arg string) (ReplyLine, error) {
	if arg == "" {
		return ReplyBadSyntax.WithMessage("Syntax: EHLO hostname"), nil
	}
	sess.Greet(arg, true)
	return ReplyLine{
		Code:    250,
		Message: fmt.Sprintf("%s Hello %s", sess.Hostname(), arg),
		Lines: []string{
			"8BITMIME",
			fmt.Sprintf("SIZE %d", sess.Limits().MaxMessageSize),
			"AUTH PLAIN LOGIN",
			"HELP",
		},
	}, nil
}

// mailCommand implements MAIL FROM. The null reverse-path is accepted and
// a SIZE parameter larger than the limit is refused up front.
type mailCommand struct {
	collector metrics.Collector
}

func (m *mailCommand) Name() string {
	return "MAIL"
}

func (m *mailCommand) Execute(ctx context.Context, sess *Session, conn Conn, arg string) (ReplyLine, error) {
	if sess.State() == StateInit {
		return needGreeting, nil
	}
	if !sess.CanSubmit() {
		return ReplyAuthRequired, nil
	}
	if sess.InTransaction() {
		return ReplyBadSequence.WithMessage("Sender already specified"), nil
	}

	rest, ok := cutPrefixFold(arg, "FROM:")
	if !ok {
		return ReplyBadSyntax.WithMessage("Syntax: MAIL FROM:<address>"), nil
	}

	from, err := address.Extract(rest)
	if err != nil || (from != "" && !address.Valid(from)) {
		return ReplyBadSyntax.WithMessage("Invalid sender address"), nil
	}

	_, params, _ := strings.Cut(rest, ">")
	for _, param := range strings.Fields(params) {
		value, ok := cutPrefixFold(param, "SIZE=")
		if !ok {
			continue
		}
		size, err := strconv.ParseInt(value, 10, 64)
		if err != nil || size < 0 {
			return ReplyBadSyntax.WithMessage("Invalid SIZE parameter"), nil
		}
		if size > sess.Limits().MaxMessageSize {
			m.collector.MessageRejected("size")
			return ReplyMessageTooBig, nil
		}
	}

	sess.SetSender(from)
	conn.Logger().Debug("sender accepted", "envelope_id", sess.Envelope().ID, "from", from)

	return ReplyOK, nil
}

// rcptCommand implements RCPT TO. Duplicate recipients are accepted and
// recorded once.
type rcptCommand struct{}

func (r *rcptCommand) Name() string {
	return "RCPT"
}

func (r *rcptCommand) Execute(ctx context.Context, sess *Session, conn Conn, arg string) (ReplyLine, error) {
	if sess.State() == StateInit {
		return needGreeting, nil
	}
	if !sess.CanSubmit() {
		return ReplyAuthRequired, nil
	}
	if !sess.InTransaction() {
		return needMail, nil
	}

	rest, ok := cutPrefixFold(arg, "TO:")
	if !ok {
		return ReplyBadSyntax.WithMessage("Syntax: RCPT TO:<address>"), nil
	}

	rcpt, err := address.Parse(rest)
	if err != nil {
		return ReplyBadSyntax.WithMessage("Invalid recipient address"), nil
	}

	if err := sess.AddRecipient(rcpt); err != nil {
		return ReplyTooManyRcpts, nil
	}

	return ReplyOK, nil
}

// dataCommand implements DATA: it reads the payload up to the lone "."
// and appends it to every recipient's mailbox.
type dataCommand struct {
	store     mailstore.Store
	collector metrics.Collector
}

func (d *dataCommand) Name() string {
	return "DATA"
}

func (d *dataCommand) Execute(ctx context.Context, sess *Session, conn Conn, arg string) (ReplyLine, error) {
	if sess.State() == StateInit {
		return needGreeting, nil
	}
	if !sess.CanSubmit() {
		return ReplyAuthRequired, nil
	}
	if !sess.InTransaction() {
		return needMail, nil
	}
	if sess.State() != StateRcptSet {
		return needRcpt, nil
	}
	if arg != "" {
		return ReplyBadSyntax.WithMessage("DATA takes no arguments"), nil
	}

	if err := conn.WriteLine(ReplyStartData.Line()); err != nil {
		return ReplyShuttingDown, err
	}

	env := *sess.Envelope()
	defer sess.Reset()

	data, err := ReadData(conn, sess.Limits().MaxMessageSize)
	if errors.Is(err, ErrMessageTooLarge) {
		conn.Logger().Info("message rejected", "envelope_id", env.ID, "reason", "size")
		d.collector.MessageRejected("size")
		return ReplyMessageTooBig, nil
	}
	if err != nil {
		return ReplyShuttingDown, err
	}

	if !env.Ready() {
		return ReplyTransactionFailed.WithMessage("No valid recipients"), nil
	}

	return d.deliver(ctx, conn, env, data), nil
}

// deliver appends data to each recipient's mailbox.
func (d *dataCommand) deliver(ctx context.Context, conn Conn, env Envelope, data []byte) ReplyLine {
	failed := 0
	for _, rcpt := range env.Recipients {
		mailbox, err := address.Mailbox(rcpt)
		if err == nil {
			err = d.store.Append(ctx, mailbox, bytes.NewReader(data))
		}
		if err != nil {
			failed++
			conn.Logger().Error("delivery failed",
				"envelope_id", env.ID,
				"recipient", rcpt,
				"error", err.Error(),
			)
			continue
		}
		d.collector.MessageDelivered(address.Domain(rcpt), int64(len(data)))
	}

	if failed > 0 {
		d.collector.MessageRejected("store")
		return ReplyStoreFailed
	}

	conn.Logger().Info("message accepted",
		"envelope_id", env.ID,
		"from", env.From,
		"recipients", len(env.Recipients),
		"size", len(data),
	)
	return ReplyOK.WithMessage("OK: queued as %s", env.ID)
}

// rsetCommand implements RSET.
type rsetCommand struct{}

func (r *rsetCommand) Name() string {
	return "RSET"
}

func (r *rsetCommand) Execute(ctx context.Context, sess *Session, conn Conn, arg string) (ReplyLine, error) {
	if arg != "" {
		return ReplyBadSyntax.WithMessage("RSET takes no arguments"), nil
	}
	sess.Reset()
	return ReplyOK, nil
}

// noopCommand implements NOOP. Any argument is ignored.
type noopCommand struct{}

func (n *noopCommand) Name() string {
	return "NOOP"
}

func (n *noopCommand) Execute(ctx context.Context, sess *Session, conn Conn, arg string) (ReplyLine, error) {
	return ReplyOK, nil
}

type helpCommand struct{}

func (h *helpCommand) Name() string {
	return "HELP"
}

func (h *helpCommand) Execute(ctx context.Context, sess *Session, conn Conn, arg string) (ReplyLine, error) {
	return ReplyHelp, nil
}

// vrfyCommand implements VRFY without disclosing mailboxes.
type vrfyCommand struct{}

func (v *vrfyCommand) Name() string {
	return "VRFY"
}

func (v *vrfyCommand) Execute(ctx context.Context, sess *Session, conn Conn, arg string) (ReplyLine, error) {
	if arg == "" {
		return ReplyBadSyntax.WithMessage("Syntax: VRFY address"), nil
	}
	return ReplyLine{Code: 252, Message: "Cannot VRFY user, but will accept message and attempt delivery"}, nil
}

// quitCommand implements QUIT in every state.
type quitCommand struct{}

func (q *quitCommand) Name() string {
	return "QUIT"
}

func (q *quitCommand) Execute(ctx context.Context, sess *Session, conn Conn, arg string) (ReplyLine, error) {
	sess.Close()
	return ReplyClosing.WithMessage("%s Service closing transmission channel", sess.Hostname()), nil
}

// cutPrefixFold is strings.CutPrefix with a case-insensitive prefix.
func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}

// RegisterCommands registers the SMTP command set.
func RegisterCommands(cmds Commands, store mailstore.Store, collector metrics.Collector) {
	cmds.Register(&heloCommand{})
	cmds.Register(&ehloCommand{})
	cmds.Register(&mailCommand{collector: collector})
	cmds.Register(&rcptCommand{})
	cmds.Register(&dataCommand{store: store, collector: collector})
	cmds.Register(&rsetCommand{})
	cmds.Register(&noopCommand{})
	cmds.Register(&helpCommand{})
	cmds.Register(&vrfyCommand{})
	cmds.Register(&quitCommand{})
}
