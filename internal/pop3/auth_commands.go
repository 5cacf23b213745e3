package pop3

import (
	"context"
	"errors"
	"fmt"

	"github.com/infodancer/maild/internal/address"
	"github.com/infodancer/maild/internal/auth"
	"github.com/infodancer/maild/internal/digest"
	"github.com/infodancer/maild/internal/mailstore"
	"github.com/infodancer/maild/internal/metrics"
)

// capaCommand implements the CAPA command (RFC 2449).
type capaCommand struct{}

func (c *capaCommand) Name() string {
	return "CAPA"
}

func (c *capaCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	// CAPA takes no arguments
	if len(args) > 0 {
		return errResponse("CAPA command takes no arguments"), nil
	}

	return Response{
		OK:      true,
		Message: "Capability list follows",
		Lines:   []string{"TOP", "UIDL", "USER", "RESP-CODES", "IMPLEMENTATION maild"},
	}, nil
}

// userCommand implements the USER command (RFC 1939).
type userCommand struct {
	store mailstore.Store
}

func (u *userCommand) Name() string {
	return "USER"
}

func (u *userCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateUnauthenticated {
		return errResponse("Command not valid in this state"), nil
	}

	// USER requires exactly one argument
	if len(args) != 1 {
		return errResponse("USER command requires username argument"), nil
	}

	mailbox, err := address.Mailbox(args[0])
	if err != nil {
		return errResponse("Invalid username"), nil
	}

	exists, err := u.store.Exists(ctx, mailbox)
	if err != nil {
		conn.Logger().Error("mailbox lookup failed", "mailbox", mailbox, "error", err.Error())
		return Response{Code: "SYS/TEMP", Message: "Unable to look up mailbox"}, nil
	}
	if !exists {
		sess.SetUsername("")
		return errResponse("No such mailbox"), nil
	}

	sess.SetUsername(mailbox)

	return Response{OK: true, Message: fmt.Sprintf("%s selected", mailbox)}, nil
}

// passCommand implements the PASS command (RFC 1939). The credential is
// checked by the auth provider.
type passCommand struct {
	provider auth.Provider
	store    mailstore.Store
	locker   *mailstore.Locker
}

func (p *passCommand) Name() string {
	return "PASS"
}

func (p *passCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateUnauthenticated {
		return errResponse("Command not valid in this state"), nil
	}

	// USER must have been called first
	username := sess.Username()
	if username == "" {
		return errResponse("No username specified"), nil
	}

	if len(args) != 1 {
		return errResponse("PASS command requires password argument"), nil
	}
	password := args[0]

	ok, err := p.provider.Authenticate(ctx, username, password)
	if err != nil {
		conn.Logger().Warn("auth provider error", "username", username, "error", err.Error())
		return Response{Code: "SYS/TEMP", Message: "authentication service unavailable"}, nil
	}
	if !ok {
		// Return generic error to prevent user enumeration
		conn.Logger().Info("authentication failed", "username", username)
		sess.SetUsername("")
		return Response{Code: "AUTH", Message: "Authentication failed"}, nil
	}

	return openMailbox(ctx, sess, conn, p.store, p.locker, username, "pass")
}

// apopCommand implements the APOP command (RFC 1939): the client proves
// knowledge of a per-user secret by hashing it with the greeting nonce.
type apopCommand struct {
	secrets auth.SecretProvider
	store   mailstore.Store
	locker  *mailstore.Locker
}

func (a *apopCommand) Name() string {
	return "APOP"
}

func (a *apopCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	if sess.State() != StateUnauthenticated {
		return errResponse("Command not valid in this state"), nil
	}

	if len(args) != 2 {
		return errResponse("APOP command requires username and digest"), nil
	}

	mailbox, err := address.Mailbox(args[0])
	if err != nil {
		return Response{Code: "AUTH", Message: "Authentication failed"}, nil
	}

	secret, ok, err := a.secrets.Secret(ctx, mailbox)
	if err != nil {
		conn.Logger().Warn("auth provider error", "username", mailbox, "error", err.Error())
		return Response{Code: "SYS/TEMP", Message: "authentication service unavailable"}, nil
	}
	if !ok || !digest.Verify(sess.Nonce(), secret, args[1]) {
		conn.Logger().Info("authentication failed", "username", mailbox, "method", "apop")
		return Response{Code: "AUTH", Message: "Authentication failed"}, nil
	}

	return openMailbox(ctx, sess, conn, a.store, a.locker, mailbox, "apop")
}

// openMailbox finishes a successful authentication.
func openMailbox(ctx context.Context, sess *Session, conn ConnectionLogger, store mailstore.Store, locker *mailstore.Locker, mailbox, method string) (Response, error) {
	if err := sess.Open(ctx, store, locker, mailbox); err != nil {
		if errors.Is(err, ErrMailboxLocked) {
			conn.Logger().Info("mailbox busy", "mailbox", mailbox)
			return Response{Code: "IN-USE", Message: "mailbox locked by another session"}, nil
		}
		conn.Logger().Error("failed to open mailbox", "mailbox", mailbox, "error", err.Error())
		return Response{Code: "SYS/TEMP", Message: "unable to open mailbox"}, nil
	}

	conn.Logger().Info("authentication successful",
		"username", mailbox,
		"method", method,
		"messages", len(sess.snapshot),
	)

	return Response{
		OK:      true,
		Message: fmt.Sprintf("%s has %d messages (%d octets)", mailbox, sess.MessageCount(), sess.TotalSize()),
	}, nil
}

// quitCommand implements the QUIT command (RFC 1939). In the authenticated
// state it commits the session's deletions and read flags.
type quitCommand struct {
	collector metrics.Collector
}

func (q *quitCommand) Name() string {
	return "QUIT"
}

func (q *quitCommand) Execute(ctx context.Context, sess *Session, conn ConnectionLogger, args []string) (Response, error) {
	// QUIT takes no arguments
	if len(args) > 0 {
		return errResponse("QUIT command takes no arguments"), nil
	}

	if sess.State() != StateAuthenticated {
		sess.Close()
		return Response{OK: true, Message: fmt.Sprintf("%s POP3 server signing off", sess.Hostname())}, nil
	}

	removed, err := sess.Commit(ctx)
	sess.Close()
	for range removed {
		q.collector.MessageDeleted(address.Domain(sess.Mailbox()))
	}
	if err != nil {
		conn.Logger().Error("commit incomplete", "removed", removed, "error", err.Error())
		return errResponse(ErrCommitIncomplete.Error()), nil
	}

	conn.Logger().Info("session committed", "removed", removed)

	return Response{OK: true, Message: fmt.Sprintf("%s POP3 server signing off", sess.Hostname())}, nil
}

// RegisterAuthCommands registers all authentication-related commands.
func RegisterAuthCommands(cmds Commands, provider auth.Provider, secrets auth.SecretProvider, store mailstore.Store, locker *mailstore.Locker, collector metrics.Collector) {
	cmds.Register(&capaCommand{})
	cmds.Register(&userCommand{store: store})
	cmds.Register(&passCommand{provider: provider, store: store, locker: locker})
	cmds.Register(&apopCommand{secrets: secrets, store: store, locker: locker})
	cmds.Register(&quitCommand{collector: collector})
}
