package smtp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"

	"github.com/infodancer/maild/internal/address"
	"github.com/infodancer/maild/internal/auth"
	"github.com/infodancer/maild/internal/metrics"
)

// mechLogin is the legacy two-prompt LOGIN mechanism.
const mechLogin = "LOGIN"

// maxExchanges bounds the number of challenges in one AUTH exchange.
const maxExchanges = 4

// loginServer implements the server side of LOGIN as a sasl.Server.
type loginServer struct {
	step         int
	username     string
	authenticate func(username, password string) error
}

func newLoginServer(authenticate func(username, password string) error) sasl.Server {
	return &loginServer{authenticate: authenticate}
}

// Next implements sasl.Server. A nil response asks for the username; an
// initial response carries it.
func (l *loginServer) Next(response []byte) ([]byte, bool, error) {
	switch l.step {
	case 0:
		if response == nil {
			l.step = 1
			return []byte("Username:"), false, nil
		}
		l.username = string(response)
		l.step = 2
		return []byte("Password:"), false, nil
	case 1:
		l.username = string(response)
		l.step = 2
		return []byte("Password:"), false, nil
	case 2:
		l.step = 3
		return nil, true, l.authenticate(l.username, string(response))
	default:
		return nil, false, ErrUnexpectedResponse
	}
}

// authCommand implements AUTH (RFC 4954) with PLAIN and LOGIN. The
// credential decision is made by the auth provider.
type authCommand struct {
	provider  auth.Provider
	collector metrics.Collector
}

func (a *authCommand) Name() string {
	return "AUTH"
}

func (a *authCommand) Execute(ctx context.Context, sess *Session, conn Conn, arg string) (ReplyLine, error) {
	if sess.IsAuthenticated() {
		return ReplyBadSequence.WithMessage("Already authenticated"), nil
	}
	if sess.InTransaction() {
		return ReplyBadSequence.WithMessage("AUTH not permitted during a mail transaction"), nil
	}
	if arg == "" {
		return ReplyBadSyntax.WithMessage("Syntax: AUTH mechanism [initial-response]"), nil
	}

	mech, initial, hasInitial := strings.Cut(arg, " ")
	mech = strings.ToUpper(mech)

	var username string
	check := func(user, password string) error {
		username = user
		ok, err := a.provider.Authenticate(ctx, user, password)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrAuthUnavailable, err)
		}
		if !ok {
			return ErrAuthRejected
		}
		return nil
	}

	var server sasl.Server
	switch mech {
	case sasl.Plain:
		server = sasl.NewPlainServer(func(identity, user, password string) error {
			if identity != "" && identity != user {
				username = user
				return ErrAuthRejected
			}
			return check(user, password)
		})
	case mechLogin:
		server = newLoginServer(check)
	default:
		return ReplyBadMechanism, nil
	}

	var response []byte
	if hasInitial {
		decoded, err := decodeResponse(strings.TrimSpace(initial))
		if err != nil {
			return ReplyBadSyntax.WithMessage("Invalid base64 data"), nil
		}
		response = decoded
	}

	authErr, ioErr := exchange(conn, server, response)
	if ioErr != nil {
		return ReplyShuttingDown, ioErr
	}

	logger := conn.Logger()
	switch {
	case authErr == nil:
		sess.SetAuthenticated(username)
		a.collector.AuthAttempt(metrics.ProtocolSMTP, address.Domain(username), true)
		logger.Info("authentication successful", "username", username, "mechanism", mech)
		return ReplyAuthOK, nil
	case errors.Is(authErr, ErrAuthCancelled):
		return ReplyBadSyntax.WithMessage("Authentication cancelled"), nil
	case errors.Is(authErr, ErrMalformedResponse):
		return ReplyBadSyntax.WithMessage("Invalid base64 data"), nil
	case errors.Is(authErr, ErrAuthUnavailable):
		logger.Warn("auth provider error", "username", username, "error", authErr.Error())
		return ReplyAuthUnavailable, nil
	case errors.Is(authErr, ErrAuthRejected):
		a.collector.AuthAttempt(metrics.ProtocolSMTP, address.Domain(username), false)
		logger.Info("authentication failed", "username", username, "mechanism", mech)
		return ReplyAuthFailed, nil
	default:
		logger.Debug("malformed authentication exchange", "mechanism", mech, "error", authErr.Error())
		return ReplyBadSyntax.WithMessage("Malformed authentication response"), nil
	}
}

// exchange drives server until it is done. authErr is the mechanism's
// outcome; ioErr is a transport failure.
func exchange(conn Conn, server sasl.Server, response []byte) (authErr, ioErr error) {
	for range maxExchanges {
		challenge, done, err := server.Next(response)
		if err != nil || done {
			return err, nil
		}

		if err := conn.WriteLine("334 " + base64.StdEncoding.EncodeToString(challenge)); err != nil {
			return nil, err
		}

		line, err := conn.ReadLine()
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "*" {
			return ErrAuthCancelled, nil
		}

		response, err = base64.StdEncoding.DecodeString(line)
		if err != nil {
			return ErrMalformedResponse, nil
		}
	}
	return ErrUnexpectedResponse, nil
}

// decodeResponse decodes an initial response; "=" stands for an empty one.
func decodeResponse(s string) ([]byte, error) {
	if s == "=" {
		return []byte{}, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrMalformedResponse
	}
	return b, nil
}

// RegisterAuthCommands registers AUTH.
func RegisterAuthCommands(cmds Commands, provider auth.Provider, collector metrics.Collector) {
	cmds.Register(&authCommand{provider: provider, collector: collector})
}
