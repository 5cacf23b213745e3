// Package smtp implements the submission service: an ESMTP session that
// accepts mail from authenticated clients and appends it to the
// recipients' mailboxes.
package smtp

import "strings"

// Limits bound what a client may submit in one transaction.
type Limits struct {
	MaxMessageSize int64
	MaxRecipients  int
	RequireAuth    bool
}

// Session represents one SMTP session. It holds no transport; commands
// drive it through its methods.
type Session struct {
	state        State
	hostname     string
	clientDomain string
	extended     bool

	authenticated bool
	username      string

	limits   Limits
	envelope *Envelope
}

// NewSession creates a session in StateInit.
func NewSession(hostname string, limits Limits) *Session {
	return &Session{
		state:    StateInit,
		hostname: hostname,
		limits:   limits,
		envelope: NewEnvelope(),
	}
}

// State returns the current session state.
func (s *Session) State() State {
	return s.state
}

// Hostname returns the server name used in replies.
func (s *Session) Hostname() string {
	return s.hostname
}

// ClientDomain returns the name given in HELO or EHLO.
func (s *Session) ClientDomain() string {
	return s.clientDomain
}

// Extended reports whether the client greeted with EHLO.
func (s *Session) Extended() bool {
	return s.extended
}

// Limits returns the session's submission limits.
func (s *Session) Limits() Limits {
	return s.limits
}

// Envelope returns the current transaction.
func (s *Session) Envelope() *Envelope {
	return s.envelope
}

// IsAuthenticated reports whether AUTH has succeeded.
func (s *Session) IsAuthenticated() bool {
	return s.authenticated
}

// Username returns the authenticated user, if any.
func (s *Session) Username() string {
	return s.username
}

// Greet records the client identity and aborts any open transaction.
func (s *Session) Greet(domain string, extended bool) {
	s.clientDomain = domain
	s.extended = extended
	s.envelope.Reset()
	s.state = StateGreeted
}

// SetAuthenticated marks the session as authenticated for username.
func (s *Session) SetAuthenticated(username string) {
	s.authenticated = true
	s.username = username
}

// CanSubmit reports whether envelope commands are allowed with respect
// to authentication.
func (s *Session) CanSubmit() bool {
	return s.authenticated || !s.limits.RequireAuth
}

// InTransaction reports whether MAIL FROM has been accepted.
func (s *Session) InTransaction() bool {
	return s.state == StateMailSet || s.state == StateRcptSet
}

// SetSender starts a transaction.
func (s *Session) SetSender(from string) {
	s.envelope.SetSender(from)
	s.state = StateMailSet
}

// AddRecipient adds rcpt to the envelope. A duplicate is accepted and
// recorded once. ErrTooManyRecipients is returned at the limit.
func (s *Session) AddRecipient(rcpt string) error {
	env := s.envelope
	if s.limits.MaxRecipients > 0 && len(env.Recipients) >= s.limits.MaxRecipients {
		for _, r := range env.Recipients {
			if strings.EqualFold(r, rcpt) {
				return nil
			}
		}
		return ErrTooManyRecipients
	}
	env.AddRecipient(rcpt)
	s.state = StateRcptSet
	return nil
}

// Reset aborts the current transaction. The client identity and
// authentication survive.
func (s *Session) Reset() {
	s.envelope.Reset()
	if s.state != StateInit && s.state != StateClosed {
		s.state = StateGreeted
	}
}

// Close moves the session to its terminal state.
func (s *Session) Close() {
	s.state = StateClosed
}
