package smtp

// State represents the current state of an SMTP session.
type State int

const (
	// StateInit is the state after the greeting; HELO or EHLO is required.
	StateInit State = iota

	// StateGreeted indicates the client has identified itself and may
	// start a mail transaction.
	StateGreeted

	// StateMailSet indicates MAIL FROM has been accepted.
	StateMailSet

	// StateRcptSet indicates at least one RCPT TO has been accepted.
	StateRcptSet

	// StateClosed is terminal: QUIT was processed or the connection ended.
	StateClosed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateGreeted:
		return "GREETED"
	case StateMailSet:
		return "MAIL"
	case StateRcptSet:
		return "RCPT"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
