package pop3

import (
	"context"
	"errors"
	"fmt"

	"github.com/infodancer/maild/internal/mailstore"
)

// State represents the current state in the POP3 state machine.
type State int

const (
	// StateUnauthenticated is the initial state where authentication is required.
	StateUnauthenticated State = iota

	// StateAuthenticated is the state after successful authentication.
	StateAuthenticated

	// StateClosed is terminal: QUIT was processed or the connection ended.
	StateClosed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Listed is one entry of a listing: a 1-based message number and its info.
type Listed struct {
	MsgNum int
	Info   mailstore.MessageInfo
}

// Session represents a POP3 session with state tracking.
//
// Message numbers index the snapshot taken at authentication and never the
// live store. The flag sets are keyed by message number.
type Session struct {
	state State

	hostname string
	nonce    string

	username string
	mailbox  string
	store    mailstore.Store
	unlock   func()

	snapshot []mailstore.MessageInfo
	deleted  map[int]bool
	read     map[int]bool
	recent   map[int]bool
}

// NewSession creates a new POP3 session with its APOP nonce.
func NewSession(hostname, nonce string) *Session {
	return &Session{
		state:    StateUnauthenticated,
		hostname: hostname,
		nonce:    nonce,
	}
}

// State returns the current POP3 state.
func (s *Session) State() State {
	return s.state
}

// Hostname returns the server name used in replies.
func (s *Session) Hostname() string {
	return s.hostname
}

// Nonce returns the APOP challenge issued in the greeting.
func (s *Session) Nonce() string {
	return s.nonce
}

// SetUsername stores the mailbox name from the USER command.
func (s *Session) SetUsername(username string) {
	s.username = username
}

// Username returns the stored username.
func (s *Session) Username() string {
	return s.username
}

// IsAuthenticated returns true once the mailbox has been opened.
func (s *Session) IsAuthenticated() bool {
	return s.state == StateAuthenticated
}

// Open locks the mailbox, takes the snapshot and moves the session to
// StateAuthenticated. On any failure the lock is released and the session
// stays unauthenticated.
func (s *Session) Open(ctx context.Context, store mailstore.Store, locker *mailstore.Locker, mailbox string) error {
	if s.state != StateUnauthenticated {
		return ErrInvalidState
	}

	unlock, ok := locker.TryLock(mailbox)
	if !ok {
		return ErrMailboxLocked
	}

	messages, err := store.List(ctx, mailbox)
	if err != nil && !errors.Is(err, mailstore.ErrMailboxNotFound) {
		unlock()
		return fmt.Errorf("listing mailbox: %w", err)
	}

	s.mailbox = mailbox
	s.username = mailbox
	s.store = store
	s.unlock = unlock
	s.snapshot = messages
	s.deleted = make(map[int]bool)
	s.read = make(map[int]bool)
	for i, msg := range messages {
		if msg.Read {
			s.read[i+1] = true
		}
	}
	s.computeRecent()
	s.state = StateAuthenticated
	return nil
}

// computeRecent marks every message that is neither read nor deleted.
func (s *Session) computeRecent() {
	s.recent = make(map[int]bool)
	for n := 1; n <= len(s.snapshot); n++ {
		if !s.read[n] && !s.deleted[n] {
			s.recent[n] = true
		}
	}
}

// Store returns the message store for this session.
func (s *Session) Store() mailstore.Store {
	return s.store
}

// Mailbox returns the mailbox name for this session.
func (s *Session) Mailbox() string {
	return s.mailbox
}

// MessageCount returns the count of messages that are neither deleted nor read.
func (s *Session) MessageCount() int {
	count := 0
	for n := 1; n <= len(s.snapshot); n++ {
		if !s.deleted[n] && !s.read[n] {
			count++
		}
	}
	return count
}

// TotalSize returns the total size of messages that are neither deleted nor read.
func (s *Session) TotalSize() int64 {
	var total int64
	for i, msg := range s.snapshot {
		if !s.deleted[i+1] && !s.read[i+1] {
			total += msg.Size
		}
	}
	return total
}

// GetMessage returns message info by 1-based message number.
// Returns an error if the message doesn't exist or is deleted.
func (s *Session) GetMessage(msgNum int) (*mailstore.MessageInfo, error) {
	if s.state != StateAuthenticated {
		return nil, ErrMailboxNotInitialized
	}
	if msgNum < 1 || msgNum > len(s.snapshot) {
		return nil, ErrNoSuchMessage
	}
	if s.deleted[msgNum] {
		return nil, ErrMessageDeleted
	}
	return &s.snapshot[msgNum-1], nil
}

// GetListed is GetMessage restricted to the recent set, as LIST and UIDL see it.
func (s *Session) GetListed(msgNum int) (*mailstore.MessageInfo, error) {
	msg, err := s.GetMessage(msgNum)
	if err != nil {
		return nil, err
	}
	if !s.recent[msgNum] {
		return nil, ErrMessageNotRecent
	}
	return msg, nil
}

// MarkFetched records that a message was retrieved: it becomes read and
// leaves the recent set.
func (s *Session) MarkFetched(msgNum int) {
	s.read[msgNum] = true
	delete(s.recent, msgNum)
}

// MarkDeleted marks a message for deletion by 1-based message number.
// Marking an already deleted message fails without side effects.
func (s *Session) MarkDeleted(msgNum int) error {
	if s.state != StateAuthenticated {
		return ErrMailboxNotInitialized
	}
	if msgNum < 1 || msgNum > len(s.snapshot) {
		return ErrNoSuchMessage
	}
	if s.deleted[msgNum] {
		return ErrMessageDeleted
	}
	s.deleted[msgNum] = true
	delete(s.recent, msgNum)
	return nil
}

// Reset clears all deletion marks and recomputes the recent set (RSET).
// The store is not touched.
func (s *Session) Reset() {
	s.deleted = make(map[int]bool)
	s.computeRecent()
}

// Listing returns the non-deleted recent messages in snapshot order.
func (s *Session) Listing() []Listed {
	var result []Listed
	for i, msg := range s.snapshot {
		n := i + 1
		if s.deleted[n] || !s.recent[n] {
			continue
		}
		result = append(result, Listed{MsgNum: n, Info: msg})
	}
	return result
}

// Commit applies the session's intent to the store: marked messages are
// removed, and messages first read in this session are flagged read. It
// returns the number of messages removed. Every failure is attempted past
// and reported as ErrCommitIncomplete.
func (s *Session) Commit(ctx context.Context) (int, error) {
	if s.state != StateAuthenticated {
		return 0, nil
	}

	var errs []error
	removed := 0
	for i, msg := range s.snapshot {
		n := i + 1
		switch {
		case s.deleted[n]:
			if err := s.store.Delete(ctx, s.mailbox, msg.Key); err != nil {
				errs = append(errs, fmt.Errorf("deleting %s: %w", msg.Key, err))
				continue
			}
			removed++
		case s.read[n] && !msg.Read:
			if err := s.store.MarkRead(ctx, s.mailbox, msg.Key); err != nil {
				errs = append(errs, fmt.Errorf("marking %s read: %w", msg.Key, err))
			}
		}
	}

	if len(errs) > 0 {
		return removed, fmt.Errorf("%w: %w", ErrCommitIncomplete, errors.Join(errs...))
	}
	return removed, nil
}

// Close moves the session to StateClosed and releases the mailbox lock.
// Nothing is committed. Safe to call more than once.
func (s *Session) Close() {
	s.state = StateClosed
	if s.unlock != nil {
		s.unlock()
		s.unlock = nil
	}
}
