package smtp

import (
	"strings"

	"github.com/google/uuid"
)

// Envelope holds the sender and recipients of one mail transaction.
type Envelope struct {
	// ID identifies the transaction in logs and in the DATA reply.
	ID string

	// From is the reverse-path. It is empty for the null sender "<>";
	// HasFrom distinguishes that from "no MAIL FROM yet".
	From    string
	HasFrom bool

	// Recipients in the order they were accepted, without duplicates.
	Recipients []string

	seen map[string]struct{}
}

// NewEnvelope returns an empty envelope with a fresh ID.
func NewEnvelope() *Envelope {
	return &Envelope{ID: uuid.NewString()}
}

// SetSender records the reverse-path.
func (e *Envelope) SetSender(from string) {
	e.From = from
	e.HasFrom = true
}

// AddRecipient records rcpt and reports whether it was new. Recipients
// that differ only in case are treated as the same address.
func (e *Envelope) AddRecipient(rcpt string) bool {
	if e.seen == nil {
		e.seen = make(map[string]struct{})
	}
	key := strings.ToLower(rcpt)
	if _, dup := e.seen[key]; dup {
		return false
	}
	e.seen[key] = struct{}{}
	e.Recipients = append(e.Recipients, rcpt)
	return true
}

// Ready reports whether the envelope can accept a payload.
func (e *Envelope) Ready() bool {
	return e.HasFrom && len(e.Recipients) > 0
}

// Reset clears the envelope and assigns a new ID.
func (e *Envelope) Reset() {
	*e = Envelope{ID: uuid.NewString()}
}
