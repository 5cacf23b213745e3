// Package mailstore provides mailbox storage for the retrieval and
// submission services: an ordered message listing per mailbox, message
// content, deletion, delivery, and the persisted read flag.
package mailstore

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrMailboxNotFound is returned when a mailbox has never been created.
	ErrMailboxNotFound = errors.New("mailbox not found")

	// ErrMessageNotFound is returned when a key no longer names a message.
	ErrMessageNotFound = errors.New("message not found")
)

// MessageInfo describes one stored message.
type MessageInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
	Read    bool
}

// Store is the mailbox storage used by both protocol sessions.
type Store interface {
	// Exists reports whether the mailbox exists.
	Exists(ctx context.Context, mailbox string) (bool, error)

	// List returns the mailbox contents ordered oldest to newest.
	List(ctx context.Context, mailbox string) ([]MessageInfo, error)

	// Retrieve opens a message for reading.
	Retrieve(ctx context.Context, mailbox, key string) (io.ReadCloser, error)

	// Delete removes a message permanently.
	Delete(ctx context.Context, mailbox, key string) error

	// Append delivers a new message, creating the mailbox if needed.
	Append(ctx context.Context, mailbox string, data io.Reader) error

	// MarkRead persists the read flag for a message.
	MarkRead(ctx context.Context, mailbox, key string) error
}
