package pop3

import "errors"

// Protocol errors for POP3.
var (
	// ErrInvalidState is returned when a command is not valid in the current state.
	ErrInvalidState = errors.New("command not valid in current state")

	// ErrMailboxLocked is returned when another session holds the mailbox.
	ErrMailboxLocked = errors.New("mailbox locked by another session")

	// ErrNoSuchMessage is returned when a message number doesn't exist.
	ErrNoSuchMessage = errors.New("no such message")

	// ErrMessageDeleted is returned when accessing a message marked for deletion.
	ErrMessageDeleted = errors.New("message already deleted")

	// ErrMessageNotRecent is returned when a listing names a message that
	// has already been read.
	ErrMessageNotRecent = errors.New("message not recent")

	// ErrMailboxNotInitialized is returned when mailbox is accessed before auth.
	ErrMailboxNotInitialized = errors.New("mailbox not initialized")

	// ErrCommitIncomplete is returned when some marked messages could not be removed.
	ErrCommitIncomplete = errors.New("some deleted messages not removed")
)
