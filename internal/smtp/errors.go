package smtp

import "errors"

// Protocol errors for SMTP.
var (
	// ErrMessageTooLarge is returned when a payload exceeds the size ceiling.
	ErrMessageTooLarge = errors.New("message exceeds maximum size")

	// ErrTooManyRecipients is returned when the recipient limit is reached.
	ErrTooManyRecipients = errors.New("too many recipients")

	// ErrAuthRejected is returned when the auth provider refuses the credentials.
	ErrAuthRejected = errors.New("authentication credentials invalid")

	// ErrAuthUnavailable is returned when the auth provider could not be consulted.
	ErrAuthUnavailable = errors.New("authentication provider unavailable")

	// ErrAuthCancelled is returned when the client answers a challenge with "*".
	ErrAuthCancelled = errors.New("authentication cancelled")

	// ErrUnexpectedResponse is returned when a SASL exchange receives more
	// responses than the mechanism defines.
	ErrUnexpectedResponse = errors.New("unexpected client response")
)

// ErrMalformedResponse is returned when a SASL response is not valid base64.
var ErrMalformedResponse = errors.New("malformed base64 response")
