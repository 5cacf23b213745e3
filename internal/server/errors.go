package server

import "errors"

var (
	// ErrLineTooLong is returned when a client line exceeds MaxLineLength.
	ErrLineTooLong = errors.New("line too long")

	// ErrNoHandler is returned when a listener starts without a handler.
	ErrNoHandler = errors.New("no connection handler configured")
)
