// Package metrics provides interfaces and implementations for collecting
// mail server metrics. This package defines the Collector interface for
// recording metrics and the Server interface for exposing them.
package metrics

import "context"

// Protocol labels.
const (
	ProtocolPOP3 = "pop3"
	ProtocolSMTP = "smtp"
)

// Collector defines the interface for recording mail server metrics.
type Collector interface {
	// Connection metrics
	ConnectionOpened(protocol string)
	ConnectionClosed(protocol string)
	ConnectionRejected(protocol string)

	// Authentication metrics (authenticated user's domain)
	AuthAttempt(protocol, authDomain string, success bool)

	// Command metrics
	CommandProcessed(protocol, command string)

	// Message retrieval metrics
	MessageRetrieved(userDomain string, sizeBytes int64)
	MessageDeleted(userDomain string)
	MessageListed(userDomain string)

	// Message submission metrics
	MessageDelivered(recipientDomain string, sizeBytes int64)
	MessageRejected(reason string)
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is canceled
	// or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
