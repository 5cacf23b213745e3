package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	// Connection metrics
	connectionsTotal    *prometheus.CounterVec
	connectionsActive   *prometheus.GaugeVec
	connectionsRejected *prometheus.CounterVec

	// Authentication metrics
	authAttemptsTotal *prometheus.CounterVec

	// Command metrics
	commandsTotal *prometheus.CounterVec

	// Retrieval metrics
	messagesRetrievedTotal *prometheus.CounterVec
	messagesDeletedTotal   *prometheus.CounterVec
	messagesListedTotal    *prometheus.CounterVec
	retrievedSizeBytes     prometheus.Histogram

	// Submission metrics
	messagesDeliveredTotal *prometheus.CounterVec
	messagesRejectedTotal  *prometheus.CounterVec
	deliveredSizeBytes     prometheus.Histogram
}

var sizeBuckets = []float64{1024, 10240, 102400, 1048576, 10485760, 26214400, 52428800}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maild_connections_total",
			Help: "Total number of connections opened.",
		}, []string{"protocol"}),
		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "maild_connections_active",
			Help: "Number of currently active connections.",
		}, []string{"protocol"}),
		connectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maild_connections_rejected_total",
			Help: "Total number of connections refused at the connection limit.",
		}, []string{"protocol"}),

		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maild_auth_attempts_total",
			Help: "Total number of authentication attempts.",
		}, []string{"protocol", "domain", "result"}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maild_commands_total",
			Help: "Total number of protocol commands processed.",
		}, []string{"protocol", "command"}),

		messagesRetrievedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maild_pop3_messages_retrieved_total",
			Help: "Total number of messages retrieved.",
		}, []string{"user_domain"}),
		messagesDeletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maild_pop3_messages_deleted_total",
			Help: "Total number of messages removed at session end.",
		}, []string{"user_domain"}),
		messagesListedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maild_pop3_messages_listed_total",
			Help: "Total number of message list operations.",
		}, []string{"user_domain"}),
		retrievedSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "maild_pop3_message_size_bytes",
			Help:    "Size of retrieved messages in bytes.",
			Buckets: sizeBuckets,
		}),

		messagesDeliveredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maild_smtp_messages_delivered_total",
			Help: "Total number of messages delivered to a mailbox.",
		}, []string{"recipient_domain"}),
		messagesRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maild_smtp_messages_rejected_total",
			Help: "Total number of messages rejected during DATA.",
		}, []string{"reason"}),
		deliveredSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "maild_smtp_message_size_bytes",
			Help:    "Size of accepted messages in bytes.",
			Buckets: sizeBuckets,
		}),
	}

	// Register all metrics
	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.connectionsRejected,
		c.authAttemptsTotal,
		c.commandsTotal,
		c.messagesRetrievedTotal,
		c.messagesDeletedTotal,
		c.messagesListedTotal,
		c.retrievedSizeBytes,
		c.messagesDeliveredTotal,
		c.messagesRejectedTotal,
		c.deliveredSizeBytes,
	)

	return c
}

// ConnectionOpened increments the connection counter and active gauge.
func (c *PrometheusCollector) ConnectionOpened(protocol string) {
	c.connectionsTotal.WithLabelValues(protocol).Inc()
	c.connectionsActive.WithLabelValues(protocol).Inc()
}

// ConnectionClosed decrements the active connections gauge.
func (c *PrometheusCollector) ConnectionClosed(protocol string) {
	c.connectionsActive.WithLabelValues(protocol).Dec()
}

// ConnectionRejected increments the rejected connection counter.
func (c *PrometheusCollector) ConnectionRejected(protocol string) {
	c.connectionsRejected.WithLabelValues(protocol).Inc()
}

// AuthAttempt increments the authentication attempts counter.
func (c *PrometheusCollector) AuthAttempt(protocol, authDomain string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authAttemptsTotal.WithLabelValues(protocol, authDomain, result).Inc()
}

// CommandProcessed increments the command counter.
func (c *PrometheusCollector) CommandProcessed(protocol, command string) {
	c.commandsTotal.WithLabelValues(protocol, command).Inc()
}

// MessageRetrieved increments the message retrieved counter and observes message size.
func (c *PrometheusCollector) MessageRetrieved(userDomain string, sizeBytes int64) {
	c.messagesRetrievedTotal.WithLabelValues(userDomain).Inc()
	c.retrievedSizeBytes.Observe(float64(sizeBytes))
}

// MessageDeleted increments the message deleted counter.
func (c *PrometheusCollector) MessageDeleted(userDomain string) {
	c.messagesDeletedTotal.WithLabelValues(userDomain).Inc()
}

// MessageListed increments the message listed counter.
func (c *PrometheusCollector) MessageListed(userDomain string) {
	c.messagesListedTotal.WithLabelValues(userDomain).Inc()
}

// MessageDelivered increments the delivery counter and observes message size.
func (c *PrometheusCollector) MessageDelivered(recipientDomain string, sizeBytes int64) {
	c.messagesDeliveredTotal.WithLabelValues(recipientDomain).Inc()
	c.deliveredSizeBytes.Observe(float64(sizeBytes))
}

// MessageRejected increments the rejection counter.
func (c *PrometheusCollector) MessageRejected(reason string) {
	c.messagesRejectedTotal.WithLabelValues(reason).Inc()
}
