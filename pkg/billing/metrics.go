package billing

import "time"

// Metrics defines the interface for tracking billing provider operations.
// Providers substitute NoopMetrics when none is configured.
type Metrics interface {
	// RecordWebhookError records a webhook verification or decoding error.
	// errorType: The type of error (e.g., "auth_failed", "invalid_payload")
	RecordWebhookError(provider, errorType string)

	// RecordAPICall records an API call to the billing provider.
	// endpoint: The API endpoint called (e.g., "/subscriptions/{id}")
	// status: "success" or "error"
	RecordAPICall(provider, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)

	// RecordMeteredUsage counts units reported against metered prices.
	RecordMeteredUsage(provider string, quantity int64)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookError(_, _ string)                     {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                       {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordMeteredUsage(_ string, _ int64)               {}
