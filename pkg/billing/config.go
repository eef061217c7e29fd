package billing

import "net/http"

// Config defines the standard configuration all providers should accept
type Config struct {
	// APIKey is used for outbound API calls to the billing provider.
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Metrics is an optional metrics collector for tracking billing provider operations.
	// If nil, metrics will be silently ignored (no-op).
	// See billing/metrics/prometheus.NewMetrics.
	Metrics Metrics
}
