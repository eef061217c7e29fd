package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/treemeter/pkg/billing"
)

const (
	providerName          = "stripe"
	defaultHTTPTimeout    = 10 * time.Second
	defaultMeterEventName = "trees_planted"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config

	// MeterEventName is the event name of the billing meter behind the
	// metered price (default: "trees_planted").
	MeterEventName string

	// BackendURL overrides the Stripe API base URL. Tests point it at a local server.
	BackendURL string

	// MaxNetworkRetries overrides the client's retry count; nil keeps the library default.
	MaxNetworkRetries *int64
}

// Client implements billing.Client for Stripe
type Client struct {
	sc             *stripe.Client
	meterEventName string
	metrics        billing.Metrics
	now            func() time.Time
}

// NewClient creates a new Stripe billing client
func NewClient(config Config) (*Client, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	backendConfig := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		MaxNetworkRetries: config.MaxNetworkRetries,
	}
	if config.BackendURL != "" {
		backendConfig.URL = stripe.String(config.BackendURL)
	}
	sc := stripe.NewClient(apiKey, stripe.WithBackends(stripe.NewBackendsWithConfig(backendConfig)))

	meterEventName := config.MeterEventName
	if meterEventName == "" {
		meterEventName = defaultMeterEventName
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Client{
		sc:             sc,
		meterEventName: meterEventName,
		metrics:        metrics,
		now:            time.Now,
	}, nil
}

// Name returns the provider name
func (c *Client) Name() string {
	return providerName
}

// observe records the outcome and latency of one API call.
func (c *Client) observe(endpoint string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordAPICall(providerName, endpoint, status)
	c.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))
}

var _ billing.Client = (*Client)(nil)
