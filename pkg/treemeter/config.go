package treemeter

import (
	"fmt"
	"time"

	"github.com/mihaimyh/treemeter/pkg/billing"
)

const (
	// DefaultMeteredPrice is the price every new subscription is created with.
	DefaultMeteredPrice = "meteredtreeplanted"

	// DefaultUsagePageSize is the page size used when summing usage.
	DefaultUsagePageSize = 100
)

// Config configures a Service.
type Config struct {
	// Users is the user store (required)
	Users UserStore

	// Ledger receives one entry per paid invoice (required)
	Ledger Ledger

	// Billing is the metered billing provider (required)
	Billing billing.Client

	// Verifier checks webhook signatures (required)
	Verifier billing.EventVerifier

	// WebhookSecret is the signing secret of the webhook endpoint (required)
	WebhookSecret string

	// MeteredPriceID is the price of new subscriptions (default: "meteredtreeplanted")
	MeteredPriceID string

	// FrontendURL is linked to users that have no card on file yet
	FrontendURL string

	// UsagePageSize is the page size when summing usage (default: 100)
	UsagePageSize int

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Metrics is used for tracking operations (default: NoopMetrics)
	Metrics Metrics

	// Now is the clock used for usage record timestamps (default: time.Now)
	Now func() time.Time
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.Users == nil {
		return fmt.Errorf("%w: user store is required", ErrNotConfigured)
	}
	if c.Ledger == nil {
		return fmt.Errorf("%w: ledger is required", ErrNotConfigured)
	}
	if c.Billing == nil {
		return fmt.Errorf("%w: billing client is required", ErrNotConfigured)
	}
	if c.Verifier == nil {
		return fmt.Errorf("%w: event verifier is required", ErrNotConfigured)
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("%w: webhook secret is required", ErrNotConfigured)
	}
	if c.UsagePageSize < 0 {
		return fmt.Errorf("%w: usage page size must not be negative", ErrNotConfigured)
	}

	if c.MeteredPriceID == "" {
		c.MeteredPriceID = DefaultMeteredPrice
	}
	if c.UsagePageSize == 0 {
		c.UsagePageSize = DefaultUsagePageSize
	}
	if c.Logger == nil {
		c.Logger = &NoopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = &NoopMetrics{}
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}
