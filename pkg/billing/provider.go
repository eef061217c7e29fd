package billing

import (
	"context"
	"time"
)

// Client is the contract any metered billing backend must implement.
// The tree-planting core only talks to billing through this interface, so
// Stripe can be swapped for the in-memory provider in tests and local runs.
type Client interface {
	// Name returns the provider name (e.g., "stripe", "memory")
	Name() string

	// RetrieveSubscription fetches a subscription with its items.
	RetrieveSubscription(ctx context.Context, id string) (*Subscription, error)

	// CreateSubscription creates a metered subscription with a single item.
	CreateSubscription(ctx context.Context, params *CreateSubscriptionParams) (*Subscription, error)

	// AttachPaymentMethod attaches a payment method to a customer.
	// Attaching a method that already belongs to the customer must succeed.
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error

	// RetrieveSetupIntent fetches a setup intent and the payment method it saved.
	RetrieveSetupIntent(ctx context.Context, id string) (*SetupIntent, error)

	// RetrieveCustomer fetches a customer.
	RetrieveCustomer(ctx context.Context, id string) (*Customer, error)

	// CreateUsageRecord reports a quantity of usage against a subscription item.
	CreateUsageRecord(ctx context.Context, params *UsageRecordParams) error

	// ListUsageSummaries returns one page of usage summaries for a subscription.
	// Pages are cursor based: StartingAfter is the ID of the last summary of
	// the previous page.
	ListUsageSummaries(ctx context.Context, sub *Subscription, params *UsageSummaryListParams) (*UsageSummaryPage, error)
}

// EventVerifier turns a signed webhook delivery into a trusted Event.
type EventVerifier interface {
	ConstructEvent(payload []byte, header, secret string) (*Event, error)
}

// CreateSubscriptionParams describes a new metered subscription.
type CreateSubscriptionParams struct {
	CustomerID string
	PriceID    string

	// DefaultPaymentMethodID is optional; empty keeps the customer's default.
	DefaultPaymentMethodID string
}

// UsageRecordParams describes one usage report.
type UsageRecordParams struct {
	Subscription *Subscription
	Item         SubscriptionItem
	Quantity     int64
	Timestamp    time.Time
}

// UsageSummaryListParams controls paging through usage summaries.
type UsageSummaryListParams struct {
	StartingAfter string
	Limit         int
}
