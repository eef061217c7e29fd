package billing

import "time"

// SubscriptionStatusActive is the status of a subscription that is being billed.
const SubscriptionStatusActive = "active"

// Subscription is the provider-neutral view of a metered subscription.
type Subscription struct {
	ID         string
	CustomerID string
	Status     string
	StartDate  time.Time
	Items      []SubscriptionItem
}

// SoleItem returns the single billable item of the subscription.
func (s *Subscription) SoleItem() (SubscriptionItem, error) {
	if s == nil || len(s.Items) == 0 {
		return SubscriptionItem{}, ErrNoSubscriptionItems
	}
	return s.Items[0], nil
}

// SubscriptionItem is one billable line of a subscription.
type SubscriptionItem struct {
	ID      string
	PriceID string

	// MeterID is the usage meter backing a metered price (Stripe Billing Meters).
	MeterID string
}

// SetupIntent is a saved-payment-method intent.
type SetupIntent struct {
	ID              string
	PaymentMethodID string
}

// Customer is a billing provider customer.
type Customer struct {
	ID      string
	Deleted bool
}

// CheckoutSession is the payload of a completed hosted checkout.
type CheckoutSession struct {
	ID            string
	CustomerID    string
	SetupIntentID string
	Mode          string
}

// Invoice is the payload of an invoice event.
type Invoice struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	PeriodEnd      time.Time
}

// UsageSummary is a provider-computed aggregate of usage records.
type UsageSummary struct {
	ID         string
	TotalUsage int64
}

// UsageSummaryPage is one page of usage summaries.
type UsageSummaryPage struct {
	Data    []UsageSummary
	HasMore bool
}
