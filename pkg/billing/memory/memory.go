// Package memory provides an in-memory implementation of billing.Client.
// It is deterministic and intended for tests and local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/treemeter/pkg/billing"
)

// Method names accepted by Calls and FailOn.
const (
	MethodRetrieveSubscription = "RetrieveSubscription"
	MethodCreateSubscription   = "CreateSubscription"
	MethodAttachPaymentMethod  = "AttachPaymentMethod"
	MethodRetrieveSetupIntent  = "RetrieveSetupIntent"
	MethodRetrieveCustomer     = "RetrieveCustomer"
	MethodCreateUsageRecord    = "CreateUsageRecord"
	MethodListUsageSummaries   = "ListUsageSummaries"
)

// defaultListLimit matches the provider's default page size.
const defaultListLimit = 10

// Provider implements billing.Client using in-memory maps
type Provider struct {
	mu sync.Mutex

	customers      map[string]*billing.Customer
	setupIntents   map[string]*billing.SetupIntent
	paymentMethods map[string]string // payment method id -> customer id
	subscriptions  map[string]*billing.Subscription
	usage          map[string][]billing.UsageSummary // subscription item id -> records

	seq      int
	calls    map[string]int
	failures map[string]error
	now      func() time.Time
}

// New creates an empty provider.
func New() *Provider {
	return &Provider{
		customers:      make(map[string]*billing.Customer),
		setupIntents:   make(map[string]*billing.SetupIntent),
		paymentMethods: make(map[string]string),
		subscriptions:  make(map[string]*billing.Subscription),
		usage:          make(map[string][]billing.UsageSummary),
		calls:          make(map[string]int),
		failures:       make(map[string]error),
		now:            time.Now,
	}
}

// Name implements billing.Client
func (p *Provider) Name() string {
	return "memory"
}

// AddCustomer registers a customer.
func (p *Provider) AddCustomer(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customers[id] = &billing.Customer{ID: id}
}

// AddSetupIntent registers a setup intent that saved paymentMethodID.
// An empty paymentMethodID models an intent that never completed.
func (p *Provider) AddSetupIntent(id, paymentMethodID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setupIntents[id] = &billing.SetupIntent{ID: id, PaymentMethodID: paymentMethodID}
}

// AddSubscription registers an existing subscription.
func (p *Provider) AddSubscription(sub *billing.Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subCopy := *sub
	subCopy.Items = append([]billing.SubscriptionItem(nil), sub.Items...)
	p.subscriptions[sub.ID] = &subCopy
}

// AddUsage records one usage record per quantity against an item,
// bypassing call counting.
func (p *Provider) AddUsage(itemID string, quantities ...int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, q := range quantities {
		p.appendUsage(itemID, q)
	}
}

// FailOn makes every later call of method return err. A nil err clears it.
func (p *Provider) FailOn(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, method)
		return
	}
	p.failures[method] = err
}

// Calls returns how many times method was called.
func (p *Provider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

// TotalCalls returns the number of calls across all methods.
func (p *Provider) TotalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, n := range p.calls {
		total += n
	}
	return total
}

// SubscriptionsFor returns the subscriptions of a customer.
func (p *Provider) SubscriptionsFor(customerID string) []billing.Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	var subs []billing.Subscription
	for _, sub := range p.subscriptions {
		if sub.CustomerID == customerID {
			subs = append(subs, *sub)
		}
	}
	return subs
}

// PaymentMethodCustomer returns the customer a payment method is attached to.
func (p *Provider) PaymentMethodCustomer(paymentMethodID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paymentMethods[paymentMethodID]
}

// Usage returns the recorded quantities of an item in order.
func (p *Provider) Usage(itemID string) []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []int64
	for _, s := range p.usage[itemID] {
		out = append(out, s.TotalUsage)
	}
	return out
}

// SetClock replaces the clock used for new subscriptions.
func (p *Provider) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// RetrieveSubscription implements billing.Client
func (p *Provider) RetrieveSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(MethodRetrieveSubscription); err != nil {
		return nil, err
	}

	sub, ok := p.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", id, billing.ErrNotFound)
	}
	subCopy := *sub
	subCopy.Items = append([]billing.SubscriptionItem(nil), sub.Items...)
	return &subCopy, nil
}

// CreateSubscription implements billing.Client
func (p *Provider) CreateSubscription(ctx context.Context, params *billing.CreateSubscriptionParams) (*billing.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(MethodCreateSubscription); err != nil {
		return nil, err
	}

	if _, ok := p.customers[params.CustomerID]; !ok {
		return nil, fmt.Errorf("customer %s: %w", params.CustomerID, billing.ErrNotFound)
	}
	if pm := params.DefaultPaymentMethodID; pm != "" && p.paymentMethods[pm] != params.CustomerID {
		return nil, fmt.Errorf("payment method %s does not belong to customer %s", pm, params.CustomerID)
	}

	p.seq++
	sub := &billing.Subscription{
		ID:         fmt.Sprintf("sub_%d", p.seq),
		CustomerID: params.CustomerID,
		Status:     billing.SubscriptionStatusActive,
		StartDate:  p.now().UTC(),
		Items: []billing.SubscriptionItem{{
			ID:      fmt.Sprintf("si_%d", p.seq),
			PriceID: params.PriceID,
		}},
	}
	p.subscriptions[sub.ID] = sub

	subCopy := *sub
	subCopy.Items = append([]billing.SubscriptionItem(nil), sub.Items...)
	return &subCopy, nil
}

// AttachPaymentMethod implements billing.Client
func (p *Provider) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(MethodAttachPaymentMethod); err != nil {
		return err
	}

	if _, ok := p.customers[customerID]; !ok {
		return fmt.Errorf("customer %s: %w", customerID, billing.ErrNotFound)
	}
	owner, attached := p.paymentMethods[paymentMethodID]
	if attached && owner != customerID {
		return fmt.Errorf("payment method %s is attached to another customer", paymentMethodID)
	}
	p.paymentMethods[paymentMethodID] = customerID
	return nil
}

// RetrieveSetupIntent implements billing.Client
func (p *Provider) RetrieveSetupIntent(ctx context.Context, id string) (*billing.SetupIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(MethodRetrieveSetupIntent); err != nil {
		return nil, err
	}

	intent, ok := p.setupIntents[id]
	if !ok {
		return nil, fmt.Errorf("setup intent %s: %w", id, billing.ErrNotFound)
	}
	intentCopy := *intent
	return &intentCopy, nil
}

// RetrieveCustomer implements billing.Client
func (p *Provider) RetrieveCustomer(ctx context.Context, id string) (*billing.Customer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(MethodRetrieveCustomer); err != nil {
		return nil, err
	}

	customer, ok := p.customers[id]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", id, billing.ErrNotFound)
	}
	customerCopy := *customer
	return &customerCopy, nil
}

// CreateUsageRecord implements billing.Client
func (p *Provider) CreateUsageRecord(ctx context.Context, params *billing.UsageRecordParams) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(MethodCreateUsageRecord); err != nil {
		return err
	}

	if params.Quantity < 0 {
		return fmt.Errorf("usage quantity must not be negative, got %d", params.Quantity)
	}
	if params.Subscription == nil {
		return fmt.Errorf("usage record without subscription")
	}
	if _, ok := p.subscriptions[params.Subscription.ID]; !ok {
		return fmt.Errorf("subscription %s: %w", params.Subscription.ID, billing.ErrNotFound)
	}
	p.appendUsage(params.Item.ID, params.Quantity)
	return nil
}

// ListUsageSummaries implements billing.Client. Every usage record is its
// own summary, listed oldest first.
func (p *Provider) ListUsageSummaries(ctx context.Context, sub *billing.Subscription, params *billing.UsageSummaryListParams) (*billing.UsageSummaryPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter(MethodListUsageSummaries); err != nil {
		return nil, err
	}

	item, err := sub.SoleItem()
	if err != nil {
		return nil, err
	}
	records := p.usage[item.ID]

	start := 0
	if params.StartingAfter != "" {
		start = -1
		for i, r := range records {
			if r.ID == params.StartingAfter {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, fmt.Errorf("usage summary %s: %w", params.StartingAfter, billing.ErrNotFound)
		}
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	end := start + limit
	if end > len(records) {
		end = len(records)
	}

	return &billing.UsageSummaryPage{
		Data:    append([]billing.UsageSummary(nil), records[start:end]...),
		HasMore: end < len(records),
	}, nil
}

// enter counts a call and returns the injected failure, if any.
// Callers must hold p.mu.
func (p *Provider) enter(method string) error {
	p.calls[method]++
	return p.failures[method]
}

func (p *Provider) appendUsage(itemID string, quantity int64) {
	p.seq++
	p.usage[itemID] = append(p.usage[itemID], billing.UsageSummary{
		ID:         fmt.Sprintf("urs_%d", p.seq),
		TotalUsage: quantity,
	})
}

var _ billing.Client = (*Provider)(nil)
