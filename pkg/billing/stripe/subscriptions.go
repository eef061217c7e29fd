package stripe

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/treemeter/pkg/billing"
)

// RetrieveSubscription implements billing.Client
func (c *Client) RetrieveSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	start := time.Now()
	sub, err := c.sc.V1Subscriptions.Retrieve(ctx, id, nil)
	c.observe("/subscriptions/{id}", start, err)
	if err != nil {
		return nil, wrapError("retrieve subscription", err)
	}
	return toSubscription(sub), nil
}

// CreateSubscription implements billing.Client
func (c *Client) CreateSubscription(ctx context.Context, params *billing.CreateSubscriptionParams) (*billing.Subscription, error) {
	createParams := &stripe.SubscriptionCreateParams{
		Customer: stripe.String(params.CustomerID),
		Items: []*stripe.SubscriptionCreateItemParams{
			{Price: stripe.String(params.PriceID)},
		},
	}
	if params.DefaultPaymentMethodID != "" {
		createParams.DefaultPaymentMethod = stripe.String(params.DefaultPaymentMethodID)
	}

	start := time.Now()
	sub, err := c.sc.V1Subscriptions.Create(ctx, createParams)
	c.observe("/subscriptions", start, err)
	if err != nil {
		return nil, wrapError("create subscription", err)
	}
	return toSubscription(sub), nil
}

func toSubscription(sub *stripe.Subscription) *billing.Subscription {
	out := &billing.Subscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.StartDate > 0 {
		out.StartDate = time.Unix(sub.StartDate, 0).UTC()
	}
	if sub.Items == nil {
		return out
	}
	for _, item := range sub.Items.Data {
		if item == nil {
			continue
		}
		converted := billing.SubscriptionItem{ID: item.ID}
		if item.Price != nil {
			converted.PriceID = item.Price.ID
			if item.Price.Recurring != nil {
				converted.MeterID = item.Price.Recurring.Meter
			}
		}
		out.Items = append(out.Items, converted)
	}
	return out
}
