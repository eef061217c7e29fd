package stripe

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/treemeter/pkg/billing"
)

const (
	defaultListLimit     = 10
	valueGroupingDaily   = "day"
	meterPayloadValue    = "value"
	meterPayloadCustomer = "stripe_customer_id"
)

// CreateUsageRecord implements billing.Client. Metered prices are backed
// by billing meters, so usage is reported as a meter event for the
// subscription's customer.
func (c *Client) CreateUsageRecord(ctx context.Context, params *billing.UsageRecordParams) error {
	if params.Subscription == nil || params.Subscription.CustomerID == "" {
		return fmt.Errorf("usage record for item %s has no customer", params.Item.ID)
	}
	if params.Quantity < 0 {
		return fmt.Errorf("usage quantity must not be negative, got %d", params.Quantity)
	}

	ts := params.Timestamp
	if ts.IsZero() {
		ts = c.now()
	}

	eventParams := &stripe.BillingMeterEventCreateParams{
		EventName: stripe.String(c.meterEventName),
		Payload: map[string]string{
			meterPayloadCustomer: params.Subscription.CustomerID,
			meterPayloadValue:    strconv.FormatInt(params.Quantity, 10),
		},
		Timestamp:  stripe.Int64(ts.Unix()),
		Identifier: stripe.String(uuid.NewString()),
	}

	start := time.Now()
	_, err := c.sc.V1BillingMeterEvents.Create(ctx, eventParams)
	c.observe("/billing/meter_events", start, err)
	if err != nil {
		return wrapError("create meter event", err)
	}
	c.metrics.RecordMeteredUsage(providerName, params.Quantity)
	return nil
}

// ListUsageSummaries implements billing.Client with daily meter event
// summaries from the subscription's first day through today.
//
// One extra summary is requested to learn whether another page exists
// without a second call.
func (c *Client) ListUsageSummaries(ctx context.Context, sub *billing.Subscription, params *billing.UsageSummaryListParams) (*billing.UsageSummaryPage, error) {
	item, err := sub.SoleItem()
	if err != nil {
		return nil, err
	}
	if item.MeterID == "" {
		return nil, fmt.Errorf("subscription item %s has no billing meter", item.ID)
	}

	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	listParams := &stripe.BillingMeterEventSummaryListParams{
		ID:                  stripe.String(item.MeterID),
		Customer:            stripe.String(sub.CustomerID),
		StartTime:           stripe.Int64(startOfDayUTC(sub.StartDate).Unix()),
		EndTime:             stripe.Int64(startOfDayUTC(c.now()).AddDate(0, 0, 1).Unix()),
		ValueGroupingWindow: stripe.String(valueGroupingDaily),
	}
	listParams.Limit = stripe.Int64(int64(limit + 1))
	listParams.Single = true
	if params.StartingAfter != "" {
		listParams.StartingAfter = stripe.String(params.StartingAfter)
	}

	start := time.Now()
	page := &billing.UsageSummaryPage{}
	for summary, err := range c.sc.V1BillingMeterEventSummaries.List(ctx, listParams) {
		if err != nil {
			c.observe("/billing/meters/{id}/event_summaries", start, err)
			return nil, wrapError("list meter event summaries", err)
		}
		if len(page.Data) == limit {
			page.HasMore = true
			break
		}
		page.Data = append(page.Data, billing.UsageSummary{
			ID:         summary.ID,
			TotalUsage: int64(math.Round(summary.AggregatedValue)),
		})
	}
	c.observe("/billing/meters/{id}/event_summaries", start, nil)
	return page, nil
}

func startOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
