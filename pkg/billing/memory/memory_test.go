package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/treemeter/pkg/billing"
)

func TestProvider_CreateSubscription(t *testing.T) {
	ctx := context.Background()
	p := New()
	p.AddCustomer("cus_1")
	require.NoError(t, p.AttachPaymentMethod(ctx, "pm_1", "cus_1"))

	sub, err := p.CreateSubscription(ctx, &billing.CreateSubscriptionParams{
		CustomerID:             "cus_1",
		PriceID:                "meteredtreeplanted",
		DefaultPaymentMethodID: "pm_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.Equal(t, billing.SubscriptionStatusActive, sub.Status)
	require.Len(t, sub.Items, 1)
	assert.Equal(t, "meteredtreeplanted", sub.Items[0].PriceID)

	got, err := p.RetrieveSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.Items[0].ID, got.Items[0].ID)
	assert.Len(t, p.SubscriptionsFor("cus_1"), 1)
}

func TestProvider_CreateSubscription_UnknownCustomer(t *testing.T) {
	p := New()
	_, err := p.CreateSubscription(context.Background(), &billing.CreateSubscriptionParams{CustomerID: "cus_x"})
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestProvider_AttachPaymentMethod_Idempotent(t *testing.T) {
	ctx := context.Background()
	p := New()
	p.AddCustomer("cus_1")
	p.AddCustomer("cus_2")

	require.NoError(t, p.AttachPaymentMethod(ctx, "pm_1", "cus_1"))
	require.NoError(t, p.AttachPaymentMethod(ctx, "pm_1", "cus_1"))
	assert.Equal(t, "cus_1", p.PaymentMethodCustomer("pm_1"))

	assert.Error(t, p.AttachPaymentMethod(ctx, "pm_1", "cus_2"))
	assert.Equal(t, 3, p.Calls(MethodAttachPaymentMethod))
}

func TestProvider_ListUsageSummaries_Paging(t *testing.T) {
	ctx := context.Background()
	p := New()
	sub := &billing.Subscription{ID: "sub_1", Items: []billing.SubscriptionItem{{ID: "si_1"}}}
	p.AddSubscription(sub)
	p.AddUsage("si_1", 1, 2, 3, 4, 5)

	page, err := p.ListUsageSummaries(ctx, sub, &billing.UsageSummaryListParams{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.True(t, page.HasMore)

	page, err = p.ListUsageSummaries(ctx, sub, &billing.UsageSummaryListParams{
		Limit:         2,
		StartingAfter: page.Data[1].ID,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Data[0].TotalUsage)
	assert.True(t, page.HasMore)

	page, err = p.ListUsageSummaries(ctx, sub, &billing.UsageSummaryListParams{
		Limit:         2,
		StartingAfter: page.Data[1].ID,
	})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, int64(5), page.Data[0].TotalUsage)
	assert.False(t, page.HasMore)
}

func TestProvider_ListUsageSummaries_UnknownCursor(t *testing.T) {
	p := New()
	sub := &billing.Subscription{ID: "sub_1", Items: []billing.SubscriptionItem{{ID: "si_1"}}}
	p.AddSubscription(sub)

	_, err := p.ListUsageSummaries(context.Background(), sub, &billing.UsageSummaryListParams{StartingAfter: "urs_404"})
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestProvider_ListUsageSummaries_NoItems(t *testing.T) {
	p := New()
	_, err := p.ListUsageSummaries(context.Background(), &billing.Subscription{ID: "sub_1"}, &billing.UsageSummaryListParams{})
	assert.ErrorIs(t, err, billing.ErrNoSubscriptionItems)
}

func TestProvider_CreateUsageRecord(t *testing.T) {
	ctx := context.Background()
	p := New()
	sub := &billing.Subscription{ID: "sub_1", Items: []billing.SubscriptionItem{{ID: "si_1"}}}
	p.AddSubscription(sub)

	require.NoError(t, p.CreateUsageRecord(ctx, &billing.UsageRecordParams{Subscription: sub, Item: sub.Items[0], Quantity: 4}))
	assert.Equal(t, []int64{4}, p.Usage("si_1"))

	err := p.CreateUsageRecord(ctx, &billing.UsageRecordParams{Subscription: sub, Item: sub.Items[0], Quantity: -1})
	assert.Error(t, err)
}

func TestProvider_FailOn(t *testing.T) {
	ctx := context.Background()
	p := New()
	p.AddCustomer("cus_1")
	boom := errors.New("boom")

	p.FailOn(MethodRetrieveCustomer, boom)
	_, err := p.RetrieveCustomer(ctx, "cus_1")
	assert.ErrorIs(t, err, boom)

	p.FailOn(MethodRetrieveCustomer, nil)
	_, err = p.RetrieveCustomer(ctx, "cus_1")
	assert.NoError(t, err)
	assert.Equal(t, 2, p.TotalCalls())
}
