package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/treemeter/pkg/treemeter"
)

func setupTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := New(context.Background(), Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *Storage, u *treemeter.User) *treemeter.User {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestStorage_CreateAndFind(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	u := seed(t, s, &treemeter.User{
		Email:             "a@example.com",
		APIKey:            "key_1",
		StripeID:          "cus_1",
		CheckoutSessionID: "cs_1",
		Credit:            10,
	})
	seed(t, s, &treemeter.User{APIKey: "key_2"})
	require.NotEmpty(t, u.ID)

	byKey, err := s.FindByAPIKey(ctx, "key_1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byKey.ID)
	assert.Equal(t, "a@example.com", byKey.Email)
	assert.Equal(t, int64(10), byKey.Credit)
	assert.WithinDuration(t, u.CreatedAt, byKey.CreatedAt, time.Millisecond)

	byStripe, err := s.FindByStripeID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byStripe.ID)

	bySession, err := s.FindByCheckoutSessionID(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, bySession.ID)

	// key_2 has no customer; an empty id must not match it
	_, err = s.FindByStripeID(ctx, "")
	assert.ErrorIs(t, err, treemeter.ErrUserNotFound)
	_, err = s.FindByAPIKey(ctx, "missing")
	assert.ErrorIs(t, err, treemeter.ErrUserNotFound)

	err = s.CreateUser(ctx, &treemeter.User{APIKey: "key_1"})
	assert.ErrorIs(t, err, treemeter.ErrUserExists)
	err = s.CreateUser(ctx, &treemeter.User{APIKey: "key_3", SubscriptionID: "sub_1"})
	assert.ErrorIs(t, err, treemeter.ErrInvalidUpdate)
}

func TestStorage_Update(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()
	u := seed(t, s, &treemeter.User{APIKey: "key_1", StripeID: "cus_1", CheckoutSessionID: "cs_1", Credit: 5})

	got, err := s.Update(ctx, u.ID, &treemeter.UserUpdate{
		SubscriptionID:    treemeter.String("sub_1"),
		CheckoutSessionID: treemeter.String(""),
		CreditDelta:       -3,
		TreesDelta:        2,
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_1", got.SubscriptionID)
	assert.Empty(t, got.CheckoutSessionID)
	assert.Equal(t, int64(2), got.Credit)
	assert.Equal(t, int64(2), got.Trees)

	_, err = s.FindByCheckoutSessionID(ctx, "cs_1")
	assert.ErrorIs(t, err, treemeter.ErrUserNotFound)

	// Nil fields leave values untouched
	got, err = s.Update(ctx, u.ID, &treemeter.UserUpdate{CreditDelta: -10})
	require.NoError(t, err)
	assert.Equal(t, "sub_1", got.SubscriptionID)
	assert.Equal(t, int64(-8), got.Credit)

	got, err = s.Update(ctx, u.ID, &treemeter.UserUpdate{SubscriptionID: treemeter.String("")})
	require.NoError(t, err)
	assert.False(t, got.HasSubscription())

	_, err = s.Update(ctx, "missing", &treemeter.UserUpdate{TreesDelta: 1})
	assert.ErrorIs(t, err, treemeter.ErrUserNotFound)
}

func TestStorage_UpdateRequiresCustomerForSubscription(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()
	u := seed(t, s, &treemeter.User{APIKey: "key_1"})

	_, err := s.Update(ctx, u.ID, &treemeter.UserUpdate{SubscriptionID: treemeter.String("sub_1"), TreesDelta: 1})
	assert.ErrorIs(t, err, treemeter.ErrInvalidUpdate)

	got, err := s.FindByAPIKey(ctx, "key_1")
	require.NoError(t, err)
	assert.Zero(t, got.Trees)
	assert.Empty(t, got.SubscriptionID)
}

func TestStorage_ConcurrentUpdates(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()
	u := seed(t, s, &treemeter.User{APIKey: "key_1", StripeID: "cus_1", Credit: 100})

	const workers = 40
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, u.ID, &treemeter.UserUpdate{CreditDelta: -1, TreesDelta: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.FindByAPIKey(ctx, "key_1")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), got.Trees)
	assert.Equal(t, int64(100-workers), got.Credit)
}

func TestStorage_Ledger(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()
	periodEnd := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	first := &treemeter.LedgerEntry{Timestamp: periodEnd, Trees: 12, StripeID: "cus_1", InvoiceID: "in_1"}
	require.NoError(t, s.Record(ctx, first))
	require.NotEmpty(t, first.ID)
	require.NoError(t, s.Record(ctx, &treemeter.LedgerEntry{Timestamp: periodEnd, Trees: 0, StripeID: "cus_1"}))
	require.NoError(t, s.Record(ctx, &treemeter.LedgerEntry{Timestamp: periodEnd, Trees: 4, StripeID: "cus_2"}))
	assert.Error(t, s.Record(ctx, nil))

	entries, err := s.Entries(ctx, "cus_1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].ID)
	assert.Equal(t, int64(12), entries[0].Trees)
	assert.Equal(t, "in_1", entries[0].InvoiceID)
	assert.True(t, periodEnd.Equal(entries[0].Timestamp))
	assert.Equal(t, int64(0), entries[1].Trees)
}

func TestStorage_UpdateLinksCustomer(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	u := seed(t, s, &treemeter.User{APIKey: "key_1"})
	seed(t, s, &treemeter.User{APIKey: "key_2", StripeID: "cus_2"})
	late := seed(t, s, &treemeter.User{APIKey: "key_3"})

	got, err := s.Update(ctx, u.ID, &treemeter.UserUpdate{
		StripeID:       treemeter.String("cus_1"),
		SubscriptionID: treemeter.String("sub_1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "cus_1", got.StripeID)
	assert.Equal(t, "sub_1", got.SubscriptionID)

	found, err := s.FindByStripeID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	_, err = s.Update(ctx, u.ID, &treemeter.UserUpdate{StripeID: treemeter.String("cus_1")})
	assert.NoError(t, err, "same customer is a no-op")

	_, err = s.Update(ctx, u.ID, &treemeter.UserUpdate{StripeID: treemeter.String("cus_other")})
	assert.ErrorIs(t, err, treemeter.ErrInvalidUpdate)

	_, err = s.Update(ctx, late.ID, &treemeter.UserUpdate{StripeID: treemeter.String("cus_2")})
	assert.ErrorIs(t, err, treemeter.ErrUserExists)
}
