package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mihaimyh/treemeter/pkg/treemeter"
)

func seed(t *testing.T, s *Storage, u *treemeter.User) *treemeter.User {
	t.Helper()
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return u
}

func TestStorage_CreateUser(t *testing.T) {
	storage := New()
	ctx := context.Background()

	u := seed(t, storage, &treemeter.User{APIKey: "key_1", Email: "a@example.com"})
	if u.ID == "" {
		t.Fatal("expected CreateUser to assign an id")
	}
	if u.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	err := storage.CreateUser(ctx, &treemeter.User{APIKey: "key_1"})
	if !errors.Is(err, treemeter.ErrUserExists) {
		t.Errorf("expected ErrUserExists for duplicate api key, got %v", err)
	}

	err = storage.CreateUser(ctx, &treemeter.User{})
	if err == nil {
		t.Error("expected error for user without api key")
	}
}

func TestStorage_Find(t *testing.T) {
	storage := New()
	ctx := context.Background()
	seed(t, storage, &treemeter.User{
		APIKey:            "key_1",
		StripeID:          "cus_1",
		CheckoutSessionID: "cs_1",
	})
	seed(t, storage, &treemeter.User{APIKey: "key_2"})

	tests := []struct {
		name string
		find func() (*treemeter.User, error)
		ok   bool
	}{
		{"by api key", func() (*treemeter.User, error) { return storage.FindByAPIKey(ctx, "key_1") }, true},
		{"by stripe id", func() (*treemeter.User, error) { return storage.FindByStripeID(ctx, "cus_1") }, true},
		{"by checkout session", func() (*treemeter.User, error) { return storage.FindByCheckoutSessionID(ctx, "cs_1") }, true},
		{"unknown api key", func() (*treemeter.User, error) { return storage.FindByAPIKey(ctx, "nope") }, false},
		{"unknown stripe id", func() (*treemeter.User, error) { return storage.FindByStripeID(ctx, "cus_2") }, false},
		{"unknown session", func() (*treemeter.User, error) { return storage.FindByCheckoutSessionID(ctx, "cs_2") }, false},
		{"empty session", func() (*treemeter.User, error) { return storage.FindByCheckoutSessionID(ctx, "") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := tt.find()
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if u.APIKey != "key_1" {
					t.Errorf("found wrong user: %+v", u)
				}
				return
			}
			if !errors.Is(err, treemeter.ErrUserNotFound) {
				t.Errorf("expected ErrUserNotFound, got %v", err)
			}
		})
	}
}

func TestStorage_Update(t *testing.T) {
	storage := New()
	ctx := context.Background()
	u := seed(t, storage, &treemeter.User{APIKey: "key_1", StripeID: "cus_1", CheckoutSessionID: "cs_1", Credit: 10})

	updated, err := storage.Update(ctx, u.ID, &treemeter.UserUpdate{
		SubscriptionID:    treemeter.String("sub_1"),
		CheckoutSessionID: treemeter.String(""),
		CreditDelta:       -3,
		TreesDelta:        3,
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.SubscriptionID != "sub_1" {
		t.Errorf("SubscriptionID = %q, want sub_1", updated.SubscriptionID)
	}
	if updated.CheckoutSessionID != "" {
		t.Errorf("CheckoutSessionID = %q, want cleared", updated.CheckoutSessionID)
	}
	if updated.Credit != 7 || updated.Trees != 3 {
		t.Errorf("credit/trees = %d/%d, want 7/3", updated.Credit, updated.Trees)
	}

	if _, err := storage.FindByCheckoutSessionID(ctx, "cs_1"); !errors.Is(err, treemeter.ErrUserNotFound) {
		t.Errorf("cleared session should no longer match, got %v", err)
	}
}

func TestStorage_Update_RejectsSubscriptionWithoutCustomer(t *testing.T) {
	storage := New()
	ctx := context.Background()
	u := seed(t, storage, &treemeter.User{APIKey: "key_1"})

	_, err := storage.Update(ctx, u.ID, &treemeter.UserUpdate{
		SubscriptionID: treemeter.String("sub_1"),
		CreditDelta:    5,
	})
	if !errors.Is(err, treemeter.ErrInvalidUpdate) {
		t.Fatalf("expected ErrInvalidUpdate, got %v", err)
	}

	got, _ := storage.GetUser(ctx, u.ID)
	if got.Credit != 0 || got.SubscriptionID != "" {
		t.Errorf("rejected update must not be applied: %+v", got)
	}
}

func TestStorage_Update_NotFound(t *testing.T) {
	storage := New()
	_, err := storage.Update(context.Background(), "missing", &treemeter.UserUpdate{CreditDelta: 1})
	if !errors.Is(err, treemeter.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestStorage_Update_Concurrent(t *testing.T) {
	storage := New()
	ctx := context.Background()
	u := seed(t, storage, &treemeter.User{APIKey: "key_1"})

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := storage.Update(ctx, u.ID, &treemeter.UserUpdate{TreesDelta: 1, CreditDelta: -1}); err != nil {
				t.Errorf("Update failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := storage.GetUser(ctx, u.ID)
	if got.Trees != workers || got.Credit != -workers {
		t.Errorf("trees/credit = %d/%d, want %d/%d", got.Trees, got.Credit, workers, -workers)
	}
}

func TestStorage_Record(t *testing.T) {
	storage := New()
	ctx := context.Background()
	ts := time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC)

	entry := &treemeter.LedgerEntry{Timestamp: ts, Trees: 4, StripeID: "cus_1", InvoiceID: "in_1"}
	if err := storage.Record(ctx, entry); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if entry.ID == "" {
		t.Error("expected Record to assign an id")
	}

	entries := storage.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Trees != 4 || !entries[0].Timestamp.Equal(ts) {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestStorage_Clear(t *testing.T) {
	storage := New()
	ctx := context.Background()
	seed(t, storage, &treemeter.User{APIKey: "key_1"})
	_ = storage.Record(ctx, &treemeter.LedgerEntry{Trees: 1})

	storage.Clear()

	if _, err := storage.FindByAPIKey(ctx, "key_1"); !errors.Is(err, treemeter.ErrUserNotFound) {
		t.Errorf("expected users to be cleared, got %v", err)
	}
	if len(storage.Entries()) != 0 {
		t.Error("expected ledger to be cleared")
	}
}

func TestStorage_Update_LinksCustomer(t *testing.T) {
	storage := New()
	ctx := context.Background()

	u := &treemeter.User{APIKey: "key_1"}
	other := &treemeter.User{APIKey: "key_2", StripeID: "cus_2"}
	late := &treemeter.User{APIKey: "key_3"}
	for _, user := range []*treemeter.User{u, other, late} {
		if err := storage.CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}
	}

	// Linking and subscribing in one update satisfies the customer guard.
	got, err := storage.Update(ctx, u.ID, &treemeter.UserUpdate{
		StripeID:       treemeter.String("cus_1"),
		SubscriptionID: treemeter.String("sub_1"),
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.StripeID != "cus_1" || got.SubscriptionID != "sub_1" {
		t.Errorf("expected cus_1/sub_1, got %+v", got)
	}

	found, err := storage.FindByStripeID(ctx, "cus_1")
	if err != nil {
		t.Fatalf("FindByStripeID failed: %v", err)
	}
	if found.ID != u.ID {
		t.Errorf("expected %s, got %s", u.ID, found.ID)
	}

	if _, err := storage.Update(ctx, u.ID, &treemeter.UserUpdate{StripeID: treemeter.String("cus_1")}); err != nil {
		t.Errorf("relinking the same customer should succeed, got %v", err)
	}
	if _, err := storage.Update(ctx, u.ID, &treemeter.UserUpdate{StripeID: treemeter.String("cus_other")}); !errors.Is(err, treemeter.ErrInvalidUpdate) {
		t.Errorf("expected ErrInvalidUpdate, got %v", err)
	}
	if _, err := storage.Update(ctx, late.ID, &treemeter.UserUpdate{StripeID: treemeter.String("cus_2")}); !errors.Is(err, treemeter.ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}
}
