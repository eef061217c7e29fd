package treemeter

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// User is one subscriber of the tree-planting service.
type User struct {
	ID     string
	Email  string
	APIKey string

	// StripeID is the billing customer id; empty until checkout.
	StripeID string

	// CheckoutSessionID is set while a checkout is pending.
	CheckoutSessionID string

	// SubscriptionID is empty unless an active metered subscription exists.
	SubscriptionID string

	// Credit may go negative: it is deducted per tree and per paid invoice.
	Credit int64

	// Trees only ever grows.
	Trees int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PrepareNew fills the id and timestamps of a user about to be created.
func (u *User) PrepareNew(now time.Time) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now.UTC()
	}
	u.UpdatedAt = u.CreatedAt
}

// HasSubscription reports whether the user is on a metered subscription.
func (u *User) HasSubscription() bool {
	return u.SubscriptionID != ""
}

// UserUpdate is a partial update applied atomically by a UserStore.
//
// A nil pointer leaves the field unchanged; a pointer to "" clears it.
// Deltas are increments, never overwrites of a previously read value.
type UserUpdate struct {
	// StripeID links a billing customer to a user that has none. It is
	// never cleared: "" is ignored and relinking to another id is invalid.
	StripeID *string

	SubscriptionID    *string
	CheckoutSessionID *string
	CreditDelta       int64
	TreesDelta        int64
}

// LinksCustomer returns the customer id the update links, or "".
func (up *UserUpdate) LinksCustomer() string {
	if up == nil || up.StripeID == nil {
		return ""
	}
	return *up.StripeID
}

// Apply applies the update to u in place. Stores that keep users in
// process memory use it inside their critical section.
func (up *UserUpdate) Apply(u *User) error {
	if up == nil {
		return nil
	}

	stripeID := u.StripeID
	if link := up.LinksCustomer(); link != "" {
		if stripeID != "" && stripeID != link {
			return ErrInvalidUpdate
		}
		stripeID = link
	}
	if up.SubscriptionID != nil && *up.SubscriptionID != "" && stripeID == "" {
		return ErrInvalidUpdate
	}

	u.StripeID = stripeID
	if up.SubscriptionID != nil {
		u.SubscriptionID = *up.SubscriptionID
	}
	if up.CheckoutSessionID != nil {
		u.CheckoutSessionID = *up.CheckoutSessionID
	}
	u.Credit += up.CreditDelta
	u.Trees += up.TreesDelta
	return nil
}

// LedgerEntry is an append-only audit record of billed trees.
type LedgerEntry struct {
	// ID is a ULID assigned by the recorder when empty.
	ID        string
	Timestamp time.Time
	Trees     int64
	StripeID  string

	// InvoiceID is kept for traceability only.
	InvoiceID string
}

// EnsureID assigns a new ULID to an entry without one.
func (e *LedgerEntry) EnsureID() {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
}

// String returns a pointer to s, for building a UserUpdate.
func String(s string) *string {
	return &s
}
