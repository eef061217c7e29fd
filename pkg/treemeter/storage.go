package treemeter

import "context"

// UserStore defines the interface for user persistence.
type UserStore interface {
	// FindByAPIKey returns ErrUserNotFound when no user owns the key
	FindByAPIKey(ctx context.Context, apiKey string) (*User, error)

	// FindByStripeID looks a user up by billing customer id
	FindByStripeID(ctx context.Context, stripeID string) (*User, error)

	// FindByCheckoutSessionID looks a user up by pending checkout session
	FindByCheckoutSessionID(ctx context.Context, sessionID string) (*User, error)

	// Update atomically applies a partial update and returns the updated user.
	// Returns ErrUserNotFound for an unknown id, ErrInvalidUpdate when the
	// update would set a subscription on a user without a StripeID or relink
	// a user to another customer, and ErrUserExists when the linked customer
	// belongs to another user.
	Update(ctx context.Context, id string, update *UserUpdate) (*User, error)
}

// UserCreator is implemented by stores that can seed users.
// Signup itself lives outside this service.
type UserCreator interface {
	CreateUser(ctx context.Context, user *User) error
}

// Ledger records billed trees in an append-only audit log.
type Ledger interface {
	// Record appends the entry. An empty entry ID is filled with a new ULID.
	Record(ctx context.Context, entry *LedgerEntry) error
}
