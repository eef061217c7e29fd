// Package memory provides an in-memory implementation of treemeter.UserStore
// and treemeter.Ledger. This implementation is primarily intended for testing
// and development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/treemeter/pkg/treemeter"
)

// Storage implements treemeter.UserStore and treemeter.Ledger using in-memory maps
type Storage struct {
	mu      sync.RWMutex
	users   map[string]*treemeter.User
	entries []treemeter.LedgerEntry
	now     func() time.Time
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		users: make(map[string]*treemeter.User),
		now:   time.Now,
	}
}

// CreateUser implements treemeter.UserCreator
func (s *Storage) CreateUser(ctx context.Context, user *treemeter.User) error {
	if user == nil || user.APIKey == "" {
		return fmt.Errorf("invalid user: api key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user.PrepareNew(s.now())
	if _, ok := s.users[user.ID]; ok {
		return treemeter.ErrUserExists
	}
	for _, u := range s.users {
		if u.APIKey == user.APIKey {
			return treemeter.ErrUserExists
		}
	}

	// Store a copy to prevent external mutations
	userCopy := *user
	s.users[user.ID] = &userCopy
	return nil
}

// GetUser returns a user by id.
func (s *Storage) GetUser(ctx context.Context, id string) (*treemeter.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, treemeter.ErrUserNotFound
	}
	userCopy := *u
	return &userCopy, nil
}

// FindByAPIKey implements treemeter.UserStore
func (s *Storage) FindByAPIKey(ctx context.Context, apiKey string) (*treemeter.User, error) {
	return s.find(apiKey, func(u *treemeter.User) bool { return u.APIKey == apiKey })
}

// FindByStripeID implements treemeter.UserStore
func (s *Storage) FindByStripeID(ctx context.Context, stripeID string) (*treemeter.User, error) {
	return s.find(stripeID, func(u *treemeter.User) bool { return u.StripeID == stripeID })
}

// FindByCheckoutSessionID implements treemeter.UserStore
func (s *Storage) FindByCheckoutSessionID(ctx context.Context, sessionID string) (*treemeter.User, error) {
	return s.find(sessionID, func(u *treemeter.User) bool { return u.CheckoutSessionID == sessionID })
}

// find returns the first user matching. An empty key never matches, so
// users without a customer or pending session are not found by "".
func (s *Storage) find(key string, match func(*treemeter.User) bool) (*treemeter.User, error) {
	if key == "" {
		return nil, treemeter.ErrUserNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if match(u) {
			userCopy := *u
			return &userCopy, nil
		}
	}
	return nil, treemeter.ErrUserNotFound
}

// Update implements treemeter.UserStore. The update is applied to a copy
// under the write lock so a rejected update leaves the user untouched.
func (s *Storage) Update(ctx context.Context, id string, update *treemeter.UserUpdate) (*treemeter.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, treemeter.ErrUserNotFound
	}

	if link := update.LinksCustomer(); link != "" && u.StripeID == "" {
		for _, other := range s.users {
			if other.ID != id && other.StripeID == link {
				return nil, treemeter.ErrUserExists
			}
		}
	}

	updated := *u
	if err := update.Apply(&updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = s.now().UTC()
	s.users[id] = &updated

	userCopy := updated
	return &userCopy, nil
}

// Record implements treemeter.Ledger
func (s *Storage) Record(ctx context.Context, entry *treemeter.LedgerEntry) error {
	if entry == nil {
		return fmt.Errorf("invalid ledger entry")
	}
	entry.EnsureID()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, *entry)
	return nil
}

// Entries returns the ledger entries in recording order.
func (s *Storage) Entries() []treemeter.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]treemeter.LedgerEntry(nil), s.entries...)
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string]*treemeter.User)
	s.entries = nil
}

var (
	_ treemeter.UserStore   = (*Storage)(nil)
	_ treemeter.UserCreator = (*Storage)(nil)
	_ treemeter.Ledger      = (*Storage)(nil)
)
