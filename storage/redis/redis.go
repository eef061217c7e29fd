// Package redis provides a Redis implementation of the treemeter.UserStore interface.
// Users are hashes with index keys per lookup; every write runs as a Lua
// script so a user and its indexes change atomically.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/treemeter/pkg/treemeter"
)

const (
	errReplyNotFound = "NOT_FOUND"
	errReplyExists   = "EXISTS"
	errReplyInvalid  = "INVALID_UPDATE"
)

// Storage implements treemeter.UserStore using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "treemeter:")
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "treemeter:",
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	// Set defaults
	if config.KeyPrefix == "" {
		config.KeyPrefix = "treemeter:"
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}

	// Load Lua scripts
	s.loadScripts()

	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic operations.
// Index keys are derived inside the scripts, so they assume a single node.
func (s *Storage) loadScripts() {
	// Create a user and its lookup indexes
	// KEYS[1]: user key, KEYS[2]: api key index, KEYS[3]: stripe index, KEYS[4]: session index
	// ARGV: id, then field/value pairs
	s.scripts["create"] = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
			return redis.error_reply('EXISTS')
		end
		if KEYS[3] ~= '' and redis.call('EXISTS', KEYS[3]) == 1 then
			return redis.error_reply('EXISTS')
		end

		for i = 2, #ARGV, 2 do
			redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
		end
		redis.call('SET', KEYS[2], ARGV[1])
		if KEYS[3] ~= '' then redis.call('SET', KEYS[3], ARGV[1]) end
		if KEYS[4] ~= '' then redis.call('SET', KEYS[4], ARGV[1]) end
		return 1
	`)

	// Apply a partial update
	// KEYS[1]: user key
	// ARGV[1]: set subscription ("1"/"0"), ARGV[2]: subscription id
	// ARGV[3]: set session ("1"/"0"), ARGV[4]: session id
	// ARGV[5]: credit delta, ARGV[6]: trees delta, ARGV[7]: updated_at
	// ARGV[8]: session index prefix, ARGV[9]: user id
	// ARGV[10]: customer id to link ("" for none), ARGV[11]: stripe index prefix
	s.scripts["update"] = redis.NewScript(`
		if redis.call('EXISTS', KEYS[1]) == 0 then
			return redis.error_reply('NOT_FOUND')
		end

		local stripe = redis.call('HGET', KEYS[1], 'stripe_id')
		if not stripe then stripe = '' end
		local link = ARGV[10]
		if link ~= '' and stripe ~= '' and stripe ~= link then
			return redis.error_reply('INVALID_UPDATE')
		end
		local linking = link ~= '' and stripe == ''
		if linking then
			local owner = redis.call('GET', ARGV[11] .. link)
			if owner and owner ~= ARGV[9] then
				return redis.error_reply('EXISTS')
			end
		end
		if ARGV[1] == '1' and ARGV[2] ~= '' and stripe == '' and not linking then
			return redis.error_reply('INVALID_UPDATE')
		end

		if linking then
			redis.call('HSET', KEYS[1], 'stripe_id', link)
			redis.call('SET', ARGV[11] .. link, ARGV[9])
		end
		if ARGV[1] == '1' then
			redis.call('HSET', KEYS[1], 'subscription_id', ARGV[2])
		end
		if ARGV[3] == '1' then
			local old = redis.call('HGET', KEYS[1], 'checkout_session_id')
			if old and old ~= '' then
				redis.call('DEL', ARGV[8] .. old)
			end
			redis.call('HSET', KEYS[1], 'checkout_session_id', ARGV[4])
			if ARGV[4] ~= '' then
				redis.call('SET', ARGV[8] .. ARGV[4], ARGV[9])
			end
		end

		redis.call('HINCRBY', KEYS[1], 'credit', ARGV[5])
		redis.call('HINCRBY', KEYS[1], 'trees', ARGV[6])
		redis.call('HSET', KEYS[1], 'updated_at', ARGV[7])
		return redis.call('HGETALL', KEYS[1])
	`)
}

func (s *Storage) userKey(id string) string      { return s.config.KeyPrefix + "user:" + id }
func (s *Storage) apiKeyIndex(key string) string { return s.config.KeyPrefix + "apikey:" + key }
func (s *Storage) stripeIndexPrefix() string     { return s.config.KeyPrefix + "stripe:" }
func (s *Storage) stripeIndex(id string) string  { return s.stripeIndexPrefix() + id }
func (s *Storage) sessionIndexPrefix() string    { return s.config.KeyPrefix + "session:" }
func (s *Storage) sessionIndex(id string) string { return s.sessionIndexPrefix() + id }

// CreateUser implements treemeter.UserCreator
func (s *Storage) CreateUser(ctx context.Context, user *treemeter.User) error {
	if user == nil || user.APIKey == "" {
		return fmt.Errorf("invalid user: api key is required")
	}
	if user.SubscriptionID != "" && user.StripeID == "" {
		return treemeter.ErrInvalidUpdate
	}
	user.PrepareNew(time.Now())

	keys := []string{s.userKey(user.ID), s.apiKeyIndex(user.APIKey), "", ""}
	if user.StripeID != "" {
		keys[2] = s.stripeIndex(user.StripeID)
	}
	if user.CheckoutSessionID != "" {
		keys[3] = s.sessionIndex(user.CheckoutSessionID)
	}

	args := []interface{}{user.ID}
	for field, value := range encodeUser(user) {
		args = append(args, field, value)
	}

	err := s.scripts["create"].Run(ctx, s.client, keys, args...).Err()
	if isReply(err, errReplyExists) {
		return treemeter.ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindByAPIKey implements treemeter.UserStore
func (s *Storage) FindByAPIKey(ctx context.Context, apiKey string) (*treemeter.User, error) {
	return s.findByIndex(ctx, apiKey, s.apiKeyIndex(apiKey))
}

// FindByStripeID implements treemeter.UserStore
func (s *Storage) FindByStripeID(ctx context.Context, stripeID string) (*treemeter.User, error) {
	return s.findByIndex(ctx, stripeID, s.stripeIndex(stripeID))
}

// FindByCheckoutSessionID implements treemeter.UserStore
func (s *Storage) FindByCheckoutSessionID(ctx context.Context, sessionID string) (*treemeter.User, error) {
	return s.findByIndex(ctx, sessionID, s.sessionIndex(sessionID))
}

func (s *Storage) findByIndex(ctx context.Context, value, indexKey string) (*treemeter.User, error) {
	if value == "" {
		return nil, treemeter.ErrUserNotFound
	}

	id, err := s.client.Get(ctx, indexKey).Result()
	if err == redis.Nil {
		return nil, treemeter.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	fields, err := s.client.HGetAll(ctx, s.userKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if len(fields) == 0 {
		return nil, treemeter.ErrUserNotFound
	}
	return decodeUser(fields)
}

// Update implements treemeter.UserStore
func (s *Storage) Update(ctx context.Context, id string, update *treemeter.UserUpdate) (*treemeter.User, error) {
	if update == nil {
		update = &treemeter.UserUpdate{}
	}
	setSub, sub := optional(update.SubscriptionID)
	setSession, session := optional(update.CheckoutSessionID)

	reply, err := s.scripts["update"].Run(ctx, s.client, []string{s.userKey(id)},
		setSub, sub,
		setSession, session,
		update.CreditDelta, update.TreesDelta,
		time.Now().UTC().Format(time.RFC3339Nano),
		s.sessionIndexPrefix(), id,
		update.LinksCustomer(), s.stripeIndexPrefix(),
	).Slice()
	switch {
	case isReply(err, errReplyNotFound):
		return nil, treemeter.ErrUserNotFound
	case isReply(err, errReplyInvalid):
		return nil, treemeter.ErrInvalidUpdate
	case isReply(err, errReplyExists):
		return nil, treemeter.ErrUserExists
	case err != nil:
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	fields := make(map[string]string, len(reply)/2)
	for i := 0; i+1 < len(reply); i += 2 {
		fields[fmt.Sprint(reply[i])] = fmt.Sprint(reply[i+1])
	}
	return decodeUser(fields)
}

func isReply(err error, reply string) bool {
	return err != nil && err != redis.Nil && strings.Contains(err.Error(), reply)
}

func optional(v *string) (string, string) {
	if v == nil {
		return "0", ""
	}
	return "1", *v
}

func encodeUser(u *treemeter.User) map[string]string {
	return map[string]string{
		"id":                  u.ID,
		"email":               u.Email,
		"api_key":             u.APIKey,
		"stripe_id":           u.StripeID,
		"checkout_session_id": u.CheckoutSessionID,
		"subscription_id":     u.SubscriptionID,
		"credit":              strconv.FormatInt(u.Credit, 10),
		"trees":               strconv.FormatInt(u.Trees, 10),
		"created_at":          u.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":          u.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeUser(fields map[string]string) (*treemeter.User, error) {
	u := &treemeter.User{
		ID:                fields["id"],
		Email:             fields["email"],
		APIKey:            fields["api_key"],
		StripeID:          fields["stripe_id"],
		CheckoutSessionID: fields["checkout_session_id"],
		SubscriptionID:    fields["subscription_id"],
	}

	var err error
	if u.Credit, err = strconv.ParseInt(fields["credit"], 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt credit for user %s: %w", u.ID, err)
	}
	if u.Trees, err = strconv.ParseInt(fields["trees"], 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt trees for user %s: %w", u.ID, err)
	}
	if u.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("corrupt created_at for user %s: %w", u.ID, err)
	}
	if u.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("corrupt updated_at for user %s: %w", u.ID, err)
	}
	return u, nil
}

var (
	_ treemeter.UserStore   = (*Storage)(nil)
	_ treemeter.UserCreator = (*Storage)(nil)
)
