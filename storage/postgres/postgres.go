// Package postgres provides a PostgreSQL implementation of the
// treemeter.UserStore and treemeter.Ledger interfaces.
// User updates are single UPDATE ... RETURNING statements, so concurrent
// deltas never overwrite each other.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/treemeter/pkg/treemeter"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

const userColumns = `id, email, api_key, COALESCE(stripe_id, ''), COALESCE(checkout_session_id, ''),
	COALESCE(subscription_id, ''), credit, trees, created_at, updated_at`

// Storage implements treemeter.UserStore and treemeter.Ledger using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	// Parse connection string
	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Apply pool settings
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the database connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies Schema.
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateUser implements treemeter.UserCreator
func (s *Storage) CreateUser(ctx context.Context, user *treemeter.User) error {
	if user == nil || user.APIKey == "" {
		return fmt.Errorf("invalid user: api key is required")
	}
	if user.SubscriptionID != "" && user.StripeID == "" {
		return treemeter.ErrInvalidUpdate
	}
	user.PrepareNew(time.Now())

	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, api_key, stripe_id, checkout_session_id, subscription_id,
			credit, trees, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $9)`,
		user.ID, user.Email, user.APIKey, user.StripeID, user.CheckoutSessionID, user.SubscriptionID,
		user.Credit, user.Trees, user.CreatedAt)

	if isUniqueViolation(err) {
		return treemeter.ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindByAPIKey implements treemeter.UserStore
func (s *Storage) FindByAPIKey(ctx context.Context, apiKey string) (*treemeter.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE api_key = $1`, apiKey)
}

// FindByStripeID implements treemeter.UserStore
func (s *Storage) FindByStripeID(ctx context.Context, stripeID string) (*treemeter.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE stripe_id = $1`, stripeID)
}

// FindByCheckoutSessionID implements treemeter.UserStore
func (s *Storage) FindByCheckoutSessionID(ctx context.Context, sessionID string) (*treemeter.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE checkout_session_id = $1 LIMIT 1`, sessionID)
}

func (s *Storage) findOne(ctx context.Context, query string, arg string) (*treemeter.User, error) {
	if arg == "" {
		return nil, treemeter.ErrUserNotFound
	}

	u, err := scanUser(s.pool.QueryRow(ctx, query, arg))
	if err == pgx.ErrNoRows {
		return nil, treemeter.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

// Update implements treemeter.UserStore
func (s *Storage) Update(ctx context.Context, id string, update *treemeter.UserUpdate) (*treemeter.User, error) {
	if update == nil {
		update = &treemeter.UserUpdate{}
	}
	setSub, sub := optional(update.SubscriptionID)
	setSession, session := optional(update.CheckoutSessionID)

	// Conditions on stripe_id see the row before the update.
	u, err := scanUser(s.pool.QueryRow(ctx,
		`UPDATE users SET
			stripe_id           = COALESCE(stripe_id, NULLIF($8::text, '')),
			subscription_id     = CASE WHEN $2::boolean THEN NULLIF($3::text, '') ELSE subscription_id END,
			checkout_session_id = CASE WHEN $4::boolean THEN NULLIF($5::text, '') ELSE checkout_session_id END,
			credit              = credit + $6,
			trees               = trees + $7,
			updated_at          = now()
		WHERE id = $1
			AND NOT ($8::text <> '' AND stripe_id IS NOT NULL AND stripe_id <> $8::text)
			AND NOT ($2::boolean AND $3::text <> '' AND stripe_id IS NULL AND $8::text = '')
		RETURNING `+userColumns,
		id, setSub, sub, setSession, session, update.CreditDelta, update.TreesDelta, update.LinksCustomer()))
	if err == nil {
		return u, nil
	}
	if isUniqueViolation(err) {
		return nil, treemeter.ErrUserExists
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	// No row matched: either the user is unknown or the guard rejected the update.
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check user: %w", err)
	}
	if exists {
		return nil, treemeter.ErrInvalidUpdate
	}
	return nil, treemeter.ErrUserNotFound
}

// Record implements treemeter.Ledger
func (s *Storage) Record(ctx context.Context, entry *treemeter.LedgerEntry) error {
	if entry == nil {
		return fmt.Errorf("invalid ledger entry")
	}
	entry.EnsureID()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_entries (id, occurred_at, trees, stripe_id, invoice_id)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.Timestamp.UTC(), entry.Trees, entry.StripeID, entry.InvoiceID)
	if err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return nil
}

// Entries returns the ledger entries of a customer, oldest first.
func (s *Storage) Entries(ctx context.Context, stripeID string) ([]treemeter.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, occurred_at, trees, stripe_id, invoice_id
			FROM ledger_entries WHERE stripe_id = $1 ORDER BY recorded_at, id`,
		stripeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []treemeter.LedgerEntry
	for rows.Next() {
		var e treemeter.LedgerEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Trees, &e.StripeID, &e.InvoiceID); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanUser(row pgx.Row) (*treemeter.User, error) {
	var u treemeter.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.APIKey,
		&u.StripeID,
		&u.CheckoutSessionID,
		&u.SubscriptionID,
		&u.Credit,
		&u.Trees,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// optional splits a partial-update field into "set" and its value.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func optional(v *string) (bool, string) {
	if v == nil {
		return false, ""
	}
	return true, *v
}

var (
	_ treemeter.UserStore   = (*Storage)(nil)
	_ treemeter.UserCreator = (*Storage)(nil)
	_ treemeter.Ledger      = (*Storage)(nil)
)
