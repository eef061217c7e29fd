// Package sqlite provides a SQLite implementation of the treemeter.UserStore and
// treemeter.Ledger interfaces on the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/mihaimyh/treemeter/pkg/treemeter"
)

const userColumns = `id, email, api_key, COALESCE(stripe_id, ''), COALESCE(checkout_session_id, ''),
	COALESCE(subscription_id, ''), credit, trees, created_at, updated_at`

// Storage implements treemeter.UserStore and treemeter.Ledger using SQLite
type Storage struct {
	db *sql.DB
}

// Config holds SQLite storage configuration
type Config struct {
	// Path is the database file, or ":memory:" for a private in-memory database
	Path string

	// BusyTimeout is how long a writer waits on a locked database (default: 5s)
	BusyTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Path:        "treemeter.db",
		BusyTimeout: 5 * time.Second,
	}
}

// New opens the database and applies Schema.
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5 * time.Second
	}

	dsn := config.Path
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += fmt.Sprintf("_pragma=busy_timeout(%d)", config.BusyTimeout.Milliseconds())
	if config.Path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// A single connection serializes writers and keeps ":memory:" on one database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s := &Storage{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// Migrate applies Schema.
func (s *Storage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, api_key, stripe_id, checkout_session_id, subscription_id,
			credit, trees, created_at, updated_at)
		VALUES (?1, ?2, ?3, NULLIF(?4, ''), NULLIF(?5, ''), NULLIF(?6, ''), ?7, ?8, ?9, ?9)`,
		user.ID, user.Email, user.APIKey, user.StripeID, user.CheckoutSessionID, user.SubscriptionID,
		user.Credit, user.Trees, formatTime(user.CreatedAt))
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
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE api_key = ?1`, apiKey)
}

// FindByStripeID implements treemeter.UserStore
func (s *Storage) FindByStripeID(ctx context.Context, stripeID string) (*treemeter.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE stripe_id = ?1`, stripeID)
}

// FindByCheckoutSessionID implements treemeter.UserStore
func (s *Storage) FindByCheckoutSessionID(ctx context.Context, sessionID string) (*treemeter.User, error) {
	return s.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE checkout_session_id = ?1 LIMIT 1`, sessionID)
}

func (s *Storage) findOne(ctx context.Context, query string, arg string) (*treemeter.User, error) {
	if arg == "" {
		return nil, treemeter.ErrUserNotFound
	}

	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
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
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`UPDATE users SET
			stripe_id           = COALESCE(stripe_id, NULLIF(?9, '')),
			subscription_id     = CASE WHEN ?2 THEN NULLIF(?3, '') ELSE subscription_id END,
			checkout_session_id = CASE WHEN ?4 THEN NULLIF(?5, '') ELSE checkout_session_id END,
			credit              = credit + ?6,
			trees               = trees + ?7,
			updated_at          = ?8
		WHERE id = ?1
			AND NOT (?9 <> '' AND stripe_id IS NOT NULL AND stripe_id <> ?9)
			AND NOT (?2 AND ?3 <> '' AND stripe_id IS NULL AND ?9 = '')
		RETURNING `+userColumns,
		id, setSub, sub, setSession, session, update.CreditDelta, update.TreesDelta, formatTime(time.Now()),
		update.LinksCustomer()))
	if err == nil {
		return u, nil
	}
	if isUniqueViolation(err) {
		return nil, treemeter.ErrUserExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	// No row matched: either the user is unknown or the guard rejected the update.
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = ?1)`, id).Scan(&exists); err != nil {
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

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (id, occurred_at, trees, stripe_id, invoice_id)
		VALUES (?1, ?2, ?3, ?4, ?5)`,
		entry.ID, formatTime(entry.Timestamp), entry.Trees, entry.StripeID, entry.InvoiceID)
	if err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return nil
}

// Entries returns the ledger entries of a customer in recording order.
func (s *Storage) Entries(ctx context.Context, stripeID string) ([]treemeter.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, occurred_at, trees, stripe_id, invoice_id
			FROM ledger_entries WHERE stripe_id = ?1 ORDER BY seq`,
		stripeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []treemeter.LedgerEntry
	for rows.Next() {
		var (
			e          treemeter.LedgerEntry
			occurredAt string
		)
		if err := rows.Scan(&e.ID, &occurredAt, &e.Trees, &e.StripeID, &e.InvoiceID); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		if e.Timestamp, err = parseTime(occurredAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanUser(row *sql.Row) (*treemeter.User, error) {
	var (
		u                    treemeter.User
		createdAt, updatedAt string
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.APIKey,
		&u.StripeID,
		&u.CheckoutSessionID,
		&u.SubscriptionID,
		&u.Credit,
		&u.Trees,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// optional splits a partial-update field into "set" and its value.
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
