// Package airtable provides an Airtable implementation of the treemeter.Ledger interface.
// Writes go through a circuit breaker so an unavailable Airtable fails fast.
package airtable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mehanizm/airtable"
	"github.com/sony/gobreaker/v2"

	"github.com/mihaimyh/treemeter/pkg/treemeter"
)

// Column names of the ledger table
const (
	FieldTimestamp = "Timestamp"
	FieldTrees     = "Number of trees"
	FieldStripeID  = "Stripe ID"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("airtable ledger unavailable")

// recordAdder is the subset of *airtable.Table used by Storage.
type recordAdder interface {
	AddRecords(records *airtable.Records) (*airtable.Records, error)
}

// Config holds Airtable ledger configuration
type Config struct {
	// APIKey is the Airtable personal access token
	APIKey string

	// BaseID is the Airtable base holding the ledger table
	BaseID string

	// TableName is the ledger table (default: "Ledger")
	TableName string

	// FailureThreshold is the number of consecutive failures that opens the breaker (default: 5)
	FailureThreshold uint32

	// OpenTimeout is how long the breaker stays open before probing again (default: 30s)
	OpenTimeout time.Duration

	// Logger receives breaker state changes. Default: NoopLogger.
	Logger treemeter.Logger
}

// Storage implements treemeter.Ledger using an Airtable table
type Storage struct {
	table   recordAdder
	breaker *gobreaker.CircuitBreaker[*airtable.Records]
	logger  treemeter.Logger
}

// New creates a new Airtable ledger
func New(config Config) (*Storage, error) {
	if config.APIKey == "" || config.BaseID == "" {
		return nil, fmt.Errorf("airtable api key and base id are required")
	}
	if config.TableName == "" {
		config.TableName = "Ledger"
	}

	client := airtable.NewClient(config.APIKey)
	return newStorage(client.GetTable(config.BaseID, config.TableName), config), nil
}

func newStorage(table recordAdder, config Config) *Storage {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = &treemeter.NoopLogger{}
	}

	s := &Storage{table: table, logger: config.Logger}
	s.breaker = gobreaker.NewCircuitBreaker[*airtable.Records](gobreaker.Settings{
		Name:    "airtable-ledger",
		Timeout: config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker state changed",
				treemeter.Field{Key: "breaker", Value: name},
				treemeter.Field{Key: "from", Value: from.String()},
				treemeter.Field{Key: "to", Value: to.String()},
			)
		},
	})
	return s
}

// Record implements treemeter.Ledger
func (s *Storage) Record(ctx context.Context, entry *treemeter.LedgerEntry) error {
	if entry == nil {
		return fmt.Errorf("invalid ledger entry")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	entry.EnsureID()

	records := &airtable.Records{
		Records: []*airtable.Record{{
			Fields: map[string]any{
				FieldTimestamp: entry.Timestamp.UTC().Format(time.RFC3339),
				FieldTrees:     entry.Trees,
				FieldStripeID:  entry.StripeID,
			},
		}},
	}

	_, err := s.breaker.Execute(func() (*airtable.Records, error) {
		return s.table.AddRecords(records)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return nil
}

var _ treemeter.Ledger = (*Storage)(nil)
