// Package firestore provides a Firestore implementation of the treemeter.Ledger interface.
// Each ledger entry is one document keyed by its ULID, so a replayed write is a no-op.
package firestore

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/treemeter/pkg/treemeter"
)

// Storage implements treemeter.Ledger using Google Cloud Firestore
type Storage struct {
	client           *firestore.Client
	ledgerCollection string
}

// Config holds Firestore storage configuration
type Config struct {
	// LedgerCollection is the Firestore collection for ledger entries
	// Default: "treemeter_ledger"
	LedgerCollection string
}

// New creates a new Firestore ledger adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	// Set defaults
	if config.LedgerCollection == "" {
		config.LedgerCollection = "treemeter_ledger"
	}

	return &Storage{
		client:           client,
		ledgerCollection: config.LedgerCollection,
	}, nil
}

// Record implements treemeter.Ledger
func (s *Storage) Record(ctx context.Context, entry *treemeter.LedgerEntry) error {
	if entry == nil {
		return fmt.Errorf("invalid ledger entry")
	}
	entry.EnsureID()

	doc := s.client.Collection(s.ledgerCollection).Doc(entry.ID)
	_, err := doc.Create(ctx, map[string]interface{}{
		"timestamp":  entry.Timestamp,
		"trees":      entry.Trees,
		"stripeId":   entry.StripeID,
		"invoiceId":  entry.InvoiceID,
		"recordedAt": firestore.ServerTimestamp,
	})
	if err != nil {
		// Entry ids are unique, so an existing document is this same entry
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}
	return nil
}

// Entries returns the ledger entries of a customer ordered by timestamp.
func (s *Storage) Entries(ctx context.Context, stripeID string) ([]treemeter.LedgerEntry, error) {
	snaps, err := s.client.Collection(s.ledgerCollection).
		Where("stripeId", "==", stripeID).
		OrderBy("timestamp", firestore.Asc).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}

	entries := make([]treemeter.LedgerEntry, 0, len(snaps))
	for _, snap := range snaps {
		data := snap.Data()
		entries = append(entries, treemeter.LedgerEntry{
			ID:        snap.Ref.ID,
			Timestamp: getTime(data, "timestamp"),
			Trees:     getInt(data, "trees"),
			StripeID:  getString(data, "stripeId"),
			InvoiceID: getString(data, "invoiceId"),
		})
	}
	return entries, nil
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt(data map[string]interface{}, key string) int64 {
	switch v := data[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}

var _ treemeter.Ledger = (*Storage)(nil)
