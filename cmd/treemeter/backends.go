package main

import (
	"context"
	"fmt"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mihaimyh/treemeter/internal/config"
	"github.com/mihaimyh/treemeter/pkg/billing"
	billingmem "github.com/mihaimyh/treemeter/pkg/billing/memory"
	billingprom "github.com/mihaimyh/treemeter/pkg/billing/metrics/prometheus"
	stripebilling "github.com/mihaimyh/treemeter/pkg/billing/stripe"
	"github.com/mihaimyh/treemeter/pkg/treemeter"
	"github.com/mihaimyh/treemeter/storage/airtable"
	firestorestore "github.com/mihaimyh/treemeter/storage/firestore"
	"github.com/mihaimyh/treemeter/storage/memory"
	"github.com/mihaimyh/treemeter/storage/postgres"
	redisstore "github.com/mihaimyh/treemeter/storage/redis"
	"github.com/mihaimyh/treemeter/storage/sqlite"
	"github.com/mihaimyh/treemeter/storage/tiered"
)

// backends holds the collaborators of a treemeter.Service built from Config.
type backends struct {
	users   treemeter.UserStore
	creator treemeter.UserCreator
	ledger  treemeter.Ledger
	billing billing.Client

	// stripe is nil unless BILLING_PROVIDER is stripe
	stripe *stripebilling.Client

	// billingMetrics is shared by the Stripe client and the webhook verifier
	billingMetrics billing.Metrics

	opened  map[string]interface{}
	closers []func()
}

// Close releases every opened backend in reverse order.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// openBackends connects the billing provider, the user store and the ledger.
// A backend named by several settings is opened once and shared.
func openBackends(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger treemeter.Logger) (*backends, error) {
	b := &backends{opened: make(map[string]interface{})}

	if err := b.openBilling(cfg, reg); err != nil {
		return nil, err
	}

	users, err := b.open(ctx, cfg, cfg.UserStore, logger)
	if err != nil {
		b.Close()
		return nil, err
	}
	var ok bool
	if b.users, ok = users.(treemeter.UserStore); !ok {
		b.Close()
		return nil, fmt.Errorf("%s cannot store users", cfg.UserStore)
	}
	b.creator, _ = users.(treemeter.UserCreator)

	if b.ledger, err = b.openLedger(ctx, cfg, cfg.LedgerStore, logger); err != nil {
		b.Close()
		return nil, err
	}
	if cfg.LedgerMirror == "" {
		return b, nil
	}

	mirror, err := b.openLedger(ctx, cfg, cfg.LedgerMirror, logger)
	if err != nil {
		b.Close()
		return nil, err
	}
	mirrored, err := tiered.New(tiered.Config{
		Primary:     b.ledger,
		Secondary:   mirror,
		AsyncMirror: true,
		Logger:      logger,
	})
	if err != nil {
		b.Close()
		return nil, err
	}
	b.closers = append(b.closers, func() { _ = mirrored.Close() })
	b.ledger = mirrored
	return b, nil
}

func (b *backends) openBilling(cfg *config.Config, reg prometheus.Registerer) error {
	b.billingMetrics = &billing.NoopMetrics{}
	if reg != nil {
		b.billingMetrics = billingprom.NewMetrics(reg, "treemeter")
	}

	switch cfg.BillingProvider {
	case config.BackendMemory:
		b.billing = billingmem.New()
		return nil
	case config.BackendStripe:
		client, err := stripebilling.NewClient(stripebilling.Config{
			Config:         billing.Config{APIKey: cfg.StripeSecretKey, Metrics: b.billingMetrics},
			MeterEventName: cfg.StripeMeterEventName,
		})
		if err != nil {
			return fmt.Errorf("stripe: %w", err)
		}
		b.billing = client
		b.stripe = client
		return nil
	default:
		return fmt.Errorf("unsupported billing provider %q", cfg.BillingProvider)
	}
}

func (b *backends) openLedger(ctx context.Context, cfg *config.Config, name string, logger treemeter.Logger) (treemeter.Ledger, error) {
	store, err := b.open(ctx, cfg, name, logger)
	if err != nil {
		return nil, err
	}
	ledger, ok := store.(treemeter.Ledger)
	if !ok {
		return nil, fmt.Errorf("%s cannot record ledger entries", name)
	}
	return ledger, nil
}

// open returns the storage backend called name, opening it on first use.
func (b *backends) open(ctx context.Context, cfg *config.Config, name string, logger treemeter.Logger) (interface{}, error) {
	if store, ok := b.opened[name]; ok {
		return store, nil
	}

	var store interface{}
	switch name {
	case config.BackendMemory:
		store = memory.New()

	case config.BackendPostgres:
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = cfg.DatabaseURL
		pg, err := postgres.New(ctx, pgConfig)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.closers = append(b.closers, pg.Close)
		store = pg

	case config.BackendRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		client := goredis.NewClient(opts)
		b.closers = append(b.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		rs, err := redisstore.New(client, redisstore.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		store = rs

	case config.BackendSQLite:
		lite, err := sqlite.New(ctx, sqlite.Config{Path: cfg.SQLitePath})
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		b.closers = append(b.closers, func() { _ = lite.Close() })
		store = lite

	case config.BackendAirtable:
		at, err := airtable.New(airtable.Config{
			APIKey:    cfg.AirtableAPIKey,
			BaseID:    cfg.AirtableTableID,
			TableName: cfg.AirtableTableName,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("airtable: %w", err)
		}
		store = at

	case config.BackendFirestore:
		client, err := gcfirestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, fmt.Errorf("firestore: %w", err)
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		fs, err := firestorestore.New(client, firestorestore.Config{LedgerCollection: cfg.FirestoreLedgerCollection})
		if err != nil {
			return nil, fmt.Errorf("firestore: %w", err)
		}
		store = fs

	default:
		return nil, fmt.Errorf("unsupported storage backend %q", name)
	}

	b.opened[name] = store
	return store, nil
}
