// Package config loads the treemeter process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Backend names accepted by BILLING_PROVIDER, USER_STORE, LEDGER_STORE and LEDGER_MIRROR.
const (
	BackendStripe    = "stripe"
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendSQLite    = "sqlite"
	BackendAirtable  = "airtable"
	BackendFirestore = "firestore"
)

// Config holds application configuration.
type Config struct {
	// Stripe
	BillingProvider      string
	StripeSecretKey      string
	StripeEndpointSecret string
	StripeMeteredPrice   string
	StripeMeterEventName string

	// Airtable
	AirtableAPIKey    string
	AirtableTableID   string
	AirtableTableName string

	// HTTP
	FrontendURL       string
	HTTPAddr          string
	MetricsAddr       string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	ShutdownTimeout   time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Storage
	UserStore                 string
	LedgerStore               string
	LedgerMirror              string
	DatabaseURL               string
	RedisURL                  string
	SQLitePath                string
	FirestoreProjectID        string
	FirestoreLedgerCollection string

	// Usage aggregation
	UsagePageSize int
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		BillingProvider:      getEnv("BILLING_PROVIDER", BackendStripe),
		StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
		StripeEndpointSecret: getEnv("STRIPE_ENDPOINT_SECRET", ""),
		StripeMeteredPrice:   getEnv("STRIPE_METERED_PRICE", "meteredtreeplanted"),
		StripeMeterEventName: getEnv("STRIPE_METER_EVENT_NAME", "trees_planted"),

		AirtableAPIKey:    getEnv("AIRTABLE_API_KEY", ""),
		AirtableTableID:   getEnv("AIRTABLE_TABLE_ID", ""),
		AirtableTableName: getEnv("AIRTABLE_TABLE_NAME", "Ledger"),

		FrontendURL:       getEnv("FRONTEND_URL", "http://localhost:3000"),
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:       getEnv("METRICS_ADDR", ":9090"),
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		ShutdownTimeout:   getDurationEnv("SHUTDOWN_TIMEOUT", 15*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		UserStore:                 getEnv("USER_STORE", BackendMemory),
		LedgerStore:               getEnv("LEDGER_STORE", BackendAirtable),
		LedgerMirror:              getEnv("LEDGER_MIRROR", ""),
		DatabaseURL:               getEnv("DATABASE_URL", ""),
		RedisURL:                  getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SQLitePath:                getEnv("SQLITE_PATH", "treemeter.db"),
		FirestoreProjectID:        getEnv("FIRESTORE_PROJECT_ID", ""),
		FirestoreLedgerCollection: getEnv("FIRESTORE_LEDGER_COLLECTION", "treemeter_ledger"),

		UsagePageSize: getIntEnv("USAGE_PAGE_SIZE", 100),
	}

	return cfg, nil
}

// Validate checks the settings needed by the selected backends.
func (c *Config) Validate() error {
	var errs []error

	switch c.BillingProvider {
	case BackendStripe:
		if c.StripeSecretKey == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY is required"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("BILLING_PROVIDER %q is not supported", c.BillingProvider))
	}
	if c.StripeEndpointSecret == "" {
		errs = append(errs, errors.New("STRIPE_ENDPOINT_SECRET is required"))
	}

	switch c.UserStore {
	case BackendMemory, BackendPostgres, BackendRedis, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("USER_STORE %q is not supported", c.UserStore))
	}
	if err := validateLedger("LEDGER_STORE", c.LedgerStore); err != nil {
		errs = append(errs, err)
	}
	if c.LedgerMirror != "" {
		if err := validateLedger("LEDGER_MIRROR", c.LedgerMirror); err != nil {
			errs = append(errs, err)
		}
		if c.LedgerMirror == c.LedgerStore {
			errs = append(errs, errors.New("LEDGER_MIRROR must differ from LEDGER_STORE"))
		}
	}

	if c.uses(BackendPostgres) && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for postgres"))
	}
	if c.uses(BackendRedis) && c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL is required for redis"))
	}
	if c.uses(BackendSQLite) && c.SQLitePath == "" {
		errs = append(errs, errors.New("SQLITE_PATH is required for sqlite"))
	}
	if c.uses(BackendAirtable) && (c.AirtableAPIKey == "" || c.AirtableTableID == "") {
		errs = append(errs, errors.New("AIRTABLE_API_KEY and AIRTABLE_TABLE_ID are required for airtable"))
	}
	if c.uses(BackendFirestore) && c.FirestoreProjectID == "" {
		errs = append(errs, errors.New("FIRESTORE_PROJECT_ID is required for firestore"))
	}

	if c.UsagePageSize <= 0 {
		errs = append(errs, errors.New("USAGE_PAGE_SIZE must be positive"))
	}
	if c.RateLimitRequests < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS must not be negative"))
	}

	return errors.Join(errs...)
}

// uses reports whether any store or mirror is the given backend.
func (c *Config) uses(backend string) bool {
	return c.UserStore == backend || c.LedgerStore == backend || c.LedgerMirror == backend
}

func validateLedger(name, backend string) error {
	switch backend {
	case BackendAirtable, BackendPostgres, BackendFirestore, BackendSQLite, BackendMemory:
		return nil
	default:
		return fmt.Errorf("%s %q is not supported", name, backend)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
