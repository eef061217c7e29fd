package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so defaults apply.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BILLING_PROVIDER", "STRIPE_SECRET_KEY", "STRIPE_ENDPOINT_SECRET", "STRIPE_METERED_PRICE",
		"STRIPE_METER_EVENT_NAME", "AIRTABLE_API_KEY", "AIRTABLE_TABLE_ID", "AIRTABLE_TABLE_NAME",
		"FRONTEND_URL", "HTTP_ADDR", "METRICS_ADDR", "RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW",
		"SHUTDOWN_TIMEOUT", "LOG_LEVEL", "LOG_FORMAT", "USER_STORE", "LEDGER_STORE", "LEDGER_MIRROR",
		"DATABASE_URL", "REDIS_URL", "SQLITE_PATH", "FIRESTORE_PROJECT_ID",
		"FIRESTORE_LEDGER_COLLECTION", "USAGE_PAGE_SIZE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendStripe, cfg.BillingProvider)
	assert.Equal(t, "meteredtreeplanted", cfg.StripeMeteredPrice)
	assert.Equal(t, "trees_planted", cfg.StripeMeterEventName)
	assert.Equal(t, "Ledger", cfg.AirtableTableName)
	assert.Equal(t, BackendMemory, cfg.UserStore)
	assert.Equal(t, BackendAirtable, cfg.LedgerStore)
	assert.Equal(t, 100, cfg.UsagePageSize)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_1")
	t.Setenv("STRIPE_ENDPOINT_SECRET", "whsec_1")
	t.Setenv("USER_STORE", BackendSQLite)
	t.Setenv("LEDGER_STORE", BackendSQLite)
	t.Setenv("LEDGER_MIRROR", BackendMemory)
	t.Setenv("USAGE_PAGE_SIZE", "25")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("RATE_LIMIT_REQUESTS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sk_test_1", cfg.StripeSecretKey)
	assert.Equal(t, BackendSQLite, cfg.UserStore)
	assert.Equal(t, BackendMemory, cfg.LedgerMirror)
	assert.Equal(t, 25, cfg.UsagePageSize)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 100, cfg.RateLimitRequests, "invalid numbers fall back to the default")
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			BillingProvider:      BackendStripe,
			StripeSecretKey:      "sk_test_1",
			StripeEndpointSecret: "whsec_1",
			UserStore:            BackendMemory,
			LedgerStore:          BackendMemory,
			UsagePageSize:        100,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing stripe key", func(c *Config) { c.StripeSecretKey = "" }, "STRIPE_SECRET_KEY"},
		{"missing endpoint secret", func(c *Config) { c.StripeEndpointSecret = "" }, "STRIPE_ENDPOINT_SECRET"},
		{"unknown billing provider", func(c *Config) { c.BillingProvider = "paypal" }, "BILLING_PROVIDER"},
		{"unknown user store", func(c *Config) { c.UserStore = "mongo" }, "USER_STORE"},
		{"redis ledger", func(c *Config) { c.LedgerStore = BackendRedis }, "LEDGER_STORE"},
		{"mirror equals store", func(c *Config) { c.LedgerMirror = BackendMemory }, "LEDGER_MIRROR"},
		{"postgres without url", func(c *Config) { c.UserStore = BackendPostgres }, "DATABASE_URL"},
		{"airtable without credentials", func(c *Config) { c.LedgerStore = BackendAirtable }, "AIRTABLE_API_KEY"},
		{"firestore without project", func(c *Config) { c.LedgerMirror = BackendFirestore }, "FIRESTORE_PROJECT_ID"},
		{"zero page size", func(c *Config) { c.UsagePageSize = 0 }, "USAGE_PAGE_SIZE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("memory billing needs no stripe key", func(t *testing.T) {
		cfg := valid()
		cfg.BillingProvider = BackendMemory
		cfg.StripeSecretKey = ""
		assert.NoError(t, cfg.Validate())
	})
}
