package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mihaimyh/treemeter/internal/httputil"
	"github.com/mihaimyh/treemeter/pkg/treemeter"
)

// Service is the part of treemeter.Service served over HTTP.
type Service interface {
	PlantTrees(ctx context.Context, apiKey, trees string) (*treemeter.User, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (string, error)
}

// Config holds configuration for the HTTP handler
type Config struct {
	// Service handles the requests (required)
	Service Service

	// Logger records internal errors (default: NoopLogger)
	Logger treemeter.Logger

	// MaxBodyBytes limits webhook payloads (default: 256 KiB)
	MaxBodyBytes int64

	// RateLimiter optionally limits requests per client IP on the API endpoints
	RateLimiter *httputil.RateLimiter

	// OnError handles errors (bad request, not found, internal)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)
}

// Validate checks that the configuration is valid and fills defaults
func (c *Config) Validate() error {
	if c.Service == nil {
		return fmt.Errorf("service is required")
	}
	if c.MaxBodyBytes < 0 {
		return fmt.Errorf("max body bytes must not be negative")
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = httputil.MaxBodyBytes
	}
	if c.Logger == nil {
		c.Logger = &treemeter.NoopLogger{}
	}
	return nil
}

// NewHandler creates a new HTTP handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Handler{
		config: config,
	}, nil
}
