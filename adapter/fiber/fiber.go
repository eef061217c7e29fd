// Package fiber provides Fiber handlers for the treemeter endpoints
package fiber

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/treemeter/internal/httputil"
	"github.com/mihaimyh/treemeter/pkg/api"
)

// Config holds handler configuration
type Config struct {
	// Service handles the requests (required)
	Service api.Service

	// MaxBodyBytes limits webhook payloads (default: 256 KiB)
	MaxBodyBytes int64

	// OnError is called for every failed request
	// If nil, responds with api.StatusFor and a {"message": ...} body
	OnError func(c *fiber.Ctx, err error) error
}

func (cfg *Config) init() {
	// Validate required configuration at startup (fail fast)
	if cfg.Service == nil {
		panic("treemeter/fiber: Config.Service is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = httputil.MaxBodyBytes
	}
	if cfg.OnError == nil {
		cfg.OnError = defaultError
	}
}

// Register mounts GET /plant-tree, POST /stripe-webhook and GET /healthz on r.
func Register(r fiber.Router, cfg Config) {
	r.Get(api.PathPlantTree, PlantTree(cfg))
	r.Post(api.PathWebhook, StripeWebhook(cfg))
	r.Get(api.PathHealth, func(c *fiber.Ctx) error {
		return c.JSON(api.HealthResponse{Status: "ok"})
	})
}

// PlantTree returns the handler of GET /plant-tree
func PlantTree(cfg Config) fiber.Handler {
	cfg.init()

	return func(c *fiber.Ctx) error {
		// Fiber uses fasthttp, so the request context comes from c.UserContext()
		user, err := cfg.Service.PlantTrees(c.UserContext(), c.Query("apiKey"), c.Query("trees"))
		if err != nil {
			return cfg.OnError(c, err)
		}
		return c.JSON(api.PlantTreeResponse{Trees: user.Trees})
	}
}

// StripeWebhook returns the handler of POST /stripe-webhook
func StripeWebhook(cfg Config) fiber.Handler {
	cfg.init()

	return func(c *fiber.Ctx) error {
		// c.Body() is only valid during the handler, so copy it
		body := append([]byte(nil), c.Body()...)
		switch {
		case int64(len(body)) > cfg.MaxBodyBytes:
			return cfg.OnError(c, fmt.Errorf("%w (max %d bytes)", httputil.ErrPayloadTooLarge, cfg.MaxBodyBytes))
		case len(body) == 0:
			return cfg.OnError(c, httputil.ErrEmptyBody)
		}

		// Fiber v2 uses c.Get() for headers
		msg, err := cfg.Service.HandleWebhook(c.UserContext(), body, c.Get(api.SignatureHeader))
		if err != nil {
			return cfg.OnError(c, err)
		}
		return c.JSON(httputil.Message{Message: msg})
	}
}

func defaultError(c *fiber.Ctx, err error) error {
	status, msg := api.StatusFor(err)
	return c.Status(status).JSON(httputil.Message{Message: msg})
}
