// Package gin provides Gin handlers for the treemeter endpoints
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

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
	OnError func(c *gongin.Context, err error)
}

func (cfg *Config) init() {
	// Validate required configuration at startup (fail fast)
	if cfg.Service == nil {
		panic("treemeter/gin: Config.Service is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = httputil.MaxBodyBytes
	}
	if cfg.OnError == nil {
		cfg.OnError = defaultError
	}
}

// Register mounts GET /plant-tree, POST /stripe-webhook and GET /healthz on r.
func Register(r gongin.IRoutes, cfg Config) {
	r.GET(api.PathPlantTree, PlantTree(cfg))
	r.POST(api.PathWebhook, StripeWebhook(cfg))
	r.GET(api.PathHealth, func(c *gongin.Context) {
		c.JSON(http.StatusOK, api.HealthResponse{Status: "ok"})
	})
}

// PlantTree returns the handler of GET /plant-tree
func PlantTree(cfg Config) gongin.HandlerFunc {
	cfg.init()

	return func(c *gongin.Context) {
		user, err := cfg.Service.PlantTrees(c.Request.Context(), c.Query("apiKey"), c.Query("trees"))
		if err != nil {
			cfg.OnError(c, err)
			c.Abort()
			return
		}
		c.JSON(http.StatusOK, api.PlantTreeResponse{Trees: user.Trees})
	}
}

// StripeWebhook returns the handler of POST /stripe-webhook
func StripeWebhook(cfg Config) gongin.HandlerFunc {
	cfg.init()

	return func(c *gongin.Context) {
		body, err := httputil.ReadBodyStrict(c.Writer, c.Request, cfg.MaxBodyBytes)
		if err != nil {
			cfg.OnError(c, err)
			c.Abort()
			return
		}

		msg, err := cfg.Service.HandleWebhook(c.Request.Context(), body, c.GetHeader(api.SignatureHeader))
		if err != nil {
			cfg.OnError(c, err)
			c.Abort()
			return
		}
		c.JSON(http.StatusOK, httputil.Message{Message: msg})
	}
}

func defaultError(c *gongin.Context, err error) {
	status, msg := api.StatusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, httputil.Message{Message: msg})
}
