// Package echo provides Echo handlers for the treemeter endpoints
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

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
	OnError func(c echo.Context, err error) error
}

func (cfg *Config) init() {
	// Validate required configuration at startup (fail fast)
	if cfg.Service == nil {
		panic("treemeter/echo: Config.Service is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = httputil.MaxBodyBytes
	}
	if cfg.OnError == nil {
		cfg.OnError = defaultError
	}
}

// Register mounts GET /plant-tree, POST /stripe-webhook and GET /healthz on e.
func Register(e *echo.Echo, cfg Config) {
	e.GET(api.PathPlantTree, PlantTree(cfg))
	e.POST(api.PathWebhook, StripeWebhook(cfg))
	e.GET(api.PathHealth, func(c echo.Context) error {
		return c.JSON(http.StatusOK, api.HealthResponse{Status: "ok"})
	})
}

// PlantTree returns the handler of GET /plant-tree
func PlantTree(cfg Config) echo.HandlerFunc {
	cfg.init()

	return func(c echo.Context) error {
		user, err := cfg.Service.PlantTrees(c.Request().Context(), c.QueryParam("apiKey"), c.QueryParam("trees"))
		if err != nil {
			return cfg.OnError(c, err)
		}
		return c.JSON(http.StatusOK, api.PlantTreeResponse{Trees: user.Trees})
	}
}

// StripeWebhook returns the handler of POST /stripe-webhook
func StripeWebhook(cfg Config) echo.HandlerFunc {
	cfg.init()

	return func(c echo.Context) error {
		body, err := httputil.ReadBodyStrict(c.Response(), c.Request(), cfg.MaxBodyBytes)
		if err != nil {
			return cfg.OnError(c, err)
		}

		msg, err := cfg.Service.HandleWebhook(c.Request().Context(), body, c.Request().Header.Get(api.SignatureHeader))
		if err != nil {
			return cfg.OnError(c, err)
		}
		return c.JSON(http.StatusOK, httputil.Message{Message: msg})
	}
}

func defaultError(c echo.Context, err error) error {
	status, msg := api.StatusFor(err)
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
	}
	return c.JSON(status, httputil.Message{Message: msg})
}
