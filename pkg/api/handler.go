package api

import (
	"errors"
	"net/http"

	"github.com/mihaimyh/treemeter/internal/httputil"
	"github.com/mihaimyh/treemeter/pkg/treemeter"
)

// Routes served by Handler
const (
	PathPlantTree = "/plant-tree"
	PathWebhook   = "/stripe-webhook"
	PathHealth    = "/healthz"
)

// SignatureHeader carries the Stripe webhook signature.
const SignatureHeader = "Stripe-Signature"

const msgInternalError = "internal error"

// Handler provides the HTTP endpoints of the service
type Handler struct {
	config Config
}

// PlantTree handles GET /plant-tree?apiKey=<key>&trees=<n>
func (h *Handler) PlantTree(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	user, err := h.config.Service.PlantTrees(r.Context(), query.Get("apiKey"), query.Get("trees"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := httputil.WriteJSON(w, http.StatusOK, PlantTreeResponse{Trees: user.Trees}); err != nil {
		h.config.Logger.Debug("response write failed", treemeter.Err(err))
	}
}

// StripeWebhook handles POST /stripe-webhook
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.ReadBodyStrict(w, r, h.config.MaxBodyBytes)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	msg, err := h.config.Service.HandleWebhook(r.Context(), body, r.Header.Get(SignatureHeader))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	httputil.WriteMessage(w, http.StatusOK, msg)
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Routes returns a mux serving every endpoint, with the rate limiter
// (if configured) in front of /plant-tree. Webhook deliveries come from a
// few shared provider IPs and are never limited.
func (h *Handler) Routes() http.Handler {
	var plantTree http.Handler = http.HandlerFunc(h.PlantTree)
	if h.config.RateLimiter != nil {
		plantTree = h.config.RateLimiter.Middleware(plantTree)
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+PathPlantTree, plantTree)
	mux.HandleFunc("POST "+PathWebhook, h.StripeWebhook)
	mux.HandleFunc("GET "+PathHealth, h.Health)
	return mux
}

// StatusFor maps an error to the HTTP status and client message.
// Internal errors never leak their text.
func StatusFor(err error) (int, string) {
	var reqErr *treemeter.RequestError
	switch {
	case errors.As(err, &reqErr) && errors.Is(reqErr.Kind, treemeter.ErrNotFound):
		return http.StatusNotFound, reqErr.Message
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, reqErr.Message
	case errors.Is(err, httputil.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, httputil.ErrEmptyBody):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, msgInternalError
	}
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	status, msg := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.config.Logger.Error("request failed",
			treemeter.Field{Key: "path", Value: r.URL.Path},
			treemeter.Err(err),
		)
	}
	httputil.WriteMessage(w, status, msg)
}
