package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/treemeter/internal/config"
	"github.com/mihaimyh/treemeter/internal/httputil"
	"github.com/mihaimyh/treemeter/pkg/api"
	stripebilling "github.com/mihaimyh/treemeter/pkg/billing/stripe"
	"github.com/mihaimyh/treemeter/pkg/treemeter"
	zerologadapter "github.com/mihaimyh/treemeter/pkg/treemeter/logger/zerolog"
	tmprom "github.com/mihaimyh/treemeter/pkg/treemeter/metrics/prometheus"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the metrics endpoint",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := initLogging(cfg.LogLevel, cfg.LogFormat, nil)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	apiHandler, cleanup, err := buildHandler(ctx, cfg, reg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apiHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux(reg),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return listen(logger, "api", apiSrv) })
	g.Go(func() error { return listen(logger, "metrics", metricsSrv) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return errors.Join(apiSrv.Shutdown(shutdownCtx), metricsSrv.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// buildHandler wires the service and returns the routed API handler.
func buildHandler(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger zerolog.Logger) (http.Handler, func(), error) {
	tmLogger := zerologadapter.NewLogger(&logger)

	be, err := openBackends(ctx, cfg, reg, tmLogger)
	if err != nil {
		return nil, nil, err
	}

	svc, err := treemeter.NewService(treemeter.Config{
		Users:          be.users,
		Ledger:         be.ledger,
		Billing:        be.billing,
		Verifier:       stripebilling.NewVerifier(be.billingMetrics),
		WebhookSecret:  cfg.StripeEndpointSecret,
		MeteredPriceID: cfg.StripeMeteredPrice,
		FrontendURL:    cfg.FrontendURL,
		UsagePageSize:  cfg.UsagePageSize,
		Logger:         tmLogger,
		Metrics:        tmprom.NewMetrics(reg, "treemeter"),
	})
	if err != nil {
		be.Close()
		return nil, nil, err
	}

	apiConfig := api.Config{Service: svc, Logger: tmLogger}
	if cfg.RateLimitRequests > 0 {
		apiConfig.RateLimiter = httputil.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	}
	handler, err := api.NewHandler(apiConfig)
	if err != nil {
		be.Close()
		return nil, nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(httputil.RequestLogger(logger))
	r.Mount("/", handler.Routes())
	return r, be.Close, nil
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func listen(logger zerolog.Logger, name string, srv *http.Server) error {
	logger.Info().Str("server", name).Str("addr", srv.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
