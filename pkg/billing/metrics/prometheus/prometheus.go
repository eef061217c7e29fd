package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/treemeter/pkg/billing"
)

// Metrics implements billing.Metrics using Prometheus.
type Metrics struct {
	webhookErrorsTotal *prometheus.CounterVec
	apiCallsTotal      *prometheus.CounterVec
	apiCallDuration    *prometheus.HistogramVec
	meteredUnitsTotal  *prometheus.CounterVec
}

// NewMetrics registers the billing collectors on reg under namespace.
// Call it once per registry.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_errors_total",
			Help:      "Total number of webhook verification errors.",
		}, []string{"provider", "error_type"}),

		apiCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "api_calls_total",
			Help:      "Total number of API calls to billing providers.",
		}, []string{"provider", "endpoint", "status"}),

		apiCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "api_call_duration_seconds",
			Help:      "Duration of API calls to billing providers in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "endpoint"}),

		meteredUnitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "metered_units_total",
			Help:      "Total number of units (planted trees) reported as metered usage.",
		}, []string{"provider"}),
	}
}

func (m *Metrics) RecordWebhookError(provider, errorType string) {
	m.webhookErrorsTotal.WithLabelValues(provider, errorType).Inc()
}

func (m *Metrics) RecordAPICall(provider, endpoint, status string) {
	m.apiCallsTotal.WithLabelValues(provider, endpoint, status).Inc()
}

func (m *Metrics) RecordAPICallDuration(provider, endpoint string, duration time.Duration) {
	m.apiCallDuration.WithLabelValues(provider, endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordMeteredUsage(provider string, quantity int64) {
	m.meteredUnitsTotal.WithLabelValues(provider).Add(float64(quantity))
}

var _ billing.Metrics = (*Metrics)(nil)
