package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/treemeter/pkg/treemeter"
)

// Metrics implements treemeter.Metrics using Prometheus.
type Metrics struct {
	webhookEventsTotal  *prometheus.CounterVec
	webhookDuration     *prometheus.HistogramVec
	treesPlantedTotal   prometheus.Counter
	treesPerRequest     prometheus.Histogram
	ledgerEntriesTotal  *prometheus.CounterVec
	ledgerTreesTotal    prometheus.Counter
	creditDeductedTotal *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Total number of billing webhook events by outcome.",
		}, []string{"event_type", "outcome"}),

		webhookDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_duration_seconds",
			Help:      "Latency of billing webhook event processing.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		treesPlantedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trees_planted_total",
			Help:      "Total number of trees reported through the trigger API.",
		}),

		treesPerRequest: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trees_per_request",
			Help:      "Distribution of trees reported per trigger request.",
			Buckets:   []float64{1, 2, 5, 10, 50, 100, 500},
		}),

		ledgerEntriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entries_total",
			Help:      "Total number of ledger writes.",
		}, []string{"success"}),

		ledgerTreesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_trees_total",
			Help:      "Total number of trees written to the ledger.",
		}),

		creditDeductedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_deducted_total",
			Help:      "Total credit deducted from users.",
		}, []string{"source"}),
	}
}

func (m *Metrics) RecordWebhookEvent(eventType, outcome string) {
	m.webhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) RecordWebhookDuration(eventType string, duration time.Duration) {
	m.webhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordTreesPlanted(trees int64) {
	m.treesPlantedTotal.Add(float64(trees))
	m.treesPerRequest.Observe(float64(trees))
}

func (m *Metrics) RecordLedgerEntry(trees int64, err error) {
	m.ledgerEntriesTotal.WithLabelValues(strconv.FormatBool(err == nil)).Inc()
	if err == nil {
		m.ledgerTreesTotal.Add(float64(trees))
	}
}

func (m *Metrics) RecordCreditDeducted(source string, amount int64) {
	m.creditDeductedTotal.WithLabelValues(source).Add(float64(amount))
}

var _ treemeter.Metrics = (*Metrics)(nil)
