package treemeter

import "time"

// Webhook outcomes reported to Metrics.
const (
	OutcomeProcessed   = "processed"
	OutcomeIgnored     = "ignored"
	OutcomeMissingUser = "missing_user"
	OutcomeRejected    = "rejected"
	OutcomeError       = "error"
)

// Metrics defines the interface for tracking service operations.
type Metrics interface {
	// RecordWebhookEvent records a dispatched or rejected billing event.
	RecordWebhookEvent(eventType, outcome string)

	// RecordWebhookDuration records how long a dispatch took.
	RecordWebhookDuration(eventType string, duration time.Duration)

	// RecordTreesPlanted records trees reported through the trigger API.
	RecordTreesPlanted(trees int64)

	// RecordLedgerEntry records a ledger write and the trees it billed.
	RecordLedgerEntry(trees int64, err error)

	// RecordCreditDeducted records credit taken from users.
	// source is "plant" or "invoice".
	RecordCreditDeducted(source string, amount int64)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(eventType, outcome string)                   {}
func (n *NoopMetrics) RecordWebhookDuration(eventType string, duration time.Duration) {}
func (n *NoopMetrics) RecordTreesPlanted(trees int64)                                 {}
func (n *NoopMetrics) RecordLedgerEntry(trees int64, err error)                       {}
func (n *NoopMetrics) RecordCreditDeducted(source string, amount int64)               {}
