package billing

import "time"

// EventType is the provider event kind.
type EventType string

const (
	EventCheckoutSessionCompleted EventType = "checkout.session.completed"
	EventSubscriptionDeleted      EventType = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded  EventType = "invoice.payment_succeeded"
)

// Event is a verified billing notification.
//
// It is a tagged union: depending on the kind of object embedded in the
// delivery, exactly one of CheckoutSession, Subscription or Invoice is set.
// Objects of any other kind leave all three nil.
type Event struct {
	ID      string
	Type    EventType
	Created time.Time

	CheckoutSession *CheckoutSession
	Subscription    *Subscription
	Invoice         *Invoice
}
