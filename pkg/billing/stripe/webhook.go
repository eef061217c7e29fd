package stripe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/treemeter/pkg/billing"
)

// Verifier implements billing.EventVerifier using Stripe webhook signatures.
type Verifier struct {
	metrics billing.Metrics
}

// NewVerifier creates a Verifier. metrics may be nil.
func NewVerifier(metrics billing.Metrics) *Verifier {
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	return &Verifier{metrics: metrics}
}

// ConstructEvent checks the Stripe-Signature header and decodes the event.
// The returned error of a signature failure carries the library's message.
func (v *Verifier) ConstructEvent(payload []byte, header, secret string) (*billing.Event, error) {
	if strings.TrimSpace(header) == "" {
		v.metrics.RecordWebhookError(providerName, "missing_signature")
		return nil, fmt.Errorf("%w: missing Stripe-Signature header", billing.ErrInvalidWebhookSignature)
	}

	event, err := webhook.ConstructEventWithOptions(payload, header, strings.TrimSpace(secret), webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		v.metrics.RecordWebhookError(providerName, "auth_failed")
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookSignature, err)
	}

	out := &billing.Event{
		ID:   event.ID,
		Type: billing.EventType(event.Type),
	}
	if event.Created > 0 {
		out.Created = time.Unix(event.Created, 0).UTC()
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}

	if err := decodeObject(event.Data.Raw, out); err != nil {
		v.metrics.RecordWebhookError(providerName, "invalid_payload")
		return nil, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
	}
	return out, nil
}

// decodeObject fills the tagged union from data.object according to its
// "object" kind. Unknown kinds leave every payload nil.
func decodeObject(raw json.RawMessage, event *billing.Event) error {
	var kind struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(raw, &kind); err != nil {
		return fmt.Errorf("decode object kind: %w", err)
	}

	switch kind.Object {
	case "checkout.session":
		var session checkoutSessionObject
		if err := json.Unmarshal(raw, &session); err != nil {
			return fmt.Errorf("decode checkout.session: %w", err)
		}
		event.CheckoutSession = &billing.CheckoutSession{
			ID:            session.ID,
			CustomerID:    session.Customer.ID,
			SetupIntentID: session.SetupIntent.ID,
			Mode:          session.Mode,
		}

	case "subscription":
		var sub subscriptionObject
		if err := json.Unmarshal(raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		event.Subscription = sub.toBilling()

	case "invoice":
		var invoice invoiceObject
		if err := json.Unmarshal(raw, &invoice); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		event.Invoice = invoice.toBilling()
	}
	return nil
}

// expandable is a Stripe field that holds either an id or the expanded object.
type expandable struct {
	ID string
}

func (e *expandable) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &e.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	e.ID = obj.ID
	return nil
}

// checkoutSessionObject is a minimal representation of a Stripe Checkout Session.
type checkoutSessionObject struct {
	ID          string     `json:"id"`
	Mode        string     `json:"mode"`
	Customer    expandable `json:"customer"`
	SetupIntent expandable `json:"setup_intent"`
}

// subscriptionObject is a minimal representation of a Stripe subscription.
type subscriptionObject struct {
	ID        string     `json:"id"`
	Customer  expandable `json:"customer"`
	Status    string     `json:"status"`
	StartDate int64      `json:"start_date"`
	Items     struct {
		Data []struct {
			ID    string `json:"id"`
			Price struct {
				ID        string `json:"id"`
				Recurring *struct {
					Meter string `json:"meter"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (s *subscriptionObject) toBilling() *billing.Subscription {
	out := &billing.Subscription{
		ID:         s.ID,
		CustomerID: s.Customer.ID,
		Status:     s.Status,
	}
	if s.StartDate > 0 {
		out.StartDate = time.Unix(s.StartDate, 0).UTC()
	}
	for _, item := range s.Items.Data {
		converted := billing.SubscriptionItem{ID: item.ID, PriceID: item.Price.ID}
		if item.Price.Recurring != nil {
			converted.MeterID = item.Price.Recurring.Meter
		}
		out.Items = append(out.Items, converted)
	}
	return out
}

// invoiceObject is a minimal representation of a Stripe invoice.
// Newer API versions link the subscription through parent.subscription_details;
// older ones carry a top-level subscription field.
type invoiceObject struct {
	ID           string     `json:"id"`
	Customer     expandable `json:"customer"`
	Subscription expandable `json:"subscription"`
	PeriodEnd    int64      `json:"period_end"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandable `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (i *invoiceObject) toBilling() *billing.Invoice {
	out := &billing.Invoice{
		ID:             i.ID,
		CustomerID:     i.Customer.ID,
		SubscriptionID: i.Subscription.ID,
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil && i.Parent.SubscriptionDetails.Subscription.ID != "" {
		out.SubscriptionID = i.Parent.SubscriptionDetails.Subscription.ID
	}
	if i.PeriodEnd > 0 {
		out.PeriodEnd = time.Unix(i.PeriodEnd, 0).UTC()
	}
	return out
}

var _ billing.EventVerifier = (*Verifier)(nil)
