package treemeter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mihaimyh/treemeter/pkg/billing"
)

// Acknowledgments returned to the billing provider.
const (
	AckMissingUser           = "missing user"
	AckPaymentMethodAttached = "attached the payment method"
	AckSubscriptionCreated   = "attached the payment method and created the subscription"
	AckSubscriptionRemoved   = "removed subscription"
	AckInvoiceRecorded       = "got it"
	AckNotHandled            = "I am not handling that"
)

// HandleWebhook verifies a signed delivery and dispatches it.
// A signature failure is a BadRequest carrying the verifier's message.
// A signed event whose object cannot be decoded is acknowledged as not
// handled, so the provider stops redelivering it. Nothing is read or
// written in either case.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (string, error) {
	event, err := s.verifier.ConstructEvent(payload, signature, s.webhookSecret)
	if errors.Is(err, billing.ErrInvalidWebhookPayload) {
		s.logger.Warn("Ignoring undecodable webhook event", Err(err))
		s.metrics.RecordWebhookEvent("unknown", OutcomeIgnored)
		return AckNotHandled, nil
	}
	if err != nil {
		s.logger.Warn("Rejected webhook delivery", Err(err))
		s.metrics.RecordWebhookEvent("unknown", OutcomeRejected)
		return "", BadRequest(err.Error())
	}
	return s.Dispatch(ctx, event)
}

// Dispatch routes a verified event to its transition.
// Unrecognized kinds are acknowledged without side effects.
func (s *Service) Dispatch(ctx context.Context, event *billing.Event) (string, error) {
	if event == nil {
		return AckNotHandled, nil
	}

	start := time.Now()
	var (
		ack string
		err error
	)

	switch event.Type {
	case billing.EventCheckoutSessionCompleted:
		ack, err = s.completeCheckout(ctx, event.CheckoutSession)
	case billing.EventSubscriptionDeleted:
		ack, err = s.removeSubscription(ctx, event.Subscription)
	case billing.EventInvoicePaymentSucceeded:
		ack, err = s.settleInvoice(ctx, event.Invoice)
	default:
		ack = AckNotHandled
	}

	eventType := string(event.Type)
	s.metrics.RecordWebhookDuration(eventType, time.Since(start))
	if err != nil {
		s.metrics.RecordWebhookEvent(eventType, OutcomeError)
		s.logger.Error("Failed to process webhook event",
			Field{"event_id", event.ID},
			Field{"event_type", eventType},
			Err(err))
		return "", err
	}

	s.metrics.RecordWebhookEvent(eventType, outcomeOf(ack))
	s.logger.Info("Processed webhook event",
		Field{"event_id", event.ID},
		Field{"event_type", eventType},
		Field{"ack", ack})
	return ack, nil
}

func outcomeOf(ack string) string {
	switch ack {
	case AckNotHandled:
		return OutcomeIgnored
	case AckMissingUser:
		return OutcomeMissingUser
	default:
		return OutcomeProcessed
	}
}

// completeCheckout attaches the card collected by a setup checkout and,
// for users without one, starts the metered subscription.
// A user not yet linked to a customer takes the session's customer.
// Attach is idempotent, so a redelivery after a partial failure is safe.
func (s *Service) completeCheckout(ctx context.Context, session *billing.CheckoutSession) (string, error) {
	if session == nil {
		return AckNotHandled, nil
	}

	user, err := s.users.FindByCheckoutSessionID(ctx, session.ID)
	if errors.Is(err, ErrUserNotFound) {
		return AckMissingUser, nil
	}
	if err != nil {
		return "", fmt.Errorf("find user by checkout session %s: %w", session.ID, err)
	}

	customerID := user.StripeID
	if customerID == "" {
		customerID = session.CustomerID
	}
	if customerID == "" {
		s.logger.Warn("Checkout session has no customer",
			Field{"session_id", session.ID},
			Field{"user_id", user.ID})
		return AckNotHandled, nil
	}

	// Only setup-mode checkouts carry a reusable card.
	if session.SetupIntentID == "" {
		s.logger.Warn("Checkout session has no setup intent", Field{"session_id", session.ID})
		return AckNotHandled, nil
	}
	intent, err := s.billing.RetrieveSetupIntent(ctx, session.SetupIntentID)
	if err != nil {
		return "", fmt.Errorf("retrieve setup intent %s: %w", session.SetupIntentID, err)
	}
	if intent.PaymentMethodID == "" {
		s.logger.Warn("Setup intent has no payment method", Field{"setup_intent_id", intent.ID})
		return AckNotHandled, nil
	}

	if err := s.billing.AttachPaymentMethod(ctx, intent.PaymentMethodID, customerID); err != nil {
		return "", fmt.Errorf("attach payment method %s: %w", intent.PaymentMethodID, err)
	}

	if user.HasSubscription() {
		return AckPaymentMethodAttached, nil
	}

	sub, err := s.billing.CreateSubscription(ctx, &billing.CreateSubscriptionParams{
		CustomerID:             customerID,
		PriceID:                s.priceID,
		DefaultPaymentMethodID: intent.PaymentMethodID,
	})
	if err != nil {
		return "", fmt.Errorf("create subscription for %s: %w", customerID, err)
	}

	if _, err := s.users.Update(ctx, user.ID, &UserUpdate{
		StripeID:          String(customerID),
		SubscriptionID:    String(sub.ID),
		CheckoutSessionID: String(""),
	}); err != nil {
		return "", fmt.Errorf("store subscription %s: %w", sub.ID, err)
	}

	s.logger.Info("Created subscription",
		Field{"user_id", user.ID},
		Field{"subscription_id", sub.ID})
	return AckSubscriptionCreated, nil
}

// removeSubscription unlinks a cancelled subscription from its user.
func (s *Service) removeSubscription(ctx context.Context, sub *billing.Subscription) (string, error) {
	if sub == nil {
		return AckNotHandled, nil
	}
	// Deletion events for still-active subscriptions are not cancellations.
	if sub.Status == billing.SubscriptionStatusActive {
		return AckNotHandled, nil
	}

	user, ack, err := s.userForCustomer(ctx, sub.CustomerID)
	if user == nil {
		return ack, err
	}

	if _, err := s.users.Update(ctx, user.ID, &UserUpdate{SubscriptionID: String("")}); err != nil {
		return "", fmt.Errorf("clear subscription of user %s: %w", user.ID, err)
	}
	return AckSubscriptionRemoved, nil
}

// settleInvoice records the billed trees in the ledger and deducts them
// from the user's credit.
//
// The total is the lifetime usage of the subscription, so every invoice
// deducts all trees ever reported again, not only those of its period.
func (s *Service) settleInvoice(ctx context.Context, invoice *billing.Invoice) (string, error) {
	if invoice == nil || invoice.SubscriptionID == "" {
		return AckNotHandled, nil
	}

	user, ack, err := s.userForCustomer(ctx, invoice.CustomerID)
	if user == nil {
		return ack, err
	}

	total, err := s.TotalUsage(ctx, invoice.SubscriptionID)
	if err != nil {
		return "", err
	}

	entry := &LedgerEntry{
		Timestamp: invoice.PeriodEnd,
		Trees:     total,
		StripeID:  user.StripeID,
		InvoiceID: invoice.ID,
	}
	err = s.ledger.Record(ctx, entry)
	s.metrics.RecordLedgerEntry(total, err)
	if err != nil {
		return "", fmt.Errorf("record ledger entry for invoice %s: %w", invoice.ID, err)
	}

	if _, err := s.users.Update(ctx, user.ID, &UserUpdate{CreditDelta: -total}); err != nil {
		return "", fmt.Errorf("deduct credit of user %s: %w", user.ID, err)
	}
	s.metrics.RecordCreditDeducted("invoice", total)
	return AckInvoiceRecorded, nil
}

// userForCustomer resolves the billing customer and its user. A nil user
// with a nil error means the event should be acknowledged with ack.
func (s *Service) userForCustomer(ctx context.Context, customerID string) (*User, string, error) {
	customer, err := s.billing.RetrieveCustomer(ctx, customerID)
	if err != nil {
		return nil, "", fmt.Errorf("retrieve customer %s: %w", customerID, err)
	}

	user, err := s.users.FindByStripeID(ctx, customer.ID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, AckMissingUser, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("find user by customer %s: %w", customer.ID, err)
	}
	return user, "", nil
}
