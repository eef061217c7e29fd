package stripe

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/treemeter/pkg/billing"
)

// AttachPaymentMethod implements billing.Client. Attaching a method that
// already belongs to the customer succeeds, so a redelivered checkout
// event can run the whole transition again.
func (c *Client) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	params.SetIdempotencyKey(attachIdempotencyKey(paymentMethodID, customerID))

	start := time.Now()
	_, err := c.sc.V1PaymentMethods.Attach(ctx, paymentMethodID, params)
	c.observe("/payment_methods/{id}/attach", start, err)
	if err == nil || isAlreadyAttached(err) {
		return nil
	}

	// Stripe rejects re-attaching in ways that depend on the card; the
	// method's current owner is the authority.
	owner, ownerErr := c.paymentMethodOwner(ctx, paymentMethodID)
	if ownerErr == nil && owner == customerID {
		return nil
	}
	return wrapError("attach payment method", err)
}

func (c *Client) paymentMethodOwner(ctx context.Context, paymentMethodID string) (string, error) {
	start := time.Now()
	pm, err := c.sc.V1PaymentMethods.Retrieve(ctx, paymentMethodID, nil)
	c.observe("/payment_methods/{id}", start, err)
	if err != nil {
		return "", err
	}
	if pm.Customer == nil {
		return "", nil
	}
	return pm.Customer.ID, nil
}

func attachIdempotencyKey(paymentMethodID, customerID string) string {
	return "attach-" + paymentMethodID + "-" + customerID
}

// RetrieveSetupIntent implements billing.Client
func (c *Client) RetrieveSetupIntent(ctx context.Context, id string) (*billing.SetupIntent, error) {
	start := time.Now()
	intent, err := c.sc.V1SetupIntents.Retrieve(ctx, id, nil)
	c.observe("/setup_intents/{id}", start, err)
	if err != nil {
		return nil, wrapError("retrieve setup intent", err)
	}

	out := &billing.SetupIntent{ID: intent.ID}
	if intent.PaymentMethod != nil {
		out.PaymentMethodID = intent.PaymentMethod.ID
	}
	return out, nil
}

// RetrieveCustomer implements billing.Client
func (c *Client) RetrieveCustomer(ctx context.Context, id string) (*billing.Customer, error) {
	start := time.Now()
	cust, err := c.sc.V1Customers.Retrieve(ctx, id, nil)
	c.observe("/customers/{id}", start, err)
	if err != nil {
		return nil, wrapError("retrieve customer", err)
	}
	return &billing.Customer{ID: cust.ID, Deleted: cust.Deleted}, nil
}
