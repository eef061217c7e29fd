package stripe

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"
)

// SetupCheckout is a hosted checkout that collects a card for later use.
type SetupCheckout struct {
	SessionID string
	URL       string
}

// CreateSetupCheckout creates a setup-mode Checkout Session for an existing
// customer. Storing the session id on the user lets the completion
// webhook find them again.
func (c *Client) CreateSetupCheckout(ctx context.Context, customerID, successURL, cancelURL string) (*SetupCheckout, error) {
	if customerID == "" {
		return nil, fmt.Errorf("setup checkout requires a customer")
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSetup)),
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(successURL),
		CancelURL:          stripe.String(cancelURL),
	}

	start := time.Now()
	session, err := c.sc.V1CheckoutSessions.Create(ctx, params)
	c.observe("/checkout/sessions", start, err)
	if err != nil {
		return nil, wrapError("create checkout session", err)
	}
	return &SetupCheckout{SessionID: session.ID, URL: session.URL}, nil
}

// CreateCustomer creates a Stripe customer for a new subscriber.
func (c *Client) CreateCustomer(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerCreateParams{}
	if email != "" {
		params.Email = stripe.String(email)
	}

	start := time.Now()
	cust, err := c.sc.V1Customers.Create(ctx, params)
	c.observe("/customers", start, err)
	if err != nil {
		return "", wrapError("create customer", err)
	}
	return cust.ID, nil
}
