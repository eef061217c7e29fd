package stripe

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/treemeter/pkg/billing"
)

// wrapError maps Stripe API errors onto billing sentinels while keeping the
// *stripe.Error reachable through errors.As.
func wrapError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w: %w", op, billing.ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w: %w", op, billing.ErrProviderAPIError, err)
}

// isAlreadyAttached reports whether an attach error means the payment
// method is already attached, either because the same idempotent request
// was replayed or because Stripe says the attachment exists.
func isAlreadyAttached(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Type == stripe.ErrorTypeIdempotency ||
		stripeErr.Code == stripe.ErrorCodeResourceAlreadyExists
}
