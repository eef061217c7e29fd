package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/treemeter/pkg/treemeter"
)

func newCheckoutCmd() *cobra.Command {
	var apiKey string
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Start a card setup checkout for a user and print its URL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			initLogging(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())

			be, err := openBackends(cmd.Context(), cfg, nil, nil)
			if err != nil {
				return err
			}
			defer be.Close()

			url, err := startCheckout(cmd.Context(), be, apiKey, cfg.FrontendURL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key of the user")
	_ = cmd.MarkFlagRequired("api-key")
	return cmd
}

// startCheckout creates a setup checkout and stores its session on the user,
// which lets the checkout.session.completed webhook find them.
func startCheckout(ctx context.Context, be *backends, apiKey, frontendURL string) (string, error) {
	if be.stripe == nil {
		return "", errors.New("checkout requires BILLING_PROVIDER=stripe")
	}

	user, err := be.users.FindByAPIKey(ctx, apiKey)
	if err != nil {
		return "", fmt.Errorf("find user: %w", err)
	}
	if user.StripeID == "" {
		return "", errors.New("user has no Stripe customer; create it with `user create --stripe-customer`")
	}

	base := strings.TrimRight(frontendURL, "/")
	checkout, err := be.stripe.CreateSetupCheckout(ctx, user.StripeID, base+"/dashboard?checkout=success", base+"/dashboard")
	if err != nil {
		return "", err
	}

	if _, err := be.users.Update(ctx, user.ID, &treemeter.UserUpdate{
		CheckoutSessionID: treemeter.String(checkout.SessionID),
	}); err != nil {
		return "", fmt.Errorf("store checkout session: %w", err)
	}
	return checkout.URL, nil
}
