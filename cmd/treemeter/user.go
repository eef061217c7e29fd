package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mihaimyh/treemeter/pkg/treemeter"
)

func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users for local development",
	}

	var (
		email          string
		apiKey         string
		credit         int64
		createCustomer bool
	)
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user and print its API key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := initLogging(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())

			be, err := openBackends(cmd.Context(), cfg, nil, nil)
			if err != nil {
				return err
			}
			defer be.Close()

			user, err := createUser(cmd.Context(), be, email, apiKey, credit, createCustomer)
			if err != nil {
				return err
			}
			logger.Info().Str("user_id", user.ID).Str("stripe_id", user.StripeID).Msg("user created")
			fmt.Fprintln(cmd.OutOrStdout(), user.APIKey)
			return nil
		},
	}
	createCmd.Flags().StringVar(&email, "email", "", "user email")
	createCmd.Flags().StringVar(&apiKey, "api-key", "", "API key (generated when empty)")
	createCmd.Flags().Int64Var(&credit, "credit", 0, "initial credit")
	createCmd.Flags().BoolVar(&createCustomer, "stripe-customer", false, "create a Stripe customer for the user")

	userCmd.AddCommand(createCmd)
	return userCmd
}

func createUser(ctx context.Context, be *backends, email, apiKey string, credit int64, createCustomer bool) (*treemeter.User, error) {
	if be.creator == nil {
		return nil, errors.New("the configured user store cannot create users")
	}
	if apiKey == "" {
		apiKey = uuid.NewString()
	}

	user := &treemeter.User{Email: email, APIKey: apiKey, Credit: credit}
	if createCustomer {
		if be.stripe == nil {
			return nil, errors.New("--stripe-customer requires BILLING_PROVIDER=stripe")
		}
		customerID, err := be.stripe.CreateCustomer(ctx, email)
		if err != nil {
			return nil, err
		}
		user.StripeID = customerID
	}

	if err := be.creator.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}
