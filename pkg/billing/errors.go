package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrNotFound is returned when an object does not exist at the provider
	ErrNotFound = errors.New("billing object not found")

	// ErrNoSubscriptionItems is returned when a subscription has no billable item
	ErrNoSubscriptionItems = errors.New("subscription has no items")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")
)
