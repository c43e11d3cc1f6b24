package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")

	// ErrPlanNotConfigured is returned when no price is configured for a plan and interval
	ErrPlanNotConfigured = errors.New("plan not configured in price table")

	// ErrCustomerNotFound is returned when a user has no provider customer yet
	ErrCustomerNotFound = errors.New("customer not found in billing provider")

	// ErrUnresolvedEvent is returned when an event cannot be correlated to a user
	// (missing metadata, absent user document, non-subscription object)
	ErrUnresolvedEvent = errors.New("event could not be correlated to a user")
)
