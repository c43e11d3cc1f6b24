package subscription

import "errors"

var (
	// ErrUserNotFound is returned when no user document exists for an id, email or customer
	ErrUserNotFound = errors.New("user not found")

	// ErrUnknownPrice is returned when a price identifier is in no configured plan set
	ErrUnknownPrice = errors.New("unknown price identifier")

	// ErrMissingSubscriptionItem is returned when a subscription carries no items
	ErrMissingSubscriptionItem = errors.New("subscription has no items")

	// ErrAlreadyGranted is returned by replay when the user already holds the
	// subscription as active and credits were granted for it
	ErrAlreadyGranted = errors.New("subscription already granted")

	// ErrInvalidUpdate is returned for nil or empty updates
	ErrInvalidUpdate = errors.New("invalid record update")

	// ErrStorageUnavailable is returned when storage is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// IsDataAnomaly reports whether err describes subscription data this system
// refuses to guess about.
func IsDataAnomaly(err error) bool {
	return errors.Is(err, ErrUnknownPrice) || errors.Is(err, ErrMissingSubscriptionItem)
}
