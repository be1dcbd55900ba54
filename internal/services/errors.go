package services

import "errors"

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrUnsupportedPlatform  = errors.New("unsupported platform")
	ErrRemediationNotFound  = errors.New("remediation item not found")

	// ErrDuplicateTransaction signals an already-applied platform event. Not a failure.
	ErrDuplicateTransaction = errors.New("transaction already processed")

	// ErrLineageUnknown means no user could be resolved for a lineage yet.
	ErrLineageUnknown = errors.New("subscription lineage has no known owner")
)
