package store

import "errors"

var (
	// ErrNoSubscription means the user has never selected a plan.
	ErrNoSubscription = errors.New("no subscription for user")

	// ErrQuotaExhausted means the subscription has no uses left in the
	// current billing period.
	ErrQuotaExhausted = errors.New("no uses left in current billing period")

	// ErrDuplicateEvent means a billing event with the same dedup key was
	// already applied. Redelivered webhooks hit this and are a no-op.
	ErrDuplicateEvent = errors.New("billing event already processed")
)
