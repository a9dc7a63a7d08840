package model

import (
	"time"

	"github.com/claritylabs/claritycounsel/internal/plan"
)

// Subscription is the per-user usage ledger record. Exactly one row exists
// per user; plan changes and renewals mutate it in place.
type Subscription struct {
	ID                   int64      `json:"id"`
	UserID               int64      `json:"user_id"`
	Plan                 plan.Plan  `json:"plan"`
	UsesLeft             int        `json:"uses_left"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id,omitempty"`
	StartDate            time.Time  `json:"start_date"`
	RenewalDate          *time.Time `json:"renewal_date,omitempty"`
	LastResetDate        time.Time  `json:"last_reset_date"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}
