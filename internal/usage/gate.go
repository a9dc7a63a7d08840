// Package usage guards metered operations behind the subscription ledger.
package usage

import (
	"github.com/claritylabs/claritycounsel/internal/store"
)

// Gate is the check-and-consume guard every metered operation passes through.
// Consume must succeed before the paid work starts; a downstream failure does
// not refund the unit.
type Gate struct {
	subs *store.SubscriptionStore
}

func NewGate(subs *store.SubscriptionStore) *Gate {
	return &Gate{subs: subs}
}

// Consume atomically spends one unit of the user's allowance and returns the
// remaining count. Fails with store.ErrNoSubscription when the user has never
// selected a plan, and store.ErrQuotaExhausted when no uses remain.
func (g *Gate) Consume(userID int64) (int, error) {
	sub, err := g.subs.DecrementUsage(userID)
	if err != nil {
		return 0, err
	}
	return sub.UsesLeft, nil
}

// Remaining reports the user's current allowance without consuming anything.
func (g *Gate) Remaining(userID int64) (int, error) {
	sub, err := g.subs.GetByUserID(userID)
	if err != nil {
		return 0, err
	}
	if sub == nil {
		return 0, store.ErrNoSubscription
	}
	return sub.UsesLeft, nil
}
