package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/claritylabs/claritycounsel/internal/model"
	"github.com/claritylabs/claritycounsel/internal/plan"
)

// SubscriptionStore is the usage ledger: one row per user holding the plan
// and the uses remaining in the current billing period. All mutations go
// through this store; nothing else reads-modifies-writes uses_left.
type SubscriptionStore struct {
	db *sql.DB
}

func NewSubscriptionStore(db *sql.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.Subscription, error) {
	var sub model.Subscription
	var stripeSubID sql.NullString
	var renewalDate sql.NullTime
	err := scanner.Scan(
		&sub.ID, &sub.UserID, &sub.Plan, &sub.UsesLeft, &stripeSubID,
		&sub.StartDate, &renewalDate, &sub.LastResetDate, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if stripeSubID.Valid {
		sub.StripeSubscriptionID = &stripeSubID.String
	}
	if renewalDate.Valid {
		sub.RenewalDate = &renewalDate.Time
	}
	return &sub, nil
}

const subscriptionCols = `id, user_id, plan, uses_left, stripe_subscription_id, start_date, renewal_date, last_reset_date, created_at, updated_at`

// Upsert creates the user's subscription, or replaces its plan and allowance
// if one already exists. The UNIQUE constraint on user_id guarantees a single
// ledger row per user; start_date survives plan changes.
func (s *SubscriptionStore) Upsert(userID int64, p plan.Plan, allowance int, renewalDate *time.Time, stripeSubID *string) (*model.Subscription, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO subscriptions (user_id, plan, uses_left, stripe_subscription_id, start_date, renewal_date, last_reset_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   plan = excluded.plan,
		   uses_left = excluded.uses_left,
		   stripe_subscription_id = excluded.stripe_subscription_id,
		   renewal_date = excluded.renewal_date,
		   last_reset_date = excluded.last_reset_date,
		   updated_at = CURRENT_TIMESTAMP`,
		userID, string(p), allowance, stripeSubID, now, renewalDate, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}
	return s.GetByUserID(userID)
}

func (s *SubscriptionStore) GetByUserID(userID int64) (*model.Subscription, error) {
	row := s.db.QueryRow(`SELECT `+subscriptionCols+` FROM subscriptions WHERE user_id = ?`, userID)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by user: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionStore) GetByStripeID(stripeSubID string) (*model.Subscription, error) {
	row := s.db.QueryRow(
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE stripe_subscription_id = ?`,
		stripeSubID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by stripe id: %w", err)
	}
	return sub, nil
}

// DecrementUsage consumes one unit of allowance. The conditional UPDATE is
// the serialization point: concurrent callers racing over the last unit see
// exactly one row mutation, and uses_left never goes below zero. Returns
// ErrNoSubscription or ErrQuotaExhausted when nothing was consumed.
func (s *SubscriptionStore) DecrementUsage(userID int64) (*model.Subscription, error) {
	result, err := s.db.Exec(
		`UPDATE subscriptions SET uses_left = uses_left - 1, updated_at = CURRENT_TIMESTAMP
		 WHERE user_id = ? AND uses_left > 0`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("decrement usage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		sub, err := s.GetByUserID(userID)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			return nil, ErrNoSubscription
		}
		return nil, ErrQuotaExhausted
	}
	return s.GetByUserID(userID)
}

// ResetUsage restores uses_left to the given allowance and stamps a new
// reset date. The pre-reset value is irrelevant.
func (s *SubscriptionStore) ResetUsage(userID int64, allowance int) (*model.Subscription, error) {
	result, err := s.db.Exec(
		`UPDATE subscriptions SET uses_left = ?, last_reset_date = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE user_id = ?`,
		allowance, time.Now().UTC(), userID,
	)
	if err != nil {
		return nil, fmt.Errorf("reset usage: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return nil, ErrNoSubscription
	}
	return s.GetByUserID(userID)
}

// ApplyCheckoutCompleted records a confirmed checkout and activates the paid
// plan. The billing_events insert and the ledger upsert commit atomically;
// a redelivered event with the same dedup key returns ErrDuplicateEvent and
// leaves the ledger untouched.
func (s *SubscriptionStore) ApplyCheckoutCompleted(dedupKey string, userID int64, p plan.Plan, allowance int, renewalDate time.Time, stripeSubID string) (*model.Subscription, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertBillingEvent(tx, dedupKey, "checkout.completed"); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var subID *string
	if stripeSubID != "" {
		subID = &stripeSubID
	}
	_, err = tx.Exec(
		`INSERT INTO subscriptions (user_id, plan, uses_left, stripe_subscription_id, start_date, renewal_date, last_reset_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   plan = excluded.plan,
		   uses_left = excluded.uses_left,
		   stripe_subscription_id = excluded.stripe_subscription_id,
		   renewal_date = excluded.renewal_date,
		   last_reset_date = excluded.last_reset_date,
		   updated_at = CURRENT_TIMESTAMP`,
		userID, string(p), allowance, subID, now, renewalDate, now,
	)
	if err != nil {
		return nil, fmt.Errorf("apply checkout: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByUserID(userID)
}

// ApplyRenewal restores the allowance for a new billing period, keyed by the
// provider's subscription id. Deduplicated the same way as checkout events.
func (s *SubscriptionStore) ApplyRenewal(dedupKey, stripeSubID string, allowance int, renewalDate time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := insertBillingEvent(tx, dedupKey, "renewal"); err != nil {
		return err
	}

	result, err := tx.Exec(
		`UPDATE subscriptions SET uses_left = ?, renewal_date = ?, last_reset_date = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE stripe_subscription_id = ?`,
		allowance, renewalDate, time.Now().UTC(), stripeSubID,
	)
	if err != nil {
		return fmt.Errorf("apply renewal: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNoSubscription
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DowngradeToFree transitions a canceled paid subscription back to the free
// plan. Naturally idempotent, so no dedup key is needed.
func (s *SubscriptionStore) DowngradeToFree(stripeSubID string, allowance int) error {
	_, err := s.db.Exec(
		`UPDATE subscriptions SET plan = ?, uses_left = ?, renewal_date = NULL, stripe_subscription_id = NULL,
		   last_reset_date = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE stripe_subscription_id = ?`,
		string(plan.Free), allowance, time.Now().UTC(), stripeSubID,
	)
	if err != nil {
		return fmt.Errorf("downgrade to free: %w", err)
	}
	return nil
}

// ListFreeResetDue returns free-plan subscriptions whose last reset is at or
// before the cutoff. Paid plans renew through provider events instead.
func (s *SubscriptionStore) ListFreeResetDue(cutoff time.Time) ([]*model.Subscription, error) {
	rows, err := s.db.Query(
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE plan = ? AND last_reset_date <= ?`,
		string(plan.Free), cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list free reset due: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func insertBillingEvent(tx *sql.Tx, dedupKey, eventType string) error {
	result, err := tx.Exec(
		`INSERT OR IGNORE INTO billing_events (dedup_key, event_type) VALUES (?, ?)`,
		dedupKey, eventType,
	)
	if err != nil {
		return fmt.Errorf("insert billing event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrDuplicateEvent
	}
	return nil
}
