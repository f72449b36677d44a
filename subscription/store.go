package subscription

import (
	"context"
	"time"
)

// Store is the per-aggregate storage contract for subscription records.
// The unified store.Store interface embeds these methods.
type Store interface {
	// Upsert inserts or updates a record keyed on (Provider, SubscriptionID).
	// On update the stored CreatedAt is preserved. Returns the stored record.
	Upsert(ctx context.Context, rec *Record) (*Record, error)

	// GetByProviderID returns the record for a provider-assigned
	// subscription id, or ErrSubscriptionNotFound.
	GetByProviderID(ctx context.Context, provider, subscriptionID string) (*Record, error)

	// ListActive returns the user's records with a status that counts as
	// active, ordered by (PeriodEnd DESC NULLS LAST, CreatedAt DESC).
	ListActive(ctx context.Context, userID string) ([]*Record, error)

	// List returns a user's records, newest first.
	List(ctx context.Context, userID string, opts ListOpts) ([]*Record, error)

	// CancelAllExcept atomically cancels every active-counting record of the
	// user except keepID, setting status=canceled and
	// cancel_at_period_end=false in one conditional update. Returns the
	// number of records transitioned.
	CancelAllExcept(ctx context.Context, userID string, keepID string) (int64, error)

	// CancelNow transitions one record to canceled immediately.
	CancelNow(ctx context.Context, provider, subscriptionID string, at time.Time) error

	// ScheduleChange records a pending plan change on a record without
	// touching its status.
	ScheduleChange(ctx context.Context, provider, subscriptionID string, change ScheduledChange) error

	// ListDueScheduledChanges returns records whose scheduled change is due
	// at or before now.
	ListDueScheduledChanges(ctx context.Context, now time.Time) ([]*Record, error)
}

// ScheduledChange is a pending plan change to be applied at period end.
type ScheduledChange struct {
	PlanSlug    string
	Interval    Interval
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	At          time.Time
}
