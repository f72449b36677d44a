package creditledger

import (
	"context"
	"time"

	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/subscription"
	"github.com/xraph/creditledger/types"
)

// ReconcileResult reports the outcome of a reconciliation pass.
type ReconcileResult struct {
	// Kept is the record that survived, or nil when the user had none.
	Kept *subscription.Record `json:"kept,omitempty"`

	// Canceled are the records transitioned to canceled locally.
	Canceled []*subscription.Record `json:"canceled,omitempty"`

	// ProviderFailures lists provider-side cancels that did not go through.
	// The local records are canceled regardless; these need a retry or a
	// manual fix at the provider's dashboard.
	ProviderFailures []ProviderFailure `json:"provider_failures,omitempty"`
}

// CancelOutcome reports a two-phase cancellation.
type CancelOutcome struct {
	LocalSuccess    bool `json:"local_success"`
	ProviderSuccess bool `json:"provider_success"`
}

// ──────────────────────────────────────────────────
// Lookup
// ──────────────────────────────────────────────────

// FindActiveSubscription returns the user's single active subscription, or
// ErrNoActiveSubscription. When the single-active invariant is violated the
// pick is deterministic: latest PeriodEnd wins, nulls last, then newest
// CreatedAt. The violation itself is not an error; Reconcile repairs it.
func (l *Ledger) FindActiveSubscription(ctx context.Context, userID string) (*subscription.Record, error) {
	actives, err := l.store.ListActiveSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(actives) == 0 {
		return nil, ErrNoActiveSubscription
	}
	return actives[0], nil
}

// GetSubscription returns a record by its provider-assigned id.
func (l *Ledger) GetSubscription(ctx context.Context, provider, subscriptionID string) (*subscription.Record, error) {
	return l.store.GetSubscriptionByProviderID(ctx, provider, subscriptionID)
}

// ListSubscriptions returns a user's subscription history, newest first.
func (l *Ledger) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Record, error) {
	return l.store.ListSubscriptions(ctx, userID, opts)
}

// ──────────────────────────────────────────────────
// Reconciliation
// ──────────────────────────────────────────────────

// Reconcile enforces the single-active invariant for one user. The record
// FindActiveSubscription would pick is kept; every other active-counting
// record is canceled locally in one conditional update, then canceled at the
// provider best-effort. Provider failures are reported in the result, never
// thrown, and never roll back the local cancels. Running Reconcile on a
// compliant user changes nothing.
func (l *Ledger) Reconcile(ctx context.Context, userID string) (*ReconcileResult, error) {
	actives, err := l.store.ListActiveSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{}
	if len(actives) == 0 {
		return result, nil
	}

	result.Kept = actives[0]
	if len(actives) == 1 {
		return result, nil
	}

	l.plugins.EmitDuplicateActivesDetected(ctx, userID, len(actives))
	l.logger.Warn("duplicate active subscriptions detected",
		"user_id", userID,
		"count", len(actives),
		"keeping", result.Kept.SubscriptionID,
	)

	n, err := l.store.CancelAllSubscriptionsExcept(ctx, userID, result.Kept.SubscriptionID)
	if err != nil {
		return nil, err
	}
	// Another reconciler may have won the race; report only what we saw.
	_ = n

	losers := actives[1:]
	for _, rec := range losers {
		rec.Status = subscription.StatusCanceled
		now := time.Now()
		rec.CanceledAt = &now
		result.Canceled = append(result.Canceled, rec)

		l.plugins.EmitSubscriptionCanceled(ctx, rec)

		if failure := l.cancelAtProvider(ctx, rec); failure != nil {
			result.ProviderFailures = append(result.ProviderFailures, *failure)
		}
	}

	l.plugins.EmitReconciled(ctx, result)

	l.logger.Info("reconciled subscriptions",
		"user_id", userID,
		"kept", result.Kept.SubscriptionID,
		"canceled", len(result.Canceled),
		"provider_failures", len(result.ProviderFailures),
	)

	return result, nil
}

// ──────────────────────────────────────────────────
// Import
// ──────────────────────────────────────────────────

// ImportOrUpdateSubscription upserts a provider subscription, keyed on the
// provider-assigned id. New records are inserted; known ones get their
// status, plan, and period updated in place with CreatedAt preserved. This
// is the single entry point for webhook events and backfill jobs alike.
//
// Off-graph status transitions are logged, not rejected: the provider is the
// source of truth for subscription state.
func (l *Ledger) ImportOrUpdateSubscription(ctx context.Context, rec *subscription.Record) (*subscription.Record, error) {
	if rec == nil || rec.UserID == "" || rec.Provider == "" || rec.SubscriptionID == "" {
		return nil, ErrInvalidInput
	}

	if existing, err := l.store.GetSubscriptionByProviderID(ctx, rec.Provider, rec.SubscriptionID); err == nil {
		if !subscription.CanTransition(existing.Status, rec.Status) {
			l.logger.Warn("unexpected subscription status transition",
				"provider", rec.Provider,
				"subscription_id", rec.SubscriptionID,
				"from", existing.Status,
				"to", rec.Status,
			)
		}
	} else if !IsNotFound(err) {
		return nil, err
	}

	if rec.ID == (id.SubscriptionID{}) {
		rec.ID = id.NewSubscriptionID()
	}
	if rec.CreatedAt.IsZero() {
		rec.Entity = types.NewEntity()
	}

	stored, err := l.store.UpsertSubscription(ctx, rec)
	if err != nil {
		return nil, err
	}

	l.plugins.EmitSubscriptionImported(ctx, stored)

	l.logger.Debug("subscription imported",
		"user_id", stored.UserID,
		"provider", stored.Provider,
		"subscription_id", stored.SubscriptionID,
		"status", stored.Status,
	)

	return stored, nil
}

// ──────────────────────────────────────────────────
// Downgrade / cancel
// ──────────────────────────────────────────────────

// DowngradeParams describes a plan change or cancellation request.
type DowngradeParams struct {
	Provider       string
	SubscriptionID string

	// TargetPlanSlug is the plan to move to. Empty means cancel outright.
	TargetPlanSlug string
	TargetInterval subscription.Interval

	// AtPeriodEnd defers the change to the end of the paid period. When
	// false the subscription is canceled immediately.
	AtPeriodEnd bool
}

// DowngradeOrCancel moves a subscription to a lower plan or cancels it.
//
// With AtPeriodEnd, a target plan is recorded as a scheduled change (applied
// later by ApplyScheduledChanges) and a plain cancel marks
// CancelAtPeriodEnd; nothing else moves and the provider is not called.
//
// Immediate requests cancel locally first, then best-effort at the provider.
// The outcome reports both halves: LocalSuccess true with ProviderSuccess
// false is a partial success needing provider-side followup, not a failure.
func (l *Ledger) DowngradeOrCancel(ctx context.Context, p DowngradeParams) (*CancelOutcome, error) {
	rec, err := l.store.GetSubscriptionByProviderID(ctx, p.Provider, p.SubscriptionID)
	if err != nil {
		return nil, err
	}

	outcome := &CancelOutcome{}

	if p.AtPeriodEnd {
		if p.TargetPlanSlug != "" {
			change := subscription.ScheduledChange{
				PlanSlug:    p.TargetPlanSlug,
				Interval:    p.TargetInterval,
				PeriodStart: rec.PeriodEnd,
				At:          time.Now(),
			}
			if err := l.store.ScheduleSubscriptionChange(ctx, p.Provider, p.SubscriptionID, change); err != nil {
				return nil, err
			}
		} else {
			rec.CancelAtPeriodEnd = true
			if _, err := l.store.UpsertSubscription(ctx, rec); err != nil {
				return nil, err
			}
		}
		outcome.LocalSuccess = true
		outcome.ProviderSuccess = true
		return outcome, nil
	}

	now := time.Now()
	if err := l.store.CancelSubscriptionNow(ctx, p.Provider, p.SubscriptionID, now); err != nil {
		return nil, err
	}
	outcome.LocalSuccess = true

	rec.Status = subscription.StatusCanceled
	rec.CanceledAt = &now
	l.plugins.EmitSubscriptionCanceled(ctx, rec)

	if failure := l.cancelAtProvider(ctx, rec); failure == nil {
		outcome.ProviderSuccess = true
	}

	return outcome, nil
}

// ──────────────────────────────────────────────────
// Scheduled changes
// ──────────────────────────────────────────────────

// ApplyScheduledChanges promotes every due scheduled plan change: the
// scheduled plan, interval, and period become current and the schedule is
// cleared. Intended to be called from a periodic job; returns how many
// records were updated.
func (l *Ledger) ApplyScheduledChanges(ctx context.Context, now time.Time) (int, error) {
	due, err := l.store.ListDueScheduledChanges(ctx, now)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, rec := range due {
		rec.PlanSlug = rec.ScheduledPlanSlug
		if rec.ScheduledInterval != "" {
			rec.Interval = rec.ScheduledInterval
		}
		if rec.ScheduledPeriodStart != nil {
			rec.PeriodStart = rec.ScheduledPeriodStart
		}
		if rec.ScheduledPeriodEnd != nil {
			rec.PeriodEnd = rec.ScheduledPeriodEnd
		}
		rec.ClearSchedule()

		stored, err := l.store.UpsertSubscription(ctx, rec)
		if err != nil {
			l.logger.Error("failed to apply scheduled change",
				"provider", rec.Provider,
				"subscription_id", rec.SubscriptionID,
				"error", err,
			)
			continue
		}

		applied++
		l.plugins.EmitScheduledChangeApplied(ctx, stored)
	}

	return applied, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// cancelAtProvider attempts the provider-side cancel for an already locally
// canceled record. Returns a failure to report, or nil on success.
func (l *Ledger) cancelAtProvider(ctx context.Context, rec *subscription.Record) *ProviderFailure {
	if l.provider == nil {
		l.logger.Warn("no provider client configured, skipping remote cancel",
			"provider", rec.Provider,
			"subscription_id", rec.SubscriptionID,
		)
		return &ProviderFailure{
			Provider:       rec.Provider,
			SubscriptionID: rec.SubscriptionID,
			Err:            ErrProviderNotConfigured,
		}
	}

	if err := l.provider.CancelSubscription(ctx, rec.SubscriptionID); err != nil {
		l.plugins.EmitProviderCancelFailed(ctx, rec.Provider, rec.SubscriptionID, err)
		l.logger.Error("provider-side cancel failed",
			"provider", rec.Provider,
			"subscription_id", rec.SubscriptionID,
			"error", err,
		)
		return &ProviderFailure{
			Provider:       rec.Provider,
			SubscriptionID: rec.SubscriptionID,
			Err:            err,
		}
	}

	return nil
}
