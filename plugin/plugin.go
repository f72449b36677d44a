// Package plugin provides an extensible plugin system for CreditLedger.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import "context"

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Credit ledger hooks
// ──────────────────────────────────────────────────

// OnCreditsEarned is called after an earn transaction commits.
type OnCreditsEarned interface {
	Plugin
	OnCreditsEarned(ctx context.Context, txn interface{}) error
}

// OnCreditsSpent is called after a spend transaction commits.
type OnCreditsSpent interface {
	Plugin
	OnCreditsSpent(ctx context.Context, txn interface{}) error
}

// OnCreditsFrozen is called after credits are placed on hold.
type OnCreditsFrozen interface {
	Plugin
	OnCreditsFrozen(ctx context.Context, userID string, amount int64) error
}

// OnCreditsUnfrozen is called after held credits are released.
type OnCreditsUnfrozen interface {
	Plugin
	OnCreditsUnfrozen(ctx context.Context, txn interface{}) error
}

// OnDuplicateReference is called when an earn/spend resolves to an existing
// transaction via its idempotency key (a retried webhook, a re-run backfill).
type OnDuplicateReference interface {
	Plugin
	OnDuplicateReference(ctx context.Context, txn interface{}) error
}

// OnInsufficientCredits is called when a spend is rejected for lack of
// spendable balance.
type OnInsufficientCredits interface {
	Plugin
	OnInsufficientCredits(ctx context.Context, userID string, requested, spendable int64) error
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionImported is called after a subscription record upsert.
type OnSubscriptionImported interface {
	Plugin
	OnSubscriptionImported(ctx context.Context, rec interface{}) error
}

// OnSubscriptionCanceled is called when a subscription record is canceled
// locally (immediate cancel or reconciliation loser).
type OnSubscriptionCanceled interface {
	Plugin
	OnSubscriptionCanceled(ctx context.Context, rec interface{}) error
}

// OnDuplicateActivesDetected is called when reconciliation finds more than
// one active-counting record for a user.
type OnDuplicateActivesDetected interface {
	Plugin
	OnDuplicateActivesDetected(ctx context.Context, userID string, count int) error
}

// OnReconciled is called after a reconciliation pass completes.
type OnReconciled interface {
	Plugin
	OnReconciled(ctx context.Context, result interface{}) error
}

// OnScheduledChangeApplied is called when a pending plan change is promoted
// onto its record.
type OnScheduledChangeApplied interface {
	Plugin
	OnScheduledChangeApplied(ctx context.Context, rec interface{}) error
}

// OnProviderCancelFailed is called when a provider-side cancel fails after
// the local record already transitioned.
type OnProviderCancelFailed interface {
	Plugin
	OnProviderCancelFailed(ctx context.Context, provider, subscriptionID string, err error) error
}

// ──────────────────────────────────────────────────
// Plan lifecycle hooks
// ──────────────────────────────────────────────────

// OnPlanCreated is called when a new plan is created.
type OnPlanCreated interface {
	Plugin
	OnPlanCreated(ctx context.Context, plan interface{}) error
}

// OnPlanUpdated is called when a plan is updated.
type OnPlanUpdated interface {
	Plugin
	OnPlanUpdated(ctx context.Context, plan interface{}) error
}

// OnPlanArchived is called when a plan is archived.
type OnPlanArchived interface {
	Plugin
	OnPlanArchived(ctx context.Context, planID string) error
}
