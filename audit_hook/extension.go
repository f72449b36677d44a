// Package audithook bridges CreditLedger lifecycle events to an audit
// trail backend.
//
// It defines a local Recorder interface so the package does not import
// the audit system directly. Callers inject a RecorderFunc adapter that
// bridges to their backend at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/creditledger/credit"
	"github.com/xraph/creditledger/plugin"
	"github.com/xraph/creditledger/subscription"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                     = (*Extension)(nil)
	_ plugin.OnCreditsEarned            = (*Extension)(nil)
	_ plugin.OnCreditsSpent             = (*Extension)(nil)
	_ plugin.OnCreditsFrozen            = (*Extension)(nil)
	_ plugin.OnCreditsUnfrozen          = (*Extension)(nil)
	_ plugin.OnDuplicateReference       = (*Extension)(nil)
	_ plugin.OnInsufficientCredits      = (*Extension)(nil)
	_ plugin.OnSubscriptionImported     = (*Extension)(nil)
	_ plugin.OnSubscriptionCanceled     = (*Extension)(nil)
	_ plugin.OnDuplicateActivesDetected = (*Extension)(nil)
	_ plugin.OnReconciled               = (*Extension)(nil)
	_ plugin.OnScheduledChangeApplied   = (*Extension)(nil)
	_ plugin.OnProviderCancelFailed     = (*Extension)(nil)
	_ plugin.OnPlanCreated              = (*Extension)(nil)
	_ plugin.OnPlanUpdated              = (*Extension)(nil)
	_ plugin.OnPlanArchived             = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so that audithook does not depend on a concrete
// audit module; callers inject their own implementation at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges CreditLedger lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Credit lifecycle hooks
// ──────────────────────────────────────────────────

// OnCreditsEarned implements plugin.OnCreditsEarned.
func (e *Extension) OnCreditsEarned(ctx context.Context, txn interface{}) error {
	id, userID, kv := transactionFields(txn)
	return e.record(ctx, ActionCreditsEarned, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, id, userID, CategoryCredits, nil, kv...)
}

// OnCreditsSpent implements plugin.OnCreditsSpent.
func (e *Extension) OnCreditsSpent(ctx context.Context, txn interface{}) error {
	id, userID, kv := transactionFields(txn)
	return e.record(ctx, ActionCreditsSpent, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, id, userID, CategoryCredits, nil, kv...)
}

// OnCreditsFrozen implements plugin.OnCreditsFrozen.
func (e *Extension) OnCreditsFrozen(ctx context.Context, userID string, amount int64) error {
	return e.record(ctx, ActionCreditsFrozen, SeverityInfo, OutcomeSuccess,
		ResourceAccount, "", userID, CategoryCredits, nil,
		"amount", amount,
	)
}

// OnCreditsUnfrozen implements plugin.OnCreditsUnfrozen.
func (e *Extension) OnCreditsUnfrozen(ctx context.Context, txn interface{}) error {
	id, userID, kv := transactionFields(txn)
	return e.record(ctx, ActionCreditsUnfrozen, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, id, userID, CategoryCredits, nil, kv...)
}

// OnDuplicateReference implements plugin.OnDuplicateReference.
func (e *Extension) OnDuplicateReference(ctx context.Context, txn interface{}) error {
	id, userID, kv := transactionFields(txn)
	return e.record(ctx, ActionDuplicateReference, SeverityWarning, OutcomeSuccess,
		ResourceTransaction, id, userID, CategoryCredits, nil, kv...)
}

// OnInsufficientCredits implements plugin.OnInsufficientCredits.
func (e *Extension) OnInsufficientCredits(ctx context.Context, userID string, requested, spendable int64) error {
	return e.record(ctx, ActionInsufficientCredits, SeverityWarning, OutcomeFailure,
		ResourceAccount, "", userID, CategoryCredits, nil,
		"requested", requested,
		"spendable", spendable,
	)
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionImported implements plugin.OnSubscriptionImported.
func (e *Extension) OnSubscriptionImported(ctx context.Context, rec interface{}) error {
	id, userID, kv := subscriptionFields(rec)
	return e.record(ctx, ActionSubscriptionImported, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, id, userID, CategorySubscription, nil, kv...)
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (e *Extension) OnSubscriptionCanceled(ctx context.Context, rec interface{}) error {
	id, userID, kv := subscriptionFields(rec)
	return e.record(ctx, ActionSubscriptionCanceled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, id, userID, CategorySubscription, nil, kv...)
}

// OnDuplicateActivesDetected implements plugin.OnDuplicateActivesDetected.
func (e *Extension) OnDuplicateActivesDetected(ctx context.Context, userID string, count int) error {
	return e.record(ctx, ActionDuplicateActives, SeverityWarning, OutcomeFailure,
		ResourceSubscription, "", userID, CategorySubscription, nil,
		"active_count", count,
	)
}

// OnReconciled implements plugin.OnReconciled.
func (e *Extension) OnReconciled(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionReconciled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, "", "", CategorySubscription, nil)
}

// OnScheduledChangeApplied implements plugin.OnScheduledChangeApplied.
func (e *Extension) OnScheduledChangeApplied(ctx context.Context, rec interface{}) error {
	id, userID, kv := subscriptionFields(rec)
	return e.record(ctx, ActionScheduleApplied, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, id, userID, CategorySubscription, nil, kv...)
}

// ──────────────────────────────────────────────────
// Provider lifecycle hooks
// ──────────────────────────────────────────────────

// OnProviderCancelFailed implements plugin.OnProviderCancelFailed.
func (e *Extension) OnProviderCancelFailed(ctx context.Context, provider, subscriptionID string, err error) error {
	return e.record(ctx, ActionProviderCancelFailed, SeverityError, OutcomeFailure,
		ResourceProvider, subscriptionID, "", CategoryIntegration, err,
		"provider", provider,
		"subscription_id", subscriptionID,
	)
}

// ──────────────────────────────────────────────────
// Plan lifecycle hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (e *Extension) OnPlanCreated(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionPlanCreated, SeverityInfo, OutcomeSuccess,
		ResourcePlan, "", "", CategoryBilling, nil)
}

// OnPlanUpdated implements plugin.OnPlanUpdated.
func (e *Extension) OnPlanUpdated(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionPlanUpdated, SeverityInfo, OutcomeSuccess,
		ResourcePlan, "", "", CategoryBilling, nil)
}

// OnPlanArchived implements plugin.OnPlanArchived.
func (e *Extension) OnPlanArchived(ctx context.Context, planID string) error {
	return e.record(ctx, ActionPlanArchived, SeverityInfo, OutcomeSuccess,
		ResourcePlan, planID, "", CategoryBilling, nil,
		"plan_id", planID,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// transactionFields extracts identity and metadata from the opaque hook
// payload when it is a *credit.Transaction.
func transactionFields(v interface{}) (resourceID, userID string, kv []any) {
	txn, ok := v.(*credit.Transaction)
	if !ok {
		return "", "", nil
	}
	return txn.ID.String(), txn.UserID, []any{
		"type", string(txn.Type),
		"amount", txn.Amount,
		"balance_after", txn.BalanceAfter,
		"source", txn.Source,
		"reference_id", txn.ReferenceID,
	}
}

// subscriptionFields extracts identity and metadata from the opaque hook
// payload when it is a *subscription.Record.
func subscriptionFields(v interface{}) (resourceID, userID string, kv []any) {
	rec, ok := v.(*subscription.Record)
	if !ok {
		return "", "", nil
	}
	return rec.SubscriptionID, rec.UserID, []any{
		"provider", rec.Provider,
		"plan_slug", rec.PlanSlug,
		"status", string(rec.Status),
	}
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, userID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		UserID:     userID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
