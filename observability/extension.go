// Package observability provides a metrics extension for CreditLedger that
// records lifecycle event counts via a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/creditledger/credit"
	"github.com/xraph/creditledger/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                     = (*MetricsExtension)(nil)
	_ plugin.OnInit                     = (*MetricsExtension)(nil)
	_ plugin.OnCreditsEarned            = (*MetricsExtension)(nil)
	_ plugin.OnCreditsSpent             = (*MetricsExtension)(nil)
	_ plugin.OnCreditsFrozen            = (*MetricsExtension)(nil)
	_ plugin.OnCreditsUnfrozen          = (*MetricsExtension)(nil)
	_ plugin.OnDuplicateReference       = (*MetricsExtension)(nil)
	_ plugin.OnInsufficientCredits      = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionImported     = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCanceled     = (*MetricsExtension)(nil)
	_ plugin.OnDuplicateActivesDetected = (*MetricsExtension)(nil)
	_ plugin.OnReconciled               = (*MetricsExtension)(nil)
	_ plugin.OnScheduledChangeApplied   = (*MetricsExtension)(nil)
	_ plugin.OnProviderCancelFailed     = (*MetricsExtension)(nil)
	_ plugin.OnPlanCreated              = (*MetricsExtension)(nil)
	_ plugin.OnPlanUpdated              = (*MetricsExtension)(nil)
	_ plugin.OnPlanArchived             = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a CreditLedger plugin to automatically track ledger metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Credit metrics
	CreditsEarned       Counter
	CreditsSpent        Counter
	CreditsFrozen       Counter
	CreditsUnfrozen     Counter
	EarnAmount          Histogram
	SpendAmount         Histogram
	DuplicateReferences Counter
	InsufficientCredits Counter

	// Subscription metrics
	SubscriptionImported Counter
	SubscriptionCanceled Counter
	DuplicateActives     Counter
	ReconcileRuns        Counter
	ScheduleApplied      Counter

	// Provider metrics
	ProviderCancelFailures Counter

	// Plan metrics
	PlanCreated  Counter
	PlanUpdated  Counter
	PlanArchived Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Credit metrics
		CreditsEarned:       factory.Counter("creditledger.credits.earned"),
		CreditsSpent:        factory.Counter("creditledger.credits.spent"),
		CreditsFrozen:       factory.Counter("creditledger.credits.frozen"),
		CreditsUnfrozen:     factory.Counter("creditledger.credits.unfrozen"),
		EarnAmount:          factory.Histogram("creditledger.credits.earn_amount"),
		SpendAmount:         factory.Histogram("creditledger.credits.spend_amount"),
		DuplicateReferences: factory.Counter("creditledger.credits.duplicate_references"),
		InsufficientCredits: factory.Counter("creditledger.credits.insufficient"),

		// Subscription metrics
		SubscriptionImported: factory.Counter("creditledger.subscription.imported"),
		SubscriptionCanceled: factory.Counter("creditledger.subscription.canceled"),
		DuplicateActives:     factory.Counter("creditledger.subscription.duplicate_actives"),
		ReconcileRuns:        factory.Counter("creditledger.subscription.reconcile.runs"),
		ScheduleApplied:      factory.Counter("creditledger.subscription.schedule.applied"),

		// Provider metrics
		ProviderCancelFailures: factory.Counter("creditledger.provider.cancel.failures"),

		// Plan metrics
		PlanCreated:  factory.Counter("creditledger.plan.created"),
		PlanUpdated:  factory.Counter("creditledger.plan.updated"),
		PlanArchived: factory.Counter("creditledger.plan.archived"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Credit lifecycle hooks
// ──────────────────────────────────────────────────

// OnCreditsEarned implements plugin.OnCreditsEarned.
func (m *MetricsExtension) OnCreditsEarned(_ context.Context, txn interface{}) error {
	m.CreditsEarned.Inc()
	if t, ok := txn.(*credit.Transaction); ok {
		m.EarnAmount.Observe(float64(t.Amount))
	}
	return nil
}

// OnCreditsSpent implements plugin.OnCreditsSpent.
func (m *MetricsExtension) OnCreditsSpent(_ context.Context, txn interface{}) error {
	m.CreditsSpent.Inc()
	if t, ok := txn.(*credit.Transaction); ok {
		m.SpendAmount.Observe(float64(t.Amount))
	}
	return nil
}

// OnCreditsFrozen implements plugin.OnCreditsFrozen.
func (m *MetricsExtension) OnCreditsFrozen(_ context.Context, _ string, _ int64) error {
	m.CreditsFrozen.Inc()
	return nil
}

// OnCreditsUnfrozen implements plugin.OnCreditsUnfrozen.
func (m *MetricsExtension) OnCreditsUnfrozen(_ context.Context, _ interface{}) error {
	m.CreditsUnfrozen.Inc()
	return nil
}

// OnDuplicateReference implements plugin.OnDuplicateReference.
func (m *MetricsExtension) OnDuplicateReference(_ context.Context, _ interface{}) error {
	m.DuplicateReferences.Inc()
	return nil
}

// OnInsufficientCredits implements plugin.OnInsufficientCredits.
func (m *MetricsExtension) OnInsufficientCredits(_ context.Context, _ string, _, _ int64) error {
	m.InsufficientCredits.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnSubscriptionImported implements plugin.OnSubscriptionImported.
func (m *MetricsExtension) OnSubscriptionImported(_ context.Context, _ interface{}) error {
	m.SubscriptionImported.Inc()
	return nil
}

// OnSubscriptionCanceled implements plugin.OnSubscriptionCanceled.
func (m *MetricsExtension) OnSubscriptionCanceled(_ context.Context, _ interface{}) error {
	m.SubscriptionCanceled.Inc()
	return nil
}

// OnDuplicateActivesDetected implements plugin.OnDuplicateActivesDetected.
func (m *MetricsExtension) OnDuplicateActivesDetected(_ context.Context, _ string, count int) error {
	m.DuplicateActives.Add(float64(count))
	return nil
}

// OnReconciled implements plugin.OnReconciled.
func (m *MetricsExtension) OnReconciled(_ context.Context, _ interface{}) error {
	m.ReconcileRuns.Inc()
	return nil
}

// OnScheduledChangeApplied implements plugin.OnScheduledChangeApplied.
func (m *MetricsExtension) OnScheduledChangeApplied(_ context.Context, _ interface{}) error {
	m.ScheduleApplied.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Provider lifecycle hooks
// ──────────────────────────────────────────────────

// OnProviderCancelFailed implements plugin.OnProviderCancelFailed.
func (m *MetricsExtension) OnProviderCancelFailed(_ context.Context, _, _ string, _ error) error {
	m.ProviderCancelFailures.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Plan lifecycle hooks
// ──────────────────────────────────────────────────

// OnPlanCreated implements plugin.OnPlanCreated.
func (m *MetricsExtension) OnPlanCreated(_ context.Context, _ interface{}) error {
	m.PlanCreated.Inc()
	return nil
}

// OnPlanUpdated implements plugin.OnPlanUpdated.
func (m *MetricsExtension) OnPlanUpdated(_ context.Context, _ interface{}) error {
	m.PlanUpdated.Inc()
	return nil
}

// OnPlanArchived implements plugin.OnPlanArchived.
func (m *MetricsExtension) OnPlanArchived(_ context.Context, _ string) error {
	m.PlanArchived.Inc()
	return nil
}
