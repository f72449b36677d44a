package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                     []OnInit
	onShutdown                 []OnShutdown
	onCreditsEarned            []OnCreditsEarned
	onCreditsSpent             []OnCreditsSpent
	onCreditsFrozen            []OnCreditsFrozen
	onCreditsUnfrozen          []OnCreditsUnfrozen
	onDuplicateReference       []OnDuplicateReference
	onInsufficientCredits      []OnInsufficientCredits
	onSubscriptionImported     []OnSubscriptionImported
	onSubscriptionCanceled     []OnSubscriptionCanceled
	onDuplicateActivesDetected []OnDuplicateActivesDetected
	onReconciled               []OnReconciled
	onScheduledChangeApplied   []OnScheduledChangeApplied
	onProviderCancelFailed     []OnProviderCancelFailed
	onPlanCreated              []OnPlanCreated
	onPlanUpdated              []OnPlanUpdated
	onPlanArchived             []OnPlanArchived
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnCreditsEarned); ok {
		r.onCreditsEarned = append(r.onCreditsEarned, v)
	}
	if v, ok := p.(OnCreditsSpent); ok {
		r.onCreditsSpent = append(r.onCreditsSpent, v)
	}
	if v, ok := p.(OnCreditsFrozen); ok {
		r.onCreditsFrozen = append(r.onCreditsFrozen, v)
	}
	if v, ok := p.(OnCreditsUnfrozen); ok {
		r.onCreditsUnfrozen = append(r.onCreditsUnfrozen, v)
	}
	if v, ok := p.(OnDuplicateReference); ok {
		r.onDuplicateReference = append(r.onDuplicateReference, v)
	}
	if v, ok := p.(OnInsufficientCredits); ok {
		r.onInsufficientCredits = append(r.onInsufficientCredits, v)
	}
	if v, ok := p.(OnSubscriptionImported); ok {
		r.onSubscriptionImported = append(r.onSubscriptionImported, v)
	}
	if v, ok := p.(OnSubscriptionCanceled); ok {
		r.onSubscriptionCanceled = append(r.onSubscriptionCanceled, v)
	}
	if v, ok := p.(OnDuplicateActivesDetected); ok {
		r.onDuplicateActivesDetected = append(r.onDuplicateActivesDetected, v)
	}
	if v, ok := p.(OnReconciled); ok {
		r.onReconciled = append(r.onReconciled, v)
	}
	if v, ok := p.(OnScheduledChangeApplied); ok {
		r.onScheduledChangeApplied = append(r.onScheduledChangeApplied, v)
	}
	if v, ok := p.(OnProviderCancelFailed); ok {
		r.onProviderCancelFailed = append(r.onProviderCancelFailed, v)
	}
	if v, ok := p.(OnPlanCreated); ok {
		r.onPlanCreated = append(r.onPlanCreated, v)
	}
	if v, ok := p.(OnPlanUpdated); ok {
		r.onPlanUpdated = append(r.onPlanUpdated, v)
	}
	if v, ok := p.(OnPlanArchived); ok {
		r.onPlanArchived = append(r.onPlanArchived, v)
	}

	return nil
}

// Get returns a plugin by name, or nil.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, ledger interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, ledger)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditsEarned emits a credits earned event.
func (r *Registry) EmitCreditsEarned(ctx context.Context, txn interface{}) {
	r.mu.RLock()
	plugins := r.onCreditsEarned
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditsEarned(ctx, txn)
		}); err != nil {
			r.logger.Warn("plugin OnCreditsEarned failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditsSpent emits a credits spent event.
func (r *Registry) EmitCreditsSpent(ctx context.Context, txn interface{}) {
	r.mu.RLock()
	plugins := r.onCreditsSpent
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditsSpent(ctx, txn)
		}); err != nil {
			r.logger.Warn("plugin OnCreditsSpent failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditsFrozen emits a credits frozen event.
func (r *Registry) EmitCreditsFrozen(ctx context.Context, userID string, amount int64) {
	r.mu.RLock()
	plugins := r.onCreditsFrozen
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditsFrozen(ctx, userID, amount)
		}); err != nil {
			r.logger.Warn("plugin OnCreditsFrozen failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCreditsUnfrozen emits a credits unfrozen event.
func (r *Registry) EmitCreditsUnfrozen(ctx context.Context, txn interface{}) {
	r.mu.RLock()
	plugins := r.onCreditsUnfrozen
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCreditsUnfrozen(ctx, txn)
		}); err != nil {
			r.logger.Warn("plugin OnCreditsUnfrozen failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitDuplicateReference emits an idempotent replay event.
func (r *Registry) EmitDuplicateReference(ctx context.Context, txn interface{}) {
	r.mu.RLock()
	plugins := r.onDuplicateReference
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnDuplicateReference(ctx, txn)
		}); err != nil {
			r.logger.Warn("plugin OnDuplicateReference failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInsufficientCredits emits a rejected spend event.
func (r *Registry) EmitInsufficientCredits(ctx context.Context, userID string, requested, spendable int64) {
	r.mu.RLock()
	plugins := r.onInsufficientCredits
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInsufficientCredits(ctx, userID, requested, spendable)
		}); err != nil {
			r.logger.Warn("plugin OnInsufficientCredits failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionImported emits a subscription imported event.
func (r *Registry) EmitSubscriptionImported(ctx context.Context, rec interface{}) {
	r.mu.RLock()
	plugins := r.onSubscriptionImported
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionImported(ctx, rec)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionImported failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionCanceled emits a subscription canceled event.
func (r *Registry) EmitSubscriptionCanceled(ctx context.Context, rec interface{}) {
	r.mu.RLock()
	plugins := r.onSubscriptionCanceled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionCanceled(ctx, rec)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionCanceled failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitDuplicateActivesDetected emits an invariant violation event.
func (r *Registry) EmitDuplicateActivesDetected(ctx context.Context, userID string, count int) {
	r.mu.RLock()
	plugins := r.onDuplicateActivesDetected
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnDuplicateActivesDetected(ctx, userID, count)
		}); err != nil {
			r.logger.Warn("plugin OnDuplicateActivesDetected failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReconciled emits a reconciliation completed event.
func (r *Registry) EmitReconciled(ctx context.Context, result interface{}) {
	r.mu.RLock()
	plugins := r.onReconciled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReconciled(ctx, result)
		}); err != nil {
			r.logger.Warn("plugin OnReconciled failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitScheduledChangeApplied emits a scheduled plan change event.
func (r *Registry) EmitScheduledChangeApplied(ctx context.Context, rec interface{}) {
	r.mu.RLock()
	plugins := r.onScheduledChangeApplied
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnScheduledChangeApplied(ctx, rec)
		}); err != nil {
			r.logger.Warn("plugin OnScheduledChangeApplied failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitProviderCancelFailed emits a provider-side cancel failure event.
func (r *Registry) EmitProviderCancelFailed(ctx context.Context, provider, subscriptionID string, failure error) {
	r.mu.RLock()
	plugins := r.onProviderCancelFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnProviderCancelFailed(ctx, provider, subscriptionID, failure)
		}); err != nil {
			r.logger.Warn("plugin OnProviderCancelFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPlanCreated emits a plan created event.
func (r *Registry) EmitPlanCreated(ctx context.Context, plan interface{}) {
	r.mu.RLock()
	plugins := r.onPlanCreated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPlanCreated(ctx, plan)
		}); err != nil {
			r.logger.Warn("plugin OnPlanCreated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPlanUpdated emits a plan updated event.
func (r *Registry) EmitPlanUpdated(ctx context.Context, plan interface{}) {
	r.mu.RLock()
	plugins := r.onPlanUpdated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPlanUpdated(ctx, plan)
		}); err != nil {
			r.logger.Warn("plugin OnPlanUpdated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPlanArchived emits a plan archived event.
func (r *Registry) EmitPlanArchived(ctx context.Context, planID string) {
	r.mu.RLock()
	plugins := r.onPlanArchived
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPlanArchived(ctx, planID)
		}); err != nil {
			r.logger.Warn("plugin OnPlanArchived failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
