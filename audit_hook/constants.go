package audithook

// Action constants for audit events.
const (
	// Credit actions
	ActionCreditsEarned       = "credits.earned"
	ActionCreditsSpent        = "credits.spent"
	ActionCreditsFrozen       = "credits.frozen"
	ActionCreditsUnfrozen     = "credits.unfrozen"
	ActionDuplicateReference  = "credits.duplicate_reference"
	ActionInsufficientCredits = "credits.insufficient"

	// Subscription actions
	ActionSubscriptionImported = "subscription.imported"
	ActionSubscriptionCanceled = "subscription.canceled"
	ActionDuplicateActives     = "subscription.duplicate_actives"
	ActionReconciled           = "subscription.reconciled"
	ActionScheduleApplied      = "subscription.schedule_applied"

	// Provider actions
	ActionProviderCancelFailed = "provider.cancel_failed"

	// Plan actions
	ActionPlanCreated  = "plan.created"
	ActionPlanUpdated  = "plan.updated"
	ActionPlanArchived = "plan.archived"
)

// Resource constants for audit events.
const (
	ResourceAccount      = "account"
	ResourceTransaction  = "transaction"
	ResourceSubscription = "subscription"
	ResourcePlan         = "plan"
	ResourceProvider     = "provider"
)

// Category constants for audit events.
const (
	CategoryCredits      = "credits"
	CategorySubscription = "subscription"
	CategoryBilling      = "billing"
	CategoryIntegration  = "integration"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
