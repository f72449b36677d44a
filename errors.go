package creditledger

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("creditledger: not found")
	ErrAlreadyExists = errors.New("creditledger: already exists")
	ErrInvalidInput  = errors.New("creditledger: invalid input")

	// Credit ledger errors
	ErrInvalidAmount       = errors.New("creditledger: invalid amount")
	ErrInsufficientCredits = errors.New("creditledger: insufficient credits")
	ErrAccountNotFound     = errors.New("creditledger: credit account not found")
	ErrMissingReference    = errors.New("creditledger: missing reference id")
	ErrDuplicateReference  = errors.New("creditledger: duplicate reference id")
	ErrTransactionNotFound = errors.New("creditledger: transaction not found")

	// Plan errors
	ErrPlanNotFound = errors.New("creditledger: plan not found")
	ErrPlanArchived = errors.New("creditledger: plan is archived")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("creditledger: subscription not found")
	ErrNoActiveSubscription = errors.New("creditledger: no active subscription")

	// Provider errors
	ErrProviderNotConfigured = errors.New("creditledger: provider client not configured")
	ErrProviderCancelFailed  = errors.New("creditledger: provider-side cancellation failed")

	// Store errors
	ErrStoreNotReady     = errors.New("creditledger: store not ready")
	ErrStoreClosed       = errors.New("creditledger: store is closed")
	ErrTransactionFailed = errors.New("creditledger: transaction failed")
	ErrMigrationFailed   = errors.New("creditledger: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("creditledger: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrNoActiveSubscription)
}

// IsCallerError returns true for precondition failures the caller caused.
// These are not retryable: resubmitting the same request fails the same way.
func IsCallerError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrMissingReference) ||
		errors.Is(err, ErrInvalidInput)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed) ||
		errors.Is(err, ErrProviderCancelFailed)
}
