package creditledger

import "context"

// ProviderClient cancels subscriptions at the billing provider. The engine
// only ever calls it after the local record is committed; a provider failure
// is reported to the caller but never rolls the local state back.
type ProviderClient interface {
	// CancelSubscription cancels the provider-side subscription identified
	// by its provider-assigned id.
	CancelSubscription(ctx context.Context, providerSubscriptionID string) error
}

// ProviderFailure records one provider-side cancellation that did not
// succeed during reconciliation. The local record is already canceled.
type ProviderFailure struct {
	Provider       string `json:"provider"`
	SubscriptionID string `json:"subscription_id"`
	Err            error  `json:"-"`
}

func (f ProviderFailure) Error() string {
	return "creditledger: provider cancel failed for " + f.Provider + "/" + f.SubscriptionID + ": " + f.Err.Error()
}

func (f ProviderFailure) Unwrap() error { return ErrProviderCancelFailed }
