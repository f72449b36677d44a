package creditledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/creditledger/credit"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/subscription"
	"github.com/xraph/creditledger/types"
)

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

// GetOrCreateAccount returns the user's credit account, creating a
// zero-balance one on first touch. Safe under concurrent first calls.
func (l *Ledger) GetOrCreateAccount(ctx context.Context, userID string) (*credit.Account, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	return l.store.GetOrCreateAccount(ctx, userID)
}

// GetAccount returns the user's credit account, or ErrAccountNotFound.
func (l *Ledger) GetAccount(ctx context.Context, userID string) (*credit.Account, error) {
	return l.store.GetAccount(ctx, userID)
}

// HasEnoughCredits reports whether the user's spendable balance covers
// amount. Advisory only: the balance can change between this check and a
// Spend, so callers must still handle ErrInsufficientCredits.
func (l *Ledger) HasEnoughCredits(ctx context.Context, userID string, amount int64) (bool, error) {
	acct, err := l.store.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return false, nil
		}
		return false, err
	}
	return acct.Spendable() >= amount, nil
}

// ──────────────────────────────────────────────────
// Earn
// ──────────────────────────────────────────────────

// EarnParams describes a credit grant.
type EarnParams struct {
	UserID      string
	Amount      int64
	Source      string
	Description string

	// ReferenceID is the idempotency key. Required: replaying the same
	// ReferenceID returns the original transaction without a second grant.
	ReferenceID string

	Metadata map[string]string
}

// Earn credits the user's account. The account is created if it does not
// exist. A duplicate ReferenceID is not an error: the stored transaction is
// returned unchanged and the balance does not move.
func (l *Ledger) Earn(ctx context.Context, p EarnParams) (*credit.Transaction, error) {
	if p.UserID == "" {
		return nil, ErrInvalidInput
	}
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if p.ReferenceID == "" {
		return nil, ErrMissingReference
	}

	txn := &credit.Transaction{
		Entity:      types.NewEntity(),
		ID:          id.NewTransactionID(),
		UserID:      p.UserID,
		Type:        credit.TypeEarn,
		Amount:      p.Amount,
		Source:      p.Source,
		Description: p.Description,
		ReferenceID: p.ReferenceID,
		Metadata:    p.Metadata,
	}

	acct, err := l.store.ApplyEarn(ctx, txn)
	if err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			return l.resolveDuplicate(ctx, p.ReferenceID)
		}
		return nil, err
	}

	l.plugins.EmitCreditsEarned(ctx, txn)

	l.logger.Debug("credits earned",
		"user_id", p.UserID,
		"amount", p.Amount,
		"source", p.Source,
		"balance", acct.Balance,
	)

	return txn, nil
}

// ──────────────────────────────────────────────────
// Spend
// ──────────────────────────────────────────────────

// SpendParams describes a credit consumption.
type SpendParams struct {
	UserID      string
	Amount      int64
	Source      string
	Description string

	// ReferenceID is optional for spends. When empty, the transaction's own
	// ID is used, making the spend unique rather than idempotent.
	ReferenceID string

	Metadata map[string]string
}

// Spend debits the user's spendable balance (balance minus frozen). A spend
// for exactly the spendable balance succeeds; one credit more fails with
// ErrInsufficientCredits and writes nothing.
func (l *Ledger) Spend(ctx context.Context, p SpendParams) (*credit.Transaction, error) {
	if p.UserID == "" {
		return nil, ErrInvalidInput
	}
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	txn := &credit.Transaction{
		Entity:      types.NewEntity(),
		ID:          id.NewTransactionID(),
		UserID:      p.UserID,
		Type:        credit.TypeSpend,
		Amount:      p.Amount,
		Source:      p.Source,
		Description: p.Description,
		ReferenceID: p.ReferenceID,
		Metadata:    p.Metadata,
	}
	if txn.ReferenceID == "" {
		txn.ReferenceID = txn.ID.String()
	}

	acct, err := l.store.ApplySpend(ctx, txn)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicateReference):
			return l.resolveDuplicate(ctx, txn.ReferenceID)
		case errors.Is(err, ErrInsufficientCredits):
			l.emitInsufficient(ctx, p.UserID, p.Amount)
			return nil, err
		}
		return nil, err
	}

	l.plugins.EmitCreditsSpent(ctx, txn)

	l.logger.Debug("credits spent",
		"user_id", p.UserID,
		"amount", p.Amount,
		"source", p.Source,
		"balance", acct.Balance,
	)

	return txn, nil
}

// ──────────────────────────────────────────────────
// Freeze / Unfreeze
// ──────────────────────────────────────────────────

// Freeze places a hold on part of the user's balance, excluding it from
// spends until released. The hold cannot exceed the current balance. No
// ledger row is written; holds are state, not history.
func (l *Ledger) Freeze(ctx context.Context, userID string, amount int64) (*credit.Account, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	acct, err := l.store.FreezeCredits(ctx, userID, amount)
	if err != nil {
		return nil, err
	}

	l.plugins.EmitCreditsFrozen(ctx, userID, amount)

	l.logger.Debug("credits frozen",
		"user_id", userID,
		"amount", amount,
		"frozen", acct.FrozenBalance,
	)

	return acct, nil
}

// Unfreeze releases a hold. Amount 0 releases everything currently frozen.
// The release is recorded as an audit transaction; the balance itself does
// not change. Releasing from an empty hold returns no transaction.
func (l *Ledger) Unfreeze(ctx context.Context, userID string, amount int64) (*credit.Transaction, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}

	if amount == 0 {
		acct, err := l.store.GetAccount(ctx, userID)
		if err != nil {
			return nil, err
		}
		if acct.FrozenBalance == 0 {
			return nil, nil
		}
		amount = acct.FrozenBalance
	}

	txn := &credit.Transaction{
		Entity: types.NewEntity(),
		ID:     id.NewTransactionID(),
		UserID: userID,
		Type:   credit.TypeUnfreeze,
		Amount: amount,
		Source: credit.SourceAdmin,
	}
	txn.ReferenceID = txn.ID.String()

	acct, err := l.store.ApplyUnfreeze(ctx, txn)
	if err != nil {
		return nil, err
	}

	l.plugins.EmitCreditsUnfrozen(ctx, txn)

	l.logger.Debug("credits unfrozen",
		"user_id", userID,
		"amount", amount,
		"frozen", acct.FrozenBalance,
	)

	return txn, nil
}

// ──────────────────────────────────────────────────
// Admin adjustment
// ──────────────────────────────────────────────────

// AdminAdjustParams describes a manual balance correction.
type AdminAdjustParams struct {
	UserID      string
	Amount      int64 // signed: positive grants, negative deducts
	Description string
	ReferenceID string
	Metadata    map[string]string
}

// AdminAdjust applies a manual correction. Positive amounts are recorded as
// an admin_adjust grant; negative amounts go through the spend path with
// source "admin" and the usual spendable check.
func (l *Ledger) AdminAdjust(ctx context.Context, p AdminAdjustParams) (*credit.Transaction, error) {
	if p.UserID == "" {
		return nil, ErrInvalidInput
	}
	if p.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	if p.ReferenceID == "" {
		return nil, ErrMissingReference
	}

	if p.Amount < 0 {
		return l.Spend(ctx, SpendParams{
			UserID:      p.UserID,
			Amount:      -p.Amount,
			Source:      credit.SourceAdmin,
			Description: p.Description,
			ReferenceID: p.ReferenceID,
			Metadata:    p.Metadata,
		})
	}

	txn := &credit.Transaction{
		Entity:      types.NewEntity(),
		ID:          id.NewTransactionID(),
		UserID:      p.UserID,
		Type:        credit.TypeAdminAdjust,
		Amount:      p.Amount,
		Source:      credit.SourceAdmin,
		Description: p.Description,
		ReferenceID: p.ReferenceID,
		Metadata:    p.Metadata,
	}

	if _, err := l.store.ApplyEarn(ctx, txn); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			return l.resolveDuplicate(ctx, p.ReferenceID)
		}
		return nil, err
	}

	l.plugins.EmitCreditsEarned(ctx, txn)
	return txn, nil
}

// ──────────────────────────────────────────────────
// Subscription grants
// ──────────────────────────────────────────────────

// GrantParams describes a subscription-driven credit grant.
type GrantParams struct {
	UserID         string
	PlanSlug       string
	Interval       subscription.Interval
	Provider       string
	SubscriptionID string

	// IsRenewal marks a billing-cycle renewal. Initial grants and renewals
	// carry distinct reference ids so each cycle grants exactly once.
	IsRenewal bool
}

// GrantSubscriptionCredits resolves the plan's credit amount for the billing
// interval and earns it with source "subscription". A plan configured with
// zero credits for the interval is a no-op: no transaction, no error.
//
// The generated ReferenceID is
// "{provider}_{subscriptionID}_{initial|renewal}_{unix}". The timestamp
// makes each renewal unique; deduplicating the initial grant across retries
// that cross a second boundary is the caller's job, supported by
// HasInitialGrant.
func (l *Ledger) GrantSubscriptionCredits(ctx context.Context, p GrantParams) (*credit.Transaction, error) {
	if p.UserID == "" || p.PlanSlug == "" || p.Provider == "" || p.SubscriptionID == "" {
		return nil, ErrInvalidInput
	}

	pl, err := l.store.GetPlanBySlug(ctx, p.PlanSlug)
	if err != nil {
		return nil, err
	}

	credits := pl.CreditsFor(p.Interval)
	if credits == 0 {
		l.logger.Debug("plan grants no credits, skipping",
			"user_id", p.UserID,
			"plan", p.PlanSlug,
			"interval", p.Interval,
		)
		return nil, nil
	}

	kind := "initial"
	if p.IsRenewal {
		kind = "renewal"
	}
	ref := fmt.Sprintf("%s_%s_%s_%d", p.Provider, p.SubscriptionID, kind, time.Now().Unix())

	return l.Earn(ctx, EarnParams{
		UserID:      p.UserID,
		Amount:      credits,
		Source:      credit.SourceSubscription,
		Description: fmt.Sprintf("%s plan credits (%s)", pl.Name, kind),
		ReferenceID: ref,
		Metadata: map[string]string{
			"plan_slug":       p.PlanSlug,
			"interval":        string(p.Interval),
			"provider":        p.Provider,
			"subscription_id": p.SubscriptionID,
		},
	})
}

// HasInitialGrant reports whether the subscription has already received its
// initial credit grant, regardless of the grant's timestamp.
func (l *Ledger) HasInitialGrant(ctx context.Context, provider, subscriptionID string) (bool, error) {
	prefix := fmt.Sprintf("%s_%s_initial_", provider, subscriptionID)
	return l.store.HasReferencePrefix(ctx, prefix)
}

// ──────────────────────────────────────────────────
// History
// ──────────────────────────────────────────────────

// ListTransactions returns the user's transaction history, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, userID string, opts credit.ListOpts) ([]*credit.Transaction, error) {
	return l.store.ListTransactions(ctx, userID, opts)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// resolveDuplicate turns a store-level duplicate reference into the
// idempotent success the caller expects: the original transaction.
func (l *Ledger) resolveDuplicate(ctx context.Context, referenceID string) (*credit.Transaction, error) {
	existing, err := l.store.GetTransactionByReference(ctx, referenceID)
	if err != nil {
		return nil, err
	}

	l.plugins.EmitDuplicateReference(ctx, existing)

	l.logger.Debug("duplicate reference replayed",
		"reference_id", referenceID,
		"transaction_id", existing.ID,
	)

	return existing, nil
}

func (l *Ledger) emitInsufficient(ctx context.Context, userID string, requested int64) {
	spendable := int64(0)
	if acct, err := l.store.GetAccount(ctx, userID); err == nil {
		spendable = acct.Spendable()
	}
	l.plugins.EmitInsufficientCredits(ctx, userID, requested, spendable)
}
