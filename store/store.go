// Package store defines the unified storage interface for CreditLedger.
package store

import (
	"context"
	"time"

	"github.com/xraph/creditledger/credit"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/plan"
	"github.com/xraph/creditledger/subscription"
)

// Store is the unified storage interface for all CreditLedger entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
type Store interface {
	// Credit account methods
	GetAccount(ctx context.Context, userID string) (*credit.Account, error)
	GetOrCreateAccount(ctx context.Context, userID string) (*credit.Account, error)
	ApplyEarn(ctx context.Context, txn *credit.Transaction) (*credit.Account, error)
	ApplySpend(ctx context.Context, txn *credit.Transaction) (*credit.Account, error)
	ApplyUnfreeze(ctx context.Context, txn *credit.Transaction) (*credit.Account, error)
	FreezeCredits(ctx context.Context, userID string, amount int64) (*credit.Account, error)
	GetTransactionByReference(ctx context.Context, referenceID string) (*credit.Transaction, error)
	HasReferencePrefix(ctx context.Context, prefix string) (bool, error)
	ListTransactions(ctx context.Context, userID string, opts credit.ListOpts) ([]*credit.Transaction, error)

	// Subscription methods
	UpsertSubscription(ctx context.Context, rec *subscription.Record) (*subscription.Record, error)
	GetSubscriptionByProviderID(ctx context.Context, provider, subscriptionID string) (*subscription.Record, error)
	ListActiveSubscriptions(ctx context.Context, userID string) ([]*subscription.Record, error)
	ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Record, error)
	CancelAllSubscriptionsExcept(ctx context.Context, userID string, keepID string) (int64, error)
	CancelSubscriptionNow(ctx context.Context, provider, subscriptionID string, at time.Time) error
	ScheduleSubscriptionChange(ctx context.Context, provider, subscriptionID string, change subscription.ScheduledChange) error
	ListDueScheduledChanges(ctx context.Context, now time.Time) ([]*subscription.Record, error)

	// Plan methods
	CreatePlan(ctx context.Context, p *plan.Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error)
	GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error)
	ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error)
	UpdatePlan(ctx context.Context, p *plan.Plan) error
	ArchivePlan(ctx context.Context, planID id.PlanID) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
