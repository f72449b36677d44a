// Package mongo provides the MongoDB store backend via Grove ORM.
//
// MongoDB has no multi-document transactions outside replica sets, so the
// balance invariants are enforced with a compensation scheme: every account
// mutation is a single conditional FindOneAndUpdate, and a duplicate-key
// error on the ledger insert triggers a compensating update that reverses
// the mutation before the duplicate is reported. Two windows follow from
// the two-document write: a crash between mutation and insert leaves a
// balance change without its ledger row, and under a lost duplicate race
// the winning row's balance_after snapshot can include the since-reversed
// loser mutation. The postgres store closes both with a single-statement
// CTE; this backend cannot.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/creditledger"
	"github.com/xraph/creditledger/credit"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/plan"
	ledgerstore "github.com/xraph/creditledger/store"
	"github.com/xraph/creditledger/subscription"
)

// Collection name constants.
const (
	colAccounts      = "creditledger_accounts"
	colTransactions  = "creditledger_transactions"
	colSubscriptions = "creditledger_subscriptions"
	colPlans         = "creditledger_plans"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("creditledger/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Credit Store ====================

func (s *Store) GetAccount(ctx context.Context, userID string) (*credit.Account, error) {
	var m accountModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"user_id": userID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, creditledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("creditledger/mongo: get account: %w", err)
	}
	return fromAccountModel(&m)
}

func (s *Store) GetOrCreateAccount(ctx context.Context, userID string) (*credit.Account, error) {
	t := now()
	res := s.mdb.Collection(colAccounts).FindOneAndUpdate(ctx,
		bson.M{"user_id": userID},
		bson.M{"$setOnInsert": bson.M{
			"_id":            id.NewAccountID().String(),
			"user_id":        userID,
			"balance":        int64(0),
			"frozen_balance": int64(0),
			"total_earned":   int64(0),
			"total_spent":    int64(0),
			"created_at":     t,
			"updated_at":     t,
		}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)

	var m accountModel
	if err := res.Decode(&m); err != nil {
		return nil, fmt.Errorf("creditledger/mongo: get or create account: %w", err)
	}
	return fromAccountModel(&m)
}

func (s *Store) ApplyEarn(ctx context.Context, txn *credit.Transaction) (*credit.Account, error) {
	if err := s.checkDuplicate(ctx, txn.ReferenceID); err != nil {
		return nil, err
	}

	// Upsert-increment in one round trip so concurrent earns serialize.
	res := s.mdb.Collection(colAccounts).FindOneAndUpdate(ctx,
		bson.M{"user_id": txn.UserID},
		bson.M{
			"$inc": bson.M{"balance": txn.Amount, "total_earned": txn.Amount},
			"$set": bson.M{"updated_at": now()},
			"$setOnInsert": bson.M{
				"_id":            id.NewAccountID().String(),
				"user_id":        txn.UserID,
				"frozen_balance": int64(0),
				"total_spent":    int64(0),
				"created_at":     now(),
			},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)

	var m accountModel
	if err := res.Decode(&m); err != nil {
		return nil, fmt.Errorf("creditledger/mongo: apply earn: %w", err)
	}

	txn.BalanceAfter = m.Balance
	if err := s.insertTransaction(ctx, txn, func(c context.Context) error {
		return s.adjustBalance(c, txn.UserID, -txn.Amount, -txn.Amount, 0)
	}); err != nil {
		return nil, err
	}

	return fromAccountModel(&m)
}

func (s *Store) ApplySpend(ctx context.Context, txn *credit.Transaction) (*credit.Account, error) {
	if err := s.checkDuplicate(ctx, txn.ReferenceID); err != nil {
		return nil, err
	}

	// The $expr filter admits only accounts whose spendable portion covers
	// the amount, making check-and-decrement one atomic step.
	res := s.mdb.Collection(colAccounts).FindOneAndUpdate(ctx,
		bson.M{
			"user_id": txn.UserID,
			"$expr": bson.M{"$gte": bson.A{
				bson.M{"$subtract": bson.A{"$balance", "$frozen_balance"}},
				txn.Amount,
			}},
		},
		bson.M{
			"$inc": bson.M{"balance": -txn.Amount, "total_spent": txn.Amount},
			"$set": bson.M{"updated_at": now()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	var m accountModel
	if err := res.Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, creditledger.ErrInsufficientCredits
		}
		return nil, fmt.Errorf("creditledger/mongo: apply spend: %w", err)
	}

	txn.BalanceAfter = m.Balance
	if err := s.insertTransaction(ctx, txn, func(c context.Context) error {
		return s.adjustBalance(c, txn.UserID, txn.Amount, 0, -txn.Amount)
	}); err != nil {
		return nil, err
	}

	return fromAccountModel(&m)
}

func (s *Store) ApplyUnfreeze(ctx context.Context, txn *credit.Transaction) (*credit.Account, error) {
	if err := s.checkDuplicate(ctx, txn.ReferenceID); err != nil {
		return nil, err
	}

	res := s.mdb.Collection(colAccounts).FindOneAndUpdate(ctx,
		bson.M{
			"user_id":        txn.UserID,
			"frozen_balance": bson.M{"$gte": txn.Amount},
		},
		bson.M{
			"$inc": bson.M{"frozen_balance": -txn.Amount},
			"$set": bson.M{"updated_at": now()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	var m accountModel
	if err := res.Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, s.missingOrInvalid(ctx, txn.UserID)
		}
		return nil, fmt.Errorf("creditledger/mongo: apply unfreeze: %w", err)
	}

	txn.BalanceAfter = m.Balance
	if err := s.insertTransaction(ctx, txn, func(c context.Context) error {
		return s.adjustFrozen(c, txn.UserID, txn.Amount)
	}); err != nil {
		return nil, err
	}

	return fromAccountModel(&m)
}

func (s *Store) FreezeCredits(ctx context.Context, userID string, amount int64) (*credit.Account, error) {
	res := s.mdb.Collection(colAccounts).FindOneAndUpdate(ctx,
		bson.M{
			"user_id": userID,
			"$expr": bson.M{"$gte": bson.A{
				bson.M{"$subtract": bson.A{"$balance", "$frozen_balance"}},
				amount,
			}},
		},
		bson.M{
			"$inc": bson.M{"frozen_balance": amount},
			"$set": bson.M{"updated_at": now()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)

	var m accountModel
	if err := res.Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, s.missingOrInvalid(ctx, userID)
		}
		return nil, fmt.Errorf("creditledger/mongo: freeze credits: %w", err)
	}
	return fromAccountModel(&m)
}

func (s *Store) GetTransactionByReference(ctx context.Context, referenceID string) (*credit.Transaction, error) {
	var m transactionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"reference_id": referenceID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, creditledger.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("creditledger/mongo: get transaction by reference: %w", err)
	}
	return fromTransactionModel(&m)
}

func (s *Store) HasReferencePrefix(ctx context.Context, prefix string) (bool, error) {
	count, err := s.mdb.Collection(colTransactions).CountDocuments(ctx,
		bson.M{"reference_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}},
	)
	if err != nil {
		return false, fmt.Errorf("creditledger/mongo: has reference prefix: %w", err)
	}
	return count > 0, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, opts credit.ListOpts) ([]*credit.Transaction, error) {
	var models []transactionModel

	filter := bson.M{"user_id": userID}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	if opts.Source != "" {
		filter["source"] = opts.Source
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("creditledger/mongo: list transactions: %w", err)
	}

	result := make([]*credit.Transaction, len(models))
	for i := range models {
		txn, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = txn
	}
	return result, nil
}

// ==================== Subscription Store ====================

func (s *Store) UpsertSubscription(ctx context.Context, rec *subscription.Record) (*subscription.Record, error) {
	m := toSubscriptionModel(rec)
	t := now()

	res := s.mdb.Collection(colSubscriptions).FindOneAndUpdate(ctx,
		bson.M{"provider": m.Provider, "subscription_id": m.SubscriptionID},
		bson.M{
			"$set": bson.M{
				"user_id":                m.UserID,
				"customer_id":            m.CustomerID,
				"plan_slug":              m.PlanSlug,
				"product_id":             m.ProductID,
				"status":                 m.Status,
				"billing_interval":       m.Interval,
				"period_start":           m.PeriodStart,
				"period_end":             m.PeriodEnd,
				"cancel_at_period_end":   m.CancelAtPeriodEnd,
				"canceled_at":            m.CanceledAt,
				"scheduled_plan_slug":    m.ScheduledPlanSlug,
				"scheduled_interval":     m.ScheduledInterval,
				"scheduled_period_start": m.ScheduledPeriodStart,
				"scheduled_period_end":   m.ScheduledPeriodEnd,
				"scheduled_at":           m.ScheduledAt,
				"metadata":               m.Metadata,
				"updated_at":             t,
			},
			"$setOnInsert": bson.M{
				"_id":        m.ID,
				"created_at": t,
			},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)

	var stored subscriptionModel
	if err := res.Decode(&stored); err != nil {
		return nil, fmt.Errorf("creditledger/mongo: upsert subscription: %w", err)
	}
	return fromSubscriptionModel(&stored)
}

func (s *Store) GetSubscriptionByProviderID(ctx context.Context, provider, subscriptionID string) (*subscription.Record, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"provider": provider, "subscription_id": subscriptionID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, creditledger.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("creditledger/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListActiveSubscriptions(ctx context.Context, userID string) ([]*subscription.Record, error) {
	var models []subscriptionModel

	// BSON comparison order ranks null below any date, so a descending sort
	// on period_end already places open-ended records last.
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"user_id": userID, "status": bson.M{"$in": activeStatusStrings()}}).
		Sort(bson.D{{Key: "period_end", Value: -1}, {Key: "created_at", Value: -1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("creditledger/mongo: list active subscriptions: %w", err)
	}

	result := make([]*subscription.Record, len(models))
	for i := range models {
		rec, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Record, error) {
	var models []subscriptionModel

	filter := bson.M{"user_id": userID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("creditledger/mongo: list subscriptions: %w", err)
	}

	result := make([]*subscription.Record, len(models))
	for i := range models {
		rec, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

func (s *Store) CancelAllSubscriptionsExcept(ctx context.Context, userID string, keepID string) (int64, error) {
	t := now()
	res, err := s.mdb.Collection(colSubscriptions).UpdateMany(ctx,
		bson.M{
			"user_id":         userID,
			"status":          bson.M{"$in": activeStatusStrings()},
			"subscription_id": bson.M{"$ne": keepID},
		},
		bson.M{"$set": bson.M{
			"status":               string(subscription.StatusCanceled),
			"cancel_at_period_end": false,
			"canceled_at":          t,
			"updated_at":           t,
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("creditledger/mongo: cancel subscriptions: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *Store) CancelSubscriptionNow(ctx context.Context, provider, subscriptionID string, at time.Time) error {
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"provider": provider, "subscription_id": subscriptionID}).
		Set("status", string(subscription.StatusCanceled)).
		Set("cancel_at_period_end", false).
		Set("canceled_at", at).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/mongo: cancel subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		return creditledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ScheduleSubscriptionChange(ctx context.Context, provider, subscriptionID string, change subscription.ScheduledChange) error {
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"provider": provider, "subscription_id": subscriptionID}).
		Set("scheduled_plan_slug", change.PlanSlug).
		Set("scheduled_interval", string(change.Interval)).
		Set("scheduled_period_start", change.PeriodStart).
		Set("scheduled_period_end", change.PeriodEnd).
		Set("scheduled_at", change.At).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/mongo: schedule change: %w", err)
	}
	if res.MatchedCount() == 0 {
		return creditledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListDueScheduledChanges(ctx context.Context, nowAt time.Time) ([]*subscription.Record, error) {
	var models []subscriptionModel

	err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"scheduled_plan_slug": bson.M{"$ne": ""},
			"$or": bson.A{
				bson.M{"scheduled_period_start": nil},
				bson.M{"scheduled_period_start": bson.M{"$lte": nowAt}},
			},
		}).
		Sort(bson.D{{Key: "scheduled_period_start", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("creditledger/mongo: list due scheduled changes: %w", err)
	}

	result := make([]*subscription.Record, len(models))
	for i := range models {
		rec, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	m := toPlanModel(p)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return creditledger.ErrAlreadyExists
		}
		return fmt.Errorf("creditledger/mongo: create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": planID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, creditledger.ErrPlanNotFound
		}
		return nil, fmt.Errorf("creditledger/mongo: get plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"slug": slug}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, creditledger.ErrPlanNotFound
		}
		return nil, fmt.Errorf("creditledger/mongo: get plan by slug: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel

	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("creditledger/mongo: list plans: %w", err)
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	m := toPlanModel(p)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/mongo: update plan: %w", err)
	}
	if res.MatchedCount() == 0 {
		return creditledger.ErrPlanNotFound
	}
	return nil
}

func (s *Store) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	res, err := s.mdb.NewUpdate((*planModel)(nil)).
		Filter(bson.M{"_id": planID.String()}).
		Set("status", string(plan.StatusArchived)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("creditledger/mongo: archive plan: %w", err)
	}
	if res.MatchedCount() == 0 {
		return creditledger.ErrPlanNotFound
	}
	return nil
}

// ==================== Helpers ====================

// checkDuplicate pre-screens the reference id so the common replay path
// never touches the account document.
func (s *Store) checkDuplicate(ctx context.Context, referenceID string) error {
	count, err := s.mdb.Collection(colTransactions).CountDocuments(ctx,
		bson.M{"reference_id": referenceID},
	)
	if err != nil {
		return fmt.Errorf("creditledger/mongo: check duplicate: %w", err)
	}
	if count > 0 {
		return creditledger.ErrDuplicateReference
	}
	return nil
}

// insertTransaction writes the ledger document. A duplicate-key error on
// the reference_id index means a concurrent writer won between our
// pre-check and this insert: the supplied compensation undoes the account
// mutation before the duplicate is reported. The winner's balance_after
// was read before the loser's reversal, so under a lost race that one
// audit snapshot can run ahead of the final balance.
func (s *Store) insertTransaction(ctx context.Context, txn *credit.Transaction, compensate func(context.Context) error) error {
	m := toTransactionModel(txn)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if cerr := compensate(ctx); cerr != nil {
				return fmt.Errorf("creditledger/mongo: compensate lost insert race: %w", cerr)
			}
			return creditledger.ErrDuplicateReference
		}
		return fmt.Errorf("creditledger/mongo: insert transaction: %w", err)
	}
	return nil
}

// adjustBalance reverses an earlier account mutation. Deltas are applied
// as-is: pass the negation of the original change.
func (s *Store) adjustBalance(ctx context.Context, userID string, balanceDelta, earnedDelta, spentDelta int64) error {
	_, err := s.mdb.Collection(colAccounts).UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{
			"$inc": bson.M{
				"balance":      balanceDelta,
				"total_earned": earnedDelta,
				"total_spent":  spentDelta,
			},
			"$set": bson.M{"updated_at": now()},
		},
	)
	return err
}

func (s *Store) adjustFrozen(ctx context.Context, userID string, delta int64) error {
	_, err := s.mdb.Collection(colAccounts).UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{
			"$inc": bson.M{"frozen_balance": delta},
			"$set": bson.M{"updated_at": now()},
		},
	)
	return err
}

// missingOrInvalid distinguishes a conditional update that matched no
// documents: no account at all vs. an amount the account cannot cover.
func (s *Store) missingOrInvalid(ctx context.Context, userID string) error {
	if _, err := s.GetAccount(ctx, userID); err != nil {
		return err
	}
	return creditledger.ErrInvalidAmount
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// activeStatusStrings returns subscription.ActiveStatuses as plain strings
// for $in filters.
func activeStatusStrings() []string {
	out := make([]string, len(subscription.ActiveStatuses))
	for i, st := range subscription.ActiveStatuses {
		out[i] = string(st)
	}
	return out
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colAccounts: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colTransactions: {
			{
				Keys:    bson.D{{Key: "reference_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colSubscriptions: {
			{
				Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "subscription_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}}},
			// One active-counting record per user. Imports that would
			// create a second active fail with a duplicate-key error and
			// must go through reconciliation first.
			{
				Keys: bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(
					bson.M{"status": bson.M{"$in": activeStatusStrings()}},
				),
			},
			{Keys: bson.D{{Key: "scheduled_period_start", Value: 1}}},
		},
		colPlans: {
			{
				Keys:    bson.D{{Key: "slug", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
	}
}
