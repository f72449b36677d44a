// Package sqlite implements the CreditLedger store on SQLite via the Grove
// ORM. Balance mutations are conditional single-statement updates with
// RETURNING; the unique reference_id index is the idempotency backstop, and
// a transaction insert lost to a race is compensated by reversing the
// account mutation. SQLite cannot express the mutation-row pair as one
// data-modifying CTE the way the postgres store does, so two residual
// windows remain here: a crash between the two statements leaves a balance
// mutation without its ledger row, and a winning row's balance_after
// snapshot can include a since-reversed loser mutation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/creditledger"
	"github.com/xraph/creditledger/credit"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/plan"
	ledgerstore "github.com/xraph/creditledger/store"
	"github.com/xraph/creditledger/subscription"
)

// compile-time interface check
var _ ledgerstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("creditledger/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("creditledger/sqlite: migration failed: %w", err)
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
	m := new(accountModel)
	err := s.sdb.NewSelect(m).
		Where("user_id = ?", userID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, creditledger.ErrAccountNotFound
		}
		return nil, err
	}
	return fromAccountModel(m)
}

func (s *Store) GetOrCreateAccount(ctx context.Context, userID string) (*credit.Account, error) {
	m := &accountModel{
		ID:        id.NewAccountID().String(),
		UserID:    userID,
		CreatedAt: now(),
		UpdatedAt: now(),
	}
	if _, err := s.sdb.NewInsert(m).
		OnConflict("(user_id) DO NOTHING").
		Exec(ctx); err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, userID)
}

func (s *Store) ApplyEarn(ctx context.Context, txn *credit.Transaction) (*credit.Account, error) {
	if err := s.checkDuplicate(ctx, txn.ReferenceID); err != nil {
		return nil, err
	}

	var newBalance int64
	err := s.sdb.NewRaw(`
		INSERT INTO creditledger_accounts (id, user_id, balance, frozen_balance, total_earned, total_spent, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, 0, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
		    balance      = balance + excluded.balance,
		    total_earned = total_earned + excluded.total_earned,
		    updated_at   = excluded.updated_at
		RETURNING balance
	`, id.NewAccountID().String(), txn.UserID, txn.Amount, txn.Amount, now(), now()).Scan(ctx, &newBalance)
	if err != nil {
		return nil, err
	}

	txn.BalanceAfter = newBalance
	if err := s.insertTransaction(ctx, txn, func(c context.Context) error {
		return s.adjustBalance(c, txn.UserID, -txn.Amount, -txn.Amount, 0)
	}); err != nil {
		return nil, err
	}

	return s.GetAccount(ctx, txn.UserID)
}

func (s *Store) ApplySpend(ctx context.Context, txn *credit.Transaction) (*credit.Account, error) {
	if err := s.checkDuplicate(ctx, txn.ReferenceID); err != nil {
		return nil, err
	}

	var newBalance int64
	err := s.sdb.NewRaw(`
		UPDATE creditledger_accounts SET
		    balance     = balance - ?,
		    total_spent = total_spent + ?,
		    updated_at  = ?
		WHERE user_id = ? AND balance - frozen_balance >= ?
		RETURNING balance
	`, txn.Amount, txn.Amount, now(), txn.UserID, txn.Amount).Scan(ctx, &newBalance)
	if err != nil {
		if isNoRows(err) {
			return nil, creditledger.ErrInsufficientCredits
		}
		return nil, err
	}

	txn.BalanceAfter = newBalance
	if err := s.insertTransaction(ctx, txn, func(c context.Context) error {
		return s.adjustBalance(c, txn.UserID, txn.Amount, 0, -txn.Amount)
	}); err != nil {
		return nil, err
	}

	return s.GetAccount(ctx, txn.UserID)
}

func (s *Store) ApplyUnfreeze(ctx context.Context, txn *credit.Transaction) (*credit.Account, error) {
	var newBalance int64
	err := s.sdb.NewRaw(`
		UPDATE creditledger_accounts SET
		    frozen_balance = frozen_balance - ?,
		    updated_at     = ?
		WHERE user_id = ? AND frozen_balance >= ?
		RETURNING balance
	`, txn.Amount, now(), txn.UserID, txn.Amount).Scan(ctx, &newBalance)
	if err != nil {
		if isNoRows(err) {
			return nil, s.missingOrInvalid(ctx, txn.UserID)
		}
		return nil, err
	}

	txn.BalanceAfter = newBalance
	if err := s.insertTransaction(ctx, txn, func(c context.Context) error {
		return s.adjustFrozen(c, txn.UserID, txn.Amount)
	}); err != nil {
		return nil, err
	}

	return s.GetAccount(ctx, txn.UserID)
}

func (s *Store) FreezeCredits(ctx context.Context, userID string, amount int64) (*credit.Account, error) {
	var newFrozen int64
	err := s.sdb.NewRaw(`
		UPDATE creditledger_accounts SET
		    frozen_balance = frozen_balance + ?,
		    updated_at     = ?
		WHERE user_id = ? AND frozen_balance + ? <= balance
		RETURNING frozen_balance
	`, amount, now(), userID, amount).Scan(ctx, &newFrozen)
	if err != nil {
		if isNoRows(err) {
			return nil, s.missingOrInvalid(ctx, userID)
		}
		return nil, err
	}

	return s.GetAccount(ctx, userID)
}

func (s *Store) GetTransactionByReference(ctx context.Context, referenceID string) (*credit.Transaction, error) {
	m := new(transactionModel)
	err := s.sdb.NewSelect(m).
		Where("reference_id = ?", referenceID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, creditledger.ErrTransactionNotFound
		}
		return nil, err
	}
	return fromTransactionModel(m)
}

func (s *Store) HasReferencePrefix(ctx context.Context, prefix string) (bool, error) {
	var count int64
	err := s.sdb.NewRaw(`
		SELECT COUNT(1) FROM creditledger_transactions
		WHERE reference_id LIKE ? ESCAPE '\'
	`, escapeLike(prefix)+"%").Scan(ctx, &count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, opts credit.ListOpts) ([]*credit.Transaction, error) {
	var models []transactionModel
	q := s.sdb.NewSelect(&models).Where("user_id = ?", userID)

	if opts.Type != "" {
		q = q.Where("type = ?", string(opts.Type))
	}
	if opts.Source != "" {
		q = q.Where("source = ?", opts.Source)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	m.UpdatedAt = now()
	_, err := s.sdb.NewInsert(m).
		OnConflict("(provider, subscription_id) DO UPDATE").
		Set("user_id = excluded.user_id").
		Set("customer_id = excluded.customer_id").
		Set("plan_slug = excluded.plan_slug").
		Set("product_id = excluded.product_id").
		Set("status = excluded.status").
		Set("billing_interval = excluded.billing_interval").
		Set("period_start = excluded.period_start").
		Set("period_end = excluded.period_end").
		Set("cancel_at_period_end = excluded.cancel_at_period_end").
		Set("canceled_at = excluded.canceled_at").
		Set("scheduled_plan_slug = excluded.scheduled_plan_slug").
		Set("scheduled_interval = excluded.scheduled_interval").
		Set("scheduled_period_start = excluded.scheduled_period_start").
		Set("scheduled_period_end = excluded.scheduled_period_end").
		Set("scheduled_at = excluded.scheduled_at").
		Set("metadata = excluded.metadata").
		Set("updated_at = excluded.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetSubscriptionByProviderID(ctx, rec.Provider, rec.SubscriptionID)
}

func (s *Store) GetSubscriptionByProviderID(ctx context.Context, provider, subscriptionID string) (*subscription.Record, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("provider = ?", provider).
		Where("subscription_id = ?", subscriptionID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, creditledger.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListActiveSubscriptions(ctx context.Context, userID string) ([]*subscription.Record, error) {
	var models []subscriptionModel
	err := s.sdb.NewSelect(&models).
		Where("user_id = ?", userID).
		Where("status IN (?, ?, ?)",
			string(subscription.StatusActive),
			string(subscription.StatusTrialing),
			string(subscription.StatusPastDue)).
		OrderExpr("period_end IS NULL, period_end DESC, created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
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
	q := s.sdb.NewSelect(&models).Where("user_id = ?", userID)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(subscription.StatusCanceled)).
		Set("cancel_at_period_end = ?", false).
		Set("canceled_at = ?", t).
		Set("updated_at = ?", t).
		Where("user_id = ?", userID).
		Where("status IN (?, ?, ?)",
			string(subscription.StatusActive),
			string(subscription.StatusTrialing),
			string(subscription.StatusPastDue)).
		Where("subscription_id <> ?", keepID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CancelSubscriptionNow(ctx context.Context, provider, subscriptionID string, at time.Time) error {
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("status = ?", string(subscription.StatusCanceled)).
		Set("cancel_at_period_end = ?", false).
		Set("canceled_at = ?", at).
		Set("updated_at = ?", now()).
		Where("provider = ?", provider).
		Where("subscription_id = ?", subscriptionID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return creditledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ScheduleSubscriptionChange(ctx context.Context, provider, subscriptionID string, change subscription.ScheduledChange) error {
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("scheduled_plan_slug = ?", change.PlanSlug).
		Set("scheduled_interval = ?", string(change.Interval)).
		Set("scheduled_period_start = ?", change.PeriodStart).
		Set("scheduled_period_end = ?", change.PeriodEnd).
		Set("scheduled_at = ?", change.At).
		Set("updated_at = ?", now()).
		Where("provider = ?", provider).
		Where("subscription_id = ?", subscriptionID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return creditledger.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListDueScheduledChanges(ctx context.Context, nowAt time.Time) ([]*subscription.Record, error) {
	var models []subscriptionModel
	err := s.sdb.NewSelect(&models).
		Where("scheduled_plan_slug <> ?", "").
		Where("(scheduled_period_start IS NULL OR scheduled_period_start <= ?)", nowAt).
		OrderExpr("scheduled_period_start ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	m := new(planModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", planID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, creditledger.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*plan.Plan, error) {
	m := new(planModel)
	err := s.sdb.NewSelect(m).
		Where("slug = ?", slug).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, creditledger.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel
	q := s.sdb.NewSelect(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return creditledger.ErrPlanNotFound
	}
	return nil
}

func (s *Store) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	res, err := s.sdb.NewUpdate((*planModel)(nil)).
		Set("status = ?", string(plan.StatusArchived)).
		Set("updated_at = ?", now()).
		Where("id = ?", planID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return creditledger.ErrPlanNotFound
	}
	return nil
}

// ==================== Helpers ====================

func (s *Store) checkDuplicate(ctx context.Context, referenceID string) error {
	var count int64
	err := s.sdb.NewRaw(`
		SELECT COUNT(1) FROM creditledger_transactions WHERE reference_id = ?
	`, referenceID).Scan(ctx, &count)
	if err != nil {
		return err
	}
	if count > 0 {
		return creditledger.ErrDuplicateReference
	}
	return nil
}

// insertTransaction writes the ledger row, compensating the account
// mutation when a concurrent writer already claimed the reference id.
// The winner's balance_after was read before the loser's reversal, so
// under a lost race that one audit snapshot can run ahead of the final
// balance.
func (s *Store) insertTransaction(ctx context.Context, txn *credit.Transaction, compensate func(context.Context) error) error {
	m := toTransactionModel(txn)
	res, err := s.sdb.NewInsert(m).
		OnConflict("(reference_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if cerr := compensate(ctx); cerr != nil {
			return fmt.Errorf("creditledger/sqlite: compensate lost insert race: %w", cerr)
		}
		return creditledger.ErrDuplicateReference
	}
	return nil
}

func (s *Store) adjustBalance(ctx context.Context, userID string, balanceDelta, earnedDelta, spentDelta int64) error {
	_, err := s.sdb.NewUpdate((*accountModel)(nil)).
		Set("balance = balance + ?", balanceDelta).
		Set("total_earned = total_earned + ?", earnedDelta).
		Set("total_spent = total_spent + ?", spentDelta).
		Set("updated_at = ?", now()).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

func (s *Store) adjustFrozen(ctx context.Context, userID string, delta int64) error {
	_, err := s.sdb.NewUpdate((*accountModel)(nil)).
		Set("frozen_balance = frozen_balance + ?", delta).
		Set("updated_at = ?", now()).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

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

// escapeLike escapes LIKE metacharacters in a literal prefix.
func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
