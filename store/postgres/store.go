// Package postgres implements the CreditLedger store on PostgreSQL via the
// Grove ORM. Each balance mutation and its ledger row are written by one
// data-modifying CTE: the account row is locked first, the ledger insert is
// arbitrated by the unique reference_id index, and the account mutation is
// gated on that insert. A duplicate reference therefore touches nothing, and
// the mutation-row pairing cannot be separated by a crash.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("creditledger/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("creditledger/postgres: migration failed: %w", err)
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
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID).
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
	if _, err := s.pg.NewInsert(m).
		OnConflict("(user_id) DO NOTHING").
		Exec(ctx); err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, userID)
}

func (s *Store) ApplyEarn(ctx context.Context, txn *credit.Transaction) (*credit.Account, error) {
	meta, err := metadataJSON(txn.Metadata)
	if err != nil {
		return nil, err
	}

	// Ledger insert and balance upsert in one statement. The account row is
	// locked while the ledger row's balance snapshot is computed, and the
	// upsert only runs when the insert won the reference_id index: a
	// duplicate leaves the account untouched and returns no rows.
	var newBalance int64
	err = s.pg.NewRaw(`
		WITH acct AS (
		    SELECT balance FROM creditledger_accounts
		    WHERE user_id = $2 FOR UPDATE
		), ins AS (
		    INSERT INTO creditledger_transactions
		        (id, user_id, type, amount, balance_after, source, description, reference_id, metadata, created_at, updated_at)
		    SELECT $1, $2, $3, $4, COALESCE((SELECT balance FROM acct), 0) + $4, $5, $6, $7, $8::jsonb, $9, $9
		    ON CONFLICT (reference_id) DO NOTHING
		    RETURNING user_id
		)
		INSERT INTO creditledger_accounts (id, user_id, balance, frozen_balance, total_earned, total_spent, created_at, updated_at)
		SELECT $11, ins.user_id, $4, 0, $4, 0, $10, $10 FROM ins
		ON CONFLICT (user_id) DO UPDATE SET
		    balance      = creditledger_accounts.balance + $4,
		    total_earned = creditledger_accounts.total_earned + $4,
		    updated_at   = $10
		RETURNING balance
	`, txn.ID.String(), txn.UserID, string(txn.Type), txn.Amount,
		txn.Source, txn.Description, txn.ReferenceID, meta, txn.CreatedAt,
		now(), id.NewAccountID().String()).Scan(ctx, &newBalance)
	if err != nil {
		// No row means the insert lost to the reference_id index. Nothing
		// was written by this statement.
		if isNoRows(err) {
			return nil, creditledger.ErrDuplicateReference
		}
		return nil, err
	}

	txn.BalanceAfter = newBalance
	return s.GetAccount(ctx, txn.UserID)
}

func (s *Store) ApplySpend(ctx context.Context, txn *credit.Transaction) (*credit.Account, error) {
	meta, err := metadataJSON(txn.Metadata)
	if err != nil {
		return nil, err
	}

	// The spendable check runs against the locked row, so concurrent spends
	// serialize and re-read the debited balance. The debit itself is gated
	// on the ledger insert winning the reference_id index.
	var newBalance int64
	err = s.pg.NewRaw(`
		WITH acct AS (
		    SELECT user_id, balance, frozen_balance FROM creditledger_accounts
		    WHERE user_id = $2 FOR UPDATE
		), ins AS (
		    INSERT INTO creditledger_transactions
		        (id, user_id, type, amount, balance_after, source, description, reference_id, metadata, created_at, updated_at)
		    SELECT $1, acct.user_id, $3, $4, acct.balance - $4, $5, $6, $7, $8::jsonb, $9, $9
		    FROM acct
		    WHERE acct.balance - acct.frozen_balance >= $4
		    ON CONFLICT (reference_id) DO NOTHING
		    RETURNING user_id
		)
		UPDATE creditledger_accounts SET
		    balance     = creditledger_accounts.balance - $4,
		    total_spent = creditledger_accounts.total_spent + $4,
		    updated_at  = $10
		FROM ins
		WHERE creditledger_accounts.user_id = ins.user_id
		RETURNING creditledger_accounts.balance
	`, txn.ID.String(), txn.UserID, string(txn.Type), txn.Amount,
		txn.Source, txn.Description, txn.ReferenceID, meta, txn.CreatedAt,
		now()).Scan(ctx, &newBalance)
	if err != nil {
		if isNoRows(err) {
			// Either the reference already exists or the balance cannot
			// cover the amount; the statement wrote nothing in both cases.
			if derr := s.checkDuplicate(ctx, txn.ReferenceID); derr != nil {
				return nil, derr
			}
			return nil, creditledger.ErrInsufficientCredits
		}
		return nil, err
	}

	txn.BalanceAfter = newBalance
	return s.GetAccount(ctx, txn.UserID)
}

func (s *Store) ApplyUnfreeze(ctx context.Context, txn *credit.Transaction) (*credit.Account, error) {
	meta, err := metadataJSON(txn.Metadata)
	if err != nil {
		return nil, err
	}

	// Unfreeze references are self-generated transaction ids, so the
	// reference index never arbitrates here; the CTE still keeps the audit
	// row and the hold release in one atomic statement.
	var newBalance int64
	err = s.pg.NewRaw(`
		WITH acct AS (
		    SELECT user_id, balance, frozen_balance FROM creditledger_accounts
		    WHERE user_id = $2 FOR UPDATE
		), ins AS (
		    INSERT INTO creditledger_transactions
		        (id, user_id, type, amount, balance_after, source, description, reference_id, metadata, created_at, updated_at)
		    SELECT $1, acct.user_id, $3, $4, acct.balance, $5, $6, $7, $8::jsonb, $9, $9
		    FROM acct
		    WHERE acct.frozen_balance >= $4
		    ON CONFLICT (reference_id) DO NOTHING
		    RETURNING user_id
		)
		UPDATE creditledger_accounts SET
		    frozen_balance = creditledger_accounts.frozen_balance - $4,
		    updated_at     = $10
		FROM ins
		WHERE creditledger_accounts.user_id = ins.user_id
		RETURNING creditledger_accounts.balance
	`, txn.ID.String(), txn.UserID, string(txn.Type), txn.Amount,
		txn.Source, txn.Description, txn.ReferenceID, meta, txn.CreatedAt,
		now()).Scan(ctx, &newBalance)
	if err != nil {
		if isNoRows(err) {
			return nil, s.missingOrInvalid(ctx, txn.UserID)
		}
		return nil, err
	}

	txn.BalanceAfter = newBalance
	return s.GetAccount(ctx, txn.UserID)
}

func (s *Store) FreezeCredits(ctx context.Context, userID string, amount int64) (*credit.Account, error) {
	var newFrozen int64
	err := s.pg.NewRaw(`
		UPDATE creditledger_accounts SET
		    frozen_balance = frozen_balance + $1,
		    updated_at     = $2
		WHERE user_id = $3 AND frozen_balance + $1 <= balance
		RETURNING frozen_balance
	`, amount, now(), userID).Scan(ctx, &newFrozen)
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
	err := s.pg.NewSelect(m).
		Where("reference_id = $1", referenceID).
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
	err := s.pg.NewRaw(`
		SELECT COUNT(1) FROM creditledger_transactions
		WHERE reference_id LIKE $1
	`, escapeLike(prefix)+"%").Scan(ctx, &count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, opts credit.ListOpts) ([]*credit.Transaction, error) {
	var models []transactionModel
	q := s.pg.NewSelect(&models).Where("user_id = $1", userID)

	argIdx := 1
	if opts.Type != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("type = $%d", argIdx), string(opts.Type))
	}
	if opts.Source != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("source = $%d", argIdx), opts.Source)
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
	_, err := s.pg.NewInsert(m).
		OnConflict("(provider, subscription_id) DO UPDATE").
		Set("user_id = EXCLUDED.user_id").
		Set("customer_id = EXCLUDED.customer_id").
		Set("plan_slug = EXCLUDED.plan_slug").
		Set("product_id = EXCLUDED.product_id").
		Set("status = EXCLUDED.status").
		Set("billing_interval = EXCLUDED.billing_interval").
		Set("period_start = EXCLUDED.period_start").
		Set("period_end = EXCLUDED.period_end").
		Set("cancel_at_period_end = EXCLUDED.cancel_at_period_end").
		Set("canceled_at = EXCLUDED.canceled_at").
		Set("scheduled_plan_slug = EXCLUDED.scheduled_plan_slug").
		Set("scheduled_interval = EXCLUDED.scheduled_interval").
		Set("scheduled_period_start = EXCLUDED.scheduled_period_start").
		Set("scheduled_period_end = EXCLUDED.scheduled_period_end").
		Set("scheduled_at = EXCLUDED.scheduled_at").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetSubscriptionByProviderID(ctx, rec.Provider, rec.SubscriptionID)
}

func (s *Store) GetSubscriptionByProviderID(ctx context.Context, provider, subscriptionID string) (*subscription.Record, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("provider = $1", provider).
		Where("subscription_id = $2", subscriptionID).
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
	err := s.pg.NewSelect(&models).
		Where("user_id = $1", userID).
		Where("status IN ($2, $3, $4)",
			string(subscription.StatusActive),
			string(subscription.StatusTrialing),
			string(subscription.StatusPastDue)).
		OrderExpr("period_end DESC NULLS LAST, created_at DESC").
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
	q := s.pg.NewSelect(&models).Where("user_id = $1", userID)

	argIdx := 1
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
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
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(subscription.StatusCanceled)).
		Set("cancel_at_period_end = $2", false).
		Set("canceled_at = $3", t).
		Set("updated_at = $4", t).
		Where("user_id = $5", userID).
		Where("status IN ($6, $7, $8)",
			string(subscription.StatusActive),
			string(subscription.StatusTrialing),
			string(subscription.StatusPastDue)).
		Where("subscription_id <> $9", keepID).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CancelSubscriptionNow(ctx context.Context, provider, subscriptionID string, at time.Time) error {
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(subscription.StatusCanceled)).
		Set("cancel_at_period_end = $2", false).
		Set("canceled_at = $3", at).
		Set("updated_at = $4", now()).
		Where("provider = $5", provider).
		Where("subscription_id = $6", subscriptionID).
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
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("scheduled_plan_slug = $1", change.PlanSlug).
		Set("scheduled_interval = $2", string(change.Interval)).
		Set("scheduled_period_start = $3", change.PeriodStart).
		Set("scheduled_period_end = $4", change.PeriodEnd).
		Set("scheduled_at = $5", change.At).
		Set("updated_at = $6", now()).
		Where("provider = $7", provider).
		Where("subscription_id = $8", subscriptionID).
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
	err := s.pg.NewSelect(&models).
		Where("scheduled_plan_slug <> $1", "").
		Where("(scheduled_period_start IS NULL OR scheduled_period_start <= $2)", nowAt).
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
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", planID.String()).
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
	err := s.pg.NewSelect(m).
		Where("slug = $1", slug).
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
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
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
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
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
	t := now()
	res, err := s.pg.NewUpdate((*planModel)(nil)).
		Set("status = $1", string(plan.StatusArchived)).
		Set("updated_at = $2", t).
		Where("id = $3", planID.String()).
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

// checkDuplicate pre-screens the reference id so the common replay path
// never touches the account row.
func (s *Store) checkDuplicate(ctx context.Context, referenceID string) error {
	var count int64
	err := s.pg.NewRaw(`
		SELECT COUNT(1) FROM creditledger_transactions WHERE reference_id = $1
	`, referenceID).Scan(ctx, &count)
	if err != nil {
		return err
	}
	if count > 0 {
		return creditledger.ErrDuplicateReference
	}
	return nil
}

// metadataJSON renders transaction metadata for the jsonb column.
func metadataJSON(m map[string]string) (string, error) {
	if m == nil {
		return "null", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("creditledger/postgres: marshal metadata: %w", err)
	}
	return string(b), nil
}

// missingOrInvalid distinguishes a conditional update that matched no rows:
// no account at all vs. an amount the account cannot cover.
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
