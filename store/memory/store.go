// Package memory provides an in-memory Store for tests and prototyping.
// Every operation runs under one mutex, which makes the paired
// account-mutation-plus-transaction-insert trivially atomic.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xraph/creditledger"
	"github.com/xraph/creditledger/credit"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/plan"
	"github.com/xraph/creditledger/store"
	"github.com/xraph/creditledger/subscription"
	"github.com/xraph/creditledger/types"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	// Credit storage
	accounts     map[string]*credit.Account     // userID -> account
	transactions []*credit.Transaction          // append-only
	byReference  map[string]*credit.Transaction // referenceID -> transaction

	// Subscription storage, keyed "provider/subscriptionID"
	subscriptions map[string]*subscription.Record

	// Plan storage
	plans map[string]*plan.Plan
}

func New() *Store {
	return &Store{
		accounts:      make(map[string]*credit.Account),
		transactions:  make([]*credit.Transaction, 0),
		byReference:   make(map[string]*credit.Transaction),
		subscriptions: make(map[string]*subscription.Record),
		plans:         make(map[string]*plan.Plan),
	}
}

func subKey(provider, subscriptionID string) string {
	return provider + "/" + subscriptionID
}

// ──────────────────────────────────────────────────
// Credit Store implementation
// ──────────────────────────────────────────────────

func (s *Store) GetAccount(_ context.Context, userID string) (*credit.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if acct, ok := s.accounts[userID]; ok {
		cp := *acct
		return &cp, nil
	}
	return nil, creditledger.ErrAccountNotFound
}

func (s *Store) GetOrCreateAccount(_ context.Context, userID string) (*credit.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct := s.getOrCreateLocked(userID)
	cp := *acct
	return &cp, nil
}

// getOrCreateLocked requires s.mu held for writing.
func (s *Store) getOrCreateLocked(userID string) *credit.Account {
	if acct, ok := s.accounts[userID]; ok {
		return acct
	}
	acct := &credit.Account{
		Entity: types.NewEntity(),
		ID:     id.NewAccountID(),
		UserID: userID,
	}
	s.accounts[userID] = acct
	return acct
}

func (s *Store) ApplyEarn(_ context.Context, txn *credit.Transaction) (*credit.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byReference[txn.ReferenceID]; dup {
		return nil, creditledger.ErrDuplicateReference
	}

	acct := s.getOrCreateLocked(txn.UserID)
	acct.Balance += txn.Amount
	acct.TotalEarned += txn.Amount
	acct.Touch()

	txn.BalanceAfter = acct.Balance
	s.insertLocked(txn)

	cp := *acct
	return &cp, nil
}

func (s *Store) ApplySpend(_ context.Context, txn *credit.Transaction) (*credit.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byReference[txn.ReferenceID]; dup {
		return nil, creditledger.ErrDuplicateReference
	}

	acct, ok := s.accounts[txn.UserID]
	if !ok || acct.Spendable() < txn.Amount {
		return nil, creditledger.ErrInsufficientCredits
	}

	acct.Balance -= txn.Amount
	acct.TotalSpent += txn.Amount
	acct.Touch()

	txn.BalanceAfter = acct.Balance
	s.insertLocked(txn)

	cp := *acct
	return &cp, nil
}

func (s *Store) ApplyUnfreeze(_ context.Context, txn *credit.Transaction) (*credit.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[txn.UserID]
	if !ok {
		return nil, creditledger.ErrAccountNotFound
	}
	if txn.Amount > acct.FrozenBalance {
		return nil, creditledger.ErrInvalidAmount
	}

	acct.FrozenBalance -= txn.Amount
	acct.Touch()

	txn.BalanceAfter = acct.Balance
	s.insertLocked(txn)

	cp := *acct
	return &cp, nil
}

// insertLocked requires s.mu held for writing.
func (s *Store) insertLocked(txn *credit.Transaction) {
	cp := *txn
	s.transactions = append(s.transactions, &cp)
	s.byReference[cp.ReferenceID] = &cp
}

func (s *Store) FreezeCredits(_ context.Context, userID string, amount int64) (*credit.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return nil, creditledger.ErrAccountNotFound
	}
	if acct.FrozenBalance+amount > acct.Balance {
		return nil, creditledger.ErrInvalidAmount
	}

	acct.FrozenBalance += amount
	acct.Touch()

	cp := *acct
	return &cp, nil
}

func (s *Store) GetTransactionByReference(_ context.Context, referenceID string) (*credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if txn, ok := s.byReference[referenceID]; ok {
		cp := *txn
		return &cp, nil
	}
	return nil, creditledger.ErrTransactionNotFound
}

func (s *Store) HasReferencePrefix(_ context.Context, prefix string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for ref := range s.byReference {
		if strings.HasPrefix(ref, prefix) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, opts credit.ListOpts) ([]*credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*credit.Transaction, 0)
	// Walk newest first
	for i := len(s.transactions) - 1; i >= 0; i-- {
		txn := s.transactions[i]
		if txn.UserID != userID {
			continue
		}
		if opts.Type != "" && txn.Type != opts.Type {
			continue
		}
		if opts.Source != "" && txn.Source != opts.Source {
			continue
		}
		cp := *txn
		result = append(result, &cp)
	}

	return paginate(result, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Subscription Store implementation
// ──────────────────────────────────────────────────

func (s *Store) UpsertSubscription(_ context.Context, rec *subscription.Record) (*subscription.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subKey(rec.Provider, rec.SubscriptionID)
	cp := *rec
	if existing, ok := s.subscriptions[key]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	}
	cp.Touch()
	s.subscriptions[key] = &cp

	out := cp
	return &out, nil
}

func (s *Store) GetSubscriptionByProviderID(_ context.Context, provider, subscriptionID string) (*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.subscriptions[subKey(provider, subscriptionID)]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, creditledger.ErrSubscriptionNotFound
}

func (s *Store) ListActiveSubscriptions(_ context.Context, userID string) ([]*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Record, 0)
	for _, rec := range s.subscriptions {
		if rec.UserID == userID && rec.Status.CountsAsActive() {
			cp := *rec
			result = append(result, &cp)
		}
	}

	// PeriodEnd DESC with nulls last, then CreatedAt DESC.
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		switch {
		case a.PeriodEnd != nil && b.PeriodEnd == nil:
			return true
		case a.PeriodEnd == nil && b.PeriodEnd != nil:
			return false
		case a.PeriodEnd != nil && b.PeriodEnd != nil && !a.PeriodEnd.Equal(*b.PeriodEnd):
			return a.PeriodEnd.After(*b.PeriodEnd)
		default:
			return a.CreatedAt.After(b.CreatedAt)
		}
	})

	return result, nil
}

func (s *Store) ListSubscriptions(_ context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Record, 0)
	for _, rec := range s.subscriptions {
		if rec.UserID != userID {
			continue
		}
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) CancelAllSubscriptionsExcept(_ context.Context, userID string, keepID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := time.Now()
	for _, rec := range s.subscriptions {
		if rec.UserID != userID || rec.SubscriptionID == keepID || !rec.Status.CountsAsActive() {
			continue
		}
		rec.Status = subscription.StatusCanceled
		rec.CancelAtPeriodEnd = false
		rec.CanceledAt = &now
		rec.Touch()
		n++
	}
	return n, nil
}

func (s *Store) CancelSubscriptionNow(_ context.Context, provider, subscriptionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.subscriptions[subKey(provider, subscriptionID)]
	if !ok {
		return creditledger.ErrSubscriptionNotFound
	}

	rec.Status = subscription.StatusCanceled
	rec.CancelAtPeriodEnd = false
	rec.CanceledAt = &at
	rec.Touch()
	return nil
}

func (s *Store) ScheduleSubscriptionChange(_ context.Context, provider, subscriptionID string, change subscription.ScheduledChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.subscriptions[subKey(provider, subscriptionID)]
	if !ok {
		return creditledger.ErrSubscriptionNotFound
	}

	rec.ScheduledPlanSlug = change.PlanSlug
	rec.ScheduledInterval = change.Interval
	rec.ScheduledPeriodStart = change.PeriodStart
	rec.ScheduledPeriodEnd = change.PeriodEnd
	at := change.At
	rec.ScheduledAt = &at
	rec.Touch()
	return nil
}

func (s *Store) ListDueScheduledChanges(_ context.Context, now time.Time) ([]*subscription.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Record, 0)
	for _, rec := range s.subscriptions {
		if !rec.HasScheduledChange() {
			continue
		}
		if rec.ScheduledPeriodStart != nil && rec.ScheduledPeriodStart.After(now) {
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Plan Store implementation
// ──────────────────────────────────────────────────

func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.plans {
		if existing.Slug == p.Slug {
			return creditledger.ErrAlreadyExists
		}
	}
	s.plans[p.ID.String()] = p
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID.String()]; ok {
		return p, nil
	}
	return nil, creditledger.ErrPlanNotFound
}

func (s *Store) GetPlanBySlug(_ context.Context, slug string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, creditledger.ErrPlanNotFound
}

func (s *Store) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0)
	for _, p := range s.plans {
		if opts.Status == "" || p.Status == opts.Status {
			result = append(result, p)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Slug < result[j].Slug
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; !exists {
		return creditledger.ErrPlanNotFound
	}
	s.plans[p.ID.String()] = p
	return nil
}

func (s *Store) ArchivePlan(_ context.Context, planID id.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, exists := s.plans[planID.String()]; exists {
		p.Status = plan.StatusArchived
		return nil
	}
	return creditledger.ErrPlanNotFound
}

// ──────────────────────────────────────────────────
// Store management
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}

// Helper functions
func paginate[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit == 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
