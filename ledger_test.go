package creditledger_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/xraph/creditledger"
	"github.com/xraph/creditledger/credit"
	"github.com/xraph/creditledger/plan"
	"github.com/xraph/creditledger/store/memory"
	"github.com/xraph/creditledger/subscription"
)

// fakeProvider records remote cancel calls and can be told to fail.
type fakeProvider struct {
	mu       sync.Mutex
	canceled []string
	failFor  map[string]error
}

func (f *fakeProvider) CancelSubscription(_ context.Context, providerSubscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[providerSubscriptionID]; ok {
		return err
	}
	f.canceled = append(f.canceled, providerSubscriptionID)
	return nil
}

func newTestLedger(t *testing.T, opts ...creditledger.Option) *creditledger.Ledger {
	t.Helper()
	l := creditledger.New(memory.New(), opts...)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = l.Stop() })
	return l
}

func seedPlan(t *testing.T, l *creditledger.Ledger, slug string, monthly, yearly int64) {
	t.Helper()
	err := l.CreatePlan(context.Background(), &plan.Plan{
		Slug:           slug,
		Name:           slug,
		Status:         plan.StatusActive,
		MonthlyCredits: monthly,
		YearlyCredits:  yearly,
	})
	if err != nil {
		t.Fatalf("CreatePlan(%s) failed: %v", slug, err)
	}
}

// ──────────────────────────────────────────────────
// Credit ledger
// ──────────────────────────────────────────────────

func TestEarnIdempotent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	first, err := l.Earn(ctx, creditledger.EarnParams{
		UserID:      "user_1",
		Amount:      100,
		Source:      credit.SourceBonus,
		ReferenceID: "bonus_2026_08",
	})
	if err != nil {
		t.Fatalf("first Earn failed: %v", err)
	}

	second, err := l.Earn(ctx, creditledger.EarnParams{
		UserID:      "user_1",
		Amount:      100,
		Source:      credit.SourceBonus,
		ReferenceID: "bonus_2026_08",
	})
	if err != nil {
		t.Fatalf("replayed Earn failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("replay returned a different transaction: %s != %s", second.ID, first.ID)
	}

	acct, err := l.GetAccount(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acct.Balance != 100 {
		t.Errorf("balance after replay: got %d, want 100", acct.Balance)
	}
	if acct.TotalEarned != 100 {
		t.Errorf("total earned after replay: got %d, want 100", acct.TotalEarned)
	}

	txns, err := l.ListTransactions(ctx, "user_1", credit.ListOpts{})
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}
	if len(txns) != 1 {
		t.Errorf("transaction count after replay: got %d, want 1", len(txns))
	}
}

func TestEarnValidation(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		params  creditledger.EarnParams
		wantErr error
	}{
		{"missing user", creditledger.EarnParams{Amount: 10, ReferenceID: "r1"}, creditledger.ErrInvalidInput},
		{"zero amount", creditledger.EarnParams{UserID: "u", Amount: 0, ReferenceID: "r2"}, creditledger.ErrInvalidAmount},
		{"negative amount", creditledger.EarnParams{UserID: "u", Amount: -5, ReferenceID: "r3"}, creditledger.ErrInvalidAmount},
		{"missing reference", creditledger.EarnParams{UserID: "u", Amount: 10}, creditledger.ErrMissingReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Earn(ctx, tt.params)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSpendBoundary(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.Earn(ctx, creditledger.EarnParams{
		UserID: "user_1", Amount: 100, Source: credit.SourcePurchase, ReferenceID: "topup_1",
	}); err != nil {
		t.Fatalf("Earn failed: %v", err)
	}
	if _, err := l.Freeze(ctx, "user_1", 30); err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}

	// Spendable is 70: spending exactly that succeeds.
	if _, err := l.Spend(ctx, creditledger.SpendParams{
		UserID: "user_1", Amount: 70, Source: credit.SourceAPICall,
	}); err != nil {
		t.Fatalf("spend of exact spendable failed: %v", err)
	}

	// One more credit fails and writes nothing.
	_, err := l.Spend(ctx, creditledger.SpendParams{
		UserID: "user_1", Amount: 1, Source: credit.SourceAPICall,
	})
	if !errors.Is(err, creditledger.ErrInsufficientCredits) {
		t.Fatalf("got %v, want ErrInsufficientCredits", err)
	}

	acct, err := l.GetAccount(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acct.Balance != 30 || acct.FrozenBalance != 30 || acct.Spendable() != 0 {
		t.Errorf("account after boundary spend: balance=%d frozen=%d spendable=%d",
			acct.Balance, acct.FrozenBalance, acct.Spendable())
	}
	if acct.TotalSpent != 70 {
		t.Errorf("total spent: got %d, want 70", acct.TotalSpent)
	}
}

func TestSpendMissingAccount(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Spend(context.Background(), creditledger.SpendParams{
		UserID: "nobody", Amount: 10,
	})
	if !errors.Is(err, creditledger.ErrInsufficientCredits) {
		t.Fatalf("got %v, want ErrInsufficientCredits", err)
	}
}

func TestFreezeUnfreeze(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.Earn(ctx, creditledger.EarnParams{
		UserID: "user_1", Amount: 100, ReferenceID: "topup_1",
	}); err != nil {
		t.Fatalf("Earn failed: %v", err)
	}

	// Freezing more than the balance is rejected.
	if _, err := l.Freeze(ctx, "user_1", 101); !errors.Is(err, creditledger.ErrInvalidAmount) {
		t.Errorf("over-freeze: got %v, want ErrInvalidAmount", err)
	}

	acct, err := l.Freeze(ctx, "user_1", 60)
	if err != nil {
		t.Fatalf("Freeze failed: %v", err)
	}
	if acct.FrozenBalance != 60 || acct.Spendable() != 40 {
		t.Errorf("after freeze: frozen=%d spendable=%d", acct.FrozenBalance, acct.Spendable())
	}

	// Releasing more than is frozen is rejected.
	if _, err := l.Unfreeze(ctx, "user_1", 61); !errors.Is(err, creditledger.ErrInvalidAmount) {
		t.Errorf("over-unfreeze: got %v, want ErrInvalidAmount", err)
	}

	txn, err := l.Unfreeze(ctx, "user_1", 20)
	if err != nil {
		t.Fatalf("partial Unfreeze failed: %v", err)
	}
	if txn.Type != credit.TypeUnfreeze || txn.Amount != 20 {
		t.Errorf("unfreeze txn: type=%s amount=%d", txn.Type, txn.Amount)
	}

	// Amount 0 releases everything left.
	txn, err = l.Unfreeze(ctx, "user_1", 0)
	if err != nil {
		t.Fatalf("release-all Unfreeze failed: %v", err)
	}
	if txn.Amount != 40 {
		t.Errorf("release-all amount: got %d, want 40", txn.Amount)
	}

	// Nothing frozen: no transaction, no error.
	txn, err = l.Unfreeze(ctx, "user_1", 0)
	if err != nil {
		t.Fatalf("empty release failed: %v", err)
	}
	if txn != nil {
		t.Errorf("expected nil transaction for empty release, got %+v", txn)
	}

	acct, err = l.GetAccount(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acct.Balance != 100 || acct.FrozenBalance != 0 {
		t.Errorf("after release-all: balance=%d frozen=%d", acct.Balance, acct.FrozenBalance)
	}
}

func TestFreezeMissingAccount(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.Freeze(ctx, "nobody", 10); !errors.Is(err, creditledger.ErrAccountNotFound) {
		t.Errorf("Freeze: got %v, want ErrAccountNotFound", err)
	}
	if _, err := l.Unfreeze(ctx, "nobody", 10); !errors.Is(err, creditledger.ErrAccountNotFound) {
		t.Errorf("Unfreeze: got %v, want ErrAccountNotFound", err)
	}
}

func TestAdminAdjust(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	txn, err := l.AdminAdjust(ctx, creditledger.AdminAdjustParams{
		UserID:      "user_1",
		Amount:      50,
		Description: "support credit",
		ReferenceID: "ticket_4711",
	})
	if err != nil {
		t.Fatalf("positive AdminAdjust failed: %v", err)
	}
	if txn.Type != credit.TypeAdminAdjust || txn.Source != credit.SourceAdmin {
		t.Errorf("adjust txn: type=%s source=%s", txn.Type, txn.Source)
	}

	txn, err = l.AdminAdjust(ctx, creditledger.AdminAdjustParams{
		UserID:      "user_1",
		Amount:      -20,
		Description: "correction",
		ReferenceID: "ticket_4712",
	})
	if err != nil {
		t.Fatalf("negative AdminAdjust failed: %v", err)
	}
	if txn.Type != credit.TypeSpend || txn.Source != credit.SourceAdmin {
		t.Errorf("deduction txn: type=%s source=%s", txn.Type, txn.Source)
	}

	acct, err := l.GetAccount(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acct.Balance != 30 {
		t.Errorf("balance after adjustments: got %d, want 30", acct.Balance)
	}

	if _, err := l.AdminAdjust(ctx, creditledger.AdminAdjustParams{
		UserID: "user_1", Amount: 10,
	}); !errors.Is(err, creditledger.ErrMissingReference) {
		t.Errorf("missing reference: got %v, want ErrMissingReference", err)
	}
	if _, err := l.AdminAdjust(ctx, creditledger.AdminAdjustParams{
		UserID: "user_1", Amount: 0, ReferenceID: "r",
	}); !errors.Is(err, creditledger.ErrInvalidAmount) {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}
}

// TestReplayInvariant runs a randomized mix of operations and checks that
// replaying the transaction log reproduces the stored balance.
func TestReplayInvariant(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	const user = "user_replay"
	for i := 0; i < 200; i++ {
		amount := int64(rng.Intn(50) + 1)
		switch rng.Intn(4) {
		case 0, 1:
			if _, err := l.Earn(ctx, creditledger.EarnParams{
				UserID:      user,
				Amount:      amount,
				Source:      credit.SourceAPICall,
				ReferenceID: fmt.Sprintf("op_%d", i),
			}); err != nil {
				t.Fatalf("Earn %d failed: %v", i, err)
			}
		case 2:
			_, err := l.Spend(ctx, creditledger.SpendParams{
				UserID: user, Amount: amount, Source: credit.SourceAPICall,
			})
			if err != nil && !errors.Is(err, creditledger.ErrInsufficientCredits) {
				t.Fatalf("Spend %d failed: %v", i, err)
			}
		case 3:
			if _, err := l.Freeze(ctx, user, amount); err == nil {
				if _, err := l.Unfreeze(ctx, user, 0); err != nil {
					t.Fatalf("Unfreeze %d failed: %v", i, err)
				}
			}
		}
	}

	acct, err := l.GetAccount(ctx, user)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}

	txns, err := l.ListTransactions(ctx, user, credit.ListOpts{})
	if err != nil {
		t.Fatalf("ListTransactions failed: %v", err)
	}

	var replayed int64
	for _, txn := range txns {
		replayed += txn.Type.SignedAmount(txn.Amount)
	}
	if replayed != acct.Balance {
		t.Errorf("replay mismatch: replayed=%d stored=%d over %d transactions",
			replayed, acct.Balance, len(txns))
	}
	if acct.Balance != acct.TotalEarned-acct.TotalSpent {
		t.Errorf("counter mismatch: balance=%d earned=%d spent=%d",
			acct.Balance, acct.TotalEarned, acct.TotalSpent)
	}
}

func TestConcurrentFirstTouch(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	accounts := make([]*credit.Account, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acct, err := l.GetOrCreateAccount(ctx, "user_race")
			if err != nil {
				t.Errorf("GetOrCreateAccount failed: %v", err)
				return
			}
			accounts[i] = acct
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if accounts[i] == nil || accounts[0] == nil {
			t.Fatal("missing account from concurrent first touch")
		}
		if accounts[i].ID != accounts[0].ID {
			t.Fatalf("concurrent first touch created distinct accounts: %s != %s",
				accounts[i].ID, accounts[0].ID)
		}
	}
}

// ──────────────────────────────────────────────────
// Subscription grants
// ──────────────────────────────────────────────────

func TestGrantSubscriptionCredits(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	seedPlan(t, l, "pro", 500, 6000)

	// Pre-existing balance of 30.
	if _, err := l.Earn(ctx, creditledger.EarnParams{
		UserID: "user_1", Amount: 30, ReferenceID: "seed",
	}); err != nil {
		t.Fatalf("seed Earn failed: %v", err)
	}

	txn, err := l.GrantSubscriptionCredits(ctx, creditledger.GrantParams{
		UserID:         "user_1",
		PlanSlug:       "pro",
		Interval:       subscription.IntervalMonth,
		Provider:       "stripe",
		SubscriptionID: "sub_abc",
	})
	if err != nil {
		t.Fatalf("GrantSubscriptionCredits failed: %v", err)
	}
	if txn.Amount != 500 || txn.Source != credit.SourceSubscription {
		t.Errorf("grant txn: amount=%d source=%s", txn.Amount, txn.Source)
	}

	acct, err := l.GetAccount(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acct.Balance != 530 {
		t.Errorf("balance after grant: got %d, want 530", acct.Balance)
	}

	got, err := l.HasInitialGrant(ctx, "stripe", "sub_abc")
	if err != nil {
		t.Fatalf("HasInitialGrant failed: %v", err)
	}
	if !got {
		t.Error("expected initial grant to be recorded")
	}

	got, err = l.HasInitialGrant(ctx, "stripe", "sub_other")
	if err != nil {
		t.Fatalf("HasInitialGrant failed: %v", err)
	}
	if got {
		t.Error("unexpected initial grant for unrelated subscription")
	}
}

func TestGrantInitialThenRenewal(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	seedPlan(t, l, "pro", 500, 6000)

	params := creditledger.GrantParams{
		UserID:         "user_1",
		PlanSlug:       "pro",
		Interval:       subscription.IntervalMonth,
		Provider:       "stripe",
		SubscriptionID: "sub_abc",
	}

	first, err := l.GrantSubscriptionCredits(ctx, params)
	if err != nil {
		t.Fatalf("initial grant failed: %v", err)
	}
	want := int64(500)

	// Retrying the initial grant within the same second shares the
	// timestamped reference and replays the original transaction.
	retried, err := l.GrantSubscriptionCredits(ctx, params)
	if err != nil {
		t.Fatalf("retried initial grant failed: %v", err)
	}
	if retried.ReferenceID == first.ReferenceID {
		if retried.ID != first.ID {
			t.Errorf("retry minted a new transaction: %s != %s", retried.ID, first.ID)
		}
	} else {
		// The retry crossed a second boundary and granted again, which
		// is the documented caller-dedup contract for initial grants.
		want += 500
	}

	renewal := params
	renewal.IsRenewal = true
	renewed, err := l.GrantSubscriptionCredits(ctx, renewal)
	if err != nil {
		t.Fatalf("renewal grant failed: %v", err)
	}
	if renewed.ReferenceID == first.ReferenceID {
		t.Errorf("renewal reused the initial reference %q", renewed.ReferenceID)
	}
	if renewed.ID == first.ID {
		t.Error("renewal must mint its own transaction")
	}
	want += 500

	acct, err := l.GetAccount(ctx, "user_1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if acct.Balance != want {
		t.Errorf("balance after initial+renewal: got %d, want %d", acct.Balance, want)
	}

	got, err := l.HasInitialGrant(ctx, "stripe", "sub_abc")
	if err != nil {
		t.Fatalf("HasInitialGrant failed: %v", err)
	}
	if !got {
		t.Error("expected initial grant to be recorded")
	}
}

func TestGrantYearlyInterval(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	seedPlan(t, l, "pro", 500, 6000)

	txn, err := l.GrantSubscriptionCredits(ctx, creditledger.GrantParams{
		UserID:         "user_1",
		PlanSlug:       "pro",
		Interval:       subscription.IntervalYear,
		Provider:       "stripe",
		SubscriptionID: "sub_year",
		IsRenewal:      true,
	})
	if err != nil {
		t.Fatalf("yearly grant failed: %v", err)
	}
	if txn.Amount != 6000 {
		t.Errorf("yearly grant amount: got %d, want 6000", txn.Amount)
	}

	// A renewal grant must not count as the initial one.
	got, err := l.HasInitialGrant(ctx, "stripe", "sub_year")
	if err != nil {
		t.Fatalf("HasInitialGrant failed: %v", err)
	}
	if got {
		t.Error("renewal grant should not register as initial")
	}
}

func TestGrantZeroCreditPlan(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	seedPlan(t, l, "free", 0, 0)

	txn, err := l.GrantSubscriptionCredits(ctx, creditledger.GrantParams{
		UserID:         "user_1",
		PlanSlug:       "free",
		Interval:       subscription.IntervalMonth,
		Provider:       "stripe",
		SubscriptionID: "sub_free",
	})
	if err != nil {
		t.Fatalf("zero-credit grant errored: %v", err)
	}
	if txn != nil {
		t.Errorf("expected no transaction for zero-credit plan, got %+v", txn)
	}

	if _, err := l.GetAccount(ctx, "user_1"); !errors.Is(err, creditledger.ErrAccountNotFound) {
		t.Errorf("no account should be created for a no-op grant, got %v", err)
	}
}

func TestGrantUnknownPlan(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.GrantSubscriptionCredits(context.Background(), creditledger.GrantParams{
		UserID:         "user_1",
		PlanSlug:       "missing",
		Interval:       subscription.IntervalMonth,
		Provider:       "stripe",
		SubscriptionID: "sub_x",
	})
	if !errors.Is(err, creditledger.ErrPlanNotFound) {
		t.Fatalf("got %v, want ErrPlanNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Import & reconciliation
// ──────────────────────────────────────────────────

func importSub(t *testing.T, l *creditledger.Ledger, userID, subID string, status subscription.Status, periodEnd *time.Time) *subscription.Record {
	t.Helper()
	stored, err := l.ImportOrUpdateSubscription(context.Background(), &subscription.Record{
		UserID:         userID,
		Provider:       "stripe",
		SubscriptionID: subID,
		PlanSlug:       "pro",
		Status:         status,
		Interval:       subscription.IntervalMonth,
		PeriodEnd:      periodEnd,
	})
	if err != nil {
		t.Fatalf("ImportOrUpdateSubscription(%s) failed: %v", subID, err)
	}
	return stored
}

func TestImportUpsertPreservesIdentity(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	first := importSub(t, l, "user_1", "sub_abc", subscription.StatusTrialing, nil)

	updated, err := l.ImportOrUpdateSubscription(ctx, &subscription.Record{
		UserID:         "user_1",
		Provider:       "stripe",
		SubscriptionID: "sub_abc",
		PlanSlug:       "pro",
		Status:         subscription.StatusActive,
		Interval:       subscription.IntervalMonth,
	})
	if err != nil {
		t.Fatalf("update import failed: %v", err)
	}

	if updated.ID != first.ID {
		t.Errorf("upsert minted a new internal id: %s != %s", updated.ID, first.ID)
	}
	if !updated.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("upsert rewrote CreatedAt: %v != %v", updated.CreatedAt, first.CreatedAt)
	}
	if updated.Status != subscription.StatusActive {
		t.Errorf("status not updated: got %s", updated.Status)
	}
}

func TestImportValidation(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name string
		rec  *subscription.Record
	}{
		{"nil record", nil},
		{"missing user", &subscription.Record{Provider: "stripe", SubscriptionID: "sub_1"}},
		{"missing provider", &subscription.Record{UserID: "u", SubscriptionID: "sub_1"}},
		{"missing provider id", &subscription.Record{UserID: "u", Provider: "stripe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := l.ImportOrUpdateSubscription(ctx, tt.rec); !errors.Is(err, creditledger.ErrInvalidInput) {
				t.Errorf("got %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestFindActiveSubscription(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.FindActiveSubscription(ctx, "user_1"); !errors.Is(err, creditledger.ErrNoActiveSubscription) {
		t.Fatalf("got %v, want ErrNoActiveSubscription", err)
	}

	later := time.Now().Add(30 * 24 * time.Hour)
	sooner := time.Now().Add(7 * 24 * time.Hour)
	importSub(t, l, "user_1", "sub_sooner", subscription.StatusActive, &sooner)
	importSub(t, l, "user_1", "sub_later", subscription.StatusActive, &later)
	importSub(t, l, "user_1", "sub_open", subscription.StatusActive, nil)

	found, err := l.FindActiveSubscription(ctx, "user_1")
	if err != nil {
		t.Fatalf("FindActiveSubscription failed: %v", err)
	}
	if found.SubscriptionID != "sub_later" {
		t.Errorf("deterministic pick: got %s, want sub_later", found.SubscriptionID)
	}
}

func TestReconcileConvergence(t *testing.T) {
	provider := &fakeProvider{}
	l := newTestLedger(t, creditledger.WithProvider(provider))
	ctx := context.Background()

	end1 := time.Now().Add(10 * 24 * time.Hour)
	end2 := time.Now().Add(20 * 24 * time.Hour)
	importSub(t, l, "user_1", "sub_abc", subscription.StatusActive, &end1)
	importSub(t, l, "user_1", "sub_def", subscription.StatusActive, &end2)
	importSub(t, l, "user_1", "sub_ghi", subscription.StatusTrialing, nil)

	result, err := l.Reconcile(ctx, "user_1")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if result.Kept == nil || result.Kept.SubscriptionID != "sub_def" {
		t.Fatalf("kept: got %+v, want sub_def", result.Kept)
	}
	if len(result.Canceled) != 2 {
		t.Fatalf("canceled count: got %d, want 2", len(result.Canceled))
	}
	if len(result.ProviderFailures) != 0 {
		t.Errorf("unexpected provider failures: %+v", result.ProviderFailures)
	}
	for _, rec := range result.Canceled {
		if rec.Status != subscription.StatusCanceled {
			t.Errorf("loser %s not canceled: %s", rec.SubscriptionID, rec.Status)
		}
	}

	// Exactly one active remains and a second pass is a no-op.
	actives, err := l.ListSubscriptions(ctx, "user_1", subscription.ListOpts{Status: subscription.StatusActive})
	if err != nil {
		t.Fatalf("ListSubscriptions failed: %v", err)
	}
	if len(actives) != 1 || actives[0].SubscriptionID != "sub_def" {
		t.Fatalf("post-reconcile actives: %+v", actives)
	}

	again, err := l.Reconcile(ctx, "user_1")
	if err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}
	if len(again.Canceled) != 0 {
		t.Errorf("second pass should cancel nothing, canceled %d", len(again.Canceled))
	}
	if again.Kept == nil || again.Kept.SubscriptionID != "sub_def" {
		t.Errorf("second pass kept: %+v", again.Kept)
	}
}

func TestReconcileProviderFailureSurfaced(t *testing.T) {
	provider := &fakeProvider{
		failFor: map[string]error{"sub_bad": errors.New("stripe: 502")},
	}
	l := newTestLedger(t, creditledger.WithProvider(provider))
	ctx := context.Background()

	end1 := time.Now().Add(10 * 24 * time.Hour)
	end2 := time.Now().Add(20 * 24 * time.Hour)
	importSub(t, l, "user_1", "sub_bad", subscription.StatusActive, &end1)
	importSub(t, l, "user_1", "sub_keep", subscription.StatusActive, &end2)

	result, err := l.Reconcile(ctx, "user_1")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if len(result.ProviderFailures) != 1 {
		t.Fatalf("provider failures: got %d, want 1", len(result.ProviderFailures))
	}
	failure := result.ProviderFailures[0]
	if failure.SubscriptionID != "sub_bad" {
		t.Errorf("failure subscription: got %s", failure.SubscriptionID)
	}
	if !errors.Is(&failure, creditledger.ErrProviderCancelFailed) {
		t.Error("ProviderFailure should unwrap to ErrProviderCancelFailed")
	}

	// The local cancel stands despite the provider failure.
	rec, err := l.GetSubscription(ctx, "stripe", "sub_bad")
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	if rec.Status != subscription.StatusCanceled {
		t.Errorf("local record: got %s, want canceled", rec.Status)
	}
}

func TestReconcileWithoutProviderClient(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	end1 := time.Now().Add(10 * 24 * time.Hour)
	end2 := time.Now().Add(20 * 24 * time.Hour)
	importSub(t, l, "user_1", "sub_a", subscription.StatusActive, &end1)
	importSub(t, l, "user_1", "sub_b", subscription.StatusActive, &end2)

	result, err := l.Reconcile(ctx, "user_1")
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(result.ProviderFailures) != 1 {
		t.Fatalf("provider failures: got %d, want 1", len(result.ProviderFailures))
	}
	if !errors.Is(result.ProviderFailures[0].Err, creditledger.ErrProviderNotConfigured) {
		t.Errorf("failure err: got %v, want ErrProviderNotConfigured", result.ProviderFailures[0].Err)
	}
}

// ──────────────────────────────────────────────────
// Downgrade / cancel / scheduled changes
// ──────────────────────────────────────────────────

func TestDowngradeOrCancelImmediate(t *testing.T) {
	provider := &fakeProvider{}
	l := newTestLedger(t, creditledger.WithProvider(provider))
	ctx := context.Background()

	importSub(t, l, "user_1", "sub_abc", subscription.StatusActive, nil)

	outcome, err := l.DowngradeOrCancel(ctx, creditledger.DowngradeParams{
		Provider:       "stripe",
		SubscriptionID: "sub_abc",
	})
	if err != nil {
		t.Fatalf("DowngradeOrCancel failed: %v", err)
	}
	if !outcome.LocalSuccess || !outcome.ProviderSuccess {
		t.Errorf("outcome: %+v, want both halves true", outcome)
	}

	rec, err := l.GetSubscription(ctx, "stripe", "sub_abc")
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	if rec.Status != subscription.StatusCanceled || rec.CanceledAt == nil {
		t.Errorf("record after cancel: status=%s canceled_at=%v", rec.Status, rec.CanceledAt)
	}
}

func TestDowngradeOrCancelPartialSuccess(t *testing.T) {
	provider := &fakeProvider{
		failFor: map[string]error{"sub_abc": errors.New("stripe: timeout")},
	}
	l := newTestLedger(t, creditledger.WithProvider(provider))
	ctx := context.Background()

	importSub(t, l, "user_1", "sub_abc", subscription.StatusActive, nil)

	outcome, err := l.DowngradeOrCancel(ctx, creditledger.DowngradeParams{
		Provider:       "stripe",
		SubscriptionID: "sub_abc",
	})
	if err != nil {
		t.Fatalf("DowngradeOrCancel failed: %v", err)
	}
	if !outcome.LocalSuccess {
		t.Error("local cancel should succeed")
	}
	if outcome.ProviderSuccess {
		t.Error("provider cancel should be reported as failed")
	}

	rec, err := l.GetSubscription(ctx, "stripe", "sub_abc")
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	if rec.Status != subscription.StatusCanceled {
		t.Errorf("local state must win: got %s", rec.Status)
	}
}

func TestDowngradeAtPeriodEndSchedulesChange(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	periodEnd := time.Now().Add(-time.Hour) // already past, change is due
	importSub(t, l, "user_1", "sub_abc", subscription.StatusActive, &periodEnd)

	outcome, err := l.DowngradeOrCancel(ctx, creditledger.DowngradeParams{
		Provider:       "stripe",
		SubscriptionID: "sub_abc",
		TargetPlanSlug: "starter",
		TargetInterval: subscription.IntervalMonth,
		AtPeriodEnd:    true,
	})
	if err != nil {
		t.Fatalf("DowngradeOrCancel failed: %v", err)
	}
	if !outcome.LocalSuccess || !outcome.ProviderSuccess {
		t.Errorf("deferred change outcome: %+v", outcome)
	}

	rec, err := l.GetSubscription(ctx, "stripe", "sub_abc")
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	if rec.Status != subscription.StatusActive {
		t.Errorf("status must not move for a deferred change: %s", rec.Status)
	}
	if !rec.HasScheduledChange() || rec.ScheduledPlanSlug != "starter" {
		t.Errorf("scheduled change missing: %+v", rec)
	}

	applied, err := l.ApplyScheduledChanges(ctx, time.Now())
	if err != nil {
		t.Fatalf("ApplyScheduledChanges failed: %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied: got %d, want 1", applied)
	}

	rec, err = l.GetSubscription(ctx, "stripe", "sub_abc")
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	if rec.PlanSlug != "starter" {
		t.Errorf("plan after apply: got %s, want starter", rec.PlanSlug)
	}
	if rec.HasScheduledChange() {
		t.Error("schedule should be cleared after apply")
	}

	// Second sweep finds nothing.
	applied, err = l.ApplyScheduledChanges(ctx, time.Now())
	if err != nil {
		t.Fatalf("second ApplyScheduledChanges failed: %v", err)
	}
	if applied != 0 {
		t.Errorf("second sweep applied %d changes, want 0", applied)
	}
}

func TestCancelAtPeriodEndMarksRecord(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	periodEnd := time.Now().Add(14 * 24 * time.Hour)
	importSub(t, l, "user_1", "sub_abc", subscription.StatusActive, &periodEnd)

	outcome, err := l.DowngradeOrCancel(ctx, creditledger.DowngradeParams{
		Provider:       "stripe",
		SubscriptionID: "sub_abc",
		AtPeriodEnd:    true,
	})
	if err != nil {
		t.Fatalf("DowngradeOrCancel failed: %v", err)
	}
	if !outcome.LocalSuccess {
		t.Errorf("outcome: %+v", outcome)
	}

	rec, err := l.GetSubscription(ctx, "stripe", "sub_abc")
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	if !rec.CancelAtPeriodEnd {
		t.Error("CancelAtPeriodEnd should be set")
	}
	if rec.Status != subscription.StatusActive {
		t.Errorf("status must stay active until period end: %s", rec.Status)
	}
}

func TestDowngradeUnknownSubscription(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.DowngradeOrCancel(context.Background(), creditledger.DowngradeParams{
		Provider:       "stripe",
		SubscriptionID: "sub_missing",
	})
	if !errors.Is(err, creditledger.ErrSubscriptionNotFound) {
		t.Fatalf("got %v, want ErrSubscriptionNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Plans
// ──────────────────────────────────────────────────

func TestPlanLifecycle(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	p := &plan.Plan{Slug: "pro", Name: "Pro", MonthlyCredits: 500}
	if err := l.CreatePlan(ctx, p); err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	if p.ID.IsNil() {
		t.Error("CreatePlan should assign an id")
	}
	if p.Status != plan.StatusActive {
		t.Errorf("default status: got %s, want active", p.Status)
	}

	if err := l.CreatePlan(ctx, &plan.Plan{Slug: "pro", Name: "Duplicate"}); !errors.Is(err, creditledger.ErrAlreadyExists) {
		t.Errorf("duplicate slug: got %v, want ErrAlreadyExists", err)
	}
	if err := l.CreatePlan(ctx, &plan.Plan{Name: "No Slug"}); !errors.Is(err, creditledger.ErrInvalidInput) {
		t.Errorf("missing slug: got %v, want ErrInvalidInput", err)
	}

	got, err := l.GetPlanBySlug(ctx, "pro")
	if err != nil {
		t.Fatalf("GetPlanBySlug failed: %v", err)
	}
	if got.MonthlyCredits != 500 {
		t.Errorf("monthly credits: got %d, want 500", got.MonthlyCredits)
	}

	if err := l.ArchivePlan(ctx, p.ID); err != nil {
		t.Fatalf("ArchivePlan failed: %v", err)
	}
	got, err = l.GetPlan(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPlan failed: %v", err)
	}
	if got.Status != plan.StatusArchived {
		t.Errorf("status after archive: got %s", got.Status)
	}
}
