// Package creditledger provides an embeddable credit ledger and subscription
// reconciler for Go applications.
//
// CreditLedger is designed as a library, not a service. Import it directly
// into your application; webhook handlers, reward endpoints, and admin tools
// call its operations. It provides:
//
//   - An append-only credit transaction ledger with idempotent earn/spend
//   - Freeze/unfreeze holds for pending refunds and disputes
//   - Plan-driven subscription credit grants (monthly/yearly)
//   - A reconciler enforcing at most one active subscription per user
//   - Scheduled downgrades applied at period end
//   - Pluggable lifecycle hooks and a plan catalog
//
// # Quick Start
//
// Create a ledger instance with your preferred store:
//
//	import (
//	    "github.com/xraph/creditledger"
//	    "github.com/xraph/creditledger/store/postgres"
//	)
//
//	// Initialize store
//	store, err := postgres.New(databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create ledger
//	l := creditledger.New(store)
//
//	// Start the ledger (runs migrations, initializes plugins)
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
// # Core Concepts
//
// Accounts hold a user's spendable balance. They are created lazily on the
// first earn, never by the caller:
//
//	txn, err := l.Earn(ctx, creditledger.EarnParams{
//	    UserID:      "user_123",
//	    Amount:      500,
//	    Source:      credit.SourceSubscription,
//	    ReferenceID: "stripe_sub_abc_initial_1712345678",
//	})
//
// Every balance change is one row in the append-only transaction ledger.
// The ReferenceID is the idempotency key: replaying an event with a
// ReferenceID already on file returns the original transaction unchanged
// instead of double-crediting.
//
// Spending checks the spendable balance (balance minus frozen) and rejects
// shortfalls with ErrInsufficientCredits:
//
//	txn, err := l.Spend(ctx, creditledger.SpendParams{
//	    UserID: "user_123",
//	    Amount: 30,
//	    Source: credit.SourceAPICall,
//	})
//
// Subscriptions are imported from the billing provider and reconciled so a
// user never holds more than one active record:
//
//	rec, err := l.ImportOrUpdateSubscription(ctx, rec)
//	result, err := l.Reconcile(ctx, "user_123")
//
// # Idempotency
//
// All ledger writes are keyed by ReferenceID. Webhook retries, at-least-once
// queues, and double-submitted forms are safe: the first delivery wins and
// every replay is a no-op that returns the original transaction.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	acct_01h2xcejqtf2nbrexx3vqjhp41  // Account ID
//	txn_01h2xcejqtf2nbrexx3vqjhp41   // Transaction ID
//	sub_01h455vb4pex5vsknk084sn02q   // Subscription record ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package creditledger
