package credit

import "context"

// Store is the per-aggregate storage contract for credit accounts and
// transactions. The unified store.Store interface embeds these methods.
//
// Apply methods are atomic: the account mutation and the transaction insert
// either both happen or neither does. Implementations report a duplicate
// ReferenceID via the root package's ErrDuplicateReference sentinel so the
// engine can resolve the idempotent replay without a balance change.
type Store interface {
	// GetAccount returns the account for userID, or ErrAccountNotFound.
	GetAccount(ctx context.Context, userID string) (*Account, error)

	// GetOrCreateAccount upserts a zero-balance account for userID.
	// Safe under concurrent first-call races.
	GetOrCreateAccount(ctx context.Context, userID string) (*Account, error)

	// ApplyEarn credits txn.Amount to the account (creating it if needed),
	// increments TotalEarned, and inserts txn with BalanceAfter set.
	ApplyEarn(ctx context.Context, txn *Transaction) (*Account, error)

	// ApplySpend debits txn.Amount when spendable balance covers it,
	// increments TotalSpent, and inserts txn. Returns ErrInsufficientCredits
	// when balance - frozen < amount.
	ApplySpend(ctx context.Context, txn *Transaction) (*Account, error)

	// ApplyUnfreeze releases txn.Amount from the frozen balance and inserts
	// an audit transaction. Balance itself is unchanged.
	ApplyUnfreeze(ctx context.Context, txn *Transaction) (*Account, error)

	// FreezeCredits holds amount without changing the balance. Fails with
	// ErrInvalidAmount when the hold would exceed the balance. No
	// transaction row is written.
	FreezeCredits(ctx context.Context, userID string, amount int64) (*Account, error)

	// GetTransactionByReference returns the transaction carrying the given
	// idempotency key, or ErrTransactionNotFound.
	GetTransactionByReference(ctx context.Context, referenceID string) (*Transaction, error)

	// HasReferencePrefix reports whether any transaction's ReferenceID
	// starts with prefix. Used for initial-grant dedup across timestamps.
	HasReferencePrefix(ctx context.Context, prefix string) (bool, error)

	// ListTransactions returns a user's transaction history, newest first.
	ListTransactions(ctx context.Context, userID string, opts ListOpts) ([]*Transaction, error)
}
