// Package credit defines the credit account and append-only transaction
// models that make up the balance ledger.
package credit

import (
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/types"
)

// Account tracks a user's spendable credit balance. One account per user,
// created lazily on first earn. Mutated only through ledger operations.
type Account struct {
	types.Entity
	ID            id.AccountID `json:"id"`
	UserID        string       `json:"user_id"`
	Balance       int64        `json:"balance"`
	FrozenBalance int64        `json:"frozen_balance"`
	TotalEarned   int64        `json:"total_earned"`
	TotalSpent    int64        `json:"total_spent"`
}

// Spendable returns the balance available for spending.
// Frozen credits are held (pending refund or dispute) and excluded.
func (a *Account) Spendable() int64 {
	return a.Balance - a.FrozenBalance
}

// Type classifies a transaction. The amount field is always positive;
// the sign of the balance effect is carried by the type.
type Type string

const (
	TypeEarn        Type = "earn"
	TypeSpend       Type = "spend"
	TypeUnfreeze    Type = "unfreeze"
	TypeAdminAdjust Type = "admin_adjust" // manual correction grant; deductions use spend with source "admin"
)

// SignedAmount returns the balance delta a transaction of this type and
// amount produced. Unfreeze transactions are audit-only and contribute zero.
func (t Type) SignedAmount(amount int64) int64 {
	switch t {
	case TypeEarn, TypeAdminAdjust:
		return amount
	case TypeSpend:
		return -amount
	default:
		return 0
	}
}

// Well-known source tags. Free-form; callers may introduce their own.
const (
	SourceSubscription = "subscription"
	SourceBonus        = "bonus"
	SourcePurchase     = "purchase"
	SourceSocialShare  = "social_share"
	SourceAPICall      = "api_call"
	SourceAdmin        = "admin"
)

// Transaction is one row of the append-only ledger. Exactly one row exists
// per balance-affecting event; rows are never updated or deleted. Replaying
// a user's transactions (sum of signed amounts, plus admin adjustments)
// reconstructs the stored balance.
type Transaction struct {
	types.Entity
	ID           id.TransactionID  `json:"id"`
	UserID       string            `json:"user_id"`
	Type         Type              `json:"type"`
	Amount       int64             `json:"amount"` // always positive
	BalanceAfter int64             `json:"balance_after"`
	Source       string            `json:"source"`
	Description  string            `json:"description"`
	ReferenceID  string            `json:"reference_id"` // idempotency key, unique across the table
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ListOpts filters and pages transaction history queries.
type ListOpts struct {
	Type   Type
	Source string
	Limit  int
	Offset int
}
