package sqlite

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/creditledger/credit"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/plan"
	"github.com/xraph/creditledger/subscription"
	"github.com/xraph/creditledger/types"
)

// SQLite has no native JSON column type; metadata maps are stored as
// serialized TEXT.

func marshalMeta(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, _ := json.Marshal(m) //nolint:errcheck // best-effort
	return string(b)
}

func unmarshalMeta(s string) map[string]string {
	if s == "" || s == "{}" {
		return nil
	}
	var m map[string]string
	_ = json.Unmarshal([]byte(s), &m) //nolint:errcheck // best-effort
	return m
}

// ==================== Account models ====================

type accountModel struct {
	grove.BaseModel `grove:"table:creditledger_accounts"`

	ID            string    `grove:"id,pk"`
	UserID        string    `grove:"user_id"`
	Balance       int64     `grove:"balance"`
	FrozenBalance int64     `grove:"frozen_balance"`
	TotalEarned   int64     `grove:"total_earned"`
	TotalSpent    int64     `grove:"total_spent"`
	CreatedAt     time.Time `grove:"created_at"`
	UpdatedAt     time.Time `grove:"updated_at"`
}

func fromAccountModel(m *accountModel) (*credit.Account, error) {
	acctID, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, err
	}

	return &credit.Account{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            acctID,
		UserID:        m.UserID,
		Balance:       m.Balance,
		FrozenBalance: m.FrozenBalance,
		TotalEarned:   m.TotalEarned,
		TotalSpent:    m.TotalSpent,
	}, nil
}

// ==================== Transaction models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:creditledger_transactions"`

	ID           string    `grove:"id,pk"`
	UserID       string    `grove:"user_id"`
	Type         string    `grove:"type"`
	Amount       int64     `grove:"amount"`
	BalanceAfter int64     `grove:"balance_after"`
	Source       string    `grove:"source"`
	Description  string    `grove:"description"`
	ReferenceID  string    `grove:"reference_id"`
	Metadata     string    `grove:"metadata"`
	CreatedAt    time.Time `grove:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"`
}

func toTransactionModel(t *credit.Transaction) *transactionModel {
	return &transactionModel{
		ID:           t.ID.String(),
		UserID:       t.UserID,
		Type:         string(t.Type),
		Amount:       t.Amount,
		BalanceAfter: t.BalanceAfter,
		Source:       t.Source,
		Description:  t.Description,
		ReferenceID:  t.ReferenceID,
		Metadata:     marshalMeta(t.Metadata),
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*credit.Transaction, error) {
	txnID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}

	return &credit.Transaction{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           txnID,
		UserID:       m.UserID,
		Type:         credit.Type(m.Type),
		Amount:       m.Amount,
		BalanceAfter: m.BalanceAfter,
		Source:       m.Source,
		Description:  m.Description,
		ReferenceID:  m.ReferenceID,
		Metadata:     unmarshalMeta(m.Metadata),
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:creditledger_subscriptions"`

	ID                string     `grove:"id,pk"`
	UserID            string     `grove:"user_id"`
	Provider          string     `grove:"provider"`
	SubscriptionID    string     `grove:"subscription_id"`
	CustomerID        string     `grove:"customer_id"`
	PlanSlug          string     `grove:"plan_slug"`
	ProductID         string     `grove:"product_id"`
	Status            string     `grove:"status"`
	BillingInterval   string     `grove:"billing_interval"`
	PeriodStart       *time.Time `grove:"period_start"`
	PeriodEnd         *time.Time `grove:"period_end"`
	CancelAtPeriodEnd bool       `grove:"cancel_at_period_end"`
	CanceledAt        *time.Time `grove:"canceled_at"`

	ScheduledPlanSlug    string     `grove:"scheduled_plan_slug"`
	ScheduledInterval    string     `grove:"scheduled_interval"`
	ScheduledPeriodStart *time.Time `grove:"scheduled_period_start"`
	ScheduledPeriodEnd   *time.Time `grove:"scheduled_period_end"`
	ScheduledAt          *time.Time `grove:"scheduled_at"`

	Metadata  string    `grove:"metadata"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toSubscriptionModel(r *subscription.Record) *subscriptionModel {
	return &subscriptionModel{
		ID:                   r.ID.String(),
		UserID:               r.UserID,
		Provider:             r.Provider,
		SubscriptionID:       r.SubscriptionID,
		CustomerID:           r.CustomerID,
		PlanSlug:             r.PlanSlug,
		ProductID:            r.ProductID,
		Status:               string(r.Status),
		BillingInterval:      string(r.Interval),
		PeriodStart:          r.PeriodStart,
		PeriodEnd:            r.PeriodEnd,
		CancelAtPeriodEnd:    r.CancelAtPeriodEnd,
		CanceledAt:           r.CanceledAt,
		ScheduledPlanSlug:    r.ScheduledPlanSlug,
		ScheduledInterval:    string(r.ScheduledInterval),
		ScheduledPeriodStart: r.ScheduledPeriodStart,
		ScheduledPeriodEnd:   r.ScheduledPeriodEnd,
		ScheduledAt:          r.ScheduledAt,
		Metadata:             marshalMeta(r.Metadata),
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Record, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}

	return &subscription.Record{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                   subID,
		UserID:               m.UserID,
		Provider:             m.Provider,
		SubscriptionID:       m.SubscriptionID,
		CustomerID:           m.CustomerID,
		PlanSlug:             m.PlanSlug,
		ProductID:            m.ProductID,
		Status:               subscription.Status(m.Status),
		Interval:             subscription.Interval(m.BillingInterval),
		PeriodStart:          m.PeriodStart,
		PeriodEnd:            m.PeriodEnd,
		CancelAtPeriodEnd:    m.CancelAtPeriodEnd,
		CanceledAt:           m.CanceledAt,
		ScheduledPlanSlug:    m.ScheduledPlanSlug,
		ScheduledInterval:    subscription.Interval(m.ScheduledInterval),
		ScheduledPeriodStart: m.ScheduledPeriodStart,
		ScheduledPeriodEnd:   m.ScheduledPeriodEnd,
		ScheduledAt:          m.ScheduledAt,
		Metadata:             unmarshalMeta(m.Metadata),
	}, nil
}

// ==================== Plan models ====================

type planModel struct {
	grove.BaseModel `grove:"table:creditledger_plans"`

	ID                string    `grove:"id,pk"`
	Slug              string    `grove:"slug"`
	Name              string    `grove:"name"`
	Description       string    `grove:"description"`
	Status            string    `grove:"status"`
	MonthlyCredits    int64     `grove:"monthly_credits"`
	YearlyCredits     int64     `grove:"yearly_credits"`
	MonthlyPriceCents int64     `grove:"monthly_price_cents"`
	MonthlyCurrency   string    `grove:"monthly_currency"`
	YearlyPriceCents  int64     `grove:"yearly_price_cents"`
	YearlyCurrency    string    `grove:"yearly_currency"`
	Metadata          string    `grove:"metadata"`
	CreatedAt         time.Time `grove:"created_at"`
	UpdatedAt         time.Time `grove:"updated_at"`
}

func toPlanModel(p *plan.Plan) *planModel {
	return &planModel{
		ID:                p.ID.String(),
		Slug:              p.Slug,
		Name:              p.Name,
		Description:       p.Description,
		Status:            string(p.Status),
		MonthlyCredits:    p.MonthlyCredits,
		YearlyCredits:     p.YearlyCredits,
		MonthlyPriceCents: p.MonthlyPrice.Amount,
		MonthlyCurrency:   p.MonthlyPrice.Currency,
		YearlyPriceCents:  p.YearlyPrice.Amount,
		YearlyCurrency:    p.YearlyPrice.Currency,
		Metadata:          marshalMeta(p.Metadata),
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}

	return &plan.Plan{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             planID,
		Slug:           m.Slug,
		Name:           m.Name,
		Description:    m.Description,
		Status:         plan.Status(m.Status),
		MonthlyCredits: m.MonthlyCredits,
		YearlyCredits:  m.YearlyCredits,
		MonthlyPrice:   types.Money{Amount: m.MonthlyPriceCents, Currency: m.MonthlyCurrency},
		YearlyPrice:    types.Money{Amount: m.YearlyPriceCents, Currency: m.YearlyCurrency},
		Metadata:       unmarshalMeta(m.Metadata),
	}, nil
}
