package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/creditledger/credit"
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/plan"
	"github.com/xraph/creditledger/subscription"
	"github.com/xraph/creditledger/types"
)

// ==================== Account models ====================

type accountModel struct {
	grove.BaseModel `grove:"table:creditledger_accounts"`

	ID            string    `grove:"id,pk"          bson:"_id"`
	UserID        string    `grove:"user_id"        bson:"user_id"`
	Balance       int64     `grove:"balance"        bson:"balance"`
	FrozenBalance int64     `grove:"frozen_balance" bson:"frozen_balance"`
	TotalEarned   int64     `grove:"total_earned"   bson:"total_earned"`
	TotalSpent    int64     `grove:"total_spent"    bson:"total_spent"`
	CreatedAt     time.Time `grove:"created_at"     bson:"created_at"`
	UpdatedAt     time.Time `grove:"updated_at"     bson:"updated_at"`
}

func fromAccountModel(m *accountModel) (*credit.Account, error) {
	accountID, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, err
	}
	return &credit.Account{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            accountID,
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

	ID           string            `grove:"id,pk"         bson:"_id"`
	UserID       string            `grove:"user_id"       bson:"user_id"`
	Type         string            `grove:"type"          bson:"type"`
	Amount       int64             `grove:"amount"        bson:"amount"`
	BalanceAfter int64             `grove:"balance_after" bson:"balance_after"`
	Source       string            `grove:"source"        bson:"source"`
	Description  string            `grove:"description"   bson:"description"`
	ReferenceID  string            `grove:"reference_id"  bson:"reference_id"`
	Metadata     map[string]string `grove:"metadata"      bson:"metadata,omitempty"`
	CreatedAt    time.Time         `grove:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time         `grove:"updated_at"    bson:"updated_at"`
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
		Metadata:     t.Metadata,
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
		Metadata:     m.Metadata,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:creditledger_subscriptions"`

	ID             string     `grove:"id,pk"            bson:"_id"`
	UserID         string     `grove:"user_id"          bson:"user_id"`
	Provider       string     `grove:"provider"         bson:"provider"`
	SubscriptionID string     `grove:"subscription_id"  bson:"subscription_id"`
	CustomerID     string     `grove:"customer_id"      bson:"customer_id"`
	PlanSlug       string     `grove:"plan_slug"        bson:"plan_slug"`
	ProductID      string     `grove:"product_id"       bson:"product_id"`
	Status         string     `grove:"status"           bson:"status"`
	Interval       string     `grove:"billing_interval" bson:"billing_interval"`
	PeriodStart    *time.Time `grove:"period_start"     bson:"period_start,omitempty"`
	PeriodEnd      *time.Time `grove:"period_end"       bson:"period_end,omitempty"`

	CancelAtPeriodEnd bool       `grove:"cancel_at_period_end" bson:"cancel_at_period_end"`
	CanceledAt        *time.Time `grove:"canceled_at"          bson:"canceled_at,omitempty"`

	ScheduledPlanSlug    string     `grove:"scheduled_plan_slug"    bson:"scheduled_plan_slug"`
	ScheduledInterval    string     `grove:"scheduled_interval"     bson:"scheduled_interval"`
	ScheduledPeriodStart *time.Time `grove:"scheduled_period_start" bson:"scheduled_period_start,omitempty"`
	ScheduledPeriodEnd   *time.Time `grove:"scheduled_period_end"   bson:"scheduled_period_end,omitempty"`
	ScheduledAt          *time.Time `grove:"scheduled_at"           bson:"scheduled_at,omitempty"`

	Metadata  map[string]string `grove:"metadata"   bson:"metadata,omitempty"`
	CreatedAt time.Time         `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time         `grove:"updated_at" bson:"updated_at"`
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
		Interval:             string(r.Interval),
		PeriodStart:          r.PeriodStart,
		PeriodEnd:            r.PeriodEnd,
		CancelAtPeriodEnd:    r.CancelAtPeriodEnd,
		CanceledAt:           r.CanceledAt,
		ScheduledPlanSlug:    r.ScheduledPlanSlug,
		ScheduledInterval:    string(r.ScheduledInterval),
		ScheduledPeriodStart: r.ScheduledPeriodStart,
		ScheduledPeriodEnd:   r.ScheduledPeriodEnd,
		ScheduledAt:          r.ScheduledAt,
		Metadata:             r.Metadata,
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
		Interval:             subscription.Interval(m.Interval),
		PeriodStart:          m.PeriodStart,
		PeriodEnd:            m.PeriodEnd,
		CancelAtPeriodEnd:    m.CancelAtPeriodEnd,
		CanceledAt:           m.CanceledAt,
		ScheduledPlanSlug:    m.ScheduledPlanSlug,
		ScheduledInterval:    subscription.Interval(m.ScheduledInterval),
		ScheduledPeriodStart: m.ScheduledPeriodStart,
		ScheduledPeriodEnd:   m.ScheduledPeriodEnd,
		ScheduledAt:          m.ScheduledAt,
		Metadata:             m.Metadata,
	}, nil
}

// ==================== Plan models ====================

type planModel struct {
	grove.BaseModel `grove:"table:creditledger_plans"`

	ID             string            `grove:"id,pk"            bson:"_id"`
	Slug           string            `grove:"slug"             bson:"slug"`
	Name           string            `grove:"name"             bson:"name"`
	Description    string            `grove:"description"      bson:"description"`
	Status         string            `grove:"status"           bson:"status"`
	MonthlyCredits int64             `grove:"monthly_credits"  bson:"monthly_credits"`
	YearlyCredits  int64             `grove:"yearly_credits"   bson:"yearly_credits"`
	MonthlyPrice   priceModel        `grove:"monthly_price"    bson:"monthly_price"`
	YearlyPrice    priceModel        `grove:"yearly_price"     bson:"yearly_price"`
	Metadata       map[string]string `grove:"metadata"         bson:"metadata,omitempty"`
	CreatedAt      time.Time         `grove:"created_at"       bson:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"       bson:"updated_at"`
}

type priceModel struct {
	AmountCents int64  `bson:"amount_cents"`
	Currency    string `bson:"currency"`
}

func toPlanModel(p *plan.Plan) *planModel {
	return &planModel{
		ID:             p.ID.String(),
		Slug:           p.Slug,
		Name:           p.Name,
		Description:    p.Description,
		Status:         string(p.Status),
		MonthlyCredits: p.MonthlyCredits,
		YearlyCredits:  p.YearlyCredits,
		MonthlyPrice:   priceModel{AmountCents: p.MonthlyPrice.Amount, Currency: p.MonthlyPrice.Currency},
		YearlyPrice:    priceModel{AmountCents: p.YearlyPrice.Amount, Currency: p.YearlyPrice.Currency},
		Metadata:       p.Metadata,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
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
		MonthlyPrice:   types.Money{Amount: m.MonthlyPrice.AmountCents, Currency: m.MonthlyPrice.Currency},
		YearlyPrice:    types.Money{Amount: m.YearlyPrice.AmountCents, Currency: m.YearlyPrice.Currency},
		Metadata:       m.Metadata,
	}, nil
}
