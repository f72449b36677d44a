// Package plan defines the billing plan catalog. Plans map a slug to a
// per-interval credit grant; pricing is carried for display only.
package plan

import (
	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/subscription"
	"github.com/xraph/creditledger/types"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDraft    Status = "draft"
)

// Plan is one entry of the plan catalog. A plan resolving to zero credits
// for an interval makes the subscription grant a no-op.
type Plan struct {
	types.Entity
	ID             id.PlanID         `json:"id"`
	Slug           string            `json:"slug"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Status         Status            `json:"status"`
	MonthlyCredits int64             `json:"monthly_credits"`
	YearlyCredits  int64             `json:"yearly_credits"`
	MonthlyPrice   types.Money       `json:"monthly_price"`
	YearlyPrice    types.Money       `json:"yearly_price"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// CreditsFor returns the configured grant for a billing interval.
func (p *Plan) CreditsFor(interval subscription.Interval) int64 {
	switch interval {
	case subscription.IntervalYear:
		return p.YearlyCredits
	default:
		return p.MonthlyCredits
	}
}

// ListOpts filters plan catalog queries.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
