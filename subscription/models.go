// Package subscription defines the provider-backed subscription record and
// its status state machine. The single-active invariant (at most one record
// per user with a status that counts as active) is enforced by the engine's
// Reconcile operation and backed by a partial unique index in the SQL stores.
package subscription

import (
	"time"

	"github.com/xraph/creditledger/id"
	"github.com/xraph/creditledger/types"
)

// Status mirrors the billing provider's subscription lifecycle.
type Status string

const (
	StatusActive             Status = "active"
	StatusTrialing           Status = "trialing"
	StatusPastDue            Status = "past_due"
	StatusCanceled           Status = "canceled"
	StatusIncomplete         Status = "incomplete"
	StatusIncompleteExpired  Status = "incomplete_expired"
	StatusUnpaid             Status = "unpaid"
	StatusPaused             Status = "paused"
)

// ActiveStatuses are the statuses that count toward the single-active
// invariant.
var ActiveStatuses = []Status{StatusActive, StatusTrialing, StatusPastDue}

// CountsAsActive reports whether a record in this status occupies the
// user's single active slot.
func (s Status) CountsAsActive() bool {
	return s == StatusActive || s == StatusTrialing || s == StatusPastDue
}

// IsTerminal reports whether no further transitions leave this status.
func (s Status) IsTerminal() bool {
	return s == StatusCanceled || s == StatusIncompleteExpired
}

// transitions encodes the provider lifecycle graph. paused/unpaid are
// side-branches off active/past_due that return to active or advance to
// canceled.
var transitions = map[Status][]Status{
	StatusIncomplete: {StatusActive, StatusIncompleteExpired},
	StatusTrialing:   {StatusActive, StatusCanceled},
	StatusActive:     {StatusPastDue, StatusCanceled, StatusPaused, StatusUnpaid},
	StatusPastDue:    {StatusActive, StatusCanceled, StatusUnpaid, StatusPaused},
	StatusPaused:     {StatusActive, StatusCanceled},
	StatusUnpaid:     {StatusActive, StatusCanceled},
}

// CanTransition reports whether the lifecycle graph permits from → to.
// Self-transitions are allowed (providers re-deliver unchanged states).
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Interval is the billing cycle length.
type Interval string

const (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// Record is one billing-provider subscription object. A user accumulates
// many records over time; soft state only, records are never hard-deleted.
type Record struct {
	types.Entity
	ID             id.SubscriptionID `json:"id"`
	UserID         string            `json:"user_id"`
	Provider       string            `json:"provider"`
	SubscriptionID string            `json:"subscription_id"` // provider-assigned, unique
	CustomerID     string            `json:"customer_id"`
	PlanSlug       string            `json:"plan_slug"`
	ProductID      string            `json:"product_id"`
	Status         Status            `json:"status"`
	Interval       Interval          `json:"interval"`
	PeriodStart    *time.Time        `json:"period_start,omitempty"`
	PeriodEnd      *time.Time        `json:"period_end,omitempty"`

	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CanceledAt        *time.Time `json:"canceled_at,omitempty"`

	// Scheduled* hold a pending plan change applied once PeriodEnd is
	// reached (see Ledger.ApplyScheduledChanges).
	ScheduledPlanSlug    string     `json:"scheduled_plan_slug,omitempty"`
	ScheduledInterval    Interval   `json:"scheduled_interval,omitempty"`
	ScheduledPeriodStart *time.Time `json:"scheduled_period_start,omitempty"`
	ScheduledPeriodEnd   *time.Time `json:"scheduled_period_end,omitempty"`
	ScheduledAt          *time.Time `json:"scheduled_at,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// HasScheduledChange reports whether a plan change is pending.
func (r *Record) HasScheduledChange() bool {
	return r.ScheduledPlanSlug != "" || r.ScheduledInterval != ""
}

// ClearSchedule drops any pending plan change.
func (r *Record) ClearSchedule() {
	r.ScheduledPlanSlug = ""
	r.ScheduledInterval = ""
	r.ScheduledPeriodStart = nil
	r.ScheduledPeriodEnd = nil
	r.ScheduledAt = nil
}

// ListOpts filters subscription record queries.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
