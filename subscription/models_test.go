package subscription

import (
	"testing"
	"time"
)

func TestCountsAsActive(t *testing.T) {
	tests := []struct {
		status Status
		active bool
	}{
		{StatusActive, true},
		{StatusTrialing, true},
		{StatusPastDue, true},
		{StatusCanceled, false},
		{StatusIncomplete, false},
		{StatusIncompleteExpired, false},
		{StatusUnpaid, false},
		{StatusPaused, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.CountsAsActive(); got != tt.active {
				t.Errorf("CountsAsActive(%s): got %v, want %v", tt.status, got, tt.active)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusCanceled, true},
		{StatusIncompleteExpired, true},
		{StatusActive, false},
		{StatusTrialing, false},
		{StatusPastDue, false},
		{StatusPaused, false},
		{StatusUnpaid, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal(%s): got %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"self transition", StatusActive, StatusActive, true},
		{"incomplete to active", StatusIncomplete, StatusActive, true},
		{"incomplete to expired", StatusIncomplete, StatusIncompleteExpired, true},
		{"trialing to active", StatusTrialing, StatusActive, true},
		{"trialing to canceled", StatusTrialing, StatusCanceled, true},
		{"active to past_due", StatusActive, StatusPastDue, true},
		{"active to canceled", StatusActive, StatusCanceled, true},
		{"active to paused", StatusActive, StatusPaused, true},
		{"past_due to active", StatusPastDue, StatusActive, true},
		{"paused to active", StatusPaused, StatusActive, true},
		{"unpaid to canceled", StatusUnpaid, StatusCanceled, true},
		{"canceled is terminal", StatusCanceled, StatusActive, false},
		{"expired is terminal", StatusIncompleteExpired, StatusActive, false},
		{"active cannot revert to trialing", StatusActive, StatusTrialing, false},
		{"incomplete cannot skip to canceled", StatusIncomplete, StatusCanceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.allowed {
				t.Errorf("CanTransition(%s, %s): got %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestScheduledChangeLifecycle(t *testing.T) {
	rec := &Record{
		UserID:   "user_1",
		Provider: "stripe",
		Status:   StatusActive,
	}

	if rec.HasScheduledChange() {
		t.Error("new record should have no scheduled change")
	}

	start := time.Now().Add(30 * 24 * time.Hour)
	rec.ScheduledPlanSlug = "starter"
	rec.ScheduledInterval = IntervalMonth
	rec.ScheduledPeriodStart = &start

	if !rec.HasScheduledChange() {
		t.Error("expected pending scheduled change")
	}

	rec.ClearSchedule()
	if rec.HasScheduledChange() {
		t.Error("expected no scheduled change after ClearSchedule")
	}
	if rec.ScheduledPeriodStart != nil || rec.ScheduledAt != nil {
		t.Error("ClearSchedule should nil out scheduled timestamps")
	}
}
