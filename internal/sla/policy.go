// Package sla computes service level deadlines and risk for tickets.
package sla

import (
	"time"

	"github.com/gearlog/ticket-service/internal/domain"
)

// DefaultAtRiskRatio is the share of a window after which a ticket is at risk.
const DefaultAtRiskRatio = 0.80

// Window holds the allowed durations for one priority.
type Window struct {
	FirstResponse time.Duration
	Resolution    time.Duration
}

// Table maps priorities to their SLA windows.
type Table map[domain.TicketPriority]Window

// DefaultTable returns the stock SLA windows.
func DefaultTable() Table {
	return Table{
		domain.TicketPriorityCritical: {FirstResponse: 2 * time.Hour, Resolution: 24 * time.Hour},
		domain.TicketPriorityHigh:     {FirstResponse: 4 * time.Hour, Resolution: 72 * time.Hour},
		domain.TicketPriorityMedium:   {FirstResponse: 8 * time.Hour, Resolution: 168 * time.Hour},
		domain.TicketPriorityLow:      {FirstResponse: 24 * time.Hour, Resolution: 336 * time.Hour},
	}
}

// Window returns the entry for priority, falling back to medium.
func (t Table) Window(priority domain.TicketPriority) Window {
	if w, ok := t[priority]; ok {
		return w
	}
	if w, ok := t[domain.TicketPriorityMedium]; ok {
		return w
	}
	return DefaultTable()[domain.TicketPriorityMedium]
}

// Deadlines are the two commitments computed at ticket creation.
type Deadlines struct {
	FirstResponse time.Time
	Resolution    time.Time
}

// Risk flags each deadline that has consumed the at-risk share of its window.
type Risk struct {
	FirstResponse bool `json:"first_response"`
	Resolution    bool `json:"resolution"`
}

// Any reports whether either deadline is at risk.
func (r Risk) Any() bool {
	return r.FirstResponse || r.Resolution
}

// DeadlineKind selects one of the two deadlines.
type DeadlineKind string

const (
	DeadlineFirstResponse DeadlineKind = "first_response"
	DeadlineResolution    DeadlineKind = "resolution"
)

// Policy evaluates tickets against an SLA table. It performs no I/O.
type Policy struct {
	table       Table
	atRiskRatio float64
}

// NewPolicy builds a policy. A nil table uses DefaultTable and a
// non-positive ratio uses DefaultAtRiskRatio.
func NewPolicy(table Table, atRiskRatio float64) *Policy {
	if len(table) == 0 {
		table = DefaultTable()
	}
	if atRiskRatio <= 0 {
		atRiskRatio = DefaultAtRiskRatio
	}
	return &Policy{table: table, atRiskRatio: atRiskRatio}
}

// Table exposes the configured windows.
func (p *Policy) Table() Table {
	return p.table
}

// CalculateDeadlines adds the priority's windows to createdAt.
func (p *Policy) CalculateDeadlines(priority domain.TicketPriority, createdAt time.Time) Deadlines {
	w := p.table.Window(priority)
	return Deadlines{
		FirstResponse: createdAt.Add(w.FirstResponse),
		Resolution:    createdAt.Add(w.Resolution),
	}
}

// IsFirstResponseViolated reports whether the first response deadline passed without a response.
func (p *Policy) IsFirstResponseViolated(t *domain.Ticket, now time.Time) bool {
	if t.FirstResponseAt != nil || t.FirstResponseDeadline == nil {
		return false
	}
	return now.After(*t.FirstResponseDeadline)
}

// IsResolutionViolated reports whether the resolution deadline passed on an unfinished ticket.
func (p *Policy) IsResolutionViolated(t *domain.Ticket, now time.Time) bool {
	if t.Status.Finished() || t.ResolutionDeadline == nil {
		return false
	}
	return now.After(*t.ResolutionDeadline)
}

// IsViolated reports whether either deadline is violated at now.
func (p *Policy) IsViolated(t *domain.Ticket, now time.Time) bool {
	return p.IsFirstResponseViolated(t, now) || p.IsResolutionViolated(t, now)
}

// IsAtRisk flags deadlines whose milestone has not happened and whose window
// is consumed by at least the at-risk ratio.
func (p *Policy) IsAtRisk(t *domain.Ticket, now time.Time) Risk {
	var risk Risk
	if t.FirstResponseAt == nil && t.FirstResponseDeadline != nil {
		risk.FirstResponse = p.consumed(t.CreatedAt, *t.FirstResponseDeadline, now)
	}
	if !t.Status.Finished() && t.ResolutionDeadline != nil {
		risk.Resolution = p.consumed(t.CreatedAt, *t.ResolutionDeadline, now)
	}
	return risk
}

func (p *Policy) consumed(start, deadline, now time.Time) bool {
	window := deadline.Sub(start)
	if window <= 0 {
		return false
	}
	elapsed := now.Sub(start)
	return float64(elapsed)/float64(window) >= p.atRiskRatio
}

// TimeRemaining returns whole minutes until the deadline, never negative.
// ok is false when the ticket has no such deadline.
func (p *Policy) TimeRemaining(t *domain.Ticket, now time.Time, kind DeadlineKind) (minutes int64, ok bool) {
	var deadline *time.Time
	switch kind {
	case DeadlineFirstResponse:
		deadline = t.FirstResponseDeadline
	case DeadlineResolution:
		deadline = t.ResolutionDeadline
	}
	if deadline == nil {
		return 0, false
	}
	remaining := deadline.Sub(now)
	if remaining < 0 {
		return 0, true
	}
	return int64(remaining / time.Minute), true
}
