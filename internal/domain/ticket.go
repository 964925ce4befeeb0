package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen         TicketStatus = "open"
	TicketStatusInProgress   TicketStatus = "in_progress"
	TicketStatusWaitingParts TicketStatus = "waiting_parts"
	TicketStatusResolved     TicketStatus = "resolved"
	TicketStatusClosed       TicketStatus = "closed"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusWaitingParts, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// Finished reports whether the ticket no longer counts as active work.
func (s TicketStatus) Finished() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "low"
	TicketPriorityMedium   TicketPriority = "medium"
	TicketPriorityHigh     TicketPriority = "high"
	TicketPriorityCritical TicketPriority = "critical"
)

func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityCritical:
		return true
	}
	return false
}

// TicketType classifies the work a ticket represents.
type TicketType string

const (
	TicketTypeDamage      TicketType = "damage"
	TicketTypeMaintenance TicketType = "maintenance"
	TicketTypeUpdate      TicketType = "update"
	TicketTypeAudit       TicketType = "audit"
	TicketTypeOther       TicketType = "other"
)

func (t TicketType) Valid() bool {
	switch t {
	case TicketTypeDamage, TicketTypeMaintenance, TicketTypeUpdate, TicketTypeAudit, TicketTypeOther:
		return true
	}
	return false
}

// Ticket is the aggregate for asset support work within one company.
type Ticket struct {
	ID          string
	CompanyID   *string
	OpenedBy    string
	AssignedTo  *string
	EmployeeID  *string
	ProductID   *string
	Title       string
	Description string
	Status      TicketStatus
	Priority    TicketPriority
	Type        TicketType
	Resolution  *string

	FirstResponseAt       *time.Time
	FirstResponseDeadline *time.Time
	ResolutionDeadline    *time.Time
	SLAViolated           bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasResolution reports whether a non-blank resolution is recorded.
func (t *Ticket) HasResolution() bool {
	return t.Resolution != nil && *t.Resolution != ""
}
