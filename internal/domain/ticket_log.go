package domain

import "time"

// LogAction identifies the kind of audit entry.
type LogAction string

const (
	LogActionCreated            LogAction = "created"
	LogActionStatusChanged      LogAction = "status_changed"
	LogActionAssigned           LogAction = "assigned"
	LogActionUnassigned         LogAction = "unassigned"
	LogActionCommentAdded       LogAction = "comment_added"
	LogActionClosed             LogAction = "closed"
	LogActionAssignedToEmployee LogAction = "assigned_to_employee"
)

// LogValues is the structured snapshot stored in old_value/new_value.
// Each action fills only the fields it touches.
type LogValues struct {
	Title       *string         `json:"title,omitempty"`
	Description *string         `json:"description,omitempty"`
	Status      *TicketStatus   `json:"status,omitempty"`
	Priority    *TicketPriority `json:"priority,omitempty"`
	Type        *TicketType     `json:"type,omitempty"`
	ProductID   *string         `json:"product_id,omitempty"`
	Resolution  *string         `json:"resolution,omitempty"`
	AssignedTo  *string         `json:"assigned_to,omitempty"`
	EmployeeID  *string         `json:"employee_id,omitempty"`
	CommentID   *string         `json:"comment_id,omitempty"`
}

// Empty reports whether no field is set.
func (v *LogValues) Empty() bool {
	return v == nil || *v == LogValues{}
}

// TicketLog is an append-only audit trail entry.
type TicketLog struct {
	ID        string
	TicketID  string
	UserID    string
	Action    LogAction
	OldValue  *LogValues
	NewValue  *LogValues
	CreatedAt time.Time
}

// ResolvesTicket reports whether the entry marks the ticket as resolved or closed.
func (l TicketLog) ResolvesTicket() bool {
	if l.Action == LogActionClosed {
		return true
	}
	return l.Action == LogActionStatusChanged &&
		l.NewValue != nil && l.NewValue.Status != nil && l.NewValue.Status.Finished()
}
