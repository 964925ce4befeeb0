package events

import (
	"time"

	"github.com/gearlog/ticket-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated       EventType = "ticket_created"
	EventTicketUpdated       EventType = "ticket_updated"
	EventTicketStatusChanged EventType = "ticket_status_changed"
	EventTicketAssigned      EventType = "ticket_assigned"
	EventTicketCommentAdded  EventType = "ticket_comment_added"
	EventTicketDeleted       EventType = "ticket_deleted"
)

// AllTicketEvents lists every event the lifecycle engine emits.
var AllTicketEvents = []EventType{
	EventTicketCreated,
	EventTicketUpdated,
	EventTicketStatusChanged,
	EventTicketAssigned,
	EventTicketCommentAdded,
	EventTicketDeleted,
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id"`
	CompanyID *string     `json:"company_id,omitempty"`
	ActorID   string      `json:"actor_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// UserRef is the resolved assignee carried in assignment payloads.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// EmployeeRef is the resolved employee carried in assignment payloads.
type EmployeeRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Title     string                `json:"title"`
	Priority  domain.TicketPriority `json:"priority"`
	Type      domain.TicketType     `json:"type"`
	ProductID *string               `json:"product_id,omitempty"`
	OpenedBy  string                `json:"opened_by"`
}

// TicketUpdatedPayload lists the fields an update changed.
type TicketUpdatedPayload struct {
	Changed []string `json:"changed"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus  domain.TicketStatus `json:"old_status"`
	NewStatus  domain.TicketStatus `json:"new_status"`
	Resolution *string             `json:"resolution,omitempty"`
}

// TicketAssignedPayload carries the new assignee, nil when unassigned.
type TicketAssignedPayload struct {
	AssignedTo *UserRef     `json:"assigned_to"`
	Employee   *EmployeeRef `json:"employee,omitempty"`
}

// TicketCommentAddedPayload payload.
type TicketCommentAddedPayload struct {
	CommentID   string `json:"comment_id"`
	BodyPreview string `json:"body_preview"`
}

// TicketDeletedPayload payload.
type TicketDeletedPayload struct {
	CommentsDeleted int64 `json:"comments_deleted"`
	LogsDeleted     int64 `json:"logs_deleted"`
}
