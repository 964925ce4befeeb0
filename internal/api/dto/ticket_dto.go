package dto

import (
	"time"

	"github.com/gearlog/ticket-service/internal/domain"
	"github.com/gearlog/ticket-service/internal/sla"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Priority    domain.TicketPriority `json:"priority"`
	Type        domain.TicketType     `json:"type"`
	AssignedTo  *string               `json:"assigned_to"`
	EmployeeID  *string               `json:"employee_id"`
	ProductID   *string               `json:"product_id"`
}

// UpdateTicketRequest carries the editable fields; omitted fields stay as they are.
type UpdateTicketRequest struct {
	Title       *string                `json:"title"`
	Description *string                `json:"description"`
	Priority    *domain.TicketPriority `json:"priority"`
	Type        *domain.TicketType     `json:"type"`
	ProductID   *string                `json:"product_id"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status     domain.TicketStatus `json:"status"`
	Resolution *string             `json:"resolution"`
}

// AssignRequest payload. A null assigned_to unassigns.
type AssignRequest struct {
	AssignedTo *string `json:"assigned_to"`
}

// AssignEmployeeRequest payload. A null employee_id clears the link.
type AssignEmployeeRequest struct {
	EmployeeID *string `json:"employee_id"`
}

// CreateCommentRequest payload.
type CreateCommentRequest struct {
	Body string `json:"body"`
}

// TicketResponse is the wire shape of a ticket.
type TicketResponse struct {
	ID                    string                `json:"id"`
	CompanyID             *string               `json:"company_id"`
	OpenedBy              string                `json:"opened_by"`
	Title                 string                `json:"title"`
	Description           string                `json:"description"`
	Status                domain.TicketStatus   `json:"status"`
	Priority              domain.TicketPriority `json:"priority"`
	Type                  domain.TicketType     `json:"type"`
	Resolution            *string               `json:"resolution"`
	AssignedTo            *string               `json:"assigned_to"`
	EmployeeID            *string               `json:"employee_id"`
	ProductID             *string               `json:"product_id"`
	FirstResponseAt       *time.Time            `json:"first_response_at"`
	FirstResponseDeadline *time.Time            `json:"first_response_deadline"`
	ResolutionDeadline    *time.Time            `json:"resolution_deadline"`
	SLAViolated           bool                  `json:"sla_violated"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
}

// TicketLogResponse is one audit entry.
type TicketLogResponse struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Action    domain.LogAction  `json:"action"`
	OldValue  *domain.LogValues `json:"old_value"`
	NewValue  *domain.LogValues `json:"new_value"`
	CreatedAt time.Time         `json:"created_at"`
}

// CommentResponse is one comment.
type CommentResponse struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	UserID    string    `json:"user_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// SLAStatusResponse reports a ticket's SLA standing.
type SLAStatusResponse struct {
	FirstResponseDeadline         *time.Time `json:"first_response_deadline"`
	ResolutionDeadline            *time.Time `json:"resolution_deadline"`
	FirstResponseAt               *time.Time `json:"first_response_at"`
	FirstResponseViolated         bool       `json:"first_response_violated"`
	ResolutionViolated            bool       `json:"resolution_violated"`
	SLAViolated                   bool       `json:"sla_violated"`
	AtRisk                        sla.Risk   `json:"at_risk"`
	FirstResponseRemainingMinutes *int64     `json:"first_response_remaining_minutes"`
	ResolutionRemainingMinutes    *int64     `json:"resolution_remaining_minutes"`
}

// Pagination echoes list paging parameters.
type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// NewTicketResponse maps a domain ticket.
func NewTicketResponse(t *domain.Ticket) TicketResponse {
	return TicketResponse{
		ID:                    t.ID,
		CompanyID:             t.CompanyID,
		OpenedBy:              t.OpenedBy,
		Title:                 t.Title,
		Description:           t.Description,
		Status:                t.Status,
		Priority:              t.Priority,
		Type:                  t.Type,
		Resolution:            t.Resolution,
		AssignedTo:            t.AssignedTo,
		EmployeeID:            t.EmployeeID,
		ProductID:             t.ProductID,
		FirstResponseAt:       t.FirstResponseAt,
		FirstResponseDeadline: t.FirstResponseDeadline,
		ResolutionDeadline:    t.ResolutionDeadline,
		SLAViolated:           t.SLAViolated,
		CreatedAt:             t.CreatedAt,
		UpdatedAt:             t.UpdatedAt,
	}
}

// NewTicketLogResponses maps audit entries.
func NewTicketLogResponses(logs []domain.TicketLog) []TicketLogResponse {
	out := make([]TicketLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, TicketLogResponse{
			ID:        l.ID,
			UserID:    l.UserID,
			Action:    l.Action,
			OldValue:  l.OldValue,
			NewValue:  l.NewValue,
			CreatedAt: l.CreatedAt,
		})
	}
	return out
}

// NewCommentResponse maps a comment.
func NewCommentResponse(c *domain.TicketComment) CommentResponse {
	return CommentResponse{ID: c.ID, TicketID: c.TicketID, UserID: c.UserID, Body: c.Body, CreatedAt: c.CreatedAt}
}
