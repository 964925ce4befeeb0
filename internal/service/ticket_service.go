package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/gearlog/ticket-service/internal/domain"
	"github.com/gearlog/ticket-service/internal/events"
	"github.com/gearlog/ticket-service/internal/repository"
	"github.com/gearlog/ticket-service/internal/sla"
	"github.com/gearlog/ticket-service/internal/tenancy"
	apperrors "github.com/gearlog/ticket-service/pkg/util/errorutil"
)

const maxTitleLength = 255

// DefaultClosableFrom lists the statuses a ticket may be closed from.
var DefaultClosableFrom = []domain.TicketStatus{
	domain.TicketStatusOpen,
	domain.TicketStatusInProgress,
	domain.TicketStatusWaitingParts,
	domain.TicketStatusResolved,
}

// TicketService is the ticket lifecycle engine. Every mutation runs in one
// store transaction and appends audit logs; events go out after commit.
type TicketService struct {
	store        repository.Store
	policy       *sla.Policy
	guard        *tenancy.Guard
	dispatcher   events.Sink
	clock        Clock
	logger       *zap.Logger
	closableFrom map[domain.TicketStatus]bool
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Store        repository.Store
	Policy       *sla.Policy
	Guard        *tenancy.Guard
	Dispatcher   events.Sink
	Clock        Clock
	Logger       *zap.Logger
	ClosableFrom []domain.TicketStatus
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	Title       string
	Description string
	Priority    domain.TicketPriority
	Type        domain.TicketType
	AssignedTo  *string
	EmployeeID  *string
	ProductID   *string
}

// TicketUpdateInput holds the editable fields; nil means unchanged.
type TicketUpdateInput struct {
	Title       *string
	Description *string
	Priority    *domain.TicketPriority
	Type        *domain.TicketType
	ProductID   *string
}

// TicketListFilter describes listing filters.
type TicketListFilter struct {
	AllTenants bool
	Statuses   []domain.TicketStatus
	Priorities []domain.TicketPriority
	Types      []domain.TicketType
	AssignedTo *string
	EmployeeID *string
	ProductID  *string
	Unassigned bool
	SearchTerm *string
	SortBy     string
	SortDesc   bool
	Limit      int
	Offset     int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	svc := &TicketService{
		store:        deps.Store,
		policy:       deps.Policy,
		guard:        deps.Guard,
		dispatcher:   deps.Dispatcher,
		clock:        deps.Clock,
		logger:       deps.Logger,
		closableFrom: make(map[domain.TicketStatus]bool),
	}
	if svc.policy == nil {
		svc.policy = sla.NewPolicy(nil, 0)
	}
	if svc.guard == nil {
		svc.guard = tenancy.NewGuard()
	}
	if svc.clock == nil {
		svc.clock = SystemClock
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	closable := deps.ClosableFrom
	if len(closable) == 0 {
		closable = DefaultClosableFrom
	}
	for _, status := range closable {
		svc.closableFrom[status] = true
	}
	return svc
}

// Policy returns the SLA policy used for deadlines.
func (s *TicketService) Policy() *sla.Policy {
	return s.policy
}

// CreateTicket opens a ticket in the opener's company.
func (s *TicketService) CreateTicket(ctx context.Context, actor domain.Actor, input TicketCreateInput) (*domain.Ticket, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	if err := validateText(title, description); err != nil {
		return nil, err
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.TicketPriorityMedium
	}
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": priority})
	}
	if !input.Type.Valid() {
		return nil, apperrors.NewValidationError("invalid type", map[string]any{"type": input.Type})
	}

	var (
		ticket   *domain.Ticket
		assignee *domain.User
		employee *domain.Employee
	)
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		opener, err := tx.Users().GetByID(ctx, actor.UserID)
		if err != nil {
			return notFoundOr(err, "user", actor.UserID)
		}

		now := s.clock.Now()
		deadlines := s.policy.CalculateDeadlines(priority, now)
		ticket = &domain.Ticket{
			CompanyID:             opener.CompanyID,
			OpenedBy:              opener.ID,
			Title:                 title,
			Description:           description,
			Status:                domain.TicketStatusOpen,
			Priority:              priority,
			Type:                  input.Type,
			FirstResponseDeadline: &deadlines.FirstResponse,
			ResolutionDeadline:    &deadlines.Resolution,
			CreatedAt:             now,
			UpdatedAt:             now,
		}

		if input.AssignedTo != nil {
			if assignee, err = s.loadAssignee(ctx, tx, ticket, *input.AssignedTo); err != nil {
				return err
			}
			ticket.AssignedTo = &assignee.ID
		}
		if input.EmployeeID != nil {
			if employee, err = s.loadEmployee(ctx, tx, ticket, *input.EmployeeID); err != nil {
				return err
			}
			ticket.EmployeeID = &employee.ID
		}
		var product *domain.Product
		if input.ProductID != nil {
			if product, err = s.loadProduct(ctx, tx, ticket, *input.ProductID); err != nil {
				return err
			}
			ticket.ProductID = &product.ID
		}

		if err := tx.Tickets().Create(ctx, ticket); err != nil {
			return fmt.Errorf("create ticket: %w", err)
		}
		if ticket.Type == domain.TicketTypeDamage && product != nil {
			if err := tx.Products().UpdateStatus(ctx, product.ID, domain.ProductStatusDamaged, now); err != nil {
				return fmt.Errorf("mark product damaged: %w", err)
			}
		}
		return s.appendLog(ctx, tx, ticket.ID, actor.UserID, domain.LogActionCreated, nil, creationSnapshot(ticket))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("ticket created", zap.String("ticket_id", ticket.ID), zap.String("actor_id", actor.UserID))
	s.publishEvent(ctx, ticket, actor, events.EventTicketCreated, events.TicketCreatedPayload{
		Title:     ticket.Title,
		Priority:  ticket.Priority,
		Type:      ticket.Type,
		ProductID: ticket.ProductID,
		OpenedBy:  ticket.OpenedBy,
	})
	if assignee != nil || employee != nil {
		s.publishEvent(ctx, ticket, actor, events.EventTicketAssigned, events.TicketAssignedPayload{
			AssignedTo: userRef(assignee),
			Employee:   employeeRef(employee),
		})
	}
	return ticket, nil
}

// UpdateTicket applies changed editable fields. Deadlines stay as computed
// at creation even when the priority changes.
func (s *TicketService) UpdateTicket(ctx context.Context, actor domain.Actor, ticketID string, input TicketUpdateInput) (*domain.Ticket, error) {
	scope, err := s.actorScope(actor)
	if err != nil {
		return nil, err
	}

	var (
		ticket  *domain.Ticket
		changed []string
	)
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		if ticket, err = s.lockTicket(ctx, tx, scope, ticketID); err != nil {
			return err
		}
		violated := s.violationPending(ticket)

		oldValues, newValues := &domain.LogValues{}, &domain.LogValues{}
		if input.Title != nil {
			title := strings.TrimSpace(*input.Title)
			if title == "" || utf8.RuneCountInString(title) > maxTitleLength {
				return apperrors.NewValidationError("title must be 1-255 characters", nil)
			}
			if title != ticket.Title {
				oldValues.Title, newValues.Title = strPtr(ticket.Title), strPtr(title)
				ticket.Title = title
				changed = append(changed, "title")
			}
		}
		if input.Description != nil {
			description := strings.TrimSpace(*input.Description)
			if description == "" {
				return apperrors.NewValidationError("description required", nil)
			}
			if description != ticket.Description {
				oldValues.Description, newValues.Description = strPtr(ticket.Description), strPtr(description)
				ticket.Description = description
				changed = append(changed, "description")
			}
		}
		if input.Priority != nil && *input.Priority != ticket.Priority {
			if !input.Priority.Valid() {
				return apperrors.NewValidationError("invalid priority", map[string]any{"priority": *input.Priority})
			}
			old := ticket.Priority
			oldValues.Priority, newValues.Priority = &old, input.Priority
			ticket.Priority = *input.Priority
			changed = append(changed, "priority")
		}
		if input.Type != nil && *input.Type != ticket.Type {
			if !input.Type.Valid() {
				return apperrors.NewValidationError("invalid type", map[string]any{"type": *input.Type})
			}
			old := ticket.Type
			oldValues.Type, newValues.Type = &old, input.Type
			ticket.Type = *input.Type
			changed = append(changed, "type")
		}
		if input.ProductID != nil && !sameID(ticket.ProductID, input.ProductID) {
			product, err := s.loadProduct(ctx, tx, ticket, *input.ProductID)
			if err != nil {
				return err
			}
			oldValues.ProductID, newValues.ProductID = ticket.ProductID, &product.ID
			ticket.ProductID = &product.ID
			changed = append(changed, "product_id")
		}

		// A no-op update writes nothing, so the caller sees the stored row.
		if len(changed) == 0 {
			return nil
		}
		if violated {
			ticket.SLAViolated = true
		}
		if err := s.save(ctx, tx, ticket); err != nil {
			return err
		}
		return s.appendLog(ctx, tx, ticket.ID, actor.UserID, domain.LogActionStatusChanged, oldValues, newValues)
	})
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		s.logger.Debug("ticket updated", zap.String("ticket_id", ticket.ID), zap.Strings("changed", changed))
		s.publishEvent(ctx, ticket, actor, events.EventTicketUpdated, events.TicketUpdatedPayload{Changed: changed})
	}
	return ticket, nil
}

// UpdateStatus moves the ticket to newStatus. Resolving always needs a
// resolution; closing needs one unless the ticket was already resolved.
func (s *TicketService) UpdateStatus(ctx context.Context, actor domain.Actor, ticketID string, newStatus domain.TicketStatus, resolution *string) (*domain.Ticket, error) {
	if !newStatus.Valid() {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": newStatus})
	}
	scope, err := s.actorScope(actor)
	if err != nil {
		return nil, err
	}
	resolution = trimmedOrNil(resolution)

	var (
		ticket    *domain.Ticket
		oldStatus domain.TicketStatus
	)
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		if ticket, err = s.lockOpenTicket(ctx, tx, scope, ticketID); err != nil {
			return err
		}
		oldStatus = ticket.Status
		details := map[string]any{"ticket_id": ticket.ID, "current_status": oldStatus, "new_status": newStatus}

		if newStatus == domain.TicketStatusResolved && resolution == nil {
			return apperrors.NewResolutionRequired("a resolution is required to resolve the ticket", details)
		}
		if newStatus == domain.TicketStatusClosed {
			if oldStatus != domain.TicketStatusResolved && resolution == nil {
				return apperrors.NewResolutionRequired("a resolution is required to close an unresolved ticket", details)
			}
			if !s.canBeClosed(ticket) {
				return apperrors.NewInvalidTransition("ticket cannot be closed from its current status", details)
			}
		}

		now := s.clock.Now()
		if newStatus != oldStatus && ticket.FirstResponseAt == nil {
			ticket.FirstResponseAt = &now
		}
		ticket.Status = newStatus
		if resolution != nil {
			ticket.Resolution = resolution
		}
		if err := s.save(ctx, tx, ticket); err != nil {
			return err
		}

		oldValues := &domain.LogValues{Status: &oldStatus}
		newValues := &domain.LogValues{Status: &newStatus, Resolution: resolution}
		if err := s.appendLog(ctx, tx, ticket.ID, actor.UserID, domain.LogActionStatusChanged, oldValues, newValues); err != nil {
			return err
		}
		if newStatus == domain.TicketStatusClosed {
			closed := &domain.LogValues{Status: &newStatus, Resolution: ticket.Resolution}
			return s.appendLog(ctx, tx, ticket.ID, actor.UserID, domain.LogActionClosed, &domain.LogValues{Status: &oldStatus}, closed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if oldStatus != newStatus {
		s.logger.Debug("ticket status changed",
			zap.String("ticket_id", ticket.ID),
			zap.String("old_status", string(oldStatus)),
			zap.String("new_status", string(newStatus)))
		s.publishEvent(ctx, ticket, actor, events.EventTicketStatusChanged, events.TicketStatusChangedPayload{
			OldStatus:  oldStatus,
			NewStatus:  newStatus,
			Resolution: ticket.Resolution,
		})
	}
	return ticket, nil
}

// AssignTicket sets or clears the technician. assignedTo nil unassigns.
func (s *TicketService) AssignTicket(ctx context.Context, actor domain.Actor, ticketID string, assignedTo *string) (*domain.Ticket, error) {
	scope, err := s.actorScope(actor)
	if err != nil {
		return nil, err
	}

	var (
		ticket   *domain.Ticket
		assignee *domain.User
	)
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		if ticket, err = s.lockOpenTicket(ctx, tx, scope, ticketID); err != nil {
			return err
		}
		if assignedTo != nil {
			if assignee, err = s.loadAssignee(ctx, tx, ticket, *assignedTo); err != nil {
				return err
			}
		}

		old := ticket.AssignedTo
		action := domain.LogActionUnassigned
		ticket.AssignedTo = nil
		if assignee != nil {
			action = domain.LogActionAssigned
			ticket.AssignedTo = &assignee.ID
		}
		if err := s.save(ctx, tx, ticket); err != nil {
			return err
		}
		if err := s.appendLog(ctx, tx, ticket.ID, actor.UserID, action,
			&domain.LogValues{AssignedTo: old}, &domain.LogValues{AssignedTo: ticket.AssignedTo}); err != nil {
			return err
		}
		ticket, err = tx.Tickets().GetByID(ctx, scope, ticket.ID)
		if err != nil {
			return fmt.Errorf("reload ticket: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("ticket assigned", zap.String("ticket_id", ticket.ID), zap.Stringp("assigned_to", ticket.AssignedTo))
	s.publishEvent(ctx, ticket, actor, events.EventTicketAssigned, events.TicketAssignedPayload{
		AssignedTo: userRef(assignee),
	})
	return ticket, nil
}

// AssignTicketToEmployee links the ticket to an employee. employeeID nil clears it.
func (s *TicketService) AssignTicketToEmployee(ctx context.Context, actor domain.Actor, ticketID string, employeeID *string) (*domain.Ticket, error) {
	scope, err := s.actorScope(actor)
	if err != nil {
		return nil, err
	}

	var (
		ticket   *domain.Ticket
		employee *domain.Employee
	)
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		if ticket, err = s.lockOpenTicket(ctx, tx, scope, ticketID); err != nil {
			return err
		}
		if employeeID != nil {
			if employee, err = s.loadEmployee(ctx, tx, ticket, *employeeID); err != nil {
				return err
			}
		}

		old := ticket.EmployeeID
		ticket.EmployeeID = nil
		if employee != nil {
			ticket.EmployeeID = &employee.ID
		}
		if err := s.save(ctx, tx, ticket); err != nil {
			return err
		}
		if err := s.appendLog(ctx, tx, ticket.ID, actor.UserID, domain.LogActionAssignedToEmployee,
			&domain.LogValues{EmployeeID: old}, &domain.LogValues{EmployeeID: ticket.EmployeeID}); err != nil {
			return err
		}
		ticket, err = tx.Tickets().GetByID(ctx, scope, ticket.ID)
		if err != nil {
			return fmt.Errorf("reload ticket: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, ticket, actor, events.EventTicketAssigned, events.TicketAssignedPayload{
		Employee: employeeRef(employee),
	})
	return ticket, nil
}

// AddComment posts a comment. A comment from anyone but the opener counts
// as the first response.
func (s *TicketService) AddComment(ctx context.Context, actor domain.Actor, ticketID, body string) (*domain.TicketComment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.NewValidationError("comment body required", nil)
	}
	scope, err := s.actorScope(actor)
	if err != nil {
		return nil, err
	}

	var (
		ticket  *domain.Ticket
		comment *domain.TicketComment
	)
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		if ticket, err = s.lockOpenTicket(ctx, tx, scope, ticketID); err != nil {
			return err
		}
		now := s.clock.Now()
		comment = &domain.TicketComment{TicketID: ticket.ID, UserID: actor.UserID, Body: body, CreatedAt: now}
		if err := tx.Comments().Create(ctx, comment); err != nil {
			return fmt.Errorf("create comment: %w", err)
		}
		if ticket.FirstResponseAt == nil && actor.UserID != ticket.OpenedBy {
			ticket.FirstResponseAt = &now
		}
		if err := s.save(ctx, tx, ticket); err != nil {
			return err
		}
		return s.appendLog(ctx, tx, ticket.ID, actor.UserID, domain.LogActionCommentAdded, nil,
			&domain.LogValues{CommentID: &comment.ID})
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, ticket, actor, events.EventTicketCommentAdded, events.TicketCommentAddedPayload{
		CommentID:   comment.ID,
		BodyPreview: stringPreview(comment.Body, 120),
	})
	return comment, nil
}

// DeleteTicket removes the ticket with its comments and logs. Admin only.
func (s *TicketService) DeleteTicket(ctx context.Context, actor domain.Actor, ticketID string) (bool, error) {
	if !actor.IsAdmin() {
		return false, apperrors.NewForbidden("only admins can delete tickets")
	}
	scope, err := s.actorScope(actor)
	if err != nil {
		return false, err
	}

	var (
		ticket  *domain.Ticket
		payload events.TicketDeletedPayload
	)
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		ticket, err = tx.Tickets().GetByIDForUpdate(ctx, scope, ticketID)
		if err != nil {
			return notFoundOr(err, "ticket", ticketID)
		}
		if payload.CommentsDeleted, err = tx.Comments().DeleteByTicket(ctx, ticket.ID); err != nil {
			return fmt.Errorf("delete comments: %w", err)
		}
		if payload.LogsDeleted, err = tx.Logs().DeleteByTicket(ctx, ticket.ID); err != nil {
			return fmt.Errorf("delete logs: %w", err)
		}
		if err := tx.Tickets().Delete(ctx, ticket.ID); err != nil {
			return fmt.Errorf("delete ticket: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	s.logger.Info("ticket deleted", zap.String("ticket_id", ticket.ID), zap.String("actor_id", actor.UserID))
	s.publishEvent(ctx, ticket, actor, events.EventTicketDeleted, payload)
	return true, nil
}

// GetTicket returns a ticket visible to the actor.
func (s *TicketService) GetTicket(ctx context.Context, actor domain.Actor, ticketID string) (*domain.Ticket, error) {
	scope, err := s.actorScope(actor)
	if err != nil {
		return nil, err
	}
	ticket, err := s.store.Tickets().GetByID(ctx, scope, ticketID)
	if err != nil {
		return nil, notFoundOr(err, "ticket", ticketID)
	}
	return ticket, nil
}

// ListTickets returns tickets in the actor's scope.
func (s *TicketService) ListTickets(ctx context.Context, actor domain.Actor, filter TicketListFilter) ([]domain.Ticket, error) {
	scope, err := ScopeForActor(actor, filter.AllTenants)
	if err != nil {
		return nil, err
	}
	return s.store.Tickets().List(ctx, repository.TicketFilter{
		Scope:      scope,
		Statuses:   filter.Statuses,
		Priorities: filter.Priorities,
		Types:      filter.Types,
		AssignedTo: filter.AssignedTo,
		EmployeeID: filter.EmployeeID,
		ProductID:  filter.ProductID,
		Unassigned: filter.Unassigned,
		SearchTerm: filter.SearchTerm,
		SortBy:     filter.SortBy,
		SortDesc:   filter.SortDesc,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}

// ListLogs returns the audit trail of a ticket, oldest first.
func (s *TicketService) ListLogs(ctx context.Context, actor domain.Actor, ticketID string) ([]domain.TicketLog, error) {
	ticket, err := s.GetTicket(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	return s.store.Logs().ListByTicket(ctx, ticket.ID)
}

// ListComments returns the comment thread of a ticket.
func (s *TicketService) ListComments(ctx context.Context, actor domain.Actor, ticketID string) ([]domain.TicketComment, error) {
	ticket, err := s.GetTicket(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	return s.store.Comments().ListByTicket(ctx, ticket.ID)
}

// TicketSLAView summarizes a ticket's deadlines at a point in time.
type TicketSLAView struct {
	FirstResponseDeadline      *time.Time
	ResolutionDeadline         *time.Time
	FirstResponseAt            *time.Time
	FirstResponseViolated      bool
	ResolutionViolated         bool
	SLAViolated                bool
	AtRisk                     sla.Risk
	FirstResponseRemainingMins *int64
	ResolutionRemainingMins    *int64
}

// SLAStatus evaluates a ticket against the SLA policy now.
func (s *TicketService) SLAStatus(ctx context.Context, actor domain.Actor, ticketID string) (*TicketSLAView, error) {
	ticket, err := s.GetTicket(ctx, actor, ticketID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	view := &TicketSLAView{
		FirstResponseDeadline: ticket.FirstResponseDeadline,
		ResolutionDeadline:    ticket.ResolutionDeadline,
		FirstResponseAt:       ticket.FirstResponseAt,
		FirstResponseViolated: s.policy.IsFirstResponseViolated(ticket, now),
		ResolutionViolated:    s.policy.IsResolutionViolated(ticket, now),
		AtRisk:                s.policy.IsAtRisk(ticket, now),
	}
	view.SLAViolated = ticket.SLAViolated || view.FirstResponseViolated || view.ResolutionViolated
	if mins, ok := s.policy.TimeRemaining(ticket, now, sla.DeadlineFirstResponse); ok {
		view.FirstResponseRemainingMins = &mins
	}
	if mins, ok := s.policy.TimeRemaining(ticket, now, sla.DeadlineResolution); ok {
		view.ResolutionRemainingMins = &mins
	}
	return view, nil
}

func (s *TicketService) actorScope(actor domain.Actor) (repository.TenantScope, error) {
	return ScopeForActor(actor, false)
}

// canBeClosed is the configurable close predicate.
func (s *TicketService) canBeClosed(ticket *domain.Ticket) bool {
	return s.closableFrom[ticket.Status]
}

func (s *TicketService) lockOpenTicket(ctx context.Context, tx repository.Store, scope repository.TenantScope, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.lockTicket(ctx, tx, scope, ticketID)
	if err != nil {
		return nil, err
	}
	// sla_violated is sticky and judged on the state before this mutation.
	if s.violationPending(ticket) {
		ticket.SLAViolated = true
	}
	return ticket, nil
}

// lockTicket loads and locks a non-closed ticket without touching its SLA flag.
func (s *TicketService) lockTicket(ctx context.Context, tx repository.Store, scope repository.TenantScope, ticketID string) (*domain.Ticket, error) {
	ticket, err := tx.Tickets().GetByIDForUpdate(ctx, scope, ticketID)
	if err != nil {
		return nil, notFoundOr(err, "ticket", ticketID)
	}
	if ticket.Status == domain.TicketStatusClosed {
		return nil, apperrors.NewTicketClosed(ticket.ID)
	}
	return ticket, nil
}

func (s *TicketService) violationPending(ticket *domain.Ticket) bool {
	return !ticket.SLAViolated && s.policy.IsViolated(ticket, s.clock.Now())
}

func (s *TicketService) loadAssignee(ctx context.Context, tx repository.Store, ticket *domain.Ticket, userID string) (*domain.User, error) {
	user, err := tx.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, notFoundOr(err, "user", userID)
	}
	if err := s.guard.AssertSameCompany(tenancy.FieldAssignedUser, ticket.CompanyID, user.CompanyID); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *TicketService) loadEmployee(ctx context.Context, tx repository.Store, ticket *domain.Ticket, employeeID string) (*domain.Employee, error) {
	employee, err := tx.Employees().GetByID(ctx, employeeID)
	if err != nil {
		return nil, notFoundOr(err, "employee", employeeID)
	}
	if err := s.guard.AssertSameCompany(tenancy.FieldAssignedEmployee, ticket.CompanyID, employee.CompanyID); err != nil {
		return nil, err
	}
	return employee, nil
}

func (s *TicketService) loadProduct(ctx context.Context, tx repository.Store, ticket *domain.Ticket, productID string) (*domain.Product, error) {
	product, err := tx.Products().GetByID(ctx, productID)
	if err != nil {
		return nil, notFoundOr(err, "product", productID)
	}
	if err := s.guard.AssertSameCompany(tenancy.FieldProduct, ticket.CompanyID, product.CompanyID); err != nil {
		return nil, err
	}
	return product, nil
}

// save stamps updated_at and writes the row.
func (s *TicketService) save(ctx context.Context, tx repository.Store, ticket *domain.Ticket) error {
	ticket.UpdatedAt = s.clock.Now()
	if err := tx.Tickets().Update(ctx, ticket); err != nil {
		return notFoundOr(err, "ticket", ticket.ID)
	}
	return nil
}

func (s *TicketService) appendLog(ctx context.Context, tx repository.Store, ticketID, actorID string, action domain.LogAction, oldValue, newValue *domain.LogValues) error {
	entry := &domain.TicketLog{
		TicketID:  ticketID,
		UserID:    actorID,
		Action:    action,
		OldValue:  nilIfEmpty(oldValue),
		NewValue:  nilIfEmpty(newValue),
		CreatedAt: s.clock.Now(),
	}
	if err := tx.Logs().Append(ctx, entry); err != nil {
		return fmt.Errorf("append %s log: %w", action, err)
	}
	return nil
}

// publishEvent hands the event to the sink. Failures never reach the caller.
func (s *TicketService) publishEvent(ctx context.Context, ticket *domain.Ticket, actor domain.Actor, eventType events.EventType, payload any) {
	if s.dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		TicketID:  ticket.ID,
		CompanyID: ticket.CompanyID,
		ActorID:   actor.UserID,
		Timestamp: s.clock.Now(),
		Payload:   payload,
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event sink panicked", zap.String("event_type", string(eventType)), zap.Any("panic", r))
		}
	}()
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("event emission failed",
			zap.String("event_type", string(eventType)),
			zap.String("ticket_id", ticket.ID),
			zap.Error(err))
	}
}

func validateText(title, description string) error {
	details := map[string]any{}
	if title == "" {
		details["title"] = "required"
	} else if utf8.RuneCountInString(title) > maxTitleLength {
		details["title"] = "too long"
	}
	if description == "" {
		details["description"] = "required"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid ticket payload", details)
	}
	return nil
}

func creationSnapshot(ticket *domain.Ticket) *domain.LogValues {
	status, priority, ticketType := ticket.Status, ticket.Priority, ticket.Type
	return &domain.LogValues{
		Title:      strPtr(ticket.Title),
		Status:     &status,
		Priority:   &priority,
		Type:       &ticketType,
		ProductID:  ticket.ProductID,
		AssignedTo: ticket.AssignedTo,
		EmployeeID: ticket.EmployeeID,
	}
}

func notFoundOr(err error, resource, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound(resource, map[string]any{resource + "_id": id})
	}
	return fmt.Errorf("load %s: %w", resource, err)
}

func userRef(user *domain.User) *events.UserRef {
	if user == nil {
		return nil
	}
	return &events.UserRef{ID: user.ID, Name: user.Name, Email: user.Email}
}

func employeeRef(employee *domain.Employee) *events.EmployeeRef {
	if employee == nil {
		return nil
	}
	return &events.EmployeeRef{ID: employee.ID, Name: employee.Name}
}

func nilIfEmpty(v *domain.LogValues) *domain.LogValues {
	if v.Empty() {
		return nil
	}
	return v
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func sameID(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func strPtr(s string) *string {
	return &s
}

func stringPreview(body string, limit int) string {
	runes := []rune(strings.TrimSpace(body))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "..."
}
