package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/gearlog/ticket-service/internal/domain"
)

// TicketFilter captures list parameters. Scope is mandatory.
type TicketFilter struct {
	Scope      TenantScope
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

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, scope TenantScope, id string) (*domain.Ticket, error)
	GetByIDForUpdate(ctx context.Context, scope TenantScope, id string) (*domain.Ticket, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	ListAll(ctx context.Context, scope TenantScope) ([]domain.Ticket, error)
}

type ticketRepository struct {
	db DBTX
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(db DBTX) TicketRepository {
	return &ticketRepository{db: db}
}

const ticketColumns = `id, company_id, opened_by, assigned_to, employee_id, product_id,
               title, description, status, priority, type, resolution,
               first_response_at, first_response_deadline, resolution_deadline, sla_violated,
               created_at, updated_at`

var ticketSortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"priority":   "priority",
	"status":     "status",
	"title":      "title",
}

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (company_id, opened_by, assigned_to, employee_id, product_id, title, description,
            status, priority, type, resolution, first_response_at, first_response_deadline, resolution_deadline,
            sla_violated, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
        RETURNING id`
	return r.db.QueryRow(ctx, query,
		ticket.CompanyID,
		ticket.OpenedBy,
		ticket.AssignedTo,
		ticket.EmployeeID,
		ticket.ProductID,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.Type,
		ticket.Resolution,
		ticket.FirstResponseAt,
		ticket.FirstResponseDeadline,
		ticket.ResolutionDeadline,
		ticket.SLAViolated,
		ticket.CreatedAt,
		ticket.UpdatedAt,
	).Scan(&ticket.ID)
}

// Update writes the mutable columns. company_id, opened_by, deadlines and
// created_at are never rewritten.
func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET assigned_to=$1, employee_id=$2, product_id=$3, title=$4, description=$5,
            status=$6, priority=$7, type=$8, resolution=$9, first_response_at=$10, sla_violated=$11, updated_at=$12
        WHERE id=$13`
	cmd, err := r.db.Exec(ctx, query,
		ticket.AssignedTo,
		ticket.EmployeeID,
		ticket.ProductID,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Priority,
		ticket.Type,
		ticket.Resolution,
		ticket.FirstResponseAt,
		ticket.SLAViolated,
		ticket.UpdatedAt,
		ticket.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, scope TenantScope, id string) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, scope, id, "")
}

// GetByIDForUpdate locks the row until the surrounding transaction ends.
func (r *ticketRepository) GetByIDForUpdate(ctx context.Context, scope TenantScope, id string) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, scope, id, " FOR UPDATE")
}

func (r *ticketRepository) fetchSingle(ctx context.Context, scope TenantScope, id, suffix string) (*domain.Ticket, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	args := []any{id}
	clause, args := scopeClause(scope, "company_id", args)
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE id=$1 AND %s%s`, ticketColumns, clause, suffix)

	var ticket domain.Ticket
	if err := scanTicket(r.db.QueryRow(ctx, query, args...), &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM tickets WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) ListAll(ctx context.Context, scope TenantScope) ([]domain.Ticket, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	clause, args := scopeClause(scope, "company_id", nil)
	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at ASC`, ticketColumns, clause)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	if err := filter.Scope.Validate(); err != nil {
		return nil, err
	}
	scope, args := scopeClause(filter.Scope, "company_id", nil)
	clauses := []string{scope}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Priorities) > 0 {
		placeholders := make([]string, len(filter.Priorities))
		for i, pr := range filter.Priorities {
			args = append(args, pr)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("priority IN (%s)", strings.Join(placeholders, ",")))
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, tp := range filter.Types {
			args = append(args, tp)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("type IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.AssignedTo != nil {
		args = append(args, *filter.AssignedTo)
		clauses = append(clauses, fmt.Sprintf("assigned_to=$%d", len(args)))
	} else if filter.Unassigned {
		clauses = append(clauses, "assigned_to IS NULL")
	}
	if filter.EmployeeID != nil {
		args = append(args, *filter.EmployeeID)
		clauses = append(clauses, fmt.Sprintf("employee_id=$%d", len(args)))
	}
	if filter.ProductID != nil {
		args = append(args, *filter.ProductID)
		clauses = append(clauses, fmt.Sprintf("product_id=$%d", len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s)", placeholder, placeholder))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	sortColumn, ok := ticketSortColumns[filter.SortBy]
	if !ok {
		sortColumn = "created_at"
	}
	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY %s %s, id ASC LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), sortColumn, direction, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func scanTicket(row pgx.Row, ticket *domain.Ticket) error {
	return row.Scan(
		&ticket.ID,
		&ticket.CompanyID,
		&ticket.OpenedBy,
		&ticket.AssignedTo,
		&ticket.EmployeeID,
		&ticket.ProductID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Priority,
		&ticket.Type,
		&ticket.Resolution,
		&ticket.FirstResponseAt,
		&ticket.FirstResponseDeadline,
		&ticket.ResolutionDeadline,
		&ticket.SLAViolated,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}
