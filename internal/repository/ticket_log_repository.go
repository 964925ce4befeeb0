package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gearlog/ticket-service/internal/domain"
)

// TicketLogRepository stores append-only audit entries.
type TicketLogRepository interface {
	Append(ctx context.Context, entry *domain.TicketLog) error
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketLog, error)
	ListResolutionEntries(ctx context.Context, scope TenantScope) ([]domain.TicketLog, error)
	DeleteByTicket(ctx context.Context, ticketID string) (int64, error)
}

type ticketLogRepository struct {
	db DBTX
}

// NewTicketLogRepository builds repository.
func NewTicketLogRepository(db DBTX) TicketLogRepository {
	return &ticketLogRepository{db: db}
}

func (r *ticketLogRepository) Append(ctx context.Context, entry *domain.TicketLog) error {
	const query = `
        INSERT INTO ticket_logs (ticket_id, user_id, action, old_value, new_value, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id`
	return r.db.QueryRow(ctx, query,
		entry.TicketID,
		entry.UserID,
		entry.Action,
		entry.OldValue,
		entry.NewValue,
		entry.CreatedAt,
	).Scan(&entry.ID)
}

func (r *ticketLogRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketLog, error) {
	const query = `
        SELECT id, ticket_id, user_id, action, old_value, new_value, created_at
        FROM ticket_logs WHERE ticket_id=$1 ORDER BY created_at ASC, seq ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLogs(rows)
}

// ListResolutionEntries returns every entry that marks a ticket in scope as
// resolved or closed, oldest first.
func (r *ticketLogRepository) ListResolutionEntries(ctx context.Context, scope TenantScope) ([]domain.TicketLog, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	clause, args := scopeClause(scope, "t.company_id", nil)
	query := fmt.Sprintf(`
        SELECT l.id, l.ticket_id, l.user_id, l.action, l.old_value, l.new_value, l.created_at
        FROM ticket_logs l JOIN tickets t ON t.id = l.ticket_id
        WHERE %s AND (l.action = 'closed'
            OR (l.action = 'status_changed' AND l.new_value->>'status' IN ('resolved', 'closed')))
        ORDER BY l.created_at ASC, l.seq ASC`, clause)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLogs(rows)
}

func (r *ticketLogRepository) DeleteByTicket(ctx context.Context, ticketID string) (int64, error) {
	cmd, err := r.db.Exec(ctx, `DELETE FROM ticket_logs WHERE ticket_id=$1`, ticketID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanLogs(rows pgx.Rows) ([]domain.TicketLog, error) {
	var result []domain.TicketLog
	for rows.Next() {
		var entry domain.TicketLog
		if err := rows.Scan(
			&entry.ID,
			&entry.TicketID,
			&entry.UserID,
			&entry.Action,
			&entry.OldValue,
			&entry.NewValue,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
