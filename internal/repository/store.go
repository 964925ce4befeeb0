package repository

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrMissingTenantScope is returned when a query is issued without a tenant scope.
var ErrMissingTenantScope = errors.New("tenant scope required")

// TenantScope restricts reads to one company or, explicitly, to all of them.
// The zero value is invalid so that a forgotten scope never leaks data.
type TenantScope struct {
	companyID   string
	crossTenant bool
}

// ForCompany scopes queries to a single company.
func ForCompany(companyID string) TenantScope {
	return TenantScope{companyID: companyID}
}

// AllTenants is the super admin scope.
func AllTenants() TenantScope {
	return TenantScope{crossTenant: true}
}

// CompanyID returns the scoped company when the scope is single-tenant.
func (s TenantScope) CompanyID() (string, bool) {
	return s.companyID, !s.crossTenant && s.companyID != ""
}

// IsCrossTenant reports whether the scope spans all companies.
func (s TenantScope) IsCrossTenant() bool {
	return s.crossTenant
}

// Validate rejects the zero scope.
func (s TenantScope) Validate() error {
	if !s.crossTenant && s.companyID == "" {
		return ErrMissingTenantScope
	}
	return nil
}

// Allows reports whether a row owned by companyID is visible in the scope.
func (s TenantScope) Allows(companyID *string) bool {
	if s.crossTenant {
		return true
	}
	return companyID != nil && *companyID == s.companyID && s.companyID != ""
}

// Key is a stable identifier for caches.
func (s TenantScope) Key() string {
	if s.crossTenant {
		return "all"
	}
	return "company:" + s.companyID
}

// Store groups the repositories the ticket core needs and runs them
// inside one transaction when asked to.
type Store interface {
	Tickets() TicketRepository
	Logs() TicketLogRepository
	Comments() TicketCommentRepository
	Users() UserRepository
	Employees() EmployeeRepository
	Products() ProductRepository
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
	db   DBTX
	inTx bool
}

// NewPostgresStore wraps a pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, db: pool}
}

func (s *PostgresStore) Tickets() TicketRepository { return NewTicketRepository(s.db) }
func (s *PostgresStore) Logs() TicketLogRepository { return NewTicketLogRepository(s.db) }
func (s *PostgresStore) Comments() TicketCommentRepository { return NewTicketCommentRepository(s.db) }
func (s *PostgresStore) Users() UserRepository { return NewUserRepository(s.db) }
func (s *PostgresStore) Employees() EmployeeRepository { return NewEmployeeRepository(s.db) }
func (s *PostgresStore) Products() ProductRepository { return NewProductRepository(s.db) }

// WithinTx runs fn in a transaction. Nested calls reuse the outer transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if s.pool == nil {
		return errors.New("postgres pool not configured")
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PostgresStore{pool: s.pool, db: tx, inTx: true})
	})
}

// Ensure pgx types keep satisfying DBTX.
var (
	_ DBTX  = (*pgxpool.Pool)(nil)
	_ DBTX  = (pgx.Tx)(nil)
	_ Store = (*PostgresStore)(nil)
)

func scopeClause(scope TenantScope, column string, args []any) (string, []any) {
	if id, ok := scope.CompanyID(); ok {
		args = append(args, id)
		return column + "=$" + strconv.Itoa(len(args)), args
	}
	return "1=1", args
}
