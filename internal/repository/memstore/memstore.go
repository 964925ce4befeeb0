// Package memstore is an in-memory repository.Store used by tests and
// local tooling. Transactions work on a copy of the data set that is
// swapped in only when the callback succeeds.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gearlog/ticket-service/internal/domain"
	"github.com/gearlog/ticket-service/internal/repository"
)

// Operation names accepted by FailNext.
const (
	OpTicketCreate          = "tickets.create"
	OpTicketUpdate          = "tickets.update"
	OpTicketDelete          = "tickets.delete"
	OpLogAppend             = "logs.append"
	OpCommentCreate         = "comments.create"
	OpCommentDeleteByTicket = "comments.delete_by_ticket"
	OpProductUpdateStatus   = "products.update_status"
)

type dataset struct {
	tickets   map[string]domain.Ticket
	logs      []domain.TicketLog
	comments  []domain.TicketComment
	users     map[string]domain.User
	employees map[string]domain.Employee
	products  map[string]domain.Product
	seq       int
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		tickets:   make(map[string]domain.Ticket, len(d.tickets)),
		logs:      append([]domain.TicketLog(nil), d.logs...),
		comments:  append([]domain.TicketComment(nil), d.comments...),
		users:     make(map[string]domain.User, len(d.users)),
		employees: make(map[string]domain.Employee, len(d.employees)),
		products:  make(map[string]domain.Product, len(d.products)),
		seq:       d.seq,
	}
	for k, v := range d.tickets {
		c.tickets[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.employees {
		c.employees[k] = v
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	return c
}

func (d *dataset) nextID(prefix string) string {
	d.seq++
	return fmt.Sprintf("%s-%d", prefix, d.seq)
}

type failures struct {
	mu  sync.Mutex
	ops map[string]error
}

func (f *failures) take(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err, ok := f.ops[op]
	if ok {
		delete(f.ops, op)
	}
	return err
}

// Store implements repository.Store over maps.
type Store struct {
	mu    *sync.Mutex
	data  *dataset
	inTx  bool
	fails *failures
}

var _ repository.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		mu: &sync.Mutex{},
		data: &dataset{
			tickets:   make(map[string]domain.Ticket),
			users:     make(map[string]domain.User),
			employees: make(map[string]domain.Employee),
			products:  make(map[string]domain.Product),
		},
		fails: &failures{ops: make(map[string]error)},
	}
}

// FailNext makes the next call of op return err.
func (s *Store) FailNext(op string, err error) {
	s.fails.mu.Lock()
	defer s.fails.mu.Unlock()
	s.fails.ops[op] = err
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// WithinTx runs fn against a copy and commits it when fn returns nil.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &Store{mu: s.mu, data: s.data.clone(), inTx: true, fails: s.fails}
	if err := fn(tx); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

func (s *Store) Tickets() repository.TicketRepository { return ticketRepo{s} }
func (s *Store) Logs() repository.TicketLogRepository { return logRepo{s} }
func (s *Store) Comments() repository.TicketCommentRepository { return commentRepo{s} }
func (s *Store) Users() repository.UserRepository { return userRepo{s} }
func (s *Store) Employees() repository.EmployeeRepository { return employeeRepo{s} }
func (s *Store) Products() repository.ProductRepository { return productRepo{s} }

// AddUser seeds a user.
func (s *Store) AddUser(u domain.User) {
	defer s.lock()()
	s.data.users[u.ID] = u
}

// AddEmployee seeds an employee.
func (s *Store) AddEmployee(e domain.Employee) {
	defer s.lock()()
	s.data.employees[e.ID] = e
}

// AddProduct seeds a product.
func (s *Store) AddProduct(p domain.Product) {
	defer s.lock()()
	s.data.products[p.ID] = p
}

// PutTicket stores a ticket as-is, assigning an id when empty.
func (s *Store) PutTicket(t domain.Ticket) domain.Ticket {
	defer s.lock()()
	if t.ID == "" {
		t.ID = s.data.nextID("ticket")
	}
	s.data.tickets[t.ID] = t
	return t
}

// PutLog stores a log entry as-is.
func (s *Store) PutLog(l domain.TicketLog) {
	defer s.lock()()
	if l.ID == "" {
		l.ID = s.data.nextID("log")
	}
	s.data.logs = append(s.data.logs, l)
}

// Ticket returns the stored ticket.
func (s *Store) Ticket(id string) (domain.Ticket, bool) {
	defer s.lock()()
	t, ok := s.data.tickets[id]
	return t, ok
}

// Product returns the stored product.
func (s *Store) Product(id string) (domain.Product, bool) {
	defer s.lock()()
	p, ok := s.data.products[id]
	return p, ok
}

// TicketCount returns the number of stored tickets.
func (s *Store) TicketCount() int {
	defer s.lock()()
	return len(s.data.tickets)
}

// LogsFor returns the logs of a ticket in insertion order.
func (s *Store) LogsFor(ticketID string) []domain.TicketLog {
	defer s.lock()()
	var out []domain.TicketLog
	for _, l := range s.data.logs {
		if l.TicketID == ticketID {
			out = append(out, l)
		}
	}
	return out
}

// CommentsFor returns the comments of a ticket.
func (s *Store) CommentsFor(ticketID string) []domain.TicketComment {
	defer s.lock()()
	var out []domain.TicketComment
	for _, c := range s.data.comments {
		if c.TicketID == ticketID {
			out = append(out, c)
		}
	}
	return out
}

type ticketRepo struct{ s *Store }

func (r ticketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	defer r.s.lock()()
	if err := r.s.fails.take(OpTicketCreate); err != nil {
		return err
	}
	ticket.ID = r.s.data.nextID("ticket")
	r.s.data.tickets[ticket.ID] = *ticket
	return nil
}

func (r ticketRepo) Update(_ context.Context, ticket *domain.Ticket) error {
	defer r.s.lock()()
	if err := r.s.fails.take(OpTicketUpdate); err != nil {
		return err
	}
	current, ok := r.s.data.tickets[ticket.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	updated := *ticket
	updated.CompanyID = current.CompanyID
	updated.OpenedBy = current.OpenedBy
	updated.FirstResponseDeadline = current.FirstResponseDeadline
	updated.ResolutionDeadline = current.ResolutionDeadline
	updated.CreatedAt = current.CreatedAt
	r.s.data.tickets[ticket.ID] = updated
	return nil
}

func (r ticketRepo) GetByID(_ context.Context, scope repository.TenantScope, id string) (*domain.Ticket, error) {
	defer r.s.lock()()
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	t, ok := r.s.data.tickets[id]
	if !ok || !scope.Allows(t.CompanyID) {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (r ticketRepo) GetByIDForUpdate(ctx context.Context, scope repository.TenantScope, id string) (*domain.Ticket, error) {
	return r.GetByID(ctx, scope, id)
}

func (r ticketRepo) Delete(_ context.Context, id string) error {
	defer r.s.lock()()
	if err := r.s.fails.take(OpTicketDelete); err != nil {
		return err
	}
	if _, ok := r.s.data.tickets[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.s.data.tickets, id)
	return nil
}

func (r ticketRepo) ListAll(_ context.Context, scope repository.TenantScope) ([]domain.Ticket, error) {
	defer r.s.lock()()
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var out []domain.Ticket
	for _, t := range r.s.data.tickets {
		if scope.Allows(t.CompanyID) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r ticketRepo) List(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	all, err := r.ListAll(ctx, filter.Scope)
	if err != nil {
		return nil, err
	}
	var out []domain.Ticket
	for _, t := range all {
		if matches(t, filter) {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := sortKey(out[i], filter.SortBy), sortKey(out[j], filter.SortBy)
		if filter.SortDesc {
			return a > b
		}
		return a < b
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func matches(t domain.Ticket, f repository.TicketFilter) bool {
	if len(f.Statuses) > 0 && !contains(f.Statuses, t.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !contains(f.Priorities, t.Priority) {
		return false
	}
	if len(f.Types) > 0 && !contains(f.Types, t.Type) {
		return false
	}
	if f.AssignedTo != nil {
		if t.AssignedTo == nil || *t.AssignedTo != *f.AssignedTo {
			return false
		}
	} else if f.Unassigned && t.AssignedTo != nil {
		return false
	}
	if f.EmployeeID != nil && (t.EmployeeID == nil || *t.EmployeeID != *f.EmployeeID) {
		return false
	}
	if f.ProductID != nil && (t.ProductID == nil || *t.ProductID != *f.ProductID) {
		return false
	}
	if f.SearchTerm != nil {
		term := strings.ToLower(strings.TrimSpace(*f.SearchTerm))
		if term != "" && !strings.Contains(strings.ToLower(t.Title), term) &&
			!strings.Contains(strings.ToLower(t.Description), term) {
			return false
		}
	}
	return true
}

func contains[T comparable](values []T, v T) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func sortKey(t domain.Ticket, column string) string {
	switch column {
	case "updated_at":
		return t.UpdatedAt.Format(time.RFC3339Nano)
	case "priority":
		return string(t.Priority)
	case "status":
		return string(t.Status)
	case "title":
		return t.Title
	default:
		return t.CreatedAt.Format(time.RFC3339Nano)
	}
}

type logRepo struct{ s *Store }

func (r logRepo) Append(_ context.Context, entry *domain.TicketLog) error {
	defer r.s.lock()()
	if err := r.s.fails.take(OpLogAppend); err != nil {
		return err
	}
	entry.ID = r.s.data.nextID("log")
	r.s.data.logs = append(r.s.data.logs, *entry)
	return nil
}

func (r logRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketLog, error) {
	defer r.s.lock()()
	var out []domain.TicketLog
	for _, l := range r.s.data.logs {
		if l.TicketID == ticketID {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r logRepo) ListResolutionEntries(_ context.Context, scope repository.TenantScope) ([]domain.TicketLog, error) {
	defer r.s.lock()()
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	var out []domain.TicketLog
	for _, l := range r.s.data.logs {
		t, ok := r.s.data.tickets[l.TicketID]
		if !ok || !scope.Allows(t.CompanyID) || !l.ResolvesTicket() {
			continue
		}
		out = append(out, l)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r logRepo) DeleteByTicket(_ context.Context, ticketID string) (int64, error) {
	defer r.s.lock()()
	kept := r.s.data.logs[:0:0]
	var removed int64
	for _, l := range r.s.data.logs {
		if l.TicketID == ticketID {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	r.s.data.logs = kept
	return removed, nil
}

type commentRepo struct{ s *Store }

func (r commentRepo) Create(_ context.Context, comment *domain.TicketComment) error {
	defer r.s.lock()()
	if err := r.s.fails.take(OpCommentCreate); err != nil {
		return err
	}
	comment.ID = r.s.data.nextID("comment")
	r.s.data.comments = append(r.s.data.comments, *comment)
	return nil
}

func (r commentRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.TicketComment, error) {
	defer r.s.lock()()
	var out []domain.TicketComment
	for _, c := range r.s.data.comments {
		if c.TicketID == ticketID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r commentRepo) DeleteByTicket(_ context.Context, ticketID string) (int64, error) {
	defer r.s.lock()()
	if err := r.s.fails.take(OpCommentDeleteByTicket); err != nil {
		return 0, err
	}
	kept := r.s.data.comments[:0:0]
	var removed int64
	for _, c := range r.s.data.comments {
		if c.TicketID == ticketID {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	r.s.data.comments = kept
	return removed, nil
}

type userRepo struct{ s *Store }

func (r userRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	defer r.s.lock()()
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &u, nil
}

func (r userRepo) ListByIDs(_ context.Context, ids []string) ([]domain.User, error) {
	defer r.s.lock()()
	var out []domain.User
	for _, id := range ids {
		if u, ok := r.s.data.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

type employeeRepo struct{ s *Store }

func (r employeeRepo) GetByID(_ context.Context, id string) (*domain.Employee, error) {
	defer r.s.lock()()
	e, ok := r.s.data.employees[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &e, nil
}

type productRepo struct{ s *Store }

func (r productRepo) GetByID(_ context.Context, id string) (*domain.Product, error) {
	defer r.s.lock()()
	p, ok := r.s.data.products[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &p, nil
}

func (r productRepo) ListByIDs(_ context.Context, ids []string) ([]domain.Product, error) {
	defer r.s.lock()()
	var out []domain.Product
	for _, id := range ids {
		if p, ok := r.s.data.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r productRepo) UpdateStatus(_ context.Context, id string, status domain.ProductStatus, at time.Time) error {
	defer r.s.lock()()
	if err := r.s.fails.take(OpProductUpdateStatus); err != nil {
		return err
	}
	p, ok := r.s.data.products[id]
	if !ok {
		return pgx.ErrNoRows
	}
	p.Status = status
	p.UpdatedAt = at
	r.s.data.products[id] = p
	return nil
}
