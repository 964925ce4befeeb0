package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gearlog/ticket-service/internal/domain"
	"github.com/gearlog/ticket-service/internal/events"
	"github.com/gearlog/ticket-service/internal/repository/memstore"
	"github.com/gearlog/ticket-service/internal/service"
	"github.com/gearlog/ticket-service/internal/sla"
	apperrors "github.com/gearlog/ticket-service/pkg/util/errorutil"
)

var (
	companyA = "company-a"
	companyB = "company-b"
	t0       = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (r *recordingSink) Publish(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingSink) Types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recordingSink) Last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *recordingSink) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fixture struct {
	store  *memstore.Store
	clock  *manualClock
	sink   *recordingSink
	svc    *service.TicketService
	opener domain.Actor
	tech   domain.Actor
	admin  domain.Actor
}

func newFixture(t *testing.T, closableFrom ...domain.TicketStatus) *fixture {
	t.Helper()

	store := memstore.New()
	store.AddUser(domain.User{ID: "user-a1", CompanyID: &companyA, Name: "Ana Opener", Email: "ana@a.test"})
	store.AddUser(domain.User{ID: "user-a2", CompanyID: &companyA, Name: "Tom Tech", Email: "tom@a.test"})
	store.AddUser(domain.User{ID: "user-a3", CompanyID: &companyA, Name: "Ada Admin", Email: "ada@a.test"})
	store.AddUser(domain.User{ID: "user-b1", CompanyID: &companyB, Name: "Bob Other", Email: "bob@b.test"})
	store.AddEmployee(domain.Employee{ID: "emp-a1", CompanyID: &companyA, Name: "Eve Employee"})
	store.AddEmployee(domain.Employee{ID: "emp-b1", CompanyID: &companyB, Name: "Ben Employee"})
	store.AddProduct(domain.Product{ID: "prod-a1", CompanyID: &companyA, Name: "Laptop 14", Status: domain.ProductStatusAssigned})
	store.AddProduct(domain.Product{ID: "prod-b1", CompanyID: &companyB, Name: "Printer", Status: domain.ProductStatusAvailable})

	clock := &manualClock{now: t0}
	sink := &recordingSink{}
	svc := service.NewTicketService(service.TicketDependencies{
		Store:        store,
		Policy:       sla.NewPolicy(sla.DefaultTable(), sla.DefaultAtRiskRatio),
		Dispatcher:   sink,
		Clock:        clock,
		Logger:       zap.NewNop(),
		ClosableFrom: closableFrom,
	})

	return &fixture{
		store:  store,
		clock:  clock,
		sink:   sink,
		svc:    svc,
		opener: domain.Actor{UserID: "user-a1", CompanyID: &companyA},
		tech:   domain.Actor{UserID: "user-a2", CompanyID: &companyA},
		admin:  domain.Actor{UserID: "user-a3", CompanyID: &companyA, Capabilities: []domain.Capability{domain.CapabilityAdmin}},
	}
}

func (f *fixture) createTicket(t *testing.T, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket, err := f.svc.CreateTicket(context.Background(), f.opener, service.TicketCreateInput{
		Title:       "Screen flickers",
		Description: "External monitor flickers when docked",
		Priority:    priority,
		Type:        domain.TicketTypeMaintenance,
	})
	require.NoError(t, err)
	f.sink.Reset()
	return ticket
}

func requireCode(t *testing.T, err error, code string) *apperrors.DomainError {
	t.Helper()
	require.Error(t, err)
	var domainErr *apperrors.DomainError
	require.True(t, errors.As(err, &domainErr), "expected DomainError, got %T: %v", err, err)
	require.Equal(t, code, domainErr.Code)
	return domainErr
}

func strp(s string) *string {
	return &s
}
