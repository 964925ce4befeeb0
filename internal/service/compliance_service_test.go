package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gearlog/ticket-service/internal/domain"
	"github.com/gearlog/ticket-service/internal/repository"
	"github.com/gearlog/ticket-service/internal/repository/memstore"
	"github.com/gearlog/ticket-service/internal/service"
	"github.com/gearlog/ticket-service/internal/sla"
	apperrors "github.com/gearlog/ticket-service/pkg/util/errorutil"
)

type complianceFixture struct {
	store  *memstore.Store
	clock  *manualClock
	policy *sla.Policy
	svc    *service.ComplianceService
	cache  *jsonCache
}

type jsonCache struct {
	entries map[string][]byte
	loads   int
}

func (c *jsonCache) Load(_ context.Context, key string, dst any) (bool, error) {
	c.loads++
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (c *jsonCache) Store(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func newComplianceFixture(t *testing.T, now time.Time) *complianceFixture {
	t.Helper()
	store := memstore.New()
	store.AddUser(domain.User{ID: "user-a2", CompanyID: &companyA, Name: "Tom Tech"})
	store.AddUser(domain.User{ID: "user-a4", CompanyID: &companyA, Name: "Lia Tech"})
	clock := &manualClock{now: now}
	policy := sla.NewPolicy(sla.DefaultTable(), sla.DefaultAtRiskRatio)
	cache := &jsonCache{entries: map[string][]byte{}}
	return &complianceFixture{
		store:  store,
		clock:  clock,
		policy: policy,
		cache:  cache,
		svc: service.NewComplianceService(service.ComplianceDependencies{
			Store:     store,
			Policy:    policy,
			Clock:     clock,
			Location:  time.UTC,
			TrendDays: 30,
			Cache:     cache,
			Logger:    zap.NewNop(),
		}),
	}
}

func (f *complianceFixture) put(t domain.Ticket) domain.Ticket {
	deadlines := f.policy.CalculateDeadlines(t.Priority, t.CreatedAt)
	t.FirstResponseDeadline = &deadlines.FirstResponse
	t.ResolutionDeadline = &deadlines.Resolution
	if t.CompanyID == nil {
		t.CompanyID = &companyA
	}
	if t.Type == "" {
		t.Type = domain.TicketTypeMaintenance
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	return f.store.PutTicket(t)
}

func TestKPIs_Mixed(t *testing.T) {
	f := newComplianceFixture(t, t0.Add(10*time.Hour))
	responded := t0.Add(time.Hour)
	f.put(domain.Ticket{Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityCritical, CreatedAt: t0, SLAViolated: true})
	f.put(domain.Ticket{Status: domain.TicketStatusInProgress, Priority: domain.TicketPriorityMedium, CreatedAt: t0,
		AssignedTo: strp("user-a2"), FirstResponseAt: &responded})
	f.put(domain.Ticket{Status: domain.TicketStatusResolved, Priority: domain.TicketPriorityHigh, CreatedAt: t0,
		UpdatedAt: t0.Add(5 * time.Hour), AssignedTo: strp("user-a2"), FirstResponseAt: &responded})
	f.put(domain.Ticket{Status: domain.TicketStatusClosed, Priority: domain.TicketPriorityLow, CreatedAt: t0.Add(-480 * time.Hour),
		UpdatedAt: t0, SLAViolated: true})

	k, err := f.svc.KPIs(context.Background(), repository.ForCompany(companyA))

	require.NoError(t, err)
	assert.Equal(t, service.KPIs{
		Total:                        4,
		Open:                         1,
		InProgress:                   1,
		CriticalActive:               1,
		UnassignedActive:             1,
		Resolved:                     1,
		Closed:                       1,
		ResolutionRate:               50,
		AverageResolutionTimeMinutes: 14550,
		SLAViolated:                  1,
		FirstResponseViolated:        1,
		ResolutionViolated:           0,
		AtRisk:                       1,
		SLAComplianceRate:            50,
	}, k)
}

func TestKPIs_EmptyScopeHasZeroRates(t *testing.T) {
	f := newComplianceFixture(t, t0)

	k, err := f.svc.KPIs(context.Background(), repository.ForCompany(companyA))

	require.NoError(t, err)
	assert.Zero(t, k.Total)
	assert.Zero(t, k.ResolutionRate)
	assert.Zero(t, k.SLAComplianceRate)
	assert.Zero(t, k.AverageResolutionTimeMinutes)
}

func TestKPIs_ScopeExcludesOtherTenants(t *testing.T) {
	f := newComplianceFixture(t, t0)
	f.put(domain.Ticket{Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityLow, CreatedAt: t0})
	f.put(domain.Ticket{CompanyID: &companyB, Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityLow, CreatedAt: t0})

	mine, err := f.svc.KPIs(context.Background(), repository.ForCompany(companyA))
	require.NoError(t, err)
	all, err := f.svc.KPIs(context.Background(), repository.AllTenants())
	require.NoError(t, err)

	assert.Equal(t, 1, mine.Total)
	assert.Equal(t, 2, all.Total)

	_, err = f.svc.KPIs(context.Background(), repository.TenantScope{})
	assert.ErrorIs(t, err, repository.ErrMissingTenantScope)
}

func TestGroupings_TechniciansAndDamage(t *testing.T) {
	f := newComplianceFixture(t, t0)
	laptops, monitors := "cat-laptops", "cat-monitors"
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("prod-%02d", i)
		category := &laptops
		if i%2 == 1 {
			category = &monitors
		}
		f.store.AddProduct(domain.Product{ID: id, CompanyID: &companyA, CategoryID: category, CategoryName: *category, Name: "Asset " + id})
		for n := 0; n <= i; n++ {
			f.put(domain.Ticket{Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityLow, Type: domain.TicketTypeDamage,
				ProductID: strp(id), CreatedAt: t0})
		}
	}
	f.put(domain.Ticket{Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityHigh, AssignedTo: strp("user-a2"), CreatedAt: t0})
	f.put(domain.Ticket{Status: domain.TicketStatusClosed, Priority: domain.TicketPriorityHigh, AssignedTo: strp("user-a2"), CreatedAt: t0})
	f.put(domain.Ticket{Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityHigh, AssignedTo: strp("user-a4"), CreatedAt: t0})

	g, err := f.svc.Groupings(context.Background(), repository.ForCompany(companyA))

	require.NoError(t, err)
	assert.Equal(t, 80, g.ByStatus[domain.TicketStatusOpen])
	assert.Equal(t, 1, g.ByStatus[domain.TicketStatusClosed])
	assert.Equal(t, 0, g.ByStatus[domain.TicketStatusWaitingParts])
	assert.Equal(t, 3, g.ByPriority[domain.TicketPriorityHigh])
	assert.Equal(t, 78, g.ByType[domain.TicketTypeDamage])

	assert.Equal(t, []service.CountBucket{
		{ID: "user-a2", Name: "Tom Tech", Count: 2},
		{ID: "user-a4", Name: "Lia Tech", Count: 1},
	}, g.ByTechnician)

	require.Len(t, g.ByProduct, 10)
	assert.Equal(t, "prod-11", g.ByProduct[0].ID)
	assert.Equal(t, 12, g.ByProduct[0].Count)
	assert.Equal(t, "prod-02", g.ByProduct[9].ID)

	require.Len(t, g.ByCategory, 2)
	assert.Equal(t, service.CountBucket{ID: monitors, Name: monitors, Count: 42}, g.ByCategory[0])
	assert.Equal(t, service.CountBucket{ID: laptops, Name: laptops, Count: 36}, g.ByCategory[1])
}

func TestComplianceTrend_UsesEarliestResolutionLog(t *testing.T) {
	day := func(d, h int) time.Time { return time.Date(2024, 3, d, h, 0, 0, 0, time.UTC) }
	f := newComplianceFixture(t, day(10, 12))
	resolved := domain.TicketStatusResolved
	ticket := f.put(domain.Ticket{Status: domain.TicketStatusResolved, Priority: domain.TicketPriorityMedium,
		CreatedAt: day(1, 9), UpdatedAt: day(6, 15)})
	f.store.PutLog(domain.TicketLog{TicketID: ticket.ID, UserID: "user-a2", Action: domain.LogActionStatusChanged,
		NewValue: &domain.LogValues{Status: &resolved}, CreatedAt: day(5, 10)})
	f.store.PutLog(domain.TicketLog{TicketID: ticket.ID, UserID: "user-a2", Action: domain.LogActionCommentAdded,
		NewValue: &domain.LogValues{CommentID: strp("comment-1")}, CreatedAt: day(6, 15)})

	trend, err := f.svc.ComplianceTrend(context.Background(), repository.ForCompany(companyA), 30)

	require.NoError(t, err)
	require.Len(t, trend, 30)
	assert.Equal(t, "2024-02-10", trend[0].Date)
	assert.Equal(t, "2024-03-10", trend[29].Date)

	byDate := map[string]service.TrendPoint{}
	for _, p := range trend {
		byDate[p.Date] = p
	}
	day5 := byDate["2024-03-05"]
	assert.Equal(t, 1, day5.TotalResolved)
	assert.Equal(t, 1, day5.WithinSLA)
	require.NotNil(t, day5.ComplianceRate)
	assert.Equal(t, 100.0, *day5.ComplianceRate)

	assert.Zero(t, byDate["2024-03-06"].TotalResolved)
	assert.Nil(t, byDate["2024-03-06"].ComplianceRate)
}

func TestComplianceTrend_FallsBackToUpdatedAt(t *testing.T) {
	day := func(d, h int) time.Time { return time.Date(2024, 3, d, h, 0, 0, 0, time.UTC) }
	f := newComplianceFixture(t, day(10, 12))
	f.put(domain.Ticket{Status: domain.TicketStatusClosed, Priority: domain.TicketPriorityCritical,
		CreatedAt: day(7, 0), UpdatedAt: day(9, 8)})
	f.put(domain.Ticket{Status: domain.TicketStatusResolved, Priority: domain.TicketPriorityCritical,
		CreatedAt: day(9, 0), UpdatedAt: day(9, 20)})
	f.put(domain.Ticket{Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityCritical,
		CreatedAt: day(9, 0), UpdatedAt: day(9, 21)})

	trend, err := f.svc.ComplianceTrend(context.Background(), repository.ForCompany(companyA), 7)

	require.NoError(t, err)
	require.Len(t, trend, 7)
	last := trend[5]
	assert.Equal(t, "2024-03-09", last.Date)
	assert.Equal(t, 2, last.TotalResolved)
	assert.Equal(t, 1, last.WithinSLA)
	require.NotNil(t, last.ComplianceRate)
	assert.Equal(t, 50.0, *last.ComplianceRate)
	for i, p := range trend {
		if i != 5 {
			assert.Nil(t, p.ComplianceRate, p.Date)
		}
	}
}

func TestComplianceTrend_LocalDayBoundaries(t *testing.T) {
	zone := time.FixedZone("UTC+3", 3*60*60)
	store := memstore.New()
	svc := service.NewComplianceService(service.ComplianceDependencies{
		Store:    store,
		Clock:    &manualClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)},
		Location: zone,
	})
	created := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	deadline := created.Add(168 * time.Hour)
	store.PutTicket(domain.Ticket{CompanyID: &companyA, Status: domain.TicketStatusResolved, Priority: domain.TicketPriorityMedium,
		CreatedAt: created, UpdatedAt: time.Date(2024, 3, 8, 22, 30, 0, 0, time.UTC), ResolutionDeadline: &deadline})

	trend, err := svc.ComplianceTrend(context.Background(), repository.ForCompany(companyA), 0)

	require.NoError(t, err)
	require.Len(t, trend, service.DefaultTrendDays)
	for _, p := range trend {
		if p.Date == "2024-03-09" {
			assert.Equal(t, 1, p.TotalResolved)
		} else {
			assert.Zero(t, p.TotalResolved, p.Date)
		}
	}
}

func TestDashboard_CachedPerScope(t *testing.T) {
	f := newComplianceFixture(t, t0)
	f.put(domain.Ticket{Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityLow, CreatedAt: t0})
	actor := domain.Actor{UserID: "user-a2", CompanyID: &companyA}
	ctx := context.Background()

	first, err := f.svc.Dashboard(ctx, actor, false)
	require.NoError(t, err)
	assert.Equal(t, "company:company-a", first.Scope)
	assert.Equal(t, 1, first.KPIs.Total)
	assert.Len(t, first.Trend, 30)

	f.put(domain.Ticket{Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityLow, CreatedAt: t0})
	second, err := f.svc.Dashboard(ctx, actor, false)
	require.NoError(t, err)
	assert.Equal(t, 1, second.KPIs.Total)
	assert.Equal(t, 2, f.cache.loads)

	delete(f.cache.entries, "company:company-a")
	third, err := f.svc.Dashboard(ctx, actor, false)
	require.NoError(t, err)
	assert.Equal(t, 2, third.KPIs.Total)
}

func TestDashboard_AllTenantsRequiresSuperAdmin(t *testing.T) {
	f := newComplianceFixture(t, t0)
	admin := domain.Actor{UserID: "user-a2", CompanyID: &companyA, Capabilities: []domain.Capability{domain.CapabilityAdmin}}

	_, err := f.svc.Dashboard(context.Background(), admin, true)

	requireCode(t, err, apperrors.CodeForbidden)
}
