package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/gearlog/ticket-service/internal/domain"
	"github.com/gearlog/ticket-service/internal/repository"
	"github.com/gearlog/ticket-service/internal/sla"
)

const (
	// DefaultTrendDays is the compliance trend length used when none is configured.
	DefaultTrendDays = 30
	topBucketLimit   = 10
)

// DashboardCache stores computed dashboards per tenant scope key.
type DashboardCache interface {
	Load(ctx context.Context, scopeKey string, dst any) (bool, error)
	Store(ctx context.Context, scopeKey string, value any) error
}

// KPIs are the headline dashboard numbers.
type KPIs struct {
	Total                        int     `json:"total"`
	Open                         int     `json:"open"`
	InProgress                   int     `json:"in_progress"`
	CriticalActive               int     `json:"critical_active"`
	UnassignedActive             int     `json:"unassigned_active"`
	Resolved                     int     `json:"resolved"`
	Closed                       int     `json:"closed"`
	ResolutionRate               float64 `json:"resolution_rate"`
	AverageResolutionTimeMinutes float64 `json:"average_resolution_time_minutes"`
	SLAViolated                  int     `json:"sla_violated"`
	FirstResponseViolated        int     `json:"first_response_violated"`
	ResolutionViolated           int     `json:"resolution_violated"`
	AtRisk                       int     `json:"at_risk"`
	SLAComplianceRate            float64 `json:"sla_compliance_rate"`
}

// CountBucket is one row of a named grouping.
type CountBucket struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Groupings break tickets down by attribute.
type Groupings struct {
	ByStatus     map[domain.TicketStatus]int   `json:"by_status"`
	ByPriority   map[domain.TicketPriority]int `json:"by_priority"`
	ByType       map[domain.TicketType]int     `json:"by_type"`
	ByTechnician []CountBucket                 `json:"by_technician"`
	ByProduct    []CountBucket                 `json:"by_product"`
	ByCategory   []CountBucket                 `json:"by_category"`
}

// TrendPoint is one calendar day of the compliance trend.
type TrendPoint struct {
	Date           string   `json:"date"`
	TotalResolved  int      `json:"total_resolved"`
	WithinSLA      int      `json:"within_sla"`
	ComplianceRate *float64 `json:"compliance_rate"`
}

// Dashboard bundles every compliance view for one scope.
type Dashboard struct {
	Scope       string       `json:"scope"`
	GeneratedAt time.Time    `json:"generated_at"`
	KPIs        KPIs         `json:"kpis"`
	Groupings   Groupings    `json:"groupings"`
	Trend       []TrendPoint `json:"trend"`
}

// ComplianceService aggregates read-only SLA reporting.
type ComplianceService struct {
	store     repository.Store
	policy    *sla.Policy
	clock     Clock
	location  *time.Location
	trendDays int
	cache     DashboardCache
	logger    *zap.Logger
}

// ComplianceDependencies bundles collaborators for the compliance service.
type ComplianceDependencies struct {
	Store     repository.Store
	Policy    *sla.Policy
	Clock     Clock
	Location  *time.Location
	TrendDays int
	Cache     DashboardCache
	Logger    *zap.Logger
}

// NewComplianceService constructs the service.
func NewComplianceService(deps ComplianceDependencies) *ComplianceService {
	svc := &ComplianceService{
		store:     deps.Store,
		policy:    deps.Policy,
		clock:     deps.Clock,
		location:  deps.Location,
		trendDays: deps.TrendDays,
		cache:     deps.Cache,
		logger:    deps.Logger,
	}
	if svc.policy == nil {
		svc.policy = sla.NewPolicy(nil, 0)
	}
	if svc.clock == nil {
		svc.clock = SystemClock
	}
	if svc.location == nil {
		svc.location = time.Local
	}
	if svc.trendDays <= 0 {
		svc.trendDays = DefaultTrendDays
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	return svc
}

// Dashboard returns the cached dashboard for the actor's scope, computing it on a miss.
func (s *ComplianceService) Dashboard(ctx context.Context, actor domain.Actor, allTenants bool) (*Dashboard, error) {
	scope, err := ScopeForActor(actor, allTenants)
	if err != nil {
		return nil, err
	}

	key := scope.Key()
	if s.cache != nil {
		var cached Dashboard
		hit, err := s.cache.Load(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("dashboard cache read failed", zap.String("scope", key), zap.Error(err))
		} else if hit {
			return &cached, nil
		}
	}

	dashboard, err := s.Build(ctx, scope)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Store(ctx, key, dashboard); err != nil {
			s.logger.Warn("dashboard cache write failed", zap.String("scope", key), zap.Error(err))
		}
	}
	return dashboard, nil
}

// Build computes the dashboard for scope without consulting the cache.
func (s *ComplianceService) Build(ctx context.Context, scope repository.TenantScope) (*Dashboard, error) {
	tickets, err := s.store.Tickets().ListAll(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	now := s.clock.Now()

	groupings, err := s.groupings(ctx, tickets)
	if err != nil {
		return nil, err
	}
	trend, err := s.ComplianceTrend(ctx, scope, s.trendDays)
	if err != nil {
		return nil, err
	}
	return &Dashboard{
		Scope:       scope.Key(),
		GeneratedAt: now,
		KPIs:        s.kpis(tickets, now),
		Groupings:   groupings,
		Trend:       trend,
	}, nil
}

// KPIs computes headline numbers for scope at the current time.
func (s *ComplianceService) KPIs(ctx context.Context, scope repository.TenantScope) (KPIs, error) {
	tickets, err := s.store.Tickets().ListAll(ctx, scope)
	if err != nil {
		return KPIs{}, fmt.Errorf("list tickets: %w", err)
	}
	return s.kpis(tickets, s.clock.Now()), nil
}

// Groupings computes the attribute breakdowns for scope.
func (s *ComplianceService) Groupings(ctx context.Context, scope repository.TenantScope) (Groupings, error) {
	tickets, err := s.store.Tickets().ListAll(ctx, scope)
	if err != nil {
		return Groupings{}, fmt.Errorf("list tickets: %w", err)
	}
	return s.groupings(ctx, tickets)
}

func (s *ComplianceService) kpis(tickets []domain.Ticket, now time.Time) KPIs {
	var (
		k               KPIs
		finished        int
		resolutionTotal time.Duration
		withDeadline    int
		withinDeadline  int
	)
	k.Total = len(tickets)
	for i := range tickets {
		t := &tickets[i]
		active := !t.Status.Finished()

		switch t.Status {
		case domain.TicketStatusOpen:
			k.Open++
		case domain.TicketStatusInProgress:
			k.InProgress++
		case domain.TicketStatusResolved:
			k.Resolved++
		case domain.TicketStatusClosed:
			k.Closed++
		}

		if active {
			if t.Priority == domain.TicketPriorityCritical {
				k.CriticalActive++
			}
			if t.AssignedTo == nil {
				k.UnassignedActive++
			}
			if t.SLAViolated {
				k.SLAViolated++
			}
			if s.policy.IsFirstResponseViolated(t, now) {
				k.FirstResponseViolated++
			}
			if s.policy.IsAtRisk(t, now).Any() {
				k.AtRisk++
			}
		}
		if s.policy.IsResolutionViolated(t, now) {
			k.ResolutionViolated++
		}

		if !active {
			finished++
			resolutionTotal += t.UpdatedAt.Sub(t.CreatedAt)
			if t.ResolutionDeadline != nil {
				withDeadline++
				if !t.UpdatedAt.After(*t.ResolutionDeadline) {
					withinDeadline++
				}
			}
		}
	}

	k.ResolutionRate = percentage(finished, k.Total)
	if finished > 0 {
		k.AverageResolutionTimeMinutes = round2(resolutionTotal.Minutes() / float64(finished))
	}
	k.SLAComplianceRate = percentage(withinDeadline, withDeadline)
	return k
}

func (s *ComplianceService) groupings(ctx context.Context, tickets []domain.Ticket) (Groupings, error) {
	g := Groupings{
		ByStatus:   make(map[domain.TicketStatus]int),
		ByPriority: make(map[domain.TicketPriority]int),
		ByType:     make(map[domain.TicketType]int),
	}
	for _, status := range []domain.TicketStatus{
		domain.TicketStatusOpen, domain.TicketStatusInProgress, domain.TicketStatusWaitingParts,
		domain.TicketStatusResolved, domain.TicketStatusClosed,
	} {
		g.ByStatus[status] = 0
	}
	for _, priority := range []domain.TicketPriority{
		domain.TicketPriorityLow, domain.TicketPriorityMedium, domain.TicketPriorityHigh, domain.TicketPriorityCritical,
	} {
		g.ByPriority[priority] = 0
	}

	technicians := map[string]int{}
	products := map[string]int{}
	for _, t := range tickets {
		g.ByStatus[t.Status]++
		g.ByPriority[t.Priority]++
		g.ByType[t.Type]++
		if t.AssignedTo != nil {
			technicians[*t.AssignedTo]++
		}
		if t.Type == domain.TicketTypeDamage && t.ProductID != nil {
			products[*t.ProductID]++
		}
	}

	var err error
	if g.ByTechnician, err = s.technicianBuckets(ctx, technicians); err != nil {
		return Groupings{}, err
	}
	if g.ByProduct, g.ByCategory, err = s.damageBuckets(ctx, products); err != nil {
		return Groupings{}, err
	}
	return g, nil
}

func (s *ComplianceService) technicianBuckets(ctx context.Context, counts map[string]int) ([]CountBucket, error) {
	if len(counts) == 0 {
		return []CountBucket{}, nil
	}
	users, err := s.store.Users().ListByIDs(ctx, keys(counts))
	if err != nil {
		return nil, fmt.Errorf("load technicians: %w", err)
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}
	buckets := make([]CountBucket, 0, len(counts))
	for id, count := range counts {
		buckets = append(buckets, CountBucket{ID: id, Name: names[id], Count: count})
	}
	sortBuckets(buckets)
	return buckets, nil
}

func (s *ComplianceService) damageBuckets(ctx context.Context, counts map[string]int) ([]CountBucket, []CountBucket, error) {
	if len(counts) == 0 {
		return []CountBucket{}, []CountBucket{}, nil
	}
	list, err := s.store.Products().ListByIDs(ctx, keys(counts))
	if err != nil {
		return nil, nil, fmt.Errorf("load products: %w", err)
	}
	byID := make(map[string]domain.Product, len(list))
	for _, p := range list {
		byID[p.ID] = p
	}

	products := make([]CountBucket, 0, len(counts))
	categoryCounts := map[string]*CountBucket{}
	for id, count := range counts {
		product, ok := byID[id]
		products = append(products, CountBucket{ID: id, Name: product.Name, Count: count})
		if !ok || product.CategoryID == nil {
			continue
		}
		bucket, seen := categoryCounts[*product.CategoryID]
		if !seen {
			bucket = &CountBucket{ID: *product.CategoryID, Name: product.CategoryName}
			categoryCounts[*product.CategoryID] = bucket
		}
		bucket.Count += count
	}
	categories := make([]CountBucket, 0, len(categoryCounts))
	for _, b := range categoryCounts {
		categories = append(categories, *b)
	}

	sortBuckets(products)
	sortBuckets(categories)
	return top(products), top(categories), nil
}

// ComplianceTrend returns one point per local calendar day, oldest first,
// ending today. A ticket counts on the day of its earliest resolving log
// entry, or its updated_at when no such entry exists.
func (s *ComplianceService) ComplianceTrend(ctx context.Context, scope repository.TenantScope, days int) ([]TrendPoint, error) {
	if days <= 0 {
		days = DefaultTrendDays
	}
	tickets, err := s.store.Tickets().ListAll(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	entries, err := s.store.Logs().ListResolutionEntries(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list resolution logs: %w", err)
	}

	resolvedAt := make(map[string]time.Time)
	for _, entry := range entries {
		if !entry.ResolvesTicket() {
			continue
		}
		if current, ok := resolvedAt[entry.TicketID]; !ok || entry.CreatedAt.Before(current) {
			resolvedAt[entry.TicketID] = entry.CreatedAt
		}
	}

	now := s.clock.Now().In(s.location)
	points := make([]TrendPoint, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		day := time.Date(now.Year(), now.Month(), now.Day()-(days-1-i), 0, 0, 0, 0, s.location)
		key := day.Format(time.DateOnly)
		points[i] = TrendPoint{Date: key}
		index[key] = i
	}

	for _, t := range tickets {
		if !t.Status.Finished() || t.ResolutionDeadline == nil {
			continue
		}
		at, ok := resolvedAt[t.ID]
		if !ok {
			at = t.UpdatedAt
		}
		i, inWindow := index[at.In(s.location).Format(time.DateOnly)]
		if !inWindow {
			continue
		}
		points[i].TotalResolved++
		if !at.After(*t.ResolutionDeadline) {
			points[i].WithinSLA++
		}
	}

	for i := range points {
		if points[i].TotalResolved == 0 {
			continue
		}
		rate := percentage(points[i].WithinSLA, points[i].TotalResolved)
		points[i].ComplianceRate = &rate
	}
	return points, nil
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func keys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortBuckets(buckets []CountBucket) {
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Count != buckets[j].Count {
			return buckets[i].Count > buckets[j].Count
		}
		return buckets[i].ID < buckets[j].ID
	})
}

func top(buckets []CountBucket) []CountBucket {
	if len(buckets) > topBucketLimit {
		return buckets[:topBucketLimit]
	}
	return buckets
}
