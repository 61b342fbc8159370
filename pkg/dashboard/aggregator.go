package dashboard

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/CatfishW/ping-agaii-org/pkg/auth"
	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

// DefaultSourceTimeout bounds each source fetch when none is configured.
const DefaultSourceTimeout = 3 * time.Second

// Totals sums the per-app metrics.
type Totals struct {
	Apps     int   `json:"apps"`
	Users    int64 `json:"users"`
	Sessions int64 `json:"sessions"`
	Events   int64 `json:"events"`
}

// AppSummary is one app's row in the overview.
type AppSummary struct {
	Slug        Slug       `json:"slug"`
	Name        string     `json:"name"`
	Status      AppStatus  `json:"status"`
	BaseURL     string     `json:"base_url"`
	Connected   bool       `json:"connected"`
	State       State      `json:"state"`
	Users       int64      `json:"users"`
	Sessions    int64      `json:"sessions"`
	Events      int64      `json:"events"`
	LastEventAt *time.Time `json:"last_event_at"`
}

// DashboardOverview is the admin dashboard payload.
type DashboardOverview struct {
	Totals      Totals       `json:"totals"`
	Apps        []AppSummary `json:"apps"`
	Trend       []TrendPoint `json:"trend"`
	ReadReplica bool         `json:"read_replica"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// AppLister loads the stored app rows.
type AppLister interface {
	ListApps(ctx context.Context) ([]AppDescriptor, error)
}

// TrendSource builds the daily activity series.
type TrendSource interface {
	Build(ctx context.Context, rangeDays int) []TrendPoint
}

// AggregatorConfig wires the aggregator's collaborators. A nil Registry
// means DefaultRegistry; a nil Apps, Sources or Trend degrades the matching
// part of the overview.
type AggregatorConfig struct {
	Registry      *Registry
	Apps          AppLister
	Sources       *Sources
	Trend         TrendSource
	Cache         *TieredCache
	ReadReplica   bool
	SourceTimeout time.Duration
	Metrics       *observability.Metrics
	Logger        *observability.Logger
}

// Aggregator assembles the dashboard overview.
type Aggregator struct {
	registry    *Registry
	apps        AppLister
	sources     *Sources
	trend       TrendSource
	cache       *TieredCache
	readReplica bool
	timeout     time.Duration
	metrics     *observability.Metrics
	logger      *observability.Logger
	now         func() time.Time
}

// NewAggregator creates an aggregator.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	if cfg.Sources == nil {
		cfg.Sources = &Sources{}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, os.Stdout)
	}
	if cfg.Trend == nil {
		cfg.Trend = NewTrendBuilder(nil, cfg.Logger)
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = DefaultSourceTimeout
	}
	return &Aggregator{
		registry:    cfg.Registry,
		apps:        cfg.Apps,
		sources:     cfg.Sources,
		trend:       cfg.Trend,
		cache:       cfg.Cache,
		readReplica: cfg.ReadReplica,
		timeout:     cfg.SourceTimeout,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         time.Now,
	}
}

// BuildOverview returns the overview for the last rangeDays days. The
// caller must be an admin; that is checked before any data is read. Source
// failures never fail the call.
func (a *Aggregator) BuildOverview(ctx context.Context, rangeDays int, caller *auth.User) (*DashboardOverview, error) {
	if caller == nil || !auth.IsAdmin(caller.Role) {
		a.observeBuild("forbidden")
		return nil, ErrForbidden
	}
	rangeDays = ClampRangeDays(rangeDays)

	ctx, span := observability.Tracer().Start(ctx, "dashboard.BuildOverview",
		trace.WithAttributes(attribute.Int("dashboard.range_days", rangeDays)))
	defer span.End()

	if cached, ok := a.cache.Get(ctx, rangeDays); ok {
		span.SetAttributes(attribute.Bool("dashboard.cached", true))
		a.observeBuild("cached")
		return cached, nil
	}

	apps := a.ListApps(ctx)
	snapshots := make([]MetricsSnapshot, len(apps))
	var trend []TrendPoint

	var g errgroup.Group
	for i, app := range apps {
		i, slug := i, app.Slug
		g.Go(func() error {
			snapshots[i] = a.fetch(ctx, slug)
			return nil
		})
	}
	g.Go(func() error {
		trend = a.buildTrend(ctx, rangeDays)
		return nil
	})
	_ = g.Wait()

	overview := &DashboardOverview{
		Totals:      Totals{Apps: len(apps)},
		Apps:        make([]AppSummary, len(apps)),
		Trend:       trend,
		ReadReplica: a.readReplica,
	}
	for i, app := range apps {
		snap := snapshots[i]
		overview.Apps[i] = AppSummary{
			Slug:        app.Slug,
			Name:        app.Name,
			Status:      app.Status,
			BaseURL:     app.BaseURL,
			Connected:   snap.Connected,
			State:       snap.State,
			Users:       snap.Users,
			Sessions:    snap.Sessions,
			Events:      snap.Events,
			LastEventAt: snap.LastEventAt,
		}
		overview.Totals.Users += snap.Users
		overview.Totals.Sessions += snap.Sessions
		overview.Totals.Events += snap.Events
	}
	overview.GeneratedAt = a.now().UTC()

	a.cache.Set(ctx, rangeDays, overview)
	a.observeBuild("built")
	return overview, nil
}

// fetch runs one adapter under its own timeout.
func (a *Aggregator) fetch(ctx context.Context, slug Slug) MetricsSnapshot {
	ctx, span := observability.Tracer().Start(ctx, "dashboard.fetch",
		trace.WithAttributes(attribute.String("dashboard.source", string(slug))))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	snap := a.sources.Fetch(ctx, slug)
	a.metrics.ObserveSourceFetch(string(slug), string(snap.State), time.Since(start))

	span.SetAttributes(attribute.String("dashboard.state", string(snap.State)))
	if !snap.Connected {
		span.SetStatus(codes.Error, string(snap.State))
	}
	return snap
}

// buildTrend runs the trend source under the source timeout. A panic is
// logged and replaced by the all-zero series.
func (a *Aggregator) buildTrend(ctx context.Context, rangeDays int) (points []TrendPoint) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	defer func() {
		if err := observability.PanicError(a.logger, "build trend", recover()); err != nil {
			points = zeroTrend(a.now(), rangeDays)
		}
	}()
	return a.trend.Build(ctx, rangeDays)
}

// ListApps returns the registry in canonical order with stored display
// metadata applied. A failed load falls back to the registry alone.
func (a *Aggregator) ListApps(ctx context.Context) []AppDescriptor {
	apps := a.registry.Apps()
	if a.apps == nil {
		return apps
	}

	stored, err := a.apps.ListApps(ctx)
	if err != nil {
		observability.WithTraceContext(ctx, a.logger).WithError(err).Warn("failed to load app registry, using defaults")
		return apps
	}

	bySlug := make(map[Slug]AppDescriptor, len(stored))
	for _, row := range stored {
		bySlug[row.Slug] = row
	}
	for i := range apps {
		row, ok := bySlug[apps[i].Slug]
		if !ok {
			continue
		}
		if row.Name != "" {
			apps[i].Name = row.Name
		}
		if row.Description != "" {
			apps[i].Description = row.Description
		}
		if row.BaseURL != "" {
			apps[i].BaseURL = row.BaseURL
		}
		if row.Status != "" {
			apps[i].Status = row.Status
		}
	}
	return apps
}

// InvalidateCache drops cached overviews.
func (a *Aggregator) InvalidateCache(ctx context.Context) {
	a.cache.Invalidate(ctx)
}

func (a *Aggregator) observeBuild(outcome string) {
	if a.metrics == nil {
		return
	}
	a.metrics.OverviewBuildsTotal.WithLabelValues(outcome).Inc()
}
