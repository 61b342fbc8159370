package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/CatfishW/ping-agaii-org/pkg/auth"
	"github.com/CatfishW/ping-agaii-org/pkg/dashboard"
	"github.com/CatfishW/ping-agaii-org/pkg/httputil"
	"github.com/CatfishW/ping-agaii-org/pkg/middleware"
	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

// DashboardHandlers serves the admin dashboard.
type DashboardHandlers struct {
	aggregator *dashboard.Aggregator
	apps       *dashboard.AppStore
	accounts   *dashboard.AccountSync
	authn      *middleware.Authenticator
	audit      *auth.AuditLogger
}

// NewDashboardHandlers creates dashboard handlers.
func NewDashboardHandlers(aggregator *dashboard.Aggregator, apps *dashboard.AppStore, accounts *dashboard.AccountSync, authn *middleware.Authenticator, audit *auth.AuditLogger) *DashboardHandlers {
	return &DashboardHandlers{
		aggregator: aggregator,
		apps:       apps,
		accounts:   accounts,
		authn:      authn,
		audit:      audit,
	}
}

// RegisterRoutes registers dashboard routes. Every route needs a token;
// the overview checks the admin role itself so the check happens before
// any source is touched.
func (h *DashboardHandlers) RegisterRoutes(router *mux.Router) {
	sub := router.PathPrefix("/api/dashboard").Subrouter()
	sub.Use(h.authn.Handler)

	sub.HandleFunc("/overview", h.getOverview).Methods("GET")
	sub.Handle("/sync/{provider}", middleware.RequireAdmin(http.HandlerFunc(h.syncProvider))).Methods("POST")
	sub.Handle("/apps", middleware.RequireAdmin(http.HandlerFunc(h.listApps))).Methods("GET")
	sub.Handle("/apps/{slug}", middleware.RequireAdmin(http.HandlerFunc(h.updateApp))).Methods("PATCH")
}

// getOverview handles GET /api/dashboard/overview
// Query params:
//   - range_days: trend window, clamped to [1, 90] - default: 14
func (h *DashboardHandlers) getOverview(w http.ResponseWriter, r *http.Request) {
	days := httputil.QueryIntOrDefault(r, "range_days", dashboard.DefaultRangeDays)

	overview, err := h.aggregator.BuildOverview(r.Context(), days, middleware.CurrentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, overview)
}

// syncProvider handles POST /api/dashboard/sync/{provider}
func (h *DashboardHandlers) syncProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	provider := httputil.PathString(r, "provider")

	result, err := h.accounts.Sync(ctx, provider)
	recordAudit(h.audit, r, middleware.CurrentUser(r), "dashboard.sync", "provider", provider, err)
	if errors.Is(err, dashboard.ErrNotFound) {
		httputil.WriteNotFound(w, "Provider not found or not configured")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	if result.NewLinks > 0 {
		h.aggregator.InvalidateCache(ctx)
	}
	observability.FromContext(ctx).
		WithFields(map[string]interface{}{
			"provider":     provider,
			"linked_users": result.LinkedUsers,
			"new_links":    result.NewLinks,
		}).
		Info("account sync completed")
	httputil.WriteSuccess(w, result)
}

// listApps handles GET /api/dashboard/apps
func (h *DashboardHandlers) listApps(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.aggregator.ListApps(r.Context()))
}

// updateApp handles PATCH /api/dashboard/apps/{slug}
func (h *DashboardHandlers) updateApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := dashboard.Slug(httputil.PathString(r, "slug"))

	var update dashboard.AppUpdate
	if !httputil.DecodeAndValidate(w, r, &update) {
		return
	}

	app, err := h.apps.UpdateApp(ctx, slug, update)
	recordAudit(h.audit, r, middleware.CurrentUser(r), "dashboard.app_update", "app", string(slug), err)
	if errors.Is(err, dashboard.ErrNotFound) {
		httputil.WriteNotFound(w, "App not found")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.aggregator.InvalidateCache(ctx)
	httputil.WriteSuccess(w, app)
}
