package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/CatfishW/ping-agaii-org/pkg/httputil"
	"github.com/CatfishW/ping-agaii-org/pkg/middleware"
	"github.com/CatfishW/ping-agaii-org/pkg/telemetry"
)

const dateLayout = "2006-01-02"

// TelemetryHandlers serves event ingestion and the admin session export.
type TelemetryHandlers struct {
	telemetry *telemetry.Service
	authn     *middleware.Authenticator
}

// NewTelemetryHandlers creates telemetry handlers.
func NewTelemetryHandlers(svc *telemetry.Service, authn *middleware.Authenticator) *TelemetryHandlers {
	return &TelemetryHandlers{
		telemetry: svc,
		authn:     authn,
	}
}

// RegisterRoutes registers telemetry routes
func (h *TelemetryHandlers) RegisterRoutes(router *mux.Router) {
	ingest := router.PathPrefix("/api/telemetry").Subrouter()
	ingest.Use(h.authn.Handler)
	ingest.HandleFunc("/sessions", h.startSession).Methods("POST")
	ingest.HandleFunc("/events", h.ingestEvents).Methods("POST")
	ingest.HandleFunc("/behavior", h.recordBehavior).Methods("POST")

	admin := router.PathPrefix("/api/admin/telemetry").Subrouter()
	admin.Use(h.authn.Handler, middleware.RequireAdmin)
	admin.HandleFunc("/sessions", h.listSessions).Methods("GET")
	admin.HandleFunc("/sessions/{session_id}/download", h.downloadSession).Methods("GET")
}

// startSession handles POST /api/telemetry/sessions
func (h *TelemetryHandlers) startSession(w http.ResponseWriter, r *http.Request) {
	var req telemetry.SessionCreate
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	session, err := h.telemetry.StartSession(r.Context(), middleware.CurrentUser(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, session)
}

// ingestEvents handles POST /api/telemetry/events
func (h *TelemetryHandlers) ingestEvents(w http.ResponseWriter, r *http.Request) {
	var batch telemetry.EventBatch
	if !httputil.DecodeAndValidate(w, r, &batch) {
		return
	}

	result, err := h.telemetry.IngestBatch(r.Context(), middleware.CurrentUser(r), batch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// recordBehavior handles POST /api/telemetry/behavior
func (h *TelemetryHandlers) recordBehavior(w http.ResponseWriter, r *http.Request) {
	var req telemetry.BehaviorCreate
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	record, err := h.telemetry.RecordBehavior(r.Context(), middleware.CurrentUser(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, record)
}

// listSessions handles GET /api/admin/telemetry/sessions
// Query params:
//   - module_id: only sessions of this module
//   - start_date, end_date: YYYY-MM-DD, end date inclusive
//   - limit (1-200, default 50), offset
func (h *TelemetryHandlers) listSessions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := telemetry.SessionFilter{
		ModuleID: strings.TrimSpace(query.Get("module_id")),
		Limit:    httputil.QueryIntOrDefault(r, "limit", 50),
		Offset:   httputil.QueryIntOrDefault(r, "offset", 0),
	}

	from, err := parseDate(query.Get("start_date"))
	if err != nil {
		httputil.WriteBadRequest(w, "start_date must be YYYY-MM-DD")
		return
	}
	to, err := parseDate(query.Get("end_date"))
	if err != nil {
		httputil.WriteBadRequest(w, "end_date must be YYYY-MM-DD")
		return
	}
	if to != nil {
		next := to.AddDate(0, 0, 1)
		to = &next
	}
	filter.From, filter.To = from, to

	page, err := h.telemetry.ListSessions(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, page)
}

// downloadSession handles GET /api/admin/telemetry/sessions/{session_id}/download
// Responds with the session's events as zstd-compressed JSON lines.
func (h *TelemetryHandlers) downloadSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(mux.Vars(r)["session_id"])
	moduleID := strings.TrimSpace(r.URL.Query().Get("module_id"))

	// Buffer so a failed export can still be answered with a JSON error.
	var buf bytes.Buffer
	n, err := h.telemetry.ExportSession(r.Context(), &buf, sessionID, moduleID)
	if errors.Is(err, telemetry.ErrSessionNotFound) {
		httputil.WriteNotFound(w, "Session not found")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zstd")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.jsonl.zst"`, exportName(sessionID)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Event-Count", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, raw, time.UTC)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// exportName keeps only filename-safe characters of a session id.
func exportName(sessionID string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, sessionID)
	if name == "" {
		return "session"
	}
	return "session_" + name
}
