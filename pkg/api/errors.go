package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/CatfishW/ping-agaii-org/pkg/auth"
	"github.com/CatfishW/ping-agaii-org/pkg/classes"
	"github.com/CatfishW/ping-agaii-org/pkg/dashboard"
	"github.com/CatfishW/ping-agaii-org/pkg/httputil"
	"github.com/CatfishW/ping-agaii-org/pkg/observability"
	"github.com/CatfishW/ping-agaii-org/pkg/telemetry"
	"github.com/CatfishW/ping-agaii-org/pkg/users"
)

type errorMapping struct {
	target  error
	status  int
	message string
}

// errorMappings translates service sentinels into client responses. An
// empty message means the sentinel's own text is safe to show.
var errorMappings = []errorMapping{
	{users.ErrEmailTaken, http.StatusBadRequest, "Email already registered"},
	{users.ErrUsernameTaken, http.StatusBadRequest, "Username already taken"},
	{users.ErrBadCredentials, http.StatusUnauthorized, "Incorrect email or password"},
	{users.ErrInactive, http.StatusForbidden, "Account is inactive"},
	{users.ErrConsentRequired, http.StatusBadRequest, "Terms, privacy, and data collection consent are required"},
	{users.ErrWeakPassword, http.StatusBadRequest, "Password must be at least 8 characters"},
	{auth.ErrUserNotFound, http.StatusNotFound, "User not found"},

	{classes.ErrNotFound, http.StatusNotFound, "Class not found"},
	{classes.ErrForbidden, http.StatusForbidden, "Not authorized to manage this class"},
	{classes.ErrTeacherRequired, http.StatusForbidden, "Teacher access required"},
	{classes.ErrInvalidCode, http.StatusNotFound, "Invalid or inactive join code"},

	{telemetry.ErrConsentRequired, http.StatusForbidden, "Data collection consent required"},
	{telemetry.ErrEmptyBatch, http.StatusBadRequest, "Batch contains no events"},
	{telemetry.ErrSessionNotFound, http.StatusNotFound, "Session not found"},

	{dashboard.ErrForbidden, http.StatusForbidden, "Admin access required"},
	{dashboard.ErrNotFound, http.StatusNotFound, "Not found"},
	{dashboard.ErrInvalidApp, http.StatusBadRequest, ""},

	{context.DeadlineExceeded, http.StatusGatewayTimeout, "Request timed out"},
}

// writeError maps err to a status and message. Unmapped errors are logged
// and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			message := m.message
			if message == "" {
				message = err.Error()
			}
			httputil.WriteErrorMessage(w, m.status, message)
			return
		}
	}

	observability.FromContext(r.Context()).
		WithError(err).
		WithField("path", r.URL.Path).
		Error("request failed")
	httputil.WriteInternalError(w)
}

// recordAudit stores an audit entry for the caller of r. A failed write is
// logged and never fails the request.
func recordAudit(audit *auth.AuditLogger, r *http.Request, user *auth.User, action, entityType, entityID string, result error) {
	if err := audit.LogFromRequest(r, user, action, entityType, entityID, result); err != nil {
		observability.FromContext(r.Context()).
			WithError(err).
			WithField("action", action).
			Warn("failed to record audit entry")
	}
}
