package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/CatfishW/ping-agaii-org/pkg/auth"
	"github.com/CatfishW/ping-agaii-org/pkg/httputil"
	"github.com/CatfishW/ping-agaii-org/pkg/middleware"
	"github.com/CatfishW/ping-agaii-org/pkg/users"
)

// AuthHandlers serves registration, login, guest sessions and consent.
type AuthHandlers struct {
	users   *users.Service
	authn   *middleware.Authenticator
	limiter *middleware.RateLimiter
	audit   *auth.AuditLogger
}

// NewAuthHandlers creates auth handlers. limiter and audit may be nil.
func NewAuthHandlers(svc *users.Service, authn *middleware.Authenticator, limiter *middleware.RateLimiter, audit *auth.AuditLogger) *AuthHandlers {
	return &AuthHandlers{
		users:   svc,
		authn:   authn,
		limiter: limiter,
		audit:   audit,
	}
}

// RegisterRoutes registers auth routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	// Public, rate limited by client IP
	router.Handle("/api/auth/register", h.limited(h.register)).Methods("POST")
	router.Handle("/api/auth/login", h.limited(h.login)).Methods("POST")
	router.Handle("/api/auth/login-json", h.limited(h.loginJSON)).Methods("POST")
	router.Handle("/api/auth/guest", h.limited(h.guest)).Methods("POST")

	// Authenticated
	router.Handle("/api/auth/me", h.authn.Handler(http.HandlerFunc(h.me))).Methods("GET")
	router.Handle("/api/auth/consent", h.authn.Handler(http.HandlerFunc(h.submitConsent))).Methods("POST")
	router.Handle("/api/auth/consent/check", h.authn.Handler(http.HandlerFunc(h.checkConsent))).Methods("GET")
}

func (h *AuthHandlers) limited(fn http.HandlerFunc) http.Handler {
	if h.limiter == nil {
		return fn
	}
	return h.limiter.Handler(fn)
}

// register handles POST /api/auth/register
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req users.RegisterRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	user, err := h.users.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	recordAudit(h.audit, r, user, "user.register", "user", strconv.FormatInt(user.ID, 10), nil)
	httputil.WriteSuccess(w, user)
}

// login handles POST /api/auth/login with an OAuth2-style form where
// username carries the email.
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteBadRequest(w, "invalid form body")
		return
	}

	email := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")
	fields := map[string]string{}
	if email == "" {
		fields["username"] = "is required"
	}
	if password == "" {
		fields["password"] = "is required"
	}
	if len(fields) > 0 {
		httputil.WriteValidationErrors(w, fields)
		return
	}

	h.authenticate(w, r, email, password)
}

// loginJSON handles POST /api/auth/login-json
func (h *AuthHandlers) loginJSON(w http.ResponseWriter, r *http.Request) {
	var req users.LoginRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	h.authenticate(w, r, req.Email, req.Password)
}

func (h *AuthHandlers) authenticate(w http.ResponseWriter, r *http.Request, email, password string) {
	token, user, err := h.users.Login(r.Context(), email, password)

	entityID := strings.ToLower(email)
	if user != nil {
		entityID = strconv.FormatInt(user.ID, 10)
	}
	recordAudit(h.audit, r, user, "user.login", "user", entityID, err)

	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, token)
}

// guest handles POST /api/auth/guest
func (h *AuthHandlers) guest(w http.ResponseWriter, r *http.Request) {
	var req users.GuestRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}

	session, err := h.users.CreateGuest(r.Context(), req.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, session)
}

// me handles GET /api/auth/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, middleware.CurrentUser(r))
}

// submitConsent handles POST /api/auth/consent
func (h *AuthHandlers) submitConsent(w http.ResponseWriter, r *http.Request) {
	var req users.ConsentRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	record, err := h.users.SubmitConsent(r.Context(), middleware.CurrentUser(r), req, auth.ClientIP(r), r.UserAgent())
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, record)
}

// checkConsent handles GET /api/auth/consent/check
func (h *AuthHandlers) checkConsent(w http.ResponseWriter, r *http.Request) {
	status, err := h.users.CheckConsent(r.Context(), middleware.CurrentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, status)
}
