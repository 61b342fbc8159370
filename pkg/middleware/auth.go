package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/CatfishW/ping-agaii-org/pkg/auth"
	"github.com/CatfishW/ping-agaii-org/pkg/contextkeys"
	"github.com/CatfishW/ping-agaii-org/pkg/httputil"
	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

// UserLoader resolves the user a verified token refers to. It returns
// auth.ErrUserNotFound when the subject no longer exists.
type UserLoader interface {
	GetUserByID(ctx context.Context, id int64) (*auth.User, error)
}

// Authenticator verifies bearer tokens and loads the caller.
type Authenticator struct {
	creds    auth.Credentials
	users    UserLoader
	optional bool
}

// NewAuthenticator creates the middleware. With optional set, requests
// without an Authorization header pass through unauthenticated; a bad token
// is still rejected.
func NewAuthenticator(creds auth.Credentials, users UserLoader, optional bool) *Authenticator {
	return &Authenticator{creds: creds, users: users, optional: optional}
}

// Handler wraps an HTTP handler with authentication
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			if a.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "Not authenticated")
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			httputil.WriteUnauthorized(w, "Could not validate credentials")
			return
		}

		claims, err := a.creds.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			httputil.WriteUnauthorized(w, "Could not validate credentials")
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			httputil.WriteUnauthorized(w, "Could not validate credentials")
			return
		}

		user, err := a.users.GetUserByID(r.Context(), userID)
		if errors.Is(err, auth.ErrUserNotFound) {
			httputil.WriteUnauthorized(w, "Could not validate credentials")
			return
		}
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("load authenticated user")
			httputil.WriteInternalError(w)
			return
		}
		if !user.IsActive {
			httputil.WriteForbidden(w, "Account is inactive")
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), &auth.AuthContext{User: user, Claims: claims})
		ctx = observability.WithUserID(ctx, strconv.FormatInt(user.ID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	authCtx, _ := r.Context().Value(contextkeys.AuthKey).(*auth.AuthContext)
	return authCtx
}

// CurrentUser returns the authenticated user, or nil.
func CurrentUser(r *http.Request) *auth.User {
	if authCtx := GetAuthContext(r); authCtx != nil {
		return authCtx.User
	}
	return nil
}

// RequireRole creates middleware that admits callers whose role passes allow.
func RequireRole(allow func(auth.Role) bool, message string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := CurrentUser(r)
			if user == nil {
				httputil.WriteUnauthorized(w, "Not authenticated")
				return
			}
			if !allow(user.Role) {
				httputil.WriteForbidden(w, message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin admits org and platform admins.
func RequireAdmin(next http.Handler) http.Handler {
	return RequireRole(auth.IsAdmin, "Admin access required")(next)
}

// RequireTeacher admits teachers and admins.
func RequireTeacher(next http.Handler) http.Handler {
	return RequireRole(auth.CanTeach, "Teacher access required")(next)
}
