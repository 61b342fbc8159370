package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/CatfishW/ping-agaii-org/pkg/auth"
	"github.com/CatfishW/ping-agaii-org/pkg/middleware"
	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

var (
	adminUser   = &auth.User{ID: 1, Role: auth.RolePlatformAdmin, IsActive: true}
	teacherUser = &auth.User{ID: 2, Role: auth.RoleTeacher, IsActive: true}
	studentUser = &auth.User{ID: 3, Role: auth.RoleStudent, IsActive: true}
)

type stubUsers map[int64]*auth.User

func (s stubUsers) GetUserByID(_ context.Context, id int64) (*auth.User, error) {
	u, ok := s[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return u, nil
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func testCreds() *auth.JWTCredentials {
	return auth.NewJWTCredentials("api-test-secret-0123456789", "ping-test", time.Hour, bcrypt.MinCost)
}

func testAuthenticator(creds auth.Credentials) *middleware.Authenticator {
	return middleware.NewAuthenticator(creds, stubUsers{
		adminUser.ID:   adminUser,
		teacherUser.ID: teacherUser,
		studentUser.ID: studentUser,
	}, false)
}

func newTestServer(groups ...RouteRegistrar) *Server {
	return NewServer(ServerOptions{Logger: testLogger()}, groups...)
}

func bearer(t *testing.T, creds auth.Credentials, u *auth.User) string {
	t.Helper()
	token, _, err := creds.IssueToken(u)
	require.NoError(t, err)
	return "Bearer " + token
}

// do sends a request through h. A non-empty token sets Authorization.
func do(h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}
