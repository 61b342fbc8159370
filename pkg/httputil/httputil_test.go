package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

type signupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"notblank"`
}

func TestValidateStruct(t *testing.T) {
	fields := ValidateStruct(&signupRequest{Email: "a@b.co", Password: "longenough", Name: "Ada"})
	assert.Nil(t, fields)

	fields = ValidateStruct(&signupRequest{Email: "nope", Password: "short", Name: "   "})
	require.Len(t, fields, 3)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")
	assert.Equal(t, "name cannot be blank", fields["name"])
}

func TestDecodeAndValidate(t *testing.T) {
	t.Run("malformed json", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{"))
		var dest signupRequest
		assert.False(t, DecodeAndValidate(w, r, &dest))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid fields", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"email":"x","password":"p","name":"n"}`))
		var dest signupRequest
		assert.False(t, DecodeAndValidate(w, r, &dest))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "validation failed", body.Error)
		assert.Contains(t, body.Details, "email")
		assert.Contains(t, body.Details, "password")
	})

	t.Run("valid", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"email":"a@b.co","password":"password1","name":"n"}`))
		var dest signupRequest
		assert.True(t, DecodeAndValidate(w, r, &dest))
		assert.Equal(t, "a@b.co", dest.Email)
	})
}

func TestWriteHelpers(t *testing.T) {
	w := httptest.NewRecorder()
	WriteUnauthorized(w, "Not authenticated")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
	assert.JSONEq(t, `{"error":"Not authenticated"}`, w.Body.String())

	w = httptest.NewRecorder()
	WriteInternalError(w)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, map[string]int{"id": 1}))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":1}`, w.Body.String())
}

func TestRequestParsing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x?range_days=30&bad=abc", nil)
	assert.Equal(t, 30, QueryIntOrDefault(r, "range_days", 14))
	assert.Equal(t, 14, QueryIntOrDefault(r, "bad", 14))
	assert.Equal(t, 14, QueryIntOrDefault(r, "missing", 14))

	r = mux.SetURLVars(r, map[string]string{"id": "12", "provider": " LAMMP ", "junk": "x1"})
	id, err := ParsePathInt64(r, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)
	_, err = ParsePathInt64(r, "junk")
	assert.Error(t, err)
	_, err = ParsePathInt64(r, "absent")
	assert.Error(t, err)
	assert.Equal(t, "lammp", PathString(r, "provider"))

	w := httptest.NewRecorder()
	_, ok := ParsePathInt64OrError(w, r, "junk")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
	var seen string
	h := RequestIDMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = observability.GetRequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "abc-123")
	h.ServeHTTP(w, r)
	assert.Equal(t, "abc-123", seen)
}

func TestLoggingAndRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	h := Chain(RequestIDMiddleware(logger), LoggingMiddleware, RecoveryMiddleware)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/explode", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, buf.String(), "PANIC recovered")
	assert.Contains(t, buf.String(), `"status":500`)
	assert.Contains(t, buf.String(), `"path":"/explode"`)
}

func TestCORSMiddleware(t *testing.T) {
	h := CORSMiddleware([]string{"https://ping.agaii.org"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	r := httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Header.Set("Origin", "https://ping.agaii.org")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ping.agaii.org", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestTimeoutMiddleware(t *testing.T) {
	var deadline time.Time
	var ok bool
	h := TimeoutMiddleware(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, time.Second)

	ok = false
	h = TimeoutMiddleware(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background()))
	assert.False(t, ok)
}

func TestMaxBytesMiddleware(t *testing.T) {
	h := MaxBytesMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v struct {
			Key string `json:"key"`
		}
		if !DecodeAndValidate(w, r, &v) {
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"key":"much too long"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestParseJSON_EmptyBody(t *testing.T) {
	var v map[string]string
	err := ParseJSON(httptest.NewRequest(http.MethodPost, "/", nil), &v)
	assert.ErrorIs(t, err, ErrEmptyBody)

	err = ParseJSON(httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("")), &v)
	assert.ErrorIs(t, err, ErrEmptyBody)
}
