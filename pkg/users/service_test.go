package users

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/CatfishW/ping-agaii-org/pkg/auth"
	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

var userRowColumns = []string{"id", "email", "username", "full_name", "role", "is_active", "is_verified",
	"guest_id", "organization_id", "created_at", "last_login", "hashed_password"}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *auth.JWTCredentials) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	creds := auth.NewJWTCredentials("users-test-secret-0123456789", "ping-test", time.Hour, bcrypt.MinCost)
	svc := NewService(NewStore(db), creds, observability.NewLogger(observability.ErrorLevel, io.Discard))
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc, mock, creds
}

func expectExists(mock sqlmock.Sqlmock, table, arg string, exists bool) {
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM ` + table).
		WithArgs(arg).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(exists))
}

func TestService_Register(t *testing.T) {
	t.Run("defaults username to the email local part", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		expectExists(mock, `users WHERE LOWER\(email\)`, "ada@example.org", false)
		expectExists(mock, `users WHERE username`, "ada", false)
		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs("ada@example.org", "ada", sqlmock.AnyArg(), "Ada Lovelace", "student", true, false, nil, nil).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(7, time.Now()))

		user, err := svc.Register(context.Background(), RegisterRequest{
			Email:    " Ada@Example.org ",
			Password: "difference-engine",
			FullName: "Ada Lovelace",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(7), user.ID)
		assert.Equal(t, auth.RoleStudent, user.Role)
		assert.Equal(t, "ada", *user.Username)
		assert.NotEqual(t, "difference-engine", user.PasswordHash)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("suffixes a taken default username", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		expectExists(mock, `users WHERE LOWER\(email\)`, "ada@example.org", false)
		expectExists(mock, `users WHERE username`, "ada", true)
		mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM users WHERE username`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(`INSERT INTO users`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(8, time.Now()))

		user, err := svc.Register(context.Background(), RegisterRequest{
			Email: "ada@example.org", Password: "difference-engine", FullName: "Ada",
		})
		require.NoError(t, err)
		assert.Regexp(t, `^ada_[0-9a-f]{4}$`, *user.Username)
	})

	t.Run("duplicate email", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		expectExists(mock, `users WHERE LOWER\(email\)`, "ada@example.org", true)

		_, err := svc.Register(context.Background(), RegisterRequest{
			Email: "ada@example.org", Password: "difference-engine", FullName: "Ada",
		})
		assert.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("explicit username taken", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		expectExists(mock, `users WHERE LOWER\(email\)`, "ada@example.org", false)
		expectExists(mock, `users WHERE username`, "countess", true)

		_, err := svc.Register(context.Background(), RegisterRequest{
			Email: "ada@example.org", Password: "difference-engine", FullName: "Ada", Username: "countess",
		})
		assert.ErrorIs(t, err, ErrUsernameTaken)
	})

	t.Run("lost race on insert", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		expectExists(mock, `users WHERE LOWER\(email\)`, "ada@example.org", false)
		expectExists(mock, `users WHERE username`, "ada", false)
		mock.ExpectQuery(`INSERT INTO users`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

		_, err := svc.Register(context.Background(), RegisterRequest{
			Email: "ada@example.org", Password: "difference-engine", FullName: "Ada",
		})
		assert.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("short password", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		_, err := svc.Register(context.Background(), RegisterRequest{
			Email: "ada@example.org", Password: "short", FullName: "Ada",
		})
		assert.ErrorIs(t, err, ErrWeakPassword)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	userRow := func(creds *auth.JWTCredentials, active bool) *sqlmock.Rows {
		hash, err := creds.HashPassword("difference-engine")
		require.NoError(t, err)
		return sqlmock.NewRows(userRowColumns).
			AddRow(7, "ada@example.org", "ada", "Ada", "student", active, false, nil, nil, time.Now(), nil, hash)
	}

	t.Run("success", func(t *testing.T) {
		svc, mock, creds := newTestService(t)
		mock.ExpectQuery(`FROM users WHERE LOWER\(email\)`).
			WithArgs("ada@example.org").
			WillReturnRows(userRow(creds, true))
		mock.ExpectExec(`UPDATE users SET last_login`).
			WithArgs(int64(7), svc.now().UTC()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		token, user, err := svc.Login(ctx, "ada@example.org", "difference-engine")
		require.NoError(t, err)
		assert.Equal(t, "bearer", token.TokenType)
		require.NotNil(t, user.LastLogin)

		claims, err := creds.VerifyToken(token.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "7", claims.Subject)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong password", func(t *testing.T) {
		svc, mock, creds := newTestService(t)
		mock.ExpectQuery(`FROM users`).WillReturnRows(userRow(creds, true))

		_, _, err := svc.Login(ctx, "ada@example.org", "analytical-engine")
		assert.ErrorIs(t, err, ErrBadCredentials)
	})

	t.Run("unknown email", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		mock.ExpectQuery(`FROM users`).WillReturnError(sql.ErrNoRows)

		_, _, err := svc.Login(ctx, "nobody@example.org", "difference-engine")
		assert.ErrorIs(t, err, ErrBadCredentials)
	})

	t.Run("inactive account", func(t *testing.T) {
		svc, mock, creds := newTestService(t)
		mock.ExpectQuery(`FROM users`).WillReturnRows(userRow(creds, false))

		_, _, err := svc.Login(ctx, "ada@example.org", "difference-engine")
		assert.ErrorIs(t, err, ErrInactive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestService_CreateGuest(t *testing.T) {
	svc, mock, creds := newTestService(t)
	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs(nil, nil, nil, nil, "guest", true, false, sqlmock.AnyArg(), nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(42, time.Now()))

	guest, err := svc.CreateGuest(context.Background(), "browser-session-1")
	require.NoError(t, err)
	assert.Regexp(t, `^guest_[0-9a-f]{12}$`, guest.GuestID)
	assert.Equal(t, "browser-session-1", guest.SessionID)
	assert.Equal(t, "bearer", guest.TokenType)

	claims, err := creds.VerifyToken(guest.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleGuest, claims.Role)
	assert.Equal(t, guest.GuestID, claims.GuestID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_Consent(t *testing.T) {
	ctx := context.Background()
	student := &auth.User{ID: 7, Role: auth.RoleStudent}
	guestID := "guest_0123456789ab"
	guest := &auth.User{ID: 42, Role: auth.RoleGuest, GuestID: &guestID}
	consentColumns := []string{"id", "user_id", "guest_session_id", "terms_accepted", "privacy_accepted",
		"data_collection_accepted", "cookie_accepted", "consented_at"}

	t.Run("submit requires the core consents", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		_, err := svc.SubmitConsent(ctx, student, ConsentRequest{TermsAccepted: true, PrivacyAccepted: true}, "", "")
		assert.ErrorIs(t, err, ErrConsentRequired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("submit for a registered user", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		mock.ExpectQuery(`INSERT INTO consent_records`).
			WithArgs(int64(7), nil, true, true, true, nil, "10.0.0.1", "test-agent").
			WillReturnRows(sqlmock.NewRows([]string{"id", "consented_at"}).AddRow(3, time.Now()))

		record, err := svc.SubmitConsent(ctx, student, ConsentRequest{
			TermsAccepted: true, PrivacyAccepted: true, DataCollectionAccepted: true,
		}, "10.0.0.1", "test-agent")
		require.NoError(t, err)
		assert.Equal(t, int64(3), record.ID)
		assert.Nil(t, record.GuestSessionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("submit for a guest is keyed by guest id", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		mock.ExpectQuery(`INSERT INTO consent_records`).
			WithArgs(nil, guestID, true, true, true, false, nil, nil).
			WillReturnRows(sqlmock.NewRows([]string{"id", "consented_at"}).AddRow(4, time.Now()))

		cookies := false
		record, err := svc.SubmitConsent(ctx, guest, ConsentRequest{
			TermsAccepted: true, PrivacyAccepted: true, DataCollectionAccepted: true, CookieAccepted: &cookies,
		}, "", "")
		require.NoError(t, err)
		assert.Nil(t, record.UserID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("check without a record", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		mock.ExpectQuery(`FROM consent_records\s+WHERE user_id`).WillReturnRows(sqlmock.NewRows(consentColumns))

		status, err := svc.CheckConsent(ctx, student)
		require.NoError(t, err)
		assert.False(t, status.HasConsent)
		assert.Equal(t, "No consent record found", status.Message)
	})

	t.Run("check with a record", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		mock.ExpectQuery(`FROM consent_records\s+WHERE guest_session_id`).
			WithArgs(guestID).
			WillReturnRows(sqlmock.NewRows(consentColumns).AddRow(4, nil, guestID, true, true, true, nil, at))

		status, err := svc.CheckConsent(ctx, guest)
		require.NoError(t, err)
		assert.True(t, status.HasConsent)
		assert.Equal(t, at, *status.ConsentDate)
		assert.Empty(t, status.Message)
	})

	t.Run("data collection gate", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		mock.ExpectQuery(`FROM consent_records`).
			WillReturnRows(sqlmock.NewRows(consentColumns).AddRow(5, 7, nil, true, true, false, nil, time.Now()))

		ok, err := svc.HasDataCollectionConsent(ctx, student)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestService_EnsureAdmin(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the admin once", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		expectExists(mock, `users WHERE LOWER\(email\)`, "root@example.org", false)
		expectExists(mock, `users WHERE username`, "admin", false)
		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs("root@example.org", "admin", sqlmock.AnyArg(), "Admin", "platform_admin", true, true, nil, nil).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))

		created, err := svc.EnsureAdmin(ctx, "Root@Example.org", "correct-horse")
		require.NoError(t, err)
		assert.True(t, created)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("existing email is left alone", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		expectExists(mock, `users WHERE LOWER\(email\)`, "root@example.org", true)

		created, err := svc.EnsureAdmin(ctx, "root@example.org", "correct-horse")
		require.NoError(t, err)
		assert.False(t, created)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unset email disables bootstrap", func(t *testing.T) {
		svc, mock, _ := newTestService(t)
		created, err := svc.EnsureAdmin(ctx, "", "")
		require.NoError(t, err)
		assert.False(t, created)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("weak password", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.EnsureAdmin(ctx, "root@example.org", "admin")
		assert.ErrorIs(t, err, ErrWeakPassword)
	})
}
