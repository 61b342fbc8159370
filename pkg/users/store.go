package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/CatfishW/ping-agaii-org/pkg/auth"
)

const userColumns = `id, email, username, full_name, role, is_active, is_verified,
	guest_id, organization_id, created_at, last_login, COALESCE(hashed_password, '')`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row scanner) (*auth.User, error) {
	u := &auth.User{}
	err := row.Scan(&u.ID, &u.Email, &u.Username, &u.FullName, &u.Role, &u.IsActive, &u.IsVerified,
		&u.GuestID, &u.OrganizationID, &u.CreatedAt, &u.LastLogin, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return u, nil
}

// Store is the Postgres persistence for users and consent records.
type Store struct {
	db *sql.DB
}

// NewStore creates a user store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// GetUserByID loads a user or returns auth.ErrUserNotFound.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail looks the email up case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
}

// EmailExists reports whether an account already uses email.
func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(email) = LOWER($1))`, email)
}

// UsernameExists reports whether username is taken.
func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username)
}

func (s *Store) exists(ctx context.Context, query string, arg interface{}) (bool, error) {
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&ok); err != nil {
		return false, fmt.Errorf("existence check failed: %w", err)
	}
	return ok, nil
}

// CreateUser inserts u and fills in ID and CreatedAt.
func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	var hash sql.NullString
	if u.PasswordHash != "" {
		hash = sql.NullString{String: u.PasswordHash, Valid: true}
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, username, hashed_password, full_name, role, is_active, is_verified, guest_id, organization_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		u.Email, u.Username, hash, u.FullName, u.Role, u.IsActive, u.IsVerified, u.GuestID, u.OrganizationID,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return uniqueViolation(err)
	}
	return nil
}

// uniqueViolation maps a Postgres unique violation to the matching
// sentinel, so a lost race reads the same as a failed pre-check.
func uniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case "users_email_key":
			return ErrEmailTaken
		case "users_username_key":
			return ErrUsernameTaken
		}
	}
	return fmt.Errorf("failed to insert user: %w", err)
}

// TouchLastLogin records a successful login.
func (s *Store) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// InsertConsent stores a consent record and fills in ID and ConsentedAt.
func (s *Store) InsertConsent(ctx context.Context, c *ConsentRecord) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO consent_records
			(user_id, guest_session_id, terms_accepted, privacy_accepted, data_collection_accepted,
			 cookie_accepted, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, consented_at`,
		c.UserID, c.GuestSessionID, c.TermsAccepted, c.PrivacyAccepted, c.DataCollectionAccepted,
		c.CookieAccepted, nullString(c.IPAddress), nullString(c.UserAgent),
	).Scan(&c.ID, &c.ConsentedAt)
	if err != nil {
		return fmt.Errorf("failed to insert consent: %w", err)
	}
	return nil
}

// LatestConsent returns the newest consent record for the user, keyed by
// guest id for guests. It returns ErrNoConsent when there is none.
func (s *Store) LatestConsent(ctx context.Context, u *auth.User) (*ConsentRecord, error) {
	column, key := "user_id", interface{}(u.ID)
	if u.IsGuest() {
		if u.GuestID == nil {
			return nil, ErrNoConsent
		}
		column, key = "guest_session_id", *u.GuestID
	}

	query := `
		SELECT id, user_id, guest_session_id, terms_accepted, privacy_accepted,
		       data_collection_accepted, cookie_accepted, consented_at
		FROM consent_records
		WHERE ` + column + ` = $1
		ORDER BY consented_at DESC, id DESC
		LIMIT 1`

	c := &ConsentRecord{}
	err := s.db.QueryRowContext(ctx, query, key).Scan(&c.ID, &c.UserID, &c.GuestSessionID,
		&c.TermsAccepted, &c.PrivacyAccepted, &c.DataCollectionAccepted, &c.CookieAccepted, &c.ConsentedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoConsent
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load consent: %w", err)
	}
	return c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
