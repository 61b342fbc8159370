package users

import (
	"errors"
	"time"
)

var (
	ErrEmailTaken      = errors.New("email already registered")
	ErrUsernameTaken   = errors.New("username already taken")
	ErrBadCredentials  = errors.New("incorrect email or password")
	ErrInactive        = errors.New("account is inactive")
	ErrConsentRequired = errors.New("terms, privacy, and data collection consent are required")
	ErrNoConsent       = errors.New("no consent record found")
	ErrWeakPassword    = errors.New("password is too short")
)

// MinPasswordLength is enforced on registration and admin bootstrap.
const MinPasswordLength = 8

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	FullName string `json:"full_name" validate:"required,notblank,max=200"`
	Username string `json:"username" validate:"omitempty,min=2,max=50,excludesrune=@"`
}

// LoginRequest is the JSON login body.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Token is returned by the login endpoints.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// GuestRequest is the body of POST /api/auth/guest.
type GuestRequest struct {
	SessionID string `json:"session_id" validate:"required,notblank,max=128"`
}

// GuestSession is returned when a guest session is created.
type GuestSession struct {
	GuestID     string `json:"guest_id"`
	SessionID   string `json:"session_id"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// ConsentRequest is the body of POST /api/auth/consent.
type ConsentRequest struct {
	TermsAccepted          bool  `json:"terms_accepted"`
	PrivacyAccepted        bool  `json:"privacy_accepted"`
	DataCollectionAccepted bool  `json:"data_collection_accepted"`
	CookieAccepted         *bool `json:"cookie_accepted"`
}

// ConsentRecord is a stored consent agreement.
type ConsentRecord struct {
	ID                     int64     `json:"id"`
	UserID                 *int64    `json:"user_id"`
	GuestSessionID         *string   `json:"guest_session_id"`
	TermsAccepted          bool      `json:"terms_accepted"`
	PrivacyAccepted        bool      `json:"privacy_accepted"`
	DataCollectionAccepted bool      `json:"data_collection_accepted"`
	CookieAccepted         *bool     `json:"cookie_accepted"`
	IPAddress              string    `json:"-"`
	UserAgent              string    `json:"-"`
	ConsentedAt            time.Time `json:"consented_at"`
}

// Complete reports whether every required consent was given.
func (c *ConsentRecord) Complete() bool {
	return c.TermsAccepted && c.PrivacyAccepted && c.DataCollectionAccepted
}

// ConsentStatus is the body of GET /api/auth/consent/check.
type ConsentStatus struct {
	HasConsent             bool       `json:"has_consent"`
	Message                string     `json:"message,omitempty"`
	ConsentDate            *time.Time `json:"consent_date,omitempty"`
	TermsAccepted          *bool      `json:"terms_accepted,omitempty"`
	PrivacyAccepted        *bool      `json:"privacy_accepted,omitempty"`
	DataCollectionAccepted *bool      `json:"data_collection_accepted,omitempty"`
	CookieAccepted         *bool      `json:"cookie_accepted,omitempty"`
}
