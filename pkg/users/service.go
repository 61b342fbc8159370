package users

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CatfishW/ping-agaii-org/pkg/auth"
	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

// Service implements registration, login, guest sessions and consent.
type Service struct {
	store  *Store
	creds  auth.Credentials
	logger *observability.Logger
	now    func() time.Time
}

// NewService creates a user service.
func NewService(store *Store, creds auth.Credentials, logger *observability.Logger) *Service {
	return &Service{store: store, creds: creds, logger: logger, now: time.Now}
}

// Store returns the underlying store, which also serves as the
// authenticator's user loader.
func (s *Service) Store() *Store {
	return s.store
}

// Register creates a student account. The username defaults to the local
// part of the email.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*auth.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if len(req.Password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}

	taken, err := s.store.EmailExists(ctx, email)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrEmailTaken
	}

	username := strings.TrimSpace(req.Username)
	if username != "" {
		taken, err := s.store.UsernameExists(ctx, username)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrUsernameTaken
		}
	} else {
		username, err = s.freeUsername(ctx, strings.SplitN(email, "@", 2)[0])
		if err != nil {
			return nil, err
		}
	}

	hash, err := s.creds.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	fullName := strings.TrimSpace(req.FullName)
	user := &auth.User{
		Email:        &email,
		Username:     &username,
		FullName:     &fullName,
		Role:         auth.RoleStudent,
		IsActive:     true,
		PasswordHash: hash,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", user.ID).Info("user registered")
	return user, nil
}

// freeUsername returns base, or base with a short random suffix when base
// is already taken.
func (s *Service) freeUsername(ctx context.Context, base string) (string, error) {
	candidate := base
	for i := 0; i < 5; i++ {
		taken, err := s.store.UsernameExists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + "_" + shortID(4)
	}
	return "", ErrUsernameTaken
}

// Login checks the password and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (*Token, *auth.User, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, auth.ErrUserNotFound) {
		return nil, nil, ErrBadCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if err := s.creds.VerifyPassword(password, user.PasswordHash); err != nil {
		return nil, user, ErrBadCredentials
	}
	if !user.IsActive {
		return nil, user, ErrInactive
	}

	now := s.now().UTC()
	if err := s.store.TouchLastLogin(ctx, user.ID, now); err != nil {
		return nil, user, err
	}
	user.LastLogin = &now

	token, err := s.issue(user)
	if err != nil {
		return nil, user, err
	}
	return token, user, nil
}

// CreateGuest creates an anonymous guest user and a token for it.
func (s *Service) CreateGuest(ctx context.Context, sessionID string) (*GuestSession, error) {
	guestID := "guest_" + shortID(12)
	user := &auth.User{
		GuestID:  &guestID,
		Role:     auth.RoleGuest,
		IsActive: true,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	token, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	return &GuestSession{
		GuestID:     guestID,
		SessionID:   sessionID,
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
	}, nil
}

func (s *Service) issue(user *auth.User) (*Token, error) {
	token, _, err := s.creds.IssueToken(user)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: token, TokenType: "bearer"}, nil
}

// SubmitConsent records a consent agreement. Terms, privacy and data
// collection must all be accepted.
func (s *Service) SubmitConsent(ctx context.Context, user *auth.User, req ConsentRequest, ip, userAgent string) (*ConsentRecord, error) {
	if !req.TermsAccepted || !req.PrivacyAccepted || !req.DataCollectionAccepted {
		return nil, ErrConsentRequired
	}

	record := &ConsentRecord{
		TermsAccepted:          req.TermsAccepted,
		PrivacyAccepted:        req.PrivacyAccepted,
		DataCollectionAccepted: req.DataCollectionAccepted,
		CookieAccepted:         req.CookieAccepted,
		IPAddress:              ip,
		UserAgent:              userAgent,
	}
	if user.IsGuest() {
		record.GuestSessionID = user.GuestID
	} else {
		id := user.ID
		record.UserID = &id
	}

	if err := s.store.InsertConsent(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// CheckConsent reports the caller's latest consent.
func (s *Service) CheckConsent(ctx context.Context, user *auth.User) (*ConsentStatus, error) {
	record, err := s.store.LatestConsent(ctx, user)
	if errors.Is(err, ErrNoConsent) {
		return &ConsentStatus{HasConsent: false, Message: "No consent record found"}, nil
	}
	if err != nil {
		return nil, err
	}
	return &ConsentStatus{
		HasConsent:             record.Complete(),
		ConsentDate:            &record.ConsentedAt,
		TermsAccepted:          &record.TermsAccepted,
		PrivacyAccepted:        &record.PrivacyAccepted,
		DataCollectionAccepted: &record.DataCollectionAccepted,
		CookieAccepted:         record.CookieAccepted,
	}, nil
}

// HasDataCollectionConsent reports whether telemetry may be stored for user.
func (s *Service) HasDataCollectionConsent(ctx context.Context, user *auth.User) (bool, error) {
	record, err := s.store.LatestConsent(ctx, user)
	if errors.Is(err, ErrNoConsent) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return record.DataCollectionAccepted, nil
}

// EnsureAdmin creates a platform admin with email and password unless an
// account with that email already exists. It reports whether one was created.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false, nil
	}
	if len(password) < MinPasswordLength {
		return false, ErrWeakPassword
	}

	exists, err := s.store.EmailExists(ctx, email)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	username, err := s.freeUsername(ctx, "admin")
	if err != nil {
		return false, err
	}
	hash, err := s.creds.HashPassword(password)
	if err != nil {
		return false, err
	}
	fullName := "Admin"
	admin := &auth.User{
		Email:        &email,
		Username:     &username,
		FullName:     &fullName,
		Role:         auth.RolePlatformAdmin,
		IsActive:     true,
		IsVerified:   true,
		PasswordHash: hash,
	}
	if err := s.store.CreateUser(ctx, admin); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create admin: %w", err)
	}
	s.logger.WithField("user_id", admin.ID).Info("bootstrap admin created")
	return true, nil
}

// shortID returns n lowercase hex characters from a random UUID.
func shortID(n int) string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:n]
}
