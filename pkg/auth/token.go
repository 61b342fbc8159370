package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired or signed with another key.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidCredentials is returned when a password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned by user lookups when no row matches.
	ErrUserNotFound = errors.New("user not found")
)

// Claims carried by access tokens. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email   string `json:"email,omitempty"`
	Role    Role   `json:"role"`
	GuestID string `json:"guest_id,omitempty"`
}

// UserID parses the subject as a user id.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return id, nil
}

// Credentials hashes passwords and issues/verifies bearer tokens.
type Credentials interface {
	HashPassword(password string) (string, error)
	VerifyPassword(password, digest string) error
	IssueToken(user *User) (token string, expiresAt time.Time, err error)
	VerifyToken(token string) (*Claims, error)
}

// JWTCredentials implements Credentials with bcrypt and HS256 JWTs.
type JWTCredentials struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	bcryptCost int
	now        func() time.Time
}

// NewJWTCredentials returns credentials signing with secret.
func NewJWTCredentials(secret, issuer string, accessTTL time.Duration, bcryptCost int) *JWTCredentials {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	if accessTTL <= 0 {
		accessTTL = 24 * time.Hour
	}
	return &JWTCredentials{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		bcryptCost: bcryptCost,
		now:        time.Now,
	}
}

func (c *JWTCredentials) HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), c.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// VerifyPassword returns ErrInvalidCredentials on mismatch or an unusable digest.
func (c *JWTCredentials) VerifyPassword(password, digest string) error {
	if digest == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (c *JWTCredentials) IssueToken(user *User) (string, time.Time, error) {
	now := c.now().UTC()
	expiresAt := now.Add(c.accessTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: user.Role,
	}
	if user.Email != nil {
		claims.Email = *user.Email
	}
	if user.GuestID != nil {
		claims.GuestID = *user.GuestID
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

func (c *JWTCredentials) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	},
		jwt.WithIssuer(c.issuer),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
