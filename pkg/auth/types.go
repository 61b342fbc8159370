package auth

import "time"

// Role is a platform-wide user role
type Role string

const (
	RoleGuest         Role = "guest"
	RoleStudent       Role = "student"
	RoleTeacher       Role = "teacher"
	RoleOrgAdmin      Role = "org_admin"
	RolePlatformAdmin Role = "platform_admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleGuest, RoleStudent, RoleTeacher, RoleOrgAdmin, RolePlatformAdmin:
		return true
	}
	return false
}

// IsAdmin is the access gate for the admin dashboard.
func IsAdmin(r Role) bool {
	return r == RoleOrgAdmin || r == RolePlatformAdmin
}

// CanTeach reports whether r may create and manage classes.
func CanTeach(r Role) bool {
	return r == RoleTeacher || IsAdmin(r)
}

// User represents a registered account or a guest
type User struct {
	ID             int64      `json:"id"`
	Email          *string    `json:"email"`
	Username       *string    `json:"username"`
	FullName       *string    `json:"full_name"`
	Role           Role       `json:"role"`
	IsActive       bool       `json:"is_active"`
	IsVerified     bool       `json:"is_verified"`
	GuestID        *string    `json:"-"`
	OrganizationID *int64     `json:"organization_id"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLogin      *time.Time `json:"-"`
	PasswordHash   string     `json:"-"`
}

// IsGuest reports whether the user is an anonymous guest.
func (u *User) IsGuest() bool {
	return u != nil && u.Role == RoleGuest
}

// DisplayName returns the best human-readable name for the user.
func (u *User) DisplayName() string {
	switch {
	case u.FullName != nil && *u.FullName != "":
		return *u.FullName
	case u.Username != nil && *u.Username != "":
		return *u.Username
	case u.Email != nil && *u.Email != "":
		return *u.Email
	case u.GuestID != nil:
		return *u.GuestID
	}
	return "unknown"
}

// AuthContext holds the authenticated caller for a request
type AuthContext struct {
	User   *User
	Claims *Claims
}

// AuditLog represents a security audit log entry
type AuditLog struct {
	ID         int64     `json:"id"`
	UserID     *int64    `json:"user_id,omitempty"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	Status     string    `json:"status"`
	Details    string    `json:"details,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
