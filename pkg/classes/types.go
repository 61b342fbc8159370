package classes

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("class not found")
	ErrForbidden       = errors.New("not allowed to manage this class")
	ErrInvalidCode     = errors.New("invalid or inactive join code")
	ErrCodeExhausted   = errors.New("could not allocate a unique join code")
	ErrTeacherRequired = errors.New("teacher role required")
)

// Class is a teacher-owned group of students joined by code.
type Class struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    *string   `json:"description"`
	JoinCode       string    `json:"join_code"`
	TeacherID      int64     `json:"teacher_id"`
	OrganizationID *int64    `json:"organization_id"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// ClassWithStats adds membership and activity counters to a class.
type ClassWithStats struct {
	Class
	StudentCount  int64 `json:"student_count"`
	GuestCount    int64 `json:"guest_count"`
	TotalSessions int64 `json:"total_sessions"`
	ModuleCount   int64 `json:"module_count"`
}

// CreateRequest is the body of POST /api/classes.
type CreateRequest struct {
	Name        string  `json:"name" validate:"required,notblank,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

// UpdateRequest changes only the fields that are set.
type UpdateRequest struct {
	Name        *string `json:"name" validate:"omitempty,notblank,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	IsActive    *bool   `json:"is_active"`
}

// JoinCodeRequest carries a class join code.
type JoinCodeRequest struct {
	JoinCode string `json:"join_code" validate:"required,len=6,alphanum"`
}

// JoinCodeInfo describes the class behind a valid join code.
type JoinCodeInfo struct {
	Valid     bool   `json:"valid"`
	ClassID   int64  `json:"class_id"`
	ClassName string `json:"class_name"`
}

// StudentProgress summarizes one member's telemetry in a class.
type StudentProgress struct {
	UserID        *int64     `json:"user_id"`
	GuestID       *string    `json:"guest_id"`
	Name          string     `json:"name"`
	Email         *string    `json:"email"`
	TotalSessions int64      `json:"total_sessions"`
	TotalEvents   int64      `json:"total_events"`
	LastActive    *time.Time `json:"last_active"`
}

// InviteRequest is the body of POST /api/classes/{id}/invite.
type InviteRequest struct {
	Emails  []string `json:"emails" validate:"required,min=1,max=50,dive,required,email"`
	Message string   `json:"message" validate:"max=1000"`
}

// InviteResult reports which invitations were sent.
type InviteResult struct {
	Sent   int      `json:"sent"`
	Failed []string `json:"failed"`
}
