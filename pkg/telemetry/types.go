package telemetry

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrConsentRequired = errors.New("data collection consent required")
	ErrEmptyBatch      = errors.New("batch contains no events")
	ErrSessionNotFound = errors.New("telemetry session not found")
)

// MaxBatchSize bounds a single POST /events upload.
const MaxBatchSize = 500

// SessionCreate is the body of POST /api/telemetry/sessions.
type SessionCreate struct {
	ModuleID string `json:"module_id" validate:"required,notblank,max=100"`
}

// Session identifies one play-through of a module.
type Session struct {
	SessionID string    `json:"session_id"`
	ModuleID  string    `json:"module_id"`
	StartedAt time.Time `json:"started_at"`
}

// Event is one client-side telemetry event. The caller's identity comes
// from the bearer token; user_id and guest_id in the body are ignored.
type Event struct {
	SessionID       string          `json:"session_id" validate:"omitempty,max=128"`
	UserID          *int64          `json:"user_id"`
	GuestID         *string         `json:"guest_id"`
	ModuleID        string          `json:"module_id" validate:"required,max=100"`
	EventType       string          `json:"event_type" validate:"required,max=100"`
	Payload         json.RawMessage `json:"payload"`
	Timestamp       string          `json:"timestamp"`
	ClientTimestamp *int64          `json:"client_timestamp"`
}

// EventBatch is the body of POST /api/telemetry/events.
type EventBatch struct {
	SessionID string  `json:"session_id" validate:"required,max=128"`
	Events    []Event `json:"events" validate:"required,min=1,max=500,dive"`
}

// BehaviorCreate is the legacy single-event body of POST /api/telemetry/behavior.
type BehaviorCreate struct {
	ModuleID  string          `json:"module_id" validate:"required,max=100"`
	SessionID string          `json:"session_id" validate:"required,max=128"`
	EventType string          `json:"event_type" validate:"required,max=100"`
	EventData json.RawMessage `json:"event_data"`
}

// BehaviorRecord is a stored behavior_data row.
type BehaviorRecord struct {
	ID             int64     `json:"id"`
	UserID         *int64    `json:"user_id"`
	GuestSessionID *string   `json:"guest_session_id,omitempty"`
	ClassID        *int64    `json:"class_id,omitempty"`
	ModuleID       string    `json:"module_id"`
	SessionID      string    `json:"session_id"`
	EventType      string    `json:"event_type"`
	EventData      *string   `json:"event_data"`
	Timestamp      time.Time `json:"timestamp"`
}

// IngestResult acknowledges a batch upload.
type IngestResult struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Accepted  int    `json:"accepted"`
}

// SessionFilter narrows the admin session listing.
type SessionFilter struct {
	ModuleID string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// SessionSummary is one row of the admin session listing.
type SessionSummary struct {
	SessionID      string    `json:"session_id"`
	ModuleID       string    `json:"module_id"`
	UserID         *int64    `json:"user_id"`
	GuestSessionID *string   `json:"guest_id"`
	EventCount     int64     `json:"event_count"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
}

// SessionPage is a page of session summaries.
type SessionPage struct {
	Sessions []SessionSummary `json:"sessions"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}
