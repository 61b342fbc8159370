package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// AuditLogger records security-relevant actions in audit_logs
type AuditLogger struct {
	db *sql.DB
}

// NewAuditLogger creates a new audit logger. A nil db makes every call a no-op.
func NewAuditLogger(db *sql.DB) *AuditLogger {
	return &AuditLogger{db: db}
}

// LogAction validates and stores an audit entry.
func (al *AuditLogger) LogAction(ctx context.Context, entry *AuditLog) error {
	if entry.Action == "" {
		return errors.New("action is required")
	}
	if entry.Status == "" {
		entry.Status = "success"
	}
	entry.CreatedAt = time.Now().UTC()

	if al == nil || al.db == nil {
		return nil
	}

	err := al.db.QueryRowContext(ctx, `
		INSERT INTO audit_logs (user_id, action, entity_type, entity_id, status, details, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		entry.UserID, entry.Action, nullString(entry.EntityType), nullString(entry.EntityID),
		entry.Status, nullString(entry.Details), nullString(entry.IPAddress), entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// LogFromRequest creates an audit entry for the caller of r.
func (al *AuditLogger) LogFromRequest(r *http.Request, user *User, action, entityType, entityID string, err error) error {
	entry := &AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		IPAddress:  ClientIP(r),
		Status:     "success",
	}
	if user != nil {
		id := user.ID
		entry.UserID = &id
	}
	if err != nil {
		entry.Status = "failure"
		entry.Details = err.Error()
	}
	return al.LogAction(r.Context(), entry)
}

// ClientIP extracts the caller address, honoring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
