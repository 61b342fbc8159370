package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// row is a normalized event ready for insertion.
type row struct {
	UserID         *int64
	GuestSessionID *string
	ClassID        *int64
	ModuleID       string
	SessionID      string
	EventType      string
	EventData      *string
	Timestamp      time.Time
}

// Store writes and reads behavior_data.
type Store struct {
	db *sql.DB
}

// NewStore creates a telemetry store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const insertBehavior = `
	INSERT INTO behavior_data
		(user_id, guest_session_id, class_id, module_id, session_id, event_type, event_data, timestamp)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// InsertBatch writes rows in one transaction.
func (s *Store) InsertBatch(ctx context.Context, rows []row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertBehavior)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.UserID, r.GuestSessionID, r.ClassID,
			r.ModuleID, r.SessionID, r.EventType, r.EventData, r.Timestamp); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}
	return tx.Commit()
}

// InsertOne writes a single row and returns it as stored.
func (s *Store) InsertOne(ctx context.Context, r row) (*BehaviorRecord, error) {
	rec := &BehaviorRecord{
		UserID:         r.UserID,
		GuestSessionID: r.GuestSessionID,
		ClassID:        r.ClassID,
		ModuleID:       r.ModuleID,
		SessionID:      r.SessionID,
		EventType:      r.EventType,
		EventData:      r.EventData,
	}
	err := s.db.QueryRowContext(ctx, insertBehavior+` RETURNING id, timestamp`,
		r.UserID, r.GuestSessionID, r.ClassID, r.ModuleID, r.SessionID, r.EventType, r.EventData, r.Timestamp,
	).Scan(&rec.ID, &rec.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", err)
	}
	return rec, nil
}

// LatestClass returns the class the user or guest joined most recently,
// or nil when they belong to none.
func (s *Store) LatestClass(ctx context.Context, userID *int64, guestID *string) (*int64, error) {
	var classID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT class_id FROM class_members
		WHERE ($1::bigint IS NOT NULL AND user_id = $1)
		   OR ($2::text IS NOT NULL AND guest_session_id = $2)
		ORDER BY joined_at DESC
		LIMIT 1`, userID, guestID).Scan(&classID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up class: %w", err)
	}
	return &classID, nil
}

func sessionWhere(f SessionFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.ModuleID != "" {
		add("module_id = $%d", f.ModuleID)
	}
	if f.From != nil {
		add("timestamp >= $%d", *f.From)
	}
	if f.To != nil {
		add("timestamp < $%d", *f.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListSessions groups events into sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, f SessionFilter) (*SessionPage, error) {
	where, args := sessionWhere(f)
	page := &SessionPage{Sessions: []SessionSummary{}, Limit: f.Limit, Offset: f.Offset}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM (SELECT 1 FROM behavior_data`+where+` GROUP BY session_id, module_id) s`,
		args...).Scan(&page.Total)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	n := len(args)
	query := fmt.Sprintf(`
		SELECT session_id, module_id, MAX(user_id), MAX(guest_session_id),
		       COUNT(*), MIN(timestamp), MAX(timestamp)
		FROM behavior_data%s
		GROUP BY session_id, module_id
		ORDER BY MAX(timestamp) DESC
		LIMIT $%d OFFSET $%d`, where, n+1, n+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ss SessionSummary
		if err := rows.Scan(&ss.SessionID, &ss.ModuleID, &ss.UserID, &ss.GuestSessionID,
			&ss.EventCount, &ss.StartedAt, &ss.EndedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		page.Sessions = append(page.Sessions, ss)
	}
	return page, rows.Err()
}

// SessionEvents streams the events of one session in time order to fn.
func (s *Store) SessionEvents(ctx context.Context, sessionID, moduleID string, fn func(BehaviorRecord) error) (int, error) {
	query := `
		SELECT id, user_id, guest_session_id, class_id, module_id, session_id, event_type, event_data, timestamp
		FROM behavior_data
		WHERE session_id = $1 AND ($2 = '' OR module_id = $2)
		ORDER BY timestamp, id`
	rows, err := s.db.QueryContext(ctx, query, sessionID, moduleID)
	if err != nil {
		return 0, fmt.Errorf("failed to load session events: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var r BehaviorRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.GuestSessionID, &r.ClassID, &r.ModuleID,
			&r.SessionID, &r.EventType, &r.EventData, &r.Timestamp); err != nil {
			return count, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := fn(r); err != nil {
			return count, err
		}
		count++
	}
	return count, rows.Err()
}

// Purge deletes events older than their organization's retention window,
// or defaultDays for users outside an organization. It returns the number
// of rows removed.
func (s *Store) Purge(ctx context.Context, now time.Time, defaultDays int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM behavior_data b
		WHERE b.timestamp < $1::timestamptz - make_interval(days => COALESCE(
			(SELECT o.data_retention_days
			 FROM users u JOIN organizations o ON o.id = u.organization_id
			 WHERE u.id = b.user_id),
			$2))`, now, defaultDays)
	if err != nil {
		return 0, fmt.Errorf("failed to purge telemetry: %w", err)
	}
	return res.RowsAffected()
}
