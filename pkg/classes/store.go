package classes

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/CatfishW/ping-agaii-org/pkg/auth"
)

// joinCodeAlphabet omits characters that are easy to confuse when read
// aloud or copied from a projector (0/O, 1/I).
const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	joinCodeLength   = 6
	joinCodeAttempts = 5
)

// NewJoinCode returns a random join code.
func NewJoinCode() (string, error) {
	buf := make([]byte, joinCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate join code: %w", err)
	}
	for i, b := range buf {
		buf[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(buf), nil
}

// NormalizeJoinCode upper-cases and trims a user-entered code.
func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

const classColumns = `c.id, c.name, c.description, c.join_code, c.teacher_id, c.organization_id, c.is_active, c.created_at`

const statsQuery = `
	SELECT ` + classColumns + `,
	       COUNT(DISTINCT m.user_id) AS student_count,
	       COUNT(DISTINCT m.guest_session_id) AS guest_count,
	       COALESCE(s.total_sessions, 0) AS total_sessions,
	       COALESCE(s.module_count, 0) AS module_count
	FROM classes c
	LEFT JOIN class_members m ON m.class_id = c.id
	LEFT JOIN (
		SELECT class_id,
		       COUNT(DISTINCT session_id) AS total_sessions,
		       COUNT(DISTINCT module_id) AS module_count
		FROM behavior_data
		WHERE class_id IS NOT NULL
		GROUP BY class_id
	) s ON s.class_id = c.id`

const statsGroup = `
	GROUP BY c.id, s.total_sessions, s.module_count
	ORDER BY c.created_at DESC, c.id DESC`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanClass(row scanner, extra ...interface{}) (*Class, error) {
	c := &Class{}
	dest := append([]interface{}{&c.ID, &c.Name, &c.Description, &c.JoinCode, &c.TeacherID,
		&c.OrganizationID, &c.IsActive, &c.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return c, nil
}

// Store persists classes and memberships in Postgres.
type Store struct {
	db      *sql.DB
	newCode func() (string, error)
}

// NewStore creates a class store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, newCode: NewJoinCode}
}

// Create inserts c with a fresh join code, retrying on code collisions.
func (s *Store) Create(ctx context.Context, c *Class) error {
	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return err
		}
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO classes (name, description, join_code, teacher_id, organization_id, is_active)
			VALUES ($1, $2, $3, $4, $5, TRUE)
			RETURNING id, is_active, created_at`,
			c.Name, c.Description, code, c.TeacherID, c.OrganizationID,
		).Scan(&c.ID, &c.IsActive, &c.CreatedAt)
		if isCodeCollision(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to create class: %w", err)
		}
		c.JoinCode = code
		return nil
	}
	return ErrCodeExhausted
}

func isCodeCollision(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "classes_join_code_key"
}

// Get loads a class by id.
func (s *Store) Get(ctx context.Context, id int64) (*Class, error) {
	c, err := scanClass(s.db.QueryRowContext(ctx, `SELECT `+classColumns+` FROM classes c WHERE c.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load class: %w", err)
	}
	return c, nil
}

// GetWithStats loads a class and its counters.
func (s *Store) GetWithStats(ctx context.Context, id int64) (*ClassWithStats, error) {
	rows, err := s.listStats(ctx, ` WHERE c.id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// ListWithStats lists classes owned by teacherID, or every class when
// teacherID is zero.
func (s *Store) ListWithStats(ctx context.Context, teacherID int64) ([]ClassWithStats, error) {
	if teacherID == 0 {
		return s.listStats(ctx, "")
	}
	return s.listStats(ctx, ` WHERE c.teacher_id = $1`, teacherID)
}

func (s *Store) listStats(ctx context.Context, where string, args ...interface{}) ([]ClassWithStats, error) {
	rows, err := s.db.QueryContext(ctx, statsQuery+where+statsGroup, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}
	defer rows.Close()

	out := []ClassWithStats{}
	for rows.Next() {
		var st ClassWithStats
		c, err := scanClass(rows, &st.StudentCount, &st.GuestCount, &st.TotalSessions, &st.ModuleCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan class: %w", err)
		}
		st.Class = *c
		out = append(out, st)
	}
	return out, rows.Err()
}

// Update applies the set fields of req.
func (s *Store) Update(ctx context.Context, id int64, req UpdateRequest) (*Class, error) {
	var name interface{}
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
	}
	c, err := scanClass(s.db.QueryRowContext(ctx, `
		UPDATE classes c SET
			name        = COALESCE($2, c.name),
			description = COALESCE($3, c.description),
			is_active   = COALESCE($4, c.is_active),
			updated_at  = NOW()
		WHERE c.id = $1
		RETURNING `+classColumns,
		id, name, req.Description, req.IsActive))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update class: %w", err)
	}
	return c, nil
}

// RegenerateCode replaces the join code of a class.
func (s *Store) RegenerateCode(ctx context.Context, id int64) (*Class, error) {
	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		c, err := scanClass(s.db.QueryRowContext(ctx, `
			UPDATE classes c SET join_code = $2, updated_at = NOW()
			WHERE c.id = $1
			RETURNING `+classColumns, id, code))
		switch {
		case isCodeCollision(err):
			continue
		case errors.Is(err, sql.ErrNoRows):
			return nil, ErrNotFound
		case err != nil:
			return nil, fmt.Errorf("failed to regenerate join code: %w", err)
		}
		return c, nil
	}
	return nil, ErrCodeExhausted
}

// Delete removes a class and its memberships.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM classes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete class: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByCode returns the active class with code.
func (s *Store) FindByCode(ctx context.Context, code string) (*Class, error) {
	c, err := scanClass(s.db.QueryRowContext(ctx,
		`SELECT `+classColumns+` FROM classes c WHERE c.join_code = $1 AND c.is_active`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up join code: %w", err)
	}
	return c, nil
}

// AddMember enrolls user in a class. Guests are keyed by guest id. It
// reports whether a new membership was created.
func (s *Store) AddMember(ctx context.Context, classID int64, user *auth.User) (bool, error) {
	var userID, guestID interface{}
	if user.IsGuest() && user.GuestID != nil {
		guestID = *user.GuestID
	} else {
		userID = user.ID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO class_members (class_id, user_id, guest_session_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, classID, userID, guestID)
	if err != nil {
		return false, fmt.Errorf("failed to join class: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Progress summarizes telemetry per member, most recently active first.
func (s *Store) Progress(ctx context.Context, classID int64) ([]StudentProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.user_id, m.guest_session_id,
		       COALESCE(u.full_name, u.username, m.guest_session_id, '') AS name,
		       u.email,
		       COUNT(DISTINCT b.session_id) AS total_sessions,
		       COUNT(b.id) AS total_events,
		       MAX(b.timestamp) AS last_active
		FROM class_members m
		LEFT JOIN users u ON u.id = m.user_id
		LEFT JOIN behavior_data b ON b.class_id = m.class_id
		     AND ((m.user_id IS NOT NULL AND b.user_id = m.user_id)
		       OR (m.guest_session_id IS NOT NULL AND b.guest_session_id = m.guest_session_id))
		WHERE m.class_id = $1
		GROUP BY m.id, m.user_id, m.guest_session_id, u.full_name, u.username, u.email
		ORDER BY MAX(b.timestamp) DESC NULLS LAST, m.joined_at`, classID)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	defer rows.Close()

	out := []StudentProgress{}
	for rows.Next() {
		var p StudentProgress
		if err := rows.Scan(&p.UserID, &p.GuestID, &p.Name, &p.Email,
			&p.TotalSessions, &p.TotalEvents, &p.LastActive); err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
