package dashboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// AppUpdate carries the fields an admin may change. Nil fields are left alone.
type AppUpdate struct {
	Name        *string    `json:"name" validate:"omitempty,notblank,max=120"`
	Description *string    `json:"description" validate:"omitempty,max=500"`
	BaseURL     *string    `json:"base_url" validate:"omitempty,url"`
	Status      *AppStatus `json:"status" validate:"omitempty,oneof=active disabled"`
}

// AppStore persists app descriptors in the primary store.
type AppStore struct {
	db *sql.DB
}

// NewAppStore creates an app store.
func NewAppStore(db *sql.DB) *AppStore {
	return &AppStore{db: db}
}

// ListApps returns every stored app row.
func (s *AppStore) ListApps(ctx context.Context) ([]AppDescriptor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, name, COALESCE(description, ''), COALESCE(base_url, ''), status
		FROM apps
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	defer rows.Close()

	var apps []AppDescriptor
	for rows.Next() {
		var app AppDescriptor
		if err := rows.Scan(&app.Slug, &app.Name, &app.Description, &app.BaseURL, &app.Status); err != nil {
			return nil, fmt.Errorf("failed to scan app: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// EnsureDefaults inserts registry apps missing from the store. Existing rows
// are left untouched so admin edits survive restarts.
func (s *AppStore) EnsureDefaults(ctx context.Context, registry *Registry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for _, app := range registry.Apps() {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO apps (slug, name, description, base_url, status)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (slug) DO NOTHING`,
			app.Slug, app.Name, app.Description, app.BaseURL, app.Status)
		if err != nil {
			return 0, fmt.Errorf("failed to seed app %s: %w", app.Slug, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit app seed: %w", err)
	}
	return inserted, nil
}

// UpdateApp applies update to the app with slug.
func (s *AppStore) UpdateApp(ctx context.Context, slug Slug, update AppUpdate) (*AppDescriptor, error) {
	if update.Status != nil && !update.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidApp, *update.Status)
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, fmt.Errorf("%w: name is blank", ErrInvalidApp)
	}

	var status sql.NullString
	if update.Status != nil {
		status = sql.NullString{String: string(*update.Status), Valid: true}
	}

	var app AppDescriptor
	err := s.db.QueryRowContext(ctx, `
		UPDATE apps SET
			name        = COALESCE($2, name),
			description = COALESCE($3, description),
			base_url    = COALESCE($4, base_url),
			status      = COALESCE($5, status),
			updated_at  = NOW()
		WHERE slug = $1
		RETURNING slug, name, COALESCE(description, ''), COALESCE(base_url, ''), status`,
		slug, nullable(update.Name), nullable(update.Description), nullable(update.BaseURL), status,
	).Scan(&app.Slug, &app.Name, &app.Description, &app.BaseURL, &app.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("app %q: %w", slug, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update app: %w", err)
	}
	return &app, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: strings.TrimSpace(*s), Valid: true}
}
