package dashboard

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

// ProviderLAMMP is the only external provider accounts can be linked from.
const ProviderLAMMP = "lammp"

// SyncResult reports a sync run.
type SyncResult struct {
	Success     bool   `json:"success"`
	Provider    string `json:"provider"`
	LinkedUsers int    `json:"linked_users"`
	NewLinks    int    `json:"new_links"`
}

type externalUser struct {
	id    string
	email string
}

// AccountSync links LAMMP accounts to platform users with the same email.
type AccountSync struct {
	db      *sql.DB
	file    *FileSource
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewAccountSync creates a syncer writing links into db, the primary store.
func NewAccountSync(db *sql.DB, file *FileSource, metrics *observability.Metrics, logger *observability.Logger) *AccountSync {
	return &AccountSync{db: db, file: file, metrics: metrics, logger: logger}
}

// Sync links every external user whose email matches a platform user.
// Existing links are kept, so a repeat run reports the same LinkedUsers and
// zero NewLinks. An unknown provider or a missing store is ErrNotFound.
func (s *AccountSync) Sync(ctx context.Context, provider string) (*SyncResult, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider != ProviderLAMMP {
		return nil, fmt.Errorf("provider %q: %w", provider, ErrNotFound)
	}
	if s.file == nil {
		return nil, fmt.Errorf("%s store: %w", provider, ErrNotFound)
	}

	external, err := s.readExternalUsers(ctx)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Success: true, Provider: provider}
	if len(external) == 0 {
		return result, nil
	}

	emails := make([]string, 0, len(external))
	for _, u := range external {
		emails = append(emails, u.email)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	userIDs, err := matchUsers(ctx, tx, emails)
	if err != nil {
		return nil, err
	}

	for _, ext := range external {
		userID, ok := userIDs[strings.ToLower(ext.email)]
		if !ok {
			continue
		}
		result.LinkedUsers++

		res, err := tx.ExecContext(ctx, `
			INSERT INTO external_accounts (user_id, provider, external_user_id, external_email)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (provider, external_email) DO NOTHING`,
			userID, provider, ext.id, ext.email)
		if err != nil {
			return nil, fmt.Errorf("failed to link %s account: %w", provider, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			result.NewLinks++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit links: %w", err)
	}

	if s.metrics != nil {
		s.metrics.AccountLinksTotal.WithLabelValues(provider).Add(float64(result.NewLinks))
	}
	s.logger.WithFields(map[string]interface{}{
		"provider":     provider,
		"linked_users": result.LinkedUsers,
		"new_links":    result.NewLinks,
	}).Info("external accounts synced")
	return result, nil
}

func (s *AccountSync) readExternalUsers(ctx context.Context) ([]externalUser, error) {
	db, err := openSQLiteReadOnly(s.file.Path())
	if err != nil {
		return nil, fmt.Errorf("%s store: %w", ProviderLAMMP, ErrNotFound)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT id, email FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s users: %w", ProviderLAMMP, err)
	}
	defer rows.Close()

	var users []externalUser
	for rows.Next() {
		var id string
		var email sql.NullString
		if err := rows.Scan(&id, &email); err != nil {
			return nil, fmt.Errorf("failed to scan %s user: %w", ProviderLAMMP, err)
		}
		if e := strings.TrimSpace(email.String); e != "" {
			users = append(users, externalUser{id: id, email: e})
		}
	}
	return users, rows.Err()
}

// matchUsers maps lower-cased email to platform user id.
func matchUsers(ctx context.Context, tx *sql.Tx, emails []string) (map[string]int64, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, LOWER(email)
		FROM users
		WHERE LOWER(email) = ANY($1)`, pq.Array(lowerAll(emails)))
	if err != nil {
		return nil, fmt.Errorf("failed to match users: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]int64)
	for rows.Next() {
		var id int64
		var email string
		if err := rows.Scan(&id, &email); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		ids[email] = id
	}
	return ids, rows.Err()
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
