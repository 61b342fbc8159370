package dashboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

// absorb runs fetch and converts any error or panic into a disconnected
// snapshot. Expected failures are logged at warn, anything else at error.
func absorb(ctx context.Context, logger *observability.Logger, slug Slug, fetch func(context.Context) (MetricsSnapshot, error)) (snap MetricsSnapshot) {
	defer func() {
		if err := observability.PanicError(logger, "fetch "+string(slug), recover()); err != nil {
			snap = Disconnected(StateUnavailable)
		}
	}()

	snap, err := fetch(ctx)
	if err == nil {
		return snap
	}

	entry := logger.WithField("source", string(slug)).WithError(err)
	switch {
	case errors.Is(err, ErrNotConfigured):
		entry.Debug("source not configured")
		return Disconnected(StateNotConfigured)
	case expectedFailure(err):
		entry.Warn("source unavailable")
	default:
		entry.Error("unexpected error fetching source metrics")
	}
	return Disconnected(StateUnavailable)
}

// ReadPool returns the pool a read should run on. It is resolved on every
// read, so a replica closed by connection maintenance is not reused.
type ReadPool func() *sql.DB

// StaticPool always resolves to db.
func StaticPool(db *sql.DB) ReadPool {
	return func() *sql.DB { return db }
}

func (p ReadPool) get() *sql.DB {
	if p == nil {
		return nil
	}
	return p()
}

// LocalSource reads usage from the platform's own store.
type LocalSource struct {
	pool   ReadPool
	logger *observability.Logger
}

// NewLocalSource creates the primary store adapter on a fixed pool.
func NewLocalSource(db *sql.DB, logger *observability.Logger) *LocalSource {
	return NewLocalSourceFromPool(StaticPool(db), logger)
}

// NewLocalSourceFromPool creates the primary store adapter. pool is
// normally ConnectionManager.Replica.
func NewLocalSourceFromPool(pool ReadPool, logger *observability.Logger) *LocalSource {
	return &LocalSource{pool: pool, logger: logger}
}

// FetchMetrics counts users, sessions and events in one read-only transaction.
func (s *LocalSource) FetchMetrics(ctx context.Context) MetricsSnapshot {
	return absorb(ctx, s.logger, SlugPing, s.fetch)
}

func (s *LocalSource) fetch(ctx context.Context) (MetricsSnapshot, error) {
	db := s.pool.get()
	if db == nil {
		return MetricsSnapshot{}, ErrNotConfigured
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return MetricsSnapshot{}, fmt.Errorf("%w: begin: %v", ErrSourceUnavailable, err)
	}
	defer tx.Rollback()

	var users, sessions, events int64
	var last sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(DISTINCT session_id) FROM behavior_data),
			(SELECT COUNT(*) FROM behavior_data),
			(SELECT MAX(timestamp) FROM behavior_data)`,
	).Scan(&users, &sessions, &events, &last)
	if err != nil {
		return MetricsSnapshot{}, fmt.Errorf("local metrics query: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return MetricsSnapshot{}, fmt.Errorf("local metrics commit: %w", err)
	}

	var lastEventAt *time.Time
	if last.Valid {
		lastEventAt = &last.Time
	}
	return connected(users, sessions, events, lastEventAt), nil
}

// FileSource reads usage from the LAMMP SQLite file, opened read-only per fetch.
type FileSource struct {
	path   string
	logger *observability.Logger
}

// NewFileSource creates the file store adapter. An empty path leaves the
// source unconfigured.
func NewFileSource(path string, logger *observability.Logger) *FileSource {
	return &FileSource{path: strings.TrimSpace(path), logger: logger}
}

// Path returns the configured file path.
func (s *FileSource) Path() string {
	return s.path
}

// FetchMetrics counts users, chat sessions and chat messages.
func (s *FileSource) FetchMetrics(ctx context.Context) MetricsSnapshot {
	return absorb(ctx, s.logger, SlugLAMMP, s.fetch)
}

func (s *FileSource) fetch(ctx context.Context) (MetricsSnapshot, error) {
	db, err := openSQLiteReadOnly(s.path)
	if err != nil {
		return MetricsSnapshot{}, err
	}
	defer db.Close()

	var users, sessions, events int64
	var last interface{}
	err = db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM chat_sessions),
			(SELECT COUNT(*) FROM chat_messages),
			(SELECT MAX(created_at) FROM chat_messages)`,
	).Scan(&users, &sessions, &events, &last)
	if err != nil {
		return MetricsSnapshot{}, fmt.Errorf("lammp metrics query: %w", err)
	}

	return connected(users, sessions, events, parseTimestamp(last)), nil
}

// openSQLiteReadOnly opens path without creating it. A missing file is
// reported as unavailable before any open is attempted.
func openSQLiteReadOnly(path string) (*sql.DB, error) {
	if path == "" {
		return nil, ErrNotConfigured
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrSourceUnavailable, path)
	}

	dsn := "file:" + path + "?mode=ro&_busy_timeout=2000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// URLSource reads usage from a store named by a connection URL. The pool is
// opened on first use and kept.
type URLSource struct {
	dsn    string
	logger *observability.Logger

	mu sync.Mutex
	db *sql.DB
}

// NewURLSource creates the URL store adapter. An empty dsn leaves the source
// unconfigured.
func NewURLSource(dsn string, logger *observability.Logger) *URLSource {
	return &URLSource{dsn: strings.TrimSpace(dsn), logger: logger}
}

// FetchMetrics counts users and the latest signup. The game store records
// neither sessions nor events, so those are always zero.
func (s *URLSource) FetchMetrics(ctx context.Context) MetricsSnapshot {
	return absorb(ctx, s.logger, SlugGame, s.fetch)
}

func (s *URLSource) fetch(ctx context.Context) (MetricsSnapshot, error) {
	db, err := s.pool()
	if err != nil {
		return MetricsSnapshot{}, err
	}

	var users int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&users); err != nil {
		return MetricsSnapshot{}, fmt.Errorf("game users query: %w", err)
	}
	var last interface{}
	if err := db.QueryRowContext(ctx, `SELECT MAX(created_at) FROM users`).Scan(&last); err != nil {
		return MetricsSnapshot{}, fmt.Errorf("game last signup query: %w", err)
	}

	return connected(users, 0, 0, parseTimestamp(last)), nil
}

func (s *URLSource) pool() (*sql.DB, error) {
	if s.dsn == "" {
		return nil, ErrNotConfigured
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	driverName, dsn, err := driverForURL(s.dsn)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite3" {
		db, err := openSQLiteReadOnly(dsn)
		if err != nil {
			return nil, err
		}
		s.db = db
		return db, nil
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	s.db = db
	return db, nil
}

// Close releases the pool, if one was opened.
func (s *URLSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// driverForURL picks the database/sql driver from the URL scheme. For
// SQLite it returns the bare file path. The three drivers are registered by
// the imports in errors.go.
func driverForURL(raw string) (driverName, dsn string, err error) {
	if strings.HasPrefix(raw, "file:") {
		path := strings.TrimPrefix(raw, "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		return "sqlite3", path, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: bad connection url: %v", ErrSourceUnavailable, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return "postgres", raw, nil
	case "clickhouse":
		return "clickhouse", raw, nil
	case "sqlite", "sqlite3":
		return "sqlite3", strings.TrimPrefix(raw, u.Scheme+"://"), nil
	}
	return "", "", fmt.Errorf("%w: unsupported scheme %q", ErrSourceUnavailable, u.Scheme)
}

// Sources dispatches a slug to its adapter.
type Sources struct {
	Local *LocalSource
	File  *FileSource
	URL   *URLSource
}

// Fetch returns the snapshot for slug. An adapter that is nil or a slug
// without an adapter yields a not-configured snapshot.
func (s *Sources) Fetch(ctx context.Context, slug Slug) MetricsSnapshot {
	switch slug {
	case SlugPing:
		if s.Local != nil {
			return s.Local.FetchMetrics(ctx)
		}
	case SlugLAMMP:
		if s.File != nil {
			return s.File.FetchMetrics(ctx)
		}
	case SlugGame:
		if s.URL != nil {
			return s.URL.FetchMetrics(ctx)
		}
	}
	return Disconnected(StateNotConfigured)
}

// Close releases adapter resources.
func (s *Sources) Close() error {
	if s.URL != nil {
		return s.URL.Close()
	}
	return nil
}
