package dashboard

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io/fs"
	"net"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrForbidden is returned when the caller is not an admin.
	ErrForbidden = errors.New("admin access required")
	// ErrSourceUnavailable marks a configured source that could not be read.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrNotConfigured marks a source with no connection target.
	ErrNotConfigured = errors.New("source not configured")
	// ErrNotFound is returned by sync for an unknown provider or a missing store.
	ErrNotFound = errors.New("not found")
	// ErrInvalidApp is returned when an app update carries bad values.
	ErrInvalidApp = errors.New("invalid app update")
)

// errDBClosedText is the text of the unexported database/sql error returned
// by a pool that has been closed.
const errDBClosedText = "sql: database is closed"

// expectedFailure reports whether err belongs to the failure categories a
// remote source is allowed to produce: missing configuration, connectivity,
// timeouts and driver errors. Anything else is treated as a bug and logged
// loudly.
func expectedFailure(err error) bool {
	switch {
	case errors.Is(err, ErrNotConfigured),
		errors.Is(err, ErrSourceUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, fs.ErrPermission):
		return true
	case strings.Contains(err.Error(), errDBClosedText):
		return true
	}

	var netErr net.Error
	var pqErr *pq.Error
	var liteErr sqlite3.Error
	var chErr *clickhouse.Exception
	return errors.As(err, &netErr) ||
		errors.As(err, &pqErr) ||
		errors.As(err, &liteErr) ||
		errors.As(err, &chErr)
}
