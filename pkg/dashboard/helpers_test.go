package dashboard

import (
	"database/sql"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

// newSQLiteFile creates a SQLite database at dir/name, runs stmts against it
// and closes it again, so sources under test open it fresh.
func newSQLiteFile(t *testing.T, name string, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return path
}

const lammpSchema = `
	CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT);
	CREATE TABLE chat_sessions (id INTEGER PRIMARY KEY, user_id INTEGER);
	CREATE TABLE chat_messages (id INTEGER PRIMARY KEY, session_id INTEGER, created_at TEXT);`
