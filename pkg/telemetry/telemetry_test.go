package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CatfishW/ping-agaii-org/pkg/auth"
	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

type stubConsent struct {
	ok  bool
	err error
}

func (s stubConsent) HasDataCollectionConsent(context.Context, *auth.User) (bool, error) {
	return s.ok, s.err
}

var (
	fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	student  = &auth.User{ID: 9, Role: auth.RoleStudent}
)

func newTestService(t *testing.T, consent ConsentChecker) (*Service, sqlmock.Sqlmock, *observability.Metrics) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	svc := NewService(NewStore(db), consent, metrics, observability.NewLogger(observability.ErrorLevel, io.Discard))
	svc.now = func() time.Time { return fixedNow }
	return svc, mock, metrics
}

func TestParseEventTime(t *testing.T) {
	millis := int64(1767225600000)
	zero := int64(0)

	tests := []struct {
		name   string
		ts     string
		millis *int64
		want   time.Time
	}{
		{"rfc3339 with offset", "2026-02-01T10:00:00+02:00", nil, time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)},
		{"naive iso is utc", "2026-02-01T10:00:00.250", nil, time.Date(2026, 2, 1, 10, 0, 0, 250000000, time.UTC)},
		{"client millis fallback", "not a time", &millis, time.UnixMilli(millis).UTC()},
		{"zero millis uses server clock", "", &zero, fixedNow},
		{"nothing uses server clock", "", nil, fixedNow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseEventTime(tt.ts, tt.millis, fixedNow)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestPayloadText(t *testing.T) {
	assert.Nil(t, payloadText(nil))
	assert.Nil(t, payloadText(json.RawMessage(" null ")))
	assert.Equal(t, `{"x":1,"y":[1,2]}`, *payloadText(json.RawMessage(`{ "x": 1, "y": [1, 2] }`)))
}

func TestService_IngestBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("stores events with caller identity and class", func(t *testing.T) {
		svc, mock, metrics := newTestService(t, stubConsent{ok: true})
		mock.ExpectQuery(`SELECT class_id FROM class_members`).
			WithArgs(int64(9), nil).
			WillReturnRows(sqlmock.NewRows([]string{"class_id"}).AddRow(11))
		mock.ExpectBegin()
		prep := mock.ExpectPrepare(`INSERT INTO behavior_data`)
		prep.ExpectExec().
			WithArgs(int64(9), nil, int64(11), "circuits", "batch-1", "click", `{"x":1}`,
				time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		prep.ExpectExec().
			WithArgs(int64(9), nil, int64(11), "circuits", "override", "session_end", nil, fixedNow).
			WillReturnResult(sqlmock.NewResult(2, 1))
		mock.ExpectCommit()

		spoofed := int64(1)
		result, err := svc.IngestBatch(ctx, student, EventBatch{
			SessionID: "batch-1",
			Events: []Event{
				{ModuleID: "circuits", EventType: "click", Payload: json.RawMessage(`{"x": 1}`),
					Timestamp: "2026-02-28T09:00:00Z", UserID: &spoofed},
				{SessionID: "override", ModuleID: "circuits", EventType: "session_end"},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, &IngestResult{Success: true, SessionID: "batch-1", Accepted: 2}, result)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TelemetryEventsTotal.WithLabelValues("click")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("guest events carry the guest id", func(t *testing.T) {
		svc, mock, _ := newTestService(t, stubConsent{ok: true})
		guestID := "guest_a1b2c3d4e5f6"
		guest := &auth.User{ID: 40, Role: auth.RoleGuest, GuestID: &guestID}
		mock.ExpectQuery(`SELECT class_id FROM class_members`).
			WithArgs(nil, guestID).
			WillReturnRows(sqlmock.NewRows([]string{"class_id"}))
		mock.ExpectBegin()
		mock.ExpectPrepare(`INSERT INTO behavior_data`).ExpectExec().
			WithArgs(int64(40), guestID, nil, "circuits", "s", "click", nil, fixedNow).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		_, err := svc.IngestBatch(ctx, guest, EventBatch{SessionID: "s", Events: []Event{{ModuleID: "circuits", EventType: "click"}}})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("without consent nothing is written", func(t *testing.T) {
		svc, mock, _ := newTestService(t, stubConsent{ok: false})
		_, err := svc.IngestBatch(ctx, student, EventBatch{SessionID: "s", Events: []Event{{ModuleID: "m", EventType: "e"}}})
		assert.ErrorIs(t, err, ErrConsentRequired)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("consent lookup failure propagates", func(t *testing.T) {
		svc, _, _ := newTestService(t, stubConsent{err: errors.New("db down")})
		_, err := svc.IngestBatch(ctx, student, EventBatch{SessionID: "s", Events: []Event{{ModuleID: "m", EventType: "e"}}})
		assert.EqualError(t, err, "db down")
	})

	t.Run("empty batch", func(t *testing.T) {
		svc, _, _ := newTestService(t, stubConsent{ok: true})
		_, err := svc.IngestBatch(ctx, student, EventBatch{SessionID: "s"})
		assert.ErrorIs(t, err, ErrEmptyBatch)
	})

	t.Run("failed insert rolls back", func(t *testing.T) {
		svc, mock, _ := newTestService(t, stubConsent{ok: true})
		mock.ExpectQuery(`SELECT class_id`).WillReturnRows(sqlmock.NewRows([]string{"class_id"}))
		mock.ExpectBegin()
		mock.ExpectPrepare(`INSERT INTO behavior_data`).ExpectExec().WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		_, err := svc.IngestBatch(ctx, student, EventBatch{SessionID: "s", Events: []Event{{ModuleID: "m", EventType: "e"}}})
		assert.ErrorContains(t, err, "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestService_StartSession(t *testing.T) {
	svc, _, _ := newTestService(t, stubConsent{ok: true})
	a, err := svc.StartSession(context.Background(), student, SessionCreate{ModuleID: " circuits "})
	require.NoError(t, err)
	b, err := svc.StartSession(context.Background(), student, SessionCreate{ModuleID: "circuits"})
	require.NoError(t, err)

	assert.Equal(t, "circuits", a.ModuleID)
	assert.Equal(t, fixedNow, a.StartedAt)
	assert.Len(t, a.SessionID, 36)
	assert.NotEqual(t, a.SessionID, b.SessionID)

	denied, _, _ := newTestService(t, stubConsent{})
	_, err = denied.StartSession(context.Background(), student, SessionCreate{ModuleID: "circuits"})
	assert.ErrorIs(t, err, ErrConsentRequired)
}

func TestService_RecordBehavior(t *testing.T) {
	svc, mock, _ := newTestService(t, stubConsent{ok: true})
	mock.ExpectQuery(`SELECT class_id`).WillReturnRows(sqlmock.NewRows([]string{"class_id"}))
	mock.ExpectQuery(`INSERT INTO behavior_data(.+)RETURNING id, timestamp`).
		WithArgs(int64(9), nil, nil, "circuits", "s-1", "quiz_answer", `{"correct":true}`, fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"id", "timestamp"}).AddRow(77, fixedNow))

	rec, err := svc.RecordBehavior(context.Background(), student, BehaviorCreate{
		ModuleID: "circuits", SessionID: "s-1", EventType: "quiz_answer",
		EventData: json.RawMessage(`{"correct": true}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(77), rec.ID)
	assert.Equal(t, `{"correct":true}`, *rec.EventData)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_ListSessions(t *testing.T) {
	svc, mock, _ := newTestService(t, stubConsent{})
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM \(SELECT 1 FROM behavior_data WHERE module_id = \$1 AND timestamp >= \$2`).
		WithArgs("circuits", from).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`GROUP BY session_id, module_id(.+)LIMIT \$3 OFFSET \$4`).
		WithArgs("circuits", from, 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "module_id", "user_id", "guest_session_id",
			"count", "min", "max"}).
			AddRow("s-1", "circuits", 9, nil, 12, from, from.Add(time.Hour)))

	page, err := svc.ListSessions(context.Background(), SessionFilter{ModuleID: "circuits", From: &from, Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 50, page.Limit)
	require.Len(t, page.Sessions, 1)
	assert.Equal(t, int64(12), page.Sessions[0].EventCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestService_ExportSession(t *testing.T) {
	eventCols := []string{"id", "user_id", "guest_session_id", "class_id", "module_id", "session_id",
		"event_type", "event_data", "timestamp"}

	t.Run("writes zstd json lines", func(t *testing.T) {
		svc, mock, _ := newTestService(t, stubConsent{})
		mock.ExpectQuery(`FROM behavior_data\s+WHERE session_id = \$1`).
			WithArgs("s-1", "circuits").
			WillReturnRows(sqlmock.NewRows(eventCols).
				AddRow(1, 9, nil, nil, "circuits", "s-1", "session_start", nil, fixedNow).
				AddRow(2, 9, nil, nil, "circuits", "s-1", "click", `{"x":1}`, fixedNow.Add(time.Second)))

		var buf bytes.Buffer
		n, err := svc.ExportSession(context.Background(), &buf, "s-1", "circuits")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		dec, err := zstd.NewReader(&buf)
		require.NoError(t, err)
		defer dec.Close()

		var types []string
		scanner := bufio.NewScanner(dec)
		for scanner.Scan() {
			var rec BehaviorRecord
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
			types = append(types, rec.EventType)
		}
		require.NoError(t, scanner.Err())
		assert.Equal(t, []string{"session_start", "click"}, types)
	})

	t.Run("unknown session", func(t *testing.T) {
		svc, mock, _ := newTestService(t, stubConsent{})
		mock.ExpectQuery(`FROM behavior_data`).WillReturnRows(sqlmock.NewRows(eventCols))

		_, err := svc.ExportSession(context.Background(), io.Discard, "nope", "")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestService_Purge(t *testing.T) {
	svc, mock, _ := newTestService(t, stubConsent{})
	mock.ExpectExec(`DELETE FROM behavior_data b(.+)make_interval`).
		WithArgs(fixedNow, 365).
		WillReturnResult(sqlmock.NewResult(0, 42))

	removed, err := svc.Purge(context.Background(), 365)
	require.NoError(t, err)
	assert.Equal(t, int64(42), removed)

	removed, err = svc.Purge(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
