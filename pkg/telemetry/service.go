package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CatfishW/ping-agaii-org/pkg/auth"
	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

// ConsentChecker reports whether a user agreed to data collection.
type ConsentChecker interface {
	HasDataCollectionConsent(ctx context.Context, user *auth.User) (bool, error)
}

// Service ingests telemetry for consenting users.
type Service struct {
	store   *Store
	consent ConsentChecker
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// NewService creates a telemetry service.
func NewService(store *Store, consent ConsentChecker, metrics *observability.Metrics, logger *observability.Logger) *Service {
	return &Service{store: store, consent: consent, metrics: metrics, logger: logger, now: time.Now}
}

// StartSession allocates a new session id. No row is written until the
// first event arrives.
func (s *Service) StartSession(ctx context.Context, caller *auth.User, req SessionCreate) (*Session, error) {
	if err := s.requireConsent(ctx, caller); err != nil {
		return nil, err
	}
	return &Session{
		SessionID: uuid.NewString(),
		ModuleID:  strings.TrimSpace(req.ModuleID),
		StartedAt: s.now().UTC(),
	}, nil
}

// IngestBatch stores a batch of events. Events without a session id take
// the batch's.
func (s *Service) IngestBatch(ctx context.Context, caller *auth.User, batch EventBatch) (*IngestResult, error) {
	if len(batch.Events) == 0 {
		return nil, ErrEmptyBatch
	}
	if err := s.requireConsent(ctx, caller); err != nil {
		return nil, err
	}

	classID, err := s.classFor(ctx, caller)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	rows := make([]row, 0, len(batch.Events))
	for _, ev := range batch.Events {
		sessionID := ev.SessionID
		if sessionID == "" {
			sessionID = batch.SessionID
		}
		r := s.newRow(caller, classID, ev.ModuleID, sessionID, ev.EventType, ev.Payload)
		r.Timestamp = parseEventTime(ev.Timestamp, ev.ClientTimestamp, now)
		rows = append(rows, r)
	}

	if err := s.store.InsertBatch(ctx, rows); err != nil {
		return nil, err
	}
	for _, r := range rows {
		s.countEvent(r.EventType)
	}

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"session_id": batch.SessionID,
		"events":     len(rows),
	}).Debug("telemetry batch stored")

	return &IngestResult{Success: true, SessionID: batch.SessionID, Accepted: len(rows)}, nil
}

// RecordBehavior stores a single legacy event and returns the stored row.
func (s *Service) RecordBehavior(ctx context.Context, caller *auth.User, req BehaviorCreate) (*BehaviorRecord, error) {
	if err := s.requireConsent(ctx, caller); err != nil {
		return nil, err
	}
	classID, err := s.classFor(ctx, caller)
	if err != nil {
		return nil, err
	}

	r := s.newRow(caller, classID, req.ModuleID, req.SessionID, req.EventType, req.EventData)
	r.Timestamp = s.now().UTC()
	rec, err := s.store.InsertOne(ctx, r)
	if err != nil {
		return nil, err
	}
	s.countEvent(r.EventType)
	return rec, nil
}

func (s *Service) requireConsent(ctx context.Context, caller *auth.User) error {
	ok, err := s.consent.HasDataCollectionConsent(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConsentRequired
	}
	return nil
}

func (s *Service) classFor(ctx context.Context, caller *auth.User) (*int64, error) {
	if caller.IsGuest() {
		return s.store.LatestClass(ctx, nil, caller.GuestID)
	}
	id := caller.ID
	return s.store.LatestClass(ctx, &id, nil)
}

func (s *Service) newRow(caller *auth.User, classID *int64, moduleID, sessionID, eventType string, payload json.RawMessage) row {
	r := row{
		ClassID:   classID,
		ModuleID:  strings.TrimSpace(moduleID),
		SessionID: strings.TrimSpace(sessionID),
		EventType: strings.TrimSpace(eventType),
		EventData: payloadText(payload),
	}
	if caller.IsGuest() {
		r.GuestSessionID = caller.GuestID
	}
	id := caller.ID
	r.UserID = &id
	return r
}

func (s *Service) countEvent(eventType string) {
	if s.metrics == nil {
		return
	}
	s.metrics.TelemetryEventsTotal.WithLabelValues(eventType).Inc()
}

// payloadText compacts a JSON payload for storage. A missing or null
// payload is stored as NULL.
func payloadText(raw json.RawMessage) *string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		text := string(trimmed)
		return &text
	}
	text := buf.String()
	return &text
}

// parseEventTime prefers the ISO timestamp, then the client's epoch
// milliseconds, then the server clock. The result is UTC.
func parseEventTime(ts string, clientMillis *int64, now time.Time) time.Time {
	if ts = strings.TrimSpace(ts); ts != "" {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, ts); err == nil {
				return t.UTC()
			}
		}
	}
	if clientMillis != nil && *clientMillis > 0 {
		return time.UnixMilli(*clientMillis).UTC()
	}
	return now.UTC()
}
