package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// ListSessions returns a page of sessions for the admin telemetry view.
func (s *Service) ListSessions(ctx context.Context, f SessionFilter) (*SessionPage, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.ListSessions(ctx, f)
}

// ExportSession writes the events of a session to w as zstd-compressed
// JSON lines. It returns ErrSessionNotFound when the session has no events.
func (s *Service) ExportSession(ctx context.Context, w io.Writer, sessionID, moduleID string) (int, error) {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("failed to create encoder: %w", err)
	}
	lines := json.NewEncoder(enc)

	n, err := s.store.SessionEvents(ctx, sessionID, moduleID, func(r BehaviorRecord) error {
		return lines.Encode(r)
	})
	if err != nil {
		enc.Close()
		return n, err
	}
	if err := enc.Close(); err != nil {
		return n, fmt.Errorf("failed to flush export: %w", err)
	}
	if n == 0 {
		return 0, ErrSessionNotFound
	}
	return n, nil
}
