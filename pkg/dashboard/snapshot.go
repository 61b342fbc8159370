package dashboard

import "time"

// State distinguishes a measured source from the two ways a source can be
// missing.
type State string

const (
	StateConnected     State = "connected"
	StateNotConfigured State = "not_configured"
	StateUnavailable   State = "unavailable"
)

// MetricsSnapshot is the live usage of one app at fetch time.
type MetricsSnapshot struct {
	Users       int64
	Sessions    int64
	Events      int64
	LastEventAt *time.Time
	Connected   bool
	State       State
}

// Disconnected returns a zero snapshot for a source that was not measured.
func Disconnected(state State) MetricsSnapshot {
	if state == StateConnected || state == "" {
		state = StateUnavailable
	}
	return MetricsSnapshot{State: state}
}

func connected(users, sessions, events int64, lastEventAt *time.Time) MetricsSnapshot {
	if lastEventAt != nil {
		utc := lastEventAt.UTC()
		lastEventAt = &utc
	}
	return MetricsSnapshot{
		Users:       users,
		Sessions:    sessions,
		Events:      events,
		LastEventAt: lastEventAt,
		Connected:   true,
		State:       StateConnected,
	}
}
