package telemetry

import "context"

// Purge removes telemetry past its retention window. defaultDays applies
// to users without an organization; zero disables the purge.
func (s *Service) Purge(ctx context.Context, defaultDays int) (int64, error) {
	if defaultDays <= 0 {
		return 0, nil
	}
	removed, err := s.store.Purge(ctx, s.now().UTC(), defaultDays)
	if err != nil {
		return 0, err
	}
	s.logger.WithFields(map[string]interface{}{
		"removed":      removed,
		"default_days": defaultDays,
	}).Info("telemetry retention purge finished")
	return removed, nil
}
