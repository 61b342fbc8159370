// Package telemetry ingests learner behavior events into behavior_data.
//
// Every write requires a consent record with data collection accepted.
// Timestamps are normalized to UTC; an event without a parseable
// timestamp is stamped with the server clock. Admins can page through
// sessions and download a session as zstd-compressed JSON lines.
package telemetry
