// Package postgres owns the platform's primary store plumbing: the
// primary/replica connection manager, the bootstrap schema, and the Redis
// client used for shared caching and job locks.
package postgres
