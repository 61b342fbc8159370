// Package jobs schedules background work with cron expressions.
//
// Runs are guarded by a Redis lock so only one replica executes a job at a
// time, and each run is counted in ping_job_runs_total by status.
package jobs
