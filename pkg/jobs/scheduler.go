package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/CatfishW/ping-agaii-org/pkg/observability"
)

// ErrUnknownJob is returned by RunNow for an unregistered job name.
var ErrUnknownJob = errors.New("unknown job")

// Locker serializes job runs across replicas. *postgres.RedisClient
// implements it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Job is a named unit of scheduled work.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler runs jobs on cron schedules in UTC.
type Scheduler struct {
	cron    *cron.Cron
	locker  Locker
	metrics *observability.Metrics
	logger  *observability.Logger

	mu   sync.Mutex
	jobs map[string]Job
}

// NewScheduler creates a scheduler. A nil locker runs every job locally
// without coordination.
func NewScheduler(locker Locker, metrics *observability.Metrics, logger *observability.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithParser(cronParser),
			cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
		),
		locker:  locker,
		metrics: metrics,
		logger:  logger.WithField("component", "jobs"),
		jobs:    make(map[string]Job),
	}
}

// Add registers job. A job with an empty schedule is kept for RunNow but
// never fires on its own.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a run function")
	}
	if job.Timeout <= 0 {
		job.Timeout = 10 * time.Minute
	}

	if job.Schedule == "" {
		s.register(job)
		s.logger.WithField("job", job.Name).Info("job has no schedule, not scheduled")
		return nil
	}
	if _, err := s.cron.AddFunc(job.Schedule, func() { s.run(context.Background(), job) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
	}
	s.register(job)
	s.logger.WithFields(map[string]interface{}{
		"job":      job.Name,
		"schedule": job.Schedule,
	}).Info("job scheduled")
	return nil
}

func (s *Scheduler) register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = job
}

// RunNow runs a registered job immediately, subject to the same lock.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownJob)
	}
	return s.run(ctx, job)
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()
	logger := s.logger.WithField("job", job.Name)

	if s.locker != nil {
		key := "jobs:lock:" + job.Name
		held, err := s.locker.TryLock(ctx, key, job.Timeout)
		if err != nil {
			// Fail open and run uncoordinated.
			logger.WithError(err).Warn("job lock unavailable, running without it")
		} else if !held {
			logger.Debug("job already running elsewhere, skipped")
			s.observe(job.Name, "skipped")
			return nil
		} else {
			defer func() {
				if err := s.locker.Unlock(context.Background(), key); err != nil {
					logger.WithError(err).Warn("failed to release job lock")
				}
			}()
		}
	}

	start := time.Now()
	err := job.Run(ctx)
	fields := map[string]interface{}{"duration_ms": time.Since(start).Milliseconds()}
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("job failed")
		s.observe(job.Name, "error")
		return err
	}
	logger.WithFields(fields).Info("job finished")
	s.observe(job.Name, "success")
	return nil
}

func (s *Scheduler) observe(job, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.JobRunsTotal.WithLabelValues(job, status).Inc()
}

// cronLogger adapts the structured logger to cron.Logger.
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kv(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kv(keysAndValues)).WithError(err).Error(msg)
}

func kv(pairs []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		fields[fmt.Sprint(pairs[i])] = pairs[i+1]
	}
	return fields
}
