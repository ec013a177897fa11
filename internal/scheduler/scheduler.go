package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jwalitptl/ranking-api/pkg/logger"
	"github.com/jwalitptl/ranking-api/pkg/metrics"
)

// JobFunc is one scheduled unit of work. It receives the wall-clock instant
// the run fired for, so jobs are pure functions of "now" and independently
// invocable from tests without waiting for real time.
type JobFunc func(ctx context.Context, now time.Time) error

// Job is a named task with an explicit cadence and timezone. Exactly one of
// Interval, DailyAt or HourlyAtMinute must be set; a job without a cadence is
// rejected at schedule time.
type Job struct {
	Name string
	// Interval fires the job every Interval.
	Interval time.Duration
	// DailyAt fires the job once per day at "HH:MM".
	DailyAt string
	// HourlyAtMinute fires the job once per hour at the given minute; see
	// HourlyAt. Nil leaves the hourly cadence off.
	HourlyAtMinute *int
	// Location is the timezone cadences are evaluated in; nil means UTC.
	Location *time.Location
	Run      JobFunc
}

// HourlyAt is the HourlyAtMinute cadence setter.
func HourlyAt(minute int) *int {
	return &minute
}

func (j Job) location() *time.Location {
	if j.Location == nil {
		return time.UTC
	}
	return j.Location
}

// next returns the first fire time strictly after now.
func (j Job) next(now time.Time) (time.Time, error) {
	loc := j.location()
	now = now.In(loc)

	switch {
	case j.Interval > 0:
		return now.Add(j.Interval), nil
	case j.DailyAt != "":
		var hh, mm int
		if _, err := fmt.Sscanf(j.DailyAt, "%d:%d", &hh, &mm); err != nil {
			return time.Time{}, fmt.Errorf("invalid DailyAt %q for job %s: %w", j.DailyAt, j.Name, err)
		}
		at := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, loc)
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at, nil
	case j.HourlyAtMinute != nil:
		minute := *j.HourlyAtMinute
		if minute < 0 || minute > 59 {
			return time.Time{}, fmt.Errorf("invalid HourlyAtMinute %d for job %s", minute, j.Name)
		}
		at := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), minute, 0, 0, loc)
		if !at.After(now) {
			at = at.Add(time.Hour)
		}
		return at, nil
	}
	return time.Time{}, fmt.Errorf("job %s has no cadence", j.Name)
}

// leaseTTL bounds how long a run's distributed lease is held.
func (j Job) leaseTTL() time.Duration {
	if j.Interval > 0 && j.Interval < time.Minute {
		return j.Interval
	}
	return time.Minute
}

// Locker serializes a named job run across scheduler instances. Acquire
// returns false when another instance holds the lease.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// NopLocker always acquires; single-instance deployments and tests use it.
type NopLocker struct{}

func (NopLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (NopLocker) Release(ctx context.Context, name string) error { return nil }

// Scheduler drives a registry of named jobs, each on its own timer
// goroutine. Runs are isolated: a failing or panicking job affects neither
// its next run nor any other job.
type Scheduler struct {
	jobs    []Job
	locker  Locker
	logger  *logger.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

func New(locker Locker, logger *logger.Logger, metrics *metrics.Metrics) *Scheduler {
	if locker == nil {
		locker = NopLocker{}
	}
	return &Scheduler{locker: locker, logger: logger, metrics: metrics}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start launches the job timers and returns. Jobs stop when ctx is done;
// Wait blocks until all of them have.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		job := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info("scheduled job registered", "job", job.Name)
			for {
				fireAt, err := job.next(time.Now())
				if err != nil {
					s.logger.Error(err, "unschedulable job", "job", job.Name)
					return
				}
				timer := time.NewTimer(time.Until(fireAt))
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case t := <-timer.C:
					s.RunJob(ctx, job, t)
				}
			}
		}()
	}
}

func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// RunJob executes one job run under the distributed lease. Exported so tests
// and operational tooling can fire a job for an explicit instant.
func (s *Scheduler) RunJob(ctx context.Context, job Job, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(nil, "scheduled job panicked", "job", job.Name, "panic", r)
			s.metrics.SchedulerRuns.WithLabelValues(job.Name, "panic").Inc()
		}
	}()

	acquired, err := s.locker.Acquire(ctx, job.Name, job.leaseTTL())
	if err != nil {
		s.logger.Error(err, "failed to acquire job lease", "job", job.Name)
		s.metrics.SchedulerRuns.WithLabelValues(job.Name, "lease_error").Inc()
		return
	}
	if !acquired {
		s.logger.Debug("job lease held elsewhere, skipping", "job", job.Name)
		s.metrics.SchedulerRuns.WithLabelValues(job.Name, "skipped").Inc()
		return
	}
	// Only interval jobs give the lease back early. Hourly and daily jobs
	// hold it until the TTL expires, so a peer whose clock is a few seconds
	// behind still finds the lease taken when it fires for the same slot.
	if job.Interval > 0 {
		defer func() {
			if err := s.locker.Release(ctx, job.Name); err != nil {
				s.logger.Error(err, "failed to release job lease", "job", job.Name)
			}
		}()
	}

	now = now.In(job.location())
	if err := job.Run(ctx, now); err != nil {
		s.logger.Error(err, "scheduled job failed", "job", job.Name)
		s.metrics.SchedulerRuns.WithLabelValues(job.Name, "error").Inc()
		return
	}
	s.metrics.SchedulerRuns.WithLabelValues(job.Name, "success").Inc()
}
