// Package schedule runs periodic attendance sweeps.
package schedule

import (
	"context"
	"errors"
	"time"

	"classattend/internal/attendance"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Sweeper is the part of attendance.Sweeper the runner drives.
type Sweeper interface {
	SweepAll(ctx context.Context, reference time.Time) ([]attendance.SweepResult, error)
	SweepClassroom(ctx context.Context, classroomID string, reference time.Time) (attendance.SweepResult, error)
}

// Runner sweeps every classroom at the current time, retrying classrooms
// that failed with a transient error.
type Runner struct {
	sweeper    Sweeper
	retries    int
	timeout    time.Duration
	log        logrus.FieldLogger
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

// NewRunner creates a runner. timeout bounds a whole pass; zero means none.
func NewRunner(sweeper Sweeper, retries int, timeout time.Duration, log logrus.FieldLogger) *Runner {
	if retries < 0 {
		retries = 0
	}
	return &Runner{
		sweeper: sweeper,
		retries: retries,
		timeout: timeout,
		log:     log,
		now:     time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

// RunOnce performs one pass. The reference instant is taken once so every
// classroom in the pass is judged against the same time.
func (r *Runner) RunOnce(ctx context.Context) ([]attendance.SweepResult, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	ref := r.now()
	results, err := r.sweeper.SweepAll(ctx, ref)
	if err != nil {
		return results, err
	}
	for i, res := range results {
		if !hasTransient(res.Errors) {
			continue
		}
		results[i] = r.retry(ctx, res, ref)
	}

	var late, absent, failed int
	for _, res := range results {
		late += res.MarkedLate
		absent += res.MarkedAbsent
		failed += len(res.Errors)
	}
	r.log.WithFields(logrus.Fields{
		"classrooms": len(results),
		"late":       late,
		"absent":     absent,
		"errors":     failed,
		"reference":  ref.Format(time.RFC3339),
	}).Info("sweep pass finished")
	return results, nil
}

// retry re-sweeps one classroom. Records are idempotent, so repeating the
// students that already succeeded is a no-op.
func (r *Runner) retry(ctx context.Context, first attendance.SweepResult, ref time.Time) attendance.SweepResult {
	merged := first
	log := r.log.WithField("classroom", first.ClassroomID)
	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), uint64(r.retries)), ctx)
	attempt := 0
	_ = backoff.Retry(func() error {
		attempt++
		res, err := r.sweeper.SweepClassroom(ctx, first.ClassroomID, ref)
		merged.MarkedLate += res.MarkedLate
		merged.MarkedAbsent += res.MarkedAbsent
		if err != nil {
			merged.Errors = []error{err}
		} else {
			merged.ProcessedSessions = res.ProcessedSessions
			merged.Skipped = res.Skipped
			merged.Errors = res.Errors
		}
		if hasTransient(merged.Errors) {
			log.WithField("attempt", attempt).Warn("transient sweep failure, retrying")
			return errors.Join(merged.Errors...)
		}
		return nil
	}, b)
	return merged
}

func hasTransient(errs []error) bool {
	for _, err := range errs {
		if attendance.IsTransient(err) {
			return true
		}
	}
	return false
}

// Start runs RunOnce on the cron spec until ctx ends. Overlapping passes are
// skipped rather than queued.
func (r *Runner) Start(ctx context.Context, spec string) error {
	logger := cron.PrintfLogger(r.log)
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(spec, func() {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.WithError(err).Error("sweep pass failed")
		}
	}); err != nil {
		return err
	}
	c.Start()
	r.log.WithField("schedule", spec).Info("sweep scheduler started")
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
