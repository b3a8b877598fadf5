package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"classattend/internal/attendance"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus/hooks/test"
)

type flakySweeper struct {
	mu        sync.Mutex
	failures  int
	calls     int
	refs      []time.Time
	permanent bool
}

func transient() error {
	return &attendance.TransientError{Op: "create record", Err: context.DeadlineExceeded}
}

func (f *flakySweeper) SweepAll(_ context.Context, ref time.Time) ([]attendance.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs = append(f.refs, ref)
	ok := attendance.SweepResult{ClassroomID: "room-ok", ProcessedSessions: 1, MarkedAbsent: 3}
	bad := attendance.SweepResult{ClassroomID: "room-flaky", ProcessedSessions: 1, MarkedAbsent: 1, Errors: []error{transient()}}
	if f.permanent {
		bad.Errors = []error{errors.New("boom")}
	}
	return []attendance.SweepResult{ok, bad}, nil
}

func (f *flakySweeper) SweepClassroom(_ context.Context, id string, ref time.Time) (attendance.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.refs = append(f.refs, ref)
	if f.calls <= f.failures {
		return attendance.SweepResult{ClassroomID: id}, transient()
	}
	return attendance.SweepResult{ClassroomID: id, ProcessedSessions: 1, MarkedAbsent: 1}, nil
}

func newTestRunner(s Sweeper, retries int) *Runner {
	log, _ := test.NewNullLogger()
	r := NewRunner(s, retries, time.Second, log)
	r.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	fixed := time.Date(2024, 3, 4, 10, 20, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }
	return r
}

func TestRunOnceRetriesTransientClassrooms(t *testing.T) {
	s := &flakySweeper{failures: 1}
	results, err := newTestRunner(s, 3).RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.calls != 2 {
		t.Fatalf("SweepClassroom called %d times, want 2", s.calls)
	}
	flaky := results[1]
	if len(flaky.Errors) != 0 || flaky.MarkedAbsent != 2 {
		t.Fatalf("flaky result = %+v", flaky)
	}
	if results[0].MarkedAbsent != 3 {
		t.Fatalf("healthy result changed: %+v", results[0])
	}
	for _, ref := range s.refs {
		if !ref.Equal(s.refs[0]) {
			t.Fatalf("reference drifted within a pass: %v", s.refs)
		}
	}
}

func TestRunOnceGivesUpAfterRetries(t *testing.T) {
	s := &flakySweeper{failures: 100}
	results, err := newTestRunner(s, 2).RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.calls != 3 {
		t.Fatalf("SweepClassroom called %d times, want 3", s.calls)
	}
	if !attendance.IsTransient(results[1].Errors[0]) {
		t.Fatalf("errors = %v", results[1].Errors)
	}
}

func TestRunOnceDoesNotRetryPermanentErrors(t *testing.T) {
	s := &flakySweeper{permanent: true}
	if _, err := newTestRunner(s, 3).RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.calls != 0 {
		t.Fatalf("retried a permanent failure %d times", s.calls)
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	r := newTestRunner(&flakySweeper{}, 0)
	if err := r.Start(context.Background(), "every now and then"); err == nil {
		t.Fatal("expected error for bad cron spec")
	}
}

func TestStartRunsUntilCancelled(t *testing.T) {
	s := &flakySweeper{}
	r := newTestRunner(s, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx, "@every 1s") }()

	deadline := time.After(3 * time.Second)
	for {
		s.mu.Lock()
		n := len(s.refs)
		s.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("no pass ran")
		case <-time.After(50 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
