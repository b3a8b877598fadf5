package attendance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"classattend/internal/metrics"
)

// SessionSkip records a session the sweep did not act on.
type SessionSkip struct {
	Session string `json:"session"`
	Subject string `json:"subject,omitempty"`
	Reason  string `json:"reason"`
}

// SweepResult aggregates one classroom sweep. ProcessedSessions counts every
// session of the day that was classified, skipped ones included.
type SweepResult struct {
	ClassroomID       string        `json:"classroomId"`
	ProcessedSessions int           `json:"processedSessions"`
	MarkedLate        int           `json:"markedLate"`
	MarkedAbsent      int           `json:"markedAbsent"`
	Skipped           []SessionSkip `json:"skipped,omitempty"`
	Errors            []error       `json:"-"`
}

// ErrorStrings flattens Errors for JSON responses.
func (r SweepResult) ErrorStrings() []string {
	out := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		out = append(out, err.Error())
	}
	return out
}

// Sweeper auto-marks late and absent students.
type Sweeper struct {
	classrooms  ClassroomStore
	recorder    *Recorder
	dispatcher  Dispatcher
	classifier  Classifier
	concurrency int
	timeout     time.Duration
	log         logrus.FieldLogger
}

// SweeperConfig holds the tunables of a Sweeper.
type SweeperConfig struct {
	Classifier  Classifier
	Concurrency int
	CallTimeout time.Duration
	Logger      logrus.FieldLogger
}

// NewSweeper wires a sweeper. A nil dispatcher disables notifications.
func NewSweeper(classrooms ClassroomStore, recorder *Recorder, dispatcher Dispatcher, cfg SweeperConfig) *Sweeper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.Classifier == (Classifier{}) {
		cfg.Classifier = NewClassifier(0, 0)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Sweeper{
		classrooms:  classrooms,
		recorder:    recorder,
		dispatcher:  dispatcher,
		classifier:  cfg.Classifier,
		concurrency: cfg.Concurrency,
		timeout:     cfg.CallTimeout,
		log:         cfg.Logger,
	}
}

// SweepAll sweeps every classroom. A classroom that fails to load is logged
// and reported in its own result; cancellation stops between classrooms.
func (s *Sweeper) SweepAll(ctx context.Context, reference time.Time) ([]SweepResult, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	ids, err := s.classrooms.ListClassroomIDs(cctx)
	cancel()
	if err != nil {
		return nil, wrapStoreErr("list classrooms", err)
	}

	results := make([]SweepResult, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := s.SweepClassroom(ctx, id, reference)
		if err != nil {
			s.log.WithError(err).WithField("classroom", id).Warn("classroom sweep failed")
			res.Errors = append(res.Errors, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// SweepClassroom evaluates today's sessions of one classroom at reference.
// The returned error is set only when the classroom or its roster cannot be
// loaded, or when ctx is cancelled; per-student failures land in Errors.
func (s *Sweeper) SweepClassroom(ctx context.Context, classroomID string, reference time.Time) (SweepResult, error) {
	res := SweepResult{ClassroomID: classroomID}
	started := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(started).Seconds())
		metrics.SweepsTotal.Inc()
	}()

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	classroom, err := s.classrooms.GetClassroom(cctx, classroomID)
	cancel()
	if err != nil {
		return res, wrapStoreErr("get classroom", err)
	}

	sessions := Locate(classroom.Sessions, reference)
	if len(sessions) == 0 {
		return res, nil
	}

	cctx, cancel = context.WithTimeout(ctx, s.timeout)
	students, err := s.classrooms.ListEnrolledStudents(cctx, classroom.Code)
	cancel()
	if err != nil {
		return res, wrapStoreErr("list students", err)
	}

	log := s.log.WithField("classroom", classroomID)
	for _, session := range sessions {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.ProcessedSessions++

		decision, cl := s.classifier.SweepDecision(session, reference)
		slog := log.WithFields(logrus.Fields{"session": session.Label(), "state": cl.State.String()})
		if decision.None() {
			res.Skipped = append(res.Skipped, SessionSkip{Session: session.Label(), Subject: session.Subject, Reason: decision.Reason})
			metrics.SessionsSkipped.WithLabelValues(decision.Reason).Inc()
			entry := slog.WithField("reason", decision.Reason)
			if cl.Malformed() {
				entry.WithError(cl.Err).Warn("session skipped")
			} else {
				entry.Debug("session skipped")
			}
			continue
		}

		late, absent, errs := s.markStudents(ctx, classroom, session, students, decision, cl, reference)
		res.MarkedLate += late
		res.MarkedAbsent += absent
		res.Errors = append(res.Errors, errs...)
		slog.WithFields(logrus.Fields{"late": late, "absent": absent, "errors": len(errs)}).Info("session swept")
	}
	return res, nil
}

func (s *Sweeper) markStudents(ctx context.Context, classroom Classroom, session Session, students []Student,
	decision Decision, cl Classification, reference time.Time) (late, absent int, errs []error) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, st := range students {
		g.Go(func() error {
			key := KeyFor(classroom.Code, st.ID, session, reference)
			out, err := s.recorder.RecordIfAbsent(gctx, key, Candidate{
				Status:      decision.Status,
				Timestamp:   decision.Timestamp,
				SubmittedAt: reference,
				Source:      SourceSweep,
			})
			if err != nil {
				if IsTransient(err) {
					metrics.TransientErrors.Inc()
				}
				mu.Lock()
				errs = append(errs, fmt.Errorf("student %s: %w", st.ID, err))
				mu.Unlock()
				return nil
			}
			if !out.Created {
				return nil
			}

			mu.Lock()
			if decision.Status == StatusLate {
				late++
			} else {
				absent++
			}
			mu.Unlock()

			if err := s.notify(gctx, Notification{
				StudentID:    st.ID,
				DisplayName:  st.DisplayName,
				Kind:         decision.Status,
				ClassroomID:  classroom.ID,
				ClassCode:    classroom.Code,
				Subject:      session.Subject,
				Date:         key.Date,
				SessionStart: cl.SessionStart,
				SessionEnd:   cl.SessionEnd,
				Timestamp:    decision.Timestamp,
			}); err != nil {
				s.log.WithError(err).WithField("student", st.ID).Warn("notification failed")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return late, absent, errs
}

func (s *Sweeper) notify(ctx context.Context, n Notification) error {
	if s.dispatcher == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.dispatcher.Notify(cctx, n); err != nil {
		metrics.DispatchFailures.Inc()
		return &DispatchError{StudentID: n.StudentID, Kind: n.Kind, Err: err}
	}
	return nil
}
