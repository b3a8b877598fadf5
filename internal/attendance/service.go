package attendance

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"classattend/internal/metrics"
)

// SubmissionKind is what a student hands in during a session.
type SubmissionKind string

const (
	KindProof  SubmissionKind = "proof"
	KindExcuse SubmissionKind = "excuse"
)

// SubmitRequest is a manual submission by a student.
type SubmitRequest struct {
	ClassroomID string
	StudentID   string
	Subject     string
	Kind        SubmissionKind
	ProofRef    string
	Excuse      string
}

// SubmitResult carries the written (or already existing) record and the
// window it was judged against.
type SubmitResult struct {
	Record  Record
	Session Session
	Window  Classification
}

// SessionWindow pairs a session of the day with its classification.
type SessionWindow struct {
	Session Session        `json:"session"`
	Window  Classification `json:"window"`
	Error   string         `json:"error,omitempty"`
}

// Service handles the synchronous submission path.
type Service struct {
	classrooms ClassroomStore
	recorder   *Recorder
	classifier Classifier
	timeout    time.Duration
	log        logrus.FieldLogger
}

// NewService creates a service. Non-positive timeout means 5s.
func NewService(classrooms ClassroomStore, recorder *Recorder, classifier Classifier, timeout time.Duration, log logrus.FieldLogger) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{classrooms: classrooms, recorder: recorder, classifier: classifier, timeout: timeout, log: log}
}

// Submit validates a submission against today's sessions and records it.
// A second submission for the same key returns ErrAlreadyRecorded along with
// the stored record.
func (s *Service) Submit(ctx context.Context, req SubmitRequest, reference time.Time) (SubmitResult, error) {
	res, err := s.submit(ctx, req, reference)
	switch {
	case err == nil:
		metrics.Submissions.WithLabelValues(string(res.Record.Status)).Inc()
	case errors.Is(err, ErrAlreadyRecorded):
		metrics.Submissions.WithLabelValues("duplicate").Inc()
	case IsValidation(err):
		metrics.Submissions.WithLabelValues("rejected").Inc()
	default:
		metrics.Submissions.WithLabelValues("error").Inc()
	}
	return res, err
}

func (s *Service) submit(ctx context.Context, req SubmitRequest, reference time.Time) (SubmitResult, error) {
	if req.ClassroomID == "" || req.StudentID == "" {
		return SubmitResult{}, &ValidationError{Err: errors.New("classroom and student required")}
	}
	switch req.Kind {
	case KindProof:
		if strings.TrimSpace(req.ProofRef) == "" {
			return SubmitResult{}, &ValidationError{Err: errors.New("proof reference required")}
		}
	case KindExcuse:
		if strings.TrimSpace(req.Excuse) == "" {
			return SubmitResult{}, &ValidationError{Err: errors.New("excuse text required")}
		}
	default:
		return SubmitResult{}, validation(errors.New("unknown submission kind"), "%q", req.Kind)
	}

	classroom, err := s.loadClassroom(ctx, req.ClassroomID)
	if err != nil {
		return SubmitResult{}, err
	}
	if err := s.checkEnrolled(ctx, classroom.Code, req.StudentID); err != nil {
		return SubmitResult{}, err
	}

	session, status, window, err := s.pickSession(classroom, req.Subject, reference)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"classroom": req.ClassroomID,
			"student":   req.StudentID,
		}).WithError(err).Info("submission rejected")
		return SubmitResult{}, err
	}
	if req.Kind == KindExcuse {
		status = StatusExcused
	}

	key := KeyFor(classroom.Code, req.StudentID, session, reference)
	out, err := s.recorder.RecordIfAbsent(ctx, key, Candidate{
		Status:      status,
		Timestamp:   reference,
		SubmittedAt: reference,
		ProofRef:    req.ProofRef,
		Excuse:      req.Excuse,
		Source:      SourceManual,
	})
	if err != nil {
		return SubmitResult{}, err
	}
	if !out.Created {
		res := SubmitResult{Session: session, Window: window}
		if out.Existing != nil {
			res.Record = *out.Existing
		}
		return res, ErrAlreadyRecorded
	}
	s.log.WithFields(logrus.Fields{
		"classroom": req.ClassroomID,
		"student":   req.StudentID,
		"status":    out.Record.Status,
	}).Info("submission recorded")
	return SubmitResult{Record: out.Record, Session: session, Window: window}, nil
}

// pickSession returns the first of today's sessions that accepts a
// submission at reference. When none does, the first rejection is returned.
func (s *Service) pickSession(classroom Classroom, subject string, reference time.Time) (Session, Status, Classification, error) {
	sessions := Locate(classroom.Sessions, reference)
	if subject = strings.TrimSpace(subject); subject != "" {
		var matched []Session
		for _, ses := range sessions {
			if strings.EqualFold(strings.TrimSpace(ses.Subject), subject) {
				matched = append(matched, ses)
			}
		}
		sessions = matched
	}
	if len(sessions) == 0 {
		return Session{}, "", Classification{}, validation(ErrNoSessionToday, "%s", reference.Weekday())
	}

	var firstErr error
	for _, ses := range sessions {
		status, cl, err := s.classifier.ValidateSubmission(ses, reference)
		if err == nil {
			return ses, status, cl, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return Session{}, "", Classification{}, firstErr
}

// Windows classifies each of today's sessions of a classroom.
func (s *Service) Windows(ctx context.Context, classroomID string, reference time.Time) ([]SessionWindow, error) {
	classroom, err := s.loadClassroom(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	var out []SessionWindow
	for _, ses := range Locate(classroom.Sessions, reference) {
		cl := s.classifier.Classify(ses, reference)
		w := SessionWindow{Session: ses, Window: cl}
		if cl.Err != nil {
			w.Error = cl.Err.Error()
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *Service) loadClassroom(ctx context.Context, id string) (Classroom, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	classroom, err := s.classrooms.GetClassroom(cctx, id)
	if err != nil {
		return Classroom{}, wrapStoreErr("get classroom", err)
	}
	return classroom, nil
}

func (s *Service) checkEnrolled(ctx context.Context, classCode, studentID string) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	students, err := s.classrooms.ListEnrolledStudents(cctx, classCode)
	if err != nil {
		return wrapStoreErr("list students", err)
	}
	for _, st := range students {
		if st.ID == studentID {
			return nil
		}
	}
	return validation(ErrNotEnrolled, "%s", studentID)
}
