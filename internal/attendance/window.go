package attendance

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultGrace         = 15 * time.Minute
	DefaultAbsentHorizon = 30 * time.Minute
)

// WindowState is the lifecycle position of a reference instant within a session.
type WindowState int

const (
	NotStarted WindowState = iota
	OnTime
	GraceLateWindow
	PostEndAbsentWindow
	Expired
)

func (s WindowState) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case OnTime:
		return "ON_TIME"
	case GraceLateWindow:
		return "GRACE_LATE_WINDOW"
	case PostEndAbsentWindow:
		return "POST_END_ABSENT_WINDOW"
	case Expired:
		return "EXPIRED"
	}
	return fmt.Sprintf("WindowState(%d)", int(s))
}

// MarshalText makes states render by name in JSON.
func (s WindowState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Skip reasons reported by sweeps.
const (
	ReasonNotStarted    = "not yet started"
	ReasonInGrace       = "still in grace"
	ReasonPastHorizon   = "already past absent horizon"
	ReasonMalformedTime = "malformed time"
)

// Classification is the outcome of evaluating one session at one instant.
// A session whose times cannot be resolved classifies as Expired with Err set.
type Classification struct {
	State         WindowState `json:"state"`
	SessionStart  time.Time   `json:"sessionStart"`
	SessionEnd    time.Time   `json:"sessionEnd"`
	GraceEnd      time.Time   `json:"graceEnd"`
	AbsentHorizon time.Time   `json:"absentHorizon"`
	Err           error       `json:"-"`
}

// Malformed reports whether the session's schedule could not be resolved.
func (c Classification) Malformed() bool { return c.Err != nil }

// Decision is what an automatic sweep should do for a session.
// Status is empty when no record should be written; Reason says why.
type Decision struct {
	Status    Status
	Timestamp time.Time
	Reason    string
}

// None reports whether the sweep should skip the session.
func (d Decision) None() bool { return d.Status == "" }

// Classifier evaluates sessions against an injected reference instant.
type Classifier struct {
	Grace         time.Duration
	AbsentHorizon time.Duration
}

// NewClassifier falls back to the default windows for non-positive durations.
func NewClassifier(grace, absentHorizon time.Duration) Classifier {
	if grace <= 0 {
		grace = DefaultGrace
	}
	if absentHorizon <= 0 {
		absentHorizon = DefaultAbsentHorizon
	}
	return Classifier{Grace: grace, AbsentHorizon: absentHorizon}
}

// Classify computes the window state of session at reference. The session is
// always placed on reference's calendar date.
func (c Classifier) Classify(session Session, reference time.Time) Classification {
	start, end, err := resolveTimes(session)
	if err != nil {
		return Classification{State: Expired, Err: err}
	}

	out := Classification{
		SessionStart: start.On(reference),
		SessionEnd:   end.On(reference),
	}
	out.GraceEnd = out.SessionStart.Add(c.Grace)
	out.AbsentHorizon = out.SessionEnd.Add(c.AbsentHorizon)

	switch {
	case reference.Before(out.SessionStart):
		out.State = NotStarted
	case !reference.After(out.GraceEnd):
		out.State = OnTime
	case !reference.After(out.SessionEnd):
		out.State = GraceLateWindow
	case !reference.After(out.AbsentHorizon):
		out.State = PostEndAbsentWindow
	default:
		out.State = Expired
	}
	return out
}

// ValidateSubmission accepts a manual submission only between session start and
// end inclusive. Accepted submissions are present up to the grace end, late after.
func (c Classifier) ValidateSubmission(session Session, reference time.Time) (Status, Classification, error) {
	cl := c.Classify(session, reference)
	if cl.Malformed() {
		return "", cl, &ValidationError{Err: ErrNoSchedule, Detail: cl.Err.Error()}
	}
	if reference.Before(cl.SessionStart) || reference.After(cl.SessionEnd) {
		return "", cl, validation(ErrOutsideSessionHours, "session runs %s-%s",
			cl.SessionStart.Format("15:04"), cl.SessionEnd.Format("15:04"))
	}
	if !reference.After(cl.GraceEnd) {
		return StatusPresent, cl, nil
	}
	return StatusLate, cl, nil
}

// SweepDecision maps a classification onto the automatic sweep action. Absent
// records are stamped with the session end so repeated sweeps agree.
func (c Classifier) SweepDecision(session Session, reference time.Time) (Decision, Classification) {
	cl := c.Classify(session, reference)
	if cl.Malformed() {
		return Decision{Reason: ReasonMalformedTime}, cl
	}
	switch cl.State {
	case GraceLateWindow:
		return Decision{Status: StatusLate, Timestamp: reference}, cl
	case PostEndAbsentWindow:
		return Decision{Status: StatusAbsent, Timestamp: cl.SessionEnd}, cl
	case NotStarted:
		return Decision{Reason: ReasonNotStarted}, cl
	case OnTime:
		return Decision{Reason: ReasonInGrace}, cl
	default:
		return Decision{Reason: ReasonPastHorizon}, cl
	}
}

// resolveTimes prefers the free-form fields and falls back to the precomputed
// 24-hour fields only when the free-form one is empty.
func resolveTimes(s Session) (Clock, Clock, error) {
	start, err := resolveClock(s.StartTime, s.StartTime24)
	if err != nil {
		return Clock{}, Clock{}, fmt.Errorf("start time: %w", err)
	}
	end, err := resolveClock(s.EndTime, s.EndTime24)
	if err != nil {
		return Clock{}, Clock{}, fmt.Errorf("end time: %w", err)
	}
	if !start.Before(end) {
		return Clock{}, Clock{}, fmt.Errorf("start %s not before end %s: %w", start, end, ErrNormalization)
	}
	return start, end, nil
}

func resolveClock(freeForm, canonical string) (Clock, error) {
	if freeForm != "" {
		return ParseClock(freeForm)
	}
	if canonical == "" {
		return Clock{}, &NormalizationError{Input: ""}
	}
	if !clock24.MatchString(strings.TrimSpace(canonical)) {
		return Clock{}, &NormalizationError{Input: canonical}
	}
	return ParseClock(canonical)
}
