package attendance

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNormalization is wrapped by every NormalizationError.
	ErrNormalization = errors.New("unrecognized time format")
	// ErrDuplicate is returned by an AttendanceStore when the uniqueness key is taken.
	ErrDuplicate = errors.New("attendance record already exists")
	// ErrAlreadyRecorded is returned to a submitter whose record already exists.
	ErrAlreadyRecorded = errors.New("attendance already recorded for this session")
	// ErrClassroomNotFound is returned by a ClassroomStore for unknown classrooms.
	ErrClassroomNotFound = errors.New("classroom not found")

	ErrOutsideSessionHours = errors.New("outside session hours")
	ErrNoSessionToday      = errors.New("no session scheduled today")
	ErrNoSchedule          = errors.New("session has no resolvable schedule")
	ErrNotEnrolled         = errors.New("student not enrolled in classroom")
)

// NormalizationError reports a time string that matches no accepted format.
type NormalizationError struct {
	Input string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("%s: %q", ErrNormalization, e.Input)
}

func (e *NormalizationError) Unwrap() error { return ErrNormalization }

// ValidationError is surfaced to the submitting caller and never retried.
type ValidationError struct {
	Err    error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Detail
}

func (e *ValidationError) Unwrap() error { return e.Err }

func validation(err error, format string, args ...any) *ValidationError {
	return &ValidationError{Err: err, Detail: fmt.Sprintf(format, args...)}
}

// TransientError marks a timeout or connectivity failure of an external call.
// Callers may retry it with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsValidation reports whether err is a submission validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// wrapStoreErr tags deadline and network failures as transient and adds the
// operation name to everything else.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return &TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// DispatchError is collected by a sweep when a notification could not be sent.
type DispatchError struct {
	StudentID string
	Kind      Status
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("notify %s (%s): %v", e.StudentID, e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
