package attendance

import (
	"context"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used in idempotency keys.
const DateLayout = "2006-01-02"

// Key identifies the one allowed record for a student, session and day.
// Subject is empty when the session defines none.
type Key struct {
	ClassCode string `json:"classCode"`
	StudentID string `json:"studentId"`
	Date      string `json:"date"`
	Subject   string `json:"subject,omitempty"`
}

// KeyFor builds the key of a session evaluated at reference.
func KeyFor(classCode, studentID string, session Session, reference time.Time) Key {
	return Key{
		ClassCode: classCode,
		StudentID: studentID,
		Date:      reference.Format(DateLayout),
		Subject:   strings.TrimSpace(session.Subject),
	}
}

// String is used as a lock name and in logs.
func (k Key) String() string {
	return strings.Join([]string{k.ClassCode, k.StudentID, k.Date, k.Subject}, "|")
}

// Record is the durable attendance fact.
type Record struct {
	ID          string    `json:"id" bson:"_id"`
	ClassCode   string    `json:"classCode" bson:"classCode"`
	StudentID   string    `json:"studentId" bson:"studentId"`
	Date        string    `json:"date" bson:"date"`
	Subject     string    `json:"subject,omitempty" bson:"subject"`
	Status      Status    `json:"status" bson:"status"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
	SubmittedAt time.Time `json:"submittedTime" bson:"submittedTime"`
	ProofRef    string    `json:"proofRef,omitempty" bson:"proofRef,omitempty"`
	Excuse      string    `json:"excuse,omitempty" bson:"excuse,omitempty"`
	Source      Source    `json:"source" bson:"source"`
}

// Key returns the record's idempotency key.
func (r Record) Key() Key {
	return Key{ClassCode: r.ClassCode, StudentID: r.StudentID, Date: r.Date, Subject: r.Subject}
}

// Candidate is a proposed record for a key.
type Candidate struct {
	Status      Status
	Timestamp   time.Time
	SubmittedAt time.Time
	ProofRef    string
	Excuse      string
	Source      Source
}

// Notification describes a newly created automatic record.
type Notification struct {
	StudentID    string    `json:"studentId"`
	DisplayName  string    `json:"displayName,omitempty"`
	Kind         Status    `json:"kind"`
	ClassroomID  string    `json:"classroomId"`
	ClassCode    string    `json:"classCode"`
	Subject      string    `json:"subject,omitempty"`
	Date         string    `json:"date"`
	SessionStart time.Time `json:"sessionStart"`
	SessionEnd   time.Time `json:"sessionEnd"`
	Timestamp    time.Time `json:"timestamp"`
}

// ClassroomStore reads classrooms and enrolment.
type ClassroomStore interface {
	GetClassroom(ctx context.Context, id string) (Classroom, error)
	ListEnrolledStudents(ctx context.Context, classCode string) ([]Student, error)
	ListClassroomIDs(ctx context.Context) ([]string, error)
}

// AttendanceStore persists records. FindRecord returns nil, nil when missing.
// CreateRecord must return ErrDuplicate when the key is already taken.
type AttendanceStore interface {
	FindRecord(ctx context.Context, key Key) (*Record, error)
	CreateRecord(ctx context.Context, rec Record) (Record, error)
}

// Dispatcher delivers late/absent notifications.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

// Locker serialises work per key for stores without a conditional write.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
