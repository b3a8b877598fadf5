package attendance

import (
	"strings"
	"time"
)

// Session is one recurring weekly teaching slot of a classroom.
type Session struct {
	ID          string `json:"id" bson:"id"`
	Day         string `json:"day" bson:"day"`
	StartTime   string `json:"startTime" bson:"startTime"`
	EndTime     string `json:"endTime" bson:"endTime"`
	StartTime24 string `json:"startTime24,omitempty" bson:"startTime24,omitempty"`
	EndTime24   string `json:"endTime24,omitempty" bson:"endTime24,omitempty"`
	Subject     string `json:"subject,omitempty" bson:"subject,omitempty"`
}

// Label identifies the session in logs and skip reports.
func (s Session) Label() string {
	if s.ID != "" {
		return s.ID
	}
	label := strings.TrimSpace(s.Day) + " " + strings.TrimSpace(s.StartTime)
	if s.Subject != "" {
		label += " " + s.Subject
	}
	return label
}

// Classroom owns a set of sessions and an enrolment list keyed by Code.
type Classroom struct {
	ID       string    `json:"id" bson:"_id"`
	Code     string    `json:"code" bson:"code"`
	Name     string    `json:"name" bson:"name"`
	Sessions []Session `json:"sessions" bson:"sessions"`
}

// Student is an enrolled member of a classroom.
type Student struct {
	ID          string `json:"id" bson:"studentId"`
	DisplayName string `json:"displayName" bson:"displayName"`
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseWeekday maps a free-form day name onto time.Weekday.
func ParseWeekday(day string) (time.Weekday, bool) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(day))]
	return wd, ok
}

// Locate returns the sessions scheduled on reference's weekday, in input order.
// Sessions with a missing or unknown day never match.
func Locate(sessions []Session, reference time.Time) []Session {
	today := reference.Weekday()
	var out []Session
	for _, s := range sessions {
		if wd, ok := ParseWeekday(s.Day); ok && wd == today {
			out = append(out, s)
		}
	}
	return out
}
