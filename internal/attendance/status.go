package attendance

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the single attendance status carried by a record. Lateness is a
// status, not a separate flag.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
	StatusExcused Status = "excused"
)

// Valid returns true when the status is a supported value.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent, StatusExcused:
		return true
	default:
		return false
	}
}

// IsLate reports whether the record counts as a late arrival.
func (s Status) IsLate() bool { return s == StatusLate }

func (s Status) String() string { return string(s) }

// ParseStatus accepts any casing and surrounding whitespace.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown attendance status %q", v)
	}
	return s, nil
}

// UnmarshalJSON rejects unknown statuses.
func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Source tells which path wrote a record.
type Source string

const (
	SourceManual Source = "manual"
	SourceSweep  Source = "sweep"
)
