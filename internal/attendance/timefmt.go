package attendance

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	clock24 = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	clock12 = regexp.MustCompile(`(?i)^(\d{1,2})(?:\s*:\s*(\d{2}))?\s*(am|pm)$`)
)

// Clock is a wall-clock time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// String renders the canonical HH:MM form.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On places the clock on day's calendar date in day's location.
func (c Clock) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, day.Location())
}

// Before orders clocks within a single day.
func (c Clock) Before(o Clock) bool {
	return c.Hour*60+c.Minute < o.Hour*60+o.Minute
}

// ParseClock accepts "14:30", "9:05", "2:30 pm", "2PM", "12:00 AM".
func ParseClock(input string) (Clock, error) {
	s := strings.TrimSpace(input)

	if m := clock24.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[1])
		min, _ := strconv.Atoi(m[2])
		if h <= 23 && min <= 59 {
			return Clock{Hour: h, Minute: min}, nil
		}
		return Clock{}, &NormalizationError{Input: input}
	}

	m := clock12.FindStringSubmatch(s)
	if m == nil {
		return Clock{}, &NormalizationError{Input: input}
	}
	h, _ := strconv.Atoi(m[1])
	min := 0
	if m[2] != "" {
		min, _ = strconv.Atoi(m[2])
	}
	if h < 1 || h > 12 || min > 59 {
		return Clock{}, &NormalizationError{Input: input}
	}
	switch pm := strings.EqualFold(m[3], "pm"); {
	case pm && h != 12:
		h += 12
	case !pm && h == 12:
		h = 0
	}
	return Clock{Hour: h, Minute: min}, nil
}

// Normalize converts a free-form time string into canonical 24-hour HH:MM.
func Normalize(input string) (string, error) {
	c, err := ParseClock(input)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}
