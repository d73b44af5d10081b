package calendar

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidTimeOfDay = errors.New("invalid time of day")

const minutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time stored as minutes since midnight.
// Every comparison in the scheduling engine goes through this value.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: %02d:%02d", ErrInvalidTimeOfDay, hour, minute)
	}
	return TimeOfDay(hour*60 + minute), nil
}

// ParseTimeOfDay parses the 12-hour "hh:mm AM/PM" form used by schedules.
// A 24-hour "15:04" value is accepted as a fallback.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	v := strings.ToUpper(strings.Join(strings.Fields(s), " "))
	if v == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidTimeOfDay)
	}

	// "9:00AM" -> "9:00 AM"
	if strings.HasSuffix(v, "AM") || strings.HasSuffix(v, "PM") {
		if n := len(v); n > 2 && v[n-3] != ' ' {
			v = v[:n-2] + " " + v[n-2:]
		}
	}

	for _, layout := range []string{"3:04 PM", "15:04"} {
		if t, err := time.Parse(layout, v); err == nil {
			return TimeOfDay(t.Hour()*60 + t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
}

// MustParseTimeOfDay is for constants and tests.
func MustParseTimeOfDay(s string) TimeOfDay {
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return tod
}

// ClockOf returns the wall-clock time of t in t's own location.
func ClockOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

func (t TimeOfDay) Minutes() int { return int(t) }
func (t TimeOfDay) Hour() int    { return int(t) / 60 }
func (t TimeOfDay) Minute() int  { return int(t) % 60 }

func (t TimeOfDay) Valid() bool {
	return t >= 0 && t < minutesPerDay
}

func (t TimeOfDay) String() string {
	h := t.Hour()
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h %= 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%02d:%02d %s", h, t.Minute(), suffix)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
