package appointment

import (
	"time"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

const (
	reasonPastDate      = "past date"
	reasonCutoffReached = "booking closes 30 minutes before start"
)

// Verdict is the outcome of a booking window check.
type Verdict struct {
	Bookable         bool   `json:"bookable"`
	Reason           string `json:"reason,omitempty"`
	EmergencyContact string `json:"emergency_contact,omitempty"`
}

// WindowPolicy decides whether a schedule occurrence on a date can still be booked.
type WindowPolicy struct {
	Cutoff   time.Duration
	Location *time.Location
}

func (p WindowPolicy) Evaluate(date calendar.Date, s Schedule, now time.Time) Verdict {
	now = now.In(p.location())
	today := calendar.DateOf(now)

	switch {
	case date.Before(today):
		return Verdict{Reason: reasonPastDate}
	case date.After(today):
		return Verdict{Bookable: true}
	}

	closesAt := s.StartTime.Minutes() - int(p.Cutoff/time.Minute)
	if calendar.ClockOf(now).Minutes() >= closesAt {
		reason := reasonCutoffReached
		if p.Cutoff != 30*time.Minute {
			reason = "booking closes " + p.Cutoff.String() + " before start"
		}
		return Verdict{Reason: reason, EmergencyContact: s.EmergencyContact}
	}
	return Verdict{Bookable: true}
}

func (p WindowPolicy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}
