package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

// ConsultationLookup reports whether the doctor recorded a consultation for a
// patient on a date.
type ConsultationLookup interface {
	Exists(patientID uuid.UUID, date calendar.Date) bool
}

// transitions lists every legal status change. pending is the only
// non-terminal status.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending: {StatusCompleted, StatusCancelled, StatusMissed, StatusVoid},
}

// Terminal reports whether no transition leaves s. Unknown statuses are
// terminal, so reconciliation leaves them alone.
func (s AppointmentStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled, StatusMissed, StatusVoid:
		return true
	}
	return false
}

func Transition(from, to AppointmentStatus) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Lifecycle advances pending appointments as time passes.
type Lifecycle struct {
	// MissedAfter is how long past the slot's end a same-day appointment
	// without a consultation waits before it is marked missed.
	MissedAfter time.Duration
	// VoidAfter is how long past the slot's end a past-dated appointment
	// without a consultation stays missed instead of void.
	VoidAfter time.Duration
	Location  *time.Location
}

// Next returns the status a reconciliation pass assigns to a at now.
func (l Lifecycle) Next(a Appointment, now time.Time, consulted bool) AppointmentStatus {
	if a.Status != StatusPending {
		return a.Status
	}

	loc := l.location()
	now = now.In(loc)
	today := calendar.DateOf(now)
	end := a.Date.At(a.EndTime, loc)

	switch {
	case a.Date.Before(today):
		if consulted {
			return StatusCompleted
		}
		if now.After(end.Add(l.VoidAfter)) {
			return StatusVoid
		}
		return StatusMissed
	case a.Date.Equal(today):
		if !consulted && now.After(end.Add(l.MissedAfter)) {
			return StatusMissed
		}
	}
	return StatusPending
}

// Reconcile applies Next to every appointment in place and returns the ids of
// the rows that changed. Rows do not influence each other, so the result only
// depends on the snapshot.
func (l Lifecycle) Reconcile(appts []Appointment, now time.Time, consultations ConsultationLookup) []uuid.UUID {
	var changed []uuid.UUID
	for i := range appts {
		a := &appts[i]
		if a.Status.Terminal() {
			continue
		}
		next := l.Next(*a, now, consultations.Exists(a.PatientID, a.Date))
		if next == a.Status {
			continue
		}
		a.Status = next
		a.UpdatedAt = now
		changed = append(changed, a.ID)
	}
	return changed
}

func (l Lifecycle) location() *time.Location {
	if l.Location == nil {
		return time.UTC
	}
	return l.Location
}
