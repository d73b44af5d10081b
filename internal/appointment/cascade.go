package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Cascade cancels the pending bookings of an edited or deleted schedule and
// builds the patient notifications for them.
type Cascade struct {
	NewID func() uuid.UUID
}

// TimingChanged reports whether an edit moves the schedule's day or hours.
func TimingChanged(old, updated Schedule) bool {
	return old.Day != updated.Day ||
		old.StartTime != updated.StartTime ||
		old.EndTime != updated.EndTime
}

// Affected returns the indices of pending appointments held on scheduleID.
func Affected(scheduleID uuid.UUID, appts []Appointment) []int {
	var idx []int
	for i, a := range appts {
		if a.ScheduleID == scheduleID && a.Status == StatusPending {
			idx = append(idx, i)
		}
	}
	return idx
}

// Cancel moves every pending appointment on s to cancelled with reason kind
// and returns exactly one notification per cancelled appointment.
func (c Cascade) Cancel(s Schedule, appts []Appointment, kind string, now time.Time) []Notification {
	affected := Affected(s.ID, appts)
	if len(affected) == 0 {
		return nil
	}

	notes := make([]Notification, 0, len(affected))
	for _, i := range affected {
		a := &appts[i]
		a.Status = StatusCancelled
		a.CancelReason = kind
		a.UpdatedAt = now

		title, body := cancellationMessage(s, *a, kind)
		notes = append(notes, Notification{
			ID:            c.newID(),
			PatientID:     a.PatientID,
			AppointmentID: a.ID,
			Type:          kind,
			Title:         title,
			Body:          body,
			CreatedAt:     now,
		})
	}
	return notes
}

// ApplyCapacity sets a new capacity and reserved set on s. Reserved numbers
// above the new total no longer name a slot and are dropped.
func ApplyCapacity(s *Schedule, maxPatients int, reserved []int) error {
	if maxPatients <= 0 {
		return newValidationError("max_patients", "must be a positive integer")
	}
	kept := make([]int, 0, len(reserved))
	for _, n := range normalizeSlots(reserved) {
		if n < 1 {
			return newValidationError("reserved_slots", "slot numbers must be positive")
		}
		if n <= maxPatients {
			kept = append(kept, n)
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	s.MaxPatients = maxPatients
	s.ReservedSlots = kept
	return nil
}

func cancellationMessage(s Schedule, a Appointment, kind string) (title, body string) {
	when := fmt.Sprintf("%s on %s", a.StartTime, a.Date)
	doctor := s.DoctorName
	if doctor == "" {
		doctor = "your doctor"
	} else {
		doctor = "Dr. " + doctor
	}

	switch kind {
	case ReasonScheduleDeleted:
		title = "Appointment cancelled"
		body = fmt.Sprintf(
			"%s is no longer holding sessions at %s, so your appointment at %s has been cancelled. Please book another available slot.",
			doctor, a.HospitalName, when,
		)
	default:
		title = "Schedule changed"
		body = fmt.Sprintf(
			"%s changed the schedule at %s. Your appointment at %s has been cancelled. The session now runs %s, %s to %s. Please book a new slot.",
			doctor, a.HospitalName, when, s.Day, s.StartTime, s.EndTime,
		)
	}
	return title, body
}

func (c Cascade) newID() uuid.UUID {
	if c.NewID == nil {
		return uuid.New()
	}
	return c.NewID()
}
