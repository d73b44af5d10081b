package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

// Guard accepts or refuses a booking against a snapshot of the schedule and
// the patient's appointments. It does not serialize concurrent bookings;
// callers run it inside a store transaction.
type Guard struct {
	Window              WindowPolicy
	MaxPendingPerDoctor int
	NewID               func() uuid.UUID
}

// TryBook runs the window, capacity, doctor-limit and duplicate checks in that
// order. On success it returns the new pending appointment and increments
// s.CurrentBookings. s must carry the booked count for date (see Schedule.ForDate).
func (g Guard) TryBook(patientID uuid.UUID, s *Schedule, date calendar.Date, existing []Appointment, now time.Time) (Appointment, error) {
	if v := g.Window.Evaluate(date, *s, now); !v.Bookable {
		return Appointment{}, &BookingError{Kind: BookingClosed, Reason: v.Reason, EmergencyContact: v.EmergencyContact}
	}

	if CapacityOf(*s).Available <= 0 {
		return Appointment{}, &BookingError{Kind: BookingFull, Reason: "all slots for this session are booked"}
	}

	pendingWithDoctor := 0
	duplicate := false
	for _, a := range existing {
		if a.PatientID != patientID || a.Status != StatusPending {
			continue
		}
		if a.DoctorID == s.DoctorID {
			pendingWithDoctor++
		}
		if a.ScheduleID == s.ID && a.Date == date {
			duplicate = true
		}
	}
	if pendingWithDoctor >= g.maxPending() {
		return Appointment{}, &BookingError{Kind: DoctorLimitExceeded, Reason: "cancel or attend an existing appointment with this doctor first"}
	}
	if duplicate {
		return Appointment{}, &BookingError{Kind: AlreadyBooked}
	}

	appt := Appointment{
		ID:           g.newID(),
		PatientID:    patientID,
		DoctorID:     s.DoctorID,
		ScheduleID:   s.ID,
		HospitalName: s.HospitalName,
		Date:         date,
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
		Status:       StatusPending,
		BookedAt:     now,
		UpdatedAt:    now,
	}
	s.CurrentBookings++
	return appt, nil
}

func (g Guard) maxPending() int {
	if g.MaxPendingPerDoctor <= 0 {
		return 2
	}
	return g.MaxPendingPerDoctor
}

func (g Guard) newID() uuid.UUID {
	if g.NewID == nil {
		return uuid.New()
	}
	return g.NewID()
}
