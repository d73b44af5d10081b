package appointment

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusMissed    AppointmentStatus = "missed"
	StatusVoid      AppointmentStatus = "void"
)

// Cancel reasons and notification type tags.
const (
	ReasonScheduleChanged  = "schedule_changed"
	ReasonScheduleDeleted  = "schedule_deleted"
	ReasonPatientCancelled = "patient_cancelled"
)

// Collection keys in the store.
const (
	CollectionSchedules     = "schedules"
	CollectionAppointments  = "appointments"
	CollectionConsultations = "consultations"
	CollectionNotifications = "notifications"
)

// Schedule is a doctor's recurring weekly consultation slot at one hospital.
type Schedule struct {
	ID               uuid.UUID          `json:"id"`
	DoctorID         uuid.UUID          `json:"doctor_id"`
	DoctorName       string             `json:"doctor_name"`
	HospitalName     string             `json:"hospital_name"`
	HospitalAddress  string             `json:"hospital_address,omitempty"`
	Day              time.Weekday       `json:"day"`
	StartTime        calendar.TimeOfDay `json:"start_time"`
	EndTime          calendar.TimeOfDay `json:"end_time"`
	MaxPatients      int                `json:"max_patients"`
	ReservedSlots    []int              `json:"reserved_slots,omitempty"`
	CurrentBookings  int                `json:"current_bookings"`
	EmergencyContact string             `json:"emergency_contact,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// ForDate returns a copy of s whose CurrentBookings counts the non-cancelled
// appointments held on s for the given date.
func (s Schedule) ForDate(date calendar.Date, appts []Appointment) Schedule {
	booked := 0
	for _, a := range appts {
		if a.ScheduleID == s.ID && a.Date == date && a.Status != StatusCancelled {
			booked++
		}
	}
	s.CurrentBookings = booked
	s.ReservedSlots = append([]int(nil), s.ReservedSlots...)
	return s
}

func (s Schedule) Validate() error {
	if s.DoctorID == uuid.Nil {
		return newValidationError("doctor_id", "is required")
	}
	if s.HospitalName == "" {
		return newValidationError("hospital_name", "is required")
	}
	if s.Day < time.Sunday || s.Day > time.Saturday {
		return newValidationError("day", "must be a day of the week")
	}
	if !s.StartTime.Valid() || !s.EndTime.Valid() {
		return newValidationError("start_time", "must be a valid time of day")
	}
	if s.StartTime >= s.EndTime {
		return newValidationError("end_time", "must be after start_time")
	}
	if s.MaxPatients <= 0 {
		return newValidationError("max_patients", "must be a positive integer")
	}
	seen := make(map[int]bool, len(s.ReservedSlots))
	for _, n := range s.ReservedSlots {
		if n < 1 || n > s.MaxPatients {
			return newValidationError("reserved_slots", "slot numbers must be within 1..max_patients")
		}
		if seen[n] {
			return newValidationError("reserved_slots", "slot numbers must be unique")
		}
		seen[n] = true
	}
	return nil
}

type Appointment struct {
	ID           uuid.UUID          `json:"id"`
	PatientID    uuid.UUID          `json:"patient_id"`
	DoctorID     uuid.UUID          `json:"doctor_id"`
	ScheduleID   uuid.UUID          `json:"schedule_id"`
	HospitalName string             `json:"hospital_name"`
	Date         calendar.Date      `json:"date"`
	StartTime    calendar.TimeOfDay `json:"start_time"`
	EndTime      calendar.TimeOfDay `json:"end_time"`
	Status       AppointmentStatus  `json:"status"`
	BookedAt     time.Time          `json:"booked_at"`
	CancelReason string             `json:"cancel_reason,omitempty"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Consultation is written by the doctor's notes workflow. Only its existence
// for a patient and date matters here.
type Consultation struct {
	ID        uuid.UUID     `json:"id"`
	PatientID uuid.UUID     `json:"patient_id"`
	DoctorID  uuid.UUID     `json:"doctor_id"`
	Date      calendar.Date `json:"date"`
	CreatedAt time.Time     `json:"created_at"`
}

type Notification struct {
	ID            uuid.UUID `json:"id"`
	PatientID     uuid.UUID `json:"patient_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Type          string    `json:"type"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	CreatedAt     time.Time `json:"created_at"`
	Read          bool      `json:"read"`
}

type consultationKey struct {
	patientID uuid.UUID
	date      calendar.Date
}

// ConsultationIndex answers existence queries over a consultations snapshot.
type ConsultationIndex map[consultationKey]struct{}

func NewConsultationIndex(consultations []Consultation) ConsultationIndex {
	idx := make(ConsultationIndex, len(consultations))
	for _, c := range consultations {
		idx[consultationKey{patientID: c.PatientID, date: c.Date}] = struct{}{}
	}
	return idx
}

func (idx ConsultationIndex) Exists(patientID uuid.UUID, date calendar.Date) bool {
	_, ok := idx[consultationKey{patientID: patientID, date: date}]
	return ok
}

func normalizeSlots(slots []int) []int {
	if len(slots) == 0 {
		return nil
	}
	seen := make(map[int]bool, len(slots))
	out := make([]int, 0, len(slots))
	for _, n := range slots {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}
