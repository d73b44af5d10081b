package appointment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
)

// 2026-03-02 is a Monday.
var monday = calendar.Date{Year: 2026, Month: time.March, Day: 2}

func at(d calendar.Date, clock string) time.Time {
	return d.At(calendar.MustParseTimeOfDay(clock), time.UTC)
}

func testSchedule() Schedule {
	return Schedule{
		ID:               uuid.New(),
		DoctorID:         uuid.New(),
		DoctorName:       "Perera",
		HospitalName:     "Central Hospital",
		Day:              time.Monday,
		StartTime:        calendar.MustParseTimeOfDay("09:00 AM"),
		EndTime:          calendar.MustParseTimeOfDay("11:00 AM"),
		MaxPatients:      10,
		EmergencyContact: "+94 11 000 0000",
	}
}

func TestCapacityOf(t *testing.T) {
	s := testSchedule()
	s.ReservedSlots = []int{1, 2, 3}
	s.CurrentBookings = 5

	c := CapacityOf(s)
	assert.Equal(t, Capacity{Total: 10, Reserved: 3, Bookable: 7, Booked: 5, Available: 2}, c)
}

func TestCapacityOf_NeverNegative(t *testing.T) {
	s := testSchedule()
	s.MaxPatients = 4
	s.ReservedSlots = []int{1, 2}
	s.CurrentBookings = 7

	c := CapacityOf(s)
	assert.Equal(t, 2, c.Bookable)
	assert.Equal(t, 0, c.Available)
}

func TestApplyCapacity_DropsSlotsAboveTotal(t *testing.T) {
	s := testSchedule()
	require.NoError(t, ApplyCapacity(&s, 5, []int{7, 2, 2, 5, 6}))
	assert.Equal(t, 5, s.MaxPatients)
	assert.Equal(t, []int{2, 5}, s.ReservedSlots)

	assert.ErrorIs(t, ApplyCapacity(&s, 0, nil), ErrValidation)
	assert.ErrorIs(t, ApplyCapacity(&s, 3, []int{0}), ErrValidation)
}

func TestScheduleValidate(t *testing.T) {
	s := testSchedule()
	require.NoError(t, s.Validate())

	bad := s
	bad.MaxPatients = 0
	assert.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = s
	bad.EndTime = bad.StartTime
	assert.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = s
	bad.ReservedSlots = []int{11}
	assert.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = s
	bad.DoctorID = uuid.Nil
	var verr *ValidationError
	require.ErrorAs(t, bad.Validate(), &verr)
	assert.Equal(t, "doctor_id", verr.Field)
}

func TestWindowPolicy_Evaluate(t *testing.T) {
	p := WindowPolicy{Cutoff: 30 * time.Minute, Location: time.UTC}
	s := testSchedule()

	cases := []struct {
		name     string
		date     calendar.Date
		now      time.Time
		bookable bool
		reason   string
	}{
		{"past date", monday.AddDays(-7), at(monday, "08:00 AM"), false, "past date"},
		{"future date", monday.AddDays(7), at(monday, "11:59 PM"), true, ""},
		{"well before cutoff", monday, at(monday, "06:00 AM"), true, ""},
		{"one minute before cutoff", monday, at(monday, "08:29 AM"), true, ""},
		{"at cutoff", monday, at(monday, "08:30 AM"), false, "booking closes 30 minutes before start"},
		{"just past cutoff", monday, at(monday, "08:31 AM"), false, "booking closes 30 minutes before start"},
		{"inside the cutoff", monday, at(monday, "08:35 AM"), false, "booking closes 30 minutes before start"},
		{"after start", monday, at(monday, "10:00 AM"), false, "booking closes 30 minutes before start"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := p.Evaluate(tc.date, s, tc.now)
			assert.Equal(t, tc.bookable, v.Bookable)
			assert.Equal(t, tc.reason, v.Reason)
			if !tc.bookable && tc.date == monday {
				assert.Equal(t, s.EmergencyContact, v.EmergencyContact)
			}
		})
	}
}

func TestWindowPolicy_UsesClinicTimezone(t *testing.T) {
	loc := time.FixedZone("clinic", 5*3600+1800)
	p := WindowPolicy{Cutoff: 30 * time.Minute, Location: loc}
	s := testSchedule()

	// 02:50 UTC is 08:20 at the clinic.
	now := time.Date(2026, 3, 2, 2, 50, 0, 0, time.UTC)
	assert.True(t, p.Evaluate(monday, s, now).Bookable)

	// 03:05 UTC is 08:35 at the clinic.
	now = time.Date(2026, 3, 2, 3, 5, 0, 0, time.UTC)
	assert.False(t, p.Evaluate(monday, s, now).Bookable)
}

func TestWindowPolicy_CustomCutoffReason(t *testing.T) {
	p := WindowPolicy{Cutoff: time.Hour, Location: time.UTC}
	v := p.Evaluate(monday, testSchedule(), at(monday, "08:10 AM"))
	assert.False(t, v.Bookable)
	assert.Equal(t, "booking closes 1h0m0s before start", v.Reason)
}

func TestTransition(t *testing.T) {
	for _, to := range []AppointmentStatus{StatusCompleted, StatusCancelled, StatusMissed, StatusVoid} {
		assert.NoError(t, Transition(StatusPending, to), to)
	}
	for _, from := range []AppointmentStatus{StatusCompleted, StatusCancelled, StatusMissed, StatusVoid} {
		assert.True(t, from.Terminal())
		assert.ErrorIs(t, Transition(from, StatusPending), ErrInvalidTransition)
		assert.ErrorIs(t, Transition(from, StatusCancelled), ErrInvalidTransition)
	}
	assert.False(t, StatusPending.Terminal())
	assert.False(t, AppointmentStatus("confirmed").Valid())
	assert.True(t, AppointmentStatus("confirmed").Terminal())
}

func TestLifecycle_ReconcileSkipsUnknownStatus(t *testing.T) {
	l := Lifecycle{MissedAfter: time.Hour, Location: time.UTC}
	appts := []Appointment{pendingOn(testSchedule(), monday)}
	appts[0].Status = "confirmed"

	changed := l.Reconcile(appts, at(monday.AddDays(1), "09:00 AM"), consultSet{})
	assert.Empty(t, changed)
	assert.Equal(t, AppointmentStatus("confirmed"), appts[0].Status)
}

type consultSet map[uuid.UUID]bool

func (c consultSet) Exists(patientID uuid.UUID, _ calendar.Date) bool { return c[patientID] }

func pendingOn(s Schedule, date calendar.Date) Appointment {
	return Appointment{
		ID:         uuid.New(),
		PatientID:  uuid.New(),
		DoctorID:   s.DoctorID,
		ScheduleID: s.ID,
		Date:       date,
		StartTime:  s.StartTime,
		EndTime:    s.EndTime,
		Status:     StatusPending,
	}
}

func TestLifecycle_Next(t *testing.T) {
	l := Lifecycle{MissedAfter: time.Hour, Location: time.UTC}
	s := testSchedule()
	today := pendingOn(s, monday)
	past := pendingOn(s, monday.AddDays(-7))
	future := pendingOn(s, monday.AddDays(7))

	cases := []struct {
		name      string
		appt      Appointment
		now       time.Time
		consulted bool
		want      AppointmentStatus
	}{
		{"future stays pending", future, at(monday, "10:00 AM"), false, StatusPending},
		{"past with consultation completes", past, at(monday, "10:00 AM"), true, StatusCompleted},
		{"past without consultation is void", past, at(monday, "10:00 AM"), false, StatusVoid},
		{"today within grace stays pending", today, at(monday, "11:45 AM"), false, StatusPending},
		{"today past grace is missed", today, at(monday, "12:01 PM"), false, StatusMissed},
		{"today with consultation stays pending", today, at(monday, "11:00 PM"), true, StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, l.Next(tc.appt, tc.now, tc.consulted))
		})
	}
}

func TestLifecycle_VoidAfterKeepsRecentPastMissed(t *testing.T) {
	l := Lifecycle{MissedAfter: time.Hour, VoidAfter: 48 * time.Hour, Location: time.UTC}
	yesterday := pendingOn(testSchedule(), monday.AddDays(-1))

	assert.Equal(t, StatusMissed, l.Next(yesterday, at(monday, "10:00 AM"), false))
	assert.Equal(t, StatusVoid, l.Next(yesterday, at(monday.AddDays(2), "10:00 AM"), false))
}

func TestLifecycle_TerminalStatusesUntouched(t *testing.T) {
	l := Lifecycle{MissedAfter: time.Hour, Location: time.UTC}
	a := pendingOn(testSchedule(), monday.AddDays(-7))
	for _, st := range []AppointmentStatus{StatusCompleted, StatusCancelled, StatusMissed, StatusVoid} {
		a.Status = st
		assert.Equal(t, st, l.Next(a, at(monday, "10:00 AM"), true))
	}
}

func TestLifecycle_ReconcileIsIdempotent(t *testing.T) {
	l := Lifecycle{MissedAfter: time.Hour, Location: time.UTC}
	s := testSchedule()
	appts := []Appointment{
		pendingOn(s, monday.AddDays(-7)),
		pendingOn(s, monday.AddDays(-7)),
		pendingOn(s, monday),
		pendingOn(s, monday.AddDays(7)),
	}
	appts[3].Status = StatusCancelled
	consulted := consultSet{appts[0].PatientID: true}
	now := at(monday, "01:00 PM")

	changed := l.Reconcile(appts, now, consulted)
	assert.Len(t, changed, 3)
	assert.Equal(t, StatusCompleted, appts[0].Status)
	assert.Equal(t, StatusVoid, appts[1].Status)
	assert.Equal(t, StatusMissed, appts[2].Status)
	assert.Equal(t, StatusCancelled, appts[3].Status)
	assert.Equal(t, now, appts[0].UpdatedAt)

	snapshot := append([]Appointment(nil), appts...)
	assert.Empty(t, l.Reconcile(appts, now.Add(time.Hour), consulted))
	assert.Equal(t, snapshot, appts)
}

func TestCascade_CancelNotifiesEachPendingOnce(t *testing.T) {
	s := testSchedule()
	other := testSchedule()
	appts := []Appointment{
		pendingOn(s, monday.AddDays(7)),
		pendingOn(s, monday.AddDays(14)),
		pendingOn(other, monday.AddDays(7)),
		pendingOn(s, monday.AddDays(-7)),
	}
	appts[3].Status = StatusCompleted
	now := at(monday, "08:00 AM")

	notes := Cascade{}.Cancel(s, appts, ReasonScheduleChanged, now)

	require.Len(t, notes, 2)
	assert.Equal(t, appts[0].ID, notes[0].AppointmentID)
	assert.Equal(t, appts[0].PatientID, notes[0].PatientID)
	assert.Equal(t, appts[1].ID, notes[1].AppointmentID)
	for _, n := range notes {
		assert.Equal(t, ReasonScheduleChanged, n.Type)
		assert.Equal(t, "Schedule changed", n.Title)
		assert.Contains(t, n.Body, "Dr. Perera")
		assert.False(t, n.Read)
	}

	assert.Equal(t, StatusCancelled, appts[0].Status)
	assert.Equal(t, ReasonScheduleChanged, appts[0].CancelReason)
	assert.Equal(t, StatusCancelled, appts[1].Status)
	assert.Equal(t, StatusPending, appts[2].Status)
	assert.Equal(t, StatusCompleted, appts[3].Status)

	assert.Empty(t, Cascade{}.Cancel(s, appts, ReasonScheduleChanged, now))
}

func TestCascade_DeleteMessage(t *testing.T) {
	s := testSchedule()
	appts := []Appointment{pendingOn(s, monday.AddDays(7))}
	appts[0].HospitalName = s.HospitalName

	notes := Cascade{}.Cancel(s, appts, ReasonScheduleDeleted, at(monday, "08:00 AM"))
	require.Len(t, notes, 1)
	assert.Equal(t, "Appointment cancelled", notes[0].Title)
	assert.Contains(t, notes[0].Body, "Central Hospital")
	assert.Contains(t, notes[0].Body, "2026-03-09")
}

func TestTimingChanged(t *testing.T) {
	s := testSchedule()

	edited := s
	edited.MaxPatients = 20
	edited.HospitalAddress = "New wing"
	assert.False(t, TimingChanged(s, edited))

	edited = s
	edited.Day = time.Tuesday
	assert.True(t, TimingChanged(s, edited))

	edited = s
	edited.EndTime = calendar.MustParseTimeOfDay("12:00 PM")
	assert.True(t, TimingChanged(s, edited))
}

func TestGuard_TryBook(t *testing.T) {
	window := WindowPolicy{Cutoff: 30 * time.Minute, Location: time.UTC}
	g := Guard{Window: window, MaxPendingPerDoctor: 2}
	now := at(monday, "07:00 AM")
	patient := uuid.New()

	t.Run("books and increments", func(t *testing.T) {
		s := testSchedule()
		s.ReservedSlots = []int{1, 2, 3}
		s.CurrentBookings = 5

		appt, err := g.TryBook(patient, &s, monday.AddDays(7), nil, now)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, appt.Status)
		assert.Equal(t, patient, appt.PatientID)
		assert.Equal(t, s.ID, appt.ScheduleID)
		assert.Equal(t, s.DoctorID, appt.DoctorID)
		assert.Equal(t, monday.AddDays(7), appt.Date)
		assert.Equal(t, now, appt.BookedAt)
		assert.Equal(t, 6, s.CurrentBookings)
	})

	t.Run("full after capacity is used", func(t *testing.T) {
		s := testSchedule()
		s.ReservedSlots = []int{1, 2, 3}
		s.CurrentBookings = 5

		_, err := g.TryBook(uuid.New(), &s, monday.AddDays(7), nil, now)
		require.NoError(t, err)
		_, err = g.TryBook(uuid.New(), &s, monday.AddDays(7), nil, now)
		require.NoError(t, err)

		_, err = g.TryBook(uuid.New(), &s, monday.AddDays(7), nil, now)
		assert.ErrorIs(t, err, ErrBookingFull)
		assert.Equal(t, 7, s.CurrentBookings)
	})

	t.Run("closed window carries emergency contact", func(t *testing.T) {
		s := testSchedule()
		_, err := g.TryBook(patient, &s, monday, nil, at(monday, "08:45 AM"))

		var be *BookingError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, BookingClosed, be.Kind)
		assert.Equal(t, s.EmergencyContact, be.EmergencyContact)
		assert.ErrorIs(t, err, ErrBookingClosed)
	})

	t.Run("full wins even when the window is open", func(t *testing.T) {
		s := testSchedule()
		s.CurrentBookings = 10
		_, err := g.TryBook(patient, &s, monday.AddDays(7), nil, now)
		assert.ErrorIs(t, err, ErrBookingFull)
	})

	t.Run("doctor limit", func(t *testing.T) {
		s := testSchedule()
		elsewhere := testSchedule()
		elsewhere.DoctorID = s.DoctorID
		existing := []Appointment{
			pendingOn(elsewhere, monday.AddDays(1)),
			pendingOn(elsewhere, monday.AddDays(8)),
		}
		existing[0].PatientID = patient
		existing[1].PatientID = patient

		_, err := g.TryBook(patient, &s, monday.AddDays(7), existing, now)
		assert.ErrorIs(t, err, ErrDoctorLimitExceeded)

		existing[1].Status = StatusCompleted
		_, err = g.TryBook(patient, &s, monday.AddDays(7), existing, now)
		assert.NoError(t, err)
	})

	t.Run("already booked", func(t *testing.T) {
		s := testSchedule()
		existing := []Appointment{pendingOn(s, monday.AddDays(7))}
		existing[0].PatientID = patient

		_, err := g.TryBook(patient, &s, monday.AddDays(7), existing, now)
		assert.ErrorIs(t, err, ErrAlreadyBooked)

		_, err = g.TryBook(patient, &s, monday.AddDays(14), existing, now)
		assert.NoError(t, err)
	})
}
