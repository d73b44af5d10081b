package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/store"
)

type recordingSink struct {
	mu    sync.Mutex
	notes []Notification
	err   error
}

func (s *recordingSink) Publish(_ context.Context, notes []Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, notes...)
	return s.err
}

type fixture struct {
	svc   *Service
	st    *store.Memory
	sink  *recordingSink
	now   time.Time
	mu    sync.Mutex
	sched *Schedule
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) setNow(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		st:   store.NewMemory(),
		sink: &recordingSink{},
		now:  at(monday, "07:00 AM"),
	}
	f.svc = NewService(f.st, nil, f.sink, config.DefaultPolicy(), zerolog.Nop()).WithClock(f.clock)

	sched, err := f.svc.CreateSchedule(context.Background(), mondayInput(uuid.New()))
	require.NoError(t, err)
	f.sched = sched
	return f
}

func mondayInput(doctorID uuid.UUID) ScheduleInput {
	return ScheduleInput{
		DoctorID:         doctorID,
		DoctorName:       "Perera",
		HospitalName:     "Central Hospital",
		Day:              time.Monday,
		StartTime:        calendar.MustParseTimeOfDay("09:00 AM"),
		EndTime:          calendar.MustParseTimeOfDay("11:00 AM"),
		MaxPatients:      10,
		ReservedSlots:    []int{1, 2, 3},
		EmergencyContact: "+94 11 000 0000",
	}
}

func (f *fixture) book(t *testing.T, date calendar.Date) *Appointment {
	t.Helper()
	appt, err := f.svc.Book(context.Background(), BookingInput{
		PatientID:  uuid.New(),
		ScheduleID: f.sched.ID,
		Date:       date,
	})
	require.NoError(t, err)
	return appt
}

func TestService_CreateSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.svc.GetSchedule(ctx, f.sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "Central Hospital", got.HospitalName)
	assert.Equal(t, []int{1, 2, 3}, got.ReservedSlots)

	in := mondayInput(uuid.New())
	in.MaxPatients = 0
	_, err = f.svc.CreateSchedule(ctx, in)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.GetSchedule(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestService_ListSchedulesByDoctor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	wed := mondayInput(f.sched.DoctorID)
	wed.Day = time.Wednesday
	_, err := f.svc.CreateSchedule(ctx, wed)
	require.NoError(t, err)
	_, err = f.svc.CreateSchedule(ctx, mondayInput(uuid.New()))
	require.NoError(t, err)

	all, err := f.svc.ListSchedules(ctx, uuid.Nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := f.svc.ListSchedules(ctx, f.sched.DoctorID)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, time.Monday, mine[0].Day)
	assert.Equal(t, time.Wednesday, mine[1].Day)
}

func TestService_BookUntilFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	date := monday.AddDays(7)

	for i := 0; i < 7; i++ {
		f.book(t, date)
	}

	_, err := f.svc.Book(ctx, BookingInput{PatientID: uuid.New(), ScheduleID: f.sched.ID, Date: date})
	assert.ErrorIs(t, err, ErrBookingFull)

	av, err := f.svc.Availability(ctx, f.sched.ID, date)
	require.NoError(t, err)
	assert.Equal(t, 0, av.Capacity.Available)
	assert.Equal(t, 7, av.Capacity.Booked)

	// Capacity is counted per date.
	other, err := f.svc.Availability(ctx, f.sched.ID, monday.AddDays(14))
	require.NoError(t, err)
	assert.Equal(t, 7, other.Capacity.Available)

	sched, err := f.svc.GetSchedule(ctx, f.sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, sched.CurrentBookings)
}

func TestService_ConcurrentBookingsNeverOverbook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	date := monday.AddDays(7)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		booked int
		full   int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Book(ctx, BookingInput{PatientID: uuid.New(), ScheduleID: f.sched.ID, Date: date})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case errors.Is(err, ErrBookingFull):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, booked)
	assert.Equal(t, 13, full)

	appts, err := f.svc.ListAppointments(ctx, AppointmentFilter{DoctorID: f.sched.DoctorID})
	require.NoError(t, err)
	assert.Len(t, appts, 7)
}

func TestService_BookValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, BookingInput{PatientID: uuid.New(), ScheduleID: f.sched.ID, Date: monday.AddDays(8)})
	assert.ErrorIs(t, err, ErrValidation, "tuesday")

	_, err = f.svc.Book(ctx, BookingInput{PatientID: uuid.New(), ScheduleID: f.sched.ID, Date: monday.AddDays(35)})
	assert.ErrorIs(t, err, ErrValidation, "beyond horizon")

	_, err = f.svc.Book(ctx, BookingInput{ScheduleID: f.sched.ID, Date: monday.AddDays(7)})
	assert.ErrorIs(t, err, ErrValidation, "missing patient")

	_, err = f.svc.Book(ctx, BookingInput{PatientID: uuid.New(), ScheduleID: uuid.New(), Date: monday.AddDays(7)})
	assert.ErrorIs(t, err, ErrScheduleNotFound)

	_, err = f.svc.Book(ctx, BookingInput{PatientID: uuid.New(), ScheduleID: f.sched.ID, Date: monday.AddDays(-7)})
	assert.ErrorIs(t, err, ErrBookingClosed)
}

func TestService_BookSameDayCutoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.setNow(at(monday, "08:29 AM"))
	f.book(t, monday)

	f.setNow(at(monday, "08:31 AM"))
	_, err := f.svc.Book(ctx, BookingInput{PatientID: uuid.New(), ScheduleID: f.sched.ID, Date: monday})
	var be *BookingError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, BookingClosed, be.Kind)
	assert.Equal(t, "+94 11 000 0000", be.EmergencyContact)
}

func TestService_DoctorLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patient := uuid.New()

	thursday := mondayInput(f.sched.DoctorID)
	thursday.Day = time.Thursday
	thu, err := f.svc.CreateSchedule(ctx, thursday)
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, BookingInput{PatientID: patient, ScheduleID: f.sched.ID, Date: monday.AddDays(7)})
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, BookingInput{PatientID: patient, ScheduleID: thu.ID, Date: monday.AddDays(3)})
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, BookingInput{PatientID: patient, ScheduleID: f.sched.ID, Date: monday.AddDays(14)})
	assert.ErrorIs(t, err, ErrDoctorLimitExceeded)
}

func TestService_EditPreviewAndCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a1 := f.book(t, monday.AddDays(7))
	a2 := f.book(t, monday.AddDays(14))

	in := mondayInput(f.sched.DoctorID)
	in.MaxPatients = 12
	preview, err := f.svc.PreviewScheduleEdit(ctx, f.sched.ID, in)
	require.NoError(t, err)
	assert.Equal(t, EditPreview{}, *preview)

	res, err := f.svc.EditSchedule(ctx, f.sched.ID, in)
	require.NoError(t, err)
	assert.Zero(t, res.Cancelled)
	assert.Equal(t, 12, res.Schedule.MaxPatients)

	in.StartTime = calendar.MustParseTimeOfDay("02:00 PM")
	in.EndTime = calendar.MustParseTimeOfDay("04:00 PM")
	preview, err = f.svc.PreviewScheduleEdit(ctx, f.sched.ID, in)
	require.NoError(t, err)
	assert.Equal(t, EditPreview{TimingChanged: true, Affected: 2}, *preview)

	res, err = f.svc.EditSchedule(ctx, f.sched.ID, in)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Cancelled)
	require.Len(t, res.Notifications, 2)
	assert.Equal(t, 0, res.Schedule.CurrentBookings)
	assert.Len(t, f.sink.notes, 2)

	appts, err := f.svc.ListAppointments(ctx, AppointmentFilter{DoctorID: f.sched.DoctorID})
	require.NoError(t, err)
	for _, a := range appts {
		assert.Equal(t, StatusCancelled, a.Status)
		assert.Equal(t, ReasonScheduleChanged, a.CancelReason)
	}

	notes, err := f.svc.ListNotifications(ctx, a1.PatientID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, a1.ID, notes[0].AppointmentID)

	notes, err = f.svc.ListNotifications(ctx, a2.PatientID)
	require.NoError(t, err)
	require.Len(t, notes, 1)

	read, err := f.svc.MarkNotificationRead(ctx, notes[0].ID)
	require.NoError(t, err)
	assert.True(t, read.Read)

	_, err = f.svc.MarkNotificationRead(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotificationNotFound)
}

func TestService_EditShrinksReservedSlots(t *testing.T) {
	f := newFixture(t)
	in := mondayInput(f.sched.DoctorID)
	in.MaxPatients = 2

	res, err := f.svc.EditSchedule(context.Background(), f.sched.ID, in)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, res.Schedule.ReservedSlots)
}

func TestService_DeleteCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, monday.AddDays(7))
	f.sink.err = errors.New("broker down")

	res, err := f.svc.DeleteSchedule(ctx, f.sched.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cancelled)

	_, err = f.svc.GetSchedule(ctx, f.sched.ID)
	assert.ErrorIs(t, err, ErrScheduleNotFound)

	notes, err := f.svc.ListNotifications(ctx, a.PatientID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, ReasonScheduleDeleted, notes[0].Type)

	_, err = f.svc.DeleteSchedule(ctx, f.sched.ID)
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestService_CancelAndComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, monday.AddDays(7))
	b := f.book(t, monday.AddDays(7))

	cancelled, err := f.svc.CancelAppointment(ctx, a.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, ReasonPatientCancelled, cancelled.CancelReason)

	_, err = f.svc.CancelAppointment(ctx, a.ID, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	av, err := f.svc.Availability(ctx, f.sched.ID, monday.AddDays(7))
	require.NoError(t, err)
	assert.Equal(t, 1, av.Capacity.Booked)

	done, err := f.svc.CompleteAppointment(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	_, err = f.svc.CompleteAppointment(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestService_ReconcileKeepsSiblingRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.setNow(at(monday, "06:00 AM"))
	consulted := f.book(t, monday)
	skipped := f.book(t, monday)
	future := f.book(t, monday.AddDays(7))

	require.NoError(t, AppendConsultations(ctx, f.st, Consultation{
		ID:        uuid.New(),
		PatientID: consulted.PatientID,
		DoctorID:  consulted.DoctorID,
		Date:      monday,
	}))

	f.setNow(at(monday.AddDays(1), "09:00 AM"))
	res, err := f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Scanned: 3, Changed: 2}, *res)

	res, err = f.svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Changed)

	byID := map[uuid.UUID]AppointmentStatus{}
	appts, err := f.svc.ListAppointments(ctx, AppointmentFilter{})
	require.NoError(t, err)
	for _, a := range appts {
		byID[a.ID] = a.Status
	}
	assert.Equal(t, StatusCompleted, byID[consulted.ID])
	assert.Equal(t, StatusVoid, byID[skipped.ID])
	assert.Equal(t, StatusPending, byID[future.ID])
}

func TestService_ListAppointmentsReconcilesFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, monday.AddDays(7))

	f.setNow(at(monday.AddDays(7), "12:30 PM"))
	appts, err := f.svc.ListAppointments(ctx, AppointmentFilter{PatientID: a.PatientID})
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, StatusMissed, appts[0].Status)
}

func TestService_BookIgnoresStalePendingRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	patient := uuid.New()

	thursday := mondayInput(f.sched.DoctorID)
	thursday.Day = time.Thursday
	thu, err := f.svc.CreateSchedule(ctx, thursday)
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, BookingInput{PatientID: patient, ScheduleID: f.sched.ID, Date: monday.AddDays(7)})
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, BookingInput{PatientID: patient, ScheduleID: thu.ID, Date: monday.AddDays(3)})
	require.NoError(t, err)

	// Both earlier appointments are past and unattended; no list call has
	// reconciled them yet.
	f.setNow(at(monday.AddDays(14), "07:00 AM"))
	appt, err := f.svc.Book(ctx, BookingInput{PatientID: patient, ScheduleID: f.sched.ID, Date: monday.AddDays(21)})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)

	appts, err := f.svc.ListAppointments(ctx, AppointmentFilter{PatientID: patient})
	require.NoError(t, err)
	require.Len(t, appts, 3)
	assert.Equal(t, StatusVoid, appts[0].Status)
	assert.Equal(t, StatusVoid, appts[1].Status)
}

func TestService_CascadeSkipsPastAppointments(t *testing.T) {
	for _, tt := range []struct {
		name   string
		mutate func(f *fixture) (*EditResult, error)
	}{
		{
			name: "edit",
			mutate: func(f *fixture) (*EditResult, error) {
				in := mondayInput(f.sched.DoctorID)
				in.Day = time.Tuesday
				return f.svc.EditSchedule(context.Background(), f.sched.ID, in)
			},
		},
		{
			name: "delete",
			mutate: func(f *fixture) (*EditResult, error) {
				return f.svc.DeleteSchedule(context.Background(), f.sched.ID)
			},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			f.setNow(at(monday, "06:00 AM"))
			consulted := f.book(t, monday)
			skipped := f.book(t, monday)
			future := f.book(t, monday.AddDays(7))
			require.NoError(t, AppendConsultations(ctx, f.st, Consultation{
				ID:        uuid.New(),
				PatientID: consulted.PatientID,
				DoctorID:  consulted.DoctorID,
				Date:      monday,
			}))

			f.setNow(at(monday.AddDays(1), "09:00 AM"))
			if tt.name == "edit" {
				in := mondayInput(f.sched.DoctorID)
				in.Day = time.Tuesday
				preview, err := f.svc.PreviewScheduleEdit(ctx, f.sched.ID, in)
				require.NoError(t, err)
				assert.Equal(t, 1, preview.Affected)
			}

			res, err := tt.mutate(f)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Cancelled)
			require.Len(t, res.Notifications, 1)
			assert.Equal(t, future.ID, res.Notifications[0].AppointmentID)

			byID := map[uuid.UUID]AppointmentStatus{}
			appts, err := f.svc.ListAppointments(ctx, AppointmentFilter{})
			require.NoError(t, err)
			for _, a := range appts {
				byID[a.ID] = a.Status
			}
			assert.Equal(t, StatusCompleted, byID[consulted.ID])
			assert.Equal(t, StatusVoid, byID[skipped.ID])
			assert.Equal(t, StatusCancelled, byID[future.ID])

			notes, err := f.svc.ListNotifications(ctx, consulted.PatientID)
			require.NoError(t, err)
			assert.Empty(t, notes)
		})
	}
}

func TestService_ListAppointmentsByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, monday.AddDays(7))
	f.book(t, monday.AddDays(7))

	_, err := f.svc.CancelAppointment(ctx, a.ID, "")
	require.NoError(t, err)

	filter := AppointmentFilter{DoctorID: f.sched.DoctorID, Status: StatusCancelled}
	appts, err := f.svc.ListAppointments(ctx, filter)
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, a.ID, appts[0].ID)

	filter.Status = "confirmed"
	_, err = f.svc.ListAppointments(ctx, filter)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "status", verr.Field)
}

func TestService_BookableDates(t *testing.T) {
	f := newFixture(t)
	dates, err := f.svc.BookableDates(context.Background(), f.sched.ID)
	require.NoError(t, err)

	// Today plus four Mondays inside the 28 day horizon.
	require.Len(t, dates, 5)
	assert.Equal(t, monday, dates[0].Date)
	assert.True(t, dates[0].Verdict.Bookable)
	assert.Equal(t, monday.AddDays(28), dates[4].Date)
	for _, d := range dates {
		assert.Equal(t, time.Monday, d.Date.Weekday())
	}
}

type busyLocker struct{}

func (busyLocker) WithScheduleLock(context.Context, uuid.UUID, func(context.Context) error) error {
	return ErrBusy
}

func TestService_BusyLockSurfaces(t *testing.T) {
	f := newFixture(t)
	f.svc.locker = busyLocker{}

	_, err := f.svc.Book(context.Background(), BookingInput{PatientID: uuid.New(), ScheduleID: f.sched.ID, Date: monday.AddDays(7)})
	assert.ErrorIs(t, err, ErrBusy)
}

func TestLocalLocker_SerializesPerSchedule(t *testing.T) {
	l := NewLocalLocker()
	id := uuid.New()

	var (
		wg      sync.WaitGroup
		inside  int32
		overlap bool
		mu      sync.Mutex
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.WithScheduleLock(context.Background(), id, func(context.Context) error {
				mu.Lock()
				inside++
				if inside > 1 {
					overlap = true
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.False(t, overlap)
	assert.Empty(t, l.locks)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.WithScheduleLock(ctx, id, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, l.locks)
}
