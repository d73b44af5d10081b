package appointment

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/config"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/store"
)

// Sink receives the notifications a cascade produced, after they are stored.
type Sink interface {
	Publish(ctx context.Context, notes []Notification) error
}

type ScheduleInput struct {
	DoctorID         uuid.UUID
	DoctorName       string
	HospitalName     string
	HospitalAddress  string
	Day              time.Weekday
	StartTime        calendar.TimeOfDay
	EndTime          calendar.TimeOfDay
	MaxPatients      int
	ReservedSlots    []int
	EmergencyContact string
}

type BookingInput struct {
	PatientID  uuid.UUID
	ScheduleID uuid.UUID
	Date       calendar.Date
}

type AppointmentFilter struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	// Status is optional; the empty status matches every row.
	Status AppointmentStatus
}

type Availability struct {
	Date     calendar.Date `json:"date"`
	Capacity Capacity      `json:"capacity"`
	Verdict  Verdict       `json:"verdict"`
}

type EditPreview struct {
	TimingChanged bool `json:"timing_changed"`
	Affected      int  `json:"affected"`
}

type EditResult struct {
	Schedule      Schedule       `json:"schedule"`
	Cancelled     int            `json:"cancelled"`
	Notifications []Notification `json:"notifications"`
}

type ReconcileResult struct {
	Scanned int `json:"scanned"`
	Changed int `json:"changed"`
}

type Service struct {
	store     store.Store
	locker    Locker
	sink      Sink
	policy    config.Policy
	logger    zerolog.Logger
	now       func() time.Time
	window    WindowPolicy
	lifecycle Lifecycle
	guard     Guard
	cascade   Cascade
}

func NewService(st store.Store, locker Locker, sink Sink, policy config.Policy, logger zerolog.Logger) *Service {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	window := WindowPolicy{Cutoff: policy.BookingCutoff, Location: policy.Location}
	return &Service{
		store:  st,
		locker: locker,
		sink:   sink,
		policy: policy,
		logger: logger.With().Str("component", "appointment").Logger(),
		now:    time.Now,
		window: window,
		lifecycle: Lifecycle{
			MissedAfter: policy.MissedAfter,
			VoidAfter:   policy.VoidAfter,
			Location:    policy.Location,
		},
		guard: Guard{
			Window:              window,
			MaxPendingPerDoctor: policy.MaxPendingPerDoctor,
		},
	}
}

// WithClock replaces time.Now.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) today() calendar.Date {
	return calendar.DateOf(s.now().In(s.policy.Location))
}

func (s *Service) withLock(ctx context.Context, scheduleID uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.locker.WithScheduleLock(ctx, scheduleID, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrBusy
	}
	return err
}

func (s *Service) publish(ctx context.Context, notes []Notification) {
	if s.sink == nil || len(notes) == 0 {
		return
	}
	// Notifications are already stored; a sink failure only delays delivery.
	if err := s.sink.Publish(ctx, notes); err != nil {
		s.logger.Error().Err(err).Int("count", len(notes)).Msg("failed to publish notifications")
	}
}

func findSchedule(schedules []Schedule, id uuid.UUID) int {
	for i := range schedules {
		if schedules[i].ID == id {
			return i
		}
	}
	return -1
}

func findAppointment(appts []Appointment, id uuid.UUID) int {
	for i := range appts {
		if appts[i].ID == id {
			return i
		}
	}
	return -1
}

// CreateSchedule validates and stores a new recurring schedule.
func (s *Service) CreateSchedule(ctx context.Context, in ScheduleInput) (*Schedule, error) {
	now := s.now()
	sched := Schedule{
		ID:               uuid.New(),
		DoctorID:         in.DoctorID,
		DoctorName:       in.DoctorName,
		HospitalName:     in.HospitalName,
		HospitalAddress:  in.HospitalAddress,
		Day:              in.Day,
		StartTime:        in.StartTime,
		EndTime:          in.EndTime,
		MaxPatients:      in.MaxPatients,
		ReservedSlots:    normalizeSlots(in.ReservedSlots),
		EmergencyContact: in.EmergencyContact,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := sched.Validate(); err != nil {
		return nil, err
	}

	err := s.store.Update(ctx, []string{CollectionSchedules}, func(tx store.Txn) error {
		schedules, err := load[Schedule](tx, CollectionSchedules)
		if err != nil {
			return err
		}
		return save(tx, CollectionSchedules, append(schedules, sched))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("schedule_id", sched.ID.String()).
		Str("doctor_id", sched.DoctorID.String()).
		Str("day", sched.Day.String()).
		Msg("schedule created")
	return &sched, nil
}

func (s *Service) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	schedules, err := readList[Schedule](ctx, s.store, CollectionSchedules)
	if err != nil {
		return nil, err
	}
	i := findSchedule(schedules, id)
	if i < 0 {
		return nil, ErrScheduleNotFound
	}
	return &schedules[i], nil
}

// ListSchedules returns every schedule, or one doctor's when doctorID is set.
func (s *Service) ListSchedules(ctx context.Context, doctorID uuid.UUID) ([]Schedule, error) {
	schedules, err := readList[Schedule](ctx, s.store, CollectionSchedules)
	if err != nil {
		return nil, err
	}
	out := make([]Schedule, 0, len(schedules))
	for _, sc := range schedules {
		if doctorID == uuid.Nil || sc.DoctorID == doctorID {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func applyInput(sched Schedule, in ScheduleInput) (Schedule, error) {
	sched.DoctorName = in.DoctorName
	sched.HospitalName = in.HospitalName
	sched.HospitalAddress = in.HospitalAddress
	sched.Day = in.Day
	sched.StartTime = in.StartTime
	sched.EndTime = in.EndTime
	sched.EmergencyContact = in.EmergencyContact
	if err := ApplyCapacity(&sched, in.MaxPatients, in.ReservedSlots); err != nil {
		return Schedule{}, err
	}
	if err := sched.Validate(); err != nil {
		return Schedule{}, err
	}
	return sched, nil
}

// PreviewScheduleEdit reports how many pending appointments an edit would
// cancel, so the caller can ask for confirmation first.
func (s *Service) PreviewScheduleEdit(ctx context.Context, id uuid.UUID, in ScheduleInput) (*EditPreview, error) {
	schedules, err := readList[Schedule](ctx, s.store, CollectionSchedules)
	if err != nil {
		return nil, err
	}
	i := findSchedule(schedules, id)
	if i < 0 {
		return nil, ErrScheduleNotFound
	}
	updated, err := applyInput(schedules[i], in)
	if err != nil {
		return nil, err
	}

	preview := &EditPreview{TimingChanged: TimingChanged(schedules[i], updated)}
	if !preview.TimingChanged {
		return preview, nil
	}
	appts, err := s.readReconciled(ctx)
	if err != nil {
		return nil, err
	}
	preview.Affected = len(Affected(id, appts))
	return preview, nil
}

// readReconciled returns the appointments as the next write would see them,
// without storing the reconciled statuses.
func (s *Service) readReconciled(ctx context.Context) ([]Appointment, error) {
	appts, err := readList[Appointment](ctx, s.store, CollectionAppointments)
	if err != nil {
		return nil, err
	}
	consultations, err := readList[Consultation](ctx, s.store, CollectionConsultations)
	if err != nil {
		return nil, err
	}
	s.lifecycle.Reconcile(appts, s.now(), NewConsultationIndex(consultations))
	return appts, nil
}

// EditSchedule stores an edit. A change of day or hours cancels every pending
// appointment on the schedule and notifies each patient; confirmation is the
// caller's job (see PreviewScheduleEdit).
func (s *Service) EditSchedule(ctx context.Context, id uuid.UUID, in ScheduleInput) (*EditResult, error) {
	var result EditResult

	err := s.withLock(ctx, id, func(lockCtx context.Context) error {
		keys := []string{CollectionSchedules, CollectionAppointments, CollectionConsultations, CollectionNotifications}
		return s.store.Update(lockCtx, keys, func(tx store.Txn) error {
			result = EditResult{}
			now := s.now()

			schedules, err := load[Schedule](tx, CollectionSchedules)
			if err != nil {
				return err
			}
			i := findSchedule(schedules, id)
			if i < 0 {
				return ErrScheduleNotFound
			}
			old := schedules[i]
			updated, err := applyInput(old, in)
			if err != nil {
				return err
			}
			updated.UpdatedAt = now

			if TimingChanged(old, updated) {
				notes, err := s.cancelAll(tx, updated, ReasonScheduleChanged, now)
				if err != nil {
					return err
				}
				updated.CurrentBookings = decrement(updated.CurrentBookings, len(notes))
				result.Cancelled = len(notes)
				result.Notifications = notes
			}

			schedules[i] = updated
			result.Schedule = updated
			return save(tx, CollectionSchedules, schedules)
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("schedule_id", id.String()).
		Int("cancelled", result.Cancelled).
		Msg("schedule edited")
	s.publish(ctx, result.Notifications)
	return &result, nil
}

// DeleteSchedule cancels and notifies every pending appointment on the
// schedule, then removes it.
func (s *Service) DeleteSchedule(ctx context.Context, id uuid.UUID) (*EditResult, error) {
	var result EditResult

	err := s.withLock(ctx, id, func(lockCtx context.Context) error {
		keys := []string{CollectionSchedules, CollectionAppointments, CollectionConsultations, CollectionNotifications}
		return s.store.Update(lockCtx, keys, func(tx store.Txn) error {
			result = EditResult{}
			now := s.now()

			schedules, err := load[Schedule](tx, CollectionSchedules)
			if err != nil {
				return err
			}
			i := findSchedule(schedules, id)
			if i < 0 {
				return ErrScheduleNotFound
			}
			sched := schedules[i]

			notes, err := s.cancelAll(tx, sched, ReasonScheduleDeleted, now)
			if err != nil {
				return err
			}
			result.Schedule = sched
			result.Cancelled = len(notes)
			result.Notifications = notes

			schedules = append(schedules[:i], schedules[i+1:]...)
			return save(tx, CollectionSchedules, schedules)
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("schedule_id", id.String()).
		Int("cancelled", result.Cancelled).
		Msg("schedule deleted")
	s.publish(ctx, result.Notifications)
	return &result, nil
}

// cancelAll reconciles inside tx, so only appointments still pending are
// cancelled, then runs the cascade and appends its notifications.
func (s *Service) cancelAll(tx store.Txn, sched Schedule, kind string, now time.Time) ([]Notification, error) {
	appts, _, err := s.reconcile(tx)
	if err != nil {
		return nil, err
	}
	notes := s.cascade.Cancel(sched, appts, kind, now)
	if len(notes) == 0 {
		return nil, nil
	}
	if err := save(tx, CollectionAppointments, appts); err != nil {
		return nil, err
	}
	existing, err := load[Notification](tx, CollectionNotifications)
	if err != nil {
		return nil, err
	}
	if err := save(tx, CollectionNotifications, append(existing, notes...)); err != nil {
		return nil, err
	}
	return notes, nil
}

func (s *Service) availability(sched Schedule, date calendar.Date, appts []Appointment, now time.Time) Availability {
	occ := sched.ForDate(date, appts)
	return Availability{
		Date:     date,
		Capacity: CapacityOf(occ),
		Verdict:  s.window.Evaluate(date, occ, now),
	}
}

// Availability reports capacity and the booking window for one date.
func (s *Service) Availability(ctx context.Context, scheduleID uuid.UUID, date calendar.Date) (*Availability, error) {
	sched, err := s.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	appts, err := readList[Appointment](ctx, s.store, CollectionAppointments)
	if err != nil {
		return nil, err
	}
	av := s.availability(*sched, date, appts, s.now())
	return &av, nil
}

// BookableDates lists the schedule's dates inside the advance booking horizon.
func (s *Service) BookableDates(ctx context.Context, scheduleID uuid.UUID) ([]Availability, error) {
	sched, err := s.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	appts, err := readList[Appointment](ctx, s.store, CollectionAppointments)
	if err != nil {
		return nil, err
	}

	now := s.now()
	today := s.today()
	var out []Availability
	for d := 0; d <= s.policy.BookingHorizonDays; d++ {
		date := today.AddDays(d)
		if date.Weekday() != sched.Day {
			continue
		}
		out = append(out, s.availability(*sched, date, appts, now))
	}
	return out, nil
}

// Book validates the request against the schedule's day and the advance
// horizon, then lets the guard accept or refuse it. The new appointment and
// the schedule's booking counter are written together.
func (s *Service) Book(ctx context.Context, in BookingInput) (*Appointment, error) {
	if in.PatientID == uuid.Nil {
		return nil, newValidationError("patient_id", "is required")
	}
	if in.Date.IsZero() {
		return nil, newValidationError("date", "is required")
	}

	var created Appointment

	err := s.withLock(ctx, in.ScheduleID, func(lockCtx context.Context) error {
		keys := []string{CollectionSchedules, CollectionAppointments, CollectionConsultations}
		return s.store.Update(lockCtx, keys, func(tx store.Txn) error {
			now := s.now()

			schedules, err := load[Schedule](tx, CollectionSchedules)
			if err != nil {
				return err
			}
			i := findSchedule(schedules, in.ScheduleID)
			if i < 0 {
				return ErrScheduleNotFound
			}
			sched := schedules[i]

			if in.Date.Weekday() != sched.Day {
				return newValidationError("date", "does not fall on the schedule's day ("+sched.Day.String()+")")
			}
			if s.today().DaysUntil(in.Date) > s.policy.BookingHorizonDays {
				return newValidationError("date", "is beyond the advance booking horizon")
			}

			// Stale pending rows must not count toward the doctor limit.
			appts, _, err := s.reconcile(tx)
			if err != nil {
				return err
			}

			occ := sched.ForDate(in.Date, appts)
			appt, err := s.guard.TryBook(in.PatientID, &occ, in.Date, appts, now)
			if err != nil {
				return err
			}

			schedules[i].CurrentBookings++
			schedules[i].UpdatedAt = now
			if err := save(tx, CollectionSchedules, schedules); err != nil {
				return err
			}
			created = appt
			return save(tx, CollectionAppointments, append(appts, appt))
		})
	})
	if err != nil {
		var be *BookingError
		if errors.As(err, &be) {
			s.logger.Info().
				Str("schedule_id", in.ScheduleID.String()).
				Str("patient_id", in.PatientID.String()).
				Str("kind", string(be.Kind)).
				Msg("booking refused")
		}
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", created.ID.String()).
		Str("schedule_id", created.ScheduleID.String()).
		Str("date", created.Date.String()).
		Msg("appointment booked")
	return &created, nil
}

// CancelAppointment is the explicit patient or doctor cancellation.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	if reason == "" {
		reason = ReasonPatientCancelled
	}
	var updated Appointment

	keys := []string{CollectionSchedules, CollectionAppointments}
	err := s.store.Update(ctx, keys, func(tx store.Txn) error {
		appts, err := load[Appointment](tx, CollectionAppointments)
		if err != nil {
			return err
		}
		i := findAppointment(appts, id)
		if i < 0 {
			return ErrAppointmentNotFound
		}
		if err := Transition(appts[i].Status, StatusCancelled); err != nil {
			return err
		}
		appts[i].Status = StatusCancelled
		appts[i].CancelReason = reason
		appts[i].UpdatedAt = s.now()
		updated = appts[i]

		schedules, err := load[Schedule](tx, CollectionSchedules)
		if err != nil {
			return err
		}
		if j := findSchedule(schedules, updated.ScheduleID); j >= 0 {
			schedules[j].CurrentBookings = decrement(schedules[j].CurrentBookings, 1)
			if err := save(tx, CollectionSchedules, schedules); err != nil {
				return err
			}
		}
		return save(tx, CollectionAppointments, appts)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("appointment_id", id.String()).Str("reason", reason).Msg("appointment cancelled")
	return &updated, nil
}

// CompleteAppointment is called by the consultation-notes workflow once the
// doctor has written up the visit.
func (s *Service) CompleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var updated Appointment

	err := s.store.Update(ctx, []string{CollectionAppointments}, func(tx store.Txn) error {
		appts, err := load[Appointment](tx, CollectionAppointments)
		if err != nil {
			return err
		}
		i := findAppointment(appts, id)
		if i < 0 {
			return ErrAppointmentNotFound
		}
		if err := Transition(appts[i].Status, StatusCompleted); err != nil {
			return err
		}
		appts[i].Status = StatusCompleted
		appts[i].UpdatedAt = s.now()
		updated = appts[i]
		return save(tx, CollectionAppointments, appts)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// reconcile runs the lifecycle pass over the whole appointment collection and
// writes it back in the same transaction.
func (s *Service) reconcile(tx store.Txn) ([]Appointment, ReconcileResult, error) {
	consultations, err := load[Consultation](tx, CollectionConsultations)
	if err != nil {
		return nil, ReconcileResult{}, err
	}
	appts, err := load[Appointment](tx, CollectionAppointments)
	if err != nil {
		return nil, ReconcileResult{}, err
	}

	changed := s.lifecycle.Reconcile(appts, s.now(), NewConsultationIndex(consultations))
	res := ReconcileResult{Scanned: len(appts), Changed: len(changed)}
	if len(changed) > 0 {
		if err := save(tx, CollectionAppointments, appts); err != nil {
			return nil, ReconcileResult{}, err
		}
	}
	return appts, res, nil
}

// ListAppointments reconciles statuses before returning a patient's or a
// doctor's appointments, soonest first.
func (s *Service) ListAppointments(ctx context.Context, filter AppointmentFilter) ([]Appointment, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, newValidationError("status", "must be one of pending, completed, cancelled, missed, void")
	}

	var out []Appointment

	keys := []string{CollectionAppointments, CollectionConsultations}
	err := s.store.Update(ctx, keys, func(tx store.Txn) error {
		out = nil
		appts, res, err := s.reconcile(tx)
		if err != nil {
			return err
		}
		if res.Changed > 0 {
			s.logger.Debug().Int("changed", res.Changed).Msg("reconciled on load")
		}
		for _, a := range appts {
			if filter.PatientID != uuid.Nil && a.PatientID != filter.PatientID {
				continue
			}
			if filter.DoctorID != uuid.Nil && a.DoctorID != filter.DoctorID {
				continue
			}
			if filter.Status != "" && a.Status != filter.Status {
				continue
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

// Reconcile is the batch pass run by the reconcile worker.
func (s *Service) Reconcile(ctx context.Context) (*ReconcileResult, error) {
	var res ReconcileResult

	keys := []string{CollectionAppointments, CollectionConsultations}
	err := s.store.Update(ctx, keys, func(tx store.Txn) error {
		var err error
		_, res, err = s.reconcile(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListNotifications returns a patient's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, patientID uuid.UUID) ([]Notification, error) {
	notes, err := readList[Notification](ctx, s.store, CollectionNotifications)
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0)
	for _, n := range notes {
		if n.PatientID == patientID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, id uuid.UUID) (*Notification, error) {
	var updated Notification

	err := s.store.Update(ctx, []string{CollectionNotifications}, func(tx store.Txn) error {
		notes, err := load[Notification](tx, CollectionNotifications)
		if err != nil {
			return err
		}
		for i := range notes {
			if notes[i].ID == id {
				notes[i].Read = true
				updated = notes[i]
				return save(tx, CollectionNotifications, notes)
			}
		}
		return ErrNotificationNotFound
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func decrement(n, by int) int {
	if n -= by; n < 0 {
		return 0
	}
	return n
}
