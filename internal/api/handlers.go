package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/store"
)

func (req ScheduleRequest) input() (appointment.ScheduleInput, *ErrorResponse) {
	doctorID, ok := parseID(req.DoctorID)
	if !ok {
		return appointment.ScheduleInput{}, &ErrorResponse{Error: "invalid_doctor_id", Details: "doctor_id must be a valid UUID", Field: "doctor_id"}
	}
	day, err := calendar.ParseWeekday(req.Day)
	if err != nil {
		return appointment.ScheduleInput{}, &ErrorResponse{Error: "validation_failed", Details: err.Error(), Field: "day"}
	}
	start, err := calendar.ParseTimeOfDay(req.StartTime)
	if err != nil {
		return appointment.ScheduleInput{}, &ErrorResponse{Error: "validation_failed", Details: err.Error(), Field: "start_time"}
	}
	end, err := calendar.ParseTimeOfDay(req.EndTime)
	if err != nil {
		return appointment.ScheduleInput{}, &ErrorResponse{Error: "validation_failed", Details: err.Error(), Field: "end_time"}
	}
	return appointment.ScheduleInput{
		DoctorID:         doctorID,
		DoctorName:       req.DoctorName,
		HospitalName:     req.HospitalName,
		HospitalAddress:  req.HospitalAddress,
		Day:              day,
		StartTime:        start,
		EndTime:          end,
		MaxPatients:      req.MaxPatients,
		ReservedSlots:    req.ReservedSlots,
		EmergencyContact: req.EmergencyContact,
	}, nil
}

func decodeScheduleRequest(w http.ResponseWriter, r *http.Request) (appointment.ScheduleInput, bool) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return appointment.ScheduleInput{}, false
	}
	in, errResp := req.input()
	if errResp != nil {
		writeJSON(w, http.StatusBadRequest, errResp)
		return appointment.ScheduleInput{}, false
	}
	return in, true
}

func urlID(w http.ResponseWriter, r *http.Request, code string) (uuid.UUID, bool) {
	id, ok := parseID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, code, "id must be a valid UUID")
	}
	return id, ok
}

func createScheduleHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, ok := decodeScheduleRequest(w, r)
		if !ok {
			return
		}
		sched, err := svc.CreateSchedule(r.Context(), in)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, sched)
	}
}

func listSchedulesHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID := uuid.Nil
		if raw := r.URL.Query().Get("doctor_id"); raw != "" {
			id, ok := parseID(raw)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			doctorID = id
		}
		schedules, err := svc.ListSchedules(r.Context(), doctorID)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newList(schedules))
	}
}

func getScheduleHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "invalid_schedule_id")
		if !ok {
			return
		}
		sched, err := svc.GetSchedule(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, sched)
	}
}

// updateScheduleHandler refuses a day or time change that would cancel
// pending appointments unless the request carries ?confirm=true.
func updateScheduleHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "invalid_schedule_id")
		if !ok {
			return
		}
		in, ok := decodeScheduleRequest(w, r)
		if !ok {
			return
		}

		if r.URL.Query().Get("confirm") != "true" {
			preview, err := svc.PreviewScheduleEdit(r.Context(), id, in)
			if err != nil {
				handleServiceError(w, r, logger, err)
				return
			}
			if preview.Affected > 0 {
				writeJSON(w, http.StatusConflict, ErrorResponse{
					Error:    "confirmation_required",
					Details:  appointment.ErrConfirmationRequired.Error(),
					Affected: preview.Affected,
				})
				return
			}
		}

		res, err := svc.EditSchedule(r.Context(), id, in)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ScheduleEditResponse{
			Schedule:      res.Schedule,
			Cancelled:     res.Cancelled,
			Notifications: res.Notifications,
		})
	}
}

func deleteScheduleHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "invalid_schedule_id")
		if !ok {
			return
		}
		res, err := svc.DeleteSchedule(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ScheduleEditResponse{
			Schedule:      res.Schedule,
			Cancelled:     res.Cancelled,
			Notifications: res.Notifications,
		})
	}
}

func availabilityHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "invalid_schedule_id")
		if !ok {
			return
		}
		date, err := calendar.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		av, err := svc.Availability(r.Context(), id, date)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, av)
	}
}

func bookableDatesHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "invalid_schedule_id")
		if !ok {
			return
		}
		dates, err := svc.BookableDates(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newList(dates))
	}
}

func createAppointmentHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		scheduleID, ok := parseID(req.ScheduleID)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_schedule_id", "schedule_id must be a valid UUID")
			return
		}
		patientID, ok := parseID(req.PatientID)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		date, err := calendar.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookingInput{
			PatientID:  patientID,
			ScheduleID: scheduleID,
			Date:       date,
		})
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, appt)
	}
}

func listAppointmentsHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var filter appointment.AppointmentFilter
		q := r.URL.Query()
		if raw := q.Get("patient_id"); raw != "" {
			id, ok := parseID(raw)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			filter.PatientID = id
		}
		if raw := q.Get("doctor_id"); raw != "" {
			id, ok := parseID(raw)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			filter.DoctorID = id
		}
		filter.Status = appointment.AppointmentStatus(q.Get("status"))
		if filter.PatientID == uuid.Nil && filter.DoctorID == uuid.Nil {
			writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or doctor_id is required")
			return
		}

		appts, err := svc.ListAppointments(r.Context(), filter)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newList(appts))
	}
}

func cancelAppointmentHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}
		var req CancelAppointmentRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}
		appt, err := svc.CancelAppointment(r.Context(), id, req.Reason)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func completeAppointmentHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "invalid_appointment_id")
		if !ok {
			return
		}
		appt, err := svc.CompleteAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func reconcileHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Reconcile(r.Context())
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func listNotificationsHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "invalid_patient_id")
		if !ok {
			return
		}
		notes, err := svc.ListNotifications(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newList(notes))
	}
}

func markNotificationReadHandler(svc *appointment.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := urlID(w, r, "invalid_notification_id")
		if !ok {
			return
		}
		n, err := svc.MarkNotificationRead(r.Context(), id)
		if err != nil {
			handleServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}

func handleServiceError(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error) {
	var (
		verr *appointment.ValidationError
		berr *appointment.BookingError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_failed", Details: verr.Error(), Field: verr.Field})
	case errors.As(err, &berr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:            "booking_" + string(berr.Kind),
			Details:          berr.Error(),
			EmergencyContact: berr.EmergencyContact,
		})
	case errors.Is(err, appointment.ErrScheduleNotFound):
		writeError(w, http.StatusNotFound, "schedule_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrNotificationNotFound):
		writeError(w, http.StatusNotFound, "notification_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrBusy),
		errors.Is(err, redisclient.ErrLockNotAcquired),
		errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "schedule_busy", appointment.ErrBusy.Error())
	default:
		logger.Error().
			Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}
