package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrScheduleNotFound     = errors.New("schedule not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrNotificationNotFound = errors.New("notification not found")

	ErrValidation           = errors.New("validation failed")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrConfirmationRequired = errors.New("schedule change cancels pending appointments and must be confirmed")
	ErrBusy                 = errors.New("schedule is currently being modified, please retry")

	ErrBookingClosed       = errors.New("booking closed")
	ErrBookingFull         = errors.New("no slots available")
	ErrDoctorLimitExceeded = errors.New("pending appointment limit with this doctor reached")
	ErrAlreadyBooked       = errors.New("patient already booked this schedule for the date")
)

// ValidationError rejects malformed input before any state is touched.
type ValidationError struct {
	Field   string
	Message string
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Message: msg}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

type BookingErrorKind string

const (
	BookingClosed       BookingErrorKind = "closed"
	BookingFull         BookingErrorKind = "full"
	DoctorLimitExceeded BookingErrorKind = "doctor_limit_exceeded"
	AlreadyBooked       BookingErrorKind = "already_booked"
)

// BookingError is a user-facing refusal. It is never retried.
type BookingError struct {
	Kind             BookingErrorKind
	Reason           string
	EmergencyContact string
}

func (e *BookingError) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *BookingError) Is(target error) bool {
	switch e.Kind {
	case BookingClosed:
		return target == ErrBookingClosed
	case BookingFull:
		return target == ErrBookingFull
	case DoctorLimitExceeded:
		return target == ErrDoctorLimitExceeded
	case AlreadyBooked:
		return target == ErrAlreadyBooked
	}
	return false
}
