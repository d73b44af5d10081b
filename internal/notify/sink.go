// Package notify hands cancellation notifications produced by the scheduling
// engine to whatever delivers them. Delivery itself (push, SMS) happens
// downstream of these sinks.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// LogSink writes each notification to the log. It is the fallback when no
// broker is configured.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "notify").Logger()}
}

func (s *LogSink) Publish(_ context.Context, notes []appointment.Notification) error {
	for _, n := range notes {
		s.logger.Info().
			Str("notification_id", n.ID.String()).
			Str("patient_id", n.PatientID.String()).
			Str("appointment_id", n.AppointmentID.String()).
			Str("type", n.Type).
			Str("title", n.Title).
			Msg("notification produced")
	}
	return nil
}

func (s *LogSink) Close() error { return nil }
