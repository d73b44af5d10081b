package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/store"
)

var hospitals = []string{
	"Central Hospital",
	"Lakeside Medical Centre",
	"St. Mary's Clinic",
	"Northgate General",
	"Riverside Family Practice",
}

// Session start times, in the clinic's 12 hour format.
var sessionStarts = []string{"08:00 AM", "09:30 AM", "11:00 AM", "02:00 PM", "04:30 PM", "06:00 PM"}

func main() {
	rootCmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the scheduling store with demo data",
	}

	rootCmd.AddCommand(schedulesCmd())
	rootCmd.AddCommand(consultationsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type env struct {
	cfg     config.Config
	logger  zerolog.Logger
	backend *store.Backend
	svc     *appointment.Service
}

func open(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	logger := logging.New(cfg.Env, "seed")
	if cfg.StoreDriver == config.StoreMemory {
		logger.Warn().Msg("STORE_DRIVER=memory: seeded data is lost when the command exits")
	}

	backend, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	gofakeit.Seed(0)

	return &env{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		svc:     appointment.NewService(backend.Store, nil, nil, cfg.Policy, logger),
	}, nil
}

func schedulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Create doctors with recurring weekly schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctors, _ := cmd.Flags().GetInt("doctors")
			perDoctor, _ := cmd.Flags().GetInt("per-doctor")

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			e, err := open(ctx)
			if err != nil {
				return err
			}
			defer e.backend.Close()

			return seedSchedules(ctx, e, doctors, perDoctor)
		},
	}
	cmd.Flags().Int("doctors", 20, "Number of doctors to create")
	cmd.Flags().Int("per-doctor", 2, "Weekly sessions per doctor")
	return cmd
}

func seedSchedules(ctx context.Context, e *env, doctors, perDoctor int) error {
	e.logger.Info().Int("doctors", doctors).Int("per_doctor", perDoctor).Msg("seeding schedules")

	created := 0
	for i := 0; i < doctors; i++ {
		doctorID := uuid.New()
		name := gofakeit.LastName()
		hospital := gofakeit.RandomString(hospitals)

		days := []int{1, 2, 3, 4, 5, 6}
		gofakeit.ShuffleInts(days)
		for j := 0; j < perDoctor && j < len(days); j++ {
			start := calendar.MustParseTimeOfDay(gofakeit.RandomString(sessionStarts))
			end, err := calendar.NewTimeOfDay(start.Hour()+2, start.Minute())
			if err != nil {
				return err
			}

			maxPatients := gofakeit.Number(4, 20)
			var reserved []int
			walkIns := gofakeit.Number(0, 3)
			for n := 1; n <= walkIns; n++ {
				reserved = append(reserved, n)
			}

			_, err = e.svc.CreateSchedule(ctx, appointment.ScheduleInput{
				DoctorID:         doctorID,
				DoctorName:       name,
				HospitalName:     hospital,
				HospitalAddress:  gofakeit.Street() + ", " + gofakeit.City(),
				Day:              time.Weekday(days[j]),
				StartTime:        start,
				EndTime:          end,
				MaxPatients:      maxPatients,
				ReservedSlots:    reserved,
				EmergencyContact: gofakeit.Phone(),
			})
			if err != nil {
				return fmt.Errorf("create schedule for %s: %w", name, err)
			}
			created++
		}
	}

	e.logger.Info().Int("created", created).Msg("schedules seeded")
	return nil
}

func consultationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consultations",
		Short: "Record consultations for today's pending appointments",
		RunE: func(cmd *cobra.Command, args []string) error {
			ratio, _ := cmd.Flags().GetFloat64("ratio")

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			e, err := open(ctx)
			if err != nil {
				return err
			}
			defer e.backend.Close()

			return seedConsultations(ctx, e, ratio)
		},
	}
	cmd.Flags().Float64("ratio", 0.7, "Share of today's pending appointments that get a consultation")
	return cmd
}

func seedConsultations(ctx context.Context, e *env, ratio float64) error {
	schedules, err := e.svc.ListSchedules(ctx, uuid.Nil)
	if err != nil {
		return err
	}

	now := time.Now().In(e.cfg.Policy.Location)
	today := calendar.DateOf(now)
	seen := make(map[uuid.UUID]bool)
	var consultations []appointment.Consultation

	for _, s := range schedules {
		if seen[s.DoctorID] {
			continue
		}
		seen[s.DoctorID] = true

		appts, err := e.svc.ListAppointments(ctx, appointment.AppointmentFilter{DoctorID: s.DoctorID})
		if err != nil {
			return err
		}
		for _, a := range appts {
			if a.Status != appointment.StatusPending || a.Date != today {
				continue
			}
			if gofakeit.Float64Range(0, 1) >= ratio {
				continue
			}
			consultations = append(consultations, appointment.Consultation{
				ID:        uuid.New(),
				PatientID: a.PatientID,
				DoctorID:  a.DoctorID,
				Date:      a.Date,
				CreatedAt: now,
			})
		}
	}

	if len(consultations) == 0 {
		e.logger.Info().Msg("no pending appointments today, nothing to record")
		return nil
	}
	if err := appointment.AppendConsultations(ctx, e.backend.Store, consultations...); err != nil {
		return err
	}
	e.logger.Info().Int("recorded", len(consultations)).Msg("consultations seeded")
	return nil
}
