package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy holds the clinic's booking and reconciliation rules.
type Policy struct {
	Timezone            string         `yaml:"timezone"`
	Location            *time.Location `yaml:"-"`
	BookingCutoff       time.Duration  `yaml:"booking_cutoff"`
	BookingHorizonDays  int            `yaml:"booking_horizon_days"`
	MaxPendingPerDoctor int            `yaml:"max_pending_per_doctor"`
	MissedAfter         time.Duration  `yaml:"missed_after"`
	VoidAfter           time.Duration  `yaml:"void_after"`
}

func DefaultPolicy() Policy {
	return Policy{
		Timezone:            "UTC",
		Location:            time.UTC,
		BookingCutoff:       30 * time.Minute,
		BookingHorizonDays:  28,
		MaxPendingPerDoctor: 2,
		MissedAfter:         60 * time.Minute,
		VoidAfter:           0,
	}
}

// LoadPolicy reads a YAML policy file over the defaults. An empty path or a
// missing file yields the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p, nil
		}
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

func ParsePolicy(data []byte) (Policy, error) {
	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}

	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return Policy{}, fmt.Errorf("policy timezone %q: %w", p.Timezone, err)
	}
	p.Location = loc

	switch {
	case p.BookingCutoff < 0:
		return Policy{}, errors.New("policy booking_cutoff must not be negative")
	case p.BookingHorizonDays <= 0:
		return Policy{}, errors.New("policy booking_horizon_days must be positive")
	case p.MaxPendingPerDoctor <= 0:
		return Policy{}, errors.New("policy max_pending_per_doctor must be positive")
	case p.MissedAfter < 0 || p.VoidAfter < 0:
		return Policy{}, errors.New("policy missed_after and void_after must not be negative")
	}
	return p, nil
}
