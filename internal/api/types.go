package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

type ScheduleRequest struct {
	DoctorID         string `json:"doctor_id"`
	DoctorName       string `json:"doctor_name"`
	HospitalName     string `json:"hospital_name"`
	HospitalAddress  string `json:"hospital_address"`
	Day              string `json:"day"`
	StartTime        string `json:"start_time"`
	EndTime          string `json:"end_time"`
	MaxPatients      int    `json:"max_patients"`
	ReservedSlots    []int  `json:"reserved_slots"`
	EmergencyContact string `json:"emergency_contact"`
}

type CreateAppointmentRequest struct {
	PatientID  string `json:"patient_id"`
	ScheduleID string `json:"schedule_id"`
	Date       string `json:"date"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type ScheduleEditResponse struct {
	Schedule      appointment.Schedule       `json:"schedule"`
	Cancelled     int                        `json:"cancelled"`
	Notifications []appointment.Notification `json:"notifications,omitempty"`
}

type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

type ErrorResponse struct {
	Error            string `json:"error"`
	Details          string `json:"details,omitempty"`
	Field            string `json:"field,omitempty"`
	EmergencyContact string `json:"emergency_contact,omitempty"`
	Affected         int    `json:"affected,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func parseID(raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}
