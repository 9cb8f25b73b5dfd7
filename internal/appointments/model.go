package appointments

import (
	"time"

	"github.com/google/uuid"
)

// Appointment statuses. Only "scheduled" is written by this service; later
// transitions happen in other workflows.
const (
	StatusScheduled = "scheduled"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// Appointment is one booked slot for a doctor.
type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	AppointmentDate time.Time
	Status          string
	Notes           string
	BookingChatID   string
	CreatedAt       time.Time
}

// Availability is the outcome of a slot check, with a human-readable reason
// suitable for relaying to the patient.
type Availability struct {
	Available bool
	Reason    string
}
