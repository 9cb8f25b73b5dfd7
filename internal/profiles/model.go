package profiles

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Role discriminates patients from providers in the shared profiles table.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
)

// Doctor is a registered provider. Read-only from this service's perspective.
type Doctor struct {
	ID             uuid.UUID
	FirstName      string
	LastName       string
	Specialization string
}

// FullName returns the doctor's bare name without a title.
func (d Doctor) FullName() string {
	return strings.TrimSpace(d.FirstName + " " + d.LastName)
}

// DisplayName returns the titled name shown to patients.
func (d Doctor) DisplayName() string {
	return "Dr. " + d.FullName()
}

// Describe renders the roster line used in the system prompt.
func (d Doctor) Describe() string {
	spec := d.Specialization
	if spec == "" {
		spec = "General Practitioner"
	}
	return fmt.Sprintf("- %s | Specialization: %s", d.DisplayName(), spec)
}

// Patient is the authenticated profile booking the appointment.
type Patient struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Email     string
}
