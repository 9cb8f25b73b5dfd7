package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/puri-adityakumar/mednotes-ai/internal/appointments"
	"github.com/puri-adityakumar/mednotes-ai/internal/observability/metrics"
	"github.com/puri-adityakumar/mednotes-ai/internal/profiles"
	"github.com/puri-adityakumar/mednotes-ai/pkg/logging"
)

// Tool names exposed to the model.
const (
	ToolCheckAvailability = "checkAvailability"
	ToolBookAppointment   = "bookAppointment"
)

// CheckAvailabilityInput is the argument payload for checkAvailability.
type CheckAvailabilityInput struct {
	DoctorName      string `json:"doctorName"`
	AppointmentDate string `json:"appointmentDate"`
	AppointmentTime string `json:"appointmentTime"`
}

// BookAppointmentInput is the argument payload for bookAppointment.
type BookAppointmentInput struct {
	DoctorName      string `json:"doctorName"`
	AppointmentDate string `json:"appointmentDate"`
	AppointmentTime string `json:"appointmentTime"`
	Notes           string `json:"notes,omitempty"`
}

// CheckAvailabilityResult is returned to the model from checkAvailability.
type CheckAvailabilityResult struct {
	Available       bool   `json:"available"`
	Reason          string `json:"reason"`
	SuggestedAction string `json:"suggestedAction,omitempty"`
}

// BookAppointmentResult is returned to the model from bookAppointment.
type BookAppointmentResult struct {
	Success       bool   `json:"success"`
	AppointmentID string `json:"appointmentId,omitempty"`
	Message       string `json:"message,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Scheduler checks and fills appointment slots.
type Scheduler interface {
	CheckAvailability(ctx context.Context, doctorID uuid.UUID, at time.Time, durationMins int) (appointments.Availability, error)
	Book(ctx context.Context, p appointments.CreateParams) (*appointments.Appointment, error)
}

// DoctorDirectory lists the bookable providers.
type DoctorDirectory interface {
	ListDoctors(ctx context.Context) ([]profiles.Doctor, error)
}

// AppointmentLinker stamps an appointment id onto earlier chat rows. Failures
// here never fail a booking.
type AppointmentLinker interface {
	LinkAppointment(ctx context.Context, patientID uuid.UUID, chatID string, appointmentID uuid.UUID) (int64, error)
}

// Toolset executes the model's tool calls for one chat session.
type Toolset struct {
	scheduler Scheduler
	directory DoctorDirectory
	linker    AppointmentLinker
	logger    *logging.Logger
	metrics   *metrics.ChatMetrics

	patientID uuid.UUID
	chatID    string
	loc       *time.Location
	slotMins  int
	now       func() time.Time
}

// ToolsetConfig carries the per-session wiring for NewToolset.
type ToolsetConfig struct {
	Scheduler Scheduler
	Directory DoctorDirectory
	Linker    AppointmentLinker
	Logger    *logging.Logger
	Metrics   *metrics.ChatMetrics

	PatientID uuid.UUID
	ChatID    string
	Location  *time.Location
	SlotMins  int
	Now       func() time.Time
}

func NewToolset(cfg ToolsetConfig) *Toolset {
	if cfg.SlotMins <= 0 {
		cfg.SlotMins = 30
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Toolset{
		scheduler: cfg.Scheduler,
		directory: cfg.Directory,
		linker:    cfg.Linker,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		patientID: cfg.PatientID,
		chatID:    cfg.ChatID,
		loc:       cfg.Location,
		slotMins:  cfg.SlotMins,
		now:       cfg.Now,
	}
}

// Definitions returns the tool declarations advertised to the model.
func (t *Toolset) Definitions() []ToolDefinition {
	dateTimeProps := map[string]any{
		"doctorName": map[string]any{
			"type":        "string",
			"description": `The full name of the doctor (e.g., "John Smith", "Dr. John Smith", or just "John")`,
		},
		"appointmentDate": map[string]any{
			"type":        "string",
			"description": `The appointment date in any format (e.g., "2024-12-25", "tomorrow", "15 december 2025")`,
		},
		"appointmentTime": map[string]any{
			"type":        "string",
			"description": `The appointment time in any format (e.g., "2pm", "14:30", "2:00 PM")`,
		},
	}

	bookProps := map[string]any{
		"doctorName":      dateTimeProps["doctorName"],
		"appointmentDate": dateTimeProps["appointmentDate"],
		"appointmentTime": dateTimeProps["appointmentTime"],
		"notes": map[string]any{
			"type":        "string",
			"description": "Any additional notes or reason for the appointment",
		},
	}

	return []ToolDefinition{
		{
			Name:        ToolCheckAvailability,
			Description: "Check if a doctor is available at a specific date and time. Use this to verify availability before booking. Accepts dates and times in any format.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": dateTimeProps,
				"required":   []string{"doctorName", "appointmentDate", "appointmentTime"},
			},
		},
		{
			Name:        ToolBookAppointment,
			Description: "REQUIRED: Use this tool to actually book an appointment. This is the ONLY way to create an appointment - you MUST call this tool when the patient provides doctor name, date, and time. Do NOT just say you are booking - you must call this tool. The tool will automatically check availability before booking. Accepts dates and times in any format.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": bookProps,
				"required":   []string{"doctorName", "appointmentDate", "appointmentTime"},
			},
		},
	}
}

var errUnknownTool = errors.New("conversation: unknown tool")

// Execute runs one tool call and returns the result payload to feed back to
// the model. Domain failures (bad dates, unknown doctors, taken slots) are
// reported inside the payload so the model can relay them to the patient;
// only an unrecognized tool name is a hard error.
func (t *Toolset) Execute(ctx context.Context, call ToolCall) (json.RawMessage, error) {
	switch call.Name {
	case ToolCheckAvailability:
		var in CheckAvailabilityInput
		if err := json.Unmarshal(call.Args, &in); err != nil {
			t.metrics.ObserveToolCall(ToolCheckAvailability, "invalid_args")
			return mustJSON(CheckAvailabilityResult{
				Available: false,
				Reason:    "Invalid tool arguments. Please try again.",
			}), nil
		}
		return mustJSON(t.checkAvailability(ctx, in)), nil
	case ToolBookAppointment:
		var in BookAppointmentInput
		if err := json.Unmarshal(call.Args, &in); err != nil {
			t.metrics.ObserveToolCall(ToolBookAppointment, "invalid_args")
			return mustJSON(BookAppointmentResult{
				Success: false,
				Error:   "Invalid tool arguments. Please try again.",
			}), nil
		}
		return mustJSON(t.bookAppointment(ctx, in)), nil
	default:
		return nil, errUnknownTool
	}
}

func (t *Toolset) checkAvailability(ctx context.Context, in CheckAvailabilityInput) CheckAvailabilityResult {
	at, err := ResolveDateTime(in.AppointmentDate, in.AppointmentTime, t.now(), t.loc)
	if err != nil {
		t.metrics.ObserveToolCall(ToolCheckAvailability, "invalid_datetime")
		return CheckAvailabilityResult{
			Available: false,
			Reason:    "Invalid date or time format. Please provide a valid date and time.",
		}
	}

	doctor, err := t.matchDoctor(ctx, in.DoctorName)
	if err != nil {
		var nf *DoctorNotFoundError
		if errors.As(err, &nf) {
			t.metrics.ObserveToolCall(ToolCheckAvailability, "doctor_not_found")
			return CheckAvailabilityResult{Available: false, Reason: nf.Error() + "."}
		}
		t.metrics.ObserveToolCall(ToolCheckAvailability, "error")
		return CheckAvailabilityResult{
			Available: false,
			Reason:    "Unable to fetch doctor information. Please try again.",
		}
	}

	avail, err := t.scheduler.CheckAvailability(ctx, doctor.ID, at, t.slotMins)
	if err != nil {
		t.logger.Error("availability check failed", "error", err, "doctor_id", doctor.ID)
		t.metrics.ObserveToolCall(ToolCheckAvailability, "error")
		return CheckAvailabilityResult{
			Available: false,
			Reason:    "Unable to check availability. Please try again.",
		}
	}

	action := "Please suggest an alternative time slot to the patient."
	if avail.Available {
		action = "This time slot is available. You can proceed with booking."
	}
	t.metrics.ObserveToolCall(ToolCheckAvailability, "ok")
	return CheckAvailabilityResult{
		Available:       avail.Available,
		Reason:          avail.Reason,
		SuggestedAction: action,
	}
}

func (t *Toolset) bookAppointment(ctx context.Context, in BookAppointmentInput) BookAppointmentResult {
	at, err := ResolveDateTime(in.AppointmentDate, in.AppointmentTime, t.now(), t.loc)
	if err != nil {
		t.metrics.ObserveToolCall(ToolBookAppointment, "invalid_datetime")
		return BookAppointmentResult{
			Success: false,
			Error:   "Invalid date or time format. Please provide a valid date and time.",
		}
	}

	doctor, err := t.matchDoctor(ctx, in.DoctorName)
	if err != nil {
		var nf *DoctorNotFoundError
		if errors.As(err, &nf) {
			t.metrics.ObserveToolCall(ToolBookAppointment, "doctor_not_found")
			return BookAppointmentResult{
				Success: false,
				Error:   nf.Error() + ". Please try again with one of these names.",
			}
		}
		t.metrics.ObserveToolCall(ToolBookAppointment, "error")
		return BookAppointmentResult{
			Success: false,
			Error:   "Unable to fetch doctor information. Please try again.",
		}
	}

	appt, err := t.scheduler.Book(ctx, appointments.CreateParams{
		PatientID:     t.patientID,
		DoctorID:      doctor.ID,
		At:            at,
		Notes:         in.Notes,
		BookingChatID: t.chatID,
		DurationMins:  t.slotMins,
	})
	if err != nil {
		if errors.Is(err, appointments.ErrSlotTaken) {
			t.metrics.ObserveToolCall(ToolBookAppointment, "slot_taken")
			t.metrics.ObserveBooking("conflict")
			return BookAppointmentResult{
				Success: false,
				Error:   "The doctor already has an appointment in this time slot. Please choose a different time slot.",
			}
		}
		t.logger.Error("appointment insert failed", "error", err, "doctor_id", doctor.ID)
		t.metrics.ObserveToolCall(ToolBookAppointment, "error")
		t.metrics.ObserveBooking("error")
		return BookAppointmentResult{
			Success: false,
			Error:   "An error occurred while booking the appointment. Please try again.",
		}
	}

	// Stamp the session's chat rows with the appointment so the transcript is
	// reachable from the booking. Best effort only.
	if t.linker != nil {
		if n, err := t.linker.LinkAppointment(ctx, t.patientID, t.chatID, appt.ID); err != nil {
			t.logger.Warn("failed to link chat to appointment", "error", err, "appointment_id", appt.ID)
		} else {
			t.logger.Info("linked chat rows to appointment", "appointment_id", appt.ID, "rows", n)
		}
	}

	local := at.In(t.loc)
	t.metrics.ObserveToolCall(ToolBookAppointment, "ok")
	t.metrics.ObserveBooking("scheduled")
	return BookAppointmentResult{
		Success:       true,
		AppointmentID: appt.ID.String(),
		Message: "✅ Appointment successfully booked! You have an appointment with " +
			doctor.DisplayName() + " on " + FormatAppointmentDate(local) + " at " +
			FormatAppointmentTime(local) + ". Your appointment ID is " + appt.ID.String() + ".",
	}
}

func (t *Toolset) matchDoctor(ctx context.Context, name string) (*profiles.Doctor, error) {
	doctors, err := t.directory.ListDoctors(ctx)
	if err != nil {
		return nil, err
	}
	return MatchDoctor(name, doctors)
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Result types only hold strings and bools.
		panic(err)
	}
	return b
}
