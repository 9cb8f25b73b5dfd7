package appointments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/puri-adityakumar/mednotes-ai/pkg/logging"
)

var appointmentsTracer = otel.Tracer("mednotes.internal.appointments")

// Service wraps the repository with tracing and logging. It is the only
// write path for appointments in this service.
type Service struct {
	repo   *Repository
	logger *logging.Logger
}

// NewService constructs an appointments service.
func NewService(repo *Repository, logger *logging.Logger) *Service {
	if repo == nil {
		panic("appointments: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// CheckAvailability reports whether the doctor's slot is free.
func (s *Service) CheckAvailability(ctx context.Context, doctorID uuid.UUID, at time.Time, durationMins int) (Availability, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.check_availability")
	defer span.End()
	span.SetAttributes(
		attribute.String("mednotes.doctor_id", doctorID.String()),
		attribute.String("mednotes.slot", at.Format(time.RFC3339)),
	)

	avail, err := s.repo.CheckAvailability(ctx, doctorID, at, durationMins)
	if err != nil {
		span.RecordError(err)
		return Availability{}, err
	}
	return avail, nil
}

// Book inserts a scheduled appointment, failing with ErrSlotTaken when a
// conflicting appointment exists.
func (s *Service) Book(ctx context.Context, p CreateParams) (*Appointment, error) {
	ctx, span := appointmentsTracer.Start(ctx, "appointments.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("mednotes.doctor_id", p.DoctorID.String()),
		attribute.String("mednotes.patient_id", p.PatientID.String()),
	)

	appt, err := s.repo.CreateScheduled(ctx, p)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"doctor_id", p.DoctorID,
		"patient_id", p.PatientID,
		"at", p.At.Format(time.RFC3339),
	)
	return appt, nil
}
