package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrSlotTaken indicates the conditional insert found a conflicting
// appointment. The slot was taken between (or despite) any prior availability
// check.
var ErrSlotTaken = errors.New("appointments: slot already taken")

// SQLSTATE 23P01, raised by the appointments_no_overlap exclusion constraint.
const pgerrcodeExclusionViolation = "23P01"

// DB is the subset of pgxpool.Pool used by the repository.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository provides persistence for appointments.
type Repository struct {
	db DB
}

// NewRepository creates a repository backed by pgx pool.
func NewRepository(db DB) *Repository {
	if db == nil {
		panic("appointments: db required")
	}
	return &Repository{db: db}
}

// CheckAvailability reports whether the doctor's slot window around the
// candidate time is free of non-cancelled appointments. Store errors surface
// to the caller so they can be distinguished from "slot unavailable".
func (r *Repository) CheckAvailability(ctx context.Context, doctorID uuid.UUID, at time.Time, durationMins int) (Availability, error) {
	if durationMins <= 0 {
		durationMins = 30
	}
	query := `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1
			  AND status <> $2
			  AND appointment_date > $3 - make_interval(mins => $4)
			  AND appointment_date < $3 + make_interval(mins => $4)
		)
	`
	var conflict bool
	if err := r.db.QueryRow(ctx, query, doctorID, StatusCancelled, at, durationMins).Scan(&conflict); err != nil {
		return Availability{}, fmt.Errorf("appointments: availability check: %w", err)
	}
	if conflict {
		return Availability{
			Available: false,
			Reason:    "The doctor already has an appointment in this time slot. Please choose a different time.",
		}, nil
	}
	return Availability{Available: true, Reason: "This time slot is available."}, nil
}

// CreateParams carries everything needed to insert a scheduled appointment.
type CreateParams struct {
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	At            time.Time
	Notes         string
	BookingChatID string
	DurationMins  int
}

// CreateScheduled inserts a scheduled appointment only if no conflicting
// appointment exists, in a single statement. The availability precheck is
// advisory, and the NOT EXISTS guard only narrows the window; the
// appointments_no_overlap exclusion constraint is what prevents double
// booking when two turns race.
func (r *Repository) CreateScheduled(ctx context.Context, p CreateParams) (*Appointment, error) {
	if p.DurationMins <= 0 {
		p.DurationMins = 30
	}
	id := uuid.New()
	query := `
		INSERT INTO appointments (id, patient_id, doctor_id, appointment_date, status, notes, booking_chat_id)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $3
			  AND status <> $8
			  AND appointment_date > $4 - make_interval(mins => $9)
			  AND appointment_date < $4 + make_interval(mins => $9)
		)
		RETURNING created_at
	`
	var createdAt time.Time
	err := r.db.QueryRow(ctx, query,
		id,
		p.PatientID,
		p.DoctorID,
		p.At,
		StatusScheduled,
		p.Notes,
		p.BookingChatID,
		StatusCancelled,
		p.DurationMins,
	).Scan(&createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotTaken
		}
		// The exclusion constraint is the real race closer: two inserts that
		// both pass the NOT EXISTS snapshot cannot both commit, and the loser
		// surfaces here as an exclusion violation.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcodeExclusionViolation {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("appointments: insert scheduled: %w", err)
	}

	return &Appointment{
		ID:              id,
		PatientID:       p.PatientID,
		DoctorID:        p.DoctorID,
		AppointmentDate: p.At,
		Status:          StatusScheduled,
		Notes:           p.Notes,
		BookingChatID:   p.BookingChatID,
		CreatedAt:       createdAt,
	}, nil
}

// ListForPatient returns a patient's appointments, newest first.
func (r *Repository) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	query := `
		SELECT id, patient_id, doctor_id, appointment_date, status, COALESCE(notes, ''), COALESCE(booking_chat_id, ''), created_at
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appointment_date DESC
	`
	rows, err := r.db.Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("appointments: list for patient: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.AppointmentDate, &a.Status, &a.Notes, &a.BookingChatID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("appointments: scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: list for patient: %w", err)
	}
	return out, nil
}
