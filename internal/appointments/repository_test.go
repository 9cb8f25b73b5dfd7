package appointments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func TestCheckAvailabilityFreeSlot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	doctorID := uuid.New()
	at := time.Date(2025, 12, 15, 15, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(doctorID, StatusCancelled, at, 30).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	repo := NewRepository(mock)
	avail, err := repo.CheckAvailability(context.Background(), doctorID, at, 30)
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if !avail.Available {
		t.Fatalf("expected slot to be available, reason: %s", avail.Reason)
	}
}

func TestCheckAvailabilityConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	doctorID := uuid.New()
	at := time.Date(2025, 12, 15, 15, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(doctorID, StatusCancelled, at, 30).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	repo := NewRepository(mock)
	avail, err := repo.CheckAvailability(context.Background(), doctorID, at, 30)
	if err != nil {
		t.Fatalf("CheckAvailability: %v", err)
	}
	if avail.Available {
		t.Fatal("expected slot to be unavailable")
	}
	if avail.Reason == "" {
		t.Fatal("expected a human-readable reason")
	}
}

func TestCreateScheduledSlotTaken(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	// Conditional insert returns no row when the guard finds a conflict.
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}))

	repo := NewRepository(mock)
	_, err = repo.CreateScheduled(context.Background(), CreateParams{
		PatientID:    uuid.New(),
		DoctorID:     uuid.New(),
		At:           time.Now().Add(24 * time.Hour),
		DurationMins: 30,
	})
	if err != ErrSlotTaken {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
}

func TestCreateScheduledSuccess(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	created := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))

	repo := NewRepository(mock)
	at := time.Now().Add(24 * time.Hour)
	appt, err := repo.CreateScheduled(context.Background(), CreateParams{
		PatientID:     uuid.New(),
		DoctorID:      uuid.New(),
		At:            at,
		Notes:         "knee pain",
		BookingChatID: "chat-1",
		DurationMins:  30,
	})
	if err != nil {
		t.Fatalf("CreateScheduled: %v", err)
	}
	if appt.Status != StatusScheduled {
		t.Errorf("expected status scheduled, got %s", appt.Status)
	}
	if !appt.AppointmentDate.Equal(at) {
		t.Errorf("appointment date mismatch")
	}
	if appt.ID == uuid.Nil {
		t.Error("expected a generated appointment id")
	}
}

func TestCreateScheduledExclusionViolation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	// A racing insert that slipped past the NOT EXISTS snapshot trips the
	// appointments_no_overlap constraint instead.
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{
			Code:           "23P01",
			ConstraintName: "appointments_no_overlap",
		})

	repo := NewRepository(mock)
	_, err = repo.CreateScheduled(context.Background(), CreateParams{
		PatientID:    uuid.New(),
		DoctorID:     uuid.New(),
		At:           time.Now().Add(24 * time.Hour),
		DurationMins: 30,
	})
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
}
