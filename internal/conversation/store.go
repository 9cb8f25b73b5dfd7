package conversation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ChatTurn is one persisted row of a booking conversation.
type ChatTurn struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	ChatID        string
	Role          string
	Content       string
	AppointmentID *uuid.UUID
	CreatedAt     time.Time
}

// DB is the subset of pgxpool.Pool used by the chat store.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists booking chat transcripts in Postgres.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	if db == nil {
		panic("conversation: db required")
	}
	return &Store{db: db}
}

// InsertUserTurn records the patient's message before the model runs, so the
// transcript survives even if the turn fails downstream.
func (s *Store) InsertUserTurn(ctx context.Context, patientID uuid.UUID, chatID, content string) (uuid.UUID, error) {
	return s.insertTurn(ctx, patientID, chatID, ChatRoleUser, content, nil)
}

// InsertAssistantTurn records the assistant's final text for the turn. If the
// turn produced a booking, the appointment id is stamped on the row directly.
func (s *Store) InsertAssistantTurn(ctx context.Context, patientID uuid.UUID, chatID, content string, appointmentID *uuid.UUID) (uuid.UUID, error) {
	return s.insertTurn(ctx, patientID, chatID, ChatRoleAssistant, content, appointmentID)
}

func (s *Store) insertTurn(ctx context.Context, patientID uuid.UUID, chatID, role, content string, appointmentID *uuid.UUID) (uuid.UUID, error) {
	id := uuid.New()
	query := `
		INSERT INTO booking_chat (id, patient_id, chat_id, role, content, appointment_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := s.db.Exec(ctx, query, id, patientID, chatID, role, content, appointmentID); err != nil {
		return uuid.Nil, fmt.Errorf("conversation: insert %s turn: %w", role, err)
	}
	return id, nil
}

// LinkAppointment stamps an appointment id onto every row of the session that
// does not already carry one. Returns the number of rows updated.
func (s *Store) LinkAppointment(ctx context.Context, patientID uuid.UUID, chatID string, appointmentID uuid.UUID) (int64, error) {
	query := `
		UPDATE booking_chat
		SET appointment_id = $1
		WHERE patient_id = $2 AND chat_id = $3 AND appointment_id IS NULL
	`
	tag, err := s.db.Exec(ctx, query, appointmentID, patientID, chatID)
	if err != nil {
		return 0, fmt.Errorf("conversation: link appointment: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListSession returns a session's turns oldest first, scoped to the patient so
// one user can never read another's transcript.
func (s *Store) ListSession(ctx context.Context, patientID uuid.UUID, chatID string) ([]ChatTurn, error) {
	query := `
		SELECT id, patient_id, chat_id, role, content, appointment_id, created_at
		FROM booking_chat
		WHERE patient_id = $1 AND chat_id = $2
		ORDER BY created_at ASC
	`
	rows, err := s.db.Query(ctx, query, patientID, chatID)
	if err != nil {
		return nil, fmt.Errorf("conversation: list session: %w", err)
	}
	defer rows.Close()

	var out []ChatTurn
	for rows.Next() {
		var t ChatTurn
		if err := rows.Scan(&t.ID, &t.PatientID, &t.ChatID, &t.Role, &t.Content, &t.AppointmentID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan turn: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation: list session: %w", err)
	}
	return out, nil
}
