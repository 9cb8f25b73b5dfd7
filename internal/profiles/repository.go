package profiles

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrProfileNotFound indicates the requested profile row does not exist.
var ErrProfileNotFound = errors.New("profiles: profile not found")

// DB is the subset of pgxpool.Pool used by the repository. Narrowed so tests
// can inject pgxmock.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repository reads the shared identity table.
type Repository struct {
	db DB
}

// NewRepository initializes a repo backed by pgxpool (or a mock in tests).
func NewRepository(db DB) *Repository {
	if db == nil {
		panic("profiles: db required")
	}
	return &Repository{db: db}
}

// ListDoctors returns every registered provider, in stable id order so the
// doctor matcher's first-hit semantics are deterministic.
func (r *Repository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	query := `
		SELECT id, first_name, last_name, COALESCE(specialization, '')
		FROM profiles
		WHERE role = $1
		ORDER BY id
	`
	rows, err := r.db.Query(ctx, query, RoleDoctor)
	if err != nil {
		return nil, fmt.Errorf("profiles: list doctors: %w", err)
	}
	defer rows.Close()

	var doctors []Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.FirstName, &d.LastName, &d.Specialization); err != nil {
			return nil, fmt.Errorf("profiles: scan doctor: %w", err)
		}
		doctors = append(doctors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profiles: list doctors: %w", err)
	}
	return doctors, nil
}

// GetPatient fetches the patient profile for the authenticated user.
func (r *Repository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	query := `
		SELECT id, first_name, last_name, COALESCE(email, '')
		FROM profiles
		WHERE id = $1 AND role = $2
	`
	var p Patient
	err := r.db.QueryRow(ctx, query, id, RolePatient).Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("profiles: get patient: %w", err)
	}
	return &p, nil
}
