package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgEmergencyRepository struct {
	pool *pgxpool.Pool
}

func NewPgEmergencyRepository(pool *pgxpool.Pool) *PgEmergencyRepository {
	return &PgEmergencyRepository{pool: pool}
}

const emergencyColumns = `
	id, patient_id, latitude, longitude, address, priority, status,
	clinic_id, ambulance_id, doctor_id, doctor_confirmed_at, created_at, dispatched_at`

func scanEmergency(row pgx.Row) (*Emergency, error) {
	var e Emergency

	err := row.Scan(
		&e.ID,
		&e.PatientID,
		&e.Location.Latitude,
		&e.Location.Longitude,
		&e.Location.Address,
		&e.Priority,
		&e.Status,
		&e.ClinicID,
		&e.AmbulanceID,
		&e.DoctorID,
		&e.DoctorConfirmedAt,
		&e.CreatedAt,
		&e.DispatchedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &e, nil
}

func (r *PgEmergencyRepository) Create(ctx context.Context, e *Emergency) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO emergencies (
			id, patient_id, latitude, longitude, address, priority, status,
			clinic_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.PatientID, e.Location.Latitude, e.Location.Longitude, e.Location.Address,
		e.Priority, e.Status, e.ClinicID, e.CreatedAt)
	return err
}

func (r *PgEmergencyRepository) GetByID(ctx context.Context, id uuid.UUID) (*Emergency, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+emergencyColumns+`
		FROM emergencies
		WHERE id = $1
	`, id)
	return scanEmergency(row)
}

func (r *PgEmergencyRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Emergency, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE emergencies
		SET status = $2
		WHERE id = $1
		  AND status = $3
		RETURNING `+emergencyColumns+`
	`, id, to, from)

	e, err := scanEmergency(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if _, getErr := r.GetByID(ctx, id); getErr == nil {
				return nil, ErrStale
			}
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (r *PgEmergencyRepository) Assign(ctx context.Context, id uuid.UUID, from Status, amb Ambulance, doctorID *uuid.UUID, at time.Time) (*Emergency, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE emergencies
		SET status = 'assigned',
		    ambulance_id = $2,
		    clinic_id = COALESCE(clinic_id, $3),
		    doctor_id = $4,
		    dispatched_at = $5
		WHERE id = $1
		  AND status = $6
		RETURNING `+emergencyColumns+`
	`, id, amb.ID, amb.ClinicID, doctorID, at, from)

	e, err := scanEmergency(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if _, getErr := r.GetByID(ctx, id); getErr == nil {
				return nil, ErrStale
			}
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

func (r *PgEmergencyRepository) SetDoctorConfirmed(ctx context.Context, id, doctorID uuid.UUID, at time.Time) (*Emergency, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE emergencies
		SET doctor_id = COALESCE(doctor_id, $2),
		    doctor_confirmed_at = $3
		WHERE id = $1
		RETURNING `+emergencyColumns+`
	`, id, doctorID, at)
	return scanEmergency(row)
}

func (r *PgEmergencyRepository) ListActive(ctx context.Context, clinicID *uuid.UUID, limit, offset int) ([]Emergency, error) {
	// needs_attention sorts before everything else regardless of age;
	// within a tier, newest first.
	rows, err := r.pool.Query(ctx, `
		SELECT `+emergencyColumns+`
		FROM emergencies
		WHERE status NOT IN ('completed', 'cancelled')
		  AND ($1::uuid IS NULL OR clinic_id = $1)
		ORDER BY (status = 'needs_attention') DESC, created_at DESC
		LIMIT $2 OFFSET $3
	`, clinicID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectEmergencies(rows)
}

func (r *PgEmergencyRepository) FindStalePending(ctx context.Context, cutoff time.Time) ([]Emergency, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+emergencyColumns+`
		FROM emergencies
		WHERE status = 'pending'
		  AND created_at < $1
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectEmergencies(rows)
}

func collectEmergencies(rows pgx.Rows) ([]Emergency, error) {
	var result []Emergency
	for rows.Next() {
		e, err := scanEmergency(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// PgAmbulanceStore implements AmbulanceStore over the ambulances table.
type PgAmbulanceStore struct {
	pool *pgxpool.Pool
}

func NewPgAmbulanceStore(pool *pgxpool.Pool) *PgAmbulanceStore {
	return &PgAmbulanceStore{pool: pool}
}

func scanAmbulance(row pgx.Row) (*Ambulance, error) {
	var a Ambulance
	err := row.Scan(&a.ID, &a.ClinicID, &a.Status, &a.LicensePlate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAmbulanceNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *PgAmbulanceStore) GetByID(ctx context.Context, id uuid.UUID) (*Ambulance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, clinic_id, status, license_plate
		FROM ambulances
		WHERE id = $1
	`, id)
	return scanAmbulance(row)
}

func (s *PgAmbulanceStore) ListAvailable(ctx context.Context, clinicID *uuid.UUID) ([]Ambulance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, clinic_id, status, license_plate
		FROM ambulances
		WHERE status = 'available'
		  AND ($1::uuid IS NULL OR clinic_id = $1)
		ORDER BY license_plate
	`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Ambulance
	for rows.Next() {
		a, err := scanAmbulance(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PgAmbulanceStore) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ambulances
		SET status = 'en_route'
		WHERE id = $1
		  AND status = 'available'
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrAmbulanceUnavailable
	}
	return nil
}

func (s *PgAmbulanceStore) Release(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ambulances
		SET status = 'available'
		WHERE id = $1
		  AND status <> 'available'
	`, id)
	return err
}
