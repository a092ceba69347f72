package availability

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanInterval(row pgx.Row) (*BusyInterval, error) {
	var iv BusyInterval
	var reason *string
	var refID *uuid.UUID

	err := row.Scan(
		&iv.ID,
		&iv.DoctorID,
		&iv.Kind,
		&iv.Start,
		&iv.End,
		&reason,
		&refID,
		&iv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIntervalNotFound
		}
		return nil, err
	}

	iv.Reason = reason
	iv.RefID = refID
	return &iv, nil
}

func (r *PgRepository) Insert(ctx context.Context, iv *BusyInterval) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO busy_intervals (id, doctor_id, kind, start_time, end_time, reason, ref_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, iv.ID, iv.DoctorID, iv.Kind, iv.Start, iv.End, iv.Reason, iv.RefID, iv.CreatedAt)
	return err
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*BusyInterval, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, kind, start_time, end_time, reason, ref_id, created_at
		FROM busy_intervals
		WHERE id = $1
	`, id)
	return scanInterval(row)
}

func (r *PgRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM busy_intervals WHERE id = $1`, id)
	return err
}

func (r *PgRepository) ConvertKind(ctx context.Context, id uuid.UUID, from, to IntervalKind) (*BusyInterval, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE busy_intervals
		SET kind = $2
		WHERE id = $1
		  AND kind = $3
		RETURNING id, doctor_id, kind, start_time, end_time, reason, ref_id, created_at
	`, id, to, from)
	return scanInterval(row)
}

func (r *PgRepository) ListOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time, kinds ...IntervalKind) ([]BusyInterval, error) {
	kindFilter := kinds
	if len(kindFilter) == 0 {
		kindFilter = []IntervalKind{KindAppointment, KindHold, KindLeave}
	}
	names := make([]string, len(kindFilter))
	for i, k := range kindFilter {
		names[i] = string(k)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, kind, start_time, end_time, reason, ref_id, created_at
		FROM busy_intervals
		WHERE doctor_id = $1
		  AND start_time < $3
		  AND end_time > $2
		  AND kind = ANY($4)
		ORDER BY start_time
	`, doctorID, start, end, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectIntervals(rows)
}

func (r *PgRepository) ListRange(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]BusyInterval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, kind, start_time, end_time, reason, ref_id, created_at
		FROM busy_intervals
		WHERE doctor_id = $1
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time,
		         CASE kind WHEN 'appointment' THEN 0 WHEN 'hold' THEN 1 ELSE 2 END
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectIntervals(rows)
}

func (r *PgRepository) FindByRef(ctx context.Context, refID uuid.UUID) ([]BusyInterval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, kind, start_time, end_time, reason, ref_id, created_at
		FROM busy_intervals
		WHERE ref_id = $1
		ORDER BY start_time
	`, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectIntervals(rows)
}

func (r *PgRepository) DeleteByRef(ctx context.Context, refID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM busy_intervals WHERE ref_id = $1`, refID)
	return err
}

func collectIntervals(rows pgx.Rows) ([]BusyInterval, error) {
	var result []BusyInterval
	for rows.Next() {
		iv, err := scanInterval(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *iv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
