package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const staffColumns = `id, user_id, clinic_id, role, name, on_duty`

type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) GetByID(ctx context.Context, id uuid.UUID) (*StaffMember, error) {
	row := d.pool.QueryRow(ctx,
		`SELECT `+staffColumns+` FROM staff_members WHERE id = $1`, id)
	return scanStaff(row)
}

func (d *PgDirectory) ResolveUser(ctx context.Context, userID uuid.UUID) (*StaffMember, error) {
	row := d.pool.QueryRow(ctx,
		`SELECT `+staffColumns+` FROM staff_members WHERE user_id = $1`, userID)
	return scanStaff(row)
}

func (d *PgDirectory) ListOnDuty(ctx context.Context, role StaffRole, clinicID *uuid.UUID, limit, offset int) (Page, error) {
	if limit <= 0 {
		limit = 20
	}
	// Fetch one extra row to learn whether another page exists.
	rows, err := d.pool.Query(ctx,
		`SELECT `+staffColumns+`
		 FROM staff_members
		 WHERE role = $1 AND on_duty
		   AND ($2::uuid IS NULL OR clinic_id = $2)
		 ORDER BY name
		 LIMIT $3 OFFSET $4`,
		string(role), clinicID, limit+1, offset)
	if err != nil {
		return Page{}, fmt.Errorf("list on-duty staff: %w", err)
	}
	defer rows.Close()

	var members []StaffMember
	for rows.Next() {
		var m StaffMember
		if err := rows.Scan(&m.ID, &m.UserID, &m.ClinicID, &m.Role, &m.Name, &m.OnDuty); err != nil {
			return Page{}, fmt.Errorf("scan staff member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}

	next := -1
	if len(members) > limit {
		members = members[:limit]
		next = offset + limit
	}
	return Page{Members: members, NextOffset: next}, nil
}

func scanStaff(row pgx.Row) (*StaffMember, error) {
	var m StaffMember
	err := row.Scan(&m.ID, &m.UserID, &m.ClinicID, &m.Role, &m.Name, &m.OnDuty)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStaffNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan staff member: %w", err)
	}
	return &m, nil
}
