package identity

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/therabook/therabook/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Therapist Repository ===========

type therapistRepoPG struct{ pool *pgxpool.Pool }

func NewTherapistRepoPG(pool *pgxpool.Pool) TherapistRepository { return &therapistRepoPG{pool: pool} }

func (r *therapistRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const therapistCols = `id, name, email, timezone, active, created_at`

func (r *therapistRepoPG) scanTherapist(row pgx.Row) (*Therapist, error) {
	var t Therapist
	err := row.Scan(&t.ID, &t.Name, &t.Email, &t.Timezone, &t.Active, &t.CreatedAt)
	return &t, err
}

func (r *therapistRepoPG) Create(ctx context.Context, t *Therapist) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO therapists (id, name, email, timezone, active)
		VALUES ($1,$2,$3,$4,$5)`,
		t.ID, t.Name, t.Email, t.Timezone, t.Active)
	return err
}

func (r *therapistRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Therapist, error) {
	return r.scanTherapist(r.conn(ctx).QueryRow(ctx, `SELECT `+therapistCols+` FROM therapists WHERE id = $1`, id))
}

func (r *therapistRepoPG) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM therapists WHERE id = $1 AND active)`, id).Scan(&exists)
	return exists, err
}

func (r *therapistRepoPG) List(ctx context.Context, limit, offset int) ([]*Therapist, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM therapists WHERE active`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+therapistCols+` FROM therapists WHERE active ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Therapist
	for rows.Next() {
		t, err := r.scanTherapist(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, nil
}

// =========== Patient Repository ===========

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `id, name, email, created_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt)
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patients (id, name, email)
		VALUES ($1,$2,$3)`,
		p.ID, p.Name, p.Email)
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
}

func (r *patientRepoPG) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}
