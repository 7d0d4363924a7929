package availability

import (
	"context"
	"errors"

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

// =========== Template Repository ===========

type templateRepoPG struct{ pool *pgxpool.Pool }

func NewTemplateRepoPG(pool *pgxpool.Pool) TemplateRepository { return &templateRepoPG{pool: pool} }

func (r *templateRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const templateCols = `id, therapist_id, day_of_week, start_time, end_time,
	slot_duration_minutes, session_type, max_concurrent, active, created_at, updated_at`

func (r *templateRepoPG) scanTemplate(row pgx.Row) (*Template, error) {
	var t Template
	err := row.Scan(&t.ID, &t.TherapistID, &t.DayOfWeek, &t.StartTime, &t.EndTime,
		&t.SlotDuration, &t.SessionType, &t.MaxConcurrent, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *templateRepoPG) Create(ctx context.Context, t *Template) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO availability_templates (id, therapist_id, day_of_week, start_time, end_time,
			slot_duration_minutes, session_type, max_concurrent, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t.ID, t.TherapistID, t.DayOfWeek, t.StartTime, t.EndTime,
		t.SlotDuration, t.SessionType, t.MaxConcurrent, t.Active)
	return err
}

func (r *templateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, err := r.scanTemplate(r.conn(ctx).QueryRow(ctx,
		`SELECT `+templateCols+` FROM availability_templates WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}
	return t, err
}

func (r *templateRepoPG) Update(ctx context.Context, t *Template) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE availability_templates
		SET day_of_week=$2, start_time=$3, end_time=$4, slot_duration_minutes=$5,
			session_type=$6, max_concurrent=$7, active=$8, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.DayOfWeek, t.StartTime, t.EndTime, t.SlotDuration,
		t.SessionType, t.MaxConcurrent, t.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func (r *templateRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE availability_templates SET active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func (r *templateRepoPG) ListByTherapist(ctx context.Context, therapistID uuid.UUID, includeInactive bool) ([]*Template, error) {
	query := `SELECT ` + templateCols + ` FROM availability_templates WHERE therapist_id = $1`
	if !includeInactive {
		query += ` AND active`
	}
	query += ` ORDER BY day_of_week, start_time`

	rows, err := r.conn(ctx).Query(ctx, query, therapistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Template
	for rows.Next() {
		t, err := r.scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

// =========== Override Repository ===========

type overrideRepoPG struct{ pool *pgxpool.Pool }

func NewOverrideRepoPG(pool *pgxpool.Pool) OverrideRepository { return &overrideRepoPG{pool: pool} }

func (r *overrideRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const overrideCols = `id, therapist_id, to_char(override_date, 'YYYY-MM-DD'), is_available,
	start_time, end_time, slot_duration_minutes, reason, created_at, updated_at`

func (r *overrideRepoPG) scanOverride(row pgx.Row) (*Override, error) {
	var o Override
	err := row.Scan(&o.ID, &o.TherapistID, &o.Date, &o.IsAvailable,
		&o.StartTime, &o.EndTime, &o.SlotDuration, &o.Reason, &o.CreatedAt, &o.UpdatedAt)
	return &o, err
}

// Upsert writes the single override for (therapist, date), replacing any
// previous one for that date.
func (r *overrideRepoPG) Upsert(ctx context.Context, o *Override) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO availability_overrides (id, therapist_id, override_date, is_available,
			start_time, end_time, slot_duration_minutes, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (therapist_id, override_date) DO UPDATE
		SET is_available = EXCLUDED.is_available,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			slot_duration_minutes = EXCLUDED.slot_duration_minutes,
			reason = EXCLUDED.reason,
			updated_at = NOW()`,
		o.ID, o.TherapistID, o.Date, o.IsAvailable,
		o.StartTime, o.EndTime, o.SlotDuration, o.Reason)
	return err
}

func (r *overrideRepoPG) GetByDate(ctx context.Context, therapistID uuid.UUID, date string) (*Override, error) {
	o, err := r.scanOverride(r.conn(ctx).QueryRow(ctx,
		`SELECT `+overrideCols+` FROM availability_overrides
		WHERE therapist_id = $1 AND override_date = $2`, therapistID, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOverrideNotFound
	}
	return o, err
}

func (r *overrideRepoPG) ListByRange(ctx context.Context, therapistID uuid.UUID, startDate, endDate string) ([]*Override, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+overrideCols+` FROM availability_overrides
		WHERE therapist_id = $1 AND override_date BETWEEN $2 AND $3
		ORDER BY override_date`, therapistID, startDate, endDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Override
	for rows.Next() {
		o, err := r.scanOverride(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

func (r *overrideRepoPG) Delete(ctx context.Context, therapistID uuid.UUID, date string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM availability_overrides WHERE therapist_id = $1 AND override_date = $2`,
		therapistID, date)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOverrideNotFound
	}
	return nil
}
