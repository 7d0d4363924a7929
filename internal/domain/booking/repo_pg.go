package booking

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/therabook/therabook/internal/domain/availability"
	"github.com/therabook/therabook/internal/platform/db"
	"github.com/therabook/therabook/pkg/pagination"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const sessionCols = `id, patient_id, therapist_id, to_char(session_date, 'YYYY-MM-DD'),
	start_time, start_minute, duration_minutes, session_type, status, credit_cost,
	idempotency_key, cancel_reason, created_at, updated_at`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.PatientID, &s.TherapistID, &s.Date,
		&s.StartTime, &s.StartMinute, &s.Duration, &s.SessionType, &s.Status,
		&s.CreditCost, &s.IdempotencyKey, &s.CancelReason, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *repoPG) Create(ctx context.Context, s *Session) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO sessions (id, patient_id, therapist_id, session_date, start_time,
			start_minute, duration_minutes, session_type, status, credit_cost, idempotency_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		s.ID, s.PatientID, s.TherapistID, s.Date, s.StartTime,
		s.StartMinute, s.Duration, s.SessionType, s.Status, s.CreditCost, s.IdempotencyKey)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	s, err := scanSession(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return s, err
}

// GetByIdempotencyKey ignores cancelled sessions: a cancellation releases
// the key, so the same request can book the slot again.
func (r *repoPG) GetByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Session, error) {
	s, err := scanSession(r.conn(ctx).QueryRow(ctx,
		`SELECT `+sessionCols+` FROM sessions
		WHERE patient_id = $1 AND idempotency_key = $2 AND status <> 'cancelled'`,
		patientID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	return s, err
}

// AnyOverlap reports whether an active session for the therapist intersects
// the half-open minute window [startMinute, endMinute) on the given date.
// The sessions table carries an exclusion constraint enforcing the same
// rule; this query keeps the common collision off the constraint path.
func (r *repoPG) AnyOverlap(ctx context.Context, therapistID uuid.UUID, date string, startMinute, endMinute int) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM sessions
			WHERE therapist_id = $1
			  AND session_date = $2
			  AND status IN ('scheduled', 'confirmed', 'in_progress')
			  AND start_minute < $4
			  AND start_minute + duration_minutes > $3
		)`, therapistID, date, startMinute, endMinute).Scan(&exists)
	return exists, err
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status string, cancelReason *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE sessions SET status = $2, cancel_reason = $3, updated_at = NOW()
		WHERE id = $1`, id, status, cancelReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status string, p pagination.Params) ([]*Session, int, error) {
	where := `WHERE patient_id = $1`
	args := []interface{}{patientID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}
	return r.list(ctx, where, args, p)
}

func (r *repoPG) ListByTherapist(ctx context.Context, therapistID uuid.UUID, date string, p pagination.Params) ([]*Session, int, error) {
	where := `WHERE therapist_id = $1`
	args := []interface{}{therapistID}
	if date != "" {
		where += ` AND session_date = $2`
		args = append(args, date)
	}
	return r.list(ctx, where, args, p)
}

func (r *repoPG) list(ctx context.Context, where string, args []interface{}, p pagination.Params) ([]*Session, int, error) {
	c := r.conn(ctx)

	var total int
	if err := c.QueryRow(ctx, `SELECT COUNT(*) FROM sessions `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limitPos := len(args) + 1
	query := `SELECT ` + sessionCols + ` FROM sessions ` + where +
		` ORDER BY session_date DESC, start_minute DESC` +
		` LIMIT $` + strconv.Itoa(limitPos) + ` OFFSET $` + strconv.Itoa(limitPos+1)
	args = append(args, p.Limit, p.Offset)

	rows, err := c.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, s)
	}
	return sessions, total, rows.Err()
}

func (r *repoPG) ActiveIntervals(ctx context.Context, therapistID uuid.UUID, startDate, endDate string) ([]availability.Interval, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT to_char(session_date, 'YYYY-MM-DD'), start_minute, start_minute + duration_minutes
		FROM sessions
		WHERE therapist_id = $1
		  AND session_date BETWEEN $2 AND $3
		  AND status IN ('scheduled', 'confirmed', 'in_progress')
		ORDER BY session_date, start_minute`, therapistID, startDate, endDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intervals []availability.Interval
	for rows.Next() {
		var iv availability.Interval
		if err := rows.Scan(&iv.Date, &iv.StartMinute, &iv.EndMinute); err != nil {
			return nil, err
		}
		intervals = append(intervals, iv)
	}
	return intervals, rows.Err()
}
