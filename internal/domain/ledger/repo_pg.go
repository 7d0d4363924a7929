package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

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

// BalanceForUpdate locks the patient's balance row, creating the zero row
// first if the patient has never held credits.
func (r *repoPG) BalanceForUpdate(ctx context.Context, patientID uuid.UUID) (int, error) {
	c := r.conn(ctx)
	if _, err := c.Exec(ctx, `
		INSERT INTO credit_balances (patient_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (patient_id) DO NOTHING`, patientID); err != nil {
		return 0, err
	}
	var balance int
	err := c.QueryRow(ctx,
		`SELECT balance FROM credit_balances WHERE patient_id = $1 FOR UPDATE`,
		patientID).Scan(&balance)
	return balance, err
}

func (r *repoPG) SetBalance(ctx context.Context, patientID uuid.UUID, balance int) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE credit_balances SET balance = $2, updated_at = NOW()
		WHERE patient_id = $1`, patientID, balance)
	return err
}

func (r *repoPG) Append(ctx context.Context, e *Entry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO credit_ledger (id, patient_id, delta, balance_after, session_id, reason)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.PatientID, e.Delta, e.BalanceAfter, e.SessionID, e.Reason)
	return err
}

func (r *repoPG) Balance(ctx context.Context, patientID uuid.UUID) (int, error) {
	var balance int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE((SELECT balance FROM credit_balances WHERE patient_id = $1), 0)`,
		patientID).Scan(&balance)
	return balance, err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, p pagination.Params) ([]*Entry, int, error) {
	c := r.conn(ctx)

	var total int
	if err := c.QueryRow(ctx,
		`SELECT COUNT(*) FROM credit_ledger WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := c.Query(ctx, `
		SELECT id, patient_id, delta, balance_after, session_id, reason, created_at
		FROM credit_ledger
		WHERE patient_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, patientID, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.PatientID, &e.Delta, &e.BalanceAfter,
			&e.SessionID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		entries = append(entries, &e)
	}
	return entries, total, rows.Err()
}
