package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/therabook/therabook/pkg/pagination"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("credit amount must be positive")
	ErrInvalidReason       = errors.New("invalid ledger reason")
)

var validReasons = map[string]bool{
	ReasonPurchase:   true,
	ReasonBooking:    true,
	ReasonRefund:     true,
	ReasonAdjustment: true,
}

// Repository persists ledger entries and the materialized balance row.
// BalanceForUpdate must lock the balance row for the rest of the enclosing
// transaction; Apply depends on that to serialize concurrent debits.
type Repository interface {
	BalanceForUpdate(ctx context.Context, patientID uuid.UUID) (int, error)
	SetBalance(ctx context.Context, patientID uuid.UUID, balance int) error
	Append(ctx context.Context, e *Entry) error
	Balance(ctx context.Context, patientID uuid.UUID) (int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, p pagination.Params) ([]*Entry, int, error)
}

// Apply posts one signed movement against the patient's balance: lock the
// balance row, reject a debit that would push it negative, then write both
// the entry and the new balance. The caller supplies the transaction via
// ctx; Apply itself never commits.
func Apply(ctx context.Context, repo Repository, patientID uuid.UUID, delta int, reason string, sessionID *uuid.UUID) (*Entry, error) {
	if !validReasons[reason] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}

	balance, err := repo.BalanceForUpdate(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	next := balance + delta
	if next < 0 {
		return nil, ErrInsufficientCredits
	}

	entry := &Entry{
		ID:           uuid.New(),
		PatientID:    patientID,
		Delta:        delta,
		BalanceAfter: next,
		SessionID:    sessionID,
		Reason:       reason,
	}
	if err := repo.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append entry: %w", err)
	}
	if err := repo.SetBalance(ctx, patientID, next); err != nil {
		return nil, fmt.Errorf("write balance: %w", err)
	}
	return entry, nil
}
