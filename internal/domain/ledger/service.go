package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/therabook/therabook/internal/platform/db"
	"github.com/therabook/therabook/pkg/pagination"
)

var ErrPatientNotFound = errors.New("patient not found")

// PatientDirectory is the slice of the identity domain the ledger needs.
type PatientDirectory interface {
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}

type Service struct {
	repo      Repository
	directory PatientDirectory
	tx        db.TxRunner
	log       zerolog.Logger
}

func NewService(repo Repository, directory PatientDirectory, tx db.TxRunner, log zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		tx:        tx,
		log:       log.With().Str("component", "ledger").Logger(),
	}
}

// Credit adds purchased or granted credits to the patient's balance.
func (s *Service) Credit(ctx context.Context, patientID uuid.UUID, amount int, reason string) (*Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if reason == "" {
		reason = ReasonPurchase
	}
	if reason != ReasonPurchase && reason != ReasonAdjustment {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReason, reason)
	}

	exists, err := s.directory.PatientExists(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("check patient: %w", err)
	}
	if !exists {
		return nil, ErrPatientNotFound
	}

	var entry *Entry
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		entry, err = Apply(ctx, s.repo, patientID, amount, reason, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("patient_id", patientID.String()).
		Int("amount", amount).
		Int("balance", entry.BalanceAfter).
		Str("reason", reason).
		Msg("credits added")
	return entry, nil
}

func (s *Service) Balance(ctx context.Context, patientID uuid.UUID) (int, error) {
	exists, err := s.directory.PatientExists(ctx, patientID)
	if err != nil {
		return 0, fmt.Errorf("check patient: %w", err)
	}
	if !exists {
		return 0, ErrPatientNotFound
	}
	return s.repo.Balance(ctx, patientID)
}

func (s *Service) History(ctx context.Context, patientID uuid.UUID, p pagination.Params) ([]*Entry, int, error) {
	exists, err := s.directory.PatientExists(ctx, patientID)
	if err != nil {
		return nil, 0, fmt.Errorf("check patient: %w", err)
	}
	if !exists {
		return nil, 0, ErrPatientNotFound
	}
	return s.repo.ListByPatient(ctx, patientID, p)
}
