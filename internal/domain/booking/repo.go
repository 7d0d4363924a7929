package booking

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/therabook/therabook/internal/domain/availability"
	"github.com/therabook/therabook/pkg/pagination"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrTherapistNotFound   = errors.New("therapist not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrSlotUnavailable     = errors.New("slot is not available")
	ErrConcurrencyConflict = errors.New("booking conflicted with a concurrent request")
	ErrInvalidTransition   = errors.New("invalid session status transition")
	ErrWrongPatient        = errors.New("session belongs to a different patient")
	ErrNotCancellable      = errors.New("session can no longer be cancelled")
	ErrValidation          = errors.New("validation failed")
)

// Repository persists sessions. It doubles as the availability package's
// reservation index via ActiveIntervals.
type Repository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetByIdempotencyKey(ctx context.Context, patientID uuid.UUID, key string) (*Session, error)
	AnyOverlap(ctx context.Context, therapistID uuid.UUID, date string, startMinute, endMinute int) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, cancelReason *string) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, status string, p pagination.Params) ([]*Session, int, error)
	ListByTherapist(ctx context.Context, therapistID uuid.UUID, date string, p pagination.Params) ([]*Session, int, error)
	ActiveIntervals(ctx context.Context, therapistID uuid.UUID, startDate, endDate string) ([]availability.Interval, error)
}
