package identity

import (
	"context"

	"github.com/google/uuid"
)

type TherapistRepository interface {
	Create(ctx context.Context, t *Therapist) error
	GetByID(ctx context.Context, id uuid.UUID) (*Therapist, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	List(ctx context.Context, limit, offset int) ([]*Therapist, int, error)
}

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}
