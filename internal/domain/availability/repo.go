package availability

import (
	"context"

	"github.com/google/uuid"
)

type TemplateRepository interface {
	Create(ctx context.Context, t *Template) error
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
	Update(ctx context.Context, t *Template) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	ListByTherapist(ctx context.Context, therapistID uuid.UUID, includeInactive bool) ([]*Template, error)
}

type OverrideRepository interface {
	Upsert(ctx context.Context, o *Override) error
	GetByDate(ctx context.Context, therapistID uuid.UUID, date string) (*Override, error)
	ListByRange(ctx context.Context, therapistID uuid.UUID, startDate, endDate string) ([]*Override, error)
	Delete(ctx context.Context, therapistID uuid.UUID, date string) error
}
