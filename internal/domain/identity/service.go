package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	therapists TherapistRepository
	patients   PatientRepository
}

func NewService(therapists TherapistRepository, patients PatientRepository) *Service {
	return &Service{therapists: therapists, patients: patients}
}

// -- Therapist --

func (s *Service) CreateTherapist(ctx context.Context, t *Therapist) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(t.Email) == "" {
		return fmt.Errorf("email is required")
	}
	if t.Timezone == "" {
		t.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(t.Timezone); err != nil {
		return fmt.Errorf("invalid timezone: %s", t.Timezone)
	}
	t.Active = true
	return s.therapists.Create(ctx, t)
}

func (s *Service) GetTherapist(ctx context.Context, id uuid.UUID) (*Therapist, error) {
	return s.therapists.GetByID(ctx, id)
}

func (s *Service) TherapistExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.therapists.Exists(ctx, id)
}

func (s *Service) ListTherapists(ctx context.Context, limit, offset int) ([]*Therapist, int, error) {
	return s.therapists.List(ctx, limit, offset)
}

// -- Patient --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return fmt.Errorf("email is required")
	}
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) PatientExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.patients.Exists(ctx, id)
}
