package availability

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrTherapistNotFound = errors.New("therapist not found")
	ErrTemplateNotFound  = errors.New("availability template not found")
	ErrOverrideNotFound  = errors.New("availability override not found")
	ErrInvalidDate       = errors.New("invalid date")
	ErrInvalidClock      = errors.New("invalid clock time")
	ErrInvalidRange      = errors.New("invalid date range")
	ErrValidation        = errors.New("validation failed")
)

// MaxRangeDays bounds a single availability query. Larger windows are paged
// by the caller.
const MaxRangeDays = 92

var validSessionTypes = map[string]bool{
	"video":     true,
	"in_person": true,
	"phone":     true,
}

// TherapistDirectory is the slice of the identity domain availability needs.
type TherapistDirectory interface {
	TherapistExists(ctx context.Context, id uuid.UUID) (bool, error)
}

type Service struct {
	templates TemplateRepository
	overrides OverrideRepository
	sessions  ReservationIndex
	directory TherapistDirectory
	log       zerolog.Logger
}

func NewService(templates TemplateRepository, overrides OverrideRepository, sessions ReservationIndex, directory TherapistDirectory, log zerolog.Logger) *Service {
	return &Service{
		templates: templates,
		overrides: overrides,
		sessions:  sessions,
		directory: directory,
		log:       log.With().Str("component", "availability").Logger(),
	}
}

// GenerateAvailability expands the therapist's weekly templates and date
// overrides into bookable slots for [startDate, endDate] and removes slots
// that collide with active sessions. The bool result reports whether the
// conflict filter ran; when the reservation lookup fails the unfiltered
// slots are returned so the calendar still renders.
func (s *Service) GenerateAvailability(ctx context.Context, therapistID uuid.UUID, startDate, endDate string) ([]Slot, bool, error) {
	start, err := ParseDate(startDate)
	if err != nil {
		return nil, false, err
	}
	end, err := ParseDate(endDate)
	if err != nil {
		return nil, false, err
	}
	if end.Before(start) {
		return nil, false, fmt.Errorf("%w: end date precedes start date", ErrInvalidRange)
	}
	if int(end.Sub(start).Hours()/24) >= MaxRangeDays {
		return nil, false, fmt.Errorf("%w: range exceeds %d days", ErrInvalidRange, MaxRangeDays)
	}

	exists, err := s.directory.TherapistExists(ctx, therapistID)
	if err != nil {
		return nil, false, fmt.Errorf("check therapist: %w", err)
	}
	if !exists {
		return nil, false, ErrTherapistNotFound
	}

	templates, err := s.templates.ListByTherapist(ctx, therapistID, false)
	if err != nil {
		return nil, false, fmt.Errorf("load templates: %w", err)
	}
	overrides, err := s.overrides.ListByRange(ctx, therapistID, startDate, endDate)
	if err != nil {
		return nil, false, fmt.Errorf("load overrides: %w", err)
	}

	slots := BuildSlots(therapistID, templates, overrides, start, end)
	if len(slots) == 0 {
		return slots, true, nil
	}

	intervals, err := s.sessions.ActiveIntervals(ctx, therapistID, startDate, endDate)
	if err != nil {
		s.log.Warn().Err(err).
			Str("therapist_id", therapistID.String()).
			Msg("reservation lookup failed, returning unfiltered slots")
		return slots, false, nil
	}
	return FilterConflicts(slots, intervals), true, nil
}

func (s *Service) CreateTemplate(ctx context.Context, t *Template) error {
	if err := s.validateTemplate(t); err != nil {
		return err
	}
	exists, err := s.directory.TherapistExists(ctx, t.TherapistID)
	if err != nil {
		return fmt.Errorf("check therapist: %w", err)
	}
	if !exists {
		return ErrTherapistNotFound
	}
	t.Active = true
	return s.templates.Create(ctx, t)
}

func (s *Service) UpdateTemplate(ctx context.Context, t *Template) error {
	if t.ID == uuid.Nil {
		return fmt.Errorf("%w: template id is required", ErrValidation)
	}
	existing, err := s.templates.GetByID(ctx, t.ID)
	if err != nil {
		return err
	}
	t.TherapistID = existing.TherapistID
	if err := s.validateTemplate(t); err != nil {
		return err
	}
	return s.templates.Update(ctx, t)
}

func (s *Service) DeactivateTemplate(ctx context.Context, id uuid.UUID) error {
	return s.templates.Deactivate(ctx, id)
}

func (s *Service) ListTemplates(ctx context.Context, therapistID uuid.UUID, includeInactive bool) ([]*Template, error) {
	return s.templates.ListByTherapist(ctx, therapistID, includeInactive)
}

func (s *Service) validateTemplate(t *Template) error {
	if t.TherapistID == uuid.Nil {
		return fmt.Errorf("%w: therapist id is required", ErrValidation)
	}
	if t.DayOfWeek < 0 || t.DayOfWeek > 6 {
		return fmt.Errorf("%w: day of week must be between 0 and 6", ErrValidation)
	}
	startMin, err := ParseClock(t.StartTime)
	if err != nil {
		return err
	}
	endMin, err := ParseClock(t.EndTime)
	if err != nil {
		return err
	}
	if endMin <= startMin {
		return fmt.Errorf("%w: end time must follow start time", ErrInvalidClock)
	}
	if t.SlotDuration <= 0 {
		t.SlotDuration = DefaultSlotDuration
	}
	if t.SlotDuration > endMin-startMin {
		return fmt.Errorf("%w: slot duration exceeds the template window", ErrValidation)
	}
	if t.SessionType == "" {
		t.SessionType = "video"
	}
	if !validSessionTypes[t.SessionType] {
		return fmt.Errorf("%w: invalid session type %q", ErrValidation, t.SessionType)
	}
	if t.MaxConcurrent <= 0 {
		t.MaxConcurrent = 1
	}
	return nil
}

// PutOverride records the single exception for (therapist, date). An open
// override must carry its own window; a blocked one only a date.
func (s *Service) PutOverride(ctx context.Context, o *Override) error {
	if o.TherapistID == uuid.Nil {
		return fmt.Errorf("%w: therapist id is required", ErrValidation)
	}
	if _, err := ParseDate(o.Date); err != nil {
		return err
	}
	if o.IsAvailable {
		if o.StartTime == nil || o.EndTime == nil {
			return fmt.Errorf("%w: an available override requires start and end times", ErrValidation)
		}
		startMin, err := ParseClock(*o.StartTime)
		if err != nil {
			return err
		}
		endMin, err := ParseClock(*o.EndTime)
		if err != nil {
			return err
		}
		if endMin <= startMin {
			return fmt.Errorf("%w: end time must follow start time", ErrInvalidClock)
		}
		if o.SlotDuration != nil && *o.SlotDuration <= 0 {
			return fmt.Errorf("%w: slot duration must be positive", ErrValidation)
		}
	}
	exists, err := s.directory.TherapistExists(ctx, o.TherapistID)
	if err != nil {
		return fmt.Errorf("check therapist: %w", err)
	}
	if !exists {
		return ErrTherapistNotFound
	}
	return s.overrides.Upsert(ctx, o)
}

func (s *Service) GetOverride(ctx context.Context, therapistID uuid.UUID, date string) (*Override, error) {
	if _, err := ParseDate(date); err != nil {
		return nil, err
	}
	return s.overrides.GetByDate(ctx, therapistID, date)
}

func (s *Service) ListOverrides(ctx context.Context, therapistID uuid.UUID, startDate, endDate string) ([]*Override, error) {
	if _, err := ParseDate(startDate); err != nil {
		return nil, err
	}
	if _, err := ParseDate(endDate); err != nil {
		return nil, err
	}
	return s.overrides.ListByRange(ctx, therapistID, startDate, endDate)
}

func (s *Service) DeleteOverride(ctx context.Context, therapistID uuid.UUID, date string) error {
	if _, err := ParseDate(date); err != nil {
		return err
	}
	return s.overrides.Delete(ctx, therapistID, date)
}
