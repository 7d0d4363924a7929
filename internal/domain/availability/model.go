package availability

import (
	"time"

	"github.com/google/uuid"
)

// Slot provenance values.
const (
	SourceTemplate = "template"
	SourceOverride = "override"
)

// DefaultSlotDuration is used when an override opens a window without
// naming a slot length.
const DefaultSlotDuration = 60

// Template maps to the availability_templates table: one recurring weekly
// rule for a therapist. Templates are deactivated, never deleted.
type Template struct {
	ID            uuid.UUID `db:"id" json:"id"`
	TherapistID   uuid.UUID `db:"therapist_id" json:"therapist_id"`
	DayOfWeek     int       `db:"day_of_week" json:"day_of_week"` // 0 = Sunday
	StartTime     string    `db:"start_time" json:"start_time"`   // wall clock, "HH:MM"
	EndTime       string    `db:"end_time" json:"end_time"`
	SlotDuration  int       `db:"slot_duration_minutes" json:"slot_duration_minutes"`
	SessionType   string    `db:"session_type" json:"session_type"`
	MaxConcurrent int       `db:"max_concurrent" json:"max_concurrent"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Override maps to the availability_overrides table: a date-specific
// exception that supersedes any template on that date. One row per
// (therapist, date).
type Override struct {
	ID           uuid.UUID `db:"id" json:"id"`
	TherapistID  uuid.UUID `db:"therapist_id" json:"therapist_id"`
	Date         string    `db:"override_date" json:"date"` // "YYYY-MM-DD"
	IsAvailable  bool      `db:"is_available" json:"is_available"`
	StartTime    *string   `db:"start_time" json:"start_time,omitempty"`
	EndTime      *string   `db:"end_time" json:"end_time,omitempty"`
	SlotDuration *int      `db:"slot_duration_minutes" json:"slot_duration_minutes,omitempty"`
	Reason       *string   `db:"reason" json:"reason,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Slot is a computed bookable interval. Slots are produced fresh on every
// generation request and never persisted.
type Slot struct {
	TherapistID uuid.UUID `json:"therapist_id"`
	Date        string    `json:"date"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	Duration    int       `json:"duration_minutes"`
	SessionType string    `json:"session_type,omitempty"`
	Capacity    int       `json:"capacity"`
	Source      string    `json:"source"`
	Reason      *string   `json:"reason,omitempty"`
}
