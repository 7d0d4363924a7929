package booking

import (
	"time"

	"github.com/google/uuid"
)

// Session statuses.
const (
	StatusScheduled  = "scheduled"
	StatusConfirmed  = "confirmed"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// validStatusTransitions maps a current status to the statuses a session
// may move into. Cancellation is excluded here: it carries a refund and
// runs through CancelSession only.
// Confirmation is an optional step, so a scheduled session may start
// directly.
var validStatusTransitions = map[string][]string{
	StatusScheduled:  {StatusConfirmed, StatusInProgress},
	StatusConfirmed:  {StatusInProgress},
	StatusInProgress: {StatusCompleted},
}

// activeStatuses are the statuses that hold a therapist's time. The
// session exclusion constraint and the conflict filter both key off this
// set.
var activeStatuses = map[string]bool{
	StatusScheduled:  true,
	StatusConfirmed:  true,
	StatusInProgress: true,
}

var validSessionTypes = map[string]bool{
	"video":     true,
	"in_person": true,
	"phone":     true,
}

// Session maps to the sessions table: a booked appointment between a
// patient and a therapist. Times are wall-clock: a calendar date plus
// minutes since midnight.
type Session struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PatientID      uuid.UUID `db:"patient_id" json:"patient_id"`
	TherapistID    uuid.UUID `db:"therapist_id" json:"therapist_id"`
	Date           string    `db:"session_date" json:"date"`       // "YYYY-MM-DD"
	StartTime      string    `db:"start_time" json:"start_time"`   // "HH:MM"
	StartMinute    int       `db:"start_minute" json:"-"`
	Duration       int       `db:"duration_minutes" json:"duration_minutes"`
	SessionType    string    `db:"session_type" json:"session_type"`
	Status         string    `db:"status" json:"status"`
	CreditCost     int       `db:"credit_cost" json:"credit_cost"`
	IdempotencyKey string    `db:"idempotency_key" json:"-"`
	CancelReason   *string   `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Active reports whether the session still holds its slot.
func (s *Session) Active() bool {
	return activeStatuses[s.Status]
}

// BookingRequest carries everything needed to book a slot. IdempotencyKey
// is optional; when absent the coordinator derives a deterministic one
// from the request shape.
type BookingRequest struct {
	PatientID      uuid.UUID `json:"patient_id"`
	TherapistID    uuid.UUID `json:"therapist_id"`
	Date           string    `json:"date"`
	StartTime      string    `json:"start_time"`
	Duration       int       `json:"duration_minutes"`
	SessionType    string    `json:"session_type"`
	IdempotencyKey string    `json:"-"`
}
