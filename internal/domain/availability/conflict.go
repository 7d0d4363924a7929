package availability

import (
	"context"

	"github.com/google/uuid"
)

// Interval is a reserved stretch of a therapist's day, in minutes since
// midnight, half-open.
type Interval struct {
	Date        string
	StartMinute int
	EndMinute   int
}

// ReservationIndex reports the committed, non-cancelled sessions for a
// therapist between two dates (inclusive). The booking domain provides the
// implementation.
type ReservationIndex interface {
	ActiveIntervals(ctx context.Context, therapistID uuid.UUID, startDate, endDate string) ([]Interval, error)
}

// Overlaps reports whether the half-open minute intervals [aStart, aEnd)
// and [bStart, bEnd) intersect. Back-to-back intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && aEnd > bStart
}

// FilterConflicts returns only the slots that do not overlap any reserved
// interval on the same date. Reservations are per therapist; cross-therapist
// collisions are not this package's concern.
func FilterConflicts(slots []Slot, reserved []Interval) []Slot {
	if len(reserved) == 0 {
		return slots
	}

	byDate := make(map[string][]Interval, len(reserved))
	for _, iv := range reserved {
		byDate[iv.Date] = append(byDate[iv.Date], iv)
	}

	filtered := make([]Slot, 0, len(slots))
	for _, s := range slots {
		start, err := ParseClock(s.StartTime)
		if err != nil {
			continue
		}
		end := start + s.Duration

		conflict := false
		for _, iv := range byDate[s.Date] {
			if Overlaps(start, end, iv.StartMinute, iv.EndMinute) {
				conflict = true
				break
			}
		}
		if !conflict {
			filtered = append(filtered, s)
		}
	}
	return filtered
}
