package availability

import (
	"time"

	"github.com/google/uuid"
)

// BuildSlots expands weekly templates and date overrides into concrete
// bookable slots for every date in [start, end] (inclusive). An override
// for a date always wins over templates matching that date's weekday: a
// blocked override suppresses the date entirely, an open override replaces
// the template windows with its own. Windows that do not divide evenly by
// the slot duration are truncated, never emitted as a short slot.
func BuildSlots(therapistID uuid.UUID, templates []*Template, overrides []*Override, start, end time.Time) []Slot {
	byDay := make(map[int][]*Template)
	for _, t := range templates {
		if !t.Active {
			continue
		}
		byDay[t.DayOfWeek] = append(byDay[t.DayOfWeek], t)
	}

	byDate := make(map[string]*Override, len(overrides))
	for _, o := range overrides {
		byDate[o.Date] = o
	}

	var slots []Slot
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		date := d.Format(DateLayout)

		if o, ok := byDate[date]; ok {
			if !o.IsAvailable {
				continue
			}
			slots = append(slots, overrideSlots(therapistID, date, o)...)
			continue
		}

		for _, t := range byDay[int(d.Weekday())] {
			slots = append(slots, templateSlots(therapistID, date, t)...)
		}
	}
	return slots
}

func templateSlots(therapistID uuid.UUID, date string, t *Template) []Slot {
	startMin, err := ParseClock(t.StartTime)
	if err != nil {
		return nil
	}
	endMin, err := ParseClock(t.EndTime)
	if err != nil {
		return nil
	}

	capacity := t.MaxConcurrent
	if capacity < 1 {
		capacity = 1
	}

	var slots []Slot
	for _, m := range chunkWindow(startMin, endMin, t.SlotDuration) {
		slots = append(slots, Slot{
			TherapistID: therapistID,
			Date:        date,
			StartTime:   FormatClock(m),
			EndTime:     FormatClock(m + t.SlotDuration),
			Duration:    t.SlotDuration,
			SessionType: t.SessionType,
			Capacity:    capacity,
			Source:      SourceTemplate,
		})
	}
	return slots
}

func overrideSlots(therapistID uuid.UUID, date string, o *Override) []Slot {
	if o.StartTime == nil || o.EndTime == nil {
		return nil
	}
	startMin, err := ParseClock(*o.StartTime)
	if err != nil {
		return nil
	}
	endMin, err := ParseClock(*o.EndTime)
	if err != nil {
		return nil
	}

	duration := DefaultSlotDuration
	if o.SlotDuration != nil && *o.SlotDuration > 0 {
		duration = *o.SlotDuration
	}

	var slots []Slot
	for _, m := range chunkWindow(startMin, endMin, duration) {
		slots = append(slots, Slot{
			TherapistID: therapistID,
			Date:        date,
			StartTime:   FormatClock(m),
			EndTime:     FormatClock(m + duration),
			Duration:    duration,
			Capacity:    1,
			Source:      SourceOverride,
			Reason:      o.Reason,
		})
	}
	return slots
}

// chunkWindow divides the half-open minute window [start, end) into
// duration-sized chunks, dropping any trailing remainder.
func chunkWindow(start, end, duration int) []int {
	if duration <= 0 {
		return nil
	}
	var starts []int
	for m := start; m+duration <= end; m += duration {
		starts = append(starts, m)
	}
	return starts
}
