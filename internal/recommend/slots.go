package recommend

import (
	"sort"

	"stakeproof/internal/domain"
	"stakeproof/internal/progress"
)

const (
	Morning   = "morning"
	Afternoon = "afternoon"
	Evening   = "evening"
	Night     = "night"
)

const (
	dayStart = 6 * 60
	dayEnd   = 23 * 60
	// MaxSlots bounds the suggestions returned per template.
	MaxSlots = 5
)

// TimeOfDay buckets a minute-of-day: morning 05-12, afternoon 12-17, evening 17-21, else night.
func TimeOfDay(minutes int) string {
	switch h := minutes / 60; {
	case h >= 5 && h < 12:
		return Morning
	case h >= 12 && h < 17:
		return Afternoon
	case h >= 17 && h < 21:
		return Evening
	default:
		return Night
	}
}

// SlotReason is the canned rationale for doing category work at that time of day.
func SlotReason(category, timeOfDay string) string {
	if r, ok := slotReasons[category][timeOfDay]; ok {
		return r
	}
	return defaultSlotReason
}

type interval struct{ start, end int }

// freeIntervals returns gaps of at least required minutes between busy slots
// within 06:00-23:00. Malformed slots are skipped.
func freeIntervals(slots []domain.TimeSlot, required int) []interval {
	var busy []interval
	for _, s := range slots {
		start, err := progress.ParseClock(s.Start)
		if err != nil {
			continue
		}
		end, err := progress.ParseClock(s.End)
		if err != nil {
			continue
		}
		// Only the 06:00-23:00 window matters; busy time outside it is clipped.
		start = max(dayStart, min(start, dayEnd))
		end = max(dayStart, min(end, dayEnd))
		busy = append(busy, interval{start, end})
	}
	sort.SliceStable(busy, func(i, j int) bool { return busy[i].start < busy[j].start })

	var free []interval
	cur := dayStart
	for _, b := range busy {
		if b.start-cur >= required {
			free = append(free, interval{cur, b.start})
		}
		if b.end > cur {
			cur = b.end
		}
	}
	if dayEnd-cur >= required {
		free = append(free, interval{cur, dayEnd})
	}
	return free
}

// SuggestTimeSlots finds up to MaxSlots free windows long enough for t, in schedule order.
func SuggestTimeSlots(t domain.TaskTemplate, schedule []domain.DaySchedule) []domain.TimeSlotSuggestion {
	out := []domain.TimeSlotSuggestion{}
	for _, day := range schedule {
		for _, f := range freeIntervals(day.Slots, t.EstimatedTime) {
			tod := TimeOfDay(f.start)
			out = append(out, domain.TimeSlotSuggestion{
				Day:       day.Day,
				Start:     progress.FormatClock(f.start),
				End:       progress.FormatClock(f.end),
				TimeOfDay: tod,
				Reason:    SlotReason(t.Category, tod),
			})
			if len(out) == MaxSlots {
				return out
			}
		}
	}
	return out
}
