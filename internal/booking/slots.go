package booking

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Slot is one proposable appointment window.
type Slot struct {
	CalendarID string    `json:"calendar_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

// Availability produces candidate slots for a calendar. Implementations may
// query the provider's free/busy data or synthesize windows.
type Availability interface {
	CandidateSlots(ctx context.Context, calendarID string, from time.Time, durationMin int) ([]Slot, error)
}

// SyntheticAvailability proposes two windows per day (09:00 and 14:00 local)
// for the next seven days. It stands in until free/busy lookup against the
// provider calendar is wired up.
type SyntheticAvailability struct {
	// Now is the clock; nil means time.Now. Tests pin it.
	Now func() time.Time
}

const (
	morningHour   = 9
	afternoonHour = 14
	horizonDays   = 7
)

func (s *SyntheticAvailability) CandidateSlots(_ context.Context, calendarID string, from time.Time, durationMin int) ([]Slot, error) {
	now := from
	if now.IsZero() {
		if s.Now != nil {
			now = s.Now()
		} else {
			now = time.Now()
		}
	}
	if durationMin <= 0 {
		durationMin = 30
	}
	dur := time.Duration(durationMin) * time.Minute

	var slots []Slot
	for day := 0; day < horizonDays; day++ {
		date := now.AddDate(0, 0, day)
		for _, hour := range []int{morningHour, afternoonHour} {
			start := time.Date(date.Year(), date.Month(), date.Day(), hour, 0, 0, 0, now.Location())
			if !start.After(now) {
				continue
			}
			slots = append(slots, Slot{CalendarID: calendarID, Start: start, End: start.Add(dur)})
		}
	}
	return slots, nil
}

// rankSlots orders candidate slots by fit against the customer's preferences
// and keeps at most max. Higher score wins; ties keep the earlier slot.
func rankSlots(slots []Slot, prefs SchedulingPreferences, max int, now time.Time) []Slot {
	if max <= 0 {
		max = 3
	}

	type scored struct {
		slot  Slot
		score int
	}
	ranked := make([]scored, 0, len(slots))
	for _, sl := range slots {
		ranked = append(ranked, scored{slot: sl, score: scoreSlot(sl, prefs, now)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].slot.Start.Before(ranked[j].slot.Start)
	})

	if len(ranked) > max {
		ranked = ranked[:max]
	}
	out := make([]Slot, len(ranked))
	for i, r := range ranked {
		out[i] = r.slot
	}
	// Present the kept slots chronologically.
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func scoreSlot(sl Slot, prefs SchedulingPreferences, now time.Time) int {
	score := 0

	switch prefs.TimeOfDay {
	case "morning":
		if sl.Start.Hour() < 12 {
			score += 3
		}
	case "afternoon":
		if sl.Start.Hour() >= 12 && sl.Start.Hour() < 17 {
			score += 3
		}
	case "evening":
		if sl.Start.Hour() >= 17 {
			score += 3
		}
	}

	if prefs.DayOfWeek != "" &&
		strings.EqualFold(sl.Start.Weekday().String(), prefs.DayOfWeek) {
		score += 3
	}

	if prefs.Date != "" {
		if d, err := time.Parse("2006-01-02", prefs.Date); err == nil &&
			d.Year() == sl.Start.Year() && d.YearDay() == sl.Start.YearDay() {
			score += 4
		}
	}

	// Urgent customers get the earliest windows boosted.
	if prefs.Urgency == "asap" {
		hoursOut := int(sl.Start.Sub(now).Hours())
		switch {
		case hoursOut <= 24:
			score += 2
		case hoursOut <= 48:
			score += 1
		}
	}

	return score
}
