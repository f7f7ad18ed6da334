// Package booking drives the appointment sub-flow: extract scheduling
// preferences, propose slots, and resolve the customer's pick into a
// provider-side appointment.
package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/parleyhq/parley/internal/reasoning"
)

// SchedulingPreferences is what the customer said about when they want the
// appointment. Every field is optional; empty means unstated.
type SchedulingPreferences struct {
	Date        string `json:"date,omitempty"`         // ISO date if the customer named one
	DayOfWeek   string `json:"day_of_week,omitempty"`  // monday..sunday
	TimeOfDay   string `json:"time_of_day,omitempty"`  // morning | afternoon | evening
	DurationMin int    `json:"duration_min,omitempty"`
	Urgency     string `json:"urgency,omitempty"`      // asap | this_week | flexible
	ServiceType string `json:"service_type,omitempty"`
}

// Empty reports whether the customer stated no preference at all.
func (p SchedulingPreferences) Empty() bool {
	return p.Date == "" && p.DayOfWeek == "" && p.TimeOfDay == "" &&
		p.DurationMin == 0 && p.Urgency == "" && p.ServiceType == ""
}

const prefsDescription = `scheduling preferences as:
date (ISO date, only if a concrete date is named),
day_of_week (monday..sunday),
time_of_day (morning, afternoon or evening),
duration_min (number of minutes),
urgency (asap, this_week or flexible),
service_type (what the appointment is for)`

// ExtractPreferences pulls scheduling preferences out of a customer message.
// Unstated fields stay zero; an unusable model response yields empty
// preferences, never an error the caller must branch on separately.
func ExtractPreferences(ctx context.Context, svc *reasoning.Service, text string) (SchedulingPreferences, error) {
	raw, err := svc.Extract(ctx, prefsDescription, text)
	if err != nil {
		return SchedulingPreferences{}, err
	}
	return prefsFromMap(raw), nil
}

func prefsFromMap(m map[string]any) SchedulingPreferences {
	p := SchedulingPreferences{
		Date:        strField(m, "date"),
		DayOfWeek:   strings.ToLower(strField(m, "day_of_week")),
		TimeOfDay:   strings.ToLower(strField(m, "time_of_day")),
		Urgency:     strings.ToLower(strField(m, "urgency")),
		ServiceType: strField(m, "service_type"),
	}
	switch v := m["duration_min"].(type) {
	case float64:
		p.DurationMin = int(v)
	case int:
		p.DurationMin = v
	case string:
		fmt.Sscanf(v, "%d", &p.DurationMin)
	}
	return p
}

func strField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
