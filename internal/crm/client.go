// Package crm is the boundary to the CRM/calendar provider: contact tagging,
// contact field updates, calendar listing, appointment creation, and outbound
// webhooks.
package crm

import (
	"context"
	"encoding/json"
	"time"
)

// Calendar is a bookable calendar exposed by the provider.
type Calendar struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Appointment is a confirmed provider-side appointment.
type Appointment struct {
	ID         string    `json:"id"`
	CalendarID string    `json:"calendar_id"`
	ContactID  string    `json:"contact_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Title      string    `json:"title,omitempty"`
}

// Client is the provider operation surface the engine's action and booking
// modules depend on. The provider is eventually consistent: a booking is
// authoritative only once CreateAppointment returns without error.
type Client interface {
	ListCalendars(ctx context.Context) ([]Calendar, error)
	CreateAppointment(ctx context.Context, calendarID, contactID string, start, end time.Time, title string) (*Appointment, error)
	AddTags(ctx context.Context, contactID string, tags []string) error
	UpdateContact(ctx context.Context, contactID string, fields map[string]any) error
	SendWebhook(ctx context.Context, url string, payload json.RawMessage) error
}
