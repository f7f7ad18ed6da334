package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SimulatedCall records one provider operation for later inspection.
type SimulatedCall struct {
	Op      string
	Payload map[string]any
}

// SimulatedClient is an in-memory provider used by the debug harness and
// tests. Every operation succeeds and is recorded.
type SimulatedClient struct {
	mu        sync.Mutex
	calendars []Calendar
	calls     []SimulatedCall
	failNext  error
}

// NewSimulatedClient creates a simulated provider with one default calendar.
func NewSimulatedClient() *SimulatedClient {
	return &SimulatedClient{
		calendars: []Calendar{
			{ID: "cal-main", Name: "Main Calendar", Description: "General appointments"},
		},
	}
}

// SetCalendars replaces the simulated calendar list.
func (s *SimulatedClient) SetCalendars(cals []Calendar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calendars = cals
}

// FailNext makes the next operation return err, then clears.
func (s *SimulatedClient) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// Calls returns a copy of the recorded operations.
func (s *SimulatedClient) Calls() []SimulatedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SimulatedCall, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *SimulatedClient) record(op string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}
	s.calls = append(s.calls, SimulatedCall{Op: op, Payload: payload})
	return nil
}

func (s *SimulatedClient) ListCalendars(context.Context) ([]Calendar, error) {
	if err := s.record("list_calendars", nil); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Calendar, len(s.calendars))
	copy(out, s.calendars)
	return out, nil
}

func (s *SimulatedClient) CreateAppointment(_ context.Context, calendarID, contactID string, start, end time.Time, title string) (*Appointment, error) {
	err := s.record("create_appointment", map[string]any{
		"calendar_id": calendarID,
		"contact_id":  contactID,
		"start":       start,
		"end":         end,
		"title":       title,
	})
	if err != nil {
		return nil, err
	}
	return &Appointment{
		ID:         fmt.Sprintf("sim-appt-%s", uuid.NewString()[:8]),
		CalendarID: calendarID,
		ContactID:  contactID,
		Start:      start,
		End:        end,
		Title:      title,
	}, nil
}

func (s *SimulatedClient) AddTags(_ context.Context, contactID string, tags []string) error {
	return s.record("add_tags", map[string]any{"contact_id": contactID, "tags": tags})
}

func (s *SimulatedClient) UpdateContact(_ context.Context, contactID string, fields map[string]any) error {
	return s.record("update_contact", map[string]any{"contact_id": contactID, "fields": fields})
}

func (s *SimulatedClient) SendWebhook(_ context.Context, url string, payload json.RawMessage) error {
	var decoded any
	_ = json.Unmarshal(payload, &decoded)
	return s.record("send_webhook", map[string]any{"url": url, "payload": decoded})
}
