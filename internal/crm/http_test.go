package crm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/schema"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, Token: "tok-123"})
	require.NoError(t, err)
	return c
}

func TestNewHTTPClient_RequiresConfig(t *testing.T) {
	_, err := NewHTTPClient(HTTPConfig{Token: "t"})
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotConfigured, flowErr.Code)

	_, err = NewHTTPClient(HTTPConfig{BaseURL: "http://x"})
	require.Error(t, err)
}

func TestListCalendars(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calendars", r.URL.Path)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"calendars": []map[string]string{
				{"id": "cal-1", "name": "Showings"},
				{"id": "cal-2", "name": "Consultations"},
			},
		})
	})

	cals, err := c.ListCalendars(context.Background())
	require.NoError(t, err)
	require.Len(t, cals, 2)
	assert.Equal(t, "Showings", cals[0].Name)
}

func TestCreateAppointment(t *testing.T) {
	start := time.Date(2026, 9, 4, 9, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/appointments", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "cal-1", body["calendar_id"])
		assert.Equal(t, "contact-9", body["contact_id"])
		assert.Equal(t, "2026-09-04T09:00:00Z", body["start"])

		json.NewEncoder(w).Encode(map[string]string{"id": "appt-42"})
	})

	appt, err := c.CreateAppointment(context.Background(), "cal-1", "contact-9", start, end, "Property visit")
	require.NoError(t, err)
	assert.Equal(t, "appt-42", appt.ID)
	assert.Equal(t, start, appt.Start)
}

func TestCreateAppointment_MissingIDIsProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	})

	_, err := c.CreateAppointment(context.Background(), "cal-1", "c", time.Now(), time.Now(), "")
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeProvider, flowErr.Code)
}

func TestAddTags(t *testing.T) {
	var got []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/contacts/contact-9/tags", r.URL.Path)
		var body struct {
			Tags []string `json:"tags"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = body.Tags
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, c.AddTags(context.Background(), "contact-9", []string{"vip", "hot_lead"}))
	assert.Equal(t, []string{"vip", "hot_lead"}, got)

	// Empty tag list never hits the wire.
	require.NoError(t, c.AddTags(context.Background(), "contact-9", nil))
}

func TestUpdateContact(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/contacts/contact-9", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"budget": 1500}`, string(body))
	})

	err := c.UpdateContact(context.Background(), "contact-9", map[string]any{"budget": 1500})
	require.NoError(t, err)
}

func TestCall_ErrorStatusIsProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "calendar not found", http.StatusNotFound)
	})

	_, err := c.ListCalendars(context.Background())
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeProvider, flowErr.Code)
	assert.Equal(t, 404, flowErr.Details["status"])
}

func TestSendWebhook(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = string(body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	}))
	defer srv.Close()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	err := c.SendWebhook(context.Background(), srv.URL, json.RawMessage(`{"event":"lead_qualified"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"lead_qualified"}`, got)
}

func TestSendWebhook_InvalidURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	err := c.SendWebhook(context.Background(), "not-a-url", nil)
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
}

func TestSendWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	err := c.SendWebhook(context.Background(), srv.URL, nil)
	require.Error(t, err)
}
