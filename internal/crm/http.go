package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/resilience"
	"github.com/parleyhq/parley/pkg/schema"
)

const (
	defaultMaxResponseBody = 1 * 1024 * 1024 // 1MB
	defaultTimeout         = 30 * time.Second

	crmTarget = "crm"
)

// HTTPConfig configures the HTTP provider client.
type HTTPConfig struct {
	BaseURL         string
	Token           string
	Timeout         time.Duration
	MaxResponseBody int64
}

// HTTPClient talks to the provider's REST API with bearer auth, bounded
// response reads, and a circuit breaker shared with the other upstreams.
type HTTPClient struct {
	cfg      HTTPConfig
	http     *http.Client
	breakers *resilience.CircuitBreakerRegistry
	logger   *slog.Logger
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithBreakers shares a circuit breaker registry across clients.
func WithBreakers(reg *resilience.CircuitBreakerRegistry) HTTPOption {
	return func(c *HTTPClient) { c.breakers = reg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(c *HTTPClient) { c.logger = logger }
}

// WithHTTPClient substitutes the underlying transport, mainly for tests.
func WithHTTPClient(h *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.http = h }
}

// NewHTTPClient builds a provider client. Missing credentials are a
// NOT_CONFIGURED error so the caller can fall back to the simulated client.
func NewHTTPClient(cfg HTTPConfig, opts ...HTTPOption) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, schema.NewError(schema.ErrCodeNotConfigured, "no CRM base URL configured")
	}
	if cfg.Token == "" {
		return nil, schema.NewError(schema.ErrCodeNotConfigured, "no CRM token configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	c := &HTTPClient{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		breakers: resilience.NewCircuitBreakerRegistry(resilience.DefaultCircuitBreakerConfig()),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListCalendars fetches the bookable calendars.
func (c *HTTPClient) ListCalendars(ctx context.Context) ([]Calendar, error) {
	var out struct {
		Calendars []Calendar `json:"calendars"`
	}
	if err := c.call(ctx, http.MethodGet, "/calendars", nil, &out); err != nil {
		return nil, err
	}
	return out.Calendars, nil
}

// CreateAppointment books a slot on the provider calendar. Success here is
// the authoritative booking confirmation.
func (c *HTTPClient) CreateAppointment(ctx context.Context, calendarID, contactID string, start, end time.Time, title string) (*Appointment, error) {
	body := map[string]any{
		"calendar_id": calendarID,
		"contact_id":  contactID,
		"start":       start.Format(time.RFC3339),
		"end":         end.Format(time.RFC3339),
		"title":       title,
	}
	var appt Appointment
	if err := c.call(ctx, http.MethodPost, "/appointments", body, &appt); err != nil {
		return nil, err
	}
	if appt.ID == "" {
		return nil, schema.NewError(schema.ErrCodeProvider, "appointment created without an ID")
	}
	appt.CalendarID = calendarID
	appt.ContactID = contactID
	appt.Start = start
	appt.End = end
	return &appt, nil
}

// AddTags attaches tags to a contact. Adding an existing tag is a no-op
// provider-side.
func (c *HTTPClient) AddTags(ctx context.Context, contactID string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	path := fmt.Sprintf("/contacts/%s/tags", url.PathEscape(contactID))
	return c.call(ctx, http.MethodPost, path, map[string]any{"tags": tags}, nil)
}

// UpdateContact patches contact fields.
func (c *HTTPClient) UpdateContact(ctx context.Context, contactID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	path := fmt.Sprintf("/contacts/%s", url.PathEscape(contactID))
	return c.call(ctx, http.MethodPut, path, fields, nil)
}

// SendWebhook posts a JSON payload to an external URL. Webhook hosts get
// their own breaker target so a dead webhook cannot open the CRM circuit.
func (c *HTTPClient) SendWebhook(ctx context.Context, rawURL string, payload json.RawMessage) error {
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid webhook url %q", rawURL)
	}

	target := "webhook:" + u.Host
	if err := c.breakers.AllowRequest(target); err != nil {
		return err
	}

	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return schema.NewError(schema.ErrCodeExecution, "failed to build webhook request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.breakers.RecordFailure(target)
		return schema.NewErrorf(schema.ErrCodeProvider, "webhook delivery failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, c.cfg.MaxResponseBody))

	if resp.StatusCode >= 400 {
		c.breakers.RecordFailure(target)
		return schema.NewErrorf(schema.ErrCodeProvider, "webhook returned %d", resp.StatusCode)
	}
	c.breakers.RecordSuccess(target)
	return nil
}

// call performs a provider API request and decodes the JSON response into
// out (when non-nil). Response reads are capped at MaxResponseBody.
func (c *HTTPClient) call(ctx context.Context, method, path string, body any, out any) error {
	if err := c.breakers.AllowRequest(crmTarget); err != nil {
		return err
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return schema.NewError(schema.ErrCodeExecution, "failed to marshal request body").WithCause(err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return schema.NewError(schema.ErrCodeExecution, "failed to build provider request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breakers.RecordFailure(crmTarget)
		return schema.NewErrorf(schema.ErrCodeProvider, "provider request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBody))
	if err != nil {
		c.breakers.RecordFailure(crmTarget)
		return schema.NewError(schema.ErrCodeProvider, "failed to read provider response").WithCause(err)
	}

	if resp.StatusCode >= 400 {
		c.breakers.RecordFailure(crmTarget)
		c.logger.WarnContext(ctx, "provider call failed",
			"method", method, "path", path, "status", resp.StatusCode)
		return schema.NewErrorf(schema.ErrCodeProvider, "provider returned %d for %s %s",
			resp.StatusCode, method, path).
			WithDetails(map[string]any{"status": resp.StatusCode, "body": truncate(string(data), 500)})
	}
	c.breakers.RecordSuccess(crmTarget)

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return schema.NewError(schema.ErrCodeProvider, "provider returned malformed JSON").WithCause(err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
