package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/crm"
	"github.com/parleyhq/parley/internal/reasoning"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/pkg/schema"
)

// Result is the outcome of one booking turn.
type Result struct {
	Reply     string
	Confirmed bool // appointment created provider-side
	Failed    bool // provider rejected the booking
}

// Module runs the two-phase appointment sub-flow. The phase is keyed on
// whether an open (proposed) booking row exists for the (session, node) pair:
// none means initiate, one means resolve the customer's pick.
type Module struct {
	store     store.Store
	crm       crm.Client
	reasoning *reasoning.Service
	avail     Availability
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Module.
type Option func(*Module)

// WithAvailability substitutes the slot source.
func WithAvailability(a Availability) Option {
	return func(m *Module) { m.avail = a }
}

// WithClock pins the clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Module) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Module) { m.logger = logger }
}

// NewModule creates a booking module.
func NewModule(st store.Store, crmClient crm.Client, svc *reasoning.Service, opts ...Option) *Module {
	m := &Module{
		store:     st,
		crm:       crmClient,
		reasoning: svc,
		avail:     &SyntheticAvailability{},
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var digitChoice = regexp.MustCompile(`^[1-9]$`)

// Handle advances the booking sub-flow one turn for the given appointment
// node and returns the reply to send.
func (m *Module) Handle(ctx context.Context, sess *store.Session, nodeID string, cfg *schema.AppointmentConfig, userMsg string) (*Result, error) {
	open, err := m.store.GetOpenBooking(ctx, sess.ID, nodeID)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	if open == nil {
		return m.initiate(ctx, sess, nodeID, cfg, userMsg)
	}
	return m.resolve(ctx, sess, nodeID, cfg, open, userMsg)
}

// initiate extracts preferences, picks a calendar, proposes ranked slots,
// and persists the proposed booking.
func (m *Module) initiate(ctx context.Context, sess *store.Session, nodeID string, cfg *schema.AppointmentConfig, userMsg string) (*Result, error) {
	prefs, err := ExtractPreferences(ctx, m.reasoning, userMsg)
	if err != nil {
		return nil, err
	}

	calendarID, err := m.pickCalendar(ctx, cfg, prefs)
	if err != nil {
		return nil, err
	}

	now := m.now()
	candidates, err := m.avail.CandidateSlots(ctx, calendarID, now, cfg.DefaultDurationMin)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &Result{Reply: "I couldn't find any open times right now. Could you suggest a day that works for you?"}, nil
	}

	slots := rankSlots(candidates, prefs, cfg.MaxOptions, now)
	options, err := json.Marshal(slots)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "failed to encode slot options").WithCause(err)
	}

	b := &store.Booking{
		ID:         uuid.NewString(),
		SessionID:  sess.ID,
		NodeID:     nodeID,
		CalendarID: calendarID,
		Status:     schema.BookingStatusProposed,
		Options:    options,
	}
	if err := m.store.CreateBooking(ctx, b); err != nil {
		return nil, err
	}

	return &Result{Reply: renderSlotList(slots)}, nil
}

// resolve interprets the customer's answer to a proposed slot list.
func (m *Module) resolve(ctx context.Context, sess *store.Session, nodeID string, cfg *schema.AppointmentConfig, open *store.Booking, userMsg string) (*Result, error) {
	var slots []Slot
	if err := json.Unmarshal(open.Options, &slots); err != nil || len(slots) == 0 {
		return nil, schema.NewError(schema.ErrCodeExecution, "open booking has no usable slot options").
			WithNode(nodeID).WithCause(err)
	}

	choice, err := m.pickOption(ctx, slots, userMsg)
	if err != nil {
		return nil, err
	}

	if choice < 0 {
		// No option chosen. Fresh scheduling language restarts the proposal
		// round with new preferences; otherwise nudge for a pick.
		prefs, err := ExtractPreferences(ctx, m.reasoning, userMsg)
		if err != nil {
			return nil, err
		}
		if !prefs.Empty() {
			failed := schema.BookingStatusFailed
			if err := m.store.UpdateBooking(ctx, open.ID, store.BookingPatch{Status: &failed}); err != nil {
				return nil, err
			}
			return m.initiate(ctx, sess, nodeID, cfg, userMsg)
		}
		return &Result{Reply: "No problem. Just reply with the number of the option that works, or tell me another time you'd prefer."}, nil
	}

	slot := slots[choice]
	title := "Appointment"
	appt, err := m.crm.CreateAppointment(ctx, open.CalendarID, sess.ContactID, slot.Start, slot.End, title)
	if err != nil {
		m.logger.ErrorContext(ctx, "appointment creation failed",
			"session_id", sess.ID, "calendar_id", open.CalendarID, "error", err)
		failed := schema.BookingStatusFailed
		if uerr := m.store.UpdateBooking(ctx, open.ID, store.BookingPatch{Status: &failed}); uerr != nil {
			return nil, uerr
		}
		return &Result{
			Reply:  "I wasn't able to lock in that time, it may have just been taken. Would another of the options work?",
			Failed: true,
		}, nil
	}

	confirmed := schema.BookingStatusConfirmed
	patch := store.BookingPatch{
		Status:    &confirmed,
		SlotStart: &slot.Start,
		SlotEnd:   &slot.End,
	}
	if err := m.store.UpdateBooking(ctx, open.ID, patch); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "appointment confirmed",
		"session_id", sess.ID, "appointment_id", appt.ID, "start", slot.Start)
	return &Result{
		Reply:     fmt.Sprintf("You're all set! Your appointment is confirmed for %s.", formatSlot(slot)),
		Confirmed: true,
	}, nil
}

// pickOption maps the customer's message to a 0-based slot index, or -1 when
// no option was chosen. A bare digit is taken literally; anything else goes
// through the classifier.
func (m *Module) pickOption(ctx context.Context, slots []Slot, userMsg string) (int, error) {
	trimmed := strings.TrimSpace(userMsg)
	if digitChoice.MatchString(trimmed) {
		n, _ := strconv.Atoi(trimmed)
		if n >= 1 && n <= len(slots) {
			return n - 1, nil
		}
		return -1, nil
	}

	labels := make([]string, len(slots))
	var described strings.Builder
	for i, sl := range slots {
		labels[i] = fmt.Sprintf("option_%d", i+1)
		fmt.Fprintf(&described, "option_%d: %s\n", i+1, formatSlot(sl))
	}
	question := fmt.Sprintf(
		"Which proposed appointment option does the customer choose?\n%s", described.String())
	answer, err := m.reasoning.Classify(ctx, question, labels, userMsg)
	if err != nil {
		return -1, err
	}
	if answer == "none" {
		return -1, nil
	}
	for i, label := range labels {
		if answer == label {
			return i, nil
		}
	}
	return -1, nil
}

// pickCalendar resolves the calendar to book on: pinned by config, the only
// one available, or the classifier's pick with default-to-first.
func (m *Module) pickCalendar(ctx context.Context, cfg *schema.AppointmentConfig, prefs SchedulingPreferences) (string, error) {
	if cfg.CalendarID != "" {
		return cfg.CalendarID, nil
	}

	cals, err := m.crm.ListCalendars(ctx)
	if err != nil {
		return "", err
	}
	if len(cals) == 0 {
		return "", schema.NewError(schema.ErrCodeNotConfigured, "no calendars available to book on")
	}
	if len(cals) == 1 {
		return cals[0].ID, nil
	}

	labels := make([]string, len(cals))
	for i := range cals {
		labels[i] = strconv.Itoa(i + 1)
	}
	var desc strings.Builder
	for i, cal := range cals {
		fmt.Fprintf(&desc, "%d: %s", i+1, cal.Name)
		if cal.Description != "" {
			fmt.Fprintf(&desc, " (%s)", cal.Description)
		}
		desc.WriteString("\n")
	}
	question := fmt.Sprintf(
		"Which calendar number best fits an appointment for %q?\n%s",
		prefs.ServiceType, desc.String())

	answer, err := m.reasoning.Classify(ctx, question, labels, prefs.ServiceType)
	if err != nil || answer == "none" {
		return cals[0].ID, nil
	}
	if n, convErr := strconv.Atoi(answer); convErr == nil && n >= 1 && n <= len(cals) {
		return cals[n-1].ID, nil
	}
	return cals[0].ID, nil
}

func renderSlotList(slots []Slot) string {
	var b strings.Builder
	b.WriteString("Here are some times that could work:\n")
	for i, sl := range slots {
		fmt.Fprintf(&b, "%d. %s\n", i+1, formatSlot(sl))
	}
	b.WriteString("Just reply with the number that suits you best.")
	return b.String()
}

func formatSlot(sl Slot) string {
	return sl.Start.Format("Monday, January 2 at 3:04 PM")
}

func isNotFound(err error) bool {
	var flowErr *schema.FlowError
	if errors.As(err, &flowErr) {
		return flowErr.Code == schema.ErrCodeNotFound
	}
	return false
}
