package engine

import (
	"github.com/parleyhq/parley/pkg/schema"
)

// ValidSessionTransitions defines the allowed session lifecycle moves.
var ValidSessionTransitions = map[schema.SessionStatus][]schema.SessionStatus{
	schema.SessionStatusActive: {schema.SessionStatusEnded},
	schema.SessionStatusEnded:  {},
}

// ValidBookingTransitions defines the allowed booking lifecycle moves.
var ValidBookingTransitions = map[schema.BookingStatus][]schema.BookingStatus{
	schema.BookingStatusProposed:  {schema.BookingStatusConfirmed, schema.BookingStatusFailed},
	schema.BookingStatusConfirmed: {},
	schema.BookingStatusFailed:    {},
}

// CheckSessionTransition validates a session status move.
func CheckSessionTransition(sessionID string, from, to schema.SessionStatus) error {
	if !transitionAllowed(ValidSessionTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid session transition: %s -> %s", from, to).
			WithDetails(map[string]any{"session_id": sessionID})
	}
	return nil
}

// CheckBookingTransition validates a booking status move.
func CheckBookingTransition(bookingID string, from, to schema.BookingStatus) error {
	if !transitionAllowed(ValidBookingTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid booking transition: %s -> %s", from, to).
			WithDetails(map[string]any{"booking_id": bookingID})
	}
	return nil
}

func transitionAllowed[T comparable](allowed []T, to T) bool {
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}
