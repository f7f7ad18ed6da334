package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/parleyhq/parley/pkg/schema"
)

// errorBody is the JSON error envelope. Details carry the structured error
// context when available.
type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error to an HTTP status and writes the JSON envelope.
func writeError(w http.ResponseWriter, err error) {
	var flowErr *schema.FlowError
	if !errors.As(err, &flowErr) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error": errorBody{Code: schema.ErrCodeExecution, Message: err.Error()},
		})
		return
	}
	writeJSON(w, statusFor(flowErr.Code), map[string]any{
		"error": errorBody{
			Code:    flowErr.Code,
			Message: flowErr.Message,
			Details: flowErr.Details,
			NodeID:  flowErr.NodeID,
		},
	})
}

// writeBadRequest writes a VALIDATION_ERROR response for malformed input.
func writeBadRequest(w http.ResponseWriter, msg string) {
	writeError(w, schema.NewError(schema.ErrCodeValidation, msg))
}

func statusFor(code string) int {
	switch code {
	case schema.ErrCodeValidation, schema.ErrCodeGraph, schema.ErrCodeInterpolation:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict, schema.ErrCodeVersionConflict, schema.ErrCodeInvalidTransition:
		return http.StatusConflict
	case schema.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case schema.ErrCodeProvider, schema.ErrCodeReasoning, schema.ErrCodeCircuitOpen:
		return http.StatusBadGateway
	case schema.ErrCodeNotConfigured:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
