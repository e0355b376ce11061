package api

import (
	"errors"
	"net/http"

	"github.com/lab-control/lcc/internal/adapter"
	"github.com/lab-control/lcc/internal/instrument"
	"github.com/lab-control/lcc/internal/units"
)

// APIError represents an API-layer error with HTTP status code.
type APIError struct {
	Code       string
	Message    string
	Details    interface{}
	StatusCode int
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// API error codes for request and lookup conditions
var (
	ErrBadRequest = errors.New("BAD_REQUEST")
	ErrNotFound   = errors.New("NOT_FOUND")
)

// FieldDetail is one entry of a VALIDATION error's details.
type FieldDetail struct {
	Field  string `json:"field"`
	Value  string `json:"value"`
	Unit   string `json:"unit,omitempty"`
	Reason string `json:"reason"`
}

// InstrumentDetail carries an instrument error-queue entry.
type InstrumentDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Class   string `json:"class"`
}

// ToAPIError maps an error onto a status code and envelope code. The most
// specific match wins: caller mistakes, then timeouts, then link failures,
// then instrument-side failures.
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, ErrBadRequest):
		return &APIError{Code: "BAD_REQUEST", Message: err.Error(), StatusCode: http.StatusBadRequest}
	case errors.Is(err, ErrNotFound), errors.Is(err, instrument.ErrUnknownKind):
		return &APIError{Code: "NOT_FOUND", Message: err.Error(), StatusCode: http.StatusNotFound}
	case errors.Is(err, instrument.ErrNotConnected):
		return &APIError{Code: "NOT_CONNECTED", Message: err.Error(), StatusCode: http.StatusConflict}
	case errors.Is(err, adapter.ErrValidation):
		return &APIError{Code: "VALIDATION", Message: "One or more values were rejected",
			Details: validationDetails(err), StatusCode: http.StatusBadRequest}
	case errors.Is(err, adapter.ErrTimeout):
		return &APIError{Code: "TIMEOUT", Message: err.Error(), StatusCode: http.StatusGatewayTimeout}
	case errors.Is(err, adapter.ErrConnection), errors.Is(err, adapter.ErrCommunication):
		return &APIError{Code: "UNAVAILABLE", Message: err.Error(), StatusCode: http.StatusServiceUnavailable}
	case errors.Is(err, adapter.ErrProtocol), errors.Is(err, adapter.ErrDevice):
		return &APIError{Code: "DEVICE_ERROR", Message: err.Error(),
			Details: instrumentDetail(err), StatusCode: http.StatusBadGateway}
	default:
		return &APIError{Code: "INTERNAL", Message: "Internal error", StatusCode: http.StatusInternalServerError}
	}
}

func validationDetails(err error) []FieldDetail {
	var list units.ValidationErrors
	if errors.As(err, &list) {
		out := make([]FieldDetail, 0, len(list))
		for _, ve := range list {
			out = append(out, FieldDetail{Field: ve.Field, Value: ve.Value, Unit: ve.Unit, Reason: ve.Reason})
		}
		return out
	}
	var ve *units.ValidationError
	if errors.As(err, &ve) {
		return []FieldDetail{{Field: ve.Field, Value: ve.Value, Unit: ve.Unit, Reason: ve.Reason}}
	}
	return nil
}

func instrumentDetail(err error) *InstrumentDetail {
	var se *adapter.SCPIError
	if !errors.As(err, &se) {
		return nil
	}
	return &InstrumentDetail{Code: se.Code, Message: se.Message, Class: se.Class.Error()}
}
