package adapter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Normalized container error codes.
var (
	ErrConnection    = errors.New("CONNECTION")
	ErrCommunication = errors.New("COMMUNICATION")
	ErrTimeout       = errors.New("TIMEOUT")
	ErrProtocol      = errors.New("PROTOCOL")
	ErrValidation    = errors.New("VALIDATION")
	ErrDevice        = errors.New("DEVICE")
)

// Instrument error-queue classes. An SCPIError always matches ErrDevice and
// additionally matches exactly one of these.
var (
	ErrInvalidRange = errors.New("INVALID_RANGE")
	ErrBusy         = errors.New("BUSY")
	ErrUnavailable  = errors.New("UNAVAILABLE")
	ErrCommand      = errors.New("COMMAND")
	ErrInternal     = errors.New("INTERNAL")
)

// ExchangeError is returned by the transport and codec layers. It carries the
// command text that was being exchanged and the underlying cause.
type ExchangeError struct {
	Code    error // Normalized container code
	Command string
	Err     error
}

func (e *ExchangeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: %q", e.Code, e.Command)
	}
	return fmt.Sprintf("%v: %q: %v", e.Code, e.Command, e.Err)
}

func (e *ExchangeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Code}
	}
	return []error{e.Code, e.Err}
}

// DeviceError is returned by instrument facades. Operation names the
// high-level action that failed ("set voltage", "read frequency").
type DeviceError struct {
	Device    string
	Operation string
	Err       error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Device, e.Operation, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// SCPIError is one entry read from an instrument error queue, e.g.
// -222,"Data out of range".
type SCPIError struct {
	Code    int
	Message string
	Class   error
}

func (e *SCPIError) Error() string {
	return fmt.Sprintf("%v (instrument: %d,%q)", e.Class, e.Code, e.Message)
}

func (e *SCPIError) Unwrap() []error {
	return []error{ErrDevice, e.Class}
}

// SCPIClass maps an inclusive range of error-queue codes to a class.
type SCPIClass struct {
	Min, Max int
	Class    error
}

// SCPIErrorClasses is the deterministic error-queue mapping table.
//
// Ranges follow IEEE 488.2 / SCPI 1999 chapter 21. The first matching row
// wins, so narrow ranges are listed before the block they sit in. Codes that
// match no row map to INTERNAL. Positive codes are vendor-specific and also
// map to INTERNAL unless a row is added for them.
var SCPIErrorClasses = []SCPIClass{
	{Min: -229, Max: -220, Class: ErrInvalidRange}, // parameter errors, -222 data out of range
	{Min: -215, Max: -210, Class: ErrBusy},         // trigger/init ignored, deadlock
	{Min: -449, Max: -400, Class: ErrBusy},         // query interrupted/unterminated
	{Min: -249, Max: -240, Class: ErrUnavailable},  // hardware error/missing
	{Min: -399, Max: -300, Class: ErrUnavailable},  // device-specific, self-test, queue overflow
	{Min: -199, Max: -100, Class: ErrCommand},      // command syntax, undefined header
}

// ClassifySCPICode returns the class for an error-queue code.
func ClassifySCPICode(code int) error {
	for _, c := range SCPIErrorClasses {
		if code >= c.Min && code <= c.Max {
			return c.Class
		}
	}
	return ErrInternal
}

// ParseSCPIError parses an error-queue response. A zero code ("No error")
// yields a nil entry and a nil error.
func ParseSCPIError(response string) (*SCPIError, error) {
	text := strings.TrimSpace(response)
	codeText, msg, _ := strings.Cut(text, ",")
	code, err := strconv.Atoi(strings.TrimSpace(codeText))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed error-queue entry %q", ErrProtocol, response)
	}
	if code == 0 {
		return nil, nil
	}
	msg = strings.Trim(strings.TrimSpace(msg), `"`)
	return &SCPIError{Code: code, Message: msg, Class: ClassifySCPICode(code)}, nil
}

// codeOrder lists codes from most to least specific for CodeOf.
var codeOrder = []error{
	ErrValidation,
	ErrTimeout,
	ErrConnection,
	ErrCommunication,
	ErrProtocol,
	ErrDevice,
}

// CodeOf returns the normalized code name carried by err, or "INTERNAL" when
// the error is outside the taxonomy. A nil error yields "".
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	for _, code := range codeOrder {
		if errors.Is(err, code) {
			return code.Error()
		}
	}
	return ErrInternal.Error()
}
