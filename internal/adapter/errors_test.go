package adapter

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifySCPICode(t *testing.T) {
	tests := []struct {
		name string
		code int
		want error
	}{
		{"data out of range", -222, ErrInvalidRange},
		{"settings conflict", -221, ErrInvalidRange},
		{"init ignored", -213, ErrBusy},
		{"query interrupted", -410, ErrBusy},
		{"hardware missing", -241, ErrUnavailable},
		{"self-test failed", -330, ErrUnavailable},
		{"undefined header", -113, ErrCommand},
		{"execution error outside table", -200, ErrInternal},
		{"vendor specific positive code", 201, ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifySCPICode(tt.code); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestParseSCPIError(t *testing.T) {
	entry, err := ParseSCPIError("-222,\"Data out of range\"\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Code != -222 || entry.Message != "Data out of range" {
		t.Errorf("Expected -222/Data out of range, got %d/%q", entry.Code, entry.Message)
	}
	if !errors.Is(entry, ErrDevice) || !errors.Is(entry, ErrInvalidRange) {
		t.Errorf("Expected entry to match ErrDevice and ErrInvalidRange")
	}

	entry, err = ParseSCPIError("+0,\"No error\"")
	if err != nil || entry != nil {
		t.Errorf("Expected empty queue to yield nil, got %v, %v", entry, err)
	}

	if _, err := ParseSCPIError("garbage"); !errors.Is(err, ErrProtocol) {
		t.Errorf("Expected ErrProtocol for malformed entry, got %v", err)
	}
}

func TestErrorChains(t *testing.T) {
	cause := fmt.Errorf("read tcp: connection reset")
	xerr := &ExchangeError{Code: ErrCommunication, Command: "MEAS:VOLT?", Err: cause}
	derr := &DeviceError{Device: "N5746A", Operation: "read measured voltage", Err: xerr}

	if !errors.Is(derr, ErrCommunication) {
		t.Errorf("Expected DeviceError to match ErrCommunication")
	}
	if !errors.Is(derr, cause) {
		t.Errorf("Expected original cause to be preserved")
	}

	var got *ExchangeError
	if !errors.As(derr, &got) || got.Command != "MEAS:VOLT?" {
		t.Errorf("Expected ExchangeError with command, got %v", got)
	}

	want := `N5746A: read measured voltage: COMMUNICATION: "MEAS:VOLT?": read tcp: connection reset`
	if derr.Error() != want {
		t.Errorf("Expected %q, got %q", want, derr.Error())
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"timeout", &ExchangeError{Code: ErrTimeout, Command: "FREQ?"}, "TIMEOUT"},
		{"wrapped validation", fmt.Errorf("voltage: %w", ErrValidation), "VALIDATION"},
		{"instrument queue", &SCPIError{Code: -222, Class: ErrInvalidRange}, "DEVICE"},
		{"unknown", errors.New("boom"), "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
