package adapter

import (
	"context"
	"sync"

	"github.com/lab-control/lcc/internal/codec"
)

// Common IEEE 488.2 headers.
const (
	HeaderIdentify  = "*IDN"
	HeaderReset     = "*RST"
	HeaderSelfTest  = "*TST"
	HeaderOPC       = "*OPC"
	HeaderErrorNext = "SYST:ERR"
)

// Facade status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// SCPIInstrument implements Instrument over an Exchanger and offers helpers
// that wrap failures in DeviceError. Model facades embed it.
//
// SCPIInstrument owns the Exchanger; Close closes it.
type SCPIInstrument struct {
	AdapterBase

	x         Exchanger
	closeOnce sync.Once
	closeErr  error
}

// NewSCPIInstrument wraps x for the given slot and model.
func NewSCPIInstrument(id, model string, x Exchanger) *SCPIInstrument {
	return &SCPIInstrument{
		AdapterBase: AdapterBase{InstrumentID: id, Model: model, status: StatusOnline},
		x:           x,
	}
}

// Identify returns the *IDN? response.
func (s *SCPIInstrument) Identify(ctx context.Context) (string, error) {
	raw, err := s.x.RequestString(ctx, codec.Query(HeaderIdentify))
	if err != nil {
		return "", s.Fail("identify", err)
	}
	idn, err := codec.ParseString(raw)
	if err != nil {
		return "", s.Fail("identify", &ExchangeError{Code: ErrProtocol, Command: codec.Query(HeaderIdentify), Err: err})
	}
	return idn, nil
}

// Reset sends *RST.
func (s *SCPIInstrument) Reset(ctx context.Context) error {
	return s.Send(ctx, "reset", codec.Action(HeaderReset))
}

// SelfTest runs *TST? and returns the raw result.
func (s *SCPIInstrument) SelfTest(ctx context.Context) (string, error) {
	raw, err := s.x.RequestString(ctx, codec.Query(HeaderSelfTest))
	if err != nil {
		return "", s.Fail("self test", err)
	}
	return raw, nil
}

// IsOperationComplete reports the *OPC? result.
func (s *SCPIInstrument) IsOperationComplete(ctx context.Context) (bool, error) {
	return s.QueryBool(ctx, "operation complete", codec.Query(HeaderOPC))
}

// NextError pops one entry from the instrument error queue.
func (s *SCPIInstrument) NextError(ctx context.Context) (*SCPIError, error) {
	cmd := codec.Query(HeaderErrorNext)
	raw, err := s.x.RequestString(ctx, cmd)
	if err != nil {
		return nil, s.Fail("read error queue", err)
	}
	entry, err := ParseSCPIError(raw)
	if err != nil {
		return nil, s.Fail("read error queue", &ExchangeError{Code: ErrProtocol, Command: cmd, Err: err})
	}
	return entry, nil
}

// Close closes the owned Exchanger. Subsequent calls return the first
// result.
func (s *SCPIInstrument) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.x.Close()
		s.SetStatus(StatusOffline)
	})
	return s.closeErr
}

// Send executes a set command.
func (s *SCPIInstrument) Send(ctx context.Context, op, cmd string) error {
	if err := s.x.SendCommand(ctx, cmd); err != nil {
		return s.Fail(op, err)
	}
	return nil
}

// QueryDouble executes a query expecting a real number.
func (s *SCPIInstrument) QueryDouble(ctx context.Context, op, cmd string) (float64, error) {
	v, err := s.x.RequestDouble(ctx, cmd)
	if err != nil {
		return 0, s.Fail(op, err)
	}
	return v, nil
}

// QueryBool executes a query expecting 1/0 or ON/OFF.
func (s *SCPIInstrument) QueryBool(ctx context.Context, op, cmd string) (bool, error) {
	v, err := s.x.RequestBool(ctx, cmd)
	if err != nil {
		return false, s.Fail(op, err)
	}
	return v, nil
}

// Fail wraps err in a DeviceError for op.
func (s *SCPIInstrument) Fail(op string, err error) error {
	return &DeviceError{Device: s.Model, Operation: op, Err: err}
}
