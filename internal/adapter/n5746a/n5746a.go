// Package n5746a drives an Agilent/Keysight N5746A programmable DC power
// supply over its LAN SCPI socket.
package n5746a

import (
	"context"

	"github.com/lab-control/lcc/internal/adapter"
	"github.com/lab-control/lcc/internal/codec"
)

// Model is the instrument model string used in errors and status.
const Model = "N5746A"

// Command headers.
const (
	HeaderOutput         = ":OUTP:STAT"
	HeaderVoltage        = "VOLT"
	HeaderCurrentLimit   = "CURR:LEV"
	HeaderOverVoltage    = "VOLT:PROT:LEV"
	HeaderMeasureVoltage = "MEAS:VOLT"
	HeaderMeasureCurrent = "MEAS:CURR"
)

// Device is a PowerSupply facade. It owns its Exchanger.
type Device struct {
	*adapter.SCPIInstrument
}

// New wraps an established Exchanger.
func New(id string, x adapter.Exchanger) *Device {
	return &Device{SCPIInstrument: adapter.NewSCPIInstrument(id, Model, x)}
}

// GetOutputState reports whether the output is enabled.
func (d *Device) GetOutputState(ctx context.Context) (bool, error) {
	return d.QueryBool(ctx, "read output state", codec.Query(HeaderOutput))
}

// SetOutputState enables or disables the output. Repeating a call sends the
// command again and leaves the device state unchanged.
func (d *Device) SetOutputState(ctx context.Context, on bool) error {
	return d.Send(ctx, "set output state", codec.FormatState(HeaderOutput, on))
}

// SetVoltage programs the output voltage.
func (d *Device) SetVoltage(ctx context.Context, volts float64) error {
	return d.Send(ctx, "set voltage", codec.FormatSet(HeaderVoltage, volts, ""))
}

// GetVoltage returns the programmed voltage.
func (d *Device) GetVoltage(ctx context.Context) (float64, error) {
	return d.QueryDouble(ctx, "read voltage", codec.Query(HeaderVoltage))
}

// SetCurrentLimit programs the constant-current limit.
func (d *Device) SetCurrentLimit(ctx context.Context, amps float64) error {
	return d.Send(ctx, "set current limit", codec.FormatSet(HeaderCurrentLimit, amps, ""))
}

// GetCurrentLimit returns the programmed current limit.
func (d *Device) GetCurrentLimit(ctx context.Context) (float64, error) {
	return d.QueryDouble(ctx, "read current limit", codec.Query(HeaderCurrentLimit))
}

// SetOverVoltageProtection programs the OVP trip level.
func (d *Device) SetOverVoltageProtection(ctx context.Context, volts float64) error {
	return d.Send(ctx, "set over-voltage protection", codec.FormatSet(HeaderOverVoltage, volts, ""))
}

// GetOverVoltageProtection returns the OVP trip level.
func (d *Device) GetOverVoltageProtection(ctx context.Context) (float64, error) {
	return d.QueryDouble(ctx, "read over-voltage protection", codec.Query(HeaderOverVoltage))
}

// GetMeasuredVoltage returns the voltage measured at the output terminals.
func (d *Device) GetMeasuredVoltage(ctx context.Context) (float64, error) {
	return d.QueryDouble(ctx, "read measured voltage", codec.Query(HeaderMeasureVoltage))
}

// GetMeasuredCurrent returns the output current.
func (d *Device) GetMeasuredCurrent(ctx context.Context) (float64, error) {
	return d.QueryDouble(ctx, "read measured current", codec.Query(HeaderMeasureCurrent))
}

var _ adapter.PowerSupply = (*Device)(nil)
