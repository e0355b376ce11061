// Package smb100a drives a Rohde & Schwarz SMB100A RF signal generator over
// its LAN SCPI socket.
package smb100a

import (
	"context"
	"fmt"

	"github.com/lab-control/lcc/internal/adapter"
	"github.com/lab-control/lcc/internal/codec"
)

// Model is the instrument model string used in errors and status.
const Model = "SMB100A"

// Command headers.
const (
	HeaderFrequency   = "FREQ"
	HeaderPower       = "POW"
	HeaderPulseWidth  = "PULM:WIDT"
	HeaderPulsePeriod = "PULM:PER"
	HeaderDeviation   = "FM:DEV"
	HeaderPulseDelay  = "PULM:DEL"
	HeaderRF          = "OUTP"
	HeaderModulation  = "MOD:STAT"
)

// Device is a SignalGenerator facade. It owns its Exchanger.
type Device struct {
	*adapter.SCPIInstrument
}

// New wraps an established Exchanger.
func New(id string, x adapter.Exchanger) *Device {
	return &Device{SCPIInstrument: adapter.NewSCPIInstrument(id, Model, x)}
}

// GetFrequency returns the CW frequency in Hz.
func (d *Device) GetFrequency(ctx context.Context) (float64, error) {
	return d.QueryDouble(ctx, "read frequency", codec.Query(HeaderFrequency))
}

// SetFrequency sets the CW frequency in Hz.
func (d *Device) SetFrequency(ctx context.Context, hz float64) error {
	return d.Send(ctx, "set frequency", codec.FormatSet(HeaderFrequency, hz, ""))
}

// GetPower returns the RF level in dBm.
func (d *Device) GetPower(ctx context.Context) (float64, error) {
	return d.QueryDouble(ctx, "read power", codec.Query(HeaderPower))
}

// SetPower sets the RF level. The unit tag is sent with the value so the
// instrument's display unit is left alone.
func (d *Device) SetPower(ctx context.Context, level float64, unit adapter.PowerUnit) error {
	switch unit {
	case "":
		unit = adapter.PowerDBM
	case adapter.PowerDBM, adapter.PowerDBUV:
	default:
		return d.Fail("set power", &adapter.ExchangeError{
			Code: adapter.ErrValidation,
			Err:  fmt.Errorf("unsupported power unit %q", unit),
		})
	}
	return d.Send(ctx, "set power", codec.FormatSet(HeaderPower, level, string(unit)))
}

// GetPulseWidth returns the pulse width in seconds.
func (d *Device) GetPulseWidth(ctx context.Context) (float64, error) {
	return d.QueryDouble(ctx, "read pulse width", codec.Query(HeaderPulseWidth))
}

// SetPulseWidth sets the pulse width in seconds.
func (d *Device) SetPulseWidth(ctx context.Context, seconds float64) error {
	return d.Send(ctx, "set pulse width", codec.FormatSet(HeaderPulseWidth, seconds, ""))
}

// GetPulsePeriod returns the pulse period in seconds.
func (d *Device) GetPulsePeriod(ctx context.Context) (float64, error) {
	return d.QueryDouble(ctx, "read pulse period", codec.Query(HeaderPulsePeriod))
}

// SetPulsePeriod sets the pulse period in seconds.
func (d *Device) SetPulsePeriod(ctx context.Context, seconds float64) error {
	return d.Send(ctx, "set pulse period", codec.FormatSet(HeaderPulsePeriod, seconds, ""))
}

// GetDeviation returns the FM deviation in Hz.
func (d *Device) GetDeviation(ctx context.Context) (float64, error) {
	return d.QueryDouble(ctx, "read deviation", codec.Query(HeaderDeviation))
}

// SetDeviation sets the FM deviation in Hz.
func (d *Device) SetDeviation(ctx context.Context, hz float64) error {
	return d.Send(ctx, "set deviation", codec.FormatSet(HeaderDeviation, hz, ""))
}

// GetPulseDelay returns the pulse delay in seconds.
func (d *Device) GetPulseDelay(ctx context.Context) (float64, error) {
	return d.QueryDouble(ctx, "read pulse delay", codec.Query(HeaderPulseDelay))
}

// SetPulseDelay sets the pulse delay in seconds.
func (d *Device) SetPulseDelay(ctx context.Context, seconds float64) error {
	return d.Send(ctx, "set pulse delay", codec.FormatSet(HeaderPulseDelay, seconds, ""))
}

// GetRFState reports whether the RF output is on.
func (d *Device) GetRFState(ctx context.Context) (bool, error) {
	return d.QueryBool(ctx, "read rf state", codec.Query(HeaderRF))
}

// SetRFState switches the RF output.
func (d *Device) SetRFState(ctx context.Context, on bool) error {
	return d.Send(ctx, "set rf state", codec.FormatState(HeaderRF, on))
}

// GetModulationState reports whether modulation is enabled.
func (d *Device) GetModulationState(ctx context.Context) (bool, error) {
	return d.QueryBool(ctx, "read modulation state", codec.Query(HeaderModulation))
}

// SetModulationState switches all modulation sources together.
func (d *Device) SetModulationState(ctx context.Context, on bool) error {
	return d.Send(ctx, "set modulation state", codec.FormatState(HeaderModulation, on))
}

var _ adapter.SignalGenerator = (*Device)(nil)
