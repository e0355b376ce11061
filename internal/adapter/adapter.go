package adapter

import (
	"context"
	"sync"
)

// PowerSupplyState is one coherent reading of a power supply.
type PowerSupplyState struct {
	MeasuredVoltage float64 `json:"measuredVoltage"`
	MeasuredCurrent float64 `json:"measuredCurrent"`
	CurrentLimit    float64 `json:"currentLimit"`
	OutputOn        bool    `json:"outputOn"`
}

// SignalGeneratorState is one coherent reading of a signal generator.
// Times are in seconds, frequencies in Hz, power in dBm.
type SignalGeneratorState struct {
	FrequencyHz  float64 `json:"frequencyHz"`
	PowerDbm     float64 `json:"powerDbm"`
	PulseWidthS  float64 `json:"pulseWidthS"`
	PulsePeriodS float64 `json:"pulsePeriodS"`
	DeviationHz  float64 `json:"deviationHz"`
	PulseDelayS  float64 `json:"pulseDelayS"`
	RFOn         bool    `json:"rfOn"`
	ModulationOn bool    `json:"modulationOn"`
}

// PowerUnit tags a power value sent to a signal generator.
type PowerUnit string

const (
	PowerDBM  PowerUnit = "DBM"
	PowerDBUV PowerUnit = "DBUV"
)

// Exchanger performs serialized command/response exchanges on one
// instrument connection. Implementations must be safe for concurrent use.
type Exchanger interface {
	SendCommand(ctx context.Context, text string) error
	RequestString(ctx context.Context, text string) (string, error)
	RequestInt(ctx context.Context, text string) (int, error)
	RequestDouble(ctx context.Context, text string) (float64, error)
	RequestBool(ctx context.Context, text string) (bool, error)
	Close() error
}

// Instrument is the command set common to every IEEE 488.2 instrument.
type Instrument interface {
	// Identify returns the *IDN? response.
	Identify(ctx context.Context) (string, error)

	// Reset restores factory configuration. Not safe to retry blindly.
	Reset(ctx context.Context) error

	// SelfTest runs *TST? and returns the raw result ("0" means pass).
	SelfTest(ctx context.Context) (string, error)

	// IsOperationComplete reports the *OPC? result.
	IsOperationComplete(ctx context.Context) (bool, error)

	// NextError pops one entry from the instrument error queue. It returns
	// nil when the queue is empty.
	NextError(ctx context.Context) (*SCPIError, error)

	// Close releases the underlying connection. Idempotent.
	Close() error
}

// PowerSupply controls a programmable DC supply.
type PowerSupply interface {
	Instrument

	GetOutputState(ctx context.Context) (bool, error)
	SetOutputState(ctx context.Context, on bool) error

	// SetVoltage programs the output voltage in volts.
	SetVoltage(ctx context.Context, volts float64) error

	// GetVoltage returns the programmed (not measured) voltage.
	GetVoltage(ctx context.Context) (float64, error)

	// SetCurrentLimit programs the current limit in amperes.
	SetCurrentLimit(ctx context.Context, amps float64) error
	GetCurrentLimit(ctx context.Context) (float64, error)

	// SetOverVoltageProtection programs the OVP trip level in volts.
	SetOverVoltageProtection(ctx context.Context, volts float64) error
	GetOverVoltageProtection(ctx context.Context) (float64, error)

	GetMeasuredVoltage(ctx context.Context) (float64, error)
	GetMeasuredCurrent(ctx context.Context) (float64, error)
}

// SignalGenerator controls an RF signal generator with pulse and FM
// modulation.
type SignalGenerator interface {
	Instrument

	GetFrequency(ctx context.Context) (float64, error)
	SetFrequency(ctx context.Context, hz float64) error

	// GetPower returns the level in dBm.
	GetPower(ctx context.Context) (float64, error)
	SetPower(ctx context.Context, level float64, unit PowerUnit) error

	GetPulseWidth(ctx context.Context) (float64, error)
	SetPulseWidth(ctx context.Context, seconds float64) error

	GetPulsePeriod(ctx context.Context) (float64, error)
	SetPulsePeriod(ctx context.Context, seconds float64) error

	GetDeviation(ctx context.Context) (float64, error)
	SetDeviation(ctx context.Context, hz float64) error

	GetPulseDelay(ctx context.Context) (float64, error)
	SetPulseDelay(ctx context.Context, seconds float64) error

	GetRFState(ctx context.Context) (bool, error)
	SetRFState(ctx context.Context, on bool) error

	GetModulationState(ctx context.Context) (bool, error)
	SetModulationState(ctx context.Context, on bool) error
}

// AdapterBase provides common identity fields for facade implementations.
type AdapterBase struct {
	// InstrumentID identifies the connection slot ("powerSupply")
	InstrumentID string

	// Model identifies the instrument model
	Model string

	// status is "online" after identification, "offline" after Close.
	// Close and listing run on different goroutines.
	mu     sync.RWMutex
	status string
}

// GetModel returns the instrument model.
func (a *AdapterBase) GetModel() string {
	return a.Model
}

// GetStatus returns the instrument status.
func (a *AdapterBase) GetStatus() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// SetStatus sets the instrument status.
func (a *AdapterBase) SetStatus(status string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
}
