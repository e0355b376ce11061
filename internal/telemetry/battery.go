package telemetry

import (
	"context"

	"github.com/lab-control/lcc/internal/adapter"
)

// Step is one named read in a poll battery. Read fills its part of the
// snapshot under construction.
type Step struct {
	Name string
	Read func(ctx context.Context, s *Snapshot) error
}

// Source supplies the battery an Aggregator runs each cycle.
type Source interface {
	Instrument() string
	Battery() []Step
}

type batterySource struct {
	instrument string
	steps      []Step
}

func (b *batterySource) Instrument() string { return b.instrument }
func (b *batterySource) Battery() []Step    { return b.steps }

// NewSource builds a Source from a fixed step list.
func NewSource(instrument string, steps []Step) Source {
	return &batterySource{instrument: instrument, steps: steps}
}

// PowerSupplySource reads measured voltage, measured current, current limit
// and output state, in that order.
func PowerSupplySource(instrument string, ps adapter.PowerSupply) Source {
	state := func(s *Snapshot) *adapter.PowerSupplyState {
		if s.PowerSupply == nil {
			s.PowerSupply = &adapter.PowerSupplyState{}
		}
		return s.PowerSupply
	}
	return NewSource(instrument, []Step{
		{Name: "measured voltage", Read: func(ctx context.Context, s *Snapshot) (err error) {
			state(s).MeasuredVoltage, err = ps.GetMeasuredVoltage(ctx)
			return err
		}},
		{Name: "measured current", Read: func(ctx context.Context, s *Snapshot) (err error) {
			state(s).MeasuredCurrent, err = ps.GetMeasuredCurrent(ctx)
			return err
		}},
		{Name: "current limit", Read: func(ctx context.Context, s *Snapshot) (err error) {
			state(s).CurrentLimit, err = ps.GetCurrentLimit(ctx)
			return err
		}},
		{Name: "output state", Read: func(ctx context.Context, s *Snapshot) (err error) {
			state(s).OutputOn, err = ps.GetOutputState(ctx)
			return err
		}},
	})
}

// SignalGeneratorSource reads frequency, power, pulse width, pulse period,
// deviation, pulse delay, RF state and modulation state, in that order.
func SignalGeneratorSource(instrument string, sg adapter.SignalGenerator) Source {
	state := func(s *Snapshot) *adapter.SignalGeneratorState {
		if s.SignalGenerator == nil {
			s.SignalGenerator = &adapter.SignalGeneratorState{}
		}
		return s.SignalGenerator
	}
	return NewSource(instrument, []Step{
		{Name: "frequency", Read: func(ctx context.Context, s *Snapshot) (err error) {
			state(s).FrequencyHz, err = sg.GetFrequency(ctx)
			return err
		}},
		{Name: "power", Read: func(ctx context.Context, s *Snapshot) (err error) {
			state(s).PowerDbm, err = sg.GetPower(ctx)
			return err
		}},
		{Name: "pulse width", Read: func(ctx context.Context, s *Snapshot) (err error) {
			state(s).PulseWidthS, err = sg.GetPulseWidth(ctx)
			return err
		}},
		{Name: "pulse period", Read: func(ctx context.Context, s *Snapshot) (err error) {
			state(s).PulsePeriodS, err = sg.GetPulsePeriod(ctx)
			return err
		}},
		{Name: "deviation", Read: func(ctx context.Context, s *Snapshot) (err error) {
			state(s).DeviationHz, err = sg.GetDeviation(ctx)
			return err
		}},
		{Name: "pulse delay", Read: func(ctx context.Context, s *Snapshot) (err error) {
			state(s).PulseDelayS, err = sg.GetPulseDelay(ctx)
			return err
		}},
		{Name: "rf state", Read: func(ctx context.Context, s *Snapshot) (err error) {
			state(s).RFOn, err = sg.GetRFState(ctx)
			return err
		}},
		{Name: "modulation state", Read: func(ctx context.Context, s *Snapshot) (err error) {
			state(s).ModulationOn, err = sg.GetModulationState(ctx)
			return err
		}},
	})
}
