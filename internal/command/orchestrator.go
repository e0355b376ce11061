package command

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/lab-control/lcc/internal/adapter"
	"github.com/lab-control/lcc/internal/config"
	"github.com/lab-control/lcc/internal/instrument"
	"github.com/lab-control/lcc/internal/telemetry"
	"github.com/lab-control/lcc/internal/units"
)

// Action names used in audit records, metrics and events.
const (
	ActionSetPoint   = "setPoint"
	ActionOutput     = "setOutput"
	ActionRF         = "setRF"
	ActionModulation = "setModulation"
	ActionReset      = "reset"
	ActionIdentify   = "identify"
	ActionSelfTest   = "selfTest"
	ActionReadErrors = "readErrors"
)

// maxErrorQueue bounds how many entries ReadErrors drains in one call.
const maxErrorQueue = 32

// SetPoint is operator text for one named control value.
type SetPoint struct {
	Field string `json:"field"`
	Value string `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

// fieldKinds maps each set point field to the instrument that owns it.
var fieldKinds = map[string]instrument.Kind{
	units.FieldVoltage:               instrument.PowerSupply,
	units.FieldCurrentLimit:          instrument.PowerSupply,
	units.FieldOverVoltageProtection: instrument.PowerSupply,
	units.FieldFrequency:             instrument.SignalGenerator,
	units.FieldPower:                 instrument.SignalGenerator,
	units.FieldPulseWidth:            instrument.SignalGenerator,
	units.FieldPulsePeriod:           instrument.SignalGenerator,
	units.FieldDeviation:             instrument.SignalGenerator,
	units.FieldPulseDelay:            instrument.SignalGenerator,
}

// Orchestrator routes validated operator intents to connected instruments.
type Orchestrator struct {
	devices   Devices
	validator atomic.Pointer[units.Validator]
	config    *config.TimingConfig

	auditLogger AuditLogger
	publisher   Publisher
	recorder    Recorder
}

// NewOrchestrator creates a new command orchestrator.
func NewOrchestrator(devices Devices, validator *units.Validator, timingConfig *config.TimingConfig) *Orchestrator {
	if validator == nil {
		validator = units.NewValidator(nil)
	}
	o := &Orchestrator{
		devices: devices,
		config:  timingConfig,
	}
	o.validator.Store(validator)
	return o
}

// SetAuditLogger sets the audit logger.
func (o *Orchestrator) SetAuditLogger(logger AuditLogger) {
	o.auditLogger = logger
}

// SetPublisher sets the event publisher.
func (o *Orchestrator) SetPublisher(p Publisher) {
	o.publisher = p
}

// SetRecorder sets the command outcome recorder.
func (o *Orchestrator) SetRecorder(r Recorder) {
	o.recorder = r
}

// SetValidator replaces the range table, typically after a config reload.
// It is safe to call while commands are in flight; a nil v restores the
// default ranges.
func (o *Orchestrator) SetValidator(v *units.Validator) {
	if v == nil {
		v = units.NewValidator(nil)
	}
	o.validator.Store(v)
}

// ApplySetPoint validates sp and transmits it to kind.
func (o *Orchestrator) ApplySetPoint(ctx context.Context, kind instrument.Kind, sp SetPoint) error {
	return o.ApplySetPoints(ctx, kind, []SetPoint{sp})
}

// ApplySetPoints validates every set point first and transmits nothing if
// any fails. Set points are then sent in order; the first device failure
// stops the batch and earlier set points stay applied.
func (o *Orchestrator) ApplySetPoints(ctx context.Context, kind instrument.Kind, sps []SetPoint) error {
	start := time.Now()
	params := setPointParams(sps)

	quantities, err := o.validate(kind, sps)
	if err != nil {
		o.finish(ctx, kind, ActionSetPoint, params, err, start)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, o.config.CommandTimeoutSet)
	defer cancel()

	for i, q := range quantities {
		if err := o.apply(ctx, kind, q); err != nil {
			o.finish(ctx, kind, ActionSetPoint, params, err, start)
			return err
		}
		o.publish(kind, telemetry.EventSetPoint, map[string]interface{}{
			"field": q.Field,
			"value": q.Value,
			"unit":  sps[i].Unit,
		})
	}

	o.finish(ctx, kind, ActionSetPoint, params, nil, start)
	return nil
}

func (o *Orchestrator) validate(kind instrument.Kind, sps []SetPoint) ([]units.Quantity, error) {
	if len(sps) == 0 {
		return nil, fmt.Errorf("no set points: %w", adapter.ErrValidation)
	}

	var mismatched units.ValidationErrors
	inputs := make([]units.Input, 0, len(sps))
	for _, sp := range sps {
		if owner, ok := fieldKinds[sp.Field]; ok && owner != kind {
			mismatched = append(mismatched, &units.ValidationError{
				Field: sp.Field, Value: sp.Value, Unit: sp.Unit,
				Reason: fmt.Sprintf("%v %s", ErrFieldMismatch, kind),
			})
			continue
		}
		inputs = append(inputs, units.Input{Field: sp.Field, Value: sp.Value, Unit: sp.Unit})
	}

	quantities, err := o.validator.Load().ValidateAll(inputs)
	if err != nil {
		var errs units.ValidationErrors
		if errors.As(err, &errs) {
			return nil, append(mismatched, errs...)
		}
		return nil, err
	}
	if len(mismatched) > 0 {
		return nil, mismatched
	}
	return quantities, nil
}

func (o *Orchestrator) apply(ctx context.Context, kind instrument.Kind, q units.Quantity) error {
	if kind == instrument.PowerSupply {
		ps, err := o.devices.PowerSupply()
		if err != nil {
			return err
		}
		switch q.Field {
		case units.FieldVoltage:
			return ps.SetVoltage(ctx, q.Value)
		case units.FieldCurrentLimit:
			return ps.SetCurrentLimit(ctx, q.Value)
		case units.FieldOverVoltageProtection:
			return ps.SetOverVoltageProtection(ctx, q.Value)
		}
		return fmt.Errorf("%s: %w", q.Field, adapter.ErrValidation)
	}

	sg, err := o.devices.SignalGenerator()
	if err != nil {
		return err
	}
	switch q.Field {
	case units.FieldFrequency:
		return sg.SetFrequency(ctx, q.Value)
	case units.FieldPower:
		return sg.SetPower(ctx, q.Value, q.Scale.Tag)
	case units.FieldPulseWidth:
		return sg.SetPulseWidth(ctx, q.Value)
	case units.FieldPulsePeriod:
		return sg.SetPulsePeriod(ctx, q.Value)
	case units.FieldDeviation:
		return sg.SetDeviation(ctx, q.Value)
	case units.FieldPulseDelay:
		return sg.SetPulseDelay(ctx, q.Value)
	}
	return fmt.Errorf("%s: %w", q.Field, adapter.ErrValidation)
}

// SetOutput switches the power supply output.
func (o *Orchestrator) SetOutput(ctx context.Context, on bool) error {
	return o.toggle(ctx, instrument.PowerSupply, ActionOutput, "output", on, func(ctx context.Context) error {
		ps, err := o.devices.PowerSupply()
		if err != nil {
			return err
		}
		return ps.SetOutputState(ctx, on)
	})
}

// SetRF switches the signal generator RF output.
func (o *Orchestrator) SetRF(ctx context.Context, on bool) error {
	return o.toggle(ctx, instrument.SignalGenerator, ActionRF, "rf", on, func(ctx context.Context) error {
		sg, err := o.devices.SignalGenerator()
		if err != nil {
			return err
		}
		return sg.SetRFState(ctx, on)
	})
}

// SetModulation switches signal generator modulation.
func (o *Orchestrator) SetModulation(ctx context.Context, on bool) error {
	return o.toggle(ctx, instrument.SignalGenerator, ActionModulation, "modulation", on, func(ctx context.Context) error {
		sg, err := o.devices.SignalGenerator()
		if err != nil {
			return err
		}
		return sg.SetModulationState(ctx, on)
	})
}

func (o *Orchestrator) toggle(ctx context.Context, kind instrument.Kind, action, name string, on bool, fn func(context.Context) error) error {
	start := time.Now()
	params := map[string]interface{}{name: on}

	callCtx, cancel := context.WithTimeout(ctx, o.config.CommandTimeoutSet)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		o.publish(kind, telemetry.EventOutput, map[string]interface{}{"control": name, "on": on})
	}
	o.finish(ctx, kind, action, params, err, start)
	return err
}

// Reset sends *RST to kind. The instrument returns to its power-on
// configuration; this is not safe to retry blindly.
func (o *Orchestrator) Reset(ctx context.Context, kind instrument.Kind) error {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, o.config.CommandTimeoutReset)
	defer cancel()

	err := o.withDevice(kind, func(d adapter.Instrument) error {
		return d.Reset(callCtx)
	})
	if err == nil {
		o.publish(kind, telemetry.EventState, map[string]interface{}{"reset": true})
	}
	o.finish(ctx, kind, ActionReset, nil, err, start)
	return err
}

// Identify returns the *IDN? string of kind.
func (o *Orchestrator) Identify(ctx context.Context, kind instrument.Kind) (string, error) {
	return o.query(ctx, kind, ActionIdentify, func(ctx context.Context, d adapter.Instrument) (string, error) {
		return d.Identify(ctx)
	})
}

// SelfTest runs *TST? on kind and returns the raw result.
func (o *Orchestrator) SelfTest(ctx context.Context, kind instrument.Kind) (string, error) {
	return o.query(ctx, kind, ActionSelfTest, func(ctx context.Context, d adapter.Instrument) (string, error) {
		return d.SelfTest(ctx)
	})
}

func (o *Orchestrator) query(ctx context.Context, kind instrument.Kind, action string, fn func(context.Context, adapter.Instrument) (string, error)) (string, error) {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, o.config.CommandTimeoutQuery)
	defer cancel()

	var result string
	err := o.withDevice(kind, func(d adapter.Instrument) error {
		var err error
		result, err = fn(callCtx, d)
		return err
	})
	o.finish(ctx, kind, action, nil, err, start)
	return result, err
}

// ReadErrors drains the instrument error queue of kind.
func (o *Orchestrator) ReadErrors(ctx context.Context, kind instrument.Kind) ([]*adapter.SCPIError, error) {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, o.config.CommandTimeoutQuery)
	defer cancel()

	var entries []*adapter.SCPIError
	err := o.withDevice(kind, func(d adapter.Instrument) error {
		for i := 0; i < maxErrorQueue; i++ {
			entry, err := d.NextError(callCtx)
			if err != nil {
				return err
			}
			if entry == nil {
				return nil
			}
			entries = append(entries, entry)
		}
		return nil
	})
	o.finish(ctx, kind, ActionReadErrors, map[string]interface{}{"count": len(entries)}, err, start)
	return entries, err
}

func (o *Orchestrator) withDevice(kind instrument.Kind, fn func(adapter.Instrument) error) error {
	d, err := o.devices.Device(kind)
	if err != nil {
		return err
	}
	return fn(d)
}

// finish writes the audit record, counts the outcome and publishes a fault
// for device-side failures.
func (o *Orchestrator) finish(ctx context.Context, kind instrument.Kind, action string, params map[string]interface{}, err error, start time.Time) {
	if o.auditLogger != nil {
		o.auditLogger.LogAction(ctx, string(kind), action, params, err, time.Since(start))
	}
	if o.recorder != nil {
		o.recorder.ObserveCommand(string(kind), action, err)
	}
	if err != nil && o.publisher != nil && !isCallerError(err) {
		o.publisher.PublishFault(string(kind), action, err)
	}
}

func (o *Orchestrator) publish(kind instrument.Kind, eventType string, data map[string]interface{}) {
	if o.publisher == nil {
		return
	}
	data["ts"] = time.Now().UTC().Format(time.RFC3339)
	o.publisher.Publish(telemetry.Event{Type: eventType, Instrument: string(kind), Data: data})
}

// isCallerError reports errors caused by the request rather than the
// instrument. These are returned to the caller but not broadcast.
func isCallerError(err error) bool {
	return errors.Is(err, adapter.ErrValidation) || errors.Is(err, instrument.ErrNotConnected)
}

func setPointParams(sps []SetPoint) map[string]interface{} {
	items := make([]map[string]string, len(sps))
	for i, sp := range sps {
		items[i] = map[string]string{"field": sp.Field, "value": sp.Value, "unit": sp.Unit}
	}
	return map[string]interface{}{"setPoints": items}
}
