package command

import (
	"context"
	"errors"
	"time"

	"github.com/lab-control/lcc/internal/adapter"
	"github.com/lab-control/lcc/internal/instrument"
	"github.com/lab-control/lcc/internal/telemetry"
)

// OrchestratorPort defines the minimal interface the API needs from the orchestrator.
type OrchestratorPort interface {
	ApplySetPoint(ctx context.Context, kind instrument.Kind, sp SetPoint) error
	ApplySetPoints(ctx context.Context, kind instrument.Kind, sps []SetPoint) error
	SetOutput(ctx context.Context, on bool) error
	SetRF(ctx context.Context, on bool) error
	SetModulation(ctx context.Context, on bool) error
	Reset(ctx context.Context, kind instrument.Kind) error
	Identify(ctx context.Context, kind instrument.Kind) (string, error)
	SelfTest(ctx context.Context, kind instrument.Kind) (string, error)
	ReadErrors(ctx context.Context, kind instrument.Kind) ([]*adapter.SCPIError, error)
}

// Devices resolves connected facades.
type Devices interface {
	Device(kind instrument.Kind) (adapter.Instrument, error)
	PowerSupply() (adapter.PowerSupply, error)
	SignalGenerator() (adapter.SignalGenerator, error)
}

// AuditLogger writes audit records.
type AuditLogger interface {
	LogAction(ctx context.Context, instrument, action string, params map[string]interface{}, err error, latency time.Duration)
}

// Publisher receives command events.
type Publisher interface {
	Publish(event telemetry.Event)
	PublishFault(instrument, operation string, err error)
}

// Recorder counts command outcomes.
type Recorder interface {
	ObserveCommand(instrument, action string, err error)
}

// ErrFieldMismatch indicates a set point field that the target kind does
// not have, such as frequency on the power supply.
var ErrFieldMismatch = errors.New("field does not apply to instrument")

var (
	_ Devices          = (*instrument.Manager)(nil)
	_ Publisher        = (*telemetry.Hub)(nil)
	_ OrchestratorPort = (*Orchestrator)(nil)
)
