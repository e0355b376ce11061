package api

import (
	"context"
	"net/http"

	"github.com/lab-control/lcc/internal/command"
	"github.com/lab-control/lcc/internal/instrument"
	"github.com/lab-control/lcc/internal/telemetry"
	"github.com/lab-control/lcc/internal/transport"
)

// OrchestratorPort is the command surface the API drives.
type OrchestratorPort = command.OrchestratorPort

// TelemetryPort defines the minimal interface the API needs from the telemetry hub.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	ClientCount() int
}

// InstrumentPort manages connection slots.
type InstrumentPort interface {
	List() []instrument.Info
	Get(kind instrument.Kind) (*instrument.Connection, error)
	Endpoint(kind instrument.Kind) transport.Endpoint
	Connect(ctx context.Context, kind instrument.Kind, ep transport.Endpoint) (*instrument.Connection, error)
	Disconnect(kind instrument.Kind) error
}

// Compile-time assertions for port conformance
var _ OrchestratorPort = (*command.Orchestrator)(nil)
var _ TelemetryPort = (*telemetry.Hub)(nil)
var _ InstrumentPort = (*instrument.Manager)(nil)
