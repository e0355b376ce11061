package telemetry

import (
	"fmt"
	"time"

	"github.com/lab-control/lcc/internal/adapter"
)

// Snapshot is one coherent reading of an instrument. Exactly one of
// PowerSupply and SignalGenerator is set.
type Snapshot struct {
	Instrument      string                        `json:"instrument"`
	Seq             uint64                        `json:"seq"`
	TakenAt         time.Time                     `json:"takenAt"`
	PowerSupply     *adapter.PowerSupplyState     `json:"powerSupply,omitempty"`
	SignalGenerator *adapter.SignalGeneratorState `json:"signalGenerator,omitempty"`
}

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.PowerSupply != nil {
		ps := *s.PowerSupply
		out.PowerSupply = &ps
	}
	if s.SignalGenerator != nil {
		sg := *s.SignalGenerator
		out.SignalGenerator = &sg
	}
	return out
}

// CycleError reports an abandoned poll cycle.
type CycleError struct {
	Instrument string
	Step       string
	Err        error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s poll: %s: %v", e.Instrument, e.Step, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}
