// Package adaptertest provides model-agnostic conformance testing for
// instrument facades. Every facade is driven over a real TCP connection to
// the simulator and must normalize failures into the container error codes.
package adaptertest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lab-control/lcc/internal/adapter"
	"github.com/lab-control/lcc/internal/instrumentmock"
	"github.com/lab-control/lcc/internal/transport"
)

// Target describes the facade under test.
type Target struct {
	// NewSimulator returns fresh simulated state for each case.
	NewSimulator func() *instrumentmock.Instrument

	// NewInstrument wraps a connected Exchanger in the facade.
	NewInstrument func(x adapter.Exchanger) adapter.Instrument

	// Timeout bounds one exchange. Defaults to 200ms.
	Timeout time.Duration
}

// ConformanceResult represents the result of one conformance case.
type ConformanceResult struct {
	TestName string
	Passed   bool
	Duration time.Duration
}

// ConformanceReport summarizes a run.
type ConformanceReport struct {
	Model       string
	Results     []ConformanceResult
	PassedTests int
	FailedTests int
	Duration    time.Duration
}

type conformanceCase struct {
	name string
	run  func(t *testing.T, ctx context.Context, sim *instrumentmock.Instrument, inst adapter.Instrument)
}

var cases = []conformanceCase{
	{"identify", testIdentify},
	{"self test", testSelfTest},
	{"operation complete", testOperationComplete},
	{"error queue", testErrorQueue},
	{"reset idempotent", testResetIdempotent},
	{"timeout mapping", testTimeoutMapping},
	{"protocol mapping", testProtocolMapping},
	{"close", testClose},
}

// RunConformance runs every case against a fresh simulator and connection.
func RunConformance(t *testing.T, target Target) *ConformanceReport {
	t.Helper()
	if target.Timeout == 0 {
		target.Timeout = 200 * time.Millisecond
	}

	start := time.Now()
	report := &ConformanceReport{Model: target.NewSimulator().Model()}
	for _, c := range cases {
		caseStart := time.Now()
		passed := t.Run(c.name, func(t *testing.T) {
			sim := target.NewSimulator()
			x := dial(t, sim, target.Timeout)
			inst := target.NewInstrument(x)
			t.Cleanup(func() { _ = inst.Close() })
			c.run(t, context.Background(), sim, inst)
		})
		report.Results = append(report.Results, ConformanceResult{
			TestName: c.name,
			Passed:   passed,
			Duration: time.Since(caseStart),
		})
		if passed {
			report.PassedTests++
		} else {
			report.FailedTests++
		}
	}
	report.Duration = time.Since(start)

	t.Logf("conformance %s: %d/%d passed in %v", report.Model,
		report.PassedTests, len(report.Results), report.Duration)
	return report
}

func dial(t *testing.T, sim *instrumentmock.Instrument, timeout time.Duration) *transport.Exchanger {
	t.Helper()
	srv := instrumentmock.NewServer(sim)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to start simulator: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	ep := transport.Endpoint{Host: "127.0.0.1", Port: srv.Addr().Port}
	x, err := transport.Dial(context.Background(), ep, transport.Options{Timeout: timeout})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return x
}

func testIdentify(t *testing.T, ctx context.Context, sim *instrumentmock.Instrument, inst adapter.Instrument) {
	idn, err := inst.Identify(ctx)
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if !strings.Contains(idn, sim.Model()) {
		t.Errorf("Expected identity to name %s, got %q", sim.Model(), idn)
	}
}

func testSelfTest(t *testing.T, ctx context.Context, _ *instrumentmock.Instrument, inst adapter.Instrument) {
	result, err := inst.SelfTest(ctx)
	if err != nil {
		t.Fatalf("SelfTest failed: %v", err)
	}
	if result != "0" {
		t.Errorf("Expected self test result 0, got %q", result)
	}
}

func testOperationComplete(t *testing.T, ctx context.Context, _ *instrumentmock.Instrument, inst adapter.Instrument) {
	done, err := inst.IsOperationComplete(ctx)
	if err != nil || !done {
		t.Errorf("Expected operation complete, got %v (%v)", done, err)
	}
}

func testErrorQueue(t *testing.T, ctx context.Context, sim *instrumentmock.Instrument, inst adapter.Instrument) {
	sim.PushError(-222, "Data out of range")

	entry, err := inst.NextError(ctx)
	if err != nil {
		t.Fatalf("NextError failed: %v", err)
	}
	if entry == nil || entry.Code != -222 {
		t.Fatalf("Expected -222 entry, got %v", entry)
	}
	if !errors.Is(entry, adapter.ErrInvalidRange) {
		t.Errorf("Expected INVALID_RANGE class, got %v", entry.Class)
	}

	entry, err = inst.NextError(ctx)
	if err != nil || entry != nil {
		t.Errorf("Expected empty queue, got %v (%v)", entry, err)
	}
}

func testResetIdempotent(t *testing.T, ctx context.Context, _ *instrumentmock.Instrument, inst adapter.Instrument) {
	for i := 0; i < 2; i++ {
		if err := inst.Reset(ctx); err != nil {
			t.Fatalf("Reset %d failed: %v", i+1, err)
		}
	}
	if done, err := inst.IsOperationComplete(ctx); err != nil || !done {
		t.Errorf("Expected instrument usable after reset, got %v (%v)", done, err)
	}
}

func testTimeoutMapping(t *testing.T, ctx context.Context, sim *instrumentmock.Instrument, inst adapter.Instrument) {
	sim.SetFault("*TST?", instrumentmock.Fault{Drop: true, Count: 1})

	_, err := inst.SelfTest(ctx)
	if !errors.Is(err, adapter.ErrTimeout) {
		t.Fatalf("Expected TIMEOUT, got %v", err)
	}
	var derr *adapter.DeviceError
	if !errors.As(err, &derr) {
		t.Errorf("Expected DeviceError wrapping, got %T", err)
	}
}

func testProtocolMapping(t *testing.T, ctx context.Context, sim *instrumentmock.Instrument, inst adapter.Instrument) {
	sim.SetFault("*OPC?", instrumentmock.Fault{Reply: "maybe", Count: 1})

	if _, err := inst.IsOperationComplete(ctx); !errors.Is(err, adapter.ErrProtocol) {
		t.Errorf("Expected PROTOCOL, got %v", err)
	}
}

func testClose(t *testing.T, ctx context.Context, _ *instrumentmock.Instrument, inst adapter.Instrument) {
	first := inst.Close()
	if second := inst.Close(); second != first {
		t.Errorf("Expected repeated Close to return %v, got %v", first, second)
	}
	if _, err := inst.Identify(ctx); !errors.Is(err, adapter.ErrConnection) {
		t.Errorf("Expected CONNECTION after close, got %v", err)
	}
}
