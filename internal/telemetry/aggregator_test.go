package telemetry

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lab-control/lcc/internal/adapter"
	"github.com/lab-control/lcc/internal/adapter/fake"
	"github.com/lab-control/lcc/internal/adapter/n5746a"
	"github.com/lab-control/lcc/internal/adapter/smb100a"
	"github.com/lab-control/lcc/internal/instrumentmock"
	"github.com/lab-control/lcc/internal/transport"
)

var quiet = WithLogger(log.New(io.Discard, "", 0))

func psResponses() map[string]string {
	return map[string]string{
		"MEAS:VOLT?":  "0",
		"MEAS:CURR?":  "0.25",
		"CURR:LEV?":   "2",
		":OUTP:STAT?": "1",
	}
}

func waitForSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestAggregatorPublishesInBatteryOrder(t *testing.T) {
	x := fake.NewExchanger(psResponses())
	ps := n5746a.New("powerSupply", x)
	agg := NewAggregator(PowerSupplySource("powerSupply", ps), time.Hour, quiet)

	got := make(chan Snapshot, 1)
	agg.OnSnapshot(func(s Snapshot) { got <- s })

	if err := agg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()

	var snap Snapshot
	select {
	case snap = <-got:
	case <-time.After(3 * time.Second):
		t.Fatal("no snapshot published")
	}

	if snap.Seq != 1 || snap.Instrument != "powerSupply" {
		t.Errorf("Expected seq 1 for powerSupply, got %d %q", snap.Seq, snap.Instrument)
	}
	if snap.PowerSupply == nil {
		t.Fatal("Expected power supply state")
	}
	want := adapter.PowerSupplyState{MeasuredVoltage: 0, MeasuredCurrent: 0.25, CurrentLimit: 2, OutputOn: true}
	if *snap.PowerSupply != want {
		t.Errorf("Expected %+v, got %+v", want, *snap.PowerSupply)
	}
	if snap.SignalGenerator != nil {
		t.Errorf("Expected no signal generator state")
	}

	order := []string{"MEAS:VOLT?", "MEAS:CURR?", "CURR:LEV?", ":OUTP:STAT?"}
	sent := x.Sent()
	if len(sent) != len(order) {
		t.Fatalf("Expected %v, got %v", order, sent)
	}
	for i := range order {
		if sent[i] != order[i] {
			t.Errorf("read %d: expected %q, got %q", i, order[i], sent[i])
		}
	}
}

func TestAggregatorSignalGeneratorBattery(t *testing.T) {
	x := fake.NewExchanger(map[string]string{
		"FREQ?":      "1000000000",
		"POW?":       "-30",
		"PULM:WIDT?": "1E-06",
		"PULM:PER?":  "0.001",
		"FM:DEV?":    "1000",
		"PULM:DEL?":  "0",
		"OUTP?":      "1",
		"MOD:STAT?":  "0",
	})
	sg := smb100a.New("signalGenerator", x)
	agg := NewAggregator(SignalGeneratorSource("signalGenerator", sg), time.Hour, quiet)

	got := make(chan Snapshot, 1)
	agg.OnSnapshot(func(s Snapshot) { got <- s })
	if err := agg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()

	snap := <-got
	want := adapter.SignalGeneratorState{
		FrequencyHz: 1e9, PowerDbm: -30, PulseWidthS: 1e-6, PulsePeriodS: 0.001,
		DeviationHz: 1000, PulseDelayS: 0, RFOn: true, ModulationOn: false,
	}
	if snap.SignalGenerator == nil || *snap.SignalGenerator != want {
		t.Errorf("Expected %+v, got %+v", want, snap.SignalGenerator)
	}

	order := []string{"FREQ?", "POW?", "PULM:WIDT?", "PULM:PER?", "FM:DEV?", "PULM:DEL?", "OUTP?", "MOD:STAT?"}
	sent := x.Sent()
	for i := range order {
		if i >= len(sent) || sent[i] != order[i] {
			t.Fatalf("Expected battery %v, got %v", order, sent)
		}
	}
}

func TestAggregatorFailureAbandonsCycle(t *testing.T) {
	x := fake.NewExchanger(psResponses())
	x.FailOn("MEAS:CURR?", &adapter.ExchangeError{Code: adapter.ErrTimeout, Command: "MEAS:CURR?"})
	ps := n5746a.New("powerSupply", x)
	agg := NewAggregator(PowerSupplySource("powerSupply", ps), time.Hour, quiet)

	var snapshots atomic.Int32
	agg.OnSnapshot(func(Snapshot) { snapshots.Add(1) })
	errCh := make(chan *CycleError, 1)
	agg.OnError(func(e *CycleError) { errCh <- e })

	if err := agg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()

	var cerr *CycleError
	select {
	case cerr = <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("no error reported")
	}

	if cerr.Step != "measured current" {
		t.Errorf("Expected failing step 'measured current', got %q", cerr.Step)
	}
	if !errors.Is(cerr, adapter.ErrTimeout) {
		t.Errorf("Expected ErrTimeout in chain, got %v", cerr)
	}
	var derr *adapter.DeviceError
	if !errors.As(cerr, &derr) || derr.Operation != "read measured current" {
		t.Errorf("Expected DeviceError naming the read, got %v", cerr)
	}
	if snapshots.Load() != 0 {
		t.Errorf("Expected no partial snapshot, got %d", snapshots.Load())
	}
	if _, ok := agg.Latest(); ok {
		t.Errorf("Expected no latest snapshot")
	}
	if sent := x.Sent(); len(sent) != 2 {
		t.Errorf("Expected reads to stop at the failure, got %v", sent)
	}
}

func TestAggregatorRecoversAfterFailure(t *testing.T) {
	x := fake.NewExchanger(psResponses())
	x.FailOn("CURR:LEV?", &adapter.ExchangeError{Code: adapter.ErrCommunication, Command: "CURR:LEV?"})
	ps := n5746a.New("powerSupply", x)
	agg := NewAggregator(PowerSupplySource("powerSupply", ps), 10*time.Millisecond, quiet)

	var errorsSeen atomic.Int32
	agg.OnError(func(*CycleError) {
		if errorsSeen.Add(1) == 1 {
			x.FailOn("CURR:LEV?", nil)
		}
	})
	published := make(chan struct{})
	var once sync.Once
	var firstSeq atomic.Uint64
	agg.OnSnapshot(func(s Snapshot) {
		once.Do(func() {
			firstSeq.Store(s.Seq)
			close(published)
		})
	})

	if err := agg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()

	waitForSignal(t, published, "snapshot after recovery")
	if errorsSeen.Load() != 1 {
		t.Errorf("Expected exactly one error, got %d", errorsSeen.Load())
	}
	if firstSeq.Load() != 1 {
		t.Errorf("Expected first published seq to be 1, got %d", firstSeq.Load())
	}
}

func TestAggregatorSequenceIsMonotonic(t *testing.T) {
	x := fake.NewExchanger(psResponses())
	ps := n5746a.New("powerSupply", x)
	agg := NewAggregator(PowerSupplySource("powerSupply", ps), time.Millisecond, quiet)

	var mu sync.Mutex
	var seqs []uint64
	enough := make(chan struct{})
	agg.OnSnapshot(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		seqs = append(seqs, s.Seq)
		if len(seqs) == 5 {
			close(enough)
		}
	})

	if err := agg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForSignal(t, enough, "five snapshots")
	agg.Stop()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			t.Errorf("Expected consecutive sequence numbers, got %v", seqs)
			break
		}
	}
}

func TestAggregatorSubscribersInRegistrationOrder(t *testing.T) {
	x := fake.NewExchanger(psResponses())
	agg := NewAggregator(PowerSupplySource("powerSupply", n5746a.New("powerSupply", x)), time.Hour, quiet)

	var mu sync.Mutex
	var calls []string
	done := make(chan struct{})
	agg.OnSnapshot(func(Snapshot) { mu.Lock(); calls = append(calls, "first"); mu.Unlock() })
	cancel := agg.OnSnapshot(func(Snapshot) { mu.Lock(); calls = append(calls, "removed"); mu.Unlock() })
	agg.OnSnapshot(func(Snapshot) { mu.Lock(); calls = append(calls, "second"); mu.Unlock(); close(done) })
	cancel()

	if err := agg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()
	waitForSignal(t, done, "subscribers")

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("Expected [first second], got %v", calls)
	}
}

func TestAggregatorStopWaitsForInFlightRead(t *testing.T) {
	x := fake.NewExchanger(psResponses())
	entered := make(chan struct{})
	release := make(chan struct{})
	var inFlightCtxErr atomic.Value
	x.Hook = func(ctx context.Context, text string) {
		if text == "MEAS:CURR?" {
			close(entered)
			<-release
			if err := ctx.Err(); err != nil {
				inFlightCtxErr.Store(err)
			}
		}
	}
	agg := NewAggregator(PowerSupplySource("powerSupply", n5746a.New("powerSupply", x)), time.Hour, quiet)

	var snapshots atomic.Int32
	agg.OnSnapshot(func(Snapshot) { snapshots.Add(1) })

	if err := agg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitForSignal(t, entered, "in-flight read")

	stopped := make(chan struct{})
	go func() {
		agg.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a read was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	if agg.State() != Stopping {
		t.Errorf("Expected Stopping, got %s", agg.State())
	}

	close(release)
	waitForSignal(t, stopped, "Stop to return")

	if v := inFlightCtxErr.Load(); v != nil {
		t.Errorf("Expected in-flight read to keep a live context, got %v", v)
	}
	if agg.State() != Stopped {
		t.Errorf("Expected Stopped, got %s", agg.State())
	}
	if snapshots.Load() != 0 {
		t.Errorf("Expected no snapshot after stop request, got %d", snapshots.Load())
	}
	for _, m := range x.Sent() {
		if m == "CURR:LEV?" {
			t.Errorf("Expected no reads after the stop request, got %v", x.Sent())
		}
	}
}

func TestAggregatorStopIsIdempotent(t *testing.T) {
	x := fake.NewExchanger(psResponses())
	agg := NewAggregator(PowerSupplySource("powerSupply", n5746a.New("powerSupply", x)), 5*time.Millisecond, quiet)

	agg.Stop()
	if agg.State() != Stopped {
		t.Fatalf("Expected Stopped, got %s", agg.State())
	}

	var snapshots atomic.Int32
	agg.OnSnapshot(func(Snapshot) { snapshots.Add(1) })
	if err := agg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := agg.Start(context.Background()); err == nil {
		t.Errorf("Expected second Start to fail")
	}
	time.Sleep(30 * time.Millisecond)
	agg.Stop()
	agg.Stop()

	after := snapshots.Load()
	time.Sleep(30 * time.Millisecond)
	if snapshots.Load() != after {
		t.Errorf("Expected no snapshots after Stop, got %d more", snapshots.Load()-after)
	}

	if err := agg.Start(context.Background()); err != nil {
		t.Errorf("Expected restart after Stop to succeed, got %v", err)
	}
	agg.Stop()
}

func TestLatestReturnsCopy(t *testing.T) {
	x := fake.NewExchanger(psResponses())
	agg := NewAggregator(PowerSupplySource("powerSupply", n5746a.New("powerSupply", x)), time.Hour, quiet)
	done := make(chan struct{})
	agg.OnSnapshot(func(s Snapshot) {
		s.PowerSupply.CurrentLimit = 99
		close(done)
	})
	if err := agg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()
	waitForSignal(t, done, "snapshot")

	snap, ok := agg.Latest()
	if !ok || snap.PowerSupply.CurrentLimit != 2 {
		t.Errorf("Expected subscriber mutation to stay local, got %+v", snap.PowerSupply)
	}
}

type countingRecorder struct {
	mu        sync.Mutex
	ok, fail  int
	lastSeq   uint64
	snapshots int
}

func (r *countingRecorder) ObserveCycle(_ string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.fail++
	} else {
		r.ok++
	}
}

func (r *countingRecorder) ObserveSnapshot(_ string, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSeq = seq
	r.snapshots++
}

func TestAggregatorTimeoutAgainstSimulator(t *testing.T) {
	sim := instrumentmock.NewPowerSupply()
	sim.SetFault("MEAS:CURR?", instrumentmock.Fault{Drop: true, Count: 1})
	srv := instrumentmock.NewServer(sim)
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Close()

	ep := transport.Endpoint{Host: "127.0.0.1", Port: srv.Addr().Port}
	x, err := transport.Dial(context.Background(), ep, transport.Options{Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	ps := n5746a.New("powerSupply", x)
	defer ps.Close()

	rec := &countingRecorder{}
	agg := NewAggregator(PowerSupplySource("powerSupply", ps), 20*time.Millisecond, quiet, WithRecorder(rec))

	var errCount atomic.Int32
	var firstErr atomic.Value
	agg.OnError(func(e *CycleError) {
		if errCount.Add(1) == 1 {
			firstErr.Store(e)
		}
	})
	published := make(chan Snapshot, 1)
	agg.OnSnapshot(func(s Snapshot) {
		select {
		case published <- s:
		default:
		}
	})

	if err := agg.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()

	select {
	case snap := <-published:
		if snap.PowerSupply.MeasuredVoltage != 0 {
			t.Errorf("Expected 0 V with output off, got %v", snap.PowerSupply.MeasuredVoltage)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no snapshot after timeout")
	}

	if errCount.Load() != 1 {
		t.Errorf("Expected one reported error, got %d", errCount.Load())
	}
	if e, _ := firstErr.Load().(*CycleError); e == nil || !errors.Is(e, adapter.ErrTimeout) {
		t.Errorf("Expected timeout cycle error, got %v", e)
	}

	agg.Stop()
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.fail != 1 || rec.ok < 1 || rec.lastSeq == 0 {
		t.Errorf("Unexpected recorder counts: ok=%d fail=%d lastSeq=%d", rec.ok, rec.fail, rec.lastSeq)
	}
}
