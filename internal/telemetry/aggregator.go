package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// State is the Aggregator lifecycle state.
type State int32

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// SnapshotFunc receives each published snapshot.
type SnapshotFunc func(Snapshot)

// ErrorFunc receives each abandoned cycle.
type ErrorFunc func(*CycleError)

// Recorder observes poll cycle outcomes.
type Recorder interface {
	ObserveCycle(instrument string, d time.Duration, err error)
	ObserveSnapshot(instrument string, seq uint64)
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) AggregatorOption {
	return func(a *Aggregator) { a.recorder = r }
}

// WithLogger replaces the standard logger for cycle failures.
func WithLogger(l *log.Logger) AggregatorOption {
	return func(a *Aggregator) { a.logger = l }
}

type subscription[T any] struct {
	id uint64
	fn T
}

// Aggregator polls one instrument and publishes snapshots.
//
// Subscribers are called synchronously on the polling goroutine, in
// registration order, at most once per cycle. A subscriber must not call
// Stop.
type Aggregator struct {
	source   Source
	interval atomic.Int64
	recorder Recorder
	logger   *log.Logger

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	seq     uint64
	latest  *Snapshot
	nextSub uint64
	snapFns []subscription[SnapshotFunc]
	errFns  []subscription[ErrorFunc]
}

// NewAggregator creates a stopped Aggregator.
func NewAggregator(source Source, interval time.Duration, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{source: source, logger: log.Default()}
	a.interval.Store(int64(interval))
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Instrument returns the polled instrument name.
func (a *Aggregator) Instrument() string {
	return a.source.Instrument()
}

// OnSnapshot registers fn and returns a function that removes it.
func (a *Aggregator) OnSnapshot(fn SnapshotFunc) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextSub++
	id := a.nextSub
	a.snapFns = append(a.snapFns, subscription[SnapshotFunc]{id: id, fn: fn})
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.snapFns = removeSub(a.snapFns, id)
	}
}

// OnError registers fn and returns a function that removes it.
func (a *Aggregator) OnError(fn ErrorFunc) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextSub++
	id := a.nextSub
	a.errFns = append(a.errFns, subscription[ErrorFunc]{id: id, fn: fn})
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.errFns = removeSub(a.errFns, id)
	}
}

func removeSub[T any](subs []subscription[T], id uint64) []subscription[T] {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Interval returns the current poll interval.
func (a *Aggregator) Interval() time.Duration {
	return time.Duration(a.interval.Load())
}

// SetInterval changes the poll interval from the next sleep on.
func (a *Aggregator) SetInterval(d time.Duration) {
	if d > 0 {
		a.interval.Store(int64(d))
	}
}

// State returns the lifecycle state.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Latest returns the most recently published snapshot.
func (a *Aggregator) Latest() (Snapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.latest == nil {
		return Snapshot{}, false
	}
	return a.latest.Clone(), true
}

// Start launches the polling goroutine. The first cycle runs immediately.
func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != Stopped {
		return fmt.Errorf("aggregator for %s already %s", a.source.Instrument(), a.state)
	}
	if a.Interval() <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	a.state = Running

	go a.run(ctx, a.done)
	return nil
}

// Stop requests cancellation and waits for the in-flight cycle to finish.
// No snapshot is delivered after Stop returns. Stopping a stopped
// Aggregator is a no-op.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if a.state == Stopped {
		a.mu.Unlock()
		return
	}
	if a.state == Running {
		a.state = Stopping
		a.cancel()
	}
	done := a.done
	a.mu.Unlock()

	<-done
}

func (a *Aggregator) run(ctx context.Context, done chan struct{}) {
	defer func() {
		a.mu.Lock()
		a.state = Stopped
		a.cancel = nil
		a.mu.Unlock()
		close(done)
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		a.cycle(ctx)
		timer.Reset(a.Interval())
	}
}

// cycle runs the battery once. Reads use a context detached from ctx so a
// stop request never aborts a request already on the wire; ctx is checked
// between reads instead.
func (a *Aggregator) cycle(ctx context.Context) {
	start := time.Now()
	instrument := a.source.Instrument()
	ioCtx := context.WithoutCancel(ctx)

	snap := Snapshot{Instrument: instrument}
	for _, step := range a.source.Battery() {
		if ctx.Err() != nil {
			return
		}
		if err := step.Read(ioCtx, &snap); err != nil {
			cerr := &CycleError{Instrument: instrument, Step: step.Name, Err: err}
			if a.recorder != nil {
				a.recorder.ObserveCycle(instrument, time.Since(start), cerr)
			}
			a.logger.Printf("Telemetry cycle abandoned: %v", cerr)
			a.reportError(cerr)
			return
		}
	}
	if ctx.Err() != nil {
		return
	}

	a.mu.Lock()
	a.seq++
	snap.Seq = a.seq
	snap.TakenAt = time.Now().UTC()
	stored := snap.Clone()
	a.latest = &stored
	subs := append([]subscription[SnapshotFunc](nil), a.snapFns...)
	a.mu.Unlock()

	if a.recorder != nil {
		a.recorder.ObserveCycle(instrument, time.Since(start), nil)
		a.recorder.ObserveSnapshot(instrument, snap.Seq)
	}
	for _, s := range subs {
		s.fn(snap.Clone())
	}
}

func (a *Aggregator) reportError(err *CycleError) {
	a.mu.Lock()
	subs := append([]subscription[ErrorFunc](nil), a.errFns...)
	a.mu.Unlock()

	for _, s := range subs {
		s.fn(err)
	}
}
