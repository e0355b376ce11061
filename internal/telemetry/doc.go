// Package telemetry keeps live instrument state synchronized and fans it out.
//
// An Aggregator runs one polling goroutine per connected instrument. Each
// cycle executes the instrument's read battery in a fixed order and, only
// when every read succeeds, publishes one immutable Snapshot to its
// subscribers. A failed read abandons the cycle, reports a CycleError and
// polling continues at the next interval.
//
// The Hub distributes snapshots and fault events to HTTP clients as
// Server-Sent Events with per-instrument replay buffers.
package telemetry
