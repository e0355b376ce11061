// Package instrumentmock simulates the power supply and signal generator
// over the same line-oriented TCP protocol the real instruments speak.
//
// Set commands update thread-safe simulated state, queries answer from it,
// unknown headers and out-of-range values push SCPI entries onto the error
// queue. Faults (delay, drop, garbage reply, disconnect) can be injected per
// header so tests and demos can exercise timeout and recovery paths.
package instrumentmock
