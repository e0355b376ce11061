// Package audit records every operator action taken against an instrument.
//
// Entries are JSON lines carrying the user, instrument, parameters, outcome
// and latency of the action. The file is size-rotated so a long-running
// container does not fill the disk.
package audit
