// Package transport owns the TCP connection to one instrument and
// serializes command/response exchanges on it.
//
// An Exchanger holds one lock for exactly one exchange: the command is
// written and, for queries, the reply line is read before the lock is
// released. Two callers can therefore never interleave on the wire, and a
// reply is always read by the caller whose query produced it.
//
// When an exchange times out or the socket fails mid-call the connection is
// discarded, because a late reply would otherwise be read as the answer to
// the next query. The next exchange dials again. Failed commands are never
// re-sent.
package transport
