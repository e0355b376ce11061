// Package command implements the operator intent path.
//
// The orchestrator validates operator text before any instrument command
// is built, bounds each device call with the configured command timeout,
// writes an audit record for every action and publishes the outcome to
// the telemetry hub.
package command
