// Package auth verifies bearer tokens and enforces scopes on the control
// API.
//
// Tokens are JWTs signed with HS256 (shared secret) or RS256 (PEM public
// key). The read scope covers listings and snapshots, control covers every
// action that changes an instrument, and telemetry covers the event
// stream.
package auth
