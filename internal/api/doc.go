// Package api implements the HTTP control surface of the lab control container.
//
// Commands are HTTP/JSON under /api/v1 and answer with a uniform envelope
// {result, data, code, message, correlationId}. Live telemetry is streamed as
// Server-Sent Events from /api/v1/telemetry. The server speaks HTTP/1.1 and
// cleartext HTTP/2 on the same port.
package api
