// Package adapter defines the instrument facade contracts shared by the
// power supply and signal generator drivers.
//
// It also owns the error taxonomy used across the container. Transport,
// codec, facade and validation failures all carry one of the sentinel codes
// below so callers can branch with errors.Is and extract detail with
// errors.As:
//
//   - ErrConnection: the socket could not be established or was closed
//   - ErrCommunication: a read or write failed mid-exchange
//   - ErrTimeout: no complete response arrived within the bound
//   - ErrProtocol: the response could not be parsed into the expected shape
//   - ErrValidation: operator input was rejected before anything was sent
//   - ErrDevice: the instrument reported an error through its error queue
package adapter
