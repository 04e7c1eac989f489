// internal/driver/device/errors.go
package device

import "errors"

// Sentinel errors for the ODIN protocol engine. Wrap with fmt.Errorf("...: %w", err)
// at call sites and unwrap with errors.Is.
var (
	ErrDeviceNotFound    = errors.New("device: no matching USB device found")
	ErrNoSession         = errors.New("device: session not started")
	ErrSessionStart      = errors.New("device: handshake read timed out")
	ErrHandshakeMismatch = errors.New("device: handshake reply mismatch")
	ErrMagicMismatch     = errors.New("device: PIT magic number mismatch")
	ErrProtocolError     = errors.New("device: malformed protocol data")
	ErrTimeout           = errors.New("device: read timed out")
	ErrTransport         = errors.New("device: transport failure")
	ErrUnknownPartition  = errors.New("device: unknown partition")
)
