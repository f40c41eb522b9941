// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Wrap with fmt.Errorf("...: %w", err) and test with errors.Is.
var (
	// Packet decoding errors
	ErrPacketTooShort   = errors.New("hostguard: packet too short")
	ErrUnsupportedProto = errors.New("hostguard: unsupported protocol")
	ErrLengthMismatch   = errors.New("hostguard: header length inconsistent with packet")

	// Blocklist errors
	ErrEmptyDomain   = errors.New("hostguard: empty domain")
	ErrInvalidDomain = errors.New("hostguard: invalid domain")

	// Engine errors
	ErrEngineStopped = errors.New("hostguard: engine stopped")
	ErrNoDevice      = errors.New("hostguard: no tunnel device")

	// Configuration errors
	ErrConfigInvalid = errors.New("hostguard: invalid configuration")

	// Daemon errors
	ErrDaemonNotRunning = errors.New("hostguard: daemon not running")
)
