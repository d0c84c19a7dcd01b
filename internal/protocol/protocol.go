// Package protocol defines the binary wire protocol spoken between the
// simulation server and its clients.
//
// The protocol distinguishes between packets and messages. A Packet is the
// payload handed to the transport as one datagram: a sequence-numbered
// envelope carrying a batch of encoded messages, all stamped with the
// control frame they apply to. A Message is a single change to the
// replicated world (entity created, entity moved, component updated, ...)
// or a control signal (handshake, ack, nak, shutdown).
//
// All fixed-width integers are little-endian. Identifiers and lengths use
// a continuation-bit variable-length encoding so that small values cost a
// single byte.
package protocol

// Version constants for protocol compatibility checking.
// A handshake advertising a version outside the supported range is
// rejected and the connection is closed without retry.
const (
	// Version is the current protocol version.
	// Increment this when making breaking changes to the wire format.
	Version = 1

	// MinSupportedVersion is the minimum version a peer may advertise.
	MinSupportedVersion = 1
)

// IsVersionSupported checks if the given protocol version is supported.
func IsVersionSupported(version uint16) bool {
	return version >= MinSupportedVersion && version <= Version
}
