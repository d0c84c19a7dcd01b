package protocol

import (
	"errors"
	"fmt"
)

// Decode errors. These are local to a single malformed packet: the packet
// is logged and dropped, the connection survives.
var (
	// ErrUnexpectedEOF indicates fewer bytes remained than required.
	ErrUnexpectedEOF = errors.New("unexpected eof")

	// ErrInvalidDiscriminant indicates an unrecognized message tag.
	ErrInvalidDiscriminant = errors.New("invalid discriminant")

	// ErrOverflow indicates a variable-length integer whose shift would
	// exceed the width of the target type.
	ErrOverflow = errors.New("varint overflow")
)

// Connection errors. These are terminal for the connection and surfaced
// exactly once through the connection's handle.
var (
	// ErrVersionMismatch indicates incompatible protocol versions.
	ErrVersionMismatch = errors.New("protocol version mismatch")

	// ErrInvalidHandshake indicates a malformed or out-of-order handshake.
	ErrInvalidHandshake = errors.New("invalid handshake")

	// ErrTimeout indicates the peer went silent beyond the idle timeout.
	ErrTimeout = errors.New("peer timed out")

	// ErrPeerShutdown indicates the peer requested a shutdown.
	ErrPeerShutdown = errors.New("peer shut down")

	// ErrConnectionClosed indicates the connection was already closed.
	ErrConnectionClosed = errors.New("connection closed")
)

// EOFError wraps ErrUnexpectedEOF with the byte counts involved.
type EOFError struct {
	Expected int
	Found    int
}

func (e *EOFError) Error() string {
	return fmt.Sprintf("unexpected eof: expected %d bytes, found %d", e.Expected, e.Found)
}

// Unwrap returns ErrUnexpectedEOF for errors.Is support.
func (e *EOFError) Unwrap() error {
	return ErrUnexpectedEOF
}

// DiscriminantError wraps ErrInvalidDiscriminant with the offending tag.
type DiscriminantError struct {
	Tag uint8
}

func (e *DiscriminantError) Error() string {
	return fmt.Sprintf("invalid discriminant: %#02x", e.Tag)
}

// Unwrap returns ErrInvalidDiscriminant for errors.Is support.
func (e *DiscriminantError) Unwrap() error {
	return ErrInvalidDiscriminant
}
