// Package transport carries encoded packets between peers. A Link is a
// single-peer datagram channel; the protocol layer above it never sees
// addresses or framing. UDP is the primary carrier, with a WebSocket
// adapter for environments where UDP is blocked.
package transport

import (
	"errors"
	"net"
)

// ErrLinkClosed is returned by Send after the link was closed.
var ErrLinkClosed = errors.New("transport: link closed")

// ErrPacketTooLarge is returned when an outgoing datagram exceeds the
// link's MTU.
var ErrPacketTooLarge = errors.New("transport: packet exceeds mtu")

// Link is a datagram channel to exactly one peer. Send is safe for
// concurrent use; delivery and ordering are best effort.
type Link interface {
	Send(b []byte) error
	Close() error
	RemoteAddr() net.Addr
}
