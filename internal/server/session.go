package server

import (
	"context"
	"net"
	"time"

	"github.com/statewire/statewire/internal/common"
	"github.com/statewire/statewire/internal/conn"
	"github.com/statewire/statewire/internal/transport"
)

// Session is one connected peer: its transport link plus the protocol
// connection driving it.
type Session struct {
	// ID is a unique session identifier for logging and the registry.
	ID string

	// PeerName is the authenticated peer name, or empty when auth is
	// disabled.
	PeerName string

	// RemoteAddr is the peer's transport address.
	RemoteAddr net.Addr

	// Conn is the protocol connection.
	Conn *conn.Conn

	// ConnectedAt is when the session was admitted.
	ConnectedAt time.Time

	link   transport.Link
	cancel context.CancelFunc
}

func newSession(link transport.Link, peerName string, cancel context.CancelFunc) *Session {
	return &Session{
		ID:          common.GenerateSessionID(),
		PeerName:    peerName,
		RemoteAddr:  link.RemoteAddr(),
		ConnectedAt: time.Now(),
		link:        link,
		cancel:      cancel,
	}
}

// Close tears the session down: the connection goroutine stops and the
// link is released.
func (s *Session) Close() {
	s.Conn.Close()
	s.cancel()
	s.link.Close()
}
