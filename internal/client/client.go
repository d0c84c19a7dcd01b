// Package client is the dialing side of the protocol: it connects to a
// sync server over UDP or WebSocket, drives the handshake, and keeps
// the session alive across network failures with backoff reconnection.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/statewire/statewire/internal/common"
	"github.com/statewire/statewire/internal/conn"
	"github.com/statewire/statewire/internal/transport"
)

// ErrNotConnected is returned by Enqueue while no session is active.
var ErrNotConnected = errors.New("client: not connected")

// datagramLink is the client's view of a dialed transport.
type datagramLink interface {
	Send(b []byte) error
	Recv() ([]byte, error)
	Close() error
}

// Client maintains one session to the server, transparently replaced
// on failure when reconnection is enabled. Events from all sessions
// arrive on a single channel; each reconnect surfaces as a fresh
// EventConnected after the previous EventDisconnected.
type Client struct {
	config *common.ClientConfig
	logger *slog.Logger
	reconn *Reconnector

	mu     sync.Mutex
	active *conn.Conn

	events chan conn.Event
}

// New creates a client from its configuration.
func New(cfg *common.ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "client"))
	return &Client{
		config: cfg,
		logger: logger,
		reconn: NewReconnector(&cfg.Reconnect, logger),
		events: make(chan conn.Event, cfg.Sync.QueueDepth),
	}
}

// Events returns the merged event stream of all sessions. It is closed
// when Run returns.
func (c *Client) Events() <-chan conn.Event {
	return c.events
}

// Enqueue submits an update on the active session.
func (c *Client) Enqueue(u conn.Update) error {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if active == nil {
		return ErrNotConnected
	}
	return active.Enqueue(u)
}

// Run dials and drives sessions until ctx is cancelled or reconnection
// gives up. It returns the last session's terminal error.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	var lastErr error
	for {
		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return lastErr
		}
		lastErr = err

		if !c.config.Reconnect.Enabled || !c.reconn.ShouldRetry() {
			return lastErr
		}
		delay := c.reconn.NextDelay()
		if delay < 0 {
			return lastErr
		}

		c.logger.Info("reconnecting",
			slog.Duration("delay", delay),
			slog.Int("attempt", c.reconn.Attempts()))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return lastErr
		}
	}
}

// runSession dials once and runs the session to completion.
func (c *Client) runSession(ctx context.Context) error {
	link, err := c.dial()
	if err != nil {
		c.logger.Warn("dial failed", slog.String("error", err.Error()))
		return err
	}
	defer link.Close()

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := conn.New(conn.ModeConnect, link.Send, conn.Config{
		Logger:       c.logger,
		TickInterval: c.config.Sync.TickInterval,
		Delay:        c.config.Sync.Delay,
		IdleTimeout:  c.config.Sync.IdleTimeout,
		RingSize:     c.config.Sync.RingSize,
		MTU:          uint16(c.config.Sync.MTU),
		FlowWindow:   uint16(c.config.Sync.FlowWindow),
		QueueDepth:   c.config.Sync.QueueDepth,
	})

	c.mu.Lock()
	c.active = session
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()
	}()

	// Receive pump: the link feeds the connection until either side
	// closes.
	go func() {
		defer cancel()
		for {
			b, err := link.Recv()
			if err != nil {
				session.Close()
				return
			}
			if session.HandleDatagram(b) != nil {
				return
			}
		}
	}()

	// Forward session events, resetting the backoff once connected.
	go func() {
		for ev := range session.Events() {
			if _, ok := ev.(conn.EventConnected); ok {
				c.reconn.Reset()
			}
			select {
			case c.events <- ev:
			case <-ctx.Done():
			}
		}
	}()

	return session.Run(sctx)
}

// dial opens the configured transport.
func (c *Client) dial() (datagramLink, error) {
	switch c.config.Transport {
	case "udp":
		return transport.DialUDP(c.config.ServerAddr, c.config.Sync.MTU)
	case "ws":
		u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: "/sync"}
		q := u.Query()
		if c.config.PeerName != "" {
			q.Set("peer", c.config.PeerName)
		}
		if c.config.Token != "" {
			q.Set("token", c.config.Token)
		}
		u.RawQuery = q.Encode()
		return transport.DialWS(u.String())
	default:
		return nil, fmt.Errorf("unknown transport %q", c.config.Transport)
	}
}
