package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
)

// readBufferSize bounds a single inbound datagram. Anything larger than
// the negotiated MTU is rejected by the protocol layer anyway.
const readBufferSize = 64 * 1024

// UDPEndpoint is a shared UDP socket serving many peers. Inbound
// datagrams are demultiplexed by remote address through the handler
// passed to Serve; outbound traffic goes through per-peer links.
type UDPEndpoint struct {
	pc     *net.UDPConn
	logger *slog.Logger
	mtu    int
	closed atomic.Bool
}

// ListenUDP binds a UDP endpoint on addr ("host:port", empty host for
// all interfaces).
func ListenUDP(addr string, mtu int, logger *slog.Logger) (*UDPEndpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", addr, err)
	}
	pc, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("binding udp socket: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UDPEndpoint{pc: pc, logger: logger, mtu: mtu}, nil
}

// LocalAddr returns the bound address.
func (e *UDPEndpoint) LocalAddr() net.Addr {
	return e.pc.LocalAddr()
}

// Serve reads datagrams until the endpoint is closed or ctx is
// cancelled, invoking handle for each one. The payload slice is owned
// by the callee.
func (e *UDPEndpoint) Serve(ctx context.Context, handle func(addr net.Addr, b []byte)) error {
	stop := context.AfterFunc(ctx, func() { e.pc.Close() })
	defer stop()

	buf := make([]byte, readBufferSize)
	for {
		n, raddr, err := e.pc.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || e.closed.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			e.logger.Warn("udp read failed", slog.String("error", err.Error()))
			continue
		}
		b := make([]byte, n)
		copy(b, buf[:n])
		handle(raddr, b)
	}
}

// Link returns a datagram link to the given peer through the shared
// socket. Closing the link does not close the socket.
func (e *UDPEndpoint) Link(addr net.Addr) Link {
	return &udpLink{ep: e, raddr: addr}
}

// Close shuts the socket down, unblocking Serve.
func (e *UDPEndpoint) Close() error {
	e.closed.Store(true)
	return e.pc.Close()
}

type udpLink struct {
	ep     *UDPEndpoint
	raddr  net.Addr
	closed atomic.Bool
}

func (l *udpLink) Send(b []byte) error {
	if l.closed.Load() || l.ep.closed.Load() {
		return ErrLinkClosed
	}
	if len(b) > l.ep.mtu {
		return fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, len(b), l.ep.mtu)
	}
	_, err := l.ep.pc.WriteTo(b, l.raddr)
	return err
}

func (l *udpLink) Close() error {
	l.closed.Store(true)
	return nil
}

func (l *udpLink) RemoteAddr() net.Addr {
	return l.raddr
}

// UDPClient is a connected UDP socket to a single server.
type UDPClient struct {
	pc     *net.UDPConn
	mtu    int
	closed atomic.Bool
}

// DialUDP connects a UDP socket to the server at addr.
func DialUDP(addr string, mtu int) (*UDPClient, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", addr, err)
	}
	pc, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("dialing %q: %w", addr, err)
	}
	return &UDPClient{pc: pc, mtu: mtu}, nil
}

func (c *UDPClient) Send(b []byte) error {
	if c.closed.Load() {
		return ErrLinkClosed
	}
	if len(b) > c.mtu {
		return fmt.Errorf("%w: %d > %d", ErrPacketTooLarge, len(b), c.mtu)
	}
	_, err := c.pc.Write(b)
	return err
}

// Recv blocks for the next datagram from the server. It returns
// ErrLinkClosed after Close.
func (c *UDPClient) Recv() ([]byte, error) {
	buf := make([]byte, readBufferSize)
	n, err := c.pc.Read(buf)
	if err != nil {
		if c.closed.Load() || errors.Is(err, net.ErrClosed) {
			return nil, ErrLinkClosed
		}
		return nil, err
	}
	return buf[:n], nil
}

func (c *UDPClient) Close() error {
	c.closed.Store(true)
	return c.pc.Close()
}

func (c *UDPClient) RemoteAddr() net.Addr {
	return c.pc.RemoteAddr()
}

func (c *UDPClient) LocalAddr() net.Addr {
	return c.pc.LocalAddr()
}
