package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

// WSLink carries one datagram per binary WebSocket message. Unlike UDP
// it is reliable and ordered, which the protocol layer tolerates; it
// simply never sees loss.
type WSLink struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closed  sync.Once
	done    chan struct{}
}

// NewWSLink wraps an established WebSocket connection.
func NewWSLink(ws *websocket.Conn) *WSLink {
	return &WSLink{ws: ws, done: make(chan struct{})}
}

// DialWS connects to a WebSocket endpoint, e.g. "ws://host:port/sync".
func DialWS(url string) (*WSLink, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %q: %w", url, err)
	}
	return NewWSLink(ws), nil
}

// Send writes one datagram. Gorilla permits a single concurrent writer,
// so sends are serialized.
func (l *WSLink) Send(b []byte) error {
	select {
	case <-l.done:
		return ErrLinkClosed
	default:
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	l.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := l.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Recv blocks for the next datagram. Non-binary messages are skipped.
func (l *WSLink) Recv() ([]byte, error) {
	for {
		kind, b, err := l.ws.ReadMessage()
		if err != nil {
			select {
			case <-l.done:
				return nil, ErrLinkClosed
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrLinkClosed
			}
			return nil, err
		}
		if kind == websocket.BinaryMessage {
			return b, nil
		}
	}
}

func (l *WSLink) Close() error {
	var err error
	l.closed.Do(func() {
		close(l.done)
		l.writeMu.Lock()
		l.ws.SetWriteDeadline(time.Now().Add(time.Second))
		l.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		l.writeMu.Unlock()
		err = l.ws.Close()
	})
	return err
}

func (l *WSLink) RemoteAddr() net.Addr {
	return l.ws.RemoteAddr()
}

// WSAcceptor upgrades HTTP requests and hands the resulting links to
// Accept. Register it on an http.ServeMux route.
type WSAcceptor struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader
	links    chan *WSLink
	closed   sync.Once
	done     chan struct{}
}

// ErrAcceptorClosed is returned by Accept after Close.
var ErrAcceptorClosed = errors.New("transport: acceptor closed")

func NewWSAcceptor(logger *slog.Logger) *WSAcceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSAcceptor{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: readBufferSize,
		},
		links: make(chan *WSLink, 16),
		done:  make(chan struct{}),
	}
}

func (a *WSAcceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}

	link := NewWSLink(ws)
	select {
	case a.links <- link:
	case <-a.done:
		link.Close()
	}
}

// Accept blocks for the next upgraded connection.
func (a *WSAcceptor) Accept() (*WSLink, error) {
	select {
	case link := <-a.links:
		return link, nil
	case <-a.done:
		return nil, ErrAcceptorClosed
	}
}

func (a *WSAcceptor) Close() error {
	a.closed.Do(func() { close(a.done) })
	return nil
}
