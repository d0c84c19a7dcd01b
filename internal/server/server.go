// Package server is the listening side of the protocol: it accepts
// peers over UDP or WebSocket, admits them into the registry, and fans
// their state events out to a Handler.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/statewire/statewire/internal/common"
	"github.com/statewire/statewire/internal/conn"
	"github.com/statewire/statewire/internal/database"
	"github.com/statewire/statewire/internal/metrics"
	"github.com/statewire/statewire/internal/protocol"
	"github.com/statewire/statewire/internal/transport"
)

// Handler consumes the state events of connected peers. Callbacks run
// on per-session goroutines; implementations synchronize their own
// state.
type Handler interface {
	HandleConnect(s *Session)
	HandleUpdate(s *Session, frame protocol.ControlFrame, u conn.Update)
	HandleDisconnect(s *Session, reason error)
}

// Server coordinates the transports, the registry, and admission.
type Server struct {
	config   *common.ServerConfig
	logger   *slog.Logger
	registry *Registry
	auth     Authenticator
	db       *database.DB
	handler  Handler
	metrics  *metrics.Metrics
	promReg  *prometheus.Registry

	udp        *transport.UDPEndpoint
	wsAcceptor *transport.WSAcceptor
	wsSrv      *http.Server
	metricsSrv *http.Server

	// pendingNames carries authenticated peer names from the HTTP
	// upgrade handler to the WebSocket accept loop, keyed by remote
	// address.
	pendingNames sync.Map

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a sync server. The handler receives every peer's
// events; nil installs a handler that only logs.
func NewServer(cfg *common.ServerConfig, logger *slog.Logger, handler Handler) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	auth, db, err := NewAuthenticatorFromConfig(&cfg.Auth)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:   cfg,
		logger:   logger.With(slog.String("component", "server")),
		registry: NewRegistry(),
		auth:     auth,
		db:       db,
		handler:  handler,
		metrics:  metrics.New(promReg),
		promReg:  promReg,
		ctx:      ctx,
		cancel:   cancel,
	}
	if s.handler == nil {
		s.handler = loggingHandler{logger: s.logger}
	}
	return s, nil
}

// Registry returns the session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// SetHandler replaces the event handler. Call before Start.
func (s *Server) SetHandler(h Handler) {
	s.handler = h
}

// Start brings the configured listeners up.
func (s *Server) Start() error {
	if s.config.ListenAddr != "" {
		udp, err := transport.ListenUDP(s.config.ListenAddr, s.config.Sync.MTU, s.logger)
		if err != nil {
			return fmt.Errorf("failed to start udp listener: %w", err)
		}
		s.udp = udp
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			udp.Serve(s.ctx, s.handleUDPDatagram)
		}()
		s.logger.Info("udp listener started", slog.String("addr", udp.LocalAddr().String()))
	}

	if s.config.WSAddr != "" {
		s.wsAcceptor = transport.NewWSAcceptor(s.logger)
		mux := http.NewServeMux()
		mux.Handle("/sync", s.authenticated(s.wsAcceptor))
		s.wsSrv = &http.Server{Addr: s.config.WSAddr, Handler: mux}

		s.wg.Add(2)
		go func() {
			defer s.wg.Done()
			if err := s.wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error("websocket listener failed", slog.String("error", err.Error()))
			}
		}()
		go func() {
			defer s.wg.Done()
			s.acceptWS()
		}()
		s.logger.Info("websocket listener started", slog.String("addr", s.config.WSAddr))
	}

	if s.config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))
		s.metricsSrv = &http.Server{Addr: s.config.MetricsAddr, Handler: mux}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error("metrics listener failed", slog.String("error", err.Error()))
			}
		}()
		s.logger.Info("metrics listener started", slog.String("addr", s.config.MetricsAddr))
	}

	return nil
}

// Stop shuts the listeners down and closes every session.
func (s *Server) Stop(gracePeriod time.Duration) error {
	s.logger.Info("stopping server", slog.Duration("grace_period", gracePeriod))

	for _, sess := range s.registry.All() {
		sess.Close()
	}

	s.cancel()
	if s.udp != nil {
		s.udp.Close()
	}
	if s.wsAcceptor != nil {
		s.wsAcceptor.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracePeriod)
	defer cancel()
	if s.wsSrv != nil {
		s.wsSrv.Shutdown(shutdownCtx)
	}
	if s.metricsSrv != nil {
		s.metricsSrv.Shutdown(shutdownCtx)
	}

	s.wg.Wait()
	if s.db != nil {
		s.db.Close()
	}
	s.logger.Info("server stopped")
	return nil
}

// Run starts the server and blocks until interrupted.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		s.logger.Info("received signal", slog.String("signal", sig.String()))
	case <-s.ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Stop(10 * time.Second)
}

// handleUDPDatagram routes an inbound datagram to its session, admitting
// the peer on first contact.
func (s *Server) handleUDPDatagram(addr net.Addr, b []byte) {
	sess, ok := s.registry.GetByAddr(addr.String())
	if !ok {
		sess = s.admit(s.udp.Link(addr), "")
	}
	if err := sess.Conn.TryHandleDatagram(b); err != nil {
		s.registry.Remove(sess.ID)
	}
}

// acceptWS admits upgraded WebSocket links and pumps their frames into
// the session.
func (s *Server) acceptWS() {
	for {
		link, err := s.wsAcceptor.Accept()
		if err != nil {
			return
		}

		peerName := ""
		if name, ok := s.pendingNames.LoadAndDelete(link.RemoteAddr().String()); ok {
			peerName = name.(string)
		}
		sess := s.admit(link, peerName)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				b, err := link.Recv()
				if err != nil {
					sess.Conn.Close()
					return
				}
				if sess.Conn.HandleDatagram(b) != nil {
					return
				}
			}
		}()
	}
}

// admit creates a session for a new link and starts its connection.
func (s *Server) admit(link transport.Link, peerName string) *Session {
	sctx, cancel := context.WithCancel(s.ctx)
	sess := newSession(link, peerName, cancel)

	logger := s.logger.With(
		slog.String("session", sess.ID),
		slog.String("remote", sess.RemoteAddr.String()))

	sess.Conn = conn.New(conn.ModeListen, link.Send, connConfig(s.config.Sync, logger, s.metrics))
	s.registry.Add(sess)
	logger.Info("session admitted", slog.String("peer", peerName))

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		sess.Conn.Run(sctx)
	}()
	go func() {
		defer s.wg.Done()
		s.consumeEvents(sess)
	}()

	return sess
}

// consumeEvents relays the session's protocol events to the handler and
// retires the session on disconnect.
func (s *Server) consumeEvents(sess *Session) {
	for ev := range sess.Conn.Events() {
		switch e := ev.(type) {
		case conn.EventConnected:
			s.handler.HandleConnect(sess)
		case conn.EventUpdate:
			s.handler.HandleUpdate(sess, e.Frame, e.Update)
		case conn.EventDisconnected:
			s.handler.HandleDisconnect(sess, e.Reason)
			s.retire(sess, e.Reason)
		}
	}
}

func (s *Server) retire(sess *Session, reason error) {
	s.registry.Remove(sess.ID)
	sess.Close()

	if s.db != nil && sess.PeerName != "" {
		entry := &database.SessionLog{
			PeerName:       sess.PeerName,
			RemoteAddr:     sess.RemoteAddr.String(),
			ConnectedAt:    sess.ConnectedAt,
			DisconnectedAt: time.Now(),
		}
		if reason != nil {
			entry.Reason = reason.Error()
		}
		s.db.LogSession(entry)
	}
}

// authenticated wraps the WebSocket upgrade endpoint with the token
// check. Credentials travel as query parameters; the UDP path has no
// equivalent and relies on network-level controls.
func (s *Server) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("peer")
		token := r.URL.Query().Get("token")

		canonical, err := s.auth.Authenticate(name, token)
		if err != nil {
			s.logger.Warn("rejecting unauthenticated peer",
				slog.String("peer", name),
				slog.String("remote", r.RemoteAddr))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		s.pendingNames.Store(r.RemoteAddr, canonical)
		next.ServeHTTP(w, r)
	})
}

// connConfig translates the YAML sync tunables into a connection config.
func connConfig(sync common.SyncConfig, logger *slog.Logger, m *metrics.Metrics) conn.Config {
	return conn.Config{
		Logger:       logger,
		Metrics:      m,
		TickInterval: sync.TickInterval,
		Delay:        sync.Delay,
		IdleTimeout:  sync.IdleTimeout,
		RingSize:     sync.RingSize,
		MTU:          uint16(sync.MTU),
		FlowWindow:   uint16(sync.FlowWindow),
		QueueDepth:   sync.QueueDepth,
	}
}

// loggingHandler is the default handler when none is supplied.
type loggingHandler struct {
	logger *slog.Logger
}

func (h loggingHandler) HandleConnect(s *Session) {
	h.logger.Info("peer connected", slog.String("session", s.ID))
}

func (h loggingHandler) HandleUpdate(s *Session, frame protocol.ControlFrame, u conn.Update) {
	h.logger.Debug("update",
		slog.String("session", s.ID),
		slog.Uint64("frame", uint64(frame)),
		slog.String("type", u.Kind.String()),
		slog.Uint64("entity", uint64(u.Entity)))
}

func (h loggingHandler) HandleDisconnect(s *Session, reason error) {
	if reason != nil {
		h.logger.Info("peer disconnected",
			slog.String("session", s.ID),
			slog.String("reason", reason.Error()))
		return
	}
	h.logger.Info("peer disconnected", slog.String("session", s.ID))
}
