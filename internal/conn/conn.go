// Package conn implements the per-connection state machine of the
// statewire transport: handshake lifecycle, sequence acknowledgement,
// out-of-order buffering, constant-delay output scheduling, and the
// translation between wire and local entity identifiers.
//
// Each connection is owned by exactly one goroutine running Run. All
// cross-goroutine traffic happens at two boundaries: inbound datagrams
// arrive through a bounded queue (a slow connection backpressures the
// receive path instead of growing memory), and delivered events leave
// through a bounded queue drained by the consuming simulation.
package conn

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/statewire/statewire/internal/entity"
	"github.com/statewire/statewire/internal/metrics"
	"github.com/statewire/statewire/internal/protocol"
	"github.com/statewire/statewire/internal/serial"
)

// Config holds the tunables of a single connection.
type Config struct {
	// Logger receives per-connection diagnostics. Defaults to
	// slog.Default.
	Logger *slog.Logger

	// Metrics receives transport counters. Optional.
	Metrics *metrics.Metrics

	// TickInterval is the control frame cadence. One control frame
	// elapses per tick.
	TickInterval time.Duration

	// Delay is the constant output delay applied to inbound state
	// (the jitter buffer depth).
	Delay time.Duration

	// IdleTimeout closes the connection when no packet arrives for this
	// long. Treated as a network failure, not a protocol error.
	IdleTimeout time.Duration

	// RingSize is the backlog ring size in control frames. It must
	// exceed the maximum expected reorder window.
	RingSize int

	// InitialSequence seeds the local data packet sequence. It is
	// advertised to the peer during the handshake.
	InitialSequence protocol.Sequence

	// MTU and FlowWindow are advertised during the handshake.
	MTU        uint16
	FlowWindow uint16

	// QueueDepth bounds the inbound, outbound, and event queues.
	QueueDepth int
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 50 * time.Millisecond
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 100 * time.Millisecond
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Second
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = 128
	}
	if cfg.MTU == 0 {
		cfg.MTU = 1500
	}
	if cfg.FlowWindow == 0 {
		cfg.FlowWindow = 8192
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 4096
	}
	return cfg
}

// maxPacketMessages caps how many outbound messages are batched into one
// packet.
const maxPacketMessages = 64

// peerEntityBase offsets the local ids allocated for peer-created
// entities, keeping them clear of the ids the consumer picks for its
// own entities.
const peerEntityBase entity.LocalID = 1 << 48

// wireIDFirst returns the start of the mode's wire id partition. Both
// endpoints originate entities, so the listen side allocates even ids
// and the connect side odd ones.
func wireIDFirst(mode Mode) uint64 {
	if mode == ModeListen {
		return 2
	}
	return 1
}

// Conn is one peer session. Create it with New, drive it with Run, feed
// it datagrams with HandleDatagram, produce with Enqueue, and consume
// from Events.
type Conn struct {
	mode Mode
	cfg  Config

	logger *slog.Logger

	// send hands one fully assembled datagram to the transport.
	send func([]byte) error

	inbound  chan []byte
	outbound chan Update
	events   chan Event

	state atomic.Int32

	closeOnce sync.Once
	closeCh   chan struct{}

	// Everything below is owned by the Run goroutine.

	phase    handshakePhase
	frame    protocol.ControlFrame
	table    *entity.Table
	backlog  *Backlog
	sched    *DelayScheduler
	loss     *lossList
	verifier *Validator

	nextLocal     entity.LocalID
	nextLocalSeq  protocol.Sequence
	nextPeerSeq   protocol.Sequence
	nextAckSeq    protocol.Sequence
	lastAckSeq    protocol.Sequence
	haveAcked     bool
	recvSinceAck  bool
	peerDelay     uint16
	peerMTU       uint16
	peerWindow    uint16
	lastRecv      time.Time
	inflight      map[protocol.Sequence][]byte
	inflightOrder []protocol.Sequence

	terminalErr error
}

// New creates a connection in the given mode. send is called from the
// connection goroutine with one complete datagram per call.
func New(mode Mode, send func([]byte) error, cfg Config) *Conn {
	cfg = cfg.withDefaults()

	c := &Conn{
		mode:         mode,
		cfg:          cfg,
		logger:       cfg.Logger.With(slog.String("mode", mode.String())),
		send:         send,
		inbound:      make(chan []byte, cfg.QueueDepth),
		outbound:     make(chan Update, cfg.QueueDepth),
		events:       make(chan Event, cfg.QueueDepth),
		closeCh:      make(chan struct{}),
		phase:        phaseHello,
		table:        entity.NewPartitionedTable(wireIDFirst(mode), 2),
		sched:        NewDelayScheduler(cfg.Delay),
		loss:         newLossList(int(cfg.FlowWindow)),
		nextLocal:    peerEntityBase,
		nextLocalSeq: cfg.InitialSequence,
		inflight:     make(map[protocol.Sequence][]byte),
		lastRecv:     time.Now(),
	}
	c.verifier = NewValidator(c.logger)
	c.backlog = NewBacklog(cfg.RingSize, 0)
	c.state.Store(int32(StateHandshaking))
	return c
}

// State returns the connection's lifecycle state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// Events returns the consumer stream: decoded, re-timed updates tagged
// with their control frame, plus one EventConnected and exactly one
// EventDisconnected. The channel is closed after the disconnect event.
func (c *Conn) Events() <-chan Event {
	return c.events
}

// HandleDatagram queues one received datagram for the connection
// goroutine. It blocks when the connection is saturated, so a slow
// connection backpressures the caller's receive loop. It returns
// ErrConnectionClosed once the connection is gone.
func (c *Conn) HandleDatagram(b []byte) error {
	select {
	case c.inbound <- b:
		return nil
	case <-c.closeCh:
		return protocol.ErrConnectionClosed
	}
}

// TryHandleDatagram is the non-blocking variant for shared-socket
// demultiplexers, where one saturated connection must not stall the
// receive loop. A datagram arriving while the queue is full is dropped,
// matching the loss semantics of the wire.
func (c *Conn) TryHandleDatagram(b []byte) error {
	select {
	case c.inbound <- b:
		return nil
	case <-c.closeCh:
		return protocol.ErrConnectionClosed
	default:
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.PacketsDropped.Inc()
		}
		return nil
	}
}

// Enqueue submits one outbound update. The connection stamps it with the
// current control frame and next sequence before encoding.
func (c *Conn) Enqueue(u Update) error {
	select {
	case c.outbound <- u:
		return nil
	case <-c.closeCh:
		return protocol.ErrConnectionClosed
	}
}

// Close requests a graceful shutdown. Safe to call multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
	return nil
}

// Err returns the terminal error after the connection closed, or nil for
// a clean local close.
func (c *Conn) Err() error {
	return c.terminalErr
}

// Run drives the connection until it closes. It returns the terminal
// error, or nil for a locally requested close. Cancelling ctx drops the
// connection without a shutdown exchange.
func (c *Conn) Run(ctx context.Context) error {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.Connections.Inc()
		defer c.cfg.Metrics.Connections.Dec()
	}

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	defer c.sched.Stop()

	if c.mode == ModeConnect {
		c.sendHandshake(protocol.HandshakeHello)
	}

	for c.State() != StateClosed {
		// The producer queue is only drained while connected.
		var outbound <-chan Update
		if c.State() == StateConnected {
			outbound = c.outbound
		}

		select {
		case <-ctx.Done():
			c.terminate(ctx.Err(), false)

		case <-c.closeCh:
			c.terminate(nil, true)

		case b := <-c.inbound:
			c.handleDatagram(b)

		case <-ticker.C:
			c.tick()

		case now := <-c.sched.C():
			for _, ev := range c.sched.Advance(now) {
				c.deliver(ev)
			}
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.SchedulerLen.Set(float64(c.sched.Len()))
			}

		case u := <-outbound:
			c.flushOutbound(u, outbound)
		}
	}

	return c.terminalErr
}

// terminate moves the connection through Closing to Closed, optionally
// sending a Shutdown to the peer, and emits the single disconnect event.
func (c *Conn) terminate(reason error, notifyPeer bool) {
	if c.State() == StateClosed {
		return
	}
	c.state.Store(int32(StateClosing))

	if notifyPeer {
		kind := protocol.ShutdownGraceful
		if reason != nil {
			kind = protocol.ShutdownError
		}
		c.sendPacket(&protocol.Packet{
			ControlFrame: c.frame,
			Messages:     []protocol.Message{protocol.Shutdown{Reason: kind}},
		})
	}

	c.sched.Stop()
	c.terminalErr = reason
	c.state.Store(int32(StateClosed))
	c.Close()

	if reason != nil {
		c.logger.Info("disconnected", slog.String("reason", reason.Error()))
	} else {
		c.logger.Info("disconnected")
	}

	c.forcePush(EventDisconnected{Reason: reason})
	close(c.events)
}

// deliver hands an event to the consumer queue. The queue is bounded, so
// a consumer that stops draining backpressures the connection goroutine;
// a close releases it.
func (c *Conn) deliver(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closeCh:
	}
}

// forcePush guarantees delivery of the final disconnect event by evicting
// the oldest queued event if the consumer stopped draining. Only the
// connection goroutine sends on events, so the loop terminates.
func (c *Conn) forcePush(ev Event) {
	for {
		select {
		case c.events <- ev:
			return
		default:
		}
		select {
		case <-c.events:
		default:
		}
	}
}

// tick advances the local control frame, drains the backlog for it, and
// emits a pending acknowledgement.
func (c *Conn) tick() {
	if c.State() != StateConnected {
		if time.Since(c.lastRecv) > c.cfg.IdleTimeout {
			c.terminate(protocol.ErrTimeout, false)
			return
		}
		c.resendHandshake()
		return
	}

	if time.Since(c.lastRecv) > c.cfg.IdleTimeout {
		c.terminate(protocol.ErrTimeout, false)
		return
	}

	c.frame = c.frame.Add(1)

	for _, msg := range c.backlog.Drain(c.frame) {
		c.applyMessage(c.frame, msg)
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.BacklogDepth.Set(float64(c.backlog.PendingLen()))
	}

	if c.recvSinceAck {
		c.recvSinceAck = false
		c.nextAckSeq = c.nextAckSeq.Next()
		c.sendPacket(&protocol.Packet{
			ControlFrame: c.frame,
			Messages: []protocol.Message{protocol.Ack{
				Sequence:    c.nextPeerSeq.Sub(1),
				AckSequence: c.nextAckSeq,
			}},
		})
	}
}

// handleDatagram decodes one datagram and dispatches its messages. A
// malformed datagram is logged and dropped; datagrams are inherently
// lossy, so this is never fatal.
func (c *Conn) handleDatagram(b []byte) {
	c.lastRecv = time.Now()
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.PacketsReceived.Inc()
		c.cfg.Metrics.BytesReceived.Add(float64(len(b)))
	}

	p, err := protocol.DecodePacket(b)
	if err != nil {
		c.logger.Debug("dropping malformed packet", slog.Any("error", err))
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.DecodeErrors.Inc()
			c.cfg.Metrics.PacketsDropped.Inc()
		}
		return
	}

	if c.isData(p) && !c.trackSequence(p.Sequence) {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.PacketsDropped.Inc()
		}
		return
	}

	for _, msg := range p.Messages {
		c.handleMessage(p, msg)
	}
}

// isData reports whether the packet participates in sequence tracking.
// Packets carrying only control messages (handshake, ack, nak, shutdown)
// are unsequenced.
func (c *Conn) isData(p *protocol.Packet) bool {
	for _, msg := range p.Messages {
		switch msg.Type() {
		case protocol.MessageHandshake, protocol.MessageAck,
			protocol.MessageNak, protocol.MessageShutdown:
		default:
			return true
		}
	}
	return false
}

// trackSequence updates the expected peer sequence and reports whether
// the packet should be processed. A gap produces one Nak covering the
// missing range; a late arrival is accepted only if it is on the loss
// list, otherwise it is a duplicate.
func (c *Conn) trackSequence(seq protocol.Sequence) bool {
	switch seq.Cmp(c.nextPeerSeq) {
	case serial.Less:
		if c.loss.remove(seq) {
			return true
		}
		c.logger.Debug("dropping duplicate packet", slog.Uint64("sequence", uint64(seq)))
		return false

	case serial.Greater:
		// Everything between the expected and received sequence was
		// lost (or is still in flight). A gap wider than the flow
		// window means a corrupt or rogue sequence; drop the packet
		// rather than flooding the loss list.
		gap := uint32(seq.Sub(uint32(c.nextPeerSeq)))
		if gap > uint32(c.cfg.FlowWindow) {
			c.logger.Warn("sequence gap exceeds flow window",
				slog.Uint64("sequence", uint64(seq)),
				slog.Uint64("expected", uint64(c.nextPeerSeq)))
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.InvariantViolations.Inc()
			}
			return false
		}

		c.sendPacket(&protocol.Packet{
			ControlFrame: c.frame,
			Messages: []protocol.Message{protocol.Nak{
				Start: c.nextPeerSeq,
				End:   seq.Sub(1),
			}},
		})
		for s := c.nextPeerSeq; s != seq; s = s.Next() {
			c.loss.insert(s)
		}
		c.nextPeerSeq = seq.Next()
		return true

	default:
		c.nextPeerSeq = c.nextPeerSeq.Next()
		return true
	}
}

func (c *Conn) handleMessage(p *protocol.Packet, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Handshake:
		c.handleHandshake(m)
	case protocol.Shutdown:
		c.handlePeerShutdown(m)
	case protocol.Ack:
		c.handleAck(m)
	case protocol.Nak:
		c.handleNak(m)
	default:
		c.handleData(p, msg)
	}
}

func (c *Conn) handleData(p *protocol.Packet, msg protocol.Message) {
	if c.State() != StateConnected {
		c.logger.Debug("dropping data before handshake completion",
			slog.String("type", msg.Type().String()))
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.PacketsDropped.Inc()
		}
		return
	}

	c.verifier.Push(p.ControlFrame, msg)
	c.recvSinceAck = true

	// Apply immediately when the frame is current or already past;
	// otherwise bucket it until its frame is reached.
	if p.ControlFrame.Cmp(c.frame) != serial.Greater {
		c.applyMessage(p.ControlFrame, msg)
	} else {
		c.backlog.Insert(p.ControlFrame, msg)
	}
}

// applyMessage translates one due message into the local id space and
// routes it through the output delay scheduler. Messages referencing an
// entity that does not exist locally yet are parked until its creation
// is processed.
func (c *Conn) applyMessage(cf protocol.ControlFrame, msg protocol.Message) {
	u, ok := unpackMessage(msg, c.table, c.allocLocal)
	if !ok {
		if wire, hasEntity := protocol.MessageEntity(msg); hasEntity {
			c.backlog.PushPending(wire, msg)
			return
		}
		c.logger.Warn("dropping untranslatable message",
			slog.String("type", msg.Type().String()))
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.InvariantViolations.Inc()
		}
		return
	}

	now := time.Now()
	c.sched.Push(EventUpdate{Frame: cf, Update: u}, now)

	// The creation unblocks anything parked for this entity.
	if create, isCreate := msg.(protocol.EntityCreate); isCreate {
		for _, parked := range c.backlog.TakePending(create.Entity) {
			if pu, pok := unpackMessage(parked, c.table, c.allocLocal); pok {
				c.sched.Push(EventUpdate{Frame: cf, Update: pu}, now)
			}
		}
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SchedulerLen.Set(float64(c.sched.Len()))
	}
}

func (c *Conn) allocLocal() entity.LocalID {
	c.nextLocal++
	return c.nextLocal
}

func (c *Conn) handleHandshake(m protocol.Handshake) {
	if c.State() != StateHandshaking {
		// A lost final Agreement leaves the peer repeating its round;
		// answer so it can finish.
		if c.State() == StateConnected && c.mode == ModeListen &&
			m.Kind == protocol.HandshakeAgreement {
			c.sendHandshake(protocol.HandshakeAgreement)
		}
		return
	}

	if m.Kind.IsReject() {
		err := protocol.ErrInvalidHandshake
		if m.Kind == protocol.HandshakeRejectVersion {
			err = protocol.ErrVersionMismatch
		}
		c.terminate(err, false)
		return
	}

	switch c.phase {
	case phaseHello:
		if m.Kind != protocol.HandshakeHello {
			c.reject(protocol.HandshakeRejectRogue)
			c.terminate(protocol.ErrInvalidHandshake, false)
			return
		}
		if !protocol.IsVersionSupported(m.Version) {
			c.logger.Info("rejecting peer with unsupported version",
				slog.Int("version", int(m.Version)))
			c.reject(protocol.HandshakeRejectVersion)
			c.terminate(protocol.ErrVersionMismatch, false)
			return
		}

		c.nextPeerSeq = m.InitialSequence
		c.peerDelay = m.ConstDelay
		c.peerMTU = m.MTU
		c.peerWindow = m.FlowWindow

		if c.mode == ModeConnect {
			// Peer answered our Hello; move to the agreement round.
			c.sendHandshake(protocol.HandshakeAgreement)
		} else {
			c.sendHandshake(protocol.HandshakeHello)
		}
		c.phase = phaseAgreement

	case phaseAgreement:
		if m.Kind == protocol.HandshakeHello {
			// Our response to the first Hello was lost; repeat it.
			if c.mode == ModeConnect {
				c.sendHandshake(protocol.HandshakeAgreement)
			} else {
				c.sendHandshake(protocol.HandshakeHello)
			}
			return
		}
		if m.Kind != protocol.HandshakeAgreement {
			c.reject(protocol.HandshakeRejectRogue)
			c.terminate(protocol.ErrInvalidHandshake, false)
			return
		}
		if m.InitialSequence != c.nextPeerSeq {
			c.logger.Warn("peer changed initial sequence between hello and agreement",
				slog.Uint64("hello", uint64(c.nextPeerSeq)),
				slog.Uint64("agreement", uint64(m.InitialSequence)))
		}

		if c.mode == ModeListen {
			c.sendHandshake(protocol.HandshakeAgreement)
		}

		// The listen side owns the interpolation delay; the dialing
		// side adopts what it advertised.
		if c.mode == ModeConnect && c.peerDelay > 0 {
			d := time.Duration(c.peerDelay) * c.cfg.TickInterval
			if d != c.cfg.Delay {
				c.logger.Info("adopting peer output delay", slog.Duration("delay", d))
			}
			c.sched.SetDelay(d)
		}

		c.state.Store(int32(StateConnected))
		c.frame = 0
		c.backlog = NewBacklog(c.cfg.RingSize, 1)
		c.logger.Info("connected")
		c.deliver(EventConnected{})
	}
}

func (c *Conn) handlePeerShutdown(m protocol.Shutdown) {
	c.logger.Info("peer requested shutdown", slog.Int("reason", int(m.Reason)))
	c.terminate(protocol.ErrPeerShutdown, false)
}

// handleAck prunes the retransmission buffer up to the acknowledged
// sequence. Duplicate or stale acks are ignored.
func (c *Conn) handleAck(m protocol.Ack) {
	if c.haveAcked && m.AckSequence.Cmp(c.lastAckSeq) != serial.Greater {
		c.logger.Debug("ignoring stale ack",
			slog.Uint64("ack_sequence", uint64(m.AckSequence)))
		return
	}
	c.haveAcked = true
	c.lastAckSeq = m.AckSequence

	kept := c.inflightOrder[:0]
	for _, seq := range c.inflightOrder {
		if seq.Cmp(m.Sequence) != serial.Greater {
			delete(c.inflight, seq)
		} else {
			kept = append(kept, seq)
		}
	}
	c.inflightOrder = kept
}

// handleNak retransmits the packets in the reported loss range that are
// still buffered. The walk is capped at the flow window so a corrupt
// range cannot spin the loop.
func (c *Conn) handleNak(m protocol.Nak) {
	seq := m.Start
	for i := uint32(0); i <= uint32(c.cfg.FlowWindow); i++ {
		if b, ok := c.inflight[seq]; ok {
			c.sendBytes(b)
		}
		if seq == m.End {
			return
		}
		seq = seq.Next()
	}
	c.logger.Warn("nak range exceeds flow window",
		slog.Uint64("start", uint64(m.Start)),
		slog.Uint64("end", uint64(m.End)))
}

// sendMTU returns the outbound packet size cap, the smaller of the two
// MTUs advertised in the handshake.
func (c *Conn) sendMTU() int {
	mtu := int(c.cfg.MTU)
	if c.peerMTU > 0 && int(c.peerMTU) < mtu {
		mtu = int(c.peerMTU)
	}
	return mtu
}

// sendWindow bounds the retransmission buffer by the smaller of the two
// flow windows advertised in the handshake.
func (c *Conn) sendWindow() int {
	w := int(c.cfg.FlowWindow)
	if c.peerWindow > 0 && int(c.peerWindow) < w {
		w = int(c.peerWindow)
	}
	return w
}

// packetOverhead is the worst-case envelope size around the messages:
// sequence varint, control frame, message count varint.
const packetOverhead = 5 + 4 + 2

// flushOutbound drains queued updates into data packets, each stamped
// with the current control frame and its own sequence, split so no
// packet exceeds the negotiated MTU.
func (c *Conn) flushOutbound(first Update, outbound <-chan Update) {
	updates := []Update{first}
drain:
	for len(updates) < maxPacketMessages {
		select {
		case u := <-outbound:
			updates = append(updates, u)
		default:
			break drain
		}
	}

	budget := c.sendMTU()
	var msgs []protocol.Message
	size := packetOverhead
	for _, u := range updates {
		msg, ok := packUpdate(u, c.table)
		if !ok {
			c.logger.Warn("dropping update for unmapped entity",
				slog.Uint64("entity", uint64(u.Entity)),
				slog.String("type", u.Kind.String()))
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.InvariantViolations.Inc()
			}
			continue
		}
		n := len(protocol.AppendMessage(nil, msg))
		if len(msgs) > 0 && size+n > budget {
			c.sendData(msgs)
			msgs = nil
			size = packetOverhead
		}
		msgs = append(msgs, msg)
		size += n
	}
	if len(msgs) > 0 {
		c.sendData(msgs)
	}
}

// sendData emits one sequenced data packet and buffers it for
// retransmission until acked, bounded by the negotiated flow window.
func (c *Conn) sendData(msgs []protocol.Message) {
	seq := c.nextLocalSeq
	c.nextLocalSeq = c.nextLocalSeq.Next()

	b := protocol.EncodePacket(&protocol.Packet{
		Sequence:     seq,
		ControlFrame: c.frame,
		Messages:     msgs,
	})

	c.inflight[seq] = b
	c.inflightOrder = append(c.inflightOrder, seq)
	if len(c.inflightOrder) > c.sendWindow() {
		oldest := c.inflightOrder[0]
		c.inflightOrder = c.inflightOrder[1:]
		delete(c.inflight, oldest)
	}

	c.sendBytes(b)
}

// resendHandshake repeats the current handshake round. Handshake
// packets are unsequenced, so a lost one would otherwise strand both
// sides until the idle timeout.
func (c *Conn) resendHandshake() {
	switch {
	case c.mode == ModeConnect && c.phase == phaseHello:
		c.sendHandshake(protocol.HandshakeHello)
	case c.mode == ModeConnect && c.phase == phaseAgreement:
		c.sendHandshake(protocol.HandshakeAgreement)
	case c.mode == ModeListen && c.phase == phaseAgreement:
		c.sendHandshake(protocol.HandshakeHello)
	}
}

func (c *Conn) sendHandshake(kind protocol.HandshakeKind) {
	c.sendPacket(&protocol.Packet{
		Messages: []protocol.Message{protocol.Handshake{
			Version:         protocol.Version,
			Kind:            kind,
			MTU:             c.cfg.MTU,
			FlowWindow:      c.cfg.FlowWindow,
			InitialSequence: c.cfg.InitialSequence,
			ConstDelay:      uint16(c.cfg.Delay / c.cfg.TickInterval),
		}},
	})
}

func (c *Conn) reject(kind protocol.HandshakeKind) {
	c.sendPacket(&protocol.Packet{
		Messages: []protocol.Message{protocol.Handshake{
			Version: protocol.Version,
			Kind:    kind,
		}},
	})
}

// sendPacket encodes and hands one control packet to the transport.
func (c *Conn) sendPacket(p *protocol.Packet) {
	c.sendBytes(protocol.EncodePacket(p))
}

func (c *Conn) sendBytes(b []byte) {
	if err := c.send(b); err != nil {
		// Sends are best effort; the protocol tolerates loss.
		c.logger.Debug("transport send failed", slog.Any("error", err))
		return
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.PacketsSent.Inc()
		c.cfg.Metrics.BytesSent.Add(float64(len(b)))
	}
}
