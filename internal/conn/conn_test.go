package conn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/statewire/statewire/internal/entity"
	"github.com/statewire/statewire/internal/protocol"
)

func testConfig() Config {
	return Config{
		TickInterval:    10 * time.Millisecond,
		Delay:           5 * time.Millisecond,
		IdleTimeout:     2 * time.Second,
		RingSize:        64,
		InitialSequence: 100,
		QueueDepth:      256,
	}
}

// pair wires two connections directly together and runs both.
func pair(t *testing.T) (*Conn, *Conn) {
	t.Helper()

	var client, server *Conn
	client = New(ModeConnect, func(b []byte) error {
		return server.HandleDatagram(b)
	}, testConfig())
	server = New(ModeListen, func(b []byte) error {
		return client.HandleDatagram(b)
	}, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go client.Run(ctx)
	go server.Run(ctx)

	return client, server
}

func waitEvent[T Event](t *testing.T, c *Conn, timeout time.Duration) T {
	t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatalf("event channel closed while waiting for %T", *new(T))
			}
			if want, isWant := ev.(T); isWant {
				return want
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %T", *new(T))
		}
	}
}

func TestHandshakeCompletes(t *testing.T) {
	client, server := pair(t)

	waitEvent[EventConnected](t, client, 2*time.Second)
	waitEvent[EventConnected](t, server, 2*time.Second)

	if client.State() != StateConnected {
		t.Errorf("client state = %v, want connected", client.State())
	}
	if server.State() != StateConnected {
		t.Errorf("server state = %v, want connected", server.State())
	}
}

func TestStateSyncEndToEnd(t *testing.T) {
	client, server := pair(t)
	waitEvent[EventConnected](t, client, 2*time.Second)
	waitEvent[EventConnected](t, server, 2*time.Second)

	// The authoritative side creates an entity and moves it.
	server.Enqueue(Update{
		Kind:       protocol.MessageEntityCreate,
		Entity:     entity.LocalID(42),
		EntityKind: protocol.EntityActor,
		Rotation:   protocol.Quat{W: 1},
	})
	server.Enqueue(Update{
		Kind:        protocol.MessageEntityTranslate,
		Entity:      entity.LocalID(42),
		Translation: protocol.Vec3{X: 3},
	})

	create := waitEvent[EventUpdate](t, client, 2*time.Second)
	if create.Update.Kind != protocol.MessageEntityCreate {
		t.Fatalf("first update kind = %v, want entity create", create.Update.Kind)
	}

	translate := waitEvent[EventUpdate](t, client, 2*time.Second)
	if translate.Update.Kind != protocol.MessageEntityTranslate {
		t.Fatalf("second update kind = %v, want entity translate", translate.Update.Kind)
	}
	if translate.Update.Entity != create.Update.Entity {
		t.Errorf("translate entity %d does not match created entity %d",
			translate.Update.Entity, create.Update.Entity)
	}
	if translate.Update.Translation.X != 3 {
		t.Errorf("translation.X = %v, want 3", translate.Update.Translation.X)
	}
}

func TestLocalCloseNotifiesPeer(t *testing.T) {
	client, server := pair(t)
	waitEvent[EventConnected](t, client, 2*time.Second)
	waitEvent[EventConnected](t, server, 2*time.Second)

	client.Close()

	got := waitEvent[EventDisconnected](t, client, 2*time.Second)
	if got.Reason != nil {
		t.Errorf("local close reason = %v, want nil", got.Reason)
	}

	peer := waitEvent[EventDisconnected](t, server, 2*time.Second)
	if !errors.Is(peer.Reason, protocol.ErrPeerShutdown) {
		t.Errorf("peer disconnect reason = %v, want peer shutdown", peer.Reason)
	}
}

// manualConn drives a listen-mode connection with hand-crafted packets.
type manualConn struct {
	conn *Conn
	sent chan *protocol.Packet
}

func newManualConn(t *testing.T, cfg Config) *manualConn {
	t.Helper()

	m := &manualConn{sent: make(chan *protocol.Packet, 256)}
	m.conn = New(ModeListen, func(b []byte) error {
		p, err := protocol.DecodePacket(b)
		if err != nil {
			t.Errorf("connection sent an undecodable packet: %v", err)
			return nil
		}
		m.sent <- p
		return nil
	}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.conn.Run(ctx)
	return m
}

func (m *manualConn) inject(t *testing.T, p *protocol.Packet) {
	t.Helper()
	if err := m.conn.HandleDatagram(protocol.EncodePacket(p)); err != nil {
		t.Fatalf("HandleDatagram failed: %v", err)
	}
}

// handshake walks the listen side through Hello and Agreement as the
// remote peer would.
func (m *manualConn) handshake(t *testing.T, peerSeq protocol.Sequence) {
	t.Helper()
	m.handshakeWith(t, protocol.Handshake{
		Version:         protocol.Version,
		Kind:            protocol.HandshakeHello,
		MTU:             1500,
		FlowWindow:      8192,
		InitialSequence: peerSeq,
	})
}

// handshakeWith completes the exchange advertising the given Hello.
func (m *manualConn) handshakeWith(t *testing.T, hello protocol.Handshake) {
	t.Helper()

	m.inject(t, &protocol.Packet{Messages: []protocol.Message{hello}})

	agreement := hello
	agreement.Kind = protocol.HandshakeAgreement
	m.inject(t, &protocol.Packet{Messages: []protocol.Message{agreement}})
}

// An EntityTranslate received before its EntityCreate (simulated packet
// reorder) is parked and applied only after the create, with both
// updates surfacing in dependency order.
func TestReorderedCreateAppliedInOrder(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = time.Hour // keep frames still for determinism
	m := newManualConn(t, cfg)

	m.handshake(t, 100)
	waitEvent[EventConnected](t, m.conn, 2*time.Second)

	// The translate's packet (sequence 101) overtakes the create's
	// (sequence 100) in flight.
	m.inject(t, &protocol.Packet{
		Sequence:     101,
		ControlFrame: 0,
		Messages: []protocol.Message{
			protocol.EntityTranslate{Entity: 7, Translation: protocol.Vec3{X: 1}},
		},
	})
	m.inject(t, &protocol.Packet{
		Sequence:     100,
		ControlFrame: 0,
		Messages: []protocol.Message{
			protocol.EntityCreate{Entity: 7, Rotation: protocol.Quat{W: 1}},
		},
	})

	create := waitEvent[EventUpdate](t, m.conn, 2*time.Second)
	if create.Update.Kind != protocol.MessageEntityCreate {
		t.Fatalf("first delivered update = %v, want entity create", create.Update.Kind)
	}

	translate := waitEvent[EventUpdate](t, m.conn, 2*time.Second)
	if translate.Update.Kind != protocol.MessageEntityTranslate {
		t.Fatalf("second delivered update = %v, want entity translate", translate.Update.Kind)
	}
	if translate.Update.Entity != create.Update.Entity {
		t.Errorf("translate applied to entity %d, created %d",
			translate.Update.Entity, create.Update.Entity)
	}
}

// A sequence gap produces one Nak covering the missing range.
func TestSequenceGapProducesNak(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = time.Hour
	m := newManualConn(t, cfg)

	m.handshake(t, 100)
	waitEvent[EventConnected](t, m.conn, 2*time.Second)

	// Drain the packets the handshake produced.
	for len(m.sent) > 0 {
		<-m.sent
	}

	m.inject(t, &protocol.Packet{
		Sequence: 103,
		Messages: []protocol.Message{
			protocol.EntityCreate{Entity: 1, Rotation: protocol.Quat{W: 1}},
		},
	})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case p := <-m.sent:
			for _, msg := range p.Messages {
				if nak, ok := msg.(protocol.Nak); ok {
					if nak.Start != 100 || nak.End != 102 {
						t.Errorf("nak range [%d, %d], want [100, 102]", nak.Start, nak.End)
					}
					return
				}
			}
		case <-deadline:
			t.Fatal("no nak emitted for sequence gap")
		}
	}
}

func TestVersionMismatchIsFatal(t *testing.T) {
	m := newManualConn(t, testConfig())

	m.inject(t, &protocol.Packet{Messages: []protocol.Message{protocol.Handshake{
		Version: 99,
		Kind:    protocol.HandshakeHello,
	}}})

	got := waitEvent[EventDisconnected](t, m.conn, 2*time.Second)
	if !errors.Is(got.Reason, protocol.ErrVersionMismatch) {
		t.Errorf("disconnect reason = %v, want version mismatch", got.Reason)
	}
	if m.conn.State() != StateClosed {
		t.Errorf("state = %v, want closed", m.conn.State())
	}
}

// Silence beyond the idle timeout closes the connection with exactly one
// disconnect notification.
func TestIdleTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 50 * time.Millisecond
	m := newManualConn(t, cfg)

	m.handshake(t, 100)
	waitEvent[EventConnected](t, m.conn, 2*time.Second)

	var disconnects int
	for ev := range m.conn.Events() {
		if _, ok := ev.(EventDisconnected); ok {
			disconnects++
		}
	}
	if disconnects != 1 {
		t.Fatalf("received %d disconnect events, want 1", disconnects)
	}
	if !errors.Is(m.conn.Err(), protocol.ErrTimeout) {
		t.Errorf("Err() = %v, want timeout", m.conn.Err())
	}
}

// With both endpoints originating entities, an update from one side
// must never be routed to an entity the other side created.
func TestBidirectionalCreatesStayDistinct(t *testing.T) {
	client, server := pair(t)
	waitEvent[EventConnected](t, client, 2*time.Second)
	waitEvent[EventConnected](t, server, 2*time.Second)

	server.Enqueue(Update{
		Kind:       protocol.MessageEntityCreate,
		Entity:     entity.LocalID(1),
		EntityKind: protocol.EntityActor,
		Rotation:   protocol.Quat{W: 1},
	})
	client.Enqueue(Update{
		Kind:       protocol.MessageEntityCreate,
		Entity:     entity.LocalID(99),
		EntityKind: protocol.EntityActor,
		Rotation:   protocol.Quat{W: 1},
	})

	serverEntity := waitEvent[EventUpdate](t, client, 2*time.Second)
	if serverEntity.Update.Kind != protocol.MessageEntityCreate {
		t.Fatalf("client's first update = %v, want entity create", serverEntity.Update.Kind)
	}
	if serverEntity.Update.Entity == 99 {
		t.Fatal("peer-created entity took the client's own entity id")
	}
	clientEntity := waitEvent[EventUpdate](t, server, 2*time.Second)
	if clientEntity.Update.Kind != protocol.MessageEntityCreate {
		t.Fatalf("server's first update = %v, want entity create", clientEntity.Update.Kind)
	}

	server.Enqueue(Update{
		Kind:        protocol.MessageEntityTranslate,
		Entity:      entity.LocalID(1),
		Translation: protocol.Vec3{X: 5},
	})

	translate := waitEvent[EventUpdate](t, client, 2*time.Second)
	if translate.Update.Kind != protocol.MessageEntityTranslate {
		t.Fatalf("second client update = %v, want entity translate", translate.Update.Kind)
	}
	if translate.Update.Entity == 99 {
		t.Fatal("server's movement was routed to the client's own entity")
	}
	if translate.Update.Entity != serverEntity.Update.Entity {
		t.Errorf("translate applied to entity %d, server's entity is %d",
			translate.Update.Entity, serverEntity.Update.Entity)
	}
}

// Outbound packets must stay under the smaller of the two advertised
// MTUs, splitting a batch across packets when needed.
func TestOutboundPacketsRespectPeerMTU(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = time.Hour
	m := newManualConn(t, cfg)

	m.handshakeWith(t, protocol.Handshake{
		Version:         protocol.Version,
		Kind:            protocol.HandshakeHello,
		MTU:             64,
		FlowWindow:      8192,
		InitialSequence: 100,
	})
	waitEvent[EventConnected](t, m.conn, 2*time.Second)
	for len(m.sent) > 0 {
		<-m.sent
	}

	const creates = 6
	for i := 0; i < creates; i++ {
		m.conn.Enqueue(Update{
			Kind:       protocol.MessageEntityCreate,
			Entity:     entity.LocalID(i + 1),
			EntityKind: protocol.EntityActor,
			Rotation:   protocol.Quat{W: 1},
		})
	}

	var got, packets int
	deadline := time.After(2 * time.Second)
	for got < creates {
		select {
		case p := <-m.sent:
			if size := len(protocol.EncodePacket(p)); size > 64 {
				t.Errorf("sent a %d byte packet, peer MTU is 64", size)
			}
			packets++
			for _, msg := range p.Messages {
				if _, ok := msg.(protocol.EntityCreate); ok {
					got++
				}
			}
		case <-deadline:
			t.Fatalf("received %d of %d creates", got, creates)
		}
	}
	if packets < 2 {
		t.Errorf("all creates fit in %d packet(s), expected a split", packets)
	}
}

// The retransmission buffer is bounded by the peer's advertised flow
// window: only the newest packets inside it answer a Nak.
func TestRetransmitBoundedByPeerWindow(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = time.Hour
	m := newManualConn(t, cfg)

	m.handshakeWith(t, protocol.Handshake{
		Version:         protocol.Version,
		Kind:            protocol.HandshakeHello,
		MTU:             64,
		FlowWindow:      2,
		InitialSequence: 100,
	})
	waitEvent[EventConnected](t, m.conn, 2*time.Second)
	for len(m.sent) > 0 {
		<-m.sent
	}

	// One create per packet at MTU 64, so sequences 100 through 103.
	for i := 0; i < 4; i++ {
		m.conn.Enqueue(Update{
			Kind:       protocol.MessageEntityCreate,
			Entity:     entity.LocalID(i + 1),
			EntityKind: protocol.EntityActor,
			Rotation:   protocol.Quat{W: 1},
		})
	}
	seen := 0
	deadline := time.After(2 * time.Second)
	for seen < 4 {
		select {
		case <-m.sent:
			seen++
		case <-deadline:
			t.Fatalf("received %d of 4 data packets", seen)
		}
	}

	m.inject(t, &protocol.Packet{Messages: []protocol.Message{
		protocol.Nak{Start: 100, End: 103},
	}})

	var resent []protocol.Sequence
	timeout := time.After(200 * time.Millisecond)
collect:
	for {
		select {
		case p := <-m.sent:
			resent = append(resent, p.Sequence)
		case <-timeout:
			break collect
		}
	}
	if len(resent) != 2 || resent[0] != 102 || resent[1] != 103 {
		t.Errorf("retransmitted %v, want [102 103]", resent)
	}
}

// A handshake packet can be lost like any other; the responder repeats
// its round each tick until the peer's Agreement lands.
func TestHandshakeRoundRepeatsUntilComplete(t *testing.T) {
	m := newManualConn(t, testConfig())

	hello := protocol.Handshake{
		Version:         protocol.Version,
		Kind:            protocol.HandshakeHello,
		MTU:             1500,
		FlowWindow:      8192,
		InitialSequence: 100,
	}
	m.inject(t, &protocol.Packet{Messages: []protocol.Message{hello}})

	hellos := 0
	deadline := time.After(2 * time.Second)
	for hellos < 3 {
		select {
		case p := <-m.sent:
			for _, msg := range p.Messages {
				if hs, ok := msg.(protocol.Handshake); ok && hs.Kind == protocol.HandshakeHello {
					hellos++
				}
			}
		case <-deadline:
			t.Fatal("hello response was not repeated")
		}
	}

	agreement := hello
	agreement.Kind = protocol.HandshakeAgreement
	m.inject(t, &protocol.Packet{Messages: []protocol.Message{agreement}})
	waitEvent[EventConnected](t, m.conn, 2*time.Second)
}

// The dialing side repeats its Hello until the listener answers.
func TestConnectRepeatsHello(t *testing.T) {
	sent := make(chan *protocol.Packet, 64)
	c := New(ModeConnect, func(b []byte) error {
		p, err := protocol.DecodePacket(b)
		if err != nil {
			t.Errorf("connection sent an undecodable packet: %v", err)
			return nil
		}
		sent <- p
		return nil
	}, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	hellos := 0
	deadline := time.After(2 * time.Second)
	for hellos < 3 {
		select {
		case p := <-sent:
			for _, msg := range p.Messages {
				if hs, ok := msg.(protocol.Handshake); ok && hs.Kind == protocol.HandshakeHello {
					hellos++
				}
			}
		case <-deadline:
			t.Fatal("hello was not repeated")
		}
	}
}

// A repeated Hello, the peer retrying because our response was lost, is
// answered again rather than treated as a protocol violation.
func TestDuplicateHelloTolerated(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = time.Hour
	m := newManualConn(t, cfg)

	hello := protocol.Handshake{
		Version:         protocol.Version,
		Kind:            protocol.HandshakeHello,
		MTU:             1500,
		FlowWindow:      8192,
		InitialSequence: 100,
	}
	m.inject(t, &protocol.Packet{Messages: []protocol.Message{hello}})
	m.inject(t, &protocol.Packet{Messages: []protocol.Message{hello}})

	agreement := hello
	agreement.Kind = protocol.HandshakeAgreement
	m.inject(t, &protocol.Packet{Messages: []protocol.Message{agreement}})

	waitEvent[EventConnected](t, m.conn, 2*time.Second)
	if m.conn.State() != StateConnected {
		t.Errorf("state = %v, want connected", m.conn.State())
	}
}

func TestStaleAckIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = time.Hour
	m := newManualConn(t, cfg)

	m.handshake(t, 100)
	waitEvent[EventConnected](t, m.conn, 2*time.Second)

	// Two acks with the same ack sequence: the second is a duplicate
	// and must be ignored without closing the connection.
	ack := protocol.Ack{Sequence: 100, AckSequence: 1}
	m.inject(t, &protocol.Packet{Messages: []protocol.Message{ack}})
	m.inject(t, &protocol.Packet{Messages: []protocol.Message{ack}})

	time.Sleep(50 * time.Millisecond)
	if m.conn.State() != StateConnected {
		t.Errorf("state = %v, want connected", m.conn.State())
	}
}
