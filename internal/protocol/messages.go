package protocol

// WireEntityID is the stable entity identifier assigned by the
// authoritative peer. It is never reused while the entity is alive and is
// the only entity identifier that appears on the wire.
type WireEntityID uint64

// ComponentID identifies a component type attached to an entity.
type ComponentID uint64

// MessageType is the 1-byte discriminant that begins every encoded message.
type MessageType uint8

const (
	MessageEntityCreate MessageType = iota
	MessageEntityDestroy
	MessageEntityTranslate
	MessageEntityRotate
	MessageComponentAdd
	MessageComponentUpdate
	MessageComponentRemove
	MessageAck
	MessageNak
	MessageHandshake
	MessageShutdown
)

func (t MessageType) String() string {
	switch t {
	case MessageEntityCreate:
		return "entity_create"
	case MessageEntityDestroy:
		return "entity_destroy"
	case MessageEntityTranslate:
		return "entity_translate"
	case MessageEntityRotate:
		return "entity_rotate"
	case MessageComponentAdd:
		return "component_add"
	case MessageComponentUpdate:
		return "component_update"
	case MessageComponentRemove:
		return "component_remove"
	case MessageAck:
		return "ack"
	case MessageNak:
		return "nak"
	case MessageHandshake:
		return "handshake"
	case MessageShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Message is a single protocol message. Messages are batched into a
// Packet and stamped with the control frame in its header.
type Message interface {
	// Type returns the wire discriminant for this message.
	Type() MessageType
}

// Vec3 is a position in world space.
type Vec3 struct {
	X, Y, Z float32
}

// Quat is a rotation quaternion.
type Quat struct {
	X, Y, Z, W float32
}

// EntityKind distinguishes static objects from actors on creation.
type EntityKind uint8

const (
	EntityObject EntityKind = iota
	EntityActor
)

// EntityCreate creates a new entity on the receiving peer.
type EntityCreate struct {
	Entity      WireEntityID
	Kind        EntityKind
	Translation Vec3
	Rotation    Quat
}

func (EntityCreate) Type() MessageType { return MessageEntityCreate }

// EntityDestroy removes an entity on the receiving peer.
type EntityDestroy struct {
	Entity WireEntityID
}

func (EntityDestroy) Type() MessageType { return MessageEntityDestroy }

// EntityTranslate sets the absolute translation of an entity.
type EntityTranslate struct {
	Entity      WireEntityID
	Translation Vec3
}

func (EntityTranslate) Type() MessageType { return MessageEntityTranslate }

// EntityRotate sets the absolute rotation of an entity.
type EntityRotate struct {
	Entity   WireEntityID
	Rotation Quat
}

func (EntityRotate) Type() MessageType { return MessageEntityRotate }

// ComponentAdd attaches a component to an entity.
type ComponentAdd struct {
	Entity    WireEntityID
	Component ComponentID
	Data      []byte
}

func (ComponentAdd) Type() MessageType { return MessageComponentAdd }

// ComponentUpdate replaces the data of a component on an entity.
type ComponentUpdate struct {
	Entity    WireEntityID
	Component ComponentID
	Data      []byte
}

func (ComponentUpdate) Type() MessageType { return MessageComponentUpdate }

// ComponentRemove detaches a component from an entity.
type ComponentRemove struct {
	Entity    WireEntityID
	Component ComponentID
}

func (ComponentRemove) Type() MessageType { return MessageComponentRemove }

// Ack acknowledges receipt of the packet with the given sequence.
// AckSequence is the ack's own counter so stale acks can be discarded.
type Ack struct {
	Sequence    Sequence
	AckSequence Sequence
}

func (Ack) Type() MessageType { return MessageAck }

// Nak reports the loss of all packets in the inclusive sequence range
// [Start, End].
type Nak struct {
	Start Sequence
	End   Sequence
}

func (Nak) Type() MessageType { return MessageNak }

// HandshakeKind is the phase or rejection code of a Handshake message.
type HandshakeKind uint8

const (
	HandshakeHello     HandshakeKind = 0
	HandshakeAgreement HandshakeKind = 1

	HandshakeRejectUnknown HandshakeKind = 16
	HandshakeRejectRogue   HandshakeKind = 17
	HandshakeRejectVersion HandshakeKind = 18
)

// IsReject reports whether the kind is a rejection code.
func (k HandshakeKind) IsReject() bool {
	return k >= HandshakeRejectUnknown
}

// Handshake negotiates a new connection.
//
// The connecting peer sends Hello, the listener answers Hello, the
// connecting peer sends Agreement and the listener confirms with
// Agreement or one of the rejection codes.
type Handshake struct {
	Version         uint16
	Kind            HandshakeKind
	MTU             uint16
	FlowWindow      uint16
	InitialSequence Sequence
	// ConstDelay is the constant interpolation delay in control frames
	// the sender applies to inbound state.
	ConstDelay uint16
}

func (Handshake) Type() MessageType { return MessageHandshake }

// ShutdownReason explains why a peer is closing the connection.
type ShutdownReason uint8

const (
	ShutdownGraceful ShutdownReason = iota
	ShutdownError
)

// Shutdown signals that the sender will stop processing packets.
type Shutdown struct {
	Reason ShutdownReason
}

func (Shutdown) Type() MessageType { return MessageShutdown }

// MessageEntity returns the entity a message refers to, if any.
func MessageEntity(m Message) (WireEntityID, bool) {
	switch msg := m.(type) {
	case EntityCreate:
		return msg.Entity, true
	case EntityDestroy:
		return msg.Entity, true
	case EntityTranslate:
		return msg.Entity, true
	case EntityRotate:
		return msg.Entity, true
	case ComponentAdd:
		return msg.Entity, true
	case ComponentUpdate:
		return msg.Entity, true
	case ComponentRemove:
		return msg.Entity, true
	default:
		return 0, false
	}
}
