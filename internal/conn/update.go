package conn

import (
	"github.com/statewire/statewire/internal/entity"
	"github.com/statewire/statewire/internal/protocol"
)

// Update is a single state change at the simulation boundary, expressed
// in the peer's local entity id space. The connection translates between
// Updates and wire messages using its entity table; wire ids never leak
// to the consumer and local ids never reach the wire. Entities created
// by the remote peer receive local ids from a reserved high range, clear
// of the ids the consumer picks for its own entities.
type Update struct {
	Kind   protocol.MessageType
	Entity entity.LocalID

	// Set for Kind == MessageEntityCreate.
	EntityKind protocol.EntityKind

	Translation protocol.Vec3
	Rotation    protocol.Quat

	// Set for the component message kinds.
	Component protocol.ComponentID
	Data      []byte
}

// Event is delivered to the consumer, one connection event or re-timed
// message at a time, in scheduled order.
type Event interface {
	isEvent()
}

// EventConnected is emitted once when the handshake completes.
type EventConnected struct{}

// EventDisconnected is emitted exactly once when the connection reaches
// the closed state. Reason is nil for a locally requested close.
type EventDisconnected struct {
	Reason error
}

// EventUpdate is a decoded, re-timed state change tagged with the control
// frame it applies to.
type EventUpdate struct {
	Frame  protocol.ControlFrame
	Update Update
}

func (EventConnected) isEvent()    {}
func (EventDisconnected) isEvent() {}
func (EventUpdate) isEvent()       {}

// packUpdate converts a local-space update into its wire message. For
// entity creation on the authoritative side a fresh wire id is allocated;
// every other kind requires the entity to be mapped already.
func packUpdate(u Update, table *entity.Table) (protocol.Message, bool) {
	wire, ok := table.GetWire(u.Entity)
	if !ok {
		if u.Kind != protocol.MessageEntityCreate {
			return nil, false
		}
		wire = table.Insert(u.Entity)
	}

	switch u.Kind {
	case protocol.MessageEntityCreate:
		return protocol.EntityCreate{
			Entity:      wire,
			Kind:        u.EntityKind,
			Translation: u.Translation,
			Rotation:    u.Rotation,
		}, true
	case protocol.MessageEntityDestroy:
		table.Remove(u.Entity)
		return protocol.EntityDestroy{Entity: wire}, true
	case protocol.MessageEntityTranslate:
		return protocol.EntityTranslate{Entity: wire, Translation: u.Translation}, true
	case protocol.MessageEntityRotate:
		return protocol.EntityRotate{Entity: wire, Rotation: u.Rotation}, true
	case protocol.MessageComponentAdd:
		return protocol.ComponentAdd{Entity: wire, Component: u.Component, Data: u.Data}, true
	case protocol.MessageComponentUpdate:
		return protocol.ComponentUpdate{Entity: wire, Component: u.Component, Data: u.Data}, true
	case protocol.MessageComponentRemove:
		return protocol.ComponentRemove{Entity: wire, Component: u.Component}, true
	default:
		return nil, false
	}
}

// unpackMessage converts an inbound wire message into a local-space
// update. EntityCreate binds the wire id to a freshly allocated local id.
// The second return is false when the message references an entity that
// has not been created locally yet; the caller parks it in the backlog
// until the creation arrives.
func unpackMessage(m protocol.Message, table *entity.Table, nextLocal func() entity.LocalID) (Update, bool) {
	switch msg := m.(type) {
	case protocol.EntityCreate:
		local, ok := table.GetLocal(msg.Entity)
		if !ok {
			local = nextLocal()
			if !table.InsertWire(local, msg.Entity) {
				return Update{}, false
			}
		}
		return Update{
			Kind:        protocol.MessageEntityCreate,
			Entity:      local,
			EntityKind:  msg.Kind,
			Translation: msg.Translation,
			Rotation:    msg.Rotation,
		}, true
	case protocol.EntityDestroy:
		local, ok := table.RemoveWire(msg.Entity)
		if !ok {
			return Update{}, false
		}
		return Update{Kind: protocol.MessageEntityDestroy, Entity: local}, true
	case protocol.EntityTranslate:
		local, ok := table.GetLocal(msg.Entity)
		if !ok {
			return Update{}, false
		}
		return Update{Kind: protocol.MessageEntityTranslate, Entity: local, Translation: msg.Translation}, true
	case protocol.EntityRotate:
		local, ok := table.GetLocal(msg.Entity)
		if !ok {
			return Update{}, false
		}
		return Update{Kind: protocol.MessageEntityRotate, Entity: local, Rotation: msg.Rotation}, true
	case protocol.ComponentAdd:
		local, ok := table.GetLocal(msg.Entity)
		if !ok {
			return Update{}, false
		}
		return Update{Kind: protocol.MessageComponentAdd, Entity: local, Component: msg.Component, Data: msg.Data}, true
	case protocol.ComponentUpdate:
		local, ok := table.GetLocal(msg.Entity)
		if !ok {
			return Update{}, false
		}
		return Update{Kind: protocol.MessageComponentUpdate, Entity: local, Component: msg.Component, Data: msg.Data}, true
	case protocol.ComponentRemove:
		local, ok := table.GetLocal(msg.Entity)
		if !ok {
			return Update{}, false
		}
		return Update{Kind: protocol.MessageComponentRemove, Entity: local, Component: msg.Component}, true
	default:
		return Update{}, false
	}
}
