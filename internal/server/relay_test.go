package server

import (
	"testing"

	"github.com/statewire/statewire/internal/conn"
	"github.com/statewire/statewire/internal/entity"
	"github.com/statewire/statewire/internal/protocol"
)

// worldSnapshot reads back the relay's live world for assertions.
func worldSnapshot(h *RelayHandler) []conn.Update {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// A session joining after entities exist must receive them as creates
// at their last known transform, with their components.
func TestRelayReplaysWorldToLateJoiner(t *testing.T) {
	h := NewRelayHandler(NewRegistry(), nil)

	a := &Session{ID: "a"}
	h.HandleConnect(a)

	h.HandleUpdate(a, 0, conn.Update{
		Kind:       protocol.MessageEntityCreate,
		Entity:     entity.LocalID(7),
		EntityKind: protocol.EntityActor,
		Rotation:   protocol.Quat{W: 1},
	})
	h.HandleUpdate(a, 1, conn.Update{
		Kind:        protocol.MessageEntityTranslate,
		Entity:      entity.LocalID(7),
		Translation: protocol.Vec3{X: 4},
	})
	h.HandleUpdate(a, 1, conn.Update{
		Kind:      protocol.MessageComponentAdd,
		Entity:    entity.LocalID(7),
		Component: protocol.ComponentID(3),
		Data:      []byte{0xAA},
	})

	snap := worldSnapshot(h)
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d updates, want 2 (create + component)", len(snap))
	}

	create := snap[0]
	if create.Kind != protocol.MessageEntityCreate {
		t.Fatalf("first replayed update = %v, want entity create", create.Kind)
	}
	if create.Translation.X != 4 {
		t.Errorf("replayed translation.X = %v, want the last known 4", create.Translation.X)
	}
	if create.Rotation.W != 1 {
		t.Errorf("replayed rotation.W = %v, want 1", create.Rotation.W)
	}
	if create.Entity < relayIDBase {
		t.Errorf("replayed entity id %d is below the relay partition", create.Entity)
	}

	comp := snap[1]
	if comp.Kind != protocol.MessageComponentAdd {
		t.Fatalf("second replayed update = %v, want component add", comp.Kind)
	}
	if comp.Entity != create.Entity {
		t.Errorf("component replayed for entity %d, created %d", comp.Entity, create.Entity)
	}
	if comp.Component != 3 || len(comp.Data) != 1 || comp.Data[0] != 0xAA {
		t.Errorf("component replay = (%d, %v), want (3, [0xAA])", comp.Component, comp.Data)
	}
}

func TestRelayDropsDestroyedFromSnapshot(t *testing.T) {
	h := NewRelayHandler(NewRegistry(), nil)

	a := &Session{ID: "a"}
	h.HandleConnect(a)
	h.HandleUpdate(a, 0, conn.Update{
		Kind:     protocol.MessageEntityCreate,
		Entity:   entity.LocalID(1),
		Rotation: protocol.Quat{W: 1},
	})
	h.HandleUpdate(a, 1, conn.Update{
		Kind:   protocol.MessageEntityDestroy,
		Entity: entity.LocalID(1),
	})

	if snap := worldSnapshot(h); len(snap) != 0 {
		t.Fatalf("snapshot after destroy has %d updates, want 0", len(snap))
	}
}

// A departed peer's entities must not be replayed to later joiners.
func TestRelayForgetsDepartedPeersEntities(t *testing.T) {
	h := NewRelayHandler(NewRegistry(), nil)

	a := &Session{ID: "a"}
	h.HandleConnect(a)
	h.HandleUpdate(a, 0, conn.Update{
		Kind:     protocol.MessageEntityCreate,
		Entity:   entity.LocalID(1),
		Rotation: protocol.Quat{W: 1},
	})
	h.HandleDisconnect(a, nil)

	if snap := worldSnapshot(h); len(snap) != 0 {
		t.Fatalf("snapshot after disconnect has %d updates, want 0", len(snap))
	}
}
