package server

import (
	"log/slog"
	"sync"

	"github.com/statewire/statewire/internal/conn"
	"github.com/statewire/statewire/internal/entity"
	"github.com/statewire/statewire/internal/protocol"
)

// relayIDBase keeps relayed entity ids clear of the ids a connection
// allocates for its own inbound entities.
const relayIDBase = 1 << 32

// relayEntity is the last known state of one live entity, kept so a
// late joiner can be brought up to the current world.
type relayEntity struct {
	kind        protocol.EntityKind
	translation protocol.Vec3
	rotation    protocol.Quat
	components  map[protocol.ComponentID][]byte
}

// RelayHandler fans every peer's updates out to all other peers, giving
// each entity a server-global identity so updates from different
// sessions never collide in a receiver's id space.
type RelayHandler struct {
	logger *slog.Logger

	mu sync.Mutex
	// global maps (sessionID, sender-local id) -> server-global id.
	global map[string]map[entity.LocalID]entity.LocalID
	// entities holds the live world keyed by server-global id.
	entities map[entity.LocalID]*relayEntity
	next     entity.LocalID
	reg      *Registry
}

// NewRelayHandler creates a relay over the given registry.
func NewRelayHandler(reg *Registry, logger *slog.Logger) *RelayHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelayHandler{
		logger:   logger.With(slog.String("component", "relay")),
		global:   make(map[string]map[entity.LocalID]entity.LocalID),
		entities: make(map[entity.LocalID]*relayEntity),
		next:     relayIDBase,
		reg:      reg,
	}
}

// HandleConnect registers the session and replays the live world to it:
// one create per entity at its last known transform, followed by its
// components.
func (h *RelayHandler) HandleConnect(s *Session) {
	h.mu.Lock()
	h.global[s.ID] = make(map[entity.LocalID]entity.LocalID)
	replay := h.snapshotLocked()
	h.mu.Unlock()

	for _, u := range replay {
		s.Conn.Enqueue(u)
	}
	h.logger.Info("peer joined relay",
		slog.String("session", s.ID),
		slog.Int("replayed", len(replay)))
}

// snapshotLocked renders the live world as a replayable update stream.
// Callers must hold mu.
func (h *RelayHandler) snapshotLocked() []conn.Update {
	var out []conn.Update
	for gid, e := range h.entities {
		out = append(out, conn.Update{
			Kind:        protocol.MessageEntityCreate,
			Entity:      gid,
			EntityKind:  e.kind,
			Translation: e.translation,
			Rotation:    e.rotation,
		})
		for cid, data := range e.components {
			out = append(out, conn.Update{
				Kind:      protocol.MessageComponentAdd,
				Entity:    gid,
				Component: cid,
				Data:      data,
			})
		}
	}
	return out
}

func (h *RelayHandler) HandleUpdate(s *Session, frame protocol.ControlFrame, u conn.Update) {
	h.mu.Lock()
	ids, tracked := h.global[s.ID]
	if !tracked {
		h.mu.Unlock()
		return
	}

	gid, known := ids[u.Entity]
	if !known {
		if u.Kind != protocol.MessageEntityCreate {
			h.mu.Unlock()
			h.logger.Warn("dropping update for untracked entity",
				slog.String("session", s.ID),
				slog.Uint64("entity", uint64(u.Entity)))
			return
		}
		h.next++
		gid = h.next
		ids[u.Entity] = gid
	}
	h.track(gid, u)
	if u.Kind == protocol.MessageEntityDestroy {
		delete(ids, u.Entity)
	}
	h.mu.Unlock()

	relayed := u
	relayed.Entity = gid
	for _, peer := range h.reg.All() {
		if peer.ID == s.ID {
			continue
		}
		peer.Conn.Enqueue(relayed)
	}
}

// track folds one update into the live world state. Callers must
// hold mu.
func (h *RelayHandler) track(gid entity.LocalID, u conn.Update) {
	switch u.Kind {
	case protocol.MessageEntityCreate:
		h.entities[gid] = &relayEntity{
			kind:        u.EntityKind,
			translation: u.Translation,
			rotation:    u.Rotation,
		}
	case protocol.MessageEntityDestroy:
		delete(h.entities, gid)
	case protocol.MessageEntityTranslate:
		if e, ok := h.entities[gid]; ok {
			e.translation = u.Translation
		}
	case protocol.MessageEntityRotate:
		if e, ok := h.entities[gid]; ok {
			e.rotation = u.Rotation
		}
	case protocol.MessageComponentAdd, protocol.MessageComponentUpdate:
		if e, ok := h.entities[gid]; ok {
			if e.components == nil {
				e.components = make(map[protocol.ComponentID][]byte)
			}
			e.components[u.Component] = u.Data
		}
	case protocol.MessageComponentRemove:
		if e, ok := h.entities[gid]; ok {
			delete(e.components, u.Component)
		}
	}
}

func (h *RelayHandler) HandleDisconnect(s *Session, reason error) {
	h.mu.Lock()
	ids := h.global[s.ID]
	delete(h.global, s.ID)
	for _, gid := range ids {
		delete(h.entities, gid)
	}
	h.mu.Unlock()

	// The departed peer's entities vanish for everyone else.
	for _, gid := range ids {
		u := conn.Update{Kind: protocol.MessageEntityDestroy, Entity: gid}
		for _, peer := range h.reg.All() {
			if peer.ID == s.ID {
				continue
			}
			peer.Conn.Enqueue(u)
		}
	}
	h.logger.Info("peer left relay", slog.String("session", s.ID))
}
