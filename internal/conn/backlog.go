package conn

import (
	"github.com/statewire/statewire/internal/protocol"
	"github.com/statewire/statewire/internal/serial"
)

// Backlog buffers messages that cannot be applied yet, either because
// their control frame has not been reached or because the entity they
// reference does not exist locally.
//
// Frames are kept in a fixed ring of slots indexed by the control frame
// modulo the ring size. The ring size must exceed the maximum expected
// reorder and delay window; a frame further ahead than that would alias
// an earlier slot, so such inserts are diverted to the newest slot and
// counted as violations instead.
type Backlog struct {
	slots [][]protocol.Message
	tail  protocol.ControlFrame

	// pending holds messages that arrived before the creation of the
	// entity they reference, keyed by the wire id. pendingOrder tracks
	// the entities in first-park order and pendingCount the total
	// parked messages, so the map can be bounded.
	pending      map[protocol.WireEntityID][]protocol.Message
	pendingOrder []protocol.WireEntityID
	pendingCount int

	// violations counts inserts outside the ring window and evictions
	// of parked messages. A nonzero count means the ring is sized below
	// the real network reorder window, or the peer references entities
	// it never creates.
	violations uint64
}

// maxPendingMessages bounds the total number of messages parked for
// uncreated entities. A peer referencing entities whose creations never
// arrive would otherwise grow the map without bound.
const maxPendingMessages = 4096

// NewBacklog creates a backlog with the given ring size, draining from
// frame tail upwards.
func NewBacklog(ringSize int, tail protocol.ControlFrame) *Backlog {
	return &Backlog{
		slots:   make([][]protocol.Message, ringSize),
		tail:    tail,
		pending: make(map[protocol.WireEntityID][]protocol.Message),
	}
}

func (b *Backlog) slot(cf protocol.ControlFrame) int {
	return int(uint32(cf) % uint32(len(b.slots)))
}

// Insert queues msg for the given control frame.
//
// A frame older than the already-drained tail goes to the FRONT of the
// tail slot: the message is late but still delivered on the next drain.
// This favors eventual delivery over strict ordering for stale arrivals.
func (b *Backlog) Insert(cf protocol.ControlFrame, msg protocol.Message) {
	switch {
	case cf.Cmp(b.tail) == serial.Less:
		idx := b.slot(b.tail)
		b.slots[idx] = append([]protocol.Message{msg}, b.slots[idx]...)
	case uint32(cf.SubFrame(b.tail)) >= uint32(len(b.slots)):
		// Beyond the ring window. Storing at cf would alias an earlier
		// frame, so queue at the newest addressable slot.
		b.violations++
		idx := b.slot(b.tail.Add(uint32(len(b.slots) - 1)))
		b.slots[idx] = append(b.slots[idx], msg)
	default:
		idx := b.slot(cf)
		b.slots[idx] = append(b.slots[idx], msg)
	}
}

// Drain returns everything queued up to and including cf, in frame order
// and in insertion order within a frame, and advances the tail past cf.
// Draining a frame with nothing queued returns nil.
//
// Drains must be monotonic; a cf older than the tail returns nil and is
// counted as a violation.
func (b *Backlog) Drain(cf protocol.ControlFrame) []protocol.Message {
	if cf.Cmp(b.tail) == serial.Less {
		b.violations++
		return nil
	}

	span := uint32(cf.SubFrame(b.tail))
	if span >= uint32(len(b.slots)) {
		// More frames than slots; everything queued is covered.
		span = uint32(len(b.slots)) - 1
	}

	var out []protocol.Message
	for i := uint32(0); i <= span; i++ {
		idx := b.slot(b.tail.Add(i))
		if len(b.slots[idx]) > 0 {
			out = append(out, b.slots[idx]...)
			b.slots[idx] = nil
		}
	}

	b.tail = cf.Add(1)
	return out
}

// Tail returns the next frame to be drained.
func (b *Backlog) Tail() protocol.ControlFrame {
	return b.tail
}

// PushPending parks a message referencing an entity that has not been
// created locally yet. At capacity the entity parked longest is evicted
// wholesale and counted as a violation.
func (b *Backlog) PushPending(id protocol.WireEntityID, msg protocol.Message) {
	for b.pendingCount >= maxPendingMessages && len(b.pendingOrder) > 0 {
		oldest := b.pendingOrder[0]
		b.pendingOrder = b.pendingOrder[1:]
		b.pendingCount -= len(b.pending[oldest])
		delete(b.pending, oldest)
		b.violations++
	}

	if _, ok := b.pending[id]; !ok {
		b.pendingOrder = append(b.pendingOrder, id)
	}
	b.pending[id] = append(b.pending[id], msg)
	b.pendingCount++
}

// TakePending removes and returns the messages parked for id, in the
// order they were pushed.
func (b *Backlog) TakePending(id protocol.WireEntityID) []protocol.Message {
	msgs, ok := b.pending[id]
	if !ok {
		return nil
	}
	delete(b.pending, id)
	b.pendingCount -= len(msgs)
	for i, pid := range b.pendingOrder {
		if pid == id {
			b.pendingOrder = append(b.pendingOrder[:i], b.pendingOrder[i+1:]...)
			break
		}
	}
	return msgs
}

// PendingLen returns the number of entities with parked messages.
func (b *Backlog) PendingLen() int {
	return len(b.pending)
}

// Violations returns the number of out-of-window inserts, non-monotonic
// drains, and pending evictions observed.
func (b *Backlog) Violations() uint64 {
	return b.violations
}
