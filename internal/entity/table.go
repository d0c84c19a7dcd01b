// Package entity maintains the bidirectional mapping between a peer's own
// simulation entity identifiers and the wire-stable identifiers assigned
// by the authoritative side.
//
// Local identifiers are meaningful only within one process and unrelated
// across peers; the wire identifier is the only one that may appear in
// protocol messages.
package entity

import "github.com/statewire/statewire/internal/protocol"

// LocalID identifies an entity within one peer's own simulation.
type LocalID uint64

// Table is a bijective local<->wire identifier map. Both directions are
// always mutated together, so the two internal maps never diverge in size.
//
// A Table is owned by a single connection's goroutine and is not safe for
// concurrent use.
type Table struct {
	localToWire map[LocalID]protocol.WireEntityID
	wireToLocal map[protocol.WireEntityID]LocalID

	// next is the next wire id this side will allocate; stride is the
	// distance between allocations. Wire ids are never reused while the
	// entity is alive.
	next   protocol.WireEntityID
	stride protocol.WireEntityID
}

// NewTable creates an empty translation table allocating wire ids
// 1, 2, 3, ...
func NewTable() *Table {
	return NewPartitionedTable(1, 1)
}

// NewPartitionedTable creates an empty translation table allocating
// wire ids from first in steps of stride. Both endpoints of a
// connection originate entities, so each allocates from its own
// residue class and their ids can never collide.
func NewPartitionedTable(first, stride uint64) *Table {
	if stride == 0 {
		stride = 1
	}
	return &Table{
		localToWire: make(map[LocalID]protocol.WireEntityID),
		wireToLocal: make(map[protocol.WireEntityID]LocalID),
		next:        protocol.WireEntityID(first),
		stride:      protocol.WireEntityID(stride),
	}
}

// Insert allocates a new wire id for local and inserts the pair. An
// already-mapped local keeps its existing wire id. Allocation skips
// over any wire id the peer has already bound.
func (t *Table) Insert(local LocalID) protocol.WireEntityID {
	if wire, ok := t.localToWire[local]; ok {
		return wire
	}
	for {
		wire := t.next
		t.next += t.stride
		if _, taken := t.wireToLocal[wire]; taken {
			continue
		}
		t.localToWire[local] = wire
		t.wireToLocal[wire] = local
		return wire
	}
}

// InsertWire inserts a pair whose wire id was assigned by the remote
// peer. It is used when applying EntityCreate messages. It refuses to
// rebind an id that is already mapped to a different counterpart and
// reports whether the pair was inserted.
func (t *Table) InsertWire(local LocalID, wire protocol.WireEntityID) bool {
	if existing, ok := t.wireToLocal[wire]; ok && existing != local {
		return false
	}
	if existing, ok := t.localToWire[local]; ok && existing != wire {
		return false
	}
	t.localToWire[local] = wire
	t.wireToLocal[wire] = local
	return true
}

// GetWire returns the wire id mapped to local.
func (t *Table) GetWire(local LocalID) (protocol.WireEntityID, bool) {
	wire, ok := t.localToWire[local]
	return wire, ok
}

// GetLocal returns the local id mapped to wire.
func (t *Table) GetLocal(wire protocol.WireEntityID) (LocalID, bool) {
	local, ok := t.wireToLocal[wire]
	return local, ok
}

// Remove removes the pair keyed by local and returns its wire counterpart.
func (t *Table) Remove(local LocalID) (protocol.WireEntityID, bool) {
	wire, ok := t.localToWire[local]
	if !ok {
		return 0, false
	}
	delete(t.localToWire, local)
	delete(t.wireToLocal, wire)
	return wire, true
}

// RemoveWire removes the pair keyed by wire and returns its local
// counterpart.
func (t *Table) RemoveWire(wire protocol.WireEntityID) (LocalID, bool) {
	local, ok := t.wireToLocal[wire]
	if !ok {
		return 0, false
	}
	delete(t.wireToLocal, wire)
	delete(t.localToWire, local)
	return local, true
}

// Len returns the number of mapped pairs.
func (t *Table) Len() int {
	return len(t.localToWire)
}

// Balanced reports whether both directions hold the same number of
// entries. It only returns false on an implementation bug and exists for
// the debug validator.
func (t *Table) Balanced() bool {
	return len(t.localToWire) == len(t.wireToLocal)
}
