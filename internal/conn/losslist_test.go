package conn

import (
	"testing"

	"github.com/statewire/statewire/internal/protocol"
)

func TestLossListInsertRemove(t *testing.T) {
	l := newLossList(1024)

	for seq := protocol.Sequence(10); seq < 20; seq = seq.Next() {
		l.insert(seq)
	}

	if l.remove(protocol.Sequence(9)) {
		t.Error("removed a sequence that was never inserted")
	}
	if !l.remove(protocol.Sequence(15)) {
		t.Error("failed to remove an inserted sequence")
	}
	if l.remove(protocol.Sequence(15)) {
		t.Error("removed the same sequence twice")
	}
	if l.len() != 9 {
		t.Errorf("len() = %d, want 9", l.len())
	}
}

func TestLossListWindowBound(t *testing.T) {
	l := newLossList(4)

	for seq := protocol.Sequence(0); seq < 10; seq = seq.Next() {
		l.insert(seq)
	}

	if l.len() != 4 {
		t.Errorf("len() = %d, want window size 4", l.len())
	}
	// The oldest entries were given up on.
	if l.remove(protocol.Sequence(0)) {
		t.Error("entry outside the window survived")
	}
	if !l.remove(protocol.Sequence(9)) {
		t.Error("newest entry missing")
	}
}

func TestLossListWrapAround(t *testing.T) {
	l := newLossList(16)

	near := protocol.Sequence(0).Sub(1) // just below the wrap point
	l.insert(near)
	l.insert(protocol.Sequence(0))
	l.insert(protocol.Sequence(1))

	if !l.remove(protocol.Sequence(0)) {
		t.Error("failed to remove the wrapped sequence")
	}
	if !l.remove(near) {
		t.Error("failed to remove the pre-wrap sequence")
	}
	if !l.remove(protocol.Sequence(1)) {
		t.Error("failed to remove the post-wrap sequence")
	}
}
