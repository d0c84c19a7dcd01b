package conn

import (
	"github.com/statewire/statewire/internal/protocol"
	"github.com/statewire/statewire/internal/serial"
)

// lossList tracks the sequences of packets the peer sent but we never
// received. A late arrival matching an entry is accepted (and removed)
// instead of being dropped as a duplicate.
//
// Entries are kept in arrival order, which is ascending serial order
// because gaps are always inserted front-to-back. The window bounds
// memory against a peer that never retransmits.
type lossList struct {
	seqs   []protocol.Sequence
	window int
}

func newLossList(window int) *lossList {
	return &lossList{window: window}
}

// insert records a lost sequence. When the window is full the oldest
// entry is given up on.
func (l *lossList) insert(seq protocol.Sequence) {
	if len(l.seqs) >= l.window {
		l.seqs = l.seqs[1:]
	}
	l.seqs = append(l.seqs, seq)
}

// remove removes seq from the list, reporting whether it was present.
func (l *lossList) remove(seq protocol.Sequence) bool {
	for i, s := range l.seqs {
		if s == seq {
			l.seqs = append(l.seqs[:i], l.seqs[i+1:]...)
			return true
		}
		if s.Cmp(seq) == serial.Greater {
			break
		}
	}
	return false
}

func (l *lossList) len() int {
	return len(l.seqs)
}
