package protocol

import "github.com/statewire/statewire/internal/serial"

// sequenceBits is the width of the packet sequence counter. The top bit
// of the encoded value is reserved.
const sequenceBits = 31

// Sequence is a wrapping packet sequence number.
//
// Comparisons use serial arithmetic: a Sequence that wrapped back to a
// small value still compares greater than one just below the wrap point.
type Sequence uint32

// Next returns the sequence following s.
func (s Sequence) Next() Sequence {
	return Sequence(serial.Add(uint32(s), 1, sequenceBits))
}

// Add returns s advanced by n.
func (s Sequence) Add(n uint32) Sequence {
	return Sequence(serial.Add(uint32(s), n, sequenceBits))
}

// Sub returns s moved back by n.
func (s Sequence) Sub(n uint32) Sequence {
	return Sequence(serial.Sub(uint32(s), n, sequenceBits))
}

// Cmp compares two sequence numbers with wraparound.
func (s Sequence) Cmp(other Sequence) serial.Ordering {
	return serial.Cmp(uint32(s), uint32(other), sequenceBits)
}

// ControlFrame is a discrete simulation tick index. It increases by one
// per tick and wraps modulo 2^32.
//
// Peers exchange control frames relative to the start frame agreed on
// during the handshake; the connection shifts by its start frame at the
// wire boundary.
type ControlFrame uint32

// Add returns c advanced by n ticks.
func (c ControlFrame) Add(n uint32) ControlFrame {
	return ControlFrame(serial.Add(uint32(c), n, 32))
}

// Sub returns c moved back by n ticks.
func (c ControlFrame) Sub(n uint32) ControlFrame {
	return ControlFrame(serial.Sub(uint32(c), n, 32))
}

// SubFrame returns the tick distance c-other modulo 2^32.
func (c ControlFrame) SubFrame(other ControlFrame) ControlFrame {
	return ControlFrame(serial.Sub(uint32(c), uint32(other), 32))
}

// AddFrame returns c shifted forward by other modulo 2^32.
func (c ControlFrame) AddFrame(other ControlFrame) ControlFrame {
	return ControlFrame(serial.Add(uint32(c), uint32(other), 32))
}

// Cmp compares two control frames with wraparound. Never compare control
// frames with <; a frame just past the wrap point would sort before one
// just below it.
func (c ControlFrame) Cmp(other ControlFrame) serial.Ordering {
	return serial.Cmp(uint32(c), uint32(other), 32)
}
