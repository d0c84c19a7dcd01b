package protocol

// Packet is the envelope handed to the transport as one datagram.
//
// Wire format:
//
//	[sequence: varint][control_frame: u32 LE][message_count: varint][message...]
type Packet struct {
	Sequence     Sequence
	ControlFrame ControlFrame
	Messages     []Message
}

// AppendPacket appends the encoding of p to buf.
func AppendPacket(buf []byte, p *Packet) []byte {
	buf = AppendUvarint(buf, uint64(p.Sequence))
	buf = appendU32(buf, uint32(p.ControlFrame))
	buf = AppendUvarint(buf, uint64(len(p.Messages)))
	for _, m := range p.Messages {
		buf = AppendMessage(buf, m)
	}
	return buf
}

// EncodePacket encodes p into a fresh buffer.
func EncodePacket(p *Packet) []byte {
	return AppendPacket(nil, p)
}

// DecodePacket decodes a whole packet from data. Trailing bytes after the
// announced message count are rejected as a framing error.
func DecodePacket(data []byte) (*Packet, error) {
	r := reader{buf: data}

	seq, err := r.uvarint32()
	if err != nil {
		return nil, err
	}

	cf, err := r.u32()
	if err != nil {
		return nil, err
	}

	count, err := r.uvarint()
	if err != nil {
		return nil, err
	}

	// A message is at least one byte, so the announced count can never
	// exceed the bytes actually present. Cap the allocation accordingly
	// instead of trusting the prefix.
	if count > uint64(r.remaining()) {
		return nil, &EOFError{Expected: int(count), Found: r.remaining()}
	}

	p := &Packet{
		Sequence:     Sequence(seq),
		ControlFrame: ControlFrame(cf),
		Messages:     make([]Message, 0, count),
	}

	for i := uint64(0); i < count; i++ {
		m, err := decodeMessage(&r)
		if err != nil {
			return nil, err
		}
		p.Messages = append(p.Messages, m)
	}

	if r.remaining() != 0 {
		return nil, &DiscriminantError{Tag: r.buf[0]}
	}

	return p, nil
}
