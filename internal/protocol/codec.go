package protocol

import (
	"encoding/binary"
	"math"
)

// Encoding is infallible for well-formed in-memory values, so the append
// helpers never return errors. Decoding validates everything.

func appendU16(buf []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(buf, v)
}

func appendU32(buf []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(buf, v)
}

func appendF32(buf []byte, v float32) []byte {
	return binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
}

func appendVec3(buf []byte, v Vec3) []byte {
	buf = appendF32(buf, v.X)
	buf = appendF32(buf, v.Y)
	return appendF32(buf, v.Z)
}

func appendQuat(buf []byte, q Quat) []byte {
	buf = appendF32(buf, q.X)
	buf = appendF32(buf, q.Y)
	buf = appendF32(buf, q.Z)
	return appendF32(buf, q.W)
}

// appendBytes writes a varint length prefix followed by the raw bytes.
func appendBytes(buf, data []byte) []byte {
	buf = AppendUvarint(buf, uint64(len(data)))
	return append(buf, data...)
}

// AppendMessage appends the encoding of m, discriminant first.
func AppendMessage(buf []byte, m Message) []byte {
	buf = append(buf, byte(m.Type()))

	switch msg := m.(type) {
	case EntityCreate:
		buf = AppendUvarint(buf, uint64(msg.Entity))
		buf = append(buf, byte(msg.Kind))
		buf = appendVec3(buf, msg.Translation)
		buf = appendQuat(buf, msg.Rotation)
	case EntityDestroy:
		buf = AppendUvarint(buf, uint64(msg.Entity))
	case EntityTranslate:
		buf = AppendUvarint(buf, uint64(msg.Entity))
		buf = appendVec3(buf, msg.Translation)
	case EntityRotate:
		buf = AppendUvarint(buf, uint64(msg.Entity))
		buf = appendQuat(buf, msg.Rotation)
	case ComponentAdd:
		buf = AppendUvarint(buf, uint64(msg.Entity))
		buf = AppendUvarint(buf, uint64(msg.Component))
		buf = appendBytes(buf, msg.Data)
	case ComponentUpdate:
		buf = AppendUvarint(buf, uint64(msg.Entity))
		buf = AppendUvarint(buf, uint64(msg.Component))
		buf = appendBytes(buf, msg.Data)
	case ComponentRemove:
		buf = AppendUvarint(buf, uint64(msg.Entity))
		buf = AppendUvarint(buf, uint64(msg.Component))
	case Ack:
		buf = AppendUvarint(buf, uint64(msg.Sequence))
		buf = AppendUvarint(buf, uint64(msg.AckSequence))
	case Nak:
		buf = AppendUvarint(buf, uint64(msg.Start))
		buf = AppendUvarint(buf, uint64(msg.End))
	case Handshake:
		buf = appendU16(buf, msg.Version)
		buf = append(buf, byte(msg.Kind))
		buf = appendU16(buf, msg.MTU)
		buf = appendU16(buf, msg.FlowWindow)
		buf = AppendUvarint(buf, uint64(msg.InitialSequence))
		buf = appendU16(buf, msg.ConstDelay)
	case Shutdown:
		buf = append(buf, byte(msg.Reason))
	}

	return buf
}

// reader tracks the decode position within a single packet buffer.
type reader struct {
	buf []byte
}

func (r *reader) remaining() int {
	return len(r.buf)
}

func (r *reader) u8() (uint8, error) {
	if len(r.buf) < 1 {
		return 0, &EOFError{Expected: 1, Found: 0}
	}
	v := r.buf[0]
	r.buf = r.buf[1:]
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if len(r.buf) < 2 {
		return 0, &EOFError{Expected: 2, Found: len(r.buf)}
	}
	v := binary.LittleEndian.Uint16(r.buf)
	r.buf = r.buf[2:]
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if len(r.buf) < 4 {
		return 0, &EOFError{Expected: 4, Found: len(r.buf)}
	}
	v := binary.LittleEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v, nil
}

func (r *reader) f32() (float32, error) {
	v, err := r.u32()
	return math.Float32frombits(v), err
}

func (r *reader) uvarint() (uint64, error) {
	v, n, err := Uvarint(r.buf)
	if err != nil {
		return 0, err
	}
	r.buf = r.buf[n:]
	return v, nil
}

// uvarint32 decodes a varint that must fit in 32 bits.
func (r *reader) uvarint32() (uint32, error) {
	v, err := r.uvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, ErrOverflow
	}
	return uint32(v), nil
}

// bytes decodes a varint length prefix and the payload it announces. The
// length is checked against the remaining buffer before any allocation so
// corrupt input cannot request unbounded memory.
func (r *reader) bytes() ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(r.buf)) {
		return nil, &EOFError{Expected: int(n), Found: len(r.buf)}
	}
	data := make([]byte, n)
	copy(data, r.buf[:n])
	r.buf = r.buf[n:]
	return data, nil
}

func (r *reader) vec3() (Vec3, error) {
	var v Vec3
	var err error
	if v.X, err = r.f32(); err != nil {
		return v, err
	}
	if v.Y, err = r.f32(); err != nil {
		return v, err
	}
	v.Z, err = r.f32()
	return v, err
}

func (r *reader) quat() (Quat, error) {
	var q Quat
	var err error
	if q.X, err = r.f32(); err != nil {
		return q, err
	}
	if q.Y, err = r.f32(); err != nil {
		return q, err
	}
	if q.Z, err = r.f32(); err != nil {
		return q, err
	}
	q.W, err = r.f32()
	return q, err
}

func (r *reader) entity() (WireEntityID, error) {
	v, err := r.uvarint()
	return WireEntityID(v), err
}

func (r *reader) component() (ComponentID, error) {
	v, err := r.uvarint()
	return ComponentID(v), err
}

func (r *reader) sequence() (Sequence, error) {
	v, err := r.uvarint32()
	return Sequence(v), err
}

// DecodeMessage decodes one message from the front of buf and returns the
// number of bytes consumed.
func DecodeMessage(buf []byte) (Message, int, error) {
	r := reader{buf: buf}
	m, err := decodeMessage(&r)
	if err != nil {
		return nil, 0, err
	}
	return m, len(buf) - r.remaining(), nil
}

func decodeMessage(r *reader) (Message, error) {
	tag, err := r.u8()
	if err != nil {
		return nil, err
	}

	switch MessageType(tag) {
	case MessageEntityCreate:
		var msg EntityCreate
		if msg.Entity, err = r.entity(); err != nil {
			return nil, err
		}
		kind, err := r.u8()
		if err != nil {
			return nil, err
		}
		if kind > uint8(EntityActor) {
			return nil, &DiscriminantError{Tag: kind}
		}
		msg.Kind = EntityKind(kind)
		if msg.Translation, err = r.vec3(); err != nil {
			return nil, err
		}
		if msg.Rotation, err = r.quat(); err != nil {
			return nil, err
		}
		return msg, nil

	case MessageEntityDestroy:
		var msg EntityDestroy
		if msg.Entity, err = r.entity(); err != nil {
			return nil, err
		}
		return msg, nil

	case MessageEntityTranslate:
		var msg EntityTranslate
		if msg.Entity, err = r.entity(); err != nil {
			return nil, err
		}
		if msg.Translation, err = r.vec3(); err != nil {
			return nil, err
		}
		return msg, nil

	case MessageEntityRotate:
		var msg EntityRotate
		if msg.Entity, err = r.entity(); err != nil {
			return nil, err
		}
		if msg.Rotation, err = r.quat(); err != nil {
			return nil, err
		}
		return msg, nil

	case MessageComponentAdd:
		var msg ComponentAdd
		if msg.Entity, err = r.entity(); err != nil {
			return nil, err
		}
		if msg.Component, err = r.component(); err != nil {
			return nil, err
		}
		if msg.Data, err = r.bytes(); err != nil {
			return nil, err
		}
		return msg, nil

	case MessageComponentUpdate:
		var msg ComponentUpdate
		if msg.Entity, err = r.entity(); err != nil {
			return nil, err
		}
		if msg.Component, err = r.component(); err != nil {
			return nil, err
		}
		if msg.Data, err = r.bytes(); err != nil {
			return nil, err
		}
		return msg, nil

	case MessageComponentRemove:
		var msg ComponentRemove
		if msg.Entity, err = r.entity(); err != nil {
			return nil, err
		}
		if msg.Component, err = r.component(); err != nil {
			return nil, err
		}
		return msg, nil

	case MessageAck:
		var msg Ack
		if msg.Sequence, err = r.sequence(); err != nil {
			return nil, err
		}
		if msg.AckSequence, err = r.sequence(); err != nil {
			return nil, err
		}
		return msg, nil

	case MessageNak:
		var msg Nak
		if msg.Start, err = r.sequence(); err != nil {
			return nil, err
		}
		if msg.End, err = r.sequence(); err != nil {
			return nil, err
		}
		return msg, nil

	case MessageHandshake:
		var msg Handshake
		if msg.Version, err = r.u16(); err != nil {
			return nil, err
		}
		kind, err := r.u8()
		if err != nil {
			return nil, err
		}
		switch k := HandshakeKind(kind); k {
		case HandshakeHello, HandshakeAgreement, HandshakeRejectUnknown,
			HandshakeRejectRogue, HandshakeRejectVersion:
			msg.Kind = k
		default:
			return nil, &DiscriminantError{Tag: kind}
		}
		if msg.MTU, err = r.u16(); err != nil {
			return nil, err
		}
		if msg.FlowWindow, err = r.u16(); err != nil {
			return nil, err
		}
		if msg.InitialSequence, err = r.sequence(); err != nil {
			return nil, err
		}
		if msg.ConstDelay, err = r.u16(); err != nil {
			return nil, err
		}
		return msg, nil

	case MessageShutdown:
		var msg Shutdown
		reason, err := r.u8()
		if err != nil {
			return nil, err
		}
		if reason > uint8(ShutdownError) {
			return nil, &DiscriminantError{Tag: reason}
		}
		msg.Reason = ShutdownReason(reason)
		return msg, nil

	default:
		return nil, &DiscriminantError{Tag: tag}
	}
}
