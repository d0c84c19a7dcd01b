package protocol

import (
	"errors"
	"reflect"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "entity create",
			msg: EntityCreate{
				Entity:      7,
				Kind:        EntityActor,
				Translation: Vec3{X: 1, Y: 2.5, Z: -3},
				Rotation:    Quat{X: 0, Y: 0.707, Z: 0, W: 0.707},
			},
		},
		{
			name: "entity destroy",
			msg:  EntityDestroy{Entity: 128},
		},
		{
			name: "entity translate",
			msg:  EntityTranslate{Entity: 7, Translation: Vec3{X: 10, Y: 0, Z: -10}},
		},
		{
			name: "entity rotate",
			msg:  EntityRotate{Entity: 300, Rotation: Quat{W: 1}},
		},
		{
			name: "component add",
			msg:  ComponentAdd{Entity: 1, Component: 42, Data: []byte{1, 2, 3}},
		},
		{
			name: "component add empty data",
			msg:  ComponentAdd{Entity: 1, Component: 42, Data: []byte{}},
		},
		{
			name: "component update",
			msg:  ComponentUpdate{Entity: 9, Component: 1 << 40, Data: []byte{0xFF}},
		},
		{
			name: "component remove",
			msg:  ComponentRemove{Entity: 9, Component: 65535},
		},
		{
			name: "ack",
			msg:  Ack{Sequence: 1000, AckSequence: 3},
		},
		{
			name: "nak",
			msg:  Nak{Start: 17, End: 22},
		},
		{
			name: "handshake hello",
			msg: Handshake{
				Version:         Version,
				Kind:            HandshakeHello,
				MTU:             1500,
				FlowWindow:      8192,
				InitialSequence: 12345,
				ConstDelay:      6,
			},
		},
		{
			name: "handshake reject",
			msg: Handshake{
				Version: Version,
				Kind:    HandshakeRejectVersion,
			},
		},
		{
			name: "shutdown",
			msg:  Shutdown{Reason: ShutdownGraceful},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := AppendMessage(nil, tt.msg)

			got, n, err := DecodeMessage(buf)
			if err != nil {
				t.Fatalf("DecodeMessage failed: %v", err)
			}
			if n != len(buf) {
				t.Errorf("consumed %d bytes, encoded %d", n, len(buf))
			}
			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("round trip mismatch: got %#v, want %#v", got, tt.msg)
			}
		})
	}
}

func TestDecodeMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want error
	}{
		{
			name: "empty buffer",
			buf:  nil,
			want: ErrUnexpectedEOF,
		},
		{
			name: "unknown tag",
			buf:  []byte{0xAB},
			want: ErrInvalidDiscriminant,
		},
		{
			name: "truncated entity create",
			buf:  []byte{byte(MessageEntityCreate), 7},
			want: ErrUnexpectedEOF,
		},
		{
			name: "invalid entity kind",
			buf: append([]byte{byte(MessageEntityCreate), 7, 99},
				make([]byte, 28)...),
			want: ErrInvalidDiscriminant,
		},
		{
			name: "invalid handshake kind",
			buf:  []byte{byte(MessageHandshake), 1, 0, 99, 0, 0, 0, 0, 0, 0, 0},
			want: ErrInvalidDiscriminant,
		},
		{
			name: "component data length beyond buffer",
			buf:  []byte{byte(MessageComponentAdd), 1, 42, 0xFF, 0xFF, 0x03},
			want: ErrUnexpectedEOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeMessage(tt.buf)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPacketRoundTrip(t *testing.T) {
	p := &Packet{
		Sequence:     99,
		ControlFrame: 1024,
		Messages: []Message{
			EntityCreate{Entity: 7, Kind: EntityObject, Rotation: Quat{W: 1}},
			EntityTranslate{Entity: 7, Translation: Vec3{X: 4}},
			Ack{Sequence: 98, AckSequence: 1},
		},
	}

	buf := EncodePacket(p)

	got, err := DecodePacket(buf)
	if err != nil {
		t.Fatalf("DecodePacket failed: %v", err)
	}
	if got.Sequence != p.Sequence {
		t.Errorf("sequence = %d, want %d", got.Sequence, p.Sequence)
	}
	if got.ControlFrame != p.ControlFrame {
		t.Errorf("control frame = %d, want %d", got.ControlFrame, p.ControlFrame)
	}
	if !reflect.DeepEqual(got.Messages, p.Messages) {
		t.Errorf("messages mismatch: got %#v, want %#v", got.Messages, p.Messages)
	}
}

func TestPacketEmpty(t *testing.T) {
	p := &Packet{Sequence: 1, ControlFrame: 2}

	got, err := DecodePacket(EncodePacket(p))
	if err != nil {
		t.Fatalf("DecodePacket failed: %v", err)
	}
	if len(got.Messages) != 0 {
		t.Errorf("expected no messages, got %d", len(got.Messages))
	}
}

// A corrupt count prefix must not drive allocation; the count is bounded
// by the bytes actually present.
func TestPacketCountExceedsBuffer(t *testing.T) {
	buf := AppendUvarint(nil, 1)           // sequence
	buf = appendU32(buf, 0)                // control frame
	buf = AppendUvarint(buf, 1_000_000_00) // message count, but no messages follow

	_, err := DecodePacket(buf)
	if !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("got %v, want unexpected eof", err)
	}
}

func TestPacketTrailingBytes(t *testing.T) {
	buf := EncodePacket(&Packet{Sequence: 1, ControlFrame: 2})
	buf = append(buf, 0xFF)

	if _, err := DecodePacket(buf); err == nil {
		t.Error("expected error for trailing bytes, got nil")
	}
}
