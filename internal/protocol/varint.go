package protocol

// Variable-length integer encoding. Each byte carries seven bits of the
// value, least significant group first; the top bit is set when another
// byte follows.
const continueBit = 0x80

// AppendUvarint appends the continuation-bit encoding of v to buf and
// returns the extended buffer.
func AppendUvarint(buf []byte, v uint64) []byte {
	for {
		b := byte(v) &^ continueBit
		v >>= 7
		if v != 0 {
			b |= continueBit
		}
		buf = append(buf, b)
		if v == 0 {
			return buf
		}
	}
}

// Uvarint decodes a continuation-bit integer from the front of buf. It
// returns the value and the number of bytes consumed.
//
// It fails with ErrUnexpectedEOF when buf ends inside the encoding and
// with ErrOverflow when the shift would exceed 64 bits.
func Uvarint(buf []byte) (uint64, int, error) {
	var v uint64
	var shift uint

	for i, b := range buf {
		if shift >= 64 || (shift == 63 && b&^continueBit > 1) {
			return 0, 0, ErrOverflow
		}

		v |= uint64(b&^continueBit) << shift
		shift += 7

		if b&continueBit == 0 {
			return v, i + 1, nil
		}
	}

	return 0, 0, &EOFError{Expected: len(buf) + 1, Found: len(buf)}
}
