package qtransport

import (
	"bytes"
	"fmt"
)

// QUIC variable-length integer encoding (RFC 9000 §16): the two most
// significant bits of the first byte select a 1/2/4/8-byte encoding.
// TransportParameters uses it to encode parameter IDs, lengths and
// integer-valued parameters the way ClientHello's transport-parameters
// extension does on the wire.

func writeVarint(buf *bytes.Buffer, v uint64) error {
	switch {
	case v <= 63:
		buf.WriteByte(byte(v))
	case v <= 16383:
		buf.WriteByte(byte(v>>8) | 0x40)
		buf.WriteByte(byte(v))
	case v <= 1073741823:
		buf.WriteByte(byte(v>>24) | 0x80)
		buf.WriteByte(byte(v >> 16))
		buf.WriteByte(byte(v >> 8))
		buf.WriteByte(byte(v))
	case v <= 4611686018427387903:
		buf.WriteByte(byte(v>>56) | 0xc0)
		for i := 6; i >= 0; i-- {
			buf.WriteByte(byte(v >> (8 * i)))
		}
	default:
		return fmt.Errorf("qtransport: varint %d exceeds the 62-bit range", v)
	}
	return nil
}

// WriteVarint is the exported form writeVarint, used outside this package
// by package wire's long header encoding (the token length and Length
// fields share the same RFC 9000 §16 encoding).
func WriteVarint(buf *bytes.Buffer, v uint64) error { return writeVarint(buf, v) }

// ReadVarint is the exported form of readVarint.
func ReadVarint(r *bytes.Reader) (uint64, error) { return readVarint(r) }

func readVarint(r *bytes.Reader) (uint64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	length := 1 << (first >> 6)
	v := uint64(first & 0x3f)
	for i := 1; i < length; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("qtransport: truncated varint: %w", err)
		}
		v = v<<8 | uint64(b)
	}
	return v, nil
}
