package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/quicclient/quicclient/internal/protocol"
	"github.com/quicclient/quicclient/internal/qtransport"
)

// LongHeaderFields is what the write path supplies to encode a long
// header; everything here is plaintext on the wire except the packet
// number bytes, which EncodeLongHeader leaves unprotected for the caller
// to mask with the matching HeaderProtector before sending.
type LongHeaderFields struct {
	Type             PacketType
	Version          protocol.VersionNumber
	DestConnectionID protocol.ConnectionID
	SrcConnectionID  protocol.ConnectionID
	Token            []byte // Initial only
	PacketNumber     protocol.PacketNumber
	PacketNumberLen  protocol.PacketNumberLen
	PayloadLen       int // length of the encrypted frame payload, AEAD tag included
}

// EncodeLongHeader writes a long header plus its unprotected packet
// number field, returning the full byte slice and the offset within it
// where the packet number starts (for header-protection masking and for
// locating the AEAD's associated data boundary, which is everything up to
// but not including the ciphertext).
func EncodeLongHeader(f LongHeaderFields) ([]byte, int, error) {
	if f.Type == PacketType1RTT {
		return nil, 0, fmt.Errorf("wire: EncodeLongHeader called with a short-header type")
	}
	var typeBits byte
	switch f.Type {
	case PacketTypeInitial:
		typeBits = 0x0
	case PacketType0RTT:
		typeBits = 0x1
	case PacketTypeHandshake:
		typeBits = 0x2
	case PacketTypeRetry:
		typeBits = 0x3
	}

	var buf bytes.Buffer
	firstByte := byte(0xc0) | (typeBits << 4) | byte(f.PacketNumberLen-1)
	buf.WriteByte(firstByte)

	var versionBytes [4]byte
	binary.BigEndian.PutUint32(versionBytes[:], uint32(f.Version))
	buf.Write(versionBytes[:])

	buf.WriteByte(byte(f.DestConnectionID.Len()))
	buf.Write(f.DestConnectionID.Bytes())
	buf.WriteByte(byte(f.SrcConnectionID.Len()))
	buf.Write(f.SrcConnectionID.Bytes())

	if f.Type == PacketTypeInitial {
		if err := qtransport.WriteVarint(&buf, uint64(len(f.Token))); err != nil {
			return nil, 0, err
		}
		buf.Write(f.Token)
	}

	remaining := int(f.PacketNumberLen) + f.PayloadLen
	if err := qtransport.WriteVarint(&buf, uint64(remaining)); err != nil {
		return nil, 0, err
	}

	pnOffset := buf.Len()
	writePacketNumber(&buf, f.PacketNumber, f.PacketNumberLen)

	return buf.Bytes(), pnOffset, nil
}

// ShortHeaderFields is what the write path supplies to encode a 1-RTT
// short header.
type ShortHeaderFields struct {
	DestConnectionID protocol.ConnectionID
	PacketNumber     protocol.PacketNumber
	PacketNumberLen  protocol.PacketNumberLen
	SpinBit          bool
	KeyPhase         bool
}

// EncodeShortHeader writes a 1-RTT short header plus its unprotected
// packet number field, and returns the packet-number offset the same way
// EncodeLongHeader does.
func EncodeShortHeader(f ShortHeaderFields) ([]byte, int) {
	firstByte := byte(0x40)
	if f.SpinBit {
		firstByte |= 0x20
	}
	if f.KeyPhase {
		firstByte |= 0x04
	}
	firstByte |= byte(f.PacketNumberLen - 1)

	var buf bytes.Buffer
	buf.WriteByte(firstByte)
	buf.Write(f.DestConnectionID.Bytes())

	pnOffset := buf.Len()
	writePacketNumber(&buf, f.PacketNumber, f.PacketNumberLen)

	return buf.Bytes(), pnOffset
}

func writePacketNumber(buf *bytes.Buffer, pn protocol.PacketNumber, length protocol.PacketNumberLen) {
	v := uint64(pn)
	for i := int(length) - 1; i >= 0; i-- {
		buf.WriteByte(byte(v >> uint(8*i)))
	}
}
