package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/quicclient/quicclient/internal/protocol"
	"github.com/quicclient/quicclient/internal/qtransport"
)

// PacketType is one of the long-header packet types (Initial, 0-RTT,
// Handshake, Retry) or the short-header 1-RTT type, per spec §6's wire
// protocol list.
type PacketType uint8

const (
	PacketTypeInitial PacketType = iota
	PacketType0RTT
	PacketTypeHandshake
	PacketTypeRetry
	PacketType1RTT
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeInitial:
		return "Initial"
	case PacketType0RTT:
		return "0-RTT"
	case PacketTypeHandshake:
		return "Handshake"
	case PacketTypeRetry:
		return "Retry"
	case PacketType1RTT:
		return "1-RTT"
	default:
		return "invalid packet type"
	}
}

// EncryptionLevel maps a packet type to the keying epoch that protects it.
// Retry packets are never encrypted at all; callers must not call this for
// PacketTypeRetry.
func (t PacketType) EncryptionLevel() protocol.EncryptionLevel {
	switch t {
	case PacketTypeInitial:
		return protocol.EncryptionInitial
	case PacketType0RTT:
		return protocol.Encryption0RTT
	case PacketTypeHandshake:
		return protocol.EncryptionHandshake
	default:
		return protocol.Encryption1RTT
	}
}

// Header is the parsed long- or short-header fields the dispatch loop's
// read path needs to route a datagram to the right decryption pipeline,
// per component 7's "identify header type/connection ID" step. The
// packet number itself is still header-protected at this point (RFC 9001
// §5.4); PacketNumberOffset marks where the caller must apply the
// matching HeaderProtector before it can be read.
type Header struct {
	Type PacketType

	Version VersionNumber

	DestConnectionID protocol.ConnectionID
	SrcConnectionID  protocol.ConnectionID

	// Token is the Initial packet's address-validation token, or a Retry
	// packet's token (everything between the header and the 16-byte
	// integrity tag).
	Token []byte

	// Length is the long header's Length field: the number of bytes
	// remaining in the packet (still-protected packet number + payload).
	// Unset (0) for short and Retry headers.
	Length protocol.ByteCount

	// PacketNumberOffset is the byte offset into the original datagram
	// where the (protected) packet number field starts.
	PacketNumberOffset int

	// Raw is the header exactly as it appeared on the wire, used as part
	// of the AEAD associated data once the packet number is unmasked.
	Raw []byte
}

// VersionNumber mirrors protocol.VersionNumber; redeclared here so this
// package does not need to re-export protocol's type for header parsing
// call sites that only care about the four raw bytes.
type VersionNumber = protocol.VersionNumber

// ParseHeader identifies a datagram's packet type and connection IDs.
// localConnIDLen is the length of connection ID the client chose for
// itself, needed to delimit a short header's destination connection ID
// (short headers carry no length prefix).
func ParseHeader(data []byte, localConnIDLen int) (*Header, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("wire: empty packet")
	}
	firstByte := data[0]
	if firstByte&0x80 == 0 {
		return parseShortHeader(data, localConnIDLen)
	}
	return parseLongHeader(data, firstByte)
}

func parseLongHeader(data []byte, firstByte byte) (*Header, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("wire: long header truncated")
	}
	version := protocol.VersionNumber(binary.BigEndian.Uint32(data[1:5]))
	pos := 5

	dcil := int(data[pos])
	pos++
	if pos+dcil > len(data) {
		return nil, fmt.Errorf("wire: destination connection ID truncated")
	}
	dcid, err := protocol.ParseConnectionID(data[pos : pos+dcil])
	if err != nil {
		return nil, fmt.Errorf("wire: destination connection ID: %w", err)
	}
	pos += dcil

	if pos >= len(data) {
		return nil, fmt.Errorf("wire: truncated before source connection ID length")
	}
	scil := int(data[pos])
	pos++
	if pos+scil > len(data) {
		return nil, fmt.Errorf("wire: source connection ID truncated")
	}
	scid, err := protocol.ParseConnectionID(data[pos : pos+scil])
	if err != nil {
		return nil, fmt.Errorf("wire: source connection ID: %w", err)
	}
	pos += scil

	var ptype PacketType
	switch (firstByte & 0x30) >> 4 {
	case 0x0:
		ptype = PacketTypeInitial
	case 0x1:
		ptype = PacketType0RTT
	case 0x2:
		ptype = PacketTypeHandshake
	case 0x3:
		ptype = PacketTypeRetry
	}

	h := &Header{
		Type:             ptype,
		Version:          version,
		DestConnectionID: dcid,
		SrcConnectionID:  scid,
	}

	if ptype == PacketTypeRetry {
		const retryIntegrityTagLen = 16
		if pos+retryIntegrityTagLen > len(data) {
			return nil, fmt.Errorf("wire: retry packet truncated")
		}
		h.Token = data[pos : len(data)-retryIntegrityTagLen]
		h.Raw = data
		return h, nil
	}

	if ptype == PacketTypeInitial {
		r := bytes.NewReader(data[pos:])
		tokenLen, err := qtransport.ReadVarint(r)
		if err != nil {
			return nil, fmt.Errorf("wire: reading token length: %w", err)
		}
		pos += len(data[pos:]) - r.Len()
		if pos+int(tokenLen) > len(data) {
			return nil, fmt.Errorf("wire: token truncated")
		}
		h.Token = data[pos : pos+int(tokenLen)]
		pos += int(tokenLen)
	}

	r := bytes.NewReader(data[pos:])
	length, err := qtransport.ReadVarint(r)
	if err != nil {
		return nil, fmt.Errorf("wire: reading length: %w", err)
	}
	pos += len(data[pos:]) - r.Len()

	h.Length = protocol.ByteCount(length)
	h.PacketNumberOffset = pos
	h.Raw = data[:pos]
	return h, nil
}

func parseShortHeader(data []byte, connIDLen int) (*Header, error) {
	if len(data) < 1+connIDLen {
		return nil, fmt.Errorf("wire: short header truncated")
	}
	dcid, err := protocol.ParseConnectionID(data[1 : 1+connIDLen])
	if err != nil {
		return nil, fmt.Errorf("wire: destination connection ID: %w", err)
	}
	return &Header{
		Type:               PacketType1RTT,
		DestConnectionID:   dcid,
		PacketNumberOffset: 1 + connIDLen,
		Raw:                data[:1+connIDLen],
	}, nil
}
