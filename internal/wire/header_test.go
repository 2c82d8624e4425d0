package wire

import (
	"bytes"
	"testing"

	"github.com/quicclient/quicclient/internal/protocol"
)

func mustConnID(t *testing.T, b []byte) protocol.ConnectionID {
	t.Helper()
	id, err := protocol.ParseConnectionID(b)
	if err != nil {
		t.Fatalf("ParseConnectionID(%x): %v", b, err)
	}
	return id
}

func TestLongHeaderRoundTrip(t *testing.T) {
	dcid := mustConnID(t, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	scid := mustConnID(t, []byte{9, 9})

	encoded, pnOffset, err := EncodeLongHeader(LongHeaderFields{
		Type:             PacketTypeInitial,
		Version:          protocol.Version1,
		DestConnectionID: dcid,
		SrcConnectionID:  scid,
		Token:            []byte("tok"),
		PacketNumber:     protocol.PacketNumber(42),
		PacketNumberLen:  protocol.PacketNumberLen2,
		PayloadLen:       16,
	})
	if err != nil {
		t.Fatalf("EncodeLongHeader: %v", err)
	}

	full := append(encoded, make([]byte, 16)...)
	hdr, err := ParseHeader(full, dcid.Len())
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if hdr.Type != PacketTypeInitial {
		t.Errorf("Type = %v, want Initial", hdr.Type)
	}
	if hdr.Version != protocol.Version1 {
		t.Errorf("Version = %v, want %v", hdr.Version, protocol.Version1)
	}
	if hdr.DestConnectionID != dcid {
		t.Errorf("DestConnectionID = %v, want %v", hdr.DestConnectionID, dcid)
	}
	if hdr.SrcConnectionID != scid {
		t.Errorf("SrcConnectionID = %v, want %v", hdr.SrcConnectionID, scid)
	}
	if !bytes.Equal(hdr.Token, []byte("tok")) {
		t.Errorf("Token = %q, want %q", hdr.Token, "tok")
	}
	if hdr.PacketNumberOffset != pnOffset {
		t.Errorf("PacketNumberOffset = %d, want %d", hdr.PacketNumberOffset, pnOffset)
	}
}

func TestShortHeaderRoundTrip(t *testing.T) {
	dcid := mustConnID(t, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	encoded, pnOffset := EncodeShortHeader(ShortHeaderFields{
		DestConnectionID: dcid,
		PacketNumber:     protocol.PacketNumber(7),
		PacketNumberLen:  protocol.PacketNumberLen1,
	})
	hdr, err := ParseHeader(encoded, dcid.Len())
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if hdr.Type != PacketType1RTT {
		t.Errorf("Type = %v, want 1-RTT", hdr.Type)
	}
	if hdr.DestConnectionID != dcid {
		t.Errorf("DestConnectionID = %v, want %v", hdr.DestConnectionID, dcid)
	}
	if hdr.PacketNumberOffset != pnOffset {
		t.Errorf("PacketNumberOffset = %d, want %d", hdr.PacketNumberOffset, pnOffset)
	}
}

func TestParseHeaderRejectsEmptyPacket(t *testing.T) {
	if _, err := ParseHeader(nil, 8); err == nil {
		t.Fatal("expected an error for an empty packet")
	}
}

func TestDecodePacketNumber(t *testing.T) {
	tests := []struct {
		name     string
		largest  protocol.PacketNumber
		truncPN  uint32
		pnLen    int
		expected protocol.PacketNumber
	}{
		{"first packet, 1 byte", protocol.InvalidPacketNumber, 0, 1, 0},
		{"next sequential, 1 byte", 0, 1, 1, 1},
		{"wraps forward across 1-byte boundary", 127, 128, 1, 128},
		{"wraps forward into the next window", 127, 0, 1, 256},
		{"large largest, small truncation stays put", 1000, 232, 1, 1000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := DecodePacketNumber(tc.largest, tc.truncPN, tc.pnLen)
			if got != tc.expected {
				t.Errorf("DecodePacketNumber(%d, %d, %d) = %d, want %d", tc.largest, tc.truncPN, tc.pnLen, got, tc.expected)
			}
		})
	}
}

func TestEncodePacketNumberLengthWithinRange(t *testing.T) {
	largestAcked := protocol.PacketNumber(100)
	pn := protocol.PacketNumber(105)
	length := EncodePacketNumberLength(pn, largestAcked)
	if length < protocol.PacketNumberLen1 || length > protocol.PacketNumberLen4 {
		t.Fatalf("EncodePacketNumberLength returned out-of-range length %d", length)
	}
}
