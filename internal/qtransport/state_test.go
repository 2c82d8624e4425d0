package qtransport

import (
	"net"
	"testing"

	"github.com/quicclient/quicclient/internal/protocol"
)

func mustConnID(t *testing.T, b ...byte) protocol.ConnectionID {
	id, err := protocol.ParseConnectionID(b)
	if err != nil {
		t.Fatalf("ParseConnectionID: %v", err)
	}
	return id
}

func TestClientConnectionStatePeerConnectionID(t *testing.T) {
	local := mustConnID(t, 1, 2, 3, 4)
	s := NewClientConnectionState(local)

	if s.LocalConnectionID() != local {
		t.Errorf("LocalConnectionID() = %v, want %v", s.LocalConnectionID(), local)
	}

	peer := mustConnID(t, 5, 6, 7, 8)
	s.SetPeerConnectionID(peer)
	if s.PeerConnectionID() != peer {
		t.Errorf("PeerConnectionID() = %v, want %v", s.PeerConnectionID(), peer)
	}
}

func TestClientConnectionStatePeerAddr(t *testing.T) {
	s := NewClientConnectionState(mustConnID(t, 1))
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433}
	s.SetPeerAddr(addr)
	if got := s.PeerAddr(); got.String() != addr.String() {
		t.Errorf("PeerAddr() = %v, want %v", got, addr)
	}
}

func TestClientConnectionStateStreamMap(t *testing.T) {
	s := NewClientConnectionState(mustConnID(t, 1))

	if s.HasStream(StreamID(4)) {
		t.Fatal("stream should not exist before AddStream")
	}
	s.AddStream(StreamID(4))
	if !s.HasStream(StreamID(4)) {
		t.Fatal("stream should exist after AddStream")
	}
	s.RemoveStream(StreamID(4))
	if s.HasStream(StreamID(4)) {
		t.Fatal("stream should not exist after RemoveStream")
	}
}

func TestClientConnectionStateUDPPayloadSizeDefault(t *testing.T) {
	s := NewClientConnectionState(mustConnID(t, 1))
	if s.UDPPayloadSize() != protocol.InitialPacketSizeIPv4 {
		t.Errorf("UDPPayloadSize() = %d, want %d", s.UDPPayloadSize(), protocol.InitialPacketSizeIPv4)
	}

	p := NewTransportParameters()
	p.MaxUDPPayloadSize = 1400
	s.SetTransportParameters(p)
	if s.UDPPayloadSize() != 1400 {
		t.Errorf("UDPPayloadSize() = %d, want 1400 after negotiation", s.UDPPayloadSize())
	}
}

func TestClientConnectionStateLossStateCreatedLazily(t *testing.T) {
	s := NewClientConnectionState(mustConnID(t, 1))
	ls := s.LossState(protocol.EncryptionInitial)
	if ls.LargestSent != protocol.InvalidPacketNumber || ls.LargestAcked != protocol.InvalidPacketNumber {
		t.Errorf("fresh LossState should start at InvalidPacketNumber, got %+v", ls)
	}

	ls.LargestSent = 5
	if s.LossState(protocol.EncryptionInitial).LargestSent != 5 {
		t.Error("LossState should return the same record on repeated calls")
	}
}

func TestClientConnectionStateDiscardPacketNumberSpace(t *testing.T) {
	s := NewClientConnectionState(mustConnID(t, 1))
	s.LossState(protocol.EncryptionInitial)

	if err := s.DiscardPacketNumberSpace(protocol.EncryptionInitial); err != nil {
		t.Fatalf("DiscardPacketNumberSpace(Initial): %v", err)
	}

	for _, lvl := range []protocol.EncryptionLevel{protocol.Encryption0RTT, protocol.Encryption1RTT} {
		if err := s.DiscardPacketNumberSpace(lvl); err == nil {
			t.Errorf("DiscardPacketNumberSpace(%s) should be rejected", lvl)
		}
	}
}
