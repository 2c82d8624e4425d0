package qtransport

import (
	"fmt"
	"net"
	"sync"

	"github.com/quicclient/quicclient/internal/protocol"
)

// StreamID identifies one QUIC stream (its state itself, `QuicStreamState`
// in spec §1, is an external collaborator — this package only holds the
// stream-id keyed slot spec §3 names as part of connection state).
type StreamID uint64

// LossState is the loss-state record from spec §3's data model: largest
// sent, largest acked, and the RTT samples. internal/utils.RTTStats
// already tracks the RTT samples for the ackhandler; LossState mirrors
// the per-space bookkeeping the connection state additionally names.
type LossState struct {
	LargestSent  protocol.PacketNumber
	LargestAcked protocol.PacketNumber
}

// ClientConnectionState is the singleton-per-transport aggregate from
// spec §3: local/peer connection IDs, the active peer address, negotiated
// transport parameters, the stream map, and the loss-state record per
// packet-number space. The outstanding-packet set itself lives in
// internal/ackhandler, which this state references but does not own.
type ClientConnectionState struct {
	mu sync.Mutex

	localConnID protocol.ConnectionID
	peerConnID  protocol.ConnectionID
	peerAddr    net.Addr

	params *TransportParameters

	streams map[StreamID]struct{}

	lossState map[protocol.EncryptionLevel]*LossState

	udpPayloadSize protocol.ByteCount
}

// NewClientConnectionState constructs connection state for a fresh
// connection attempt using localConnID as the client's initial
// source connection ID.
func NewClientConnectionState(localConnID protocol.ConnectionID) *ClientConnectionState {
	return &ClientConnectionState{
		localConnID:    localConnID,
		params:         NewTransportParameters(),
		streams:        make(map[StreamID]struct{}),
		lossState:      make(map[protocol.EncryptionLevel]*LossState),
		udpPayloadSize: protocol.InitialPacketSizeIPv4,
	}
}

func (s *ClientConnectionState) LocalConnectionID() protocol.ConnectionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localConnID
}

func (s *ClientConnectionState) PeerConnectionID() protocol.ConnectionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerConnID
}

// SetPeerConnectionID installs the connection ID the peer chose, once
// observed on its first response (e.g. from a Retry or the first
// Initial/Handshake packet it sends).
func (s *ClientConnectionState) SetPeerConnectionID(id protocol.ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerConnID = id
}

func (s *ClientConnectionState) PeerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerAddr
}

// SetPeerAddr updates the currently active peer address; used both at
// connect time and when Happy Eyeballs picks the winning socket family.
func (s *ClientConnectionState) SetPeerAddr(addr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerAddr = addr
}

func (s *ClientConnectionState) TransportParameters() *TransportParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// SetTransportParameters installs the negotiated parameter set, e.g.
// after decoding the server's EncryptedExtensions.
func (s *ClientConnectionState) SetTransportParameters(p *TransportParameters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
	if p.MaxUDPPayloadSize > 0 {
		s.udpPayloadSize = protocol.ByteCount(p.MaxUDPPayloadSize)
	}
}

func (s *ClientConnectionState) UDPPayloadSize() protocol.ByteCount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.udpPayloadSize
}

// AddStream registers a new stream-id in the connection's stream map.
func (s *ClientConnectionState) AddStream(id StreamID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[id] = struct{}{}
}

// RemoveStream drops a closed stream-id from the connection's stream map.
func (s *ClientConnectionState) RemoveStream(id StreamID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, id)
}

func (s *ClientConnectionState) HasStream(id StreamID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.streams[id]
	return ok
}

// LossState returns the loss-state record for encLevel, creating an empty
// one on first access.
func (s *ClientConnectionState) LossState(encLevel protocol.EncryptionLevel) *LossState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.lossState[encLevel]
	if !ok {
		ls = &LossState{LargestSent: protocol.InvalidPacketNumber, LargestAcked: protocol.InvalidPacketNumber}
		s.lossState[encLevel] = ls
	}
	return ls
}

// DiscardPacketNumberSpace drops the loss-state record for encLevel, the
// connection-state side of the invariant that "once a packet-number space
// is discarded, no packets may be sent or accepted in it" (spec §3).
func (s *ClientConnectionState) DiscardPacketNumberSpace(encLevel protocol.EncryptionLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if encLevel == protocol.Encryption0RTT || encLevel == protocol.Encryption1RTT {
		return fmt.Errorf("qtransport: the Application packet number space is never discarded")
	}
	delete(s.lossState, encLevel)
	return nil
}
