package ackhandler

import (
	"time"

	"github.com/quicclient/quicclient/internal/protocol"
)

// Frame is a single outbound frame enrolled in a Packet's frame list, with
// the retransmission/ack callbacks the frame layer (external to this core,
// per spec §6) attaches so the ackhandler can notify it without knowing the
// frame's concrete type.
type Frame struct {
	Frame   interface{}
	OnAcked func(frame interface{})
	OnLost  func(frame interface{})
}

// Packet is the outstanding-packet record from the data model (spec §3):
// packet-number-space, packet number, encoded size, send time, and
// whether it carries a CRYPTO frame or other ack-eliciting frames.
type Packet struct {
	PacketNumber    protocol.PacketNumber
	EncryptionLevel protocol.EncryptionLevel
	Length          protocol.ByteCount
	SendTime        time.Time
	Frames          []Frame

	// LargestAcked is the largest packet number acknowledged by the ACK
	// frame this packet carries, if any; used to track lowestNotConfirmedAcked.
	LargestAcked protocol.PacketNumber

	TOS                  protocol.TOS
	IsPathMTUProbePacket bool

	includedInBytesInFlight bool
	declaredLost            bool
	skippedPacket           bool
}

// ContainsCryptoFrame reports whether any enrolled frame carries the
// encryption handshake's CRYPTO bytes; the dispatch loop inspects this to
// decide whether a retransmission needs an encryption-level rewrite.
func (p *Packet) ContainsCryptoFrame() bool {
	for _, f := range p.Frames {
		if _, ok := f.Frame.(CryptoFrameMarker); ok {
			return true
		}
	}
	return false
}

// CryptoFrameMarker is attached to a Packet's Frame slot to mark "this
// frame carries CRYPTO bytes" without this package needing to depend on
// the (external, per spec §6) frame codec's concrete CryptoFrame type.
type CryptoFrameMarker struct {
	EncryptionLevel protocol.EncryptionLevel
	Data            []byte
}
