// Package wire holds the handful of wire-format types the core needs a
// concrete shape for. Per spec §6, frame parsing/encoding is an external
// collaborator; AckFrame here is the minimal surface the ackhandler reads
// from, not a full codec.
package wire

import (
	"time"

	"github.com/quicclient/quicclient/internal/protocol"
)

// AckRange is an inclusive range of acknowledged packet numbers.
type AckRange struct {
	Smallest protocol.PacketNumber
	Largest  protocol.PacketNumber
}

// AckFrame is the parsed representation of a QUIC ACK frame, as handed to
// the ackhandler by the (external) frame parser.
type AckFrame struct {
	AckRanges []AckRange
	DelayTime time.Duration

	ECT0  uint64
	ECT1  uint64
	ECNCE uint64
	ecn   bool
}

func (f *AckFrame) LargestAcked() protocol.PacketNumber {
	if len(f.AckRanges) == 0 {
		return protocol.InvalidPacketNumber
	}
	return f.AckRanges[0].Largest
}

func (f *AckFrame) LowestAcked() protocol.PacketNumber {
	if len(f.AckRanges) == 0 {
		return protocol.InvalidPacketNumber
	}
	return f.AckRanges[len(f.AckRanges)-1].Smallest
}

func (f *AckFrame) HasMissingRanges() bool { return len(f.AckRanges) > 1 }

func (f *AckFrame) HasECN() bool { return f.ecn }

// SetECN marks the frame as carrying valid ECN counters (ECT0/ECT1/ECNCE
// are meaningful even when all zero).
func (f *AckFrame) SetECN(hasECN bool) { f.ecn = hasECN }

// NewAckFrame builds an AckFrame acknowledging a single contiguous range,
// a convenience used by tests exercising the ackhandler in isolation.
func NewAckFrame(smallest, largest protocol.PacketNumber) *AckFrame {
	return &AckFrame{AckRanges: []AckRange{{Smallest: smallest, Largest: largest}}}
}
