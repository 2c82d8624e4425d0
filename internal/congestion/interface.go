// Package congestion implements the NewReno window manager (spec §4.1):
// slow-start/congestion-avoidance growth, a single recovery epoch per
// loss burst, and RTO collapse. Grounded on
// original_source/quic/congestion_control/NewReno.cpp; the controller
// declares itself unpaced per spec's Non-goals.
package congestion

import (
	"time"

	"github.com/quicclient/quicclient/internal/protocol"
)

// Clock abstracts wall-clock access so the controller can be driven by a
// fake clock in tests, mirroring the teacher's congestion.DefaultClock.
type Clock interface {
	Now() time.Time
}

// DefaultClock is a Clock backed by time.Now.
type DefaultClock struct{}

func (DefaultClock) Now() time.Time { return time.Now() }

// AckEvent describes a single newly-acknowledged packet, as reported by
// the ackhandler after it has resolved an ACK frame against the
// outstanding-packet set.
type AckEvent struct {
	PacketNumber protocol.PacketNumber
	AckedBytes   protocol.ByteCount
	EventTime    time.Time
}

// LossEvent describes a single packet the ackhandler has just declared
// lost (time-threshold or packet-reordering-threshold detection, or a
// synthetic 0-RTT-rejection loss).
type LossEvent struct {
	PacketNumber protocol.PacketNumber
	LostBytes    protocol.ByteCount
}

// SendAlgorithmWithDebugInfos is the congestion controller's interface as
// consumed by the ackhandler; reconstructed from its call sites in
// sent_packet_handler.go (OnPacketSent/MaybeExitSlowStart/OnPacketAcked/
// OnPacketLost/GetCongestionWindow/CanSend/TimeUntilSend/HasPacingBudget/
// SetMaxDatagramSize) plus the spec §4.1 events NewReno must expose
// (OnRemoveBytesFromInflight, OnRTOVerified).
type SendAlgorithmWithDebugInfos interface {
	OnPacketSent(sentTime time.Time, packetNumber protocol.PacketNumber, packetSize protocol.ByteCount, isAckEliciting bool)
	MaybeExitSlowStart()
	OnPacketAcked(ack AckEvent)
	OnPacketLost(loss LossEvent)
	OnRemoveBytesFromInflight(n protocol.ByteCount)
	OnRTOVerified()

	GetCongestionWindow() protocol.ByteCount
	GetBytesInFlight() protocol.ByteCount
	GetWritableBytes() protocol.ByteCount
	InSlowStart() bool
	CanSend() bool
	TimeUntilSend() time.Time
	HasPacingBudget() bool
	SetMaxDatagramSize(protocol.ByteCount)
}
