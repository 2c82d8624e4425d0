package logging

import (
	"time"

	"github.com/quicclient/quicclient/internal/protocol"
)

// ConnectionTracer is the observability seam for a single connection: the
// ackhandler and handshake state machine report every state transition
// through it, but never depend on a concrete sink (qlog, metrics, stdout).
// Reconstructed from its call sites in the ackhandler (UpdatedPTOCount,
// UpdatedMetrics, SetLossTimer, LossTimerCanceled, LossTimerExpired,
// AcknowledgedPacket, LostPacket, ValidatedECN).
type ConnectionTracer interface {
	UpdatedPTOCount(value uint32)
	UpdatedMetrics(rttStats RTTStatsProvider, cwnd, bytesInFlight protocol.ByteCount, packetsInFlight int)
	SetLossTimer(timerType TimerType, encLevel protocol.EncryptionLevel, deadline time.Time)
	LossTimerCanceled()
	LossTimerExpired(timerType TimerType, encLevel protocol.EncryptionLevel)
	AcknowledgedPacket(encLevel protocol.EncryptionLevel, pn protocol.PacketNumber)
	LostPacket(encLevel protocol.EncryptionLevel, pn protocol.PacketNumber, reason PacketLossReason)
	ValidatedECN(result ECNValidationResult)
}

// RTTStatsProvider is the minimal read-only view of RTT statistics the
// tracer needs; it avoids a direct dependency from logging onto
// internal/utils's concrete RTTStats type.
type RTTStatsProvider interface {
	MinRTT() time.Duration
	LatestRTT() time.Duration
	SmoothedRTT() time.Duration
}

// NopTracer is a ConnectionTracer that discards every event. Used as the
// default when the embedder does not configure a tracer.
type NopTracer struct{}

func (NopTracer) UpdatedPTOCount(uint32)                                                       {}
func (NopTracer) UpdatedMetrics(RTTStatsProvider, protocol.ByteCount, protocol.ByteCount, int) {}
func (NopTracer) SetLossTimer(TimerType, protocol.EncryptionLevel, time.Time)                  {}
func (NopTracer) LossTimerCanceled()                                                           {}
func (NopTracer) LossTimerExpired(TimerType, protocol.EncryptionLevel)                         {}
func (NopTracer) AcknowledgedPacket(protocol.EncryptionLevel, protocol.PacketNumber)           {}
func (NopTracer) LostPacket(protocol.EncryptionLevel, protocol.PacketNumber, PacketLossReason) {}
func (NopTracer) ValidatedECN(ECNValidationResult)                                             {}

var _ ConnectionTracer = NopTracer{}
