package ackhandler

import (
	"time"

	"github.com/quicclient/quicclient/internal/protocol"
	"github.com/quicclient/quicclient/internal/wire"
)

// SentPacketHandler is the public surface the transport dispatch loop
// (component 7) drives: it enrolls outgoing packets, feeds in incoming
// ACKs and loss-timer fires, and answers "how much may I send, and at
// what packet number".
type SentPacketHandler interface {
	SentPacket(packet *Packet)
	ReceivedAck(ack *wire.AckFrame, encLevel protocol.EncryptionLevel, rcvTime time.Time) (bool, error)
	ReceivedBytes(n protocol.ByteCount)
	ReceivedPacket(encLevel protocol.EncryptionLevel)
	DropPackets(encLevel protocol.EncryptionLevel)

	GetLowestPacketNotConfirmedAcked() protocol.PacketNumber
	PeekPacketNumber(encLevel protocol.EncryptionLevel) (protocol.PacketNumber, protocol.PacketNumberLen)
	PopPacketNumber(encLevel protocol.EncryptionLevel) protocol.PacketNumber
	GetTOS(isAckEliciting bool) protocol.TOS

	SendMode() SendMode
	TimeUntilSend() time.Time
	HasPacingBudget() bool
	SetMaxDatagramSize(protocol.ByteCount)

	OnLossDetectionTimeout() error
	GetLossDetectionTimeout() time.Time
	QueueProbePacket(encLevel protocol.EncryptionLevel) bool

	ResetForRetry() error
	SetHandshakeConfirmed()
}

// sentPacketTracker is the narrower write-side interface the packet
// builder needs in order to enroll a just-sealed packet, without pulling
// in the full SentPacketHandler surface.
type sentPacketTracker interface {
	SentPacket(packet *Packet)
}
