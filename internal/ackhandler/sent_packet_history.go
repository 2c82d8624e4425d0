package ackhandler

import (
	"container/list"
	"fmt"
	"time"

	"github.com/quicclient/quicclient/internal/protocol"
	"github.com/quicclient/quicclient/internal/utils"
)

// maxPacketAge bounds how long a lost packet lingers in the history purely
// for RTT/duplicate-detection bookkeeping (acknowledged packets are removed
// at once, and skipped numbers, which have no send time, stay), mirroring
// quic-go's sentPacketHistory retention window.
const maxPacketAge = 3 * time.Second

// sentPacketHistory keeps the outstanding (and recently resolved) packets
// of a single packet-number space in ascending packet-number order, so the
// ackhandler can walk it in wire order when matching ACK ranges (spec §3:
// "an ordered set of outstanding (unacked) packets").
type sentPacketHistory struct {
	packetList *list.List
	packets    map[protocol.PacketNumber]*list.Element

	rttStats *utils.RTTStats
}

func newSentPacketHistory(rttStats *utils.RTTStats) *sentPacketHistory {
	return &sentPacketHistory{
		packetList: list.New(),
		packets:    make(map[protocol.PacketNumber]*list.Element),
		rttStats:   rttStats,
	}
}

func (h *sentPacketHistory) SentPacket(p *Packet, isAckEliciting bool) {
	el := h.packetList.PushBack(p)
	h.packets[p.PacketNumber] = el
	_ = isAckEliciting
}

// SkippedPacket records a packet number that was deliberately skipped (to
// elicit an immediate ACK), without it ever having been sent.
func (h *sentPacketHistory) SkippedPacket(pn protocol.PacketNumber) {
	p := &Packet{PacketNumber: pn, skippedPacket: true}
	el := h.packetList.PushBack(p)
	h.packets[pn] = el
}

func (h *sentPacketHistory) Len() int { return h.packetList.Len() }

func (h *sentPacketHistory) HasOutstandingPackets() bool {
	for el := h.packetList.Front(); el != nil; el = el.Next() {
		p := el.Value.(*Packet)
		if !p.declaredLost && !p.skippedPacket {
			return true
		}
	}
	return false
}

func (h *sentPacketHistory) FirstOutstanding() *Packet {
	for el := h.packetList.Front(); el != nil; el = el.Next() {
		p := el.Value.(*Packet)
		if !p.declaredLost && !p.skippedPacket {
			return p
		}
	}
	return nil
}

// Iterate walks packets in ascending packet-number order, stopping early
// when the callback returns false.
func (h *sentPacketHistory) Iterate(cb func(*Packet) (bool, error)) error {
	for el := h.packetList.Front(); el != nil; {
		next := el.Next()
		cont, err := cb(el.Value.(*Packet))
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
		el = next
	}
	return nil
}

func (h *sentPacketHistory) Remove(pn protocol.PacketNumber) error {
	el, ok := h.packets[pn]
	if !ok {
		return fmt.Errorf("packet %d not found in sent packet history", pn)
	}
	h.packetList.Remove(el)
	delete(h.packets, pn)
	return nil
}

// DeleteOldPackets evicts resolved (lost/skipped) packets sent long enough
// ago that they can no longer inform RTT or duplicate-ACK detection.
func (h *sentPacketHistory) DeleteOldPackets(now time.Time) {
	for el := h.packetList.Front(); el != nil; {
		next := el.Next()
		p := el.Value.(*Packet)
		if !p.declaredLost && !p.skippedPacket {
			break
		}
		if p.SendTime.IsZero() || now.Sub(p.SendTime) < maxPacketAge {
			el = next
			continue
		}
		h.packetList.Remove(el)
		delete(h.packets, p.PacketNumber)
		el = next
	}
}
