// Package ackhandler tracks outstanding packets across the Initial,
// Handshake and Application packet-number spaces (spec §3's "outstanding
// packet" set), resolves incoming ACK frames against that set, drives
// time- and reordering-threshold loss detection, and forwards every
// send/ack/loss signal into the NewReno congestion controller (spec
// §4.1). Adapted from quic-go's sent_packet_handler.go, generalized from
// a client-or-server, Cubic-or-Reno handler down to the client-only,
// NewReno-only shape spec.md requires.
package ackhandler

import (
	"errors"
	"fmt"
	"time"

	"github.com/quicclient/quicclient/internal/congestion"
	"github.com/quicclient/quicclient/internal/protocol"
	"github.com/quicclient/quicclient/internal/qerr"
	"github.com/quicclient/quicclient/internal/utils"
	"github.com/quicclient/quicclient/internal/wire"
	"github.com/quicclient/quicclient/logging"
)

const (
	// Maximum reordering in time space before time based loss detection considers a packet lost.
	// Specified as an RTT multiplier.
	timeThreshold = 9.0 / 8
	// Maximum reordering in packets before packet threshold loss detection considers a packet lost.
	packetThreshold = 3
	// Before the server has validated our address, it won't send more than 3x the bytes it received.
	amplificationFactor = 3
	// We use Retry packets to derive an RTT estimate. Make sure we don't set the RTT to a super low value yet.
	minRTTAfterRetry = 5 * time.Millisecond
)

// ECNMode controls whether outgoing packets are marked for ECN validation.
type ECNMode uint8

const (
	DisableECN ECNMode = 0x00
	// UseECT0 enables ECN by sending packets marked as ECT(0)
	UseECT0 ECNMode = 0x01
	// UseECT1 enables ECN by sending packets marked as ECT(1)
	UseECT1 ECNMode = 0x02
	// TryCE deliberately sends a CE-marked packet after successful ECN validation.
	TryCE ECNMode = 0x04
)

func (m ECNMode) IsValid() bool {
	// At most one of UseECT{0,1} may be set.
	return m&0x03 != 0x03
}

type ecnState int8

const (
	ecnCapable ecnState = -2
	ecnFailed  ecnState = -1
	ecnUnknown ecnState = 0
	// ecnTesting is the number of outstanding ECN-marked validation packets
	// to send before drawing a conclusion.
	ecnTesting ecnState = 5
)

func (s ecnState) IsValidating() bool {
	return s >= 0
}

type packetNumberSpace struct {
	history *sentPacketHistory
	pns     packetNumberGenerator

	lossTime                   time.Time
	lastAckElicitingPacketTime time.Time

	largestAcked protocol.PacketNumber
	largestSent  protocol.PacketNumber
	ect, ecnce   uint64 // from latest ACK
}

func newPacketNumberSpace(initialPN protocol.PacketNumber, skipPNs bool, rttStats *utils.RTTStats) *packetNumberSpace {
	var pns packetNumberGenerator
	if skipPNs {
		pns = newSkippingPacketNumberGenerator(initialPN, protocol.SkipPacketInitialPeriod, protocol.SkipPacketMaxPeriod)
	} else {
		pns = newSequentialPacketNumberGenerator(initialPN)
	}
	return &packetNumberSpace{
		history:      newSentPacketHistory(rttStats),
		pns:          pns,
		largestSent:  protocol.InvalidPacketNumber,
		largestAcked: protocol.InvalidPacketNumber,
	}
}

// sentPacketHandler is the client-only ackhandler: the outstanding-packet
// bookkeeping of the data model (spec §3) and the NewReno congestion
// controller it drives (spec §4.1) meet here, the way the teacher keeps
// both concerns in a single handler.
type sentPacketHandler struct {
	initialPackets   *packetNumberSpace
	handshakePackets *packetNumberSpace
	appDataPackets   *packetNumberSpace

	// peerCompletedAddressValidation is false until we've received a
	// Handshake or 1-RTT packet, proving the server decrypted our Initial.
	peerCompletedAddressValidation bool
	bytesReceived                  protocol.ByteCount
	bytesSent                      protocol.ByteCount

	handshakeConfirmed bool

	// lowestNotConfirmedAcked is the lowest packet number we sent an ACK
	// for, but haven't received confirmation that the ACK itself arrived.
	// Only applies to the Application packet-number space.
	lowestNotConfirmedAcked protocol.PacketNumber

	ackedPackets []*Packet // to avoid allocations in detectAndRemoveAckedPackets

	congestion congestion.SendAlgorithmWithDebugInfos
	rttStats   *utils.RTTStats

	// The number of times a PTO has been sent without receiving an ack.
	ptoCount uint32
	ptoMode  SendMode
	// The number of PTO probe packets that should be sent.
	numProbesToSend int

	// If <= 0: fixed ECN state (capable, failed, or unknown).
	// If  > 0: number of packets left to mark for ECN validation.
	ecnState ecnState
	// The number of ECN validation packets marked lost.
	ecnLost uint8
	// The number of ECN validation packets reported as CE.
	ecnCE uint8
	// The ECN codepoint to use on outgoing packets.
	ecnCodepoint protocol.ECN
	// The number of packets to send marked CE after successful ECN validation.
	ecnTryCE uint8

	// The alarm timeout.
	alarm time.Time

	tracer logging.ConnectionTracer
	logger utils.Logger
}

var (
	_ SentPacketHandler = &sentPacketHandler{}
	_ sentPacketTracker = &sentPacketHandler{}
)

// newSentPacketHandler constructs the client-only ackhandler described by
// spec §4.1 (NewReno) and §3 (outstanding-packet set).
func newSentPacketHandler(
	initialPN protocol.PacketNumber,
	initialMaxDatagramSize protocol.ByteCount,
	rttStats *utils.RTTStats,
	ecnMode ECNMode,
	tracer logging.ConnectionTracer,
	logger utils.Logger,
) *sentPacketHandler {
	sender := congestion.NewNewRenoSender(
		congestion.DefaultClock{},
		rttStats,
		initialMaxDatagramSize,
		tracer,
	)

	ecn := ecnFailed
	ecnCodepoint := protocol.ECNNon
	var ecnTryCE uint8
	switch ecnMode & (UseECT0 | UseECT1) {
	case UseECT0:
		ecn = ecnTesting
		ecnCodepoint = protocol.ECT0
	case UseECT1:
		ecn = ecnTesting
		ecnCodepoint = protocol.ECT1
	}
	if ecnMode&TryCE != 0 {
		ecnTryCE = 2
	}

	return &sentPacketHandler{
		peerCompletedAddressValidation: false,
		initialPackets:                 newPacketNumberSpace(initialPN, false, rttStats),
		handshakePackets:               newPacketNumberSpace(0, false, rttStats),
		appDataPackets:                 newPacketNumberSpace(0, true, rttStats),
		lowestNotConfirmedAcked:        protocol.InvalidPacketNumber + 1,
		rttStats:                       rttStats,
		congestion:                     sender,
		ecnState:                       ecn,
		ecnCodepoint:                   ecnCodepoint,
		ecnTryCE:                       ecnTryCE,
		tracer:                         tracer,
		logger:                         logger,
	}
}

// NewSentPacketHandler is the exported constructor the transport dispatch
// loop uses to build a fresh handler for a new connection attempt.
func NewSentPacketHandler(
	initialPN protocol.PacketNumber,
	initialMaxDatagramSize protocol.ByteCount,
	rttStats *utils.RTTStats,
	ecnMode ECNMode,
	tracer logging.ConnectionTracer,
	logger utils.Logger,
) SentPacketHandler {
	return newSentPacketHandler(initialPN, initialMaxDatagramSize, rttStats, ecnMode, tracer, logger)
}

func (h *sentPacketHandler) DropPackets(encLevel protocol.EncryptionLevel) {
	if encLevel == protocol.EncryptionInitial {
		// Called when the crypto setup seals a Handshake packet. If that
		// Handshake packet is coalesced behind an Initial packet, we would
		// drop the Initial packet number space before SentPacket() was
		// called for that Initial packet.
		return
	}
	h.dropPackets(encLevel)
}

func (h *sentPacketHandler) removeFromBytesInFlight(p *Packet) {
	if p.includedInBytesInFlight {
		h.congestion.OnRemoveBytesFromInflight(p.Length)
		p.includedInBytesInFlight = false
	}
}

func (h *sentPacketHandler) dropPackets(encLevel protocol.EncryptionLevel) {
	// Dropping the Handshake packet number space means the handshake is
	// confirmed, so the peer has validated our address by now.
	if encLevel == protocol.EncryptionHandshake {
		h.peerCompletedAddressValidation = true
	}
	// Remove outstanding packets from bytes_in_flight.
	if encLevel == protocol.EncryptionInitial || encLevel == protocol.EncryptionHandshake {
		pnSpace := h.getPacketNumberSpace(encLevel)
		pnSpace.history.Iterate(func(p *Packet) (bool, error) {
			h.removeFromBytesInFlight(p)
			return true, nil
		})
	}
	switch encLevel {
	case protocol.EncryptionInitial:
		h.initialPackets = nil
	case protocol.EncryptionHandshake:
		h.handshakePackets = nil
	case protocol.Encryption0RTT:
		// Called only when 0-RTT is rejected, not when we drop 0-RTT keys
		// because the handshake completed. All application data sent so
		// far becomes invalid, and the congestion controller sees it as a
		// single synthetic loss event (spec §4.2's 0-RTT reconciliation).
		var lostBytes protocol.ByteCount
		largestLost := protocol.InvalidPacketNumber
		h.appDataPackets.history.Iterate(func(p *Packet) (bool, error) {
			if p.EncryptionLevel != protocol.Encryption0RTT && !p.skippedPacket {
				return false, nil
			}
			if p.includedInBytesInFlight {
				lostBytes += p.Length
				largestLost = p.PacketNumber
				p.includedInBytesInFlight = false
			}
			h.appDataPackets.history.Remove(p.PacketNumber)
			return true, nil
		})
		if lostBytes > 0 {
			h.congestion.OnPacketLost(congestion.LossEvent{PacketNumber: largestLost, LostBytes: lostBytes})
		}
	default:
		panic(fmt.Sprintf("cannot drop keys for encryption level %s", encLevel))
	}
	if h.tracer != nil && h.ptoCount != 0 {
		h.tracer.UpdatedPTOCount(0)
	}
	h.ptoCount = 0
	h.numProbesToSend = 0
	h.ptoMode = SendNone
	h.setLossDetectionTimer()
}

// MarkZeroRTTRejected declares every outstanding 0-RTT packet lost as a
// single synthetic loss event.
func (h *sentPacketHandler) MarkZeroRTTRejected() {
	h.dropPackets(protocol.Encryption0RTT)
}

func (h *sentPacketHandler) ReceivedBytes(n protocol.ByteCount) {
	wasAmplificationLimited := h.isAmplificationLimited()
	h.bytesReceived += n
	if wasAmplificationLimited && !h.isAmplificationLimited() {
		h.setLossDetectionTimer()
	}
}

func (h *sentPacketHandler) ReceivedPacket(protocol.EncryptionLevel) {}

func (h *sentPacketHandler) packetsInFlight() int {
	packetsInFlight := h.appDataPackets.history.Len()
	if h.handshakePackets != nil {
		packetsInFlight += h.handshakePackets.history.Len()
	}
	if h.initialPackets != nil {
		packetsInFlight += h.initialPackets.history.Len()
	}
	return packetsInFlight
}

func (h *sentPacketHandler) SentPacket(packet *Packet) {
	h.bytesSent += packet.Length
	// Drop the Initial packet number space when the first Handshake packet is sent.
	if packet.EncryptionLevel == protocol.EncryptionHandshake && h.initialPackets != nil {
		h.dropPackets(protocol.EncryptionInitial)
	}
	isAckEliciting := h.sentPacketImpl(packet)
	h.getPacketNumberSpace(packet.EncryptionLevel).history.SentPacket(packet, isAckEliciting)
	if h.tracer != nil && isAckEliciting {
		h.tracer.UpdatedMetrics(h.rttStats, h.congestion.GetCongestionWindow(), h.congestion.GetBytesInFlight(), h.packetsInFlight())
	}
	if isAckEliciting || !h.peerCompletedAddressValidation {
		h.setLossDetectionTimer()
	}
}

func (h *sentPacketHandler) getPacketNumberSpace(encLevel protocol.EncryptionLevel) *packetNumberSpace {
	switch encLevel {
	case protocol.EncryptionInitial:
		return h.initialPackets
	case protocol.EncryptionHandshake:
		return h.handshakePackets
	case protocol.Encryption0RTT, protocol.Encryption1RTT:
		return h.appDataPackets
	default:
		panic("invalid packet number space")
	}
}

func (h *sentPacketHandler) sentPacketImpl(packet *Packet) bool /* is ack-eliciting */ {
	pnSpace := h.getPacketNumberSpace(packet.EncryptionLevel)

	for p := utils.MaxPacketNumber(0, pnSpace.largestSent+1); p < packet.PacketNumber; p++ {
		if h.logger.Debug() {
			h.logger.Debugf("Skipping packet number %d", p)
		}
		pnSpace.history.SkippedPacket(p)
	}

	pnSpace.largestSent = packet.PacketNumber
	isAckEliciting := len(packet.Frames) > 0

	if isAckEliciting {
		pnSpace.lastAckElicitingPacketTime = packet.SendTime
		packet.includedInBytesInFlight = true
		if h.numProbesToSend > 0 {
			h.numProbesToSend--
		}
	}
	h.congestion.OnPacketSent(packet.SendTime, packet.PacketNumber, packet.Length, isAckEliciting)

	return isAckEliciting
}

func (h *sentPacketHandler) ReceivedAck(ack *wire.AckFrame, encLevel protocol.EncryptionLevel, rcvTime time.Time) (bool /* contained 1-RTT packet */, error) {
	pnSpace := h.getPacketNumberSpace(encLevel)

	largestAcked := ack.LargestAcked()
	if largestAcked > pnSpace.largestSent {
		return false, &qerr.TransportError{
			ErrorCode:    qerr.ProtocolViolation,
			ErrorMessage: "received ACK for an unsent packet",
		}
	}

	largestAckedIncreased := largestAcked > pnSpace.largestAcked
	if largestAckedIncreased {
		pnSpace.largestAcked = largestAcked
	}

	// The server completes our address validation once it sends us a
	// Handshake or 1-RTT protected packet.
	if !h.peerCompletedAddressValidation &&
		(encLevel == protocol.EncryptionHandshake || encLevel == protocol.Encryption1RTT) {
		h.peerCompletedAddressValidation = true
		h.logger.Debugf("Peer doesn't await address validation any longer.")
		h.setLossDetectionTimer()
	}

	ackedPackets, err := h.detectAndRemoveAckedPackets(ack, encLevel)
	if err != nil || len(ackedPackets) == 0 {
		return false, err
	}
	// Update the RTT if the largest acked is newly acknowledged.
	if p := ackedPackets[len(ackedPackets)-1]; p.PacketNumber == largestAcked {
		var ackDelay time.Duration
		if encLevel == protocol.Encryption1RTT {
			// The ack delay field doesn't apply to Initial/Handshake ACKs.
			ackDelay = utils.MinDuration(ack.DelayTime, h.rttStats.MaxAckDelay())
		}
		h.rttStats.UpdateRTT(rcvTime.Sub(p.SendTime), ackDelay, rcvTime)
		if h.logger.Debug() {
			h.logger.Debugf("\tupdated RTT: %s (σ: %s)", h.rttStats.SmoothedRTT(), h.rttStats.MeanDeviation())
		}
		h.congestion.MaybeExitSlowStart()
	}
	if err := h.detectLostPackets(rcvTime, encLevel); err != nil {
		return false, err
	}
	if h.ecnState != ecnFailed {
		h.processECNCounts(ack, encLevel, largestAckedIncreased, ackedPackets)
	}
	var acked1RTTPacket bool
	for _, p := range ackedPackets {
		if p.includedInBytesInFlight && !p.declaredLost {
			// OnPacketAcked already removes p.Length from the controller's
			// bytes_in_flight; don't also route through
			// removeFromBytesInFlight, or it underflows on the next ack/loss.
			h.congestion.OnPacketAcked(congestion.AckEvent{
				PacketNumber: p.PacketNumber,
				AckedBytes:   p.Length,
				EventTime:    rcvTime,
			})
			p.includedInBytesInFlight = false
		}
		if p.EncryptionLevel == protocol.Encryption1RTT {
			acked1RTTPacket = true
		}
	}

	// Reset the PTO count, unless we're unsure the server has validated our address.
	if h.peerCompletedAddressValidation {
		if h.tracer != nil && h.ptoCount != 0 {
			h.tracer.UpdatedPTOCount(0)
		}
		h.ptoCount = 0
	}
	h.numProbesToSend = 0

	if h.tracer != nil {
		h.tracer.UpdatedMetrics(h.rttStats, h.congestion.GetCongestionWindow(), h.congestion.GetBytesInFlight(), h.packetsInFlight())
	}

	pnSpace.history.DeleteOldPackets(rcvTime)
	h.setLossDetectionTimer()
	return acked1RTTPacket, nil
}

func (h *sentPacketHandler) GetLowestPacketNotConfirmedAcked() protocol.PacketNumber {
	return h.lowestNotConfirmedAcked
}

// detectAndRemoveAckedPackets returns newly-acked packets in ascending
// packet number order.
func (h *sentPacketHandler) detectAndRemoveAckedPackets(ack *wire.AckFrame, encLevel protocol.EncryptionLevel) ([]*Packet, error) {
	pnSpace := h.getPacketNumberSpace(encLevel)
	h.ackedPackets = h.ackedPackets[:0]
	ackRangeIndex := 0
	lowestAcked := ack.LowestAcked()
	largestAcked := ack.LargestAcked()
	err := pnSpace.history.Iterate(func(p *Packet) (bool, error) {
		// Ignore packets below the lowest acked.
		if p.PacketNumber < lowestAcked {
			return true, nil
		}
		// Break after the largest acked is reached.
		if p.PacketNumber > largestAcked {
			return false, nil
		}

		if ack.HasMissingRanges() {
			ackRange := ack.AckRanges[len(ack.AckRanges)-1-ackRangeIndex]

			for p.PacketNumber > ackRange.Largest && ackRangeIndex < len(ack.AckRanges)-1 {
				ackRangeIndex++
				ackRange = ack.AckRanges[len(ack.AckRanges)-1-ackRangeIndex]
			}

			if p.PacketNumber < ackRange.Smallest { // packet not contained in this ACK range
				return true, nil
			}
			if p.PacketNumber > ackRange.Largest {
				return false, fmt.Errorf("BUG: ackhandler would have acked wrong packet %d, while evaluating range %d -> %d", p.PacketNumber, ackRange.Smallest, ackRange.Largest)
			}
		}
		if p.skippedPacket {
			return false, &qerr.TransportError{
				ErrorCode:    qerr.ProtocolViolation,
				ErrorMessage: fmt.Sprintf("received an ACK for skipped packet number: %d (%s)", p.PacketNumber, encLevel),
			}
		}
		h.ackedPackets = append(h.ackedPackets, p)
		return true, nil
	})
	if h.logger.Debug() && len(h.ackedPackets) > 0 {
		pns := make([]protocol.PacketNumber, len(h.ackedPackets))
		for i, p := range h.ackedPackets {
			pns[i] = p.PacketNumber
		}
		h.logger.Debugf("\tnewly acked packets (%d): %d", len(pns), pns)
	}

	for _, p := range h.ackedPackets {
		if p.LargestAcked != protocol.InvalidPacketNumber && encLevel == protocol.Encryption1RTT {
			h.lowestNotConfirmedAcked = utils.MaxPacketNumber(h.lowestNotConfirmedAcked, p.LargestAcked+1)
		}

		for _, f := range p.Frames {
			if f.OnAcked != nil {
				f.OnAcked(f.Frame)
			}
		}
		if err := pnSpace.history.Remove(p.PacketNumber); err != nil {
			return nil, err
		}
		if h.tracer != nil {
			h.tracer.AcknowledgedPacket(encLevel, p.PacketNumber)
		}
	}

	return h.ackedPackets, err
}

func (h *sentPacketHandler) processECNCounts(ack *wire.AckFrame, encLevel protocol.EncryptionLevel, largestAckedIncreased bool, ackedPackets []*Packet) {
	sentCP := h.ecnCodepoint
	unusedCP := sentCP ^ 0b11 // ECT0 <-> ECT1
	var ackECT, ackUnused uint64
	switch sentCP {
	case protocol.ECT0:
		ackECT = ack.ECT0
		ackUnused = ack.ECT1
	case protocol.ECT1:
		ackECT = ack.ECT1
		ackUnused = ack.ECT0
	default:
		panic(fmt.Sprintf("default ECN codepoint is %#b", sentCP))
	}

	pnSpace := h.getPacketNumberSpace(encLevel)
	var ect, ecnce uint64
	lost := ackedPackets[len(ackedPackets)-1] // packet to potentially pass to congestion.OnPacketLost()
	for _, p := range ackedPackets {
		switch p.TOS.ECN() {
		case sentCP:
			ect++
			lost = p
		case protocol.ECNCE:
			ecnce++
			lost = p
		case unusedCP:
			h.logger.Errorf("BUG: unexpected ECT(%d) packet with pn %d (%s)", unusedCP&1, p.PacketNumber, p.EncryptionLevel)
		}
	}

	if largestAckedIncreased {
		if !ack.HasECN() {
			if ect > 0 || ecnce > 0 {
				h.updateECNState(ecnFailed, logging.ECNValidationMissingCounters)
			}
			return
		}
		if ackECT < pnSpace.ect {
			result := logging.ECNValidationDecreasingECT0
			if sentCP == protocol.ECT1 {
				result = logging.ECNValidationDecreasingECT1
			}
			h.updateECNState(ecnFailed, result)
			return
		}
		if ack.ECNCE < pnSpace.ecnce {
			h.updateECNState(ecnFailed, logging.ECNValidationDecreasingCE)
			return
		}
		if ackUnused > 0 {
			reason := logging.ECNValidationIllegalECT1
			if sentCP == protocol.ECT1 {
				reason = logging.ECNValidationIllegalECT0
			}
			h.updateECNState(ecnFailed, reason)
			return
		}

		deltaCE := ack.ECNCE - pnSpace.ecnce
		if ecnce > deltaCE {
			h.updateECNState(ecnFailed, logging.ECNValidationMissingCE)
			return
		}
		deltaECT := (ackECT - pnSpace.ect) + (deltaCE - ecnce) // ECT may be re-marked to CE
		if ect > deltaECT {
			reason := logging.ECNValidationMissingECT0
			if sentCP == protocol.ECT1 {
				reason = logging.ECNValidationMissingECT1
			}
			h.updateECNState(ecnFailed, reason)
			return
		}

		h.logger.Debugf("\tECN validation passed")
		if h.ecnState.IsValidating() && ackECT > 0 {
			// Validation can only be left once at least one non-CE echo has
			// arrived; otherwise it could still fail due to all-CE.
			h.updateECNState(ecnCapable, logging.ECNValidationSuccess)
		}
	}

	// Compensate the local CE count for ACKed packets that were originally
	// sent with a CE mark, so a re-ACK doesn't trigger a spurious loss.
	pnSpace.ecnce += ecnce

	if ack.ECNCE > pnSpace.ecnce {
		if h.ecnState.IsValidating() {
			h.ecnCE += uint8(ack.ECNCE - pnSpace.ecnce) // over-counts on coalesced packets
			if h.ecnCE >= uint8(ecnTesting) {
				h.updateECNState(ecnFailed, logging.ECNValidationAllCE)
				return
			}
		}
		lost.declaredLost = true // to circumvent the congestion.OnPacketAcked() call above
		h.congestion.OnPacketLost(congestion.LossEvent{PacketNumber: lost.PacketNumber, LostBytes: lost.Length})
		pnSpace.ecnce = ack.ECNCE
	}
	if ackECT > pnSpace.ect {
		pnSpace.ect = ackECT
	}
}

func (h *sentPacketHandler) updateECNState(newState ecnState, result logging.ECNValidationResult) {
	h.ecnState = newState
	if h.tracer != nil {
		h.tracer.ValidatedECN(result)
	}
	h.logger.Debugf("ECN validation updated: %s", result)
}

func (h *sentPacketHandler) getLossTimeAndSpace() (time.Time, protocol.EncryptionLevel) {
	var encLevel protocol.EncryptionLevel
	var lossTime time.Time

	if h.initialPackets != nil {
		lossTime = h.initialPackets.lossTime
		encLevel = protocol.EncryptionInitial
	}
	if h.handshakePackets != nil && (lossTime.IsZero() || (!h.handshakePackets.lossTime.IsZero() && h.handshakePackets.lossTime.Before(lossTime))) {
		lossTime = h.handshakePackets.lossTime
		encLevel = protocol.EncryptionHandshake
	}
	if lossTime.IsZero() || (!h.appDataPackets.lossTime.IsZero() && h.appDataPackets.lossTime.Before(lossTime)) {
		lossTime = h.appDataPackets.lossTime
		encLevel = protocol.Encryption1RTT
	}
	return lossTime, encLevel
}

// getPTOTimeAndSpace mirrors getLossTimeAndSpace, but for
// lastAckElicitingPacketTime instead of lossTime.
func (h *sentPacketHandler) getPTOTimeAndSpace() (pto time.Time, encLevel protocol.EncryptionLevel, ok bool) {
	// We only probe the Application space once the handshake is confirmed:
	// before that we don't have the keys to decrypt ACKs sent in 1-RTT packets.
	if !h.handshakeConfirmed && !h.hasOutstandingCryptoPackets() {
		if h.peerCompletedAddressValidation {
			return
		}
		t := time.Now().Add(h.rttStats.PTO(false) << h.ptoCount)
		if h.initialPackets != nil {
			return t, protocol.EncryptionInitial, true
		}
		return t, protocol.EncryptionHandshake, true
	}

	if h.initialPackets != nil {
		encLevel = protocol.EncryptionInitial
		if t := h.initialPackets.lastAckElicitingPacketTime; !t.IsZero() {
			pto = t.Add(h.rttStats.PTO(false) << h.ptoCount)
		}
	}
	if h.handshakePackets != nil && !h.handshakePackets.lastAckElicitingPacketTime.IsZero() {
		t := h.handshakePackets.lastAckElicitingPacketTime.Add(h.rttStats.PTO(false) << h.ptoCount)
		if pto.IsZero() || (!t.IsZero() && t.Before(pto)) {
			pto = t
			encLevel = protocol.EncryptionHandshake
		}
	}
	if h.handshakeConfirmed && !h.appDataPackets.lastAckElicitingPacketTime.IsZero() {
		t := h.appDataPackets.lastAckElicitingPacketTime.Add(h.rttStats.PTO(true) << h.ptoCount)
		if pto.IsZero() || (!t.IsZero() && t.Before(pto)) {
			pto = t
			encLevel = protocol.Encryption1RTT
		}
	}
	return pto, encLevel, true
}

func (h *sentPacketHandler) hasOutstandingCryptoPackets() bool {
	var hasInitial, hasHandshake bool
	if h.initialPackets != nil {
		hasInitial = h.initialPackets.history.HasOutstandingPackets()
	}
	if h.handshakePackets != nil {
		hasHandshake = h.handshakePackets.history.HasOutstandingPackets()
	}
	return hasInitial || hasHandshake
}

func (h *sentPacketHandler) hasOutstandingPackets() bool {
	return h.appDataPackets.history.HasOutstandingPackets() || h.hasOutstandingCryptoPackets()
}

func (h *sentPacketHandler) setLossDetectionTimer() {
	oldAlarm := h.alarm // only needed if tracing is enabled
	lossTime, encLevel := h.getLossTimeAndSpace()
	if !lossTime.IsZero() {
		// Early retransmit timer or time loss detection.
		h.alarm = lossTime
		if h.tracer != nil && h.alarm != oldAlarm {
			h.tracer.SetLossTimer(logging.TimerTypeACK, encLevel, h.alarm)
		}
		return
	}

	if h.isAmplificationLimited() {
		h.alarm = time.Time{}
		if !oldAlarm.IsZero() {
			h.logger.Debugf("Canceling loss detection timer. Amplification limited.")
			if h.tracer != nil {
				h.tracer.LossTimerCanceled()
			}
		}
		return
	}

	if !h.hasOutstandingPackets() && h.peerCompletedAddressValidation {
		h.alarm = time.Time{}
		if !oldAlarm.IsZero() {
			h.logger.Debugf("Canceling loss detection timer. No packets in flight.")
			if h.tracer != nil {
				h.tracer.LossTimerCanceled()
			}
		}
		return
	}

	// PTO alarm.
	ptoTime, encLevel, ok := h.getPTOTimeAndSpace()
	if !ok {
		return
	}
	h.alarm = ptoTime
	if h.tracer != nil && h.alarm != oldAlarm {
		h.tracer.SetLossTimer(logging.TimerTypePTO, encLevel, h.alarm)
	}
}

func (h *sentPacketHandler) detectLostPackets(now time.Time, encLevel protocol.EncryptionLevel) error {
	pnSpace := h.getPacketNumberSpace(encLevel)
	pnSpace.lossTime = time.Time{}

	maxRTT := float64(utils.MaxDuration(h.rttStats.LatestRTT(), h.rttStats.SmoothedRTT()))
	lossDelay := time.Duration(timeThreshold * maxRTT)
	lossDelay = utils.MaxDuration(lossDelay, protocol.TimerGranularity)

	lostSendTime := now.Add(-lossDelay)

	return pnSpace.history.Iterate(func(p *Packet) (bool, error) {
		if p.PacketNumber > pnSpace.largestAcked {
			return false, nil
		}
		if p.declaredLost || p.skippedPacket {
			return true, nil
		}

		var packetLost bool
		if p.SendTime.Before(lostSendTime) {
			packetLost = true
			if h.logger.Debug() {
				h.logger.Debugf("\tlost packet %d (time threshold)", p.PacketNumber)
			}
			if h.tracer != nil {
				h.tracer.LostPacket(p.EncryptionLevel, p.PacketNumber, logging.PacketLossTimeThreshold)
			}
		} else if pnSpace.largestAcked >= p.PacketNumber+packetThreshold {
			packetLost = true
			if h.logger.Debug() {
				h.logger.Debugf("\tlost packet %d (reordering threshold)", p.PacketNumber)
			}
			if h.tracer != nil {
				h.tracer.LostPacket(p.EncryptionLevel, p.PacketNumber, logging.PacketLossReorderingThreshold)
			}
		} else if pnSpace.lossTime.IsZero() {
			// This branch is entered at most once per call.
			lossTime := p.SendTime.Add(lossDelay)
			if h.logger.Debug() {
				h.logger.Debugf("\tsetting loss timer for packet %d (%s) to %s (in %s)", p.PacketNumber, encLevel, lossDelay, lossTime)
			}
			pnSpace.lossTime = lossTime
		}
		if packetLost {
			p.declaredLost = true
			h.queueFramesForRetransmission(p)
			h.checkECNValidationLoss(p)
			// Bytes in flight must shrink regardless of whether the frames
			// in this packet are retransmitted, but only once: OnPacketLost
			// already removes p.Length from the controller's
			// bytes_in_flight, so a path MTU probe (which skips OnPacketLost)
			// is the only case that still routes through
			// OnRemoveBytesFromInflight directly.
			if p.includedInBytesInFlight {
				if p.IsPathMTUProbePacket {
					h.congestion.OnRemoveBytesFromInflight(p.Length)
				} else {
					h.congestion.OnPacketLost(congestion.LossEvent{PacketNumber: p.PacketNumber, LostBytes: p.Length})
				}
				p.includedInBytesInFlight = false
			}
		}
		return true, nil
	})
}

func (h *sentPacketHandler) checkECNValidationLoss(p *Packet) {
	if !h.ecnState.IsValidating() || p.TOS.ECN() == protocol.ECNNon {
		return
	}
	h.ecnLost++ // over-counts on coalesced packets
	if h.ecnLost >= uint8(ecnTesting) {
		h.updateECNState(ecnFailed, logging.ECNValidationAllLost)
	}
}

func (h *sentPacketHandler) OnLossDetectionTimeout() error {
	defer h.setLossDetectionTimer()
	earliestLossTime, encLevel := h.getLossTimeAndSpace()
	if !earliestLossTime.IsZero() {
		if h.logger.Debug() {
			h.logger.Debugf("Loss detection alarm fired in loss timer mode. Loss time: %s", earliestLossTime)
		}
		if h.tracer != nil {
			h.tracer.LossTimerExpired(logging.TimerTypeACK, encLevel)
		}
		return h.detectLostPackets(time.Now(), encLevel)
	}

	// PTO. setLossDetectionTimer already cancels the alarm once every
	// outstanding packet is acknowledged, but double-check bytes_in_flight
	// before entering PTO mode.
	if h.congestion.GetBytesInFlight() == 0 && !h.peerCompletedAddressValidation {
		h.ptoCount++
		h.numProbesToSend++
		switch {
		case h.initialPackets != nil:
			h.ptoMode = SendPTOInitial
		case h.handshakePackets != nil:
			h.ptoMode = SendPTOHandshake
		default:
			return errors.New("sentPacketHandler BUG: PTO fired, but bytes_in_flight is 0 and Initial and Handshake already dropped")
		}
		h.maybeVerifyRTO()
		return nil
	}

	_, encLevel, ok := h.getPTOTimeAndSpace()
	if !ok {
		return nil
	}
	if ps := h.getPacketNumberSpace(encLevel); !ps.history.HasOutstandingPackets() && !h.peerCompletedAddressValidation {
		return nil
	}
	h.ptoCount++
	if h.logger.Debug() {
		h.logger.Debugf("Loss detection alarm for %s fired in PTO mode. PTO count: %d", encLevel, h.ptoCount)
	}
	if h.tracer != nil {
		h.tracer.LossTimerExpired(logging.TimerTypePTO, encLevel)
		h.tracer.UpdatedPTOCount(h.ptoCount)
	}
	h.numProbesToSend += 2
	switch encLevel {
	case protocol.EncryptionInitial:
		h.ptoMode = SendPTOInitial
	case protocol.EncryptionHandshake:
		h.ptoMode = SendPTOHandshake
	case protocol.Encryption1RTT:
		// Skip a packet number to elicit an immediate ACK.
		_ = h.PopPacketNumber(protocol.Encryption1RTT)
		h.ptoMode = SendPTOAppData
	default:
		return fmt.Errorf("PTO timer in unexpected encryption level: %s", encLevel)
	}
	h.maybeVerifyRTO()
	return nil
}

// maybeVerifyRTO escalates two consecutive, still-unacknowledged PTOs into
// a verified RTO (spec §4.1's on_rto_verified event), collapsing the
// window back to the minimum.
func (h *sentPacketHandler) maybeVerifyRTO() {
	if h.ptoCount < 2 {
		return
	}
	h.congestion.OnRTOVerified()
}

func (h *sentPacketHandler) GetLossDetectionTimeout() time.Time {
	return h.alarm
}

func (h *sentPacketHandler) PeekPacketNumber(encLevel protocol.EncryptionLevel) (protocol.PacketNumber, protocol.PacketNumberLen) {
	pnSpace := h.getPacketNumberSpace(encLevel)

	var lowestUnacked protocol.PacketNumber
	if p := pnSpace.history.FirstOutstanding(); p != nil {
		lowestUnacked = p.PacketNumber
	} else {
		lowestUnacked = pnSpace.largestAcked + 1
	}

	pn := pnSpace.pns.Peek()
	return pn, protocol.GetPacketNumberLengthForHeader(pn, lowestUnacked)
}

func (h *sentPacketHandler) PopPacketNumber(encLevel protocol.EncryptionLevel) protocol.PacketNumber {
	return h.getPacketNumberSpace(encLevel).pns.Pop()
}

func (h *sentPacketHandler) GetTOS(isAckEliciting bool) protocol.TOS {
	switch h.ecnState {
	case ecnCapable:
		if h.ecnTryCE > 0 {
			h.ecnTryCE--
			return protocol.ECNCE.ToTOS()
		}
		return h.ecnCodepoint.ToTOS()
	case ecnFailed, ecnUnknown:
		return protocol.TOSDefault
	}
	if h.ecnState <= 0 {
		panic("invalid ecnState")
	}

	// Attempt ECN validation per RFC 9000, appendix A.4.
	if !isAckEliciting {
		// Non-ack-eliciting packets aren't tracked here, so their losses
		// would never be noticed; they're unsuitable for ECN validation.
		return protocol.TOSDefault
	}
	h.ecnState--
	return h.ecnCodepoint.ToTOS()
}

func (h *sentPacketHandler) SendMode() SendMode {
	numTrackedPackets := h.appDataPackets.history.Len()
	if h.initialPackets != nil {
		numTrackedPackets += h.initialPackets.history.Len()
	}
	if h.handshakePackets != nil {
		numTrackedPackets += h.handshakePackets.history.Len()
	}

	if h.isAmplificationLimited() {
		h.logger.Debugf("Amplification window limited. Received %d bytes, already sent out %d bytes", h.bytesReceived, h.bytesSent)
		return SendNone
	}
	// MaxTrackedSentPackets caps how many packets we ever keep around,
	// including retransmissions/ACKs; MaxOutstandingSentPackets (smaller)
	// caps how many new packets we send while still allowing those.
	if numTrackedPackets >= protocol.MaxTrackedSentPackets {
		if h.logger.Debug() {
			h.logger.Debugf("Limited by the number of tracked packets: tracking %d packets, maximum %d", numTrackedPackets, protocol.MaxTrackedSentPackets)
		}
		return SendNone
	}
	if h.numProbesToSend > 0 {
		return h.ptoMode
	}
	if !h.congestion.CanSend() {
		if h.logger.Debug() {
			h.logger.Debugf("Congestion limited: bytes in flight %d, window %d", h.congestion.GetBytesInFlight(), h.congestion.GetCongestionWindow())
		}
		return SendAck
	}
	if numTrackedPackets >= protocol.MaxOutstandingSentPackets {
		if h.logger.Debug() {
			h.logger.Debugf("Max outstanding limited: tracking %d packets, maximum: %d", numTrackedPackets, protocol.MaxOutstandingSentPackets)
		}
		return SendAck
	}
	return SendAny
}

func (h *sentPacketHandler) TimeUntilSend() time.Time {
	return h.congestion.TimeUntilSend()
}

func (h *sentPacketHandler) HasPacingBudget() bool {
	return h.congestion.HasPacingBudget()
}

func (h *sentPacketHandler) SetMaxDatagramSize(s protocol.ByteCount) {
	h.congestion.SetMaxDatagramSize(s)
}

func (h *sentPacketHandler) isAmplificationLimited() bool {
	return h.bytesReceived == 0 && h.bytesSent >= amplificationFactor*h.bytesReceived
}

func (h *sentPacketHandler) QueueProbePacket(encLevel protocol.EncryptionLevel) bool {
	pnSpace := h.getPacketNumberSpace(encLevel)
	p := pnSpace.history.FirstOutstanding()
	if p == nil {
		return false
	}
	h.queueFramesForRetransmission(p)
	h.removeFromBytesInFlight(p)
	p.declaredLost = true
	h.checkECNValidationLoss(p)
	return true
}

func (h *sentPacketHandler) queueFramesForRetransmission(p *Packet) {
	if len(p.Frames) == 0 {
		panic("no frames")
	}
	for _, f := range p.Frames {
		f.OnLost(f.Frame)
	}
	p.Frames = nil
}

func (h *sentPacketHandler) ResetForRetry() error {
	var firstPacketSendTime time.Time
	h.initialPackets.history.Iterate(func(p *Packet) (bool, error) {
		if firstPacketSendTime.IsZero() {
			firstPacketSendTime = p.SendTime
		}
		if p.declaredLost || p.skippedPacket {
			return true, nil
		}
		h.queueFramesForRetransmission(p)
		return true, nil
	})
	// All application data packets sent at this point are 0-RTT packets;
	// on a Retry, the server has dropped all of them.
	h.appDataPackets.history.Iterate(func(p *Packet) (bool, error) {
		if !p.declaredLost && !p.skippedPacket {
			h.queueFramesForRetransmission(p)
		}
		return true, nil
	})

	// Only use the Retry to estimate the RTT if we didn't retransmit the
	// Initial; otherwise we don't know which Initial the Retry answers.
	if h.ptoCount == 0 {
		now := time.Now()
		h.rttStats.UpdateRTT(utils.MaxDuration(minRTTAfterRetry, now.Sub(firstPacketSendTime)), 0, now)
		if h.logger.Debug() {
			h.logger.Debugf("\tupdated RTT: %s (σ: %s)", h.rttStats.SmoothedRTT(), h.rttStats.MeanDeviation())
		}
		if h.tracer != nil {
			h.tracer.UpdatedMetrics(h.rttStats, h.congestion.GetCongestionWindow(), h.congestion.GetBytesInFlight(), h.packetsInFlight())
		}
	}
	h.initialPackets = newPacketNumberSpace(h.initialPackets.pns.Pop(), false, h.rttStats)
	h.appDataPackets = newPacketNumberSpace(h.appDataPackets.pns.Pop(), true, h.rttStats)
	if h.ecnState.IsValidating() {
		h.ecnState = ecnTesting
		h.ecnLost = 0
		h.ecnCE = 0
	}
	oldAlarm := h.alarm
	h.alarm = time.Time{}
	if h.tracer != nil {
		h.tracer.UpdatedPTOCount(0)
		if !oldAlarm.IsZero() {
			h.tracer.LossTimerCanceled()
		}
	}
	h.ptoCount = 0
	return nil
}

func (h *sentPacketHandler) SetHandshakeConfirmed() {
	h.handshakeConfirmed = true
	// We don't probe the Application space before the handshake completes;
	// make sure the timer is armed now, if necessary.
	h.setLossDetectionTimer()
}
