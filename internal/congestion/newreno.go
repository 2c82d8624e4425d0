package congestion

import (
	"fmt"
	"math"
	"time"

	"github.com/quicclient/quicclient/internal/protocol"
	"github.com/quicclient/quicclient/internal/utils"
	"github.com/quicclient/quicclient/logging"
)

// Tunables, mirrored from the transportSettings fields NewReno.cpp reads
// off QuicConnectionStateBase (initCwndInMss/minCwndInMss/maxCwndInMss).
const (
	InitialCwndInMss = 10
	MinCwndInMss     = 2
	MaxCwndInMss     = 200 * 1000

	// kRenoLossReductionFactorShift in the original: cwnd >> 1 on loss.
	lossReductionFactorShift = 1
)

// newRenoSender implements SendAlgorithmWithDebugInfos. Grounded on
// original_source/quic/congestion_control/NewReno.cpp: it owns
// bytesInFlight itself (the spec's "Events" operate directly on that
// state), clamps cwnd to [min,max]*mss on every mutation, and never paces
// (TimeUntilSend always returns the zero time, HasPacingBudget is always
// true) per the Non-goal that NewReno is unpaced.
type newRenoSender struct {
	clock    Clock
	rttStats *utils.RTTStats
	tracer   logging.ConnectionTracer

	maxDatagramSize protocol.ByteCount

	cwndBytes     protocol.ByteCount
	ssthresh      protocol.ByteCount
	bytesInFlight protocol.ByteCount
	endOfRecovery protocol.PacketNumber
	largestSent   protocol.PacketNumber
}

var _ SendAlgorithmWithDebugInfos = &newRenoSender{}

// NewNewRenoSender constructs a NewReno congestion controller. initCwndInMss
// is clamped into [MinCwndInMss, MaxCwndInMss] immediately, matching the
// constructor-time bounding the original performs.
func NewNewRenoSender(
	clock Clock,
	rttStats *utils.RTTStats,
	initialMaxDatagramSize protocol.ByteCount,
	tracer logging.ConnectionTracer,
) SendAlgorithmWithDebugInfos {
	s := &newRenoSender{
		clock:           clock,
		rttStats:        rttStats,
		tracer:          tracer,
		maxDatagramSize: initialMaxDatagramSize,
		ssthresh:        protocol.ByteCount(math.MaxInt64),
		endOfRecovery:   0,
		largestSent:     protocol.InvalidPacketNumber,
	}
	s.cwndBytes = s.boundedCwnd(InitialCwndInMss * initialMaxDatagramSize)
	return s
}

func (s *newRenoSender) boundedCwnd(cwnd protocol.ByteCount) protocol.ByteCount {
	min := protocol.ByteCount(MinCwndInMss) * s.maxDatagramSize
	max := protocol.ByteCount(MaxCwndInMss) * s.maxDatagramSize
	if cwnd < min {
		return min
	}
	if cwnd > max {
		return max
	}
	return cwnd
}

func subtractAndCheckUnderflow(cur *protocol.ByteCount, amount protocol.ByteCount) {
	if amount > *cur {
		panic(fmt.Sprintf("congestion: bytes_in_flight underflow: have %d, subtracting %d", *cur, amount))
	}
	*cur -= amount
}

func addAndCheckOverflow(cur *protocol.ByteCount, amount protocol.ByteCount) {
	if *cur > math.MaxInt64-amount {
		panic(fmt.Sprintf("congestion: overflow adding %d to %d", amount, *cur))
	}
	*cur += amount
}

func (s *newRenoSender) OnPacketSent(sentTime time.Time, packetNumber protocol.PacketNumber, packetSize protocol.ByteCount, isAckEliciting bool) {
	if packetNumber > s.largestSent {
		s.largestSent = packetNumber
	}
	if !isAckEliciting {
		return
	}
	addAndCheckOverflow(&s.bytesInFlight, packetSize)
}

// MaybeExitSlowStart is a no-op for NewReno: unlike Cubic, NewReno has no
// RTT-based slow-start-exit heuristic, only the cwnd-vs-ssthresh
// comparison every ack already performs in OnPacketAcked.
func (s *newRenoSender) MaybeExitSlowStart() {}

func (s *newRenoSender) OnPacketAcked(ack AckEvent) {
	subtractAndCheckUnderflow(&s.bytesInFlight, ack.AckedBytes)

	if ack.PacketNumber < s.endOfRecovery {
		// Still inside the recovery epoch opened by an earlier loss: don't
		// grow the window again for packets sent before that loss.
		return
	}
	if s.cwndBytes < s.ssthresh {
		addAndCheckOverflow(&s.cwndBytes, ack.AckedBytes)
	} else {
		additionFactor := protocol.ByteCount(uint64(protocol.DefaultUDPSendPacketLen) * uint64(ack.AckedBytes) / uint64(s.cwndBytes))
		addAndCheckOverflow(&s.cwndBytes, additionFactor)
	}
	s.cwndBytes = s.boundedCwnd(s.cwndBytes)
}

func (s *newRenoSender) OnPacketLost(loss LossEvent) {
	subtractAndCheckUnderflow(&s.bytesInFlight, loss.LostBytes)

	if s.endOfRecovery >= loss.PacketNumber {
		return
	}
	s.endOfRecovery = s.largestSent
	s.cwndBytes = s.boundedCwnd(s.cwndBytes >> lossReductionFactorShift)
	s.ssthresh = s.cwndBytes
}

func (s *newRenoSender) OnRemoveBytesFromInflight(n protocol.ByteCount) {
	subtractAndCheckUnderflow(&s.bytesInFlight, n)
}

func (s *newRenoSender) OnRTOVerified() {
	s.cwndBytes = protocol.ByteCount(MinCwndInMss) * s.maxDatagramSize
}

func (s *newRenoSender) GetCongestionWindow() protocol.ByteCount { return s.cwndBytes }
func (s *newRenoSender) GetBytesInFlight() protocol.ByteCount    { return s.bytesInFlight }

func (s *newRenoSender) GetWritableBytes() protocol.ByteCount {
	if s.bytesInFlight >= s.cwndBytes {
		return 0
	}
	return s.cwndBytes - s.bytesInFlight
}

func (s *newRenoSender) InSlowStart() bool { return s.cwndBytes < s.ssthresh }

func (s *newRenoSender) CanSend() bool { return s.bytesInFlight < s.cwndBytes }

// TimeUntilSend always returns the zero time: NewReno "declares itself
// unpaced" (spec Non-goals), so admission is gated by CanSend alone.
func (s *newRenoSender) TimeUntilSend() time.Time { return time.Time{} }

// HasPacingBudget is always true for the same reason: there is no pacer
// budget to exhaust.
func (s *newRenoSender) HasPacingBudget() bool { return true }

func (s *newRenoSender) SetMaxDatagramSize(s2 protocol.ByteCount) {
	if s2 == s.maxDatagramSize {
		return
	}
	wasAtCapped := s.cwndBytes == protocol.ByteCount(MaxCwndInMss)*s.maxDatagramSize
	s.maxDatagramSize = s2
	if wasAtCapped {
		s.cwndBytes = protocol.ByteCount(MaxCwndInMss) * s2
		return
	}
	s.cwndBytes = s.boundedCwnd(s.cwndBytes)
}
