package utils

import (
	"time"

	"github.com/quicclient/quicclient/internal/protocol"
)

const (
	rttAlpha      = 0.125
	oneMinusAlpha = 1 - rttAlpha
	rttBeta       = 0.25
	oneMinusBeta  = 1 - rttBeta
)

// RTTStats tracks the latest, smoothed and variance RTT samples for a
// connection, along with the minimum RTT observed. It backs the loss-state
// record in the connection state data model (spec §3) and feeds both the
// congestion controller's RTO/PTO computation and the ackhandler's
// time-threshold loss detection.
type RTTStats struct {
	minRTT        time.Duration
	latestRTT     time.Duration
	smoothedRTT   time.Duration
	meanDeviation time.Duration
	maxAckDelay   time.Duration

	firstSampleTaken bool
}

// NewRTTStats returns a fresh RTTStats with a max-ack-delay default typical
// of QUIC's 25ms transport parameter default.
func NewRTTStats() *RTTStats {
	return &RTTStats{maxAckDelay: 25 * time.Millisecond}
}

func (r *RTTStats) MinRTT() time.Duration        { return r.minRTT }
func (r *RTTStats) LatestRTT() time.Duration     { return r.latestRTT }
func (r *RTTStats) SmoothedRTT() time.Duration   { return r.smoothedRTT }
func (r *RTTStats) MeanDeviation() time.Duration { return r.meanDeviation }
func (r *RTTStats) MaxAckDelay() time.Duration   { return r.maxAckDelay }

func (r *RTTStats) SetMaxAckDelay(d time.Duration) { r.maxAckDelay = d }

// UpdateRTT updates the RTT sample set given a newly measured sendDelta and
// the ackDelay the peer reported (0 for Initial/Handshake packets, since the
// ack delay field does not apply there).
func (r *RTTStats) UpdateRTT(sendDelta, ackDelay time.Duration, now time.Time) {
	if sendDelta <= 0 {
		return
	}
	if r.minRTT == 0 || sendDelta < r.minRTT {
		r.minRTT = sendDelta
	}
	// Correct for ack delay, but never below min RTT.
	sample := sendDelta
	if sample-r.minRTT >= ackDelay {
		sample -= ackDelay
	}
	r.latestRTT = sample
	if !r.firstSampleTaken {
		r.firstSampleTaken = true
		r.smoothedRTT = sample
		r.meanDeviation = sample / 2
		return
	}
	r.meanDeviation = time.Duration(oneMinusBeta*float64(r.meanDeviation) + rttBeta*float64(absDuration(r.smoothedRTT-sample)))
	r.smoothedRTT = time.Duration(oneMinusAlpha*float64(r.smoothedRTT) + rttAlpha*float64(sample))
}

// PTO returns the probe-timeout duration: smoothed RTT plus 4x mean
// deviation, optionally including the negotiated max ack delay.
func (r *RTTStats) PTO(includeMaxAckDelay bool) time.Duration {
	if r.smoothedRTT == 0 {
		return 2 * r.maxAckDelay
	}
	pto := r.smoothedRTT + MaxDuration(4*r.meanDeviation, protocol.TimerGranularity)
	if includeMaxAckDelay {
		pto += r.maxAckDelay
	}
	return pto
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
