package utils

import (
	"testing"
	"time"
)

func TestRTTStatsFirstSample(t *testing.T) {
	r := NewRTTStats()
	r.UpdateRTT(100*time.Millisecond, 0, time.Time{})

	if r.LatestRTT() != 100*time.Millisecond {
		t.Errorf("LatestRTT() = %v, want 100ms", r.LatestRTT())
	}
	if r.SmoothedRTT() != 100*time.Millisecond {
		t.Errorf("SmoothedRTT() = %v, want 100ms", r.SmoothedRTT())
	}
	if r.MinRTT() != 100*time.Millisecond {
		t.Errorf("MinRTT() = %v, want 100ms", r.MinRTT())
	}
}

func TestRTTStatsSubtractsAckDelay(t *testing.T) {
	r := NewRTTStats()
	// A first sample of 50ms sets minRTT, so 100ms-20ms stays above it and
	// the correction applies.
	r.UpdateRTT(50*time.Millisecond, 0, time.Time{})
	r.UpdateRTT(100*time.Millisecond, 20*time.Millisecond, time.Time{})

	if r.LatestRTT() != 80*time.Millisecond {
		t.Errorf("LatestRTT() = %v, want 80ms", r.LatestRTT())
	}
}

func TestRTTStatsIgnoresAckDelayBelowMinRTT(t *testing.T) {
	r := NewRTTStats()
	r.UpdateRTT(50*time.Millisecond, 0, time.Time{})
	r.UpdateRTT(40*time.Millisecond, 20*time.Millisecond, time.Time{})

	// sample - minRTT (40-40=0) is below the reported ack delay, so the
	// correction must not apply.
	if r.LatestRTT() != 40*time.Millisecond {
		t.Errorf("LatestRTT() = %v, want 40ms (uncorrected)", r.LatestRTT())
	}
}

func TestRTTStatsIgnoresNonPositiveSample(t *testing.T) {
	r := NewRTTStats()
	r.UpdateRTT(0, 0, time.Time{})
	if r.LatestRTT() != 0 || r.SmoothedRTT() != 0 {
		t.Error("a zero sendDelta sample must be ignored")
	}
}

func TestRTTStatsPTOFallsBackWithoutSamples(t *testing.T) {
	r := NewRTTStats()
	if got, want := r.PTO(false), 2*r.MaxAckDelay(); got != want {
		t.Errorf("PTO(false) = %v, want %v", got, want)
	}
}

func TestRTTStatsPTOIncludesMaxAckDelay(t *testing.T) {
	r := NewRTTStats()
	r.UpdateRTT(100*time.Millisecond, 0, time.Time{})

	withDelay := r.PTO(true)
	withoutDelay := r.PTO(false)
	if withDelay-withoutDelay != r.MaxAckDelay() {
		t.Errorf("PTO(true)-PTO(false) = %v, want %v", withDelay-withoutDelay, r.MaxAckDelay())
	}
}
