package congestion

import (
	"testing"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/quicclient/quicclient/internal/protocol"
	"github.com/quicclient/quicclient/internal/utils"
	"github.com/quicclient/quicclient/logging"
)

func TestNewReno(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "NewReno Suite")
}

var _ = ginkgo.Describe("NewReno congestion controller", func() {
	const mss = protocol.DefaultUDPSendPacketLen

	var sender SendAlgorithmWithDebugInfos

	ginkgo.BeforeEach(func() {
		sender = NewNewRenoSender(DefaultClock{}, utils.NewRTTStats(), mss, logging.NopTracer{})
	})

	ginkgo.It("starts in slow start with the initial window", func() {
		gomega.Expect(sender.InSlowStart()).To(gomega.BeTrue())
		gomega.Expect(sender.GetCongestionWindow()).To(gomega.Equal(protocol.ByteCount(InitialCwndInMss) * mss))
	})

	ginkgo.It("grows the window by the full acked size during slow start", func() {
		cwndBefore := sender.GetCongestionWindow()
		sender.OnPacketSent(time.Now(), 1, mss, true)
		sender.OnPacketAcked(AckEvent{PacketNumber: 1, AckedBytes: mss, EventTime: time.Now()})
		gomega.Expect(sender.GetCongestionWindow()).To(gomega.Equal(cwndBefore + mss))
	})

	ginkgo.It("never reports negative writable bytes when inflight exceeds cwnd", func() {
		for i := protocol.PacketNumber(1); i <= 20; i++ {
			sender.OnPacketSent(time.Now(), i, mss, true)
		}
		gomega.Expect(sender.GetWritableBytes()).To(gomega.Equal(protocol.ByteCount(0)))
	})

	ginkgo.It("halves the window and sets ssthresh on the first loss of a recovery epoch", func() {
		for i := protocol.PacketNumber(1); i <= 10; i++ {
			sender.OnPacketSent(time.Now(), i, mss, true)
		}
		for i := protocol.PacketNumber(1); i <= 5; i++ {
			sender.OnPacketAcked(AckEvent{PacketNumber: i, AckedBytes: mss, EventTime: time.Now()})
		}
		cwndBeforeLoss := sender.GetCongestionWindow()
		sender.OnPacketLost(LossEvent{PacketNumber: 8, LostBytes: mss})

		gomega.Expect(sender.GetCongestionWindow()).To(gomega.Equal(cwndBeforeLoss / 2))
		gomega.Expect(sender.InSlowStart()).To(gomega.BeFalse())
	})

	ginkgo.It("does not grow the window for acks below end-of-recovery", func() {
		for i := protocol.PacketNumber(1); i <= 10; i++ {
			sender.OnPacketSent(time.Now(), i, mss, true)
		}
		sender.OnPacketLost(LossEvent{PacketNumber: 5, LostBytes: mss})
		cwndAfterLoss := sender.GetCongestionWindow()

		// Packet 3 was sent before the loss that opened this epoch
		// (endOfRecovery == largestSent == 10), so acking it must not grow cwnd.
		sender.OnPacketAcked(AckEvent{PacketNumber: 3, AckedBytes: mss, EventTime: time.Now()})
		gomega.Expect(sender.GetCongestionWindow()).To(gomega.Equal(cwndAfterLoss))
	})

	ginkgo.It("clamps cwnd at the minimum on repeated loss", func() {
		for i := 0; i < 30; i++ {
			pn := protocol.PacketNumber(i + 1)
			sender.OnPacketSent(time.Now(), pn, mss, true)
			sender.OnPacketLost(LossEvent{PacketNumber: pn, LostBytes: mss})
		}
		gomega.Expect(sender.GetCongestionWindow()).To(gomega.BeNumerically(">=", protocol.ByteCount(MinCwndInMss)*mss))
	})

	ginkgo.It("collapses to the minimum window on a verified RTO", func() {
		sender.OnRTOVerified()
		gomega.Expect(sender.GetCongestionWindow()).To(gomega.Equal(protocol.ByteCount(MinCwndInMss) * mss))
	})

	ginkgo.It("panics on bytes-in-flight underflow", func() {
		gomega.Expect(func() {
			sender.OnRemoveBytesFromInflight(mss)
		}).To(gomega.Panic())
	})

	ginkgo.It("never paces: TimeUntilSend is always the zero time", func() {
		gomega.Expect(sender.TimeUntilSend()).To(gomega.BeZero())
		gomega.Expect(sender.HasPacingBudget()).To(gomega.BeTrue())
	})
})
