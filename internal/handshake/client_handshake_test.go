package handshake

import (
	"testing"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/quicclient/quicclient/internal/protocol"
)

func TestClientHandshake(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Client Handshake Suite")
}

var _ = ginkgo.Describe("Client handshake phase machine", func() {
	var h *ClientHandshake

	ginkgo.BeforeEach(func() {
		h = NewClientHandshake()
	})

	ginkgo.It("starts in PhaseInitial", func() {
		gomega.Expect(h.Phase()).To(gomega.Equal(PhaseInitial))
	})

	ginkgo.It("moves to PhaseHandshake on the first CRYPTO data", func() {
		gomega.Expect(h.DoHandshake([]byte("serverhello"), protocol.EncryptionInitial)).To(gomega.Succeed())
		gomega.Expect(h.Phase()).To(gomega.Equal(PhaseHandshake))
	})

	ginkgo.It("ignores empty CRYPTO data", func() {
		gomega.Expect(h.DoHandshake(nil, protocol.EncryptionInitial)).To(gomega.Succeed())
		gomega.Expect(h.Phase()).To(gomega.Equal(PhaseInitial))
	})

	ginkgo.It("moves to PhaseOneRTTKeysDerived once 1-RTT ciphers are computed", func() {
		gomega.Expect(h.ComputeOneRTTCipher(false, false)).To(gomega.Succeed())
		gomega.Expect(h.Phase()).To(gomega.Equal(PhaseOneRTTKeysDerived))
	})

	ginkgo.It("moves to PhaseEstablished once 1-RTT data is received", func() {
		h.OnRecvOneRTTProtectedData()
		gomega.Expect(h.Phase()).To(gomega.Equal(PhaseEstablished))
	})

	ginkgo.Context("0-RTT reconciliation", func() {
		ginkgo.It("leaves ZeroRTTRejected nil when 0-RTT was never attempted", func() {
			gomega.Expect(h.ComputeOneRTTCipher(false, false)).To(gomega.Succeed())
			gomega.Expect(h.ZeroRTTRejected()).To(gomega.BeNil())
		})

		ginkgo.It("records acceptance when early data was attempted and accepted", func() {
			h.ComputeZeroRTTCipher()
			gomega.Expect(h.ComputeOneRTTCipher(true, true)).To(gomega.Succeed())
			gomega.Expect(h.ZeroRTTRejected()).ToNot(gomega.BeNil())
			gomega.Expect(*h.ZeroRTTRejected()).To(gomega.BeFalse())
		})

		ginkgo.It("records a clean rejection when parameters still match", func() {
			h.ComputeZeroRTTCipher()
			gomega.Expect(h.ComputeOneRTTCipher(false, true)).To(gomega.Succeed())
			gomega.Expect(h.ZeroRTTRejected()).ToNot(gomega.BeNil())
			gomega.Expect(*h.ZeroRTTRejected()).To(gomega.BeTrue())
		})

		ginkgo.It("raises a sticky local error when early parameters changed", func() {
			h.ComputeZeroRTTCipher()
			err := h.ComputeOneRTTCipher(false, false)
			gomega.Expect(err).To(gomega.HaveOccurred())
			gomega.Expect(h.Err()).To(gomega.Equal(err))
			gomega.Expect(h.DoHandshake([]byte("x"), protocol.EncryptionHandshake)).To(gomega.Equal(err))
		})
	})

	ginkgo.It("derives distinct ciphers per slot from distinct secrets", func() {
		h.ComputeCiphers(CipherHandshakeWrite, []byte("handshake write secret"))
		h.ComputeCiphers(CipherOneRTTWrite, []byte("one rtt write secret"))
		hwAEAD, hwHP := h.HandshakeWriteCipher()
		orAEAD, orHP := h.OneRTTWriteCipher()
		gomega.Expect(hwAEAD).ToNot(gomega.BeNil())
		gomega.Expect(hwHP).ToNot(gomega.BeNil())
		gomega.Expect(orAEAD).ToNot(gomega.BeNil())
		gomega.Expect(orHP).ToNot(gomega.BeNil())

		plaintext := []byte("hello world")
		nonce := make([]byte, 12)
		sealedHW := hwAEAD.Seal(nil, plaintext, nonce, nil)
		sealedOR := orAEAD.Seal(nil, plaintext, nonce, nil)
		gomega.Expect(sealedHW).ToNot(gomega.Equal(sealedOR))

		opened, err := hwAEAD.Open(nil, sealedHW, nonce, nil)
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(opened).To(gomega.Equal(plaintext))
	})
})
