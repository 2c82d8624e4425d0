package quicclient

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/quicclient/quicclient/internal/protocol"
	"github.com/quicclient/quicclient/internal/qtransport"
)

func TestTransport(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Transport Suite")
}

type fakeCallback struct {
	setUp       chan struct{}
	setupErr    chan error
	ended       chan struct{}
	connErr     chan error
	replaySafe  chan struct{}
}

func newFakeCallback() *fakeCallback {
	return &fakeCallback{
		setUp:      make(chan struct{}, 1),
		setupErr:   make(chan error, 1),
		ended:      make(chan struct{}, 1),
		connErr:    make(chan error, 1),
		replaySafe: make(chan struct{}, 1),
	}
}

func (f *fakeCallback) OnConnectionSetUp()                     { f.setUp <- struct{}{} }
func (f *fakeCallback) OnConnectionSetupError(err error)       { f.setupErr <- err }
func (f *fakeCallback) OnReplaySafe()                          { f.replaySafe <- struct{}{} }
func (f *fakeCallback) OnStreamOpened(id qtransport.StreamID)  {}
func (f *fakeCallback) OnStreamClosed(id qtransport.StreamID)  {}
func (f *fakeCallback) OnConnectionEnd()                       { f.ended <- struct{}{} }
func (f *fakeCallback) OnConnectionError(err error)            { f.connErr <- err }

func fakeProbeResult() *probeResult {
	return &probeResult{conn: &fakeConn{}}
}

var _ = ginkgo.Describe("Happy Eyeballs dialer", func() {
	ginkgo.It("returns the single address directly when there is only one candidate", func() {
		addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1234}
		called := 0
		probe, got, err := dialHappyEyeballs(context.Background(), []net.Addr{addr}, true, func(ctx context.Context, a net.Addr) (*probeResult, error) {
			called++
			return fakeProbeResult(), nil
		})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(got).To(gomega.Equal(addr))
		gomega.Expect(probe).NotTo(gomega.BeNil())
		gomega.Expect(called).To(gomega.Equal(1))
	})

	ginkgo.It("races the second address after the delay and returns the first success", func() {
		addrA := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1}
		addrB := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 2}

		start := time.Now()
		probe, got, err := dialHappyEyeballs(context.Background(), []net.Addr{addrA, addrB}, true, func(ctx context.Context, a net.Addr) (*probeResult, error) {
			if a == addrA {
				// Never resolves within the test's patience, forcing the
				// second candidate to be raced in.
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return fakeProbeResult(), nil
		})
		elapsed := time.Since(start)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(got).To(gomega.Equal(addrB))
		gomega.Expect(probe).NotTo(gomega.BeNil())
		gomega.Expect(elapsed).To(gomega.BeNumerically(">=", happyEyeballsConnAttemptDelay))
	})

	ginkgo.It("closes a late winner that answers after the race already has one", func() {
		addrA := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1}
		addrB := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 2}

		loser := &closeTrackingConn{}
		probe, got, err := dialHappyEyeballs(context.Background(), []net.Addr{addrA, addrB}, true, func(ctx context.Context, a net.Addr) (*probeResult, error) {
			if a == addrA {
				// Resolve well after addrB has been raced in, but still
				// first: addrB only "answers" once cancelled.
				time.Sleep(2 * happyEyeballsConnAttemptDelay)
				return &probeResult{conn: &fakeConn{}}, nil
			}
			// addrB's own probe only succeeds after the race is already
			// decided for addrA; its socket must still be closed, not leaked.
			<-ctx.Done()
			return &probeResult{conn: loser}, nil
		})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(got).To(gomega.Equal(addrA))
		gomega.Expect(probe).NotTo(gomega.BeNil())
		gomega.Eventually(func() bool { return loser.closed }).Should(gomega.BeTrue())
	})

	ginkgo.It("errors once every candidate has failed", func() {
		addrA := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 1}
		addrB := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 2}
		boom := errors.New("boom")

		_, _, err := dialHappyEyeballs(context.Background(), []net.Addr{addrA, addrB}, true, func(ctx context.Context, a net.Addr) (*probeResult, error) {
			return nil, boom
		})
		gomega.Expect(err).To(gomega.HaveOccurred())
	})

	ginkgo.It("rejects an empty address list", func() {
		_, _, err := dialHappyEyeballs(context.Background(), nil, true, func(ctx context.Context, a net.Addr) (*probeResult, error) {
			return fakeProbeResult(), nil
		})
		gomega.Expect(err).To(gomega.HaveOccurred())
	})
})

var _ = ginkgo.Describe("connection registry", func() {
	ginkgo.It("tracks and releases entries by local connection ID", func() {
		id, err := protocol.ParseConnectionID([]byte{1, 2, 3, 4, 5, 6, 7, 8})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		before := liveConnectionCount()
		transport := &ClientTransport{}
		liveConnections.register(id, transport)
		gomega.Expect(liveConnectionCount()).To(gomega.Equal(before + 1))

		got, ok := liveConnections.lookup(id)
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(got).To(gomega.BeIdenticalTo(transport))

		liveConnections.release(id)
		gomega.Expect(liveConnectionCount()).To(gomega.Equal(before))

		// Releasing twice is a no-op, not an error.
		liveConnections.release(id)
		gomega.Expect(liveConnectionCount()).To(gomega.Equal(before))
	})
})

var _ = ginkgo.Describe("ClientTransport.Close", func() {
	ginkgo.It("delivers OnConnectionEnd exactly once and releases the registry entry", func() {
		config := NewClientConfig()
		transport := NewClientTransport(config, nil, nil, nil)

		id, err := protocol.ParseConnectionID([]byte{9, 9, 9, 9, 9, 9, 9, 9})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		// Simulate what Start() wires up, without dialing a real socket.
		transport.conn = &fakeConn{}
		transport.state = qtransport.NewClientConnectionState(id)
		transport.cancel = func() {}
		liveConnections.register(id, transport)

		cb := newFakeCallback()
		transport.callback = cb

		gomega.Expect(transport.Close()).To(gomega.Succeed())
		gomega.Expect(transport.Close()).To(gomega.Succeed())

		gomega.Eventually(cb.ended).Should(gomega.Receive())
		gomega.Expect(cb.connErr).NotTo(gomega.Receive())

		_, ok := liveConnections.lookup(id)
		gomega.Expect(ok).To(gomega.BeFalse())
	})
})

type fakeConn struct{}

func (f *fakeConn) ReadPacket() (*receivedPacket, error) { return nil, errors.New("no data") }
func (f *fakeConn) WritePacket(b []byte, addr net.Addr, tos protocol.TOS) (int, error) {
	return len(b), nil
}
func (f *fakeConn) LocalAddr() net.Addr { return &net.UDPAddr{} }
func (f *fakeConn) Close() error        { return nil }

// closeTrackingConn records whether Close was called, for asserting that
// dialHappyEyeballs actually discards losing candidates' connections.
type closeTrackingConn struct {
	fakeConn
	closed bool
}

func (f *closeTrackingConn) Close() error {
	f.closed = true
	return nil
}
