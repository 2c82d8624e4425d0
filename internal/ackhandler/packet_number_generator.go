package ackhandler

import (
	"math/rand"

	"github.com/quicclient/quicclient/internal/protocol"
)

// packetNumberGenerator hands out packet numbers for one packet-number
// space. Two implementations exist: a plain sequential one for the
// Initial/Handshake spaces, and a skipping one for the Application space
// (the handler records each skipped number and rejects an ACK for one as
// a protocol violation, which exposes a peer acknowledging packets it
// never received).
//
// quic-go generates these two near-identical types from a single generic
// template with github.com/cheekybits/genny (see go.mod); that code
// generation needs `go generate` to run, which this build never invokes,
// so the two instantiations below are hand-written in the shape genny
// would have produced rather than templated.
type packetNumberGenerator interface {
	Peek() protocol.PacketNumber
	Pop() protocol.PacketNumber
}

type sequentialPacketNumberGenerator struct {
	next protocol.PacketNumber
}

func newSequentialPacketNumberGenerator(initial protocol.PacketNumber) packetNumberGenerator {
	return &sequentialPacketNumberGenerator{next: initial}
}

func (g *sequentialPacketNumberGenerator) Peek() protocol.PacketNumber { return g.next }

func (g *sequentialPacketNumberGenerator) Pop() protocol.PacketNumber {
	next := g.next
	g.next++
	return next
}

type skippingPacketNumberGenerator struct {
	next           protocol.PacketNumber
	nextToSkip     protocol.PacketNumber
	initialPeriod  protocol.PacketNumber
	maxPeriod      protocol.PacketNumber

	averagePeriod protocol.PacketNumber
}

func newSkippingPacketNumberGenerator(initial, initialPeriod, maxPeriod protocol.PacketNumber) packetNumberGenerator {
	g := &skippingPacketNumberGenerator{
		next:          initial,
		initialPeriod: initialPeriod,
		maxPeriod:     maxPeriod,
		averagePeriod: initialPeriod,
	}
	g.nextToSkip = g.next + g.generateNewSkip()
	return g
}

func (g *skippingPacketNumberGenerator) Peek() protocol.PacketNumber { return g.next }

func (g *skippingPacketNumberGenerator) Pop() protocol.PacketNumber {
	next := g.next
	g.next++
	if g.next == g.nextToSkip {
		g.next++
		if g.averagePeriod < g.maxPeriod {
			g.averagePeriod *= 2
		}
		g.nextToSkip = g.next + g.generateNewSkip()
	}
	return next
}

// generateNewSkip returns a pseudo-random offset in [1, averagePeriod],
// deliberately not cryptographically random: the skip only needs to be
// unpredictable to an off-path observer, not secret.
func (g *skippingPacketNumberGenerator) generateNewSkip() protocol.PacketNumber {
	if g.averagePeriod <= 1 {
		return 1
	}
	return 1 + protocol.PacketNumber(rand.Int63n(int64(g.averagePeriod)))
}
