package quicclient

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/quicclient/quicclient/internal/handshake"
	"github.com/quicclient/quicclient/internal/protocol"
	"github.com/quicclient/quicclient/internal/wire"
)

// initialProbeTimeout bounds how long one Happy Eyeballs candidate waits
// for its peer to answer the Initial packet it sent. Several candidates
// race concurrently (happy_eyeballs.go), so one that never answers must
// not hang the whole dial.
const initialProbeTimeout = 5 * time.Second

// probeResult is what a successful candidate hands back to Start(): not
// just a socket, but the Initial-epoch handshake state and the first
// response datagram the probe actually received, so the winning
// candidate's round-trip is fed into the connection rather than thrown
// away.
type probeResult struct {
	conn           connection
	pc             net.PacketConn
	localConnID    protocol.ConnectionID
	origDestConnID protocol.ConnectionID
	hs             *handshake.ClientHandshake
	first          *receivedPacket
}

// Close discards the candidate: closing the socket unblocks (and fails)
// any in-flight ReadFrom in dialUDP, which is how a losing candidate's
// outstanding packets get discarded once Happy Eyeballs has a winner.
func (r *probeResult) Close() error {
	if r == nil || r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// dialUDP is the per-candidate attempt Happy Eyeballs races: it opens a
// connected socket to addr, derives RFC 9001 §5.2 Initial secrets for a
// freshly chosen connection ID pair (no TLS engine input needed for
// those), sends a PADDING-only Initial packet, and blocks until a
// datagram from addr decrypts under those keys or initialProbeTimeout
// elapses. This is what makes the race resolve on the peer's first valid
// response instead of on the (instant, non-blocking) socket open.
func dialUDP(ctx context.Context, addr net.Addr) (*probeResult, error) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("quicclient: peer address %v is not a UDP address", addr)
	}
	pc, err := net.DialUDP(udpAddr.Network(), nil, udpAddr)
	if err != nil {
		return nil, err
	}

	localConnID, err := generateConnectionID(defaultConnIDLen)
	if err != nil {
		pc.Close()
		return nil, err
	}
	origDestConnID, err := generateConnectionID(defaultConnIDLen)
	if err != nil {
		pc.Close()
		return nil, err
	}

	hs := handshake.NewClientHandshake()
	hs.DeriveInitialSecrets(origDestConnID)

	probe, err := buildInitialProbe(hs, localConnID, origDestConnID)
	if err != nil {
		pc.Close()
		return nil, err
	}
	if _, err := pc.Write(probe); err != nil {
		pc.Close()
		return nil, err
	}

	deadline := time.Now().Add(initialProbeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	// net.Conn's blocking Read doesn't watch ctx on its own; force the
	// read deadline to expire the moment ctx is cancelled (a winner was
	// chosen elsewhere in the race) so a losing candidate's ReadFrom
	// returns promptly instead of sitting on initialProbeTimeout.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pc.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	buf := make([]byte, protocol.MaxPacketBufferSize)
	for {
		if ctx.Err() != nil {
			pc.Close()
			return nil, ctx.Err()
		}
		pc.SetReadDeadline(deadline)
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			pc.Close()
			return nil, err
		}
		data := append([]byte{}, buf[:n]...)
		if !isValidPeerResponse(hs, origDestConnID, data) {
			// A stray datagram this candidate's keys can't open — noise
			// on an unbound port, or a response to a different attempt
			// that happened to land here. Keep listening.
			continue
		}
		conn, err := newConn(pc)
		if err != nil {
			pc.Close()
			return nil, err
		}
		return &probeResult{
			conn:           conn,
			pc:             pc,
			localConnID:    localConnID,
			origDestConnID: origDestConnID,
			hs:             hs,
			first: &receivedPacket{
				remoteAddr: addr,
				data:       data,
				rcvTime:    time.Now(),
			},
		}, nil
	}
}

// buildInitialProbe encodes a PADDING-only Initial packet under hs's
// already-derived Initial write cipher, padded to the 1200-byte minimum
// RFC 9000 §14.1 requires for a client's first Initial datagram.
func buildInitialProbe(hs *handshake.ClientHandshake, localConnID, destConnID protocol.ConnectionID) ([]byte, error) {
	aead, hp := hs.InitialWriteCipher()

	measureHeader, _, err := wire.EncodeLongHeader(wire.LongHeaderFields{
		Type:             wire.PacketTypeInitial,
		Version:          protocol.Version1,
		DestConnectionID: destConnID,
		SrcConnectionID:  localConnID,
		PacketNumber:     0,
		PacketNumberLen:  protocol.PacketNumberLen1,
		PayloadLen:       int(protocol.MinInitialPacketSize),
	})
	if err != nil {
		return nil, err
	}
	payloadLen := int(protocol.MinInitialPacketSize) - len(measureHeader) - aead.Overhead()
	if payloadLen < 0 {
		payloadLen = 0
	}

	headerBytes, pnOffset, err := wire.EncodeLongHeader(wire.LongHeaderFields{
		Type:             wire.PacketTypeInitial,
		Version:          protocol.Version1,
		DestConnectionID: destConnID,
		SrcConnectionID:  localConnID,
		PacketNumber:     0,
		PacketNumberLen:  protocol.PacketNumberLen1,
		PayloadLen:       payloadLen + aead.Overhead(),
	})
	if err != nil {
		return nil, err
	}

	payload := make([]byte, payloadLen) // zero bytes are PADDING frames

	var nonce [8]byte
	nonce[7] = headerBytes[pnOffset]
	sealed := aead.Seal(nil, payload, nonce[:], headerBytes)

	packet := append(headerBytes, sealed...)
	handshake.ApplyHeaderProtection(hp, packet, pnOffset, 1, 0x0f)
	return packet, nil
}

// isValidPeerResponse reports whether data is either a Retry packet whose
// integrity tag validates against origDestConnID, or a long-header
// Initial packet that opens under hs's Initial read cipher — the two
// ways a server can answer the very first Initial a client sends.
// Neither check mutates any connection state; this is purely a validity
// check during the Happy Eyeballs race.
func isValidPeerResponse(hs *handshake.ClientHandshake, origDestConnID protocol.ConnectionID, data []byte) bool {
	hdr, err := wire.ParseHeader(data, defaultConnIDLen)
	if err != nil {
		return false
	}
	if hdr.Type == wire.PacketTypeRetry {
		const retryIntegrityTagLen = 16
		if len(data) < retryIntegrityTagLen {
			return false
		}
		want := handshake.GetRetryIntegrityTag(data[:len(data)-retryIntegrityTagLen], origDestConnID, hdr.Version)
		var got [16]byte
		copy(got[:], data[len(data)-retryIntegrityTagLen:])
		return *want == got
	}
	if hdr.Type != wire.PacketTypeInitial {
		return false
	}
	aead, hp := hs.InitialReadCipher()
	if aead == nil {
		return false
	}
	if len(data) < hdr.PacketNumberOffset+4 {
		return false
	}
	header := append([]byte{}, data[:hdr.PacketNumberOffset+4]...)
	pnLen := handshake.RemoveHeaderProtection(hp, header, hdr.PacketNumberOffset, 0x0f)
	if hdr.PacketNumberOffset+pnLen > len(data) {
		return false
	}
	aad := append([]byte{}, header[:hdr.PacketNumberOffset+pnLen]...)
	ciphertext := data[hdr.PacketNumberOffset+pnLen:]
	var nonce [8]byte
	for i := 0; i < 8 && i < pnLen; i++ {
		nonce[8-pnLen+i] = header[hdr.PacketNumberOffset+i]
	}
	_, err = aead.Open(nil, ciphertext, nonce[:], aad)
	return err == nil
}
