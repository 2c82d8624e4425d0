package quicclient

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quicclient/quicclient/internal/ackhandler"
	"github.com/quicclient/quicclient/internal/handshake"
	"github.com/quicclient/quicclient/internal/protocol"
	"github.com/quicclient/quicclient/internal/qtransport"
	"github.com/quicclient/quicclient/internal/utils"
	"github.com/quicclient/quicclient/internal/wire"
	"github.com/quicclient/quicclient/logging"
)

// ClientTransport drives a single QUIC connection end to end (component
// 7, spec §4.3): it owns the UDP socket, the handshake state machine, the
// ackhandler, and the connection state, and bridges them through a
// read/write pump. Constructed un-connected; Start() transitions it to
// connecting.
type ClientTransport struct {
	config *ClientConfig
	codec  FrameCodec
	logger utils.Logger
	tracer logging.ConnectionTracer

	mu       sync.Mutex
	conn     connection
	sendConn sendConn
	state    *qtransport.ClientConnectionState
	sph      ackhandler.SentPacketHandler
	hs       *handshake.ClientHandshake
	rttStats *utils.RTTStats

	callback ConnectionCallback

	pendingMu     sync.Mutex
	pendingCrypto map[protocol.EncryptionLevel][]byte

	largestReceivedPN map[protocol.EncryptionLevel]protocol.PacketNumber

	// origDestConnID is the destination connection ID the client guessed
	// for its very first Initial packet, needed to validate a Retry
	// packet's integrity tag (RFC 9001 §5.8) even after SetPeerConnectionID
	// has since overwritten the connection state's working peer ID.
	origDestConnID protocol.ConnectionID
	retryValidated bool

	setUpNotified      bool
	replaySafeNotified bool

	cancel    context.CancelFunc
	closeOnce sync.Once
	closedCh  chan struct{}
}

var _ handshake.CryptoDataHandler = (*ClientTransport)(nil)

// NewClientTransport returns an un-connected transport. codec supplies
// the (external, per spec §6) frame encoder/decoder; a nil logger and
// tracer default to utils.DefaultLogger and logging.NopTracer.
func NewClientTransport(config *ClientConfig, codec FrameCodec, logger utils.Logger, tracer logging.ConnectionTracer) *ClientTransport {
	if logger == nil {
		logger = utils.DefaultLogger
	}
	if tracer == nil {
		tracer = logging.NopTracer{}
	}
	t := &ClientTransport{
		config:            config,
		codec:             codec,
		logger:            logger,
		tracer:            tracer,
		pendingCrypto:     make(map[protocol.EncryptionLevel][]byte),
		largestReceivedPN: make(map[protocol.EncryptionLevel]protocol.PacketNumber),
		closedCh:          make(chan struct{}),
	}
	for _, encLevel := range []protocol.EncryptionLevel{protocol.EncryptionInitial, protocol.EncryptionHandshake, protocol.Encryption0RTT, protocol.Encryption1RTT} {
		t.largestReceivedPN[encLevel] = protocol.InvalidPacketNumber
	}
	return t
}

// Start dials the configured peer address(es) — racing them via Happy
// Eyeballs if more than one was configured — and begins the read/write
// pump. cb receives OnConnectionSetUp, or OnConnectionSetupError if the
// connection fails before that point, and later exactly one of
// OnConnectionEnd/OnConnectionError. A Close() before setup delivers only
// OnConnectionEnd.
func (t *ClientTransport) Start(ctx context.Context, cb ConnectionCallback) error {
	t.mu.Lock()
	t.callback = cb
	t.mu.Unlock()

	probe, peerAddr, err := dialHappyEyeballs(ctx, t.config.peerAddrs, t.config.happyEyeballsEnabled, dialUDP)
	if err != nil {
		t.closeWithError(err)
		return err
	}

	t.mu.Lock()
	t.conn = probe.conn
	t.sendConn = newSendConnFor(probe.conn, probe.pc, peerAddr)
	t.state = qtransport.NewClientConnectionState(probe.localConnID)
	t.state.SetPeerAddr(peerAddr)
	t.state.SetPeerConnectionID(probe.origDestConnID)
	t.origDestConnID = probe.origDestConnID
	t.rttStats = utils.NewRTTStats()
	t.sph = ackhandler.NewSentPacketHandler(
		protocol.PacketNumber(0),
		protocol.InitialPacketSizeIPv4,
		t.rttStats,
		ackhandler.DisableECN,
		t.tracer,
		t.logger,
	)
	t.hs = probe.hs
	t.mu.Unlock()

	liveConnections.register(probe.localConnID, t)

	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error { return t.readLoop(groupCtx) })
	group.Go(func() error { return t.writeLoop(groupCtx) })

	go func() {
		if err := group.Wait(); err != nil && groupCtx.Err() == nil {
			t.closeWithError(err)
		}
	}()

	// The probe's own Initial round-trip already delivered the peer's
	// first response; route it instead of discarding it.
	if probe.first != nil {
		t.handlePacket(probe.first)
	}

	return nil
}

// WriteCryptoData implements handshake.CryptoDataHandler: the (external)
// TLS engine calls this to enqueue outbound CRYPTO bytes for encLevel: the
// write pump drains pendingCrypto on its next turn.
func (t *ClientTransport) WriteCryptoData(encLevel protocol.EncryptionLevel, data []byte) {
	t.pendingMu.Lock()
	t.pendingCrypto[encLevel] = append(t.pendingCrypto[encLevel], data...)
	t.pendingMu.Unlock()
}

// ComputeCiphers, ComputeZeroRTTCipher and ComputeOneRTTCipher are the
// inbound half of the (external, per spec §6) TLS engine boundary:
// WriteCryptoData/CryptoDataHandler carries CRYPTO bytes out to the
// engine, these carry derived key material back in as the engine's TLS
// key schedule advances.
func (t *ClientTransport) ComputeCiphers(kind handshake.CipherKind, secret []byte) {
	t.mu.Lock()
	t.hs.ComputeCiphers(kind, secret)
	t.mu.Unlock()
}

func (t *ClientTransport) ComputeZeroRTTCipher() {
	t.mu.Lock()
	t.hs.ComputeZeroRTTCipher()
	t.mu.Unlock()
}

// ComputeOneRTTCipher finalizes 0-RTT reconciliation and advances the
// handshake to PhaseOneRTTKeysDerived, which is the transition that
// delivers OnConnectionSetUp and unlocks OnReplaySafe.
func (t *ClientTransport) ComputeOneRTTCipher(earlyDataAccepted, earlyParametersMatch bool) error {
	t.mu.Lock()
	err := t.hs.ComputeOneRTTCipher(earlyDataAccepted, earlyParametersMatch)
	t.mu.Unlock()
	if err != nil {
		t.closeWithError(err)
		return err
	}
	t.maybeNotifySetUp()
	t.maybeNotifyReplaySafe()
	return nil
}

func (t *ClientTransport) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		pkt, err := conn.ReadPacket()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		t.handlePacket(pkt)
	}
}

func (t *ClientTransport) handlePacket(pkt *receivedPacket) {
	t.mu.Lock()
	localConnIDLen := t.state.LocalConnectionID().Len()
	t.mu.Unlock()

	hdr, err := wire.ParseHeader(pkt.data, localConnIDLen)
	if err != nil {
		t.logger.Debugf("quicclient: dropping unparseable packet: %v", err)
		return
	}

	if hdr.Type == wire.PacketTypeRetry {
		t.handleRetry(pkt, hdr)
		return
	}

	encLevel := hdr.Type.EncryptionLevel()
	aead, hp, ok := t.readCipherForLevel(encLevel)
	if !ok {
		t.logger.Debugf("quicclient: dropping %s packet, no read keys yet", hdr.Type)
		return
	}

	firstByteMask := byte(0x1f)
	if hdr.Type != wire.PacketType1RTT {
		firstByteMask = 0x0f
	}
	header := append([]byte{}, pkt.data[:hdr.PacketNumberOffset+4]...)
	pnLen := handshake.RemoveHeaderProtection(hp, header, hdr.PacketNumberOffset, firstByteMask)

	var truncatedPN uint32
	for i := 0; i < pnLen; i++ {
		truncatedPN = truncatedPN<<8 | uint32(header[hdr.PacketNumberOffset+i])
	}

	t.mu.Lock()
	largestPN := t.largestReceivedPN[encLevel]
	t.mu.Unlock()
	pn := wire.DecodePacketNumber(largestPN, truncatedPN, pnLen)

	aad := append([]byte{}, header[:hdr.PacketNumberOffset+pnLen]...)
	ciphertext := pkt.data[hdr.PacketNumberOffset+pnLen:]

	var nonce [8]byte
	for i := 0; i < 8 && i < pnLen; i++ {
		nonce[8-pnLen+i] = header[hdr.PacketNumberOffset+i]
	}

	plaintext, err := aead.Open(nil, ciphertext, nonce[:], aad)
	if err != nil {
		t.logger.Debugf("quicclient: dropping %s packet %d: %v", hdr.Type, pn, err)
		return
	}

	t.mu.Lock()
	if pn > t.largestReceivedPN[encLevel] {
		t.largestReceivedPN[encLevel] = pn
	}
	t.sph.ReceivedPacket(encLevel)
	t.sph.ReceivedBytes(protocol.ByteCount(len(pkt.data)))
	if encLevel == protocol.Encryption1RTT {
		t.hs.OnRecvOneRTTProtectedData()
	}
	t.mu.Unlock()

	t.routeFrames(encLevel, pn, plaintext)
	t.maybeNotifySetUp()
	t.maybeNotifyReplaySafe()
}

func (t *ClientTransport) handleRetry(pkt *receivedPacket, hdr *wire.Header) {
	t.mu.Lock()
	if t.retryValidated {
		t.mu.Unlock()
		t.logger.Debugf("quicclient: dropping a second Retry, already processed one")
		return
	}
	origDestConnID := t.origDestConnID
	t.mu.Unlock()

	const retryIntegrityTagLen = 16
	if len(pkt.data) < retryIntegrityTagLen {
		t.logger.Debugf("quicclient: dropping undersized Retry packet")
		return
	}
	want := handshake.GetRetryIntegrityTag(pkt.data[:len(pkt.data)-retryIntegrityTagLen], origDestConnID, hdr.Version)
	var got [16]byte
	copy(got[:], pkt.data[len(pkt.data)-retryIntegrityTagLen:])
	if *want != got {
		t.logger.Debugf("quicclient: dropping Retry with an invalid integrity tag")
		return
	}

	t.mu.Lock()
	t.retryValidated = true
	t.state.SetPeerConnectionID(hdr.SrcConnectionID)
	t.mu.Unlock()
	t.logger.Debugf("quicclient: received Retry, switching to the server-chosen connection ID")
}

func (t *ClientTransport) routeFrames(encLevel protocol.EncryptionLevel, pn protocol.PacketNumber, payload []byte) {
	frames, err := t.codec.DecodePacket(payload)
	if err != nil {
		t.logger.Debugf("quicclient: dropping packet %d, frame decode error: %v", pn, err)
		return
	}
	for _, f := range frames {
		switch {
		case f.Crypto != nil:
			t.mu.Lock()
			err := t.hs.DoHandshake(f.Crypto.Data, encLevel)
			t.mu.Unlock()
			if err != nil {
				t.closeWithError(err)
				return
			}
		case f.Ack != nil:
			t.mu.Lock()
			_, err := t.sph.ReceivedAck(f.Ack, encLevel, time.Now())
			t.mu.Unlock()
			if err != nil {
				t.closeWithError(err)
				return
			}
		case f.IsStream:
			sid := qtransport.StreamID(f.StreamID)
			t.mu.Lock()
			hadStream := t.state.HasStream(sid)
			t.state.AddStream(sid)
			t.mu.Unlock()
			if !hadStream && t.callback != nil {
				t.callback.OnStreamOpened(sid)
			}
		}
	}
}

func (t *ClientTransport) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(protocol.TimerGranularity * 10)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := t.writeOnePacket(); err != nil {
			return err
		}
	}
}

func (t *ClientTransport) writeOnePacket() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sph.SendMode() == ackhandler.SendNone {
		return nil
	}

	encLevel, frames := t.collectOutgoingFrames()
	if len(frames) == 0 {
		return nil
	}

	aead, hp, ok := t.writeCipherForLevel(encLevel)
	if !ok {
		return nil
	}

	maxSize := t.state.UDPPayloadSize()
	payload, encoded, err := t.codec.EncodePacket(frames, maxSize)
	if err != nil || len(payload) == 0 {
		return err
	}

	pn, pnLen := t.sph.PeekPacketNumber(encLevel)

	var headerBytes []byte
	var pnOffset int
	firstByteMask := byte(0x1f)
	if encLevel == protocol.Encryption1RTT {
		headerBytes, pnOffset = wire.EncodeShortHeader(wire.ShortHeaderFields{
			DestConnectionID: t.state.PeerConnectionID(),
			PacketNumber:     pn,
			PacketNumberLen:  pnLen,
		})
	} else {
		firstByteMask = 0x0f
		headerBytes, pnOffset, err = wire.EncodeLongHeader(wire.LongHeaderFields{
			Type:             longHeaderTypeFor(encLevel),
			Version:          protocol.Version1,
			DestConnectionID: t.state.PeerConnectionID(),
			SrcConnectionID:  t.state.LocalConnectionID(),
			PacketNumber:     pn,
			PacketNumberLen:  pnLen,
			PayloadLen:       len(payload) + aead.Overhead(),
		})
		if err != nil {
			return err
		}
	}

	var nonce [8]byte
	for i := 0; i < 8 && i < int(pnLen); i++ {
		nonce[8-int(pnLen)+i] = headerBytes[pnOffset+i]
	}
	sealed := aead.Seal(nil, payload, nonce[:], headerBytes)

	packet := append(headerBytes, sealed...)
	handshake.ApplyHeaderProtection(hp, packet, pnOffset, int(pnLen), firstByteMask)

	t.sph.PopPacketNumber(encLevel)
	tos := t.sph.GetTOS(true)
	if err := t.sendConn.Write(packet, tos); err != nil {
		return err
	}

	ackHandlerPacket := &ackhandler.Packet{
		PacketNumber:    pn,
		EncryptionLevel: encLevel,
		Length:          protocol.ByteCount(len(packet)),
		SendTime:        time.Now(),
		Frames:          encoded,
		TOS:             tos,
	}
	t.sph.SentPacket(ackHandlerPacket)
	return nil
}

// collectOutgoingFrames drains the pending CRYPTO queue of the first
// encryption level (Initial, then Handshake, then 1-RTT) that has pending
// data into ackhandler.Frame values; a real
// implementation would also ask the (external) stream layer for
// ready-to-send STREAM frames here.
func (t *ClientTransport) collectOutgoingFrames() (protocol.EncryptionLevel, []ackhandler.Frame) {
	for _, encLevel := range []protocol.EncryptionLevel{protocol.EncryptionInitial, protocol.EncryptionHandshake, protocol.Encryption1RTT} {
		t.pendingMu.Lock()
		data := t.pendingCrypto[encLevel]
		if len(data) > 0 {
			delete(t.pendingCrypto, encLevel)
		}
		t.pendingMu.Unlock()
		if len(data) == 0 {
			continue
		}
		return encLevel, []ackhandler.Frame{{
			Frame: ackhandler.CryptoFrameMarker{EncryptionLevel: encLevel, Data: data},
		}}
	}
	return protocol.EncryptionInitial, nil
}

func longHeaderTypeFor(encLevel protocol.EncryptionLevel) wire.PacketType {
	switch encLevel {
	case protocol.EncryptionHandshake:
		return wire.PacketTypeHandshake
	case protocol.Encryption0RTT:
		return wire.PacketType0RTT
	default:
		return wire.PacketTypeInitial
	}
}

func (t *ClientTransport) readCipherForLevel(encLevel protocol.EncryptionLevel) (handshake.AEAD, handshake.HeaderProtector, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch encLevel {
	case protocol.EncryptionInitial:
		aead, hp := t.hs.InitialReadCipher()
		return aead, hp, aead != nil
	case protocol.EncryptionHandshake:
		aead, hp := t.hs.HandshakeReadCipher()
		return aead, hp, aead != nil
	case protocol.Encryption1RTT:
		aead, hp := t.hs.OneRTTReadCipher()
		return aead, hp, aead != nil
	default:
		return nil, nil, false
	}
}

func (t *ClientTransport) writeCipherForLevel(encLevel protocol.EncryptionLevel) (handshake.AEAD, handshake.HeaderProtector, bool) {
	switch encLevel {
	case protocol.EncryptionInitial:
		aead, hp := t.hs.InitialWriteCipher()
		return aead, hp, aead != nil
	case protocol.EncryptionHandshake:
		aead, hp := t.hs.HandshakeWriteCipher()
		return aead, hp, aead != nil
	case protocol.Encryption0RTT:
		aead, hp := t.hs.ZeroRTTWriteCipher()
		return aead, hp, aead != nil
	case protocol.Encryption1RTT:
		aead, hp := t.hs.OneRTTWriteCipher()
		return aead, hp, aead != nil
	default:
		return nil, nil, false
	}
}

// maybeNotifySetUp delivers OnConnectionSetUp the first time the
// handshake reaches PhaseOneRTTKeysDerived — the transition
// ComputeOneRTTCipher makes once the TLS key schedule has produced 1-RTT
// keys, which is as far as this side can drive the handshake on its own.
// PhaseEstablished (reached only via OnRecvOneRTTProtectedData, once a
// 1-RTT packet actually arrives) is never required for this callback: by
// the time keys are derived the connection is already usable for sending.
func (t *ClientTransport) maybeNotifySetUp() {
	t.mu.Lock()
	if t.setUpNotified || t.hs.Phase() < handshake.PhaseOneRTTKeysDerived {
		t.mu.Unlock()
		return
	}
	t.setUpNotified = true
	cb := t.callback
	t.mu.Unlock()
	if cb != nil {
		cb.OnConnectionSetUp()
	}
}

func (t *ClientTransport) maybeNotifyReplaySafe() {
	t.mu.Lock()
	if t.replaySafeNotified || t.hs.Phase() < handshake.PhaseOneRTTKeysDerived {
		t.mu.Unlock()
		return
	}
	t.replaySafeNotified = true
	cb := t.callback
	t.mu.Unlock()
	if cb != nil {
		cb.OnReplaySafe()
	}
}

// Close tears the connection down gracefully and delivers the terminal
// OnConnectionEnd callback exactly once.
func (t *ClientTransport) Close() error {
	return t.close(nil)
}

func (t *ClientTransport) closeWithError(err error) {
	t.close(err)
}

func (t *ClientTransport) close(err error) error {
	var reported bool
	t.closeOnce.Do(func() {
		reported = true
		t.mu.Lock()
		cancel := t.cancel
		conn := t.conn
		localConnID := protocol.ConnectionID{}
		if t.state != nil {
			localConnID = t.state.LocalConnectionID()
		}
		cb := t.callback
		setUpPending := !t.setUpNotified
		t.setUpNotified = true
		t.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			conn.Close()
		}
		liveConnections.release(localConnID)
		close(t.closedCh)

		if cb != nil {
			if err != nil {
				if setUpPending {
					cb.OnConnectionSetupError(err)
				}
				cb.OnConnectionError(err)
			} else {
				cb.OnConnectionEnd()
			}
		}
	})
	if !reported {
		return nil
	}
	return err
}

// Done returns a channel closed once the transport's terminal callback
// has fired.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.closedCh
}

// IsTLSResumed reports whether the handshake resumed a prior session.
func (t *ClientTransport) IsTLSResumed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hs.IsTLSResumed()
}
