package handshake

import (
	"bytes"
	"fmt"

	"github.com/quicclient/quicclient/internal/protocol"
	"github.com/quicclient/quicclient/internal/qerr"
)

// CryptoDataHandler is the (external, per spec §6) frame layer hook the
// client handshake uses to enqueue outgoing CRYPTO frames; writeDataToStream
// in the original routes through the same narrow seam.
type CryptoDataHandler interface {
	WriteCryptoData(encLevel protocol.EncryptionLevel, data []byte)
}

// ClientHandshake is the TLS 1.3 client handshake state machine (spec
// §4.3): it buffers CRYPTO data per encryption level, derives the seven
// AEAD/header-protection slots as the TLS key schedule advances, and
// reconciles 0-RTT acceptance against whatever the server's response
// indicates. Grounded on ClientHandshake.cpp in original_source/.
type ClientHandshake struct {
	phase Phase

	initialReadBuf   bytes.Buffer
	handshakeReadBuf bytes.Buffer
	appDataReadBuf   bytes.Buffer

	initialWriteCipher   AEAD
	initialWriteHP       HeaderProtector
	initialReadCipher    AEAD
	initialReadHP        HeaderProtector
	handshakeWriteCipher AEAD
	handshakeWriteHP     HeaderProtector
	handshakeReadCipher  AEAD
	handshakeReadHP      HeaderProtector
	oneRTTWriteCipher    AEAD
	oneRTTWriteHP        HeaderProtector
	oneRTTReadCipher     AEAD
	oneRTTReadHP         HeaderProtector
	zeroRTTWriteCipher   AEAD
	zeroRTTWriteHP       HeaderProtector

	earlyDataAttempted bool
	zeroRTTRejected    *bool
	tlsResumed         bool

	err error
}

// NewClientHandshake returns a fresh handshake in PhaseInitial.
func NewClientHandshake() *ClientHandshake {
	return &ClientHandshake{phase: PhaseInitial}
}

func (h *ClientHandshake) Phase() Phase { return h.phase }

// Err returns the sticky error raised by a prior doHandshake/computeOneRttCipher
// call, if any; once set, the handshake must not be driven further.
func (h *ClientHandshake) Err() error { return h.err }

// DoHandshake appends newly-received CRYPTO data to the read buffer for its
// encryption level and advances the phase out of PhaseInitial on the first
// call, mirroring ClientHandshake::doHandshake. The actual TLS record
// processing happens in the (external, per spec §6) TLS engine; this just
// maintains the per-level buffers and phase the rest of the core depends on.
func (h *ClientHandshake) DoHandshake(data []byte, encLevel protocol.EncryptionLevel) error {
	if h.err != nil {
		return h.err
	}
	if len(data) == 0 {
		return nil
	}
	if h.phase == PhaseInitial {
		// Either a ServerHello or a HelloRetryRequest arrived.
		h.phase = PhaseHandshake
	}
	switch encLevel {
	case protocol.EncryptionInitial:
		h.initialReadBuf.Write(data)
	case protocol.EncryptionHandshake:
		h.handshakeReadBuf.Write(data)
	case protocol.Encryption0RTT, protocol.Encryption1RTT:
		h.appDataReadBuf.Write(data)
	default:
		return fmt.Errorf("handshake: unexpected encryption level %s", encLevel)
	}
	return nil
}

// OnRecvOneRTTProtectedData notifies the handshake that a 1-RTT protected
// packet was received, implicitly confirming the peer holds the 1-RTT
// write keys (spec §4.3's Established transition).
func (h *ClientHandshake) OnRecvOneRTTProtectedData() {
	if h.phase != PhaseEstablished {
		h.phase = PhaseEstablished
	}
}

// IsTLSResumed reports whether the negotiated session used a PSK
// resumption rather than a full handshake.
func (h *ClientHandshake) IsTLSResumed() bool { return h.tlsResumed }

// SetTLSResumed is called by the (external) TLS engine once it knows
// whether the negotiated PSK type was a resumption.
func (h *ClientHandshake) SetTLSResumed(resumed bool) { h.tlsResumed = resumed }

// ZeroRTTRejected reports, once known, whether the server rejected the
// client's 0-RTT attempt. It is nil until computeOneRttCipher resolves it.
func (h *ClientHandshake) ZeroRTTRejected() *bool { return h.zeroRTTRejected }

// ComputeCiphers derives the AEAD and header-protection cipher for one of
// the seven slots from its TLS traffic secret, per RFC 9001 §5.1, and files
// it into the matching slot (InitialWrite/InitialRead/HandshakeWrite/
// HandshakeRead/OneRTTWrite/OneRTTRead/ZeroRTTWrite). Grounded on ClientHandshake::computeCiphers.
func (h *ClientHandshake) ComputeCiphers(kind CipherKind, secret []byte) {
	aead, hp := deriveAEADAndHeaderProtector(secret)
	switch kind {
	case CipherInitialWrite:
		h.initialWriteCipher, h.initialWriteHP = aead, hp
	case CipherInitialRead:
		h.initialReadCipher, h.initialReadHP = aead, hp
	case CipherHandshakeWrite:
		h.handshakeWriteCipher, h.handshakeWriteHP = aead, hp
	case CipherHandshakeRead:
		h.handshakeReadCipher, h.handshakeReadHP = aead, hp
	case CipherOneRTTWrite:
		h.oneRTTWriteCipher, h.oneRTTWriteHP = aead, hp
	case CipherOneRTTRead:
		h.oneRTTReadCipher, h.oneRTTReadHP = aead, hp
	case CipherZeroRTTWrite:
		h.zeroRTTWriteCipher, h.zeroRTTWriteHP = aead, hp
	}
}

// ComputeZeroRTTCipher marks that 0-RTT (early data) was attempted; the
// actual cipher is filed through ComputeCiphers(CipherZeroRTTWrite, ...).
// Grounded on ClientHandshake::computeZeroRttCipher.
func (h *ClientHandshake) ComputeZeroRTTCipher() {
	h.earlyDataAttempted = true
}

// ComputeOneRTTCipher finalizes the handshake's view of early-data
// acceptance and advances the phase to OneRTTKeysDerived.
//
// If 0-RTT was attempted but the server's early-data parameters didn't
// match what was attempted, that's a hard failure (spec doesn't support
// application-level retry of rejected 0-RTT data, matching the original's
// TODO). If the parameters matched but early data was not accepted, 0-RTT
// was cleanly rejected: the caller must treat every outstanding 0-RTT
// packet as a single synthetic loss event (spec §4.2).
// Grounded on ClientHandshake::computeOneRttCipher.
func (h *ClientHandshake) ComputeOneRTTCipher(earlyDataAccepted, earlyParametersMatch bool) error {
	if h.earlyDataAttempted && !earlyDataAccepted {
		if earlyParametersMatch {
			rejected := true
			h.zeroRTTRejected = &rejected
		} else {
			h.err = &qerr.LocalError{
				ErrorCode: qerr.EarlyDataRejected,
				Wrapped:   fmt.Errorf("early data parameters changed between attempts"),
			}
			return h.err
		}
	} else if h.earlyDataAttempted {
		rejected := false
		h.zeroRTTRejected = &rejected
	}
	h.phase = PhaseOneRTTKeysDerived
	return nil
}

func (h *ClientHandshake) InitialWriteCipher() (AEAD, HeaderProtector) {
	return h.initialWriteCipher, h.initialWriteHP
}

func (h *ClientHandshake) InitialReadCipher() (AEAD, HeaderProtector) {
	return h.initialReadCipher, h.initialReadHP
}

func (h *ClientHandshake) HandshakeWriteCipher() (AEAD, HeaderProtector) {
	return h.handshakeWriteCipher, h.handshakeWriteHP
}

func (h *ClientHandshake) HandshakeReadCipher() (AEAD, HeaderProtector) {
	return h.handshakeReadCipher, h.handshakeReadHP
}

func (h *ClientHandshake) OneRTTWriteCipher() (AEAD, HeaderProtector) {
	return h.oneRTTWriteCipher, h.oneRTTWriteHP
}

func (h *ClientHandshake) OneRTTReadCipher() (AEAD, HeaderProtector) {
	return h.oneRTTReadCipher, h.oneRTTReadHP
}

func (h *ClientHandshake) ZeroRTTWriteCipher() (AEAD, HeaderProtector) {
	return h.zeroRTTWriteCipher, h.zeroRTTWriteHP
}
