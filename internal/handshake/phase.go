package handshake

// Phase is the client handshake's state machine (spec §4.3), driven
// forward by doHandshake as CRYPTO data arrives at each encryption level.
// Grounded on ClientHandshake::Phase in
// original_source/quic/client/handshake/ClientHandshake.cpp.
type Phase uint8

const (
	// PhaseInitial: no CRYPTO data processed yet.
	PhaseInitial Phase = iota
	// PhaseHandshake: the first CRYPTO data (ServerHello or an HRR) arrived.
	PhaseHandshake
	// PhaseOneRTTKeysDerived: the TLS handshake secret exchange finished and
	// the 1-RTT ciphers were derived; 0-RTT acceptance/rejection is known.
	PhaseOneRTTKeysDerived
	// PhaseEstablished: a 1-RTT protected packet has been received,
	// confirming the peer holds the 1-RTT write keys too.
	PhaseEstablished
)

func (p Phase) String() string {
	switch p {
	case PhaseInitial:
		return "Initial"
	case PhaseHandshake:
		return "Handshake"
	case PhaseOneRTTKeysDerived:
		return "OneRTTKeysDerived"
	case PhaseEstablished:
		return "Established"
	default:
		return "invalid phase"
	}
}

// CipherKind names one of the seven derived cipher slots: a read or write
// AEAD (plus its paired header-protection cipher) for the Initial,
// Handshake and 1-RTT epochs, and a write-only slot for 0-RTT. Unlike the
// other five, the Initial pair is never filed through ComputeCiphers by
// the (external) TLS engine — DeriveInitialSecrets fills it directly,
// since RFC 9001 §5.2 derives it from the destination connection ID alone.
type CipherKind uint8

const (
	CipherInitialWrite CipherKind = iota
	CipherInitialRead
	CipherHandshakeWrite
	CipherHandshakeRead
	CipherOneRTTWrite
	CipherOneRTTRead
	CipherZeroRTTWrite
)
