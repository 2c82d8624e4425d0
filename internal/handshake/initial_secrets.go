package handshake

import (
	"crypto/sha256"

	"golang.org/x/crypto/hkdf"

	"github.com/quicclient/quicclient/internal/protocol"
)

// initialSaltV1 is the version-specific salt RFC 9001 section 5.2 fixes
// for QUIC version 1. HKDF-Extract over a client's chosen destination
// connection ID with this salt yields a secret both endpoints can derive
// with no TLS key-schedule input at all, which is what lets a client
// build and send its very first Initial packet before the (external) TLS
// engine has produced anything.
var initialSaltV1 = []byte{
	0x38, 0x76, 0x2c, 0xf7, 0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6, 0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

const (
	clientInitialLabel = "client in"
	serverInitialLabel = "server in"
)

// DeriveInitialSecrets fills the CipherInitialWrite/CipherInitialRead
// slots from destConnID alone (RFC 9001 section 5.2). It runs at dial
// time, independent of ComputeCiphers and everything that normally drives
// it, so a candidate address can send a real Initial packet and validate
// a response before any other epoch exists.
func (h *ClientHandshake) DeriveInitialSecrets(destConnID protocol.ConnectionID) {
	initialSecret := hkdf.Extract(sha256.New, destConnID.Bytes(), initialSaltV1)
	h.ComputeCiphers(CipherInitialWrite, hkdfExpandLabel(initialSecret, clientInitialLabel, 32))
	h.ComputeCiphers(CipherInitialRead, hkdfExpandLabel(initialSecret, serverInitialLabel, 32))
}
