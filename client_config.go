package quicclient

import (
	"fmt"
	"net"

	"github.com/quicclient/quicclient/pskcache"
)

// CertificateVerifier validates the peer's certificate chain during the
// handshake. The core never ships a default implementation (spec §1's
// Out-of-scope list excludes certificate validation policy); embedders
// must supply one before Start().
type CertificateVerifier interface {
	VerifyCertificateChain(rawCerts [][]byte) error
}

// ClientConfig is the setter-based configuration surface a caller fills
// in before Start(), mirroring
// original_source/quic/client/QuicClientTransport.h's setHostname /
// setCertificateVerifier / addNewPeerAddress / setPskCache /
// setCustomTransportParameter / setHappyEyeballsEnabled methods.
// ClientTransport reads only the peer addresses and the Happy Eyeballs
// setting; the hostname, certificate verifier, PSK cache and custom
// transport parameters are stored here and not passed on to the handshake.
type ClientConfig struct {
	hostname             string
	verifier             CertificateVerifier
	peerAddrs            []net.Addr
	pskCache             pskcache.Cache
	happyEyeballsEnabled bool
	customParams         map[uint64][]byte
}

// NewClientConfig returns an empty configuration. Happy Eyeballs is
// enabled by default, matching the original's default.
func NewClientConfig() *ClientConfig {
	return &ClientConfig{
		happyEyeballsEnabled: true,
		customParams:         make(map[uint64][]byte),
	}
}

// SetHostname records the server's hostname. Must be called before Start().
func (c *ClientConfig) SetHostname(hostname string) { c.hostname = hostname }

// SetCertificateVerifier installs a custom certificate verifier. Must be
// called before Start().
func (c *ClientConfig) SetCertificateVerifier(v CertificateVerifier) { c.verifier = v }

// AddPeerAddress supplies a new candidate peer address. Must be called at
// least once before Start(); calling it more than once is what feeds the
// Happy Eyeballs dialer's race.
func (c *ClientConfig) AddPeerAddress(addr net.Addr) {
	c.peerAddrs = append(c.peerAddrs, addr)
}

// SetPSKCache records a PSK cache for session resumption and 0-RTT
// (spec §6).
func (c *ClientConfig) SetPSKCache(cache pskcache.Cache) { c.pskCache = cache }

// SetHappyEyeballsEnabled toggles the dual-stack connection race. Enabled
// by default.
func (c *ClientConfig) SetHappyEyeballsEnabled(enabled bool) { c.happyEyeballsEnabled = enabled }

// SetCustomTransportParameter files a private-use transport parameter
// (ID >= 0x3fff per RFC 9000 §18.1) on the config.
func (c *ClientConfig) SetCustomTransportParameter(id uint64, value []byte) error {
	if id < 0x3fff {
		return fmt.Errorf("quicclient: custom transport parameter ID %#x is below the private-use range (>= 0x3fff)", id)
	}
	c.customParams[id] = value
	return nil
}
