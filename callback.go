package quicclient

import "github.com/quicclient/quicclient/internal/qtransport"

// ConnectionCallback receives the lifecycle notifications a ClientTransport
// reports: setup success/failure, replay-safety once 1-RTT keys are
// installed, per-stream activity, and the terminal end-of-connection
// events. At most one of onConnectionSetUp/onConnectionSetupError fires
// (neither, if Close() is called before setup), and exactly one of
// onConnectionEnd/onConnectionError fires for a given Start() call — the
// terminal one is also what releases the transport's self-ownership
// reference. A failure before setup delivers onConnectionSetupError
// followed by onConnectionError.
type ConnectionCallback interface {
	// OnConnectionSetUp fires once the handshake reaches
	// handshake.PhaseOneRTTKeysDerived — 1-RTT keys are installed and the
	// connection is usable for sending, which is as far as this side can
	// drive the handshake before a packet from the peer confirms it.
	OnConnectionSetUp()

	// OnConnectionSetupError fires if the connection fails before the
	// handshake establishes (e.g. a fatal CRYPTO_ERROR, or every peer
	// address in the Happy Eyeballs race failing to connect).
	OnConnectionSetupError(err error)

	// OnReplaySafe fires once 1-RTT keys are installed and it is safe to
	// treat this connection as equivalent to one that completed the full
	// handshake — the point past which a rejected 0-RTT attempt can no
	// longer cause silently-dropped application data.
	OnReplaySafe()

	// OnStreamOpened/OnStreamClosed report the connection's stream map
	// changing, mirroring qtransport.ClientConnectionState's AddStream
	// and RemoveStream bookkeeping.
	OnStreamOpened(id qtransport.StreamID)
	OnStreamClosed(id qtransport.StreamID)

	// OnConnectionEnd is the terminal notification for a graceful close
	// (idle timeout, local or peer-initiated CONNECTION_CLOSE with
	// NoError).
	OnConnectionEnd()

	// OnConnectionError is the terminal notification for a connection that
	// ended abnormally.
	OnConnectionError(err error)
}
