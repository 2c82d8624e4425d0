package quicclient

import (
	"sync"

	"github.com/quicclient/quicclient/internal/protocol"
)

// registry replaces the original's self-referential shared_ptr pattern
// (spec §9's "self-referential ownership" design note: "do not reproduce
// the self-cycle directly"). Instead of a transport holding a strong
// reference to itself, the package-level registry holds it, keyed by the
// connection's local connection ID, so the transport stays reachable
// while the peer may still be sending it lingering traffic even after the
// caller has dropped its own reference.
type registry struct {
	mu      sync.Mutex
	entries map[protocol.ConnectionID]*ClientTransport
}

var liveConnections = &registry{entries: make(map[protocol.ConnectionID]*ClientTransport)}

// register files t under localConnID, keeping it reachable independent of
// any reference the caller holds.
func (r *registry) register(localConnID protocol.ConnectionID, t *ClientTransport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[localConnID] = t
}

// release drops t's entry, the registry-pattern analog of the terminal
// callback releasing the self-reference. Safe to call more than once;
// only the first call has any effect.
func (r *registry) release(localConnID protocol.ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, localConnID)
}

func (r *registry) lookup(localConnID protocol.ConnectionID) (*ClientTransport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.entries[localConnID]
	return t, ok
}

// liveConnectionCount reports how many transports the registry is
// currently keeping alive; exercised by tests to confirm the terminal
// callback actually released its entry.
func liveConnectionCount() int {
	liveConnections.mu.Lock()
	defer liveConnections.mu.Unlock()
	return len(liveConnections.entries)
}
