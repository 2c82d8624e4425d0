package quicclient

import (
	"crypto/rand"

	"github.com/quicclient/quicclient/internal/protocol"
)

// defaultConnIDLen is the length of connection ID the client generates
// for itself. 8 bytes matches the original's default and gives the
// server enough entropy to route retransmitted Initial packets to the
// right listener without over-inflating every long header.
const defaultConnIDLen = 8

// generateConnectionID picks a fresh random connection ID, the Go
// equivalent of the original's random-source-backed connection ID
// generator.
func generateConnectionID(length int) (protocol.ConnectionID, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return protocol.ConnectionID{}, err
	}
	return protocol.ParseConnectionID(b)
}
