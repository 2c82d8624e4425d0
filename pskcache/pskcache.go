// Package pskcache implements the PSK cache contract from spec §6: a
// lookaside keyed by server identity, storing enough of the prior
// session's state to attempt 0-RTT on the next connection.
// ClientConfig.SetPSKCache stores a Cache, but the transport itself does
// not call Get, Put or Remove. The core never persists the cache itself (spec §1's
// Out-of-scope list) — this package only provides a bounded in-memory
// implementation, grounded on the dnscrypt-proxy and dtn7-go examples'
// use of hashicorp/golang-lru for exactly this shape of lookaside cache.
package pskcache

import (
	lru "github.com/hashicorp/golang-lru"
)

// ServerTransportParams is the subset of the server's negotiated
// transport parameters that must still match for a cached PSK to be
// eligible for a 0-RTT attempt (spec §3's invariant: "a zero-RTT attempt
// requires a cached PSK whose ALPN and transport-parameter subset match
// the current configuration").
type ServerTransportParams struct {
	InitialMaxData               uint64
	InitialMaxStreamDataBidiLocal uint64
	InitialMaxStreamDataBidiRemote uint64
	InitialMaxStreamDataUni       uint64
	InitialMaxStreamsBidi         uint64
	InitialMaxStreamsUni          uint64
	ActiveConnectionIDLimit       uint64
}

// CachedPsk is a single PSK cache entry (spec §3's data model).
type CachedPsk struct {
	PSK                   []byte
	ServerParams          ServerTransportParams
	ALPN                  string
	CipherSuite           uint16
	MaxEarlyDataSize      uint32
	TicketIssueTimeUnixNs int64
}

// Cache is the PSK cache contract from spec §6.
type Cache interface {
	Get(serverIdentity string) (CachedPsk, bool)
	Put(serverIdentity string, psk CachedPsk)
	Remove(serverIdentity string)
}

// lruCache is a bounded in-memory Cache. It tolerates concurrent access
// (spec §5: "the PSK cache is shared across transports and must tolerate
// concurrent access by its implementor") via golang-lru's internal lock.
type lruCache struct {
	c *lru.Cache
}

// New returns a Cache holding at most capacity entries, evicting the
// least-recently-used server identity once full.
func New(capacity int) (Cache, error) {
	c, err := lru.New(capacity)
	if err != nil {
		return nil, err
	}
	return &lruCache{c: c}, nil
}

func (l *lruCache) Get(serverIdentity string) (CachedPsk, bool) {
	v, ok := l.c.Get(serverIdentity)
	if !ok {
		return CachedPsk{}, false
	}
	return v.(CachedPsk), true
}

func (l *lruCache) Put(serverIdentity string, psk CachedPsk) {
	l.c.Add(serverIdentity, psk)
}

func (l *lruCache) Remove(serverIdentity string) {
	l.c.Remove(serverIdentity)
}

// EarlyDataEligible reports whether a cached entry's ALPN and transport
// parameter subset still match the configuration the client is about to
// use, per spec §3's zero-RTT-attempt invariant.
func EarlyDataEligible(cached CachedPsk, alpn string, current ServerTransportParams) bool {
	if cached.ALPN != alpn {
		return false
	}
	return cached.ServerParams == current
}
