package pskcache

import "testing"

func TestGetPutRemove(t *testing.T) {
	c, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := c.Get("example.com"); ok {
		t.Fatalf("expected miss on empty cache")
	}
	entry := CachedPsk{PSK: []byte("ticket"), ALPN: "h3"}
	c.Put("example.com", entry)
	got, ok := c.Get("example.com")
	if !ok {
		t.Fatalf("expected hit after Put")
	}
	if string(got.PSK) != "ticket" || got.ALPN != "h3" {
		t.Fatalf("got unexpected entry: %+v", got)
	}
	c.Remove("example.com")
	if _, ok := c.Get("example.com"); ok {
		t.Fatalf("expected miss after Remove")
	}
}

func TestEvictsLeastRecentlyUsedPastCapacity(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Put("a.example.com", CachedPsk{ALPN: "h3"})
	c.Put("b.example.com", CachedPsk{ALPN: "h3"})
	if _, ok := c.Get("a.example.com"); ok {
		t.Fatalf("expected a.example.com to have been evicted")
	}
	if _, ok := c.Get("b.example.com"); !ok {
		t.Fatalf("expected b.example.com to still be cached")
	}
}

func TestEarlyDataEligible(t *testing.T) {
	params := ServerTransportParams{InitialMaxData: 1 << 20}
	cached := CachedPsk{ALPN: "h3", ServerParams: params}

	if !EarlyDataEligible(cached, "h3", params) {
		t.Fatalf("expected eligible when ALPN and params match")
	}
	if EarlyDataEligible(cached, "h2", params) {
		t.Fatalf("expected ineligible on ALPN mismatch")
	}
	changed := params
	changed.InitialMaxData = 1 << 10
	if EarlyDataEligible(cached, "h3", changed) {
		t.Fatalf("expected ineligible on transport parameter mismatch")
	}
}
