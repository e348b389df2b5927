package forwarder

import (
	"net/http"
	"testing"
)

func TestStripHopByHop_RemovesListedHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "keep-alive")
	h.Set("Proxy-Connection", "keep-alive")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("TE", "trailers")
	h.Set("Trailer", "X-Foo")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Upgrade", "websocket")
	h.Set("Proxy-Authorization", "Basic xyz")
	h.Set("Proxy-Authenticate", "Basic")
	h.Set("X-Custom", "keep-me")

	stripHopByHop(h)

	for _, name := range hopByHopHeaders {
		if h.Get(name) != "" {
			t.Errorf("expected %s to be stripped, still present: %q", name, h.Get(name))
		}
	}
	if h.Get("X-Custom") != "keep-me" {
		t.Error("expected non-hop-by-hop header to survive")
	}
}

func TestStripHopByHop_RemovesTokensNamedByConnectionHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "X-Session-Id, close")
	h.Set("X-Session-Id", "abc123")

	stripHopByHop(h)

	if h.Get("X-Session-Id") != "" {
		t.Error("expected header named by Connection token to be stripped")
	}
	if h.Get("Connection") != "" {
		t.Error("expected Connection header itself to be stripped")
	}
}

func TestWithout_FiltersTriedCandidates(t *testing.T) {
	candidates := snapshotsForTest(3)
	tried := map[string]bool{key(candidates[1].Host, candidates[1].Port): true}

	remaining := without(candidates, tried)

	if len(remaining) != 2 {
		t.Fatalf("expected 2 remaining candidates, got %d", len(remaining))
	}
	for _, c := range remaining {
		if tried[key(c.Host, c.Port)] {
			t.Errorf("tried candidate %s:%d leaked into remaining set", c.Host, c.Port)
		}
	}
}
