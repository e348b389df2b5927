package forwarder

import (
	"net/http"
	"strings"
)

// hopByHopHeaders are stripped before forwarding in either direction - each
// is meaningful only on a single transport hop, never end-to-end.
var hopByHopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Proxy-Authorization",
	"Proxy-Authenticate",
}

// stripHopByHop removes the hop-by-hop header set and anything the
// Connection header itself names, in place.
func stripHopByHop(h http.Header) {
	for _, name := range connectionTokens(h) {
		h.Del(name)
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

func connectionTokens(h http.Header) []string {
	var tokens []string
	for _, v := range h.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				tokens = append(tokens, tok)
			}
		}
	}
	return tokens
}
