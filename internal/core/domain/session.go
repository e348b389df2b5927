package domain

import "net/http"

// SessionPool hands out warm *http.Client instances bound to one upstream's
// SOCKS5 dialer, and takes them back for reuse. Implementations bound the
// number of pooled clients; Get may construct a fresh one when the pool is
// empty, and Put is free to discard rather than retain.
type SessionPool interface {
	Get() *http.Client
	Put(*http.Client)
	Close()

	// Len reports how many warm clients are currently idle in the pool,
	// exposed to the Observability interface as sessions_pooled.
	Len() int
}
