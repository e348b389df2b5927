package forwarder

import (
	"net"
	"strconv"
	"time"

	"github.com/proxypool/proxypool/internal/core/domain"
)

// NewSessionPoolFactory returns the callback registry.New expects to equip
// every newly reconciled upstream with a session pool bound to its own
// SOCKS5 endpoint.
func NewSessionPoolFactory(dialTimeout time.Duration) func(host string, port int, username, password string, size int) domain.SessionPool {
	return func(host string, port int, username, password string, size int) domain.SessionPool {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		sp, err := NewSessionPool(addr, username, password, size, dialTimeout)
		if err != nil {
			// A malformed SOCKS5 dialer configuration is a programming
			// error (bad address), not a runtime condition to recover
			// from case-by-case here - surface it where it is loud.
			panic(err)
		}
		return sp
	}
}
