package health

import (
	"context"
	"net"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"github.com/proxypool/proxypool/internal/core/domain"
)

// SOCKS5Checker probes an upstream by running a full SOCKS5 CONNECT
// handshake against a fixed reference target and then closing the
// connection - no application traffic is ever sent. Grounded on
// the SOCKS5 dialer construction used standalone (outside of HTTP
// tunnelling) in the broader example pack's tunnel strategy code.
type SOCKS5Checker struct {
	// ProbeTarget is the host:port the handshake CONNECTs to.
	ProbeTarget string
	// DialTimeout bounds both the TCP connect to the upstream and the
	// SOCKS5 handshake itself.
	DialTimeout time.Duration
}

func NewSOCKS5Checker(probeTarget string, dialTimeout time.Duration) *SOCKS5Checker {
	if probeTarget == "" {
		probeTarget = "1.1.1.1:80"
	}
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	return &SOCKS5Checker{ProbeTarget: probeTarget, DialTimeout: dialTimeout}
}

func (c *SOCKS5Checker) Probe(ctx context.Context, host string, port int) domain.ProbeResult {
	start := time.Now()
	result := domain.ProbeResult{Host: host, Port: port, CheckedAt: start}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	forward := &net.Dialer{Timeout: c.DialTimeout}
	dialer, err := proxy.SOCKS5("tcp", addr, nil, forward)
	if err != nil {
		result.Err = err
		return result
	}

	type dialResult struct {
		conn net.Conn
		err  error
	}
	done := make(chan dialResult, 1)
	go func() {
		conn, err := dialer.Dial("tcp", c.ProbeTarget)
		done <- dialResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		result.Err = ctx.Err()
		return result
	case r := <-done:
		result.Latency = time.Since(start)
		if r.err != nil {
			result.Err = r.err
			return result
		}
		_ = r.conn.Close()
		result.Healthy = true
		return result
	case <-time.After(c.DialTimeout):
		result.Err = context.DeadlineExceeded
		return result
	}
}
