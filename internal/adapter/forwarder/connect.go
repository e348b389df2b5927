package forwarder

import (
	"io"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/proxy"
)

// serveConnect implements the CONNECT tunnel path: select an upstream,
// open a SOCKS5 connection through it to the client's requested
// host:port, then splice the two byte streams until either side closes.
//
// Grounded on the broader pack's HTTP-CONNECT tunnel strategy: hijack the
// client connection, dial the target through the SOCKS5 upstream, and
// bidirectionally io.Copy with a half-close (CloseWrite) on clean EOF.
func (f *Forwarder) serveConnect(w http.ResponseWriter, r *http.Request, id string) {
	available := f.registry.SnapshotAvailable()
	if len(available) == 0 {
		f.publish(Event{Type: EventNoUpstream, RequestID: id})
		http.Error(w, "no upstream available", http.StatusServiceUnavailable)
		return
	}

	selected, err := f.selector.Select(available)
	if err != nil {
		http.Error(w, "no upstream available", http.StatusServiceUnavailable)
		return
	}

	forward := &net.Dialer{Timeout: f.cfg.ConnectionTimeout}
	dialer, err := proxy.SOCKS5("tcp", selected.Addr(), nil, forward)
	if err != nil {
		f.registry.MarkFailure(selected.Host, selected.Port, err.Error())
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	upstreamConn, err := dialer.Dial("tcp", r.Host)
	if err != nil {
		f.registry.MarkFailure(selected.Host, selected.Port, err.Error())
		f.record(selected.Host, selected.Port, false, 0)
		f.publish(Event{Type: EventFailure, RequestID: id, Host: selected.Host, Port: selected.Port, Err: err})
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer upstreamConn.Close()

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "connect not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "connect failed", http.StatusBadGateway)
		return
	}
	defer clientConn.Close()

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		f.log.Debug("connect tunnel aborted by client disconnect", "request_id", id, "host", selected.Host, "port", selected.Port, "error", err)
		return
	}

	result := splice(clientConn, upstreamConn)

	// A client disconnect mid-stream (it closed or reset its side) aborts
	// the upstream side here via the deferred Close calls above, but it is
	// not evidence the upstream itself is unhealthy, so it must not feed
	// MarkFailure's consecutive-failure count. Only an error that
	// originated on the upstream side counts against the upstream.
	if result.upstreamErr != nil {
		f.registry.MarkFailure(selected.Host, selected.Port, result.upstreamErr.Error())
		f.record(selected.Host, selected.Port, false, 0)
		f.publish(Event{Type: EventFailure, RequestID: id, Host: selected.Host, Port: selected.Port, Err: result.upstreamErr})
		return
	}
	if result.clientErr != nil {
		f.log.Debug("connect tunnel aborted by client disconnect", "request_id", id, "host", selected.Host, "port", selected.Port, "error", result.clientErr)
		return
	}

	f.registry.MarkSuccess(selected.Host, selected.Port)
	f.record(selected.Host, selected.Port, true, 0)
	f.publish(Event{Type: EventSuccess, RequestID: id, Host: selected.Host, Port: selected.Port, StatusCode: http.StatusOK})
}

type halfCloser interface {
	CloseWrite() error
}

// spliceResult separates a tunnel failure by which side of the connection
// it originated on, so the caller can decide whether it is evidence of an
// unhealthy upstream or simply the client going away.
type spliceResult struct {
	clientErr   error
	upstreamErr error
}

// splice copies bytes in both directions between client and upstream until
// both sides have reached EOF, half-closing each side's write half as soon
// as its read direction hits EOF so the peer sees a clean shutdown instead
// of a reset. Every error is attributed to whichever connection caused it -
// a failed read from client or a failed write to client is a client-side
// error even though it surfaces inside the client->upstream copy goroutine.
func splice(client, upstream net.Conn) spliceResult {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var result spliceResult

	record := func(clientSide bool, err error) {
		if err == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if clientSide {
			if result.clientErr == nil {
				result.clientErr = err
			}
		} else if result.upstreamErr == nil {
			result.upstreamErr = err
		}
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		readErr, writeErr := copyTagged(upstream, client)
		if hc, ok := upstream.(halfCloser); ok {
			_ = hc.CloseWrite()
		}
		record(true, readErr)   // failed reading from the client
		record(false, writeErr) // failed writing to the upstream
	}()

	go func() {
		defer wg.Done()
		readErr, writeErr := copyTagged(client, upstream)
		if hc, ok := client.(halfCloser); ok {
			_ = hc.CloseWrite()
		}
		record(false, readErr) // failed reading from the upstream
		record(true, writeErr) // failed writing to the client
	}()

	wg.Wait()
	return result
}

// copyTagged copies from src to dst until src reaches a clean EOF, a read
// from src fails, or a write to dst fails - returning whichever of those
// two happened (never both), so the caller can tell which connection is at
// fault instead of io.Copy's single undifferentiated error.
func copyTagged(dst, src net.Conn) (readErr, writeErr error) {
	buf := make([]byte, 32*1024)
	for {
		n, rErr := src.Read(buf)
		if n > 0 {
			if _, wErr := dst.Write(buf[:n]); wErr != nil {
				return nil, wErr
			}
		}
		if rErr != nil {
			if rErr == io.EOF {
				return nil, nil
			}
			return rErr, nil
		}
	}
}
