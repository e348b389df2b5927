package forwarder

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/proxypool/proxypool/internal/core/domain"
	"github.com/proxypool/proxypool/internal/core/ports"
	"github.com/proxypool/proxypool/pkg/eventbus"
)

// Registry is the subset of domain.UpstreamRegistry the Forwarder needs on
// the request path.
type Registry interface {
	SnapshotAvailable() []domain.Snapshot
	Get(host string, port int) *domain.Upstream
	MarkSuccess(host string, port int)
	MarkFailure(host string, port int, reason string)
	MarkOverloaded(host string, port int)
}

// Config tunes per-request timeouts and the overload retry ceiling.
type Config struct {
	ConnectionTimeout time.Duration
	// MaxRetryAttempts bounds the overload retry loop even when candidates
	// remain, matching the Python original's 20-attempt defensive ceiling.
	MaxRetryAttempts int
}

func DefaultConfig() Config {
	return Config{ConnectionTimeout: 30 * time.Second, MaxRetryAttempts: 20}
}

// Forwarder drives the per-request state machine: select an upstream,
// perform the HTTP transaction or CONNECT tunnel, classify the outcome,
// and drive registry transitions - including the overload retry loop.
//
// Grounded on the teacher's proxy Service (select -> acquire session ->
// round-trip -> classify -> stream) generalised from reverse-proxying to
// an inference backend to forward-proxying through a SOCKS5 upstream, and
// on the broader pack's HTTP-CONNECT tunnel strategy for the CONNECT path.
type Forwarder struct {
	registry Registry
	selector domain.UpstreamSelector
	stats    ports.StatsCollector
	events   *eventbus.EventBus[Event]
	cfg      Config
	log      *slog.Logger
}

func New(registry Registry, selector domain.UpstreamSelector, stats ports.StatsCollector, events *eventbus.EventBus[Event], cfg Config, log *slog.Logger) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 20
	}
	return &Forwarder{registry: registry, selector: selector, stats: stats, events: events, cfg: cfg, log: log}
}

// Close shuts down the Forwarder's EventBus, if one was supplied, so
// whatever is draining Subscribe's channel stops.
func (f *Forwarder) Close() {
	if f.events != nil {
		f.events.Shutdown()
	}
}

func (f *Forwarder) publish(evt Event) {
	evt.At = time.Now()
	if f.events != nil {
		f.events.PublishAsync(evt)
	}
}

// requestID returns the inbound request's X-Request-Id if the client sent
// one, otherwise mints a fresh UUID so every proxied request can be
// correlated across the registry, stats and event-bus logs.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

func (f *Forwarder) record(host string, port int, success bool, latency time.Duration) {
	if f.stats != nil {
		f.stats.RecordRequest(host, port, success, latency)
	}
}

func (f *Forwarder) recordOverload(host string, port int) {
	if f.stats != nil {
		f.stats.RecordOverload(host, port)
	}
}

// ServeHTTP dispatches by method: CONNECT takes the tunnel path, everything
// else takes the non-CONNECT forwarding path. Every request is assigned a
// correlation ID threaded through the published events and logs.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := requestID(r)
	f.log.Debug("request received", "request_id", id, "method", r.Method, "host", r.Host)

	if r.Method == http.MethodConnect {
		f.serveConnect(w, r, id)
		return
	}
	f.serveForward(w, r, id)
}

func without(candidates []domain.Snapshot, tried map[string]bool) []domain.Snapshot {
	out := make([]domain.Snapshot, 0, len(candidates))
	for _, c := range candidates {
		if !tried[key(c.Host, c.Port)] {
			out = append(out, c)
		}
	}
	return out
}

func key(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}

// serveForward implements the non-CONNECT path and the overload retry loop.
func (f *Forwarder) serveForward(w http.ResponseWriter, r *http.Request, id string) {
	available := f.registry.SnapshotAvailable()
	if len(available) == 0 {
		f.publish(Event{Type: EventNoUpstream, RequestID: id})
		http.Error(w, "no upstream available", http.StatusServiceUnavailable)
		return
	}

	first, err := f.selector.Select(available)
	if err != nil {
		http.Error(w, "no upstream available", http.StatusServiceUnavailable)
		return
	}

	bodyBytes, err := readAllBounded(r.Body)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read request body", http.StatusBadGateway)
		return
	}

	stripHopByHop(r.Header)

	status, resp, rtErr := f.attempt(r, first, bodyBytes)
	if rtErr != nil {
		f.registry.MarkFailure(first.Host, first.Port, rtErr.Error())
		f.record(first.Host, first.Port, false, 0)
		f.publish(Event{Type: EventFailure, RequestID: id, Host: first.Host, Port: first.Port, Err: rtErr})
		http.Error(w, "upstream transport error", http.StatusBadGateway)
		return
	}

	if status != http.StatusTooManyRequests {
		f.registry.MarkSuccess(first.Host, first.Port)
		f.record(first.Host, first.Port, true, 0)
		f.publish(Event{Type: EventSuccess, RequestID: id, Host: first.Host, Port: first.Port, StatusCode: status})
		writeResponse(w, resp)
		return
	}

	f.registry.MarkOverloaded(first.Host, first.Port)
	f.recordOverload(first.Host, first.Port)
	f.publish(Event{Type: EventOverloaded, RequestID: id, Host: first.Host, Port: first.Port, StatusCode: status})
	drainAndClose(resp)

	f.retryLoop(w, r, available, first, bodyBytes, id)
}

// retryLoop implements §4.4's overload retry loop: while candidates remain
// in available\tried, pick the next one with the same selection algorithm
// and retry; 429 and transport errors both continue, any other outcome
// succeeds and is returned to the client.
func (f *Forwarder) retryLoop(w http.ResponseWriter, r *http.Request, available []domain.Snapshot, first domain.Snapshot, bodyBytes []byte, id string) {
	tried := map[string]bool{key(first.Host, first.Port): true}
	lastWas429 := true
	attempts := 1

	for attempts < f.cfg.MaxRetryAttempts {
		candidates := without(available, tried)
		if len(candidates) == 0 {
			break
		}

		c, err := f.selector.Select(candidates)
		if err != nil {
			break
		}
		attempts++

		status, resp, rtErr := f.attempt(r, c, bodyBytes)
		if rtErr != nil {
			f.registry.MarkFailure(c.Host, c.Port, rtErr.Error())
			f.record(c.Host, c.Port, false, 0)
			f.publish(Event{Type: EventFailure, RequestID: id, Host: c.Host, Port: c.Port, Err: rtErr})
			tried[key(c.Host, c.Port)] = true
			lastWas429 = false
			continue
		}

		if status == http.StatusTooManyRequests {
			f.registry.MarkOverloaded(c.Host, c.Port)
			f.recordOverload(c.Host, c.Port)
			f.publish(Event{Type: EventOverloaded, RequestID: id, Host: c.Host, Port: c.Port, StatusCode: status})
			drainAndClose(resp)
			tried[key(c.Host, c.Port)] = true
			lastWas429 = true
			continue
		}

		f.registry.MarkSuccess(c.Host, c.Port)
		f.record(c.Host, c.Port, true, 0)
		f.publish(Event{Type: EventSuccess, RequestID: id, Host: c.Host, Port: c.Port, StatusCode: status})
		writeResponse(w, resp)
		return
	}

	if lastWas429 {
		http.Error(w, "all upstreams rate-limited", http.StatusTooManyRequests)
		return
	}
	http.Error(w, "upstream transport error", http.StatusBadGateway)
}

// attempt issues one HTTP round trip to c, returning the response status
// and the *http.Response with its body still unread, or a transport error.
func (f *Forwarder) attempt(r *http.Request, c domain.Snapshot, bodyBytes []byte) (int, *http.Response, error) {
	u := f.registry.Get(c.Host, c.Port)
	if u == nil || u.Sessions == nil {
		return 0, nil, errors.New("upstream has no session pool")
	}

	client := u.Sessions.Get()
	defer u.Sessions.Put(client)

	ctx, cancel := context.WithTimeout(r.Context(), f.cfg.ConnectionTimeout)
	defer cancel()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, r.URL.String(), bytes.NewReader(bodyBytes))
	if err != nil {
		return 0, nil, err
	}
	outReq.Header = r.Header.Clone()
	outReq.ContentLength = int64(len(bodyBytes))

	resp, err := client.Do(outReq)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, resp, nil
}

func writeResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()
	stripHopByHop(resp.Header)
	for k, vv := range resp.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func drainAndClose(resp *http.Response) {
	if resp == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

const maxBufferedBody = 32 << 20 // 32MiB

var errBodyTooLarge = errors.New("request body exceeds maximum size")

// readAllBounded reads up to maxBufferedBody+1 bytes so it can tell a body
// that exactly fills the cap apart from one that overflows it - returning
// errBodyTooLarge in the latter case instead of silently forwarding a
// truncated payload with a success status.
func readAllBounded(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r, maxBufferedBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBufferedBody {
		return nil, errBodyTooLarge
	}
	return body, nil
}
