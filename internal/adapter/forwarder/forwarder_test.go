package forwarder

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/proxypool/proxypool/internal/core/domain"
)

func snapshotsForTest(n int) []domain.Snapshot {
	out := make([]domain.Snapshot, n)
	for i := range out {
		out[i] = domain.Snapshot{Host: "10.0.0.1", Port: 1080 + i, State: domain.StateAvailable}
	}
	return out
}

// stubSessionPool hands out an *http.Client whose transport redirects every
// request to a local httptest.Server, regardless of the absolute-form URL
// the forwarder constructed - standing in for a real SOCKS5 dial in tests.
type stubSessionPool struct {
	target string
}

func (p *stubSessionPool) Get() *http.Client {
	return &http.Client{Transport: &redirectTransport{target: p.target}}
}
func (p *stubSessionPool) Put(*http.Client) {}
func (p *stubSessionPool) Close()           {}
func (p *stubSessionPool) Len() int         { return 0 }

type redirectTransport struct {
	target string
}

func (t *redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	targetURL, err := url.Parse(t.target)
	if err != nil {
		return nil, err
	}
	req = req.Clone(req.Context())
	req.URL.Scheme = targetURL.Scheme
	req.URL.Host = targetURL.Host
	req.Host = targetURL.Host
	return http.DefaultTransport.RoundTrip(req)
}

type fakeForwarderRegistry struct {
	mu        sync.Mutex
	upstreams map[string]*domain.Upstream
	available []domain.Snapshot
}

func newFakeForwarderRegistry(statuses map[string]int, target string) *fakeForwarderRegistry {
	reg := &fakeForwarderRegistry{upstreams: make(map[string]*domain.Upstream)}
	for k := range statuses {
		snap := parseTestKey(k)
		u := &domain.Upstream{Host: snap.Host, Port: snap.Port, State: domain.StateAvailable, Sessions: &stubSessionPool{target: target}}
		reg.upstreams[k] = u
		reg.available = append(reg.available, snap)
	}
	return reg
}

func parseTestKey(k string) domain.Snapshot {
	host := "10.0.0.1"
	port := 0
	for i := len(k) - 1; i >= 0; i-- {
		if k[i] == ':' {
			host = k[:i]
			for _, c := range k[i+1:] {
				port = port*10 + int(c-'0')
			}
			break
		}
	}
	return domain.Snapshot{Host: host, Port: port, State: domain.StateAvailable}
}

func (r *fakeForwarderRegistry) SnapshotAvailable() []domain.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Snapshot, 0, len(r.available))
	for _, s := range r.available {
		if u, ok := r.upstreams[key(s.Host, s.Port)]; ok && u.State == domain.StateAvailable {
			out = append(out, s)
		}
	}
	return out
}

func (r *fakeForwarderRegistry) Get(host string, port int) *domain.Upstream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upstreams[key(host, port)]
}

func (r *fakeForwarderRegistry) MarkSuccess(host string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.upstreams[key(host, port)]; ok {
		u.SuccessCount++
	}
}

func (r *fakeForwarderRegistry) MarkFailure(host string, port int, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.upstreams[key(host, port)]; ok {
		u.FailureCount++
		u.LastError = reason
	}
}

func (r *fakeForwarderRegistry) MarkOverloaded(host string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.upstreams[key(host, port)]; ok {
		u.OverloadCount++
	}
}

// firstCandidateSelector always returns available[0], deterministic enough
// to assert retry-loop ordering without depending on real cursor state.
type firstCandidateSelector struct{}

func (firstCandidateSelector) Name() string { return "first" }
func (firstCandidateSelector) Select(available []domain.Snapshot) (domain.Snapshot, error) {
	if len(available) == 0 {
		return domain.Snapshot{}, domain.NewSelectionError("first", "empty")
	}
	return available[0], nil
}

func TestForwarder_ServeForward_SuccessOnFirstAttempt(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	reg := newFakeForwarderRegistry(map[string]int{"10.0.0.1:1080": http.StatusOK}, upstream.URL)
	fwd := New(reg, firstCandidateSelector{}, nil, nil, DefaultConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/path", nil)
	rec := httptest.NewRecorder()

	fwd.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	u := reg.Get("10.0.0.1", 1080)
	if u.SuccessCount != 1 {
		t.Fatalf("expected success recorded, got %d", u.SuccessCount)
	}
}

func TestForwarder_ServeForward_NoUpstreamReturns503(t *testing.T) {
	reg := newFakeForwarderRegistry(map[string]int{}, "http://unused")
	fwd := New(reg, firstCandidateSelector{}, nil, nil, DefaultConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/path", nil)
	rec := httptest.NewRecorder()
	fwd.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestForwarder_ServeForward_OverloadRetriesThenSucceeds(t *testing.T) {
	overloaded := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer overloaded.Close()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("served"))
	}))
	defer healthy.Close()

	reg := &fakeForwarderRegistry{upstreams: make(map[string]*domain.Upstream)}
	a := &domain.Upstream{Host: "10.0.0.1", Port: 1080, State: domain.StateAvailable, Sessions: &stubSessionPool{target: overloaded.URL}}
	b := &domain.Upstream{Host: "10.0.0.1", Port: 1081, State: domain.StateAvailable, Sessions: &stubSessionPool{target: healthy.URL}}
	reg.upstreams["10.0.0.1:1080"] = a
	reg.upstreams["10.0.0.1:1081"] = b
	reg.available = []domain.Snapshot{
		{Host: "10.0.0.1", Port: 1080, State: domain.StateAvailable},
		{Host: "10.0.0.1", Port: 1081, State: domain.StateAvailable},
	}

	fwd := New(reg, firstCandidateSelector{}, nil, nil, DefaultConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/path", nil)
	rec := httptest.NewRecorder()
	fwd.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected eventual 200 after overload retry, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); body != "served" {
		t.Fatalf("expected body from the healthy upstream, got %q", body)
	}
	if a.OverloadCount != 1 {
		t.Fatalf("expected overloaded upstream to record 1 overload, got %d", a.OverloadCount)
	}
	if b.SuccessCount != 1 {
		t.Fatalf("expected healthy upstream to record 1 success, got %d", b.SuccessCount)
	}
}

func TestForwarder_ServeForward_AllOverloadedReturns429(t *testing.T) {
	overloaded := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer overloaded.Close()

	reg := newFakeForwarderRegistry(map[string]int{"10.0.0.1:1080": http.StatusTooManyRequests}, overloaded.URL)
	fwd := New(reg, firstCandidateSelector{}, nil, nil, DefaultConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/path", nil)
	rec := httptest.NewRecorder()
	fwd.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once every candidate is overloaded, got %d", rec.Code)
	}
}

func TestForwarder_ServeForward_TransportErrorOnFirstAttemptReturns502(t *testing.T) {
	reg := &fakeForwarderRegistry{upstreams: make(map[string]*domain.Upstream)}
	u := &domain.Upstream{Host: "10.0.0.1", Port: 1080, State: domain.StateAvailable, Sessions: &stubSessionPool{target: "http://127.0.0.1:1"}}
	reg.upstreams["10.0.0.1:1080"] = u
	reg.available = []domain.Snapshot{{Host: "10.0.0.1", Port: 1080, State: domain.StateAvailable}}

	fwd := New(reg, firstCandidateSelector{}, nil, nil, Config{ConnectionTimeout: 2 * time.Second, MaxRetryAttempts: 20}, nil)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/path", nil)
	rec := httptest.NewRecorder()
	fwd.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on first-attempt transport error, got %d", rec.Code)
	}
	if u.FailureCount != 1 {
		t.Fatalf("expected failure recorded, got %d", u.FailureCount)
	}
}

func TestForwarder_ServeForward_OversizedBodyReturns413(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should have been rejected before reaching an upstream")
	}))
	defer upstream.Close()

	reg := newFakeForwarderRegistry(map[string]int{"10.0.0.1:1080": http.StatusOK}, upstream.URL)
	fwd := New(reg, firstCandidateSelector{}, nil, nil, DefaultConfig(), nil)

	body := io.LimitReader(neverEndingReader{}, maxBufferedBody+1)
	req := httptest.NewRequest(http.MethodPost, "http://example.com/path", body)
	rec := httptest.NewRecorder()
	fwd.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for an oversized body, got %d", rec.Code)
	}
}

type neverEndingReader struct{}

func (neverEndingReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	return len(p), nil
}

// scriptedConn is a minimal net.Conn double that feeds Read from a fixed
// byte slice (returning io.EOF once it is drained, unless readErr is set) and
// records everything written to it. It exists so splice's error-attribution
// logic can be exercised deterministically, without depending on net.Pipe's
// close semantics to produce a particular error at a particular time.
type scriptedConn struct {
	net.Conn

	mu       sync.Mutex
	readBuf  []byte
	readErr  error
	written  []byte
	writeErr error
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.readBuf) > 0 {
		n := copy(p, c.readBuf)
		c.readBuf = c.readBuf[n:]
		return n, nil
	}
	if c.readErr != nil {
		return 0, c.readErr
	}
	return 0, io.EOF
}

func (c *scriptedConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.written = append(c.written, p...)
	return len(p), nil
}

func (c *scriptedConn) Close() error { return nil }

func TestSplice_CopiesBothDirectionsUntilEOF(t *testing.T) {
	client := &scriptedConn{readBuf: []byte("hello")}
	upstream := &scriptedConn{readBuf: []byte("reply")}

	result := splice(client, upstream)

	if result.clientErr != nil || result.upstreamErr != nil {
		t.Fatalf("expected a clean splice, got %+v", result)
	}
	if string(upstream.written) != "hello" {
		t.Fatalf("expected upstream to receive %q, got %q", "hello", upstream.written)
	}
	if string(client.written) != "reply" {
		t.Fatalf("expected client to receive %q, got %q", "reply", client.written)
	}
}

func TestSplice_AttributesAbruptClientDisconnectToClientSide(t *testing.T) {
	client := &scriptedConn{readErr: errors.New("read: connection reset by peer")}
	upstream := &scriptedConn{}

	result := splice(client, upstream)

	if result.clientErr == nil {
		t.Fatalf("expected client disconnect to be attributed to the client side")
	}
	if result.upstreamErr != nil {
		t.Fatalf("expected no upstream-side error, got %v", result.upstreamErr)
	}
}

func TestSplice_AttributesUpstreamFailureToUpstreamSide(t *testing.T) {
	client := &scriptedConn{}
	upstream := &scriptedConn{readErr: errors.New("read: connection reset by peer")}

	result := splice(client, upstream)

	if result.upstreamErr == nil {
		t.Fatalf("expected upstream failure to be attributed to the upstream side")
	}
	if result.clientErr != nil {
		t.Fatalf("expected no client-side error, got %v", result.clientErr)
	}
}
