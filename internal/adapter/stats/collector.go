package stats

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/proxypool/proxypool/internal/core/domain"
	"github.com/proxypool/proxypool/internal/core/ports"
)

// upstreamStats holds the mutable per-upstream counters the Collector
// tracks independently of the registry's own bookkeeping - the registry
// is the source of truth for lifecycle state, the Collector is the
// source of truth for the observability rollup (latency, aggregate rates).
type upstreamStats struct {
	requests  atomic.Uint64
	successes atomic.Uint64
	failures  atomic.Uint64
	overloads atomic.Uint64

	totalLatencyNs atomic.Int64

	mu          sync.Mutex
	lastUsed    time.Time
	lastChecked time.Time
	lastError   string
}

// Collector implements ports.StatsCollector, recording request outcomes
// and overloads per upstream and exposing an aggregate + per-upstream
// snapshot. Connection-count deltas are accepted but not recorded.
//
// Grounded on the teacher's atomic-counter + sync.Map stats Collector,
// trimmed of its rate-limit/security-violation tracking (client
// authentication is out of scope here) and extended with an Overloads
// counter kept independent of Failures, per the 429-handling design note.
type Collector struct {
	registry registryView

	startedAt time.Time

	endpoints sync.Map // key -> *upstreamStats

	totalRequests  atomic.Uint64
	totalSuccesses atomic.Uint64
	totalFailures  atomic.Uint64
	totalOverloads atomic.Uint64
}

// registryView is the subset of the registry the Collector needs to render
// per-upstream state labels, aggregate state counts, and (via Get) each
// upstream's current session-pool depth.
type registryView interface {
	SnapshotAll() []domain.Snapshot
	Get(host string, port int) *domain.Upstream
}

func New(registry registryView) *Collector {
	return &Collector{registry: registry, startedAt: time.Now()}
}

func statsKey(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}

func (c *Collector) getOrInit(host string, port int) *upstreamStats {
	key := statsKey(host, port)
	if v, ok := c.endpoints.Load(key); ok {
		return v.(*upstreamStats)
	}
	s := &upstreamStats{}
	actual, _ := c.endpoints.LoadOrStore(key, s)
	return actual.(*upstreamStats)
}

func (c *Collector) RecordRequest(host string, port int, success bool, latency time.Duration) {
	s := c.getOrInit(host, port)
	s.requests.Add(1)
	c.totalRequests.Add(1)

	if latency > 0 {
		s.totalLatencyNs.Add(int64(latency))
	}

	s.mu.Lock()
	s.lastUsed = time.Now()
	if !success {
		s.lastError = "request failed"
	} else {
		s.lastError = ""
	}
	s.mu.Unlock()

	if success {
		s.successes.Add(1)
		c.totalSuccesses.Add(1)
	} else {
		s.failures.Add(1)
		c.totalFailures.Add(1)
	}
}

// RecordOverload counts a 429 as both an overload and a request - it is
// never a failure - matching MarkOverloaded's own counter order
// (registry.RequestCount++ before registry.OverloadCount++), so Snapshot's
// SuccessRate and TotalRequests agree with the registry's RequestCount
// instead of undercounting every overloaded upstream.
func (c *Collector) RecordOverload(host string, port int) {
	s := c.getOrInit(host, port)
	s.requests.Add(1)
	c.totalRequests.Add(1)
	s.overloads.Add(1)
	c.totalOverloads.Add(1)
}

// RecordConnection is retained for parity with the Observability interface
// named in the spec's external-interfaces table; this implementation has
// no separate open-connection gauge to adjust since CONNECT tunnels are
// already accounted for through RecordRequest's success/failure outcome.
func (c *Collector) RecordConnection(host string, port int, delta int) {}

func (c *Collector) Snapshot() ports.StatsSnapshot {
	var snaps []domain.Snapshot
	if c.registry != nil {
		snaps = c.registry.SnapshotAll()
	}

	rows := make([]ports.UpstreamStats, 0, len(snaps))
	var agg ports.AggregateStats
	var totalLatency time.Duration
	var latencySamples uint64

	for _, snap := range snaps {
		s := c.getOrInit(snap.Host, snap.Port)
		requests := s.requests.Load()
		successes := s.successes.Load()
		failures := s.failures.Load()
		overloads := s.overloads.Load()

		var rate float64
		if requests > 0 {
			rate = float64(successes) / float64(requests)
		}

		s.mu.Lock()
		lastUsed := s.lastUsed
		lastChecked := s.lastChecked
		lastError := s.lastError
		s.mu.Unlock()

		sessionsPooled := 0
		if c.registry != nil {
			if u := c.registry.Get(snap.Host, snap.Port); u != nil && u.Sessions != nil {
				sessionsPooled = u.Sessions.Len()
			}
		}

		rows = append(rows, ports.UpstreamStats{
			Host:                snap.Host,
			Port:                snap.Port,
			State:               snap.State.String(),
			Requests:            requests,
			Successes:           successes,
			Failures:            failures,
			Overloads:           overloads,
			SuccessRate:         rate,
			ConsecutiveFailures: snap.ConsecutiveFailures,
			SessionsPooled:      sessionsPooled,
			LastUsed:            lastUsed,
			LastChecked:         lastChecked,
			LastError:           lastError,
			RestUntil:           snap.RestUntil,
		})

		agg.TotalUpstreams++
		switch snap.State {
		case domain.StateAvailable:
			agg.AvailableUpstreams++
		case domain.StateUnavailable:
			agg.UnavailableUpstreams++
		case domain.StateResting:
			agg.RestingUpstreams++
		}

		if ns := s.totalLatencyNs.Load(); ns > 0 && requests > 0 {
			totalLatency += time.Duration(ns)
			latencySamples += requests
		}
	}

	agg.TotalRequests = c.totalRequests.Load()
	agg.TotalSuccesses = c.totalSuccesses.Load()
	agg.TotalFailures = c.totalFailures.Load()
	agg.TotalOverloads = c.totalOverloads.Load()
	agg.Uptime = time.Since(c.startedAt)
	if agg.TotalRequests > 0 {
		agg.OverallSuccessRate = float64(agg.TotalSuccesses) / float64(agg.TotalRequests) * 100
	}
	if latencySamples > 0 {
		agg.AverageLatency = totalLatency / time.Duration(latencySamples)
	}

	return ports.StatsSnapshot{Aggregate: agg, Upstreams: rows}
}
