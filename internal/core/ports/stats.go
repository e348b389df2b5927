package ports

import "time"

// UpstreamStats is the per-upstream observability row a StatsCollector
// exposes through Snapshot. Overloads is tracked separately from Failures
// so a 429 never inflates the consecutive-failure signal the registry uses
// to demote an upstream.
type UpstreamStats struct {
	Host  string
	Port  int
	State string

	Requests  uint64
	Successes uint64
	Failures  uint64
	Overloads uint64

	SuccessRate         float64
	ConsecutiveFailures int
	SessionsPooled      int

	LastUsed    time.Time
	LastChecked time.Time
	LastError   string
	RestUntil   time.Time
}

// AggregateStats is the pool-wide rollup alongside the per-upstream rows.
type AggregateStats struct {
	TotalUpstreams       int
	AvailableUpstreams   int
	UnavailableUpstreams int
	RestingUpstreams     int

	TotalRequests  uint64
	TotalSuccesses uint64
	TotalFailures  uint64
	TotalOverloads uint64

	OverallSuccessRate float64
	AverageLatency     time.Duration
	Uptime             time.Duration
}

// StatsSnapshot is the full shape a stats reporter would consume.
type StatsSnapshot struct {
	Aggregate AggregateStats
	Upstreams []UpstreamStats
}

// StatsCollector records request- and connection-level outcomes and exposes
// an aggregate+per-upstream snapshot. Implementations must be safe for
// concurrent use from many goroutines recording outcomes at once.
type StatsCollector interface {
	RecordRequest(host string, port int, success bool, latency time.Duration)
	RecordOverload(host string, port int)
	RecordConnection(host string, port int, delta int)

	Snapshot() StatsSnapshot
}
