package domain

import "context"

// UpstreamRegistry owns the authoritative set of upstream records and the
// transitions between their lifecycle states. All mutation methods are
// safe for concurrent use and never block on network I/O.
type UpstreamRegistry interface {
	// SnapshotAvailable returns a point-in-time copy of every upstream
	// currently in StateAvailable, safe to hand to a Selector.
	SnapshotAvailable() []Snapshot

	// SnapshotAll returns a point-in-time copy of every upstream regardless
	// of state, for observability and reconciliation.
	SnapshotAll() []Snapshot

	// Get returns the live record for host:port, or nil if unknown.
	Get(host string, port int) *Upstream

	// MarkSuccess records a successful forwarded request against an upstream.
	MarkSuccess(host string, port int)

	// MarkFailure records a failed forwarded request, applying the
	// configured consecutive-failure threshold for Available -> Unavailable.
	MarkFailure(host string, port int, reason string)

	// MarkOverloaded records a 429 response and moves the upstream into
	// StateResting with an exponentially increasing rest duration.
	MarkOverloaded(host string, port int)

	// MarkAvailable promotes an upstream back to StateAvailable after a
	// successful probe.
	MarkAvailable(host string, port int)

	// MarkUnavailable forces an upstream into StateUnavailable, bypassing
	// the consecutive-failure threshold (used by the prober on hard probe
	// failures).
	MarkUnavailable(host string, port int, reason string)

	// Reconcile replaces the configured set of upstreams with cfg, adding
	// new entries, removing ones no longer configured, and leaving the
	// runtime state of unchanged entries untouched.
	Reconcile(ctx context.Context, cfg []UpstreamConfig) error

	// Len returns the total number of known upstreams.
	Len() int
}

// UpstreamConfig is the declarative shape of one upstream entry as loaded
// from configuration, before it becomes a live Upstream record.
type UpstreamConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}
