package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/proxypool/proxypool/internal/core/domain"
)

// Config tunes the lifecycle thresholds the registry applies when recording
// outcomes. Values come from the loaded configuration snapshot.
type Config struct {
	// FailureThreshold is the number of consecutive failures that demotes
	// an Available upstream to Unavailable.
	FailureThreshold int

	// RestBaseDuration is the base used in the exponential backoff formula
	// rest_until = now + RestBaseDuration * 2^(overload_count-1).
	RestBaseDuration time.Duration

	// RestMaxDuration caps the computed exponential backoff. A zero value
	// means uncapped.
	RestMaxDuration time.Duration

	// SessionPoolSize bounds how many warm HTTP clients are kept per
	// upstream; passed as the size argument to newSessionPool in Reconcile.
	SessionPoolSize int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		RestBaseDuration: 5 * time.Second,
		RestMaxDuration:  5 * time.Minute,
		SessionPoolSize:  5,
	}
}

// MemoryRegistry is the in-process implementation of domain.UpstreamRegistry.
// Identity-to-record mapping lives in a lock-free xsync.Map; each record's
// own fields are guarded by its own domain.Upstream.Mu so that mutating one
// upstream never contends with reads of another, and the top-level map is
// never held across network I/O.
//
// Grounded on the copy-on-read caching shape of a static endpoint
// repository, generalised from two overlapping sets (healthy/routable) to
// three disjoint lifecycle states.
type MemoryRegistry struct {
	cfg     Config
	records *xsync.Map[string, *domain.Upstream]

	newSessionPool func(host string, port int, username, password string, size int) domain.SessionPool
}

// New builds a registry whose upstreams are equipped with a session pool
// via newSessionPool, called once per upstream on Reconcile.
func New(cfg Config, newSessionPool func(host string, port int, username, password string, size int) domain.SessionPool) *MemoryRegistry {
	return &MemoryRegistry{
		cfg:            cfg,
		records:        xsync.NewMap[string, *domain.Upstream](),
		newSessionPool: newSessionPool,
	}
}

// NewSimple builds a registry whose upstreams carry a nil session pool,
// suitable for tests or callers that wire pooling separately.
func NewSimple(cfg Config) *MemoryRegistry {
	return &MemoryRegistry{
		cfg:     cfg,
		records: xsync.NewMap[string, *domain.Upstream](),
	}
}

func key(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

func (r *MemoryRegistry) Get(host string, port int) *domain.Upstream {
	u, _ := r.records.Load(key(host, port))
	return u
}

func (r *MemoryRegistry) Len() int {
	return r.records.Size()
}

func (r *MemoryRegistry) SnapshotAvailable() []domain.Snapshot {
	out := make([]domain.Snapshot, 0, r.records.Size())
	r.records.Range(func(_ string, u *domain.Upstream) bool {
		s := u.Snapshot()
		if s.State == domain.StateAvailable {
			out = append(out, s)
		}
		return true
	})
	return out
}

func (r *MemoryRegistry) SnapshotAll() []domain.Snapshot {
	out := make([]domain.Snapshot, 0, r.records.Size())
	r.records.Range(func(_ string, u *domain.Upstream) bool {
		out = append(out, u.Snapshot())
		return true
	})
	return out
}

// MarkSuccess records an observed non-429 success. It always zeroes both
// failure and overload counters - a success is evidence the upstream is
// live and uncongested - and promotes a Resting or Unavailable record back
// to Available, since the caller only reaches this path by having already
// completed a request against it.
func (r *MemoryRegistry) MarkSuccess(host string, port int) {
	u := r.Get(host, port)
	if u == nil {
		return
	}
	u.Mu.Lock()
	defer u.Mu.Unlock()
	u.RequestCount++
	u.SuccessCount++
	u.ConsecutiveFailures = 0
	u.OverloadCount = 0
	u.LastUsed = time.Now()
	u.LastError = ""
	if u.State == domain.StateResting || u.State == domain.StateUnavailable {
		u.State = domain.StateAvailable
	}
}

func (r *MemoryRegistry) MarkFailure(host string, port int, reason string) {
	u := r.Get(host, port)
	if u == nil {
		return
	}
	u.Mu.Lock()
	defer u.Mu.Unlock()
	u.RequestCount++
	u.FailureCount++
	u.ConsecutiveFailures++
	u.LastUsed = time.Now()
	u.LastError = reason

	if u.State == domain.StateAvailable && u.ConsecutiveFailures >= r.cfg.FailureThreshold {
		u.State = domain.StateUnavailable
	}
}

func (r *MemoryRegistry) MarkOverloaded(host string, port int) {
	u := r.Get(host, port)
	if u == nil {
		return
	}
	u.Mu.Lock()
	defer u.Mu.Unlock()
	u.RequestCount++
	u.OverloadCount++
	u.LastUsed = time.Now()

	rest := r.cfg.RestBaseDuration * time.Duration(1<<uint(u.OverloadCount-1))
	if r.cfg.RestMaxDuration > 0 && rest > r.cfg.RestMaxDuration {
		rest = r.cfg.RestMaxDuration
	}
	u.State = domain.StateResting
	u.RestUntil = time.Now().Add(rest)
}

func (r *MemoryRegistry) MarkAvailable(host string, port int) {
	u := r.Get(host, port)
	if u == nil {
		return
	}
	u.Mu.Lock()
	defer u.Mu.Unlock()
	u.State = domain.StateAvailable
	u.ConsecutiveFailures = 0
	u.LastChecked = time.Now()
	u.LastError = ""
}

func (r *MemoryRegistry) MarkUnavailable(host string, port int, reason string) {
	u := r.Get(host, port)
	if u == nil {
		return
	}
	u.Mu.Lock()
	defer u.Mu.Unlock()
	u.State = domain.StateUnavailable
	u.LastChecked = time.Now()
	u.LastError = reason
}

// ExpireRests promotes every Resting upstream whose RestUntil has elapsed
// back to Available, without re-probing. Called by the health prober's
// second cadence.
func (r *MemoryRegistry) ExpireRests(now time.Time) int {
	promoted := 0
	r.records.Range(func(_ string, u *domain.Upstream) bool {
		u.Mu.Lock()
		if u.State == domain.StateResting && !u.RestUntil.IsZero() && !now.Before(u.RestUntil) {
			u.State = domain.StateAvailable
			u.ConsecutiveFailures = 0
			promoted++
		}
		u.Mu.Unlock()
		return true
	})
	return promoted
}

// Reconcile adds newly configured upstreams and removes ones no longer
// present in cfg, leaving the runtime state of unchanged entries untouched.
func (r *MemoryRegistry) Reconcile(ctx context.Context, cfg []domain.UpstreamConfig) error {
	wanted := make(map[string]domain.UpstreamConfig, len(cfg))
	for _, c := range cfg {
		wanted[key(c.Host, c.Port)] = c
	}

	for k, c := range wanted {
		if _, exists := r.records.Load(k); !exists {
			u := &domain.Upstream{
				Host:     c.Host,
				Port:     c.Port,
				Username: c.Username,
				Password: c.Password,
				State:    domain.StateAvailable,
			}
			if r.newSessionPool != nil {
				u.Sessions = r.newSessionPool(c.Host, c.Port, c.Username, c.Password, r.cfg.SessionPoolSize)
			}
			r.records.Store(k, u)
		}
	}

	r.records.Range(func(k string, u *domain.Upstream) bool {
		if _, ok := wanted[k]; !ok {
			if u.Sessions != nil {
				u.Sessions.Close()
			}
			r.records.Delete(k)
		}
		return true
	})

	return nil
}
