package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/proxypool/proxypool/internal/core/domain"
)

// Registry is the subset of domain.UpstreamRegistry the prober needs.
type Registry interface {
	SnapshotAll() []domain.Snapshot
	MarkAvailable(host string, port int)
	MarkUnavailable(host string, port int, reason string)
	ExpireRests(now time.Time) int
}

// SchedulerConfig tunes the two probing cadences.
type SchedulerConfig struct {
	// CheckInterval is the full-probe cadence applied to every known
	// upstream regardless of current state.
	CheckInterval time.Duration
	// RestCheckInterval is the lighter cadence that only promotes expired
	// Resting upstreams back to Available, without re-probing them.
	RestCheckInterval time.Duration
	// Workers bounds how many probes run concurrently.
	Workers int
}

func DefaultSchedulerConfig() SchedulerConfig {
	interval := 30 * time.Second
	return SchedulerConfig{
		CheckInterval:     interval,
		RestCheckInterval: restCadence(interval),
		Workers:           4,
	}
}

// restCadence derives the rest-expiry cadence from the full-check interval,
// per spec: max(5s, interval/6).
func restCadence(checkInterval time.Duration) time.Duration {
	derived := checkInterval / 6
	if derived < 5*time.Second {
		return 5 * time.Second
	}
	return derived
}

// Scheduler drives SOCKS5Checker.Probe against every known upstream on one
// ticker, and promotes rest-expired upstreams on a second, faster ticker.
// Grounded on the teacher's ticker-driven scheduler/worker-pool split
// between a scheduling loop and a bounded pool of probe workers.
type Scheduler struct {
	registry Registry
	checker  domain.HealthChecker
	cfg      SchedulerConfig
	log      *slog.Logger

	jobs chan domain.Snapshot
	wg   sync.WaitGroup

	stop chan struct{}
}

func NewScheduler(registry Registry, checker domain.HealthChecker, cfg SchedulerConfig, log *slog.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		registry: registry,
		checker:  checker,
		cfg:      cfg,
		log:      log,
		jobs:     make(chan domain.Snapshot, cfg.Workers*2),
		stop:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	checkTicker := time.NewTicker(s.cfg.CheckInterval)
	defer checkTicker.Stop()
	restTicker := time.NewTicker(s.cfg.RestCheckInterval)
	defer restTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(s.jobs)
			return
		case <-s.stop:
			close(s.jobs)
			return
		case <-checkTicker.C:
			s.scheduleFullCheck()
		case <-restTicker.C:
			promoted := s.registry.ExpireRests(time.Now())
			if promoted > 0 {
				s.log.Debug("promoted resting upstreams", "count", promoted)
			}
		}
	}
}

func (s *Scheduler) scheduleFullCheck() {
	for _, snap := range s.registry.SnapshotAll() {
		select {
		case s.jobs <- snap:
		default:
			s.log.Warn("probe queue full, dropping scheduled check", "host", snap.Host, "port", snap.Port)
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for snap := range s.jobs {
		result := s.checker.Probe(ctx, snap.Host, snap.Port)
		s.applyProbeResult(snap, result)
	}
}

// applyProbeResult implements the scheduled full-check pass's transition
// table exactly: Available demotes to Unavailable on a failed probe,
// Unavailable promotes to Available on a passed probe, and Resting records
// are left untouched regardless of probe outcome - their overload
// semantics are independent of network-liveness probing and are only
// cleared by rest expiry or an observed non-429 success on the request
// path.
func (s *Scheduler) applyProbeResult(snap domain.Snapshot, result domain.ProbeResult) {
	switch snap.State {
	case domain.StateResting:
		return
	case domain.StateAvailable:
		if !result.Healthy {
			s.registry.MarkUnavailable(snap.Host, snap.Port, probeFailureReason(result))
		}
	case domain.StateUnavailable:
		if result.Healthy {
			s.registry.MarkAvailable(snap.Host, snap.Port)
		}
	}
}

func probeFailureReason(result domain.ProbeResult) string {
	if result.Err != nil {
		return result.Err.Error()
	}
	return "probe failed"
}

// ForceCheck probes a single upstream synchronously, outside the scheduled
// cadence - used by an operator-triggered recheck. Unlike the scheduled
// pass, this always applies the probe outcome regardless of current state,
// since an operator asking for an immediate recheck is explicitly opting
// out of the Resting-is-untouched rule.
func (s *Scheduler) ForceCheck(ctx context.Context, host string, port int) domain.ProbeResult {
	result := s.checker.Probe(ctx, host, port)
	if result.Healthy {
		s.registry.MarkAvailable(host, port)
	} else {
		s.registry.MarkUnavailable(host, port, probeFailureReason(result))
	}
	return result
}
