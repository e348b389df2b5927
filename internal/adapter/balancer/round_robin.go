package balancer

import (
	"sync/atomic"

	"github.com/proxypool/proxypool/internal/core/domain"
)

// RoundRobinSelector cycles through the candidate set with a single
// monotonic atomic cursor, shared across every call to Select. Grounded on
// the teacher's atomic-cursor round robin selector, generalised from
// endpoint routability filtering to the caller passing an already-filtered
// (Available-only) snapshot slice.
type RoundRobinSelector struct {
	cursor atomic.Uint64
}

func NewRoundRobinSelector() *RoundRobinSelector {
	return &RoundRobinSelector{}
}

func (s *RoundRobinSelector) Name() string {
	return "round_robin"
}

func (s *RoundRobinSelector) Select(available []domain.Snapshot) (domain.Snapshot, error) {
	if len(available) == 0 {
		return domain.Snapshot{}, domain.NewSelectionError(s.Name(), "no available upstreams")
	}
	idx := s.cursor.Add(1) % uint64(len(available))
	return available[idx], nil
}
