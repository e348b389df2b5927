package balancer

import (
	"math/rand/v2"

	"github.com/proxypool/proxypool/internal/core/domain"
)

// RandomSelector picks a uniformly random candidate from the available set
// on every call. Grounded on the Python original's AlgorithmFactory random
// strategy - no weighting, no session affinity.
type RandomSelector struct{}

func NewRandomSelector() *RandomSelector {
	return &RandomSelector{}
}

func (s *RandomSelector) Name() string {
	return "random"
}

func (s *RandomSelector) Select(available []domain.Snapshot) (domain.Snapshot, error) {
	if len(available) == 0 {
		return domain.Snapshot{}, domain.NewSelectionError(s.Name(), "no available upstreams")
	}
	return available[rand.IntN(len(available))], nil
}
