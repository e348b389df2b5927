package balancer

import (
	"fmt"

	"github.com/proxypool/proxypool/internal/core/domain"
)

// New constructs the selector named by algorithm ("round_robin" or
// "random"). Only these two are supported - spec Non-goals explicitly
// exclude weighted, least-connections and priority scheduling.
func New(algorithm string) (domain.UpstreamSelector, error) {
	switch algorithm {
	case "", "round_robin":
		return NewRoundRobinSelector(), nil
	case "random":
		return NewRandomSelector(), nil
	default:
		return nil, fmt.Errorf("balancer: unknown algorithm %q", algorithm)
	}
}
