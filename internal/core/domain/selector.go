package domain

// UpstreamSelector picks one upstream out of a candidate set. Implementations
// must be safe for concurrent use; they hold no reference to the registry
// and operate purely over the snapshot passed to Select.
type UpstreamSelector interface {
	// Select returns one candidate from available, or a *SelectionError if
	// available is empty.
	Select(available []Snapshot) (Snapshot, error)

	// Name identifies the algorithm, used in logs and the selection error.
	Name() string
}
