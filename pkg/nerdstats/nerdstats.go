package nerdstats

import (
	"runtime"
	"time"
)

// NerdStats is the subset of Go runtime statistics the shutdown banner
// reports: heap usage, allocation churn, and goroutine/CPU counts for the
// lifetime of one proxy process.
//
// See https://pkg.go.dev/runtime#MemStats for the underlying fields.
type NerdStats struct {
	HeapAlloc    uint64
	HeapSys      uint64
	HeapInuse    uint64
	HeapReleased uint64
	TotalAlloc   uint64
	Mallocs      uint64
	Frees        uint64

	NumGoroutines int

	NumCPU     int
	GOMAXPROCS int
	GoVersion  string
	Uptime     time.Duration
}

// Snapshot captures runtime.MemStats and goroutine/CPU counts relative to
// startTime. Called on shutdown, after a runtime.GC() so heap figures
// reflect live objects rather than garbage still awaiting collection.
func Snapshot(startTime time.Time) *NerdStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &NerdStats{
		HeapAlloc:    m.HeapAlloc,
		HeapSys:      m.HeapSys,
		HeapInuse:    m.HeapInuse,
		HeapReleased: m.HeapReleased,
		TotalAlloc:   m.TotalAlloc,
		Mallocs:      m.Mallocs,
		Frees:        m.Frees,

		NumGoroutines: runtime.NumGoroutine(),

		NumCPU:     runtime.NumCPU(),
		GOMAXPROCS: runtime.GOMAXPROCS(0),
		GoVersion:  runtime.Version(),
		Uptime:     time.Since(startTime),
	}
}
