package pipeline

import (
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
)

type keyCounters struct {
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// KeyStats is a point-in-time copy of the counters of one key.
type KeyStats struct {
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

// Stats counts delivery outcomes per key name.
type Stats struct {
	keys    *xsync.MapOf[string, *keyCounters]
	dropped atomic.Uint64
}

func newStats() *Stats {
	return &Stats{
		keys: xsync.NewMapOf[string, *keyCounters](),
	}
}

func (s *Stats) key(name string) *keyCounters {
	c, _ := s.keys.LoadOrCompute(name, func() *keyCounters {
		return &keyCounters{}
	})
	return c
}

func (s *Stats) delivered(name string) {
	s.key(name).delivered.Inc()
}

func (s *Stats) failed(name string) {
	s.key(name).failed.Inc()
}

func (s *Stats) drop() {
	s.dropped.Inc()
}

// Dropped returns the number of commands discarded during shutdown.
func (s *Stats) Dropped() uint64 {
	return s.dropped.Load()
}

// Snapshot copies the per-key counters.
func (s *Stats) Snapshot() map[string]KeyStats {
	snapshot := make(map[string]KeyStats, s.keys.Size())
	s.keys.Range(func(name string, c *keyCounters) bool {
		snapshot[name] = KeyStats{
			Delivered: c.delivered.Load(),
			Failed:    c.failed.Load(),
		}
		return true
	})
	return snapshot
}

// Totals sums the per-key counters.
func (s *Stats) Totals() KeyStats {
	var total KeyStats
	for _, ks := range s.Snapshot() {
		total.Delivered += ks.Delivered
		total.Failed += ks.Failed
	}
	return total
}
