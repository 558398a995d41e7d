// Package perf tracks per-query rolling latencies and classifies queries as
// slow relative to the overall average, driving the slot scheduler.
package perf

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// QueryHash identifies a query shape. Hashing the raw SQL is enough here;
// parameter values never enter the hash.
type QueryHash = uint64

func HashQuery(sql string) QueryHash {
	return xxhash.Sum64String(sql)
}

// Monitor keeps one rolling average per query hash plus the overall
// average across tracked hashes. The overall average is recomputed
// immediately for an unseen hash, and otherwise at most once per interval.
type Monitor struct {
	mu sync.Mutex

	averages map[QueryHash]float64
	overall  float64

	interval         time.Duration
	lastGlobalUpdate time.Time

	now func() time.Time
}

// NewMonitor creates a monitor. interval == 0 recomputes the overall
// average on every sample.
func NewMonitor(interval time.Duration) *Monitor {
	return &Monitor{
		averages: make(map[QueryHash]float64),
		interval: interval,
		now:      time.Now,
	}
}

// Record folds one measured duration (in milliseconds) into the hash's
// rolling average: avg' = (avg*4 + sample) / 5. An unseen hash is recorded
// immediately and forces a recompute of the overall average. Samples for a
// known hash are only folded in once per interval; the ones in between are
// dropped, which keeps the hot execution path off the global accounting.
func (m *Monitor) Record(hash QueryHash, sampleMillis float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	avg, known := m.averages[hash]
	if !known {
		m.averages[hash] = sampleMillis
		m.recomputeOverallLocked(now)
		return
	}

	if m.interval == 0 || now.Sub(m.lastGlobalUpdate) >= m.interval {
		m.averages[hash] = (avg*4 + sampleMillis) / 5
		m.recomputeOverallLocked(now)
	}
}

func (m *Monitor) recomputeOverallLocked(now time.Time) {
	if len(m.averages) == 0 {
		m.overall = 0
	} else {
		var sum float64
		for _, avg := range m.averages {
			sum += avg
		}
		m.overall = sum / float64(len(m.averages))
	}
	m.lastGlobalUpdate = now
}

// Average returns the rolling average for a hash.
func (m *Monitor) Average(hash QueryHash) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	avg, ok := m.averages[hash]
	return avg, ok
}

// OverallAverage returns the last computed overall average.
func (m *Monitor) OverallAverage() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overall
}

// TrackedCount returns how many distinct hashes are tracked.
func (m *Monitor) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.averages)
}

// IsSlow reports whether the hash's rolling average is at least twice the
// overall average. Unseen hashes are never slow.
func (m *Monitor) IsSlow(hash QueryHash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	avg, known := m.averages[hash]
	return known && m.overall > 0 && avg >= 2*m.overall
}

// Clear resets all counters and the interval timer.
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.averages = make(map[QueryHash]float64)
	m.overall = 0
	m.lastGlobalUpdate = time.Time{}
}

// SetNowFunc overrides the clock; tests only.
func (m *Monitor) SetNowFunc(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
