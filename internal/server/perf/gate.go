package perf

import (
	"time"

	"github.com/openjproxy/ojp/internal/server/slots"
)

// Gate wraps every server-side query execution: classify, take the right
// slot, run, record the measured duration, release. The release runs on
// every exit path. With segregation disabled the gate degrades to a
// pass-through that still records timings.
type Gate struct {
	monitor   *Monitor
	scheduler *slots.Scheduler
	enabled   bool

	slowWait time.Duration
	fastWait time.Duration

	now func() time.Time
}

type GateConfig struct {
	Enabled  bool
	SlowWait time.Duration
	FastWait time.Duration
}

func NewGate(monitor *Monitor, scheduler *slots.Scheduler, cfg GateConfig) *Gate {
	return &Gate{
		monitor:   monitor,
		scheduler: scheduler,
		enabled:   cfg.Enabled,
		slowWait:  cfg.SlowWait,
		fastWait:  cfg.FastWait,
		now:       time.Now,
	}
}

// Execute gates fn behind the slot scheduler. The timing sample is recorded
// whether fn succeeds or fails; a failing statement is still load.
func (g *Gate) Execute(hash QueryHash, fn func() error) error {
	if !g.enabled {
		return g.timed(hash, fn)
	}

	if g.monitor.IsSlow(hash) {
		if err := g.scheduler.AcquireSlow(g.slowWait); err != nil {
			return err
		}
		defer g.scheduler.ReleaseSlow()
	} else {
		if err := g.scheduler.AcquireFast(g.fastWait); err != nil {
			return err
		}
		defer g.scheduler.ReleaseFast()
	}

	return g.timed(hash, fn)
}

func (g *Gate) timed(hash QueryHash, fn func() error) error {
	start := g.now()
	err := fn()
	elapsed := g.now().Sub(start)
	g.monitor.Record(hash, float64(elapsed.Nanoseconds())/1e6)
	return err
}

// SetNowFunc overrides the clock; tests only.
func (g *Gate) SetNowFunc(now func() time.Time) {
	g.now = now
}
