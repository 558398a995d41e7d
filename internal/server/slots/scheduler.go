// Package slots gates concurrent query execution per datasource through a
// fast/slow slot pool. Slow queries draw from a small reserved share so a
// burst of heavy statements cannot starve cheap ones; an idle side can be
// borrowed from, which keeps the pool fully usable under a one-sided load.
package slots

import (
	"time"

	"github.com/openjproxy/ojp/internal/core/domain"
)

const (
	DefaultSlowPercentage = 20
	DefaultIdleTimeout    = 50 * time.Millisecond
)

type Config struct {
	Enabled        bool
	TotalSlots     int
	SlowPercentage int
	IdleTimeout    time.Duration
}

type class int

const (
	classSlow class = iota
	classFast
)

// Scheduler is one slot pool. All counters are guarded by a single mutex;
// waiters block on a broadcast channel that is replaced on every release.
type Scheduler struct {
	mu     chanMutex
	waitCh chan struct{}

	enabled     bool
	total       int
	slow        int
	fast        int
	idleTimeout time.Duration

	activeSlow int
	activeFast int
	// borrowedFastToSlow counts slow-class operations currently occupying a
	// fast slot, and vice versa. Releases pay the borrowed account first.
	borrowedFastToSlow int
	borrowedSlowToFast int

	// last activity in nanos; zero means the side was never touched, which
	// disallows borrowing from it.
	slowLastActivity int64
	fastLastActivity int64

	now func() time.Time
}

// chanMutex is a channel-based mutex so acquisition can race a timeout.
type chanMutex chan struct{}

func (m chanMutex) lock()   { m <- struct{}{} }
func (m chanMutex) unlock() { <-m }

func NewScheduler(cfg Config) *Scheduler {
	total := cfg.TotalSlots
	if total < 0 {
		total = 0
	}
	pct := cfg.SlowPercentage
	if pct <= 0 || pct > 100 {
		pct = DefaultSlowPercentage
	}
	slow := total * pct / 100
	// At least one slow slot whenever the pool exists at all.
	if slow < 1 && total >= 1 {
		slow = 1
	}
	if slow > total {
		slow = total
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}

	return &Scheduler{
		mu:          make(chanMutex, 1),
		waitCh:      make(chan struct{}),
		enabled:     cfg.Enabled && total > 0,
		total:       total,
		slow:        slow,
		fast:        total - slow,
		idleTimeout: idle,
		now:         time.Now,
	}
}

// AcquireSlow blocks up to wait for a slow-class slot. On timeout the
// counters are untouched and a typed error is returned.
func (s *Scheduler) AcquireSlow(wait time.Duration) error {
	return s.acquire(classSlow, wait)
}

// AcquireFast blocks up to wait for a fast-class slot.
func (s *Scheduler) AcquireFast(wait time.Duration) error {
	return s.acquire(classFast, wait)
}

func (s *Scheduler) acquire(c class, wait time.Duration) error {
	if !s.enabled {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	deadline := timer.C

	for {
		s.mu.lock()
		if s.tryAcquireLocked(c) {
			s.mu.unlock()
			return nil
		}
		waitCh := s.waitCh
		s.mu.unlock()

		select {
		case <-waitCh:
			// A release happened; retry.
		case <-deadline:
			// One last attempt before reporting timeout, so a release that
			// raced the timer is not wasted.
			s.mu.lock()
			ok := s.tryAcquireLocked(c)
			s.mu.unlock()
			if ok {
				return nil
			}
			return domain.NewErrorf(domain.KindSlotTimeout,
				"timed out after %s waiting for a %s slot", wait, c.name())
		}
	}
}

func (c class) name() string {
	if c == classSlow {
		return "slow"
	}
	return "fast"
}

func (s *Scheduler) tryAcquireLocked(c class) bool {
	now := s.now().UnixNano()
	switch c {
	case classSlow:
		if s.activeSlow+s.borrowedSlowToFast < s.slow {
			s.activeSlow++
			s.slowLastActivity = now
			return true
		}
		if s.canBorrowLocked(classFast, now) {
			s.borrowedFastToSlow++
			s.slowLastActivity = now
			return true
		}
	case classFast:
		if s.activeFast+s.borrowedFastToSlow < s.fast {
			s.activeFast++
			s.fastLastActivity = now
			return true
		}
		if s.canBorrowLocked(classSlow, now) {
			s.borrowedSlowToFast++
			s.fastLastActivity = now
			return true
		}
	}
	return false
}

// canBorrowLocked reports whether the opposite side can lend a slot: it
// must have been touched at least once, be idle past the idle timeout, and
// have free capacity.
func (s *Scheduler) canBorrowLocked(lender class, now int64) bool {
	switch lender {
	case classFast:
		return s.fastLastActivity != 0 &&
			now-s.fastLastActivity >= s.idleTimeout.Nanoseconds() &&
			s.activeFast+s.borrowedFastToSlow < s.fast
	default:
		return s.slowLastActivity != 0 &&
			now-s.slowLastActivity >= s.idleTimeout.Nanoseconds() &&
			s.activeSlow+s.borrowedSlowToFast < s.slow
	}
}

// ReleaseSlow returns a slow-class slot. The borrowed account is paid back
// first (LIFO), then the native counter.
func (s *Scheduler) ReleaseSlow() {
	if !s.enabled {
		return
	}
	s.mu.lock()
	if s.borrowedFastToSlow > 0 {
		s.borrowedFastToSlow--
	} else if s.activeSlow > 0 {
		s.activeSlow--
	}
	s.slowLastActivity = s.now().UnixNano()
	s.signalLocked()
	s.mu.unlock()
}

// ReleaseFast returns a fast-class slot.
func (s *Scheduler) ReleaseFast() {
	if !s.enabled {
		return
	}
	s.mu.lock()
	if s.borrowedSlowToFast > 0 {
		s.borrowedSlowToFast--
	} else if s.activeFast > 0 {
		s.activeFast--
	}
	s.fastLastActivity = s.now().UnixNano()
	s.signalLocked()
	s.mu.unlock()
}

func (s *Scheduler) signalLocked() {
	close(s.waitCh)
	s.waitCh = make(chan struct{})
}

// Stats is a consistent snapshot of the accountant state.
type Stats struct {
	Total              int
	Slow               int
	Fast               int
	ActiveSlow         int
	ActiveFast         int
	BorrowedFastToSlow int
	BorrowedSlowToFast int
	Enabled            bool
}

func (s *Scheduler) Stats() Stats {
	s.mu.lock()
	defer s.mu.unlock()
	return Stats{
		Total:              s.total,
		Slow:               s.slow,
		Fast:               s.fast,
		ActiveSlow:         s.activeSlow,
		ActiveFast:         s.activeFast,
		BorrowedFastToSlow: s.borrowedFastToSlow,
		BorrowedSlowToFast: s.borrowedSlowToFast,
		Enabled:            s.enabled,
	}
}

// SetNowFunc overrides the clock; tests only.
func (s *Scheduler) SetNowFunc(now func() time.Time) {
	s.now = now
}
