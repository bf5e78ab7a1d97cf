package testfixtures

import (
	"sort"
	"sync"
	"time"

	"github.com/example/safehome/internal/clock"
)

// Clock is a manually advanced clock.Clock. Timers registered through After
// or AfterFunc fire, in deadline order, when Advance moves past them.
type Clock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	current time.Time
	timers  []*manualTimer
	seq     uint64
}

var _ clock.Clock = (*Clock)(nil)

type manualTimer struct {
	clock *Clock
	when  time.Time
	seq   uint64
	fn    func()
}

// NewClock returns a clock initialised to the supplied time. When start is the
// zero value, the shared ReferenceTime is used.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	c := &Clock{current: start}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Now returns the current instant tracked by the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// NowFunc exposes Now as a function suitable for dependency injection.
func (c *Clock) NowFunc() func() time.Time {
	if c == nil {
		return time.Now
	}
	return c.Now
}

// After returns a channel that receives the clock time once d has elapsed.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.schedule(d, func() { ch <- c.Now() })
	return ch
}

// AfterFunc runs f in its own goroutine once d has elapsed.
func (c *Clock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return c.schedule(d, func() { go f() })
}

func (c *Clock) schedule(d time.Duration, fire func()) *manualTimer {
	c.mu.Lock()
	c.seq++
	t := &manualTimer{clock: c, when: c.current.Add(d), seq: c.seq, fn: fire}
	if d <= 0 {
		c.mu.Unlock()
		fire()
		return t
	}
	c.timers = append(c.timers, t)
	c.cond.Broadcast()
	c.mu.Unlock()
	return t
}

// Stop removes the timer if it has not fired yet.
func (t *manualTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, pending := range c.timers {
		if pending == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Advance moves the clock forward by d, fires every timer that became due and
// returns the updated time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current

	var due, pending []*manualTimer
	for _, t := range c.timers {
		if !t.when.After(now) {
			due = append(due, t)
		} else {
			pending = append(pending, t)
		}
	}
	c.timers = pending
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].when.Equal(due[j].when) {
			return due[i].seq < due[j].seq
		}
		return due[i].when.Before(due[j].when)
	})
	for _, t := range due {
		t.fn()
	}
	return now
}

// Set moves the clock to t, firing due timers when t is later than now.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	delta := t.Sub(c.current)
	if delta < 0 {
		c.current = t
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.Advance(delta)
}

// Pending reports the number of timers waiting to fire.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// WaitForTimers blocks until at least n timers are pending or timeout
// elapses in real time. It reports whether the count was reached.
func (c *Clock) WaitForTimers(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	stop := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.timers) < n {
		if !time.Now().Before(deadline) {
			return false
		}
		c.cond.Wait()
	}
	return true
}
