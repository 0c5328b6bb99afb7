package interaction

import (
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// Debouncer coalesces a burst of views into one call carrying the latest,
// made once delay has passed without a newer Trigger.
type Debouncer struct {
	clock clock.Clock
	delay time.Duration
	fn    func(View)

	mu      sync.Mutex
	pending *View
	gen     uint64
	stop    chan struct{}
	stopped bool
}

// NewDebouncer creates a debouncer calling fn. A non-positive delay calls fn
// synchronously from Trigger.
func NewDebouncer(c clock.Clock, delay time.Duration, fn func(View)) *Debouncer {
	if c == nil {
		c = clock.NewClock()
	}
	return &Debouncer{clock: c, delay: delay, fn: fn}
}

// Trigger schedules v, replacing anything still pending.
func (d *Debouncer) Trigger(v View) {
	if d.delay <= 0 {
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			d.fn(v)
		}
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.cancelTimerLocked()
	d.pending = &v
	d.gen++

	gen := d.gen
	stop := make(chan struct{})
	d.stop = stop
	timer := d.clock.NewTimer(d.delay)

	go func() {
		select {
		case <-timer.C():
			d.fire(gen)
		case <-stop:
			timer.Stop()
		}
	}()
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.pending == nil {
		d.mu.Unlock()
		return
	}
	v := *d.pending
	d.pending = nil
	d.stop = nil
	d.mu.Unlock()

	d.fn(v)
}

// Flush delivers the pending view now, if there is one.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.pending == nil {
		d.mu.Unlock()
		return
	}
	v := *d.pending
	d.pending = nil
	d.gen++
	d.cancelTimerLocked()
	d.mu.Unlock()

	d.fn(v)
}

// Pending reports whether a view is waiting for the timer.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Stop drops anything pending. Later Triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = nil
	d.gen++
	d.cancelTimerLocked()
}

func (d *Debouncer) cancelTimerLocked() {
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
}
