package progress

import (
	"sync"
	"time"
)

// debouncer coalesces bursts of updates into a single callback per key.
// Scheduling a key that already has a pending timer cancels and
// reschedules it, so only the last event in a burst fires.
type debouncer struct {
	window time.Duration
	fire   func(key string)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func newDebouncer(window time.Duration, fire func(key string)) *debouncer {
	return &debouncer{
		window: window,
		fire:   fire,
		timers: make(map[string]*time.Timer),
	}
}

// Schedule arms (or re-arms) the timer for key.
func (d *debouncer) Schedule(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()
		d.fire(key)
	})
}

// Cancel drops any pending timer for key without firing it.
func (d *debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
}

// Stop cancels every pending timer.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
}
