package session

import (
	"sync"
	"time"

	"github.com/kailas-cloud/discovery/internal/domain"
)

// debouncer coalesces rapid preference changes into a single write: each
// Schedule restarts the timer, so only the value that settles for the full
// delay is persisted. Stop cancels any pending write for good.
type debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	save    func(domain.LocationPreference)
	timer   *time.Timer
	pending *domain.LocationPreference
	stopped bool
}

func newDebouncer(delay time.Duration, save func(domain.LocationPreference)) *debouncer {
	return &debouncer{delay: delay, save: save}
}

// Schedule records pref as the value to persist and restarts the timer.
func (d *debouncer) Schedule(pref domain.LocationPreference) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	p := pref.Clone()
	d.pending = &p
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *debouncer) fire() {
	d.mu.Lock()
	if d.stopped || d.pending == nil {
		d.mu.Unlock()
		return
	}
	p := *d.pending
	d.pending = nil
	d.mu.Unlock()

	d.save(p)
}

// Stop cancels the timer and discards any pending write.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
	}
}
