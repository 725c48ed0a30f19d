package gateway

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/promptclash/go/internal/clock"
)

// DefaultDebounceWindow coalesces rapid prompt edits.
const DefaultDebounceWindow = 200 * time.Millisecond

// Debouncer rate-limits work per key. The first call in a quiet period runs
// immediately; later calls inside the window replace each other, and the
// last one runs when the window closes. The last value is never lost.
type Debouncer struct {
	clock  clock.Clock
	window time.Duration

	mu      sync.Mutex
	windows map[string]*debounceWindow
}

type debounceWindow struct {
	timer   clockwork.Timer
	pending func()
}

// NewDebouncer creates a debouncer.
func NewDebouncer(c clock.Clock, window time.Duration) *Debouncer {
	if c == nil {
		c = clock.Real()
	}
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Debouncer{clock: c, window: window, windows: make(map[string]*debounceWindow)}
}

// Do runs fn now or at the end of key's current window.
func (d *Debouncer) Do(key string, fn func()) {
	d.mu.Lock()
	if w, open := d.windows[key]; open {
		w.pending = fn
		d.mu.Unlock()
		return
	}
	d.open(key)
	d.mu.Unlock()

	fn()
}

// open starts a window for key. Callers hold d.mu.
func (d *Debouncer) open(key string) {
	w := &debounceWindow{}
	w.timer = d.clock.AfterFunc(d.window, func() { d.close(key, w) })
	d.windows[key] = w
}

// close runs the pending call, if any, and keeps the key rate limited for
// one more window after it.
func (d *Debouncer) close(key string, w *debounceWindow) {
	d.mu.Lock()
	if d.windows[key] != w {
		d.mu.Unlock()
		return
	}
	fn := w.pending
	delete(d.windows, key)
	if fn != nil {
		d.open(key)
	}
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Flush runs every pending call immediately.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	var pending []func()
	for key, w := range d.windows {
		w.timer.Stop()
		if w.pending != nil {
			pending = append(pending, w.pending)
		}
		delete(d.windows, key)
	}
	d.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

// Pending returns the number of open windows.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.windows)
}
