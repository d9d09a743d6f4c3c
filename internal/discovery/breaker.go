package discovery

import (
	"sync"
	"time"
)

// callBreaker is a rolling-window call counter. It trips once more than
// max calls land inside the window, after which callers should serve the
// static fallback instead of hitting the network.
type callBreaker struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	calls  []time.Time
	now    func() time.Time
}

func newCallBreaker(max int, window time.Duration) *callBreaker {
	return &callBreaker{
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// record counts one invocation. It is called once per Discover call,
// before any cache or breaker check.
func (b *callBreaker) record() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune()
	b.calls = append(b.calls, b.now())
}

// tripped reports whether the call budget for the current window is spent.
func (b *callBreaker) tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune()
	return len(b.calls) > b.max
}

// reset clears the window, re-arming the breaker.
func (b *callBreaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// prune drops calls that have aged out of the rolling window.
// Callers must hold b.mu.
func (b *callBreaker) prune() {
	cutoff := b.now().Add(-b.window)
	kept := b.calls[:0]
	for _, t := range b.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.calls = kept
}
