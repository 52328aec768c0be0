// Package invalidation coalesces bursts of aggregate invalidations into a
// single delayed refetch trigger. Every component that wants a derived
// value refreshed goes through the one Debouncer instance; nothing else in
// the engine owns a debounce timer.
package invalidation

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zapidan/newsletter-hub-sub004/internal/querykey"
)

// DefaultWindow is the debounce window used when the config supplies none.
const DefaultWindow = 500 * time.Millisecond

// Debouncer schedules trailing-edge debounced invalidations per key. A
// burst of RequestInvalidate calls for the same key inside the window
// produces exactly one callback, fired once the burst goes quiet. Keys
// debounce independently of each other.
type Debouncer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]*pendingFire
	seq     uint64
	fire    func(querykey.Key)
	logger  *zap.Logger
	closed  bool
}

// pendingFire is one armed timer. gen ties the timer's callback to the
// map entry it armed, so a callback that lost the race against a re-arm
// cannot touch the successor's entry.
type pendingFire struct {
	timer *time.Timer
	gen   uint64
}

// NewDebouncer creates a debouncer that invokes fire after the window
// elapses with no further request for that key. fire runs on a timer
// goroutine and must not block.
func NewDebouncer(window time.Duration, fire func(querykey.Key), logger *zap.Logger) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingFire),
		fire:    fire,
		logger:  logger.Named("invalidation"),
	}
}

// RequestInvalidate schedules an invalidation of key. Calling again before
// the window elapses re-arms the timer, so the invalidation fires once,
// after the last call of the burst.
func (d *Debouncer) RequestInvalidate(key querykey.Key) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}

	canonical := key.String()
	if p, ok := d.pending[canonical]; ok {
		p.timer.Stop()
	}
	d.seq++
	gen := d.seq
	timer := time.AfterFunc(d.window, func() {
		d.mu.Lock()
		cur, ok := d.pending[canonical]
		if d.closed || !ok || cur.gen != gen {
			// A re-arm replaced this timer between its firing and this
			// lock; the replacement owns the key now.
			d.mu.Unlock()
			return
		}
		delete(d.pending, canonical)
		d.mu.Unlock()

		d.logger.Debug("debounced invalidation firing", zap.String("key", canonical))
		d.fire(key)
	})
	d.pending[canonical] = &pendingFire{timer: timer, gen: gen}
}

// Flush fires every pending invalidation immediately. Used on shutdown
// when delayed work would otherwise be dropped.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	keys := make([]querykey.Key, 0, len(d.pending))
	for canonical, p := range d.pending {
		// A timer that already fired delivers through its own callback;
		// removing its entry here would swallow that delivery.
		if p.timer.Stop() {
			keys = append(keys, querykey.Parse(canonical))
			delete(d.pending, canonical)
		}
	}
	d.mu.Unlock()

	for _, key := range keys {
		d.fire(key)
	}
}

// Close cancels every pending timer. No callback fires after Close
// returns; the cancel-on-dispose contract for views that unmount.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for canonical, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, canonical)
	}
}

// Pending returns how many keys currently await their window. Exposed for
// the debug endpoint and tests.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
