package invalidation

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapidan/newsletter-hub-sub004/internal/querykey"
)

// recorder collects fired keys so tests can assert on coalescing.
type recorder struct {
	mu    sync.Mutex
	fired []string
}

func (r *recorder) fire(k querykey.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, k.String())
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func TestDebouncer_CoalescesBurst(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(30*time.Millisecond, rec.fire, nil)
	defer d.Close()

	key := querykey.UnreadCounts()
	for i := 0; i < 10; i++ {
		d.RequestInvalidate(key)
	}

	// Nothing fires before the window elapses.
	assert.Equal(t, 0, rec.count())

	require.Eventually(t, func() bool { return rec.count() == 1 },
		time.Second, 5*time.Millisecond)

	// And nothing more afterwards.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestDebouncer_SpacedCallsFireEach(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(10*time.Millisecond, rec.fire, nil)
	defer d.Close()

	key := querykey.UnreadCounts()
	for i := 0; i < 3; i++ {
		d.RequestInvalidate(key)
		time.Sleep(30 * time.Millisecond)
	}

	assert.Equal(t, 3, rec.count())
}

func TestDebouncer_KeysDebounceIndependently(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(20*time.Millisecond, rec.fire, nil)
	defer d.Close()

	d.RequestInvalidate(querykey.UnreadCounts())
	d.RequestInvalidate(querykey.SourceList())

	require.Eventually(t, func() bool { return rec.count() == 2 },
		time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.ElementsMatch(t,
		[]string{querykey.UnreadCounts().String(), querykey.SourceList().String()},
		rec.fired)
}

func TestDebouncer_SupersededTimerLeavesSuccessorArmed(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(20*time.Millisecond, rec.fire, nil)
	defer d.Close()

	key := querykey.UnreadCounts()
	d.RequestInvalidate(key)

	// Replace the armed entry the way a re-arm that loses the race with
	// the timer's expiry would: the old timer still goes off, but its
	// callback no longer owns the key and must neither fire nor remove
	// the replacement.
	d.mu.Lock()
	d.seq++
	d.pending[key.String()] = &pendingFire{
		timer: time.AfterFunc(time.Hour, func() {}),
		gen:   d.seq,
	}
	d.mu.Unlock()

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 0, rec.count(), "superseded timer must not fire")
	assert.Equal(t, 1, d.Pending(), "replacement stays armed")
}

func TestDebouncer_CloseCancelsPending(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(20*time.Millisecond, rec.fire, nil)

	d.RequestInvalidate(querykey.UnreadCounts())
	require.Equal(t, 1, d.Pending())
	d.Close()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count(), "no callback after Close")
	assert.Equal(t, 0, d.Pending())

	// Requests after Close are dropped silently.
	d.RequestInvalidate(querykey.UnreadCounts())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, rec.count())
}

func TestDebouncer_FlushFiresImmediately(t *testing.T) {
	rec := &recorder{}
	d := NewDebouncer(time.Hour, rec.fire, nil)
	defer d.Close()

	d.RequestInvalidate(querykey.UnreadCounts())
	d.RequestInvalidate(querykey.SourceList())
	d.Flush()

	assert.Equal(t, 2, rec.count())
	assert.Equal(t, 0, d.Pending())
}
