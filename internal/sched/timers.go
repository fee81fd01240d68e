package sched

import (
	"sync"
	"time"
)

// Timers is a registry of cancellable one-shot timers keyed by id.
// Scheduling an id that already has a pending timer replaces it. A fired
// callback must still re-validate its condition against the owning
// component; timers here are only triggers, never the source of truth.
type Timers struct {
	mu      sync.Mutex
	pending map[string]*entry
	gen     uint64
	stopped bool
}

type entry struct {
	timer *time.Timer
	gen   uint64
}

func New() *Timers {
	return &Timers{pending: make(map[string]*entry)}
}

// Schedule arms fn to run after d. Any pending timer under the same id is
// cancelled first. A timer superseded by a later Schedule, a Cancel, or
// Stop never runs its callback, even if it already expired.
func (t *Timers) Schedule(id string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if old, ok := t.pending[id]; ok {
		old.timer.Stop()
	}
	t.gen++
	gen := t.gen
	e := &entry{gen: gen}
	e.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		cur, ok := t.pending[id]
		if !ok || cur.gen != gen || t.stopped {
			t.mu.Unlock()
			return
		}
		delete(t.pending, id)
		t.mu.Unlock()
		fn()
	})
	t.pending[id] = e
}

// Cancel revokes the pending timer for id, if any. Safe to call after the
// timer fired.
func (t *Timers) Cancel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.pending[id]; ok {
		e.timer.Stop()
		delete(t.pending, id)
	}
}

// Pending reports whether a timer is still armed for id.
func (t *Timers) Pending(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	return ok
}

// Stop cancels every pending timer and rejects further scheduling.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for id, e := range t.pending {
		e.timer.Stop()
		delete(t.pending, id)
	}
}
