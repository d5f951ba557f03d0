package hotspot

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// WindowPolicy selects exactly one eviction strategy for the sliding window.
// MaxAge evicts events older than the latest event timestamp seen (not wall
// clock, so replay and backfill behave identically to live ingestion).
// MaxCount keeps the most recently appended N events, FIFO.
type WindowPolicy struct {
	MaxAge   time.Duration
	MaxCount int
}

// Window is the bounded, time-ordered store of live events. Single writer
// (the engine's ingestion path); Snapshot is safe to call concurrently with
// Append.
type Window struct {
	mu      sync.Mutex
	policy  WindowPolicy
	entries []Event // insertion order
	ids     map[string]struct{}
	latest  time.Time
}

// NewWindow validates the policy and returns an empty window.
func NewWindow(policy WindowPolicy) (*Window, error) {
	if policy.MaxAge > 0 && policy.MaxCount > 0 {
		return nil, fmt.Errorf("%w: window policy must set max_age or max_count, not both", ErrInvalidParameter)
	}
	if policy.MaxAge <= 0 && policy.MaxCount <= 0 {
		return nil, fmt.Errorf("%w: window policy requires max_age or max_count", ErrInvalidParameter)
	}
	return &Window{
		policy: policy,
		ids:    make(map[string]struct{}),
	}, nil
}

// Append inserts one event and applies the eviction policy, returning the
// evicted events so callers can release or log them. An event whose id is
// already live is rejected with ErrDuplicateEvent; at-least-once transports
// redeliver, and silently double-counting a crash would corrupt every
// downstream statistic.
func (w *Window) Append(ev Event) ([]Event, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.ids[ev.ID]; ok {
		return nil, fmt.Errorf("%w: id %s already in window", ErrDuplicateEvent, ev.ID)
	}

	w.entries = append(w.entries, ev)
	w.ids[ev.ID] = struct{}{}
	if ev.Timestamp.After(w.latest) {
		w.latest = ev.Timestamp
	}

	return w.evictLocked(), nil
}

// evictLocked applies the configured policy and returns evicted events in
// their original insertion order.
func (w *Window) evictLocked() []Event {
	var evicted []Event

	if w.policy.MaxCount > 0 {
		for len(w.entries) > w.policy.MaxCount {
			ev := w.entries[0]
			w.entries = w.entries[1:]
			delete(w.ids, ev.ID)
			evicted = append(evicted, ev)
		}
		return evicted
	}

	// Age policy: an event arriving older than the retention horizon is
	// accepted and immediately evicted here, which is the documented
	// out-of-order behavior.
	kept := w.entries[:0]
	for _, ev := range w.entries {
		if w.latest.Sub(ev.Timestamp) > w.policy.MaxAge {
			delete(w.ids, ev.ID)
			evicted = append(evicted, ev)
			continue
		}
		kept = append(kept, ev)
	}
	w.entries = kept
	return evicted
}

// Snapshot returns a copy of the live events sorted by timestamp ascending,
// with arrival order preserved for equal timestamps. The copy never aliases
// the window's internal slice.
func (w *Window) Snapshot() []Event {
	w.mu.Lock()
	snap := make([]Event, len(w.entries))
	copy(snap, w.entries)
	w.mu.Unlock()

	sort.SliceStable(snap, func(i, j int) bool {
		return snap[i].Timestamp.Before(snap[j].Timestamp)
	})
	return snap
}

// Len returns the number of live events.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Reset clears the window. Used at engine shutdown or explicit reset only.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = nil
	w.ids = make(map[string]struct{})
	w.latest = time.Time{}
}
