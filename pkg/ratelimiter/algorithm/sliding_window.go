package algorithm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidConfiguration is returned when a limiter is built with a
// non-positive capacity or window.
var ErrInvalidConfiguration = errors.New("invalid rate limiter configuration")

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed bool
	// Count is the number of admitted actions inside the window after the decision.
	Count int
	// RetryAt is the instant the oldest live timestamp leaves the window.
	RetryAt time.Time
}

type history struct {
	mu      sync.Mutex
	stamps  []time.Time
	evicted bool
}

// prune drops every timestamp at or before cutoff. The window is (cutoff, now].
func (h *history) prune(cutoff time.Time) {
	valid := h.stamps[:0]
	for _, t := range h.stamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	// clear the tail so dropped entries don't pin the backing array
	for i := len(valid); i < len(h.stamps); i++ {
		h.stamps[i] = time.Time{}
	}
	h.stamps = valid
}

func (h *history) oldest() time.Time {
	var first time.Time
	for i, t := range h.stamps {
		if i == 0 || t.Before(first) {
			first = t
		}
	}
	return first
}

// SlidingWindow bounds how many actions an identity may perform inside a
// trailing window of fixed length.
//
// Every identity owns its own lock, so unrelated identities never wait on each
// other; the identity map lock is only held to look up or insert an entry.
type SlidingWindow[K comparable] struct {
	capacity int
	window   time.Duration

	mu      sync.RWMutex
	entries map[K]*history
}

// NewSlidingWindow creates a SlidingWindow admitting at most capacity actions
// per identity in any window of the given length.
func NewSlidingWindow[K comparable](capacity int, window time.Duration) (*SlidingWindow[K], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfiguration, capacity)
	}
	if window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive, got %s", ErrInvalidConfiguration, window)
	}
	return &SlidingWindow[K]{
		capacity: capacity,
		window:   window,
		entries:  make(map[K]*history),
	}, nil
}

func (w *SlidingWindow[K]) Capacity() int {
	return w.capacity
}

func (w *SlidingWindow[K]) Window() time.Duration {
	return w.window
}

// TryAcquire records an action for id at now and reports whether it was admitted.
// A denied call records nothing.
func (w *SlidingWindow[K]) TryAcquire(id K, now time.Time) bool {
	return w.Acquire(id, now).Allowed
}

// Acquire is TryAcquire returning the full decision.
func (w *SlidingWindow[K]) Acquire(id K, now time.Time) Decision {
	cutoff := now.Add(-w.window)
	for {
		h := w.lookup(id)
		h.mu.Lock()
		if h.evicted {
			// lost a race with Sweep, the entry is no longer in the map
			h.mu.Unlock()
			continue
		}

		h.prune(cutoff)
		if len(h.stamps) >= w.capacity {
			d := Decision{
				Allowed: false,
				Count:   len(h.stamps),
				RetryAt: h.oldest().Add(w.window),
			}
			h.mu.Unlock()
			return d
		}

		h.stamps = append(h.stamps, now)
		d := Decision{
			Allowed: true,
			Count:   len(h.stamps),
			RetryAt: h.oldest().Add(w.window),
		}
		h.mu.Unlock()
		return d
	}
}

func (w *SlidingWindow[K]) lookup(id K) *history {
	w.mu.RLock()
	h, ok := w.entries[id]
	w.mu.RUnlock()
	if ok {
		return h
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if h, ok = w.entries[id]; !ok {
		h = &history{}
		w.entries[id] = h
	}
	return h
}

// Sweep prunes every identity against now and evicts the ones left without
// live timestamps. It returns the number of evicted identities.
func (w *SlidingWindow[K]) Sweep(now time.Time) int {
	cutoff := now.Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()

	evicted := 0
	for id, h := range w.entries {
		h.mu.Lock()
		h.prune(cutoff)
		if len(h.stamps) == 0 {
			h.evicted = true
			delete(w.entries, id)
			evicted++
		}
		h.mu.Unlock()
	}
	return evicted
}

// RunJanitor calls Sweep every interval until ctx is done.
func (w *SlidingWindow[K]) RunJanitor(ctx context.Context, interval time.Duration, now func() time.Time) {
	if interval <= 0 {
		interval = w.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(now())
		}
	}
}

// Forget drops all recorded actions of id.
func (w *SlidingWindow[K]) Forget(id K) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if h, ok := w.entries[id]; ok {
		h.mu.Lock()
		h.evicted = true
		h.mu.Unlock()
		delete(w.entries, id)
	}
}

// Reset drops the history of every identity.
func (w *SlidingWindow[K]) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, h := range w.entries {
		h.mu.Lock()
		h.evicted = true
		h.mu.Unlock()
		delete(w.entries, id)
	}
}

// Len returns the number of tracked identities.
func (w *SlidingWindow[K]) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}
