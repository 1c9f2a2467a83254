package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow counts events per key over a trailing window.
// Unlike TokenBucket it keeps the individual timestamps, so a key admits
// at most limit events in any window-long interval.
type SlidingWindow struct {
	windows sync.Map
	now     func() time.Time
}

// windowState represents the state for a sliding window.
// A deleted state has been unlinked by Cleanup and must not record events.
type windowState struct {
	requests []time.Time
	deleted  bool
	mu       sync.Mutex
}

// NewSlidingWindow creates an empty sliding-window counter.
func NewSlidingWindow() *SlidingWindow {
	return NewSlidingWindowWithClock(time.Now)
}

// NewSlidingWindowWithClock creates a counter that reads time from now.
func NewSlidingWindowWithClock(now func() time.Time) *SlidingWindow {
	if now == nil {
		now = time.Now
	}
	return &SlidingWindow{now: now}
}

// Allow prunes entries older than window for key, denies if limit entries remain,
// and otherwise records the event and allows it.
func (w *SlidingWindow) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return false
	}
	now := w.now()
	ws := w.lockWindowState(key)
	defer ws.mu.Unlock()

	ws.requests = pruneBefore(ws.requests, now.Add(-window))
	if len(ws.requests) >= limit {
		return false
	}
	ws.requests = append(ws.requests, now)
	return true
}

// Count returns the number of events recorded for key inside window.
func (w *SlidingWindow) Count(key string, window time.Duration) int {
	value, ok := w.windows.Load(key)
	if !ok {
		return 0
	}
	ws := value.(*windowState)
	cutoff := w.now().Add(-window)

	ws.mu.Lock()
	defer ws.mu.Unlock()

	count := 0
	for _, t := range ws.requests {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

// Cleanup drops keys whose newest event is older than maxAge.
//
// Returns:
//   - int: Number of keys removed
func (w *SlidingWindow) Cleanup(maxAge time.Duration) int {
	cutoff := w.now().Add(-maxAge)
	removed := 0
	w.windows.Range(func(key, value interface{}) bool {
		ws := value.(*windowState)
		ws.mu.Lock()
		ws.requests = pruneBefore(ws.requests, cutoff)
		if len(ws.requests) == 0 && !ws.deleted {
			ws.deleted = true
			w.windows.CompareAndDelete(key, ws)
			removed++
		}
		ws.mu.Unlock()
		return true
	})
	return removed
}

// Size returns the number of tracked keys.
func (w *SlidingWindow) Size() int {
	n := 0
	w.windows.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// lockWindowState returns the live window state for key with its lock held,
// creating it when absent. A state Cleanup removed in the meantime is skipped.
func (w *SlidingWindow) lockWindowState(key string) *windowState {
	for {
		value, _ := w.windows.LoadOrStore(key, &windowState{
			requests: make([]time.Time, 0),
		})
		ws := value.(*windowState)
		ws.mu.Lock()
		if !ws.deleted {
			return ws
		}
		ws.mu.Unlock()
	}
}

// pruneBefore drops timestamps at or before cutoff. Timestamps are appended in
// order, so the first one after cutoff marks the start of the live range.
func pruneBefore(requests []time.Time, cutoff time.Time) []time.Time {
	for i, t := range requests {
		if t.After(cutoff) {
			return requests[i:]
		}
	}
	return requests[:0]
}
