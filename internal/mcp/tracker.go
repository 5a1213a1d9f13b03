package mcp

import (
	"sync"
	"time"
)

// frontierTracker records recent tot_request_samples calls so
// handleSubmitSamples can detect a caller that submits candidates without
// looking at the frontier first, and nudge them.
//
// Entries are keyed by run id and expire after window. The tracker is
// in-memory and per-process; the nudge is advisory, never a gate.
type frontierTracker struct {
	mu       sync.Mutex
	requests map[string]time.Time
	window   time.Duration
	now      func() time.Time
}

func newFrontierTracker(window time.Duration) *frontierTracker {
	return &frontierTracker{
		requests: make(map[string]time.Time),
		window:   window,
		now:      time.Now,
	}
}

// Record notes that the frontier of runID was just requested.
func (t *frontierTracker) Record(runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests[runID] = t.now()

	// Lazy cleanup keeps many short-lived runs from growing the map forever.
	if len(t.requests) > 1000 {
		t.purgeStale()
	}
}

// WasRequested reports whether the frontier of runID was requested within
// the window.
func (t *frontierTracker) WasRequested(runID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.requests[runID]
	if !ok {
		return false
	}
	if t.now().Sub(ts) > t.window {
		delete(t.requests, runID)
		return false
	}
	return true
}

// Forget drops runID, e.g. after the run is deleted.
func (t *frontierTracker) Forget(runID string) {
	t.mu.Lock()
	delete(t.requests, runID)
	t.mu.Unlock()
}

// purgeStale removes entries older than the window. Must be called with mu held.
func (t *frontierTracker) purgeStale() {
	now := t.now()
	for k, ts := range t.requests {
		if now.Sub(ts) > t.window {
			delete(t.requests, k)
		}
	}
}
