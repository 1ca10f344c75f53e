package automation

import "sync"

// History is the append-only log of every ActionResult an executor has
// produced, in execution order.
//
// It is safe for concurrent use; executors sharing a History append under
// its lock. By default it grows without bound. WithLimit installs a rotation
// policy that drops the oldest results.
type History struct {
	mu      sync.RWMutex
	results []ActionResult
	limit   int
}

// HistoryOption configures a History.
type HistoryOption func(*History)

// WithLimit keeps only the most recent n results. n <= 0 means unbounded.
func WithLimit(n int) HistoryOption {
	return func(h *History) {
		if n > 0 {
			h.limit = n
		}
	}
}

// NewHistory creates an empty history.
func NewHistory(opts ...HistoryOption) *History {
	h := &History{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Append adds r to the end of the history. It never fails.
func (h *History) Append(r ActionResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.results = append(h.results, r)
	if h.limit > 0 && len(h.results) > h.limit {
		// Copy down so the dropped prefix can be collected.
		n := copy(h.results, h.results[len(h.results)-h.limit:])
		clear(h.results[n:])
		h.results = h.results[:n]
	}
}

// All returns the full ordered history. The slice is a copy; modifying it
// does not affect the history.
func (h *History) All() []ActionResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]ActionResult(nil), h.results...)
}

// Last returns up to n of the most recent results, oldest first.
func (h *History) Last(n int) []ActionResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	start := max(len(h.results)-n, 0)
	return append([]ActionResult(nil), h.results[start:]...)
}

// Failed returns up to n of the most recent failed results, oldest first.
// n <= 0 returns every failure.
func (h *History) Failed(n int) []ActionResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var failed []ActionResult
	for i := len(h.results) - 1; i >= 0; i-- {
		if !h.results[i].Success {
			failed = append(failed, h.results[i])
			if n > 0 && len(failed) == n {
				break
			}
		}
	}
	for i, j := 0, len(failed)-1; i < j; i, j = i+1, j-1 {
		failed[i], failed[j] = failed[j], failed[i]
	}
	return failed
}

// Len returns the number of results held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.results)
}

// Limit returns the configured bound, 0 when unbounded.
func (h *History) Limit() int {
	return h.limit
}

// Summary aggregates every result currently held.
func (h *History) Summary() Summary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Summarise(h.results)
}

// Clear empties the history.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = nil
}
