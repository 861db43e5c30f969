package gateway

import (
	"sync"

	"github.com/dshills/chronicle/internal/errs"
)

// Tracker is the byte budget of one request kind. It only decreases.
type Tracker struct {
	mu    sync.Mutex
	kind  Kind
	limit int
	used  int
	calls int
}

// NewTracker returns a tracker allowing limit bytes.
func NewTracker(kind Kind, limit int) *Tracker {
	if limit < 0 {
		limit = 0
	}
	return &Tracker{kind: kind, limit: limit}
}

// Spend runs serve while holding the tracker, so concurrent calls of the same
// kind see a consistent remaining count. serve receives the remaining bytes
// and returns how many it consumed; consumption above the remaining budget is
// a programming error and is capped. When nothing remains at entry, serve is
// not called and the error has code errs.CodeBudgetExhausted.
func (t *Tracker) Spend(serve func(remaining int) (int, error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	remaining := t.limit - t.used
	if remaining <= 0 {
		return errs.BudgetExhausted(string(t.kind))
	}
	n, err := serve(remaining)
	if n > remaining {
		n = remaining
	}
	if n > 0 {
		t.used += n
	}
	if err == nil {
		t.calls++
	}
	return err
}

// Usage is a point-in-time view of a tracker.
type Usage struct {
	Kind      Kind `json:"kind"`
	Limit     int  `json:"limit"`
	Used      int  `json:"used"`
	Remaining int  `json:"remaining"`
	Calls     int  `json:"calls"`
}

// Usage reports the tracker's current state.
func (t *Tracker) Usage() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Usage{
		Kind:      t.kind,
		Limit:     t.limit,
		Used:      t.used,
		Remaining: t.limit - t.used,
		Calls:     t.calls,
	}
}

// Remaining returns the bytes left.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limit - t.used
}
