// Package points tracks the user's points balance: mutations apply
// optimistically the moment a points event arrives, then an authoritative
// refetch shortly after reconciles any divergence.
package points

import (
	"context"
	"sync"
	"time"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
)

// reconcileDelay is how long after an optimistic apply the authoritative
// refetch fires. Long enough for the backend write to settle, short enough
// that a stale optimistic value is visible only briefly.
const reconcileDelay = 500 * time.Millisecond

// Fetcher returns the authoritative user record; backend.Client satisfies it.
type Fetcher interface {
	CurrentUser(ctx context.Context) (*models.UserInfo, error)
}

// Tracker holds the current balance and its reconciliation timer. A second
// points event before the refetch fires resets the timer, so only the last
// event in a burst pays the refetch.
type Tracker struct {
	fetcher  Fetcher
	onChange func(int)

	mu      sync.Mutex
	balance int
	timer   *time.Timer
	closed  bool
}

// NewTracker returns a tracker seeded with the given balance. onChange fires
// on every balance change, optimistic and authoritative alike; it may be nil.
func NewTracker(initial int, fetcher Fetcher, onChange func(int)) *Tracker {
	return &Tracker{fetcher: fetcher, onChange: onChange, balance: initial}
}

// Balance returns the currently displayed balance.
func (t *Tracker) Balance() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance
}

// Seed replaces the balance with an externally fetched value without
// scheduling a reconcile (login, manual refresh).
func (t *Tracker) Seed(n int) {
	t.mu.Lock()
	changed := t.balance != n
	t.balance = n
	cb := t.onChange
	t.mu.Unlock()
	if changed && cb != nil {
		cb(n)
	}
}

// Apply takes a points event: the event's new balance shows immediately and
// an authoritative refetch is scheduled to reconcile it.
func (t *Tracker) Apply(upd models.PointsUpdate) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	changed := t.balance != upd.NewPoints
	t.balance = upd.NewPoints
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(reconcileDelay, t.reconcile)
	cb := t.onChange
	t.mu.Unlock()

	logger.Debug("points_optimistic_apply", "balance", upd.NewPoints)
	if changed && cb != nil {
		cb(upd.NewPoints)
	}
}

// reconcile refetches the authoritative balance. The fetched value always
// wins, even when it disagrees with the optimistic one.
func (t *Tracker) reconcile() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	u, err := t.fetcher.CurrentUser(ctx)
	if err != nil {
		// the optimistic value stands; the next event reconciles again
		logger.Warn("points_reconcile_failed", "error", err)
		return
	}

	t.mu.Lock()
	changed := t.balance != u.Points
	t.balance = u.Points
	cb := t.onChange
	t.mu.Unlock()
	if changed {
		logger.Info("points_reconciled", "balance", u.Points)
		if cb != nil {
			cb(u.Points)
		}
	}
}

// Close stops any pending reconcile timer.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
