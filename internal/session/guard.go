package session

import "sync/atomic"

// AutoStartGuard lets exactly one caller per session win the auto-start race.
// It moves from unfired to fired at most once and never resets.
type AutoStartGuard struct {
	fired atomic.Bool
}

// TryAcquire fires the guard and reports whether this call did so.
// Concurrent callers see exactly one true.
func (g *AutoStartGuard) TryAcquire() bool {
	return g.fired.CompareAndSwap(false, true)
}

// Fired reports whether the guard has been acquired.
func (g *AutoStartGuard) Fired() bool {
	return g.fired.Load()
}
