package notify

import "sync/atomic"

// RefreshGuard is the "refresh underway" flag a notification consumer sets
// while it re-queries the model, so that notifications caused by the
// re-query are ignored instead of recursing.
//
//	if !guard.Enter() {
//		return
//	}
//	defer guard.Release()
type RefreshGuard struct {
	active atomic.Bool
}

// Enter sets the flag and reports whether the caller acquired it. A false
// result means a refresh is already underway.
func (g *RefreshGuard) Enter() bool {
	return g.active.CompareAndSwap(false, true)
}

// Release clears the flag.
func (g *RefreshGuard) Release() {
	g.active.Store(false)
}

// Active reports whether a refresh is underway.
func (g *RefreshGuard) Active() bool {
	return g.active.Load()
}

// Run calls fn while holding the guard and reports whether fn ran.
func (g *RefreshGuard) Run(fn func()) bool {
	if !g.Enter() {
		return false
	}
	defer g.Release()
	fn()
	return true
}
