// Package gate implements the fetch counter that governs whether a new
// measurement launch is permitted. The stored value has three semantic
// modes: 0 halts all launches, a positive n permits n further launches, and
// -1 permits unlimited launches. The gate is owned by the scheduler loop and
// carries no locking.
package gate

import "errors"

// ErrClosed is returned by ConsumeOne when the counter is at 0. Callers
// check MayLaunch first, so hitting this indicates a logic defect rather
// than a normal runtime condition.
var ErrClosed = errors.New("fetch gate is closed")

// Endless is the canonical stored value for unlimited launches. Any value
// below it is clamped to it on Set.
const Endless = -1

// Gate is the tri-mode launch-permission counter.
type Gate struct {
	counter int
}

// New returns a gate with the given initial counter, clamped like Set.
func New(initial int) *Gate {
	g := &Gate{}
	g.Set(initial)
	return g
}

// Get returns the stored counter value.
func (g *Gate) Get() int {
	return g.counter
}

// Set stores a new counter value, clamping anything below -1 to -1, and
// returns the effective stored value so clients see the clamp.
func (g *Gate) Set(value int) int {
	if value < Endless {
		value = Endless
	}
	g.counter = value
	return g.counter
}

// MayLaunch reports whether a launch is currently permitted.
func (g *Gate) MayLaunch() bool {
	return g.counter != 0
}

// ConsumeOne accounts for one successful launch: a positive counter is
// decremented by one, the endless value is left unchanged, and a zero
// counter fails without mutating state.
func (g *Gate) ConsumeOne() error {
	switch {
	case g.counter > 0:
		g.counter--
	case g.counter == 0:
		return ErrClosed
	}
	return nil
}
