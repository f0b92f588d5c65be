package frame

import (
	"context"
	"time"
)

// Pacer bounds how long a send pump runs before it must cooperatively
// yield: at least once per FastBudget (fast mode) or NormalBudget
// (otherwise).
type Pacer struct {
	budget time.Duration
	until  time.Time
}

func NewPacer(fast bool) *Pacer {
	p := &Pacer{budget: PumpBudget(fast)}
	p.Reset()
	return p
}

// Reset starts a fresh budget window.
func (p *Pacer) Reset() {
	p.until = time.Now().Add(p.budget)
}

// Expired reports whether the current budget window has elapsed.
func (p *Pacer) Expired() bool {
	return time.Now().After(p.until)
}

// Yield cooperatively suspends the caller until the next scheduling
// opportunity, honoring ctx cancellation. It then resets the budget.
func (p *Pacer) Yield(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	// A zero-duration timer still forces a scheduler hand-off without
	// adding latency.
	t := time.NewTimer(0)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	p.Reset()
	return nil
}
