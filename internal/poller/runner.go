// internal/poller/runner.go
package poller

import (
	"context"
	"time"
)

// Run probes once immediately, then on every tick, and emits each result on
// out. Probes never overlap; a slow consumer delays the next tick.
func (p *Poller) Run(ctx context.Context, out chan<- PollResult) {
	emit := func() bool {
		res := p.PollOnce(ctx)
		select {
		case out <- res:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit() {
		return
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !emit() {
				return
			}
		}
	}
}
