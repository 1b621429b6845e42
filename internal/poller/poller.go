// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"time"
)

// Config is the minimal runtime config the poller needs.
type Config struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration // per probe; 0 means Interval
}

// Poller is a dumb, clock-driven prober.
// The target is resolved on every tick, so a swapped handle is picked up
// without restarting the poller.
type Poller struct {
	cfg    Config
	target func() Target
	now    func() time.Time
}

// New creates a poller with immutable config.
func New(cfg Config, target func() Target) (*Poller, error) {
	if cfg.Name == "" {
		return nil, errors.New("poller: name required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if target == nil {
		return nil, errors.New("poller: target required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	return &Poller{cfg: cfg, target: target, now: time.Now}, nil
}

// PollOnce performs exactly one probe.
func (p *Poller) PollOnce(ctx context.Context) PollResult {
	res := PollResult{
		Name: p.cfg.Name,
		At:   p.now(),
	}

	t := p.target()
	if t == nil {
		res.Err = errors.New("poller: no target")
		return res
	}

	pctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	res.Err = t.Probe(pctx)
	res.Latency = p.now().Sub(res.At)
	return res
}
