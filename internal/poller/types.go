// internal/poller/types.go
package poller

import (
	"context"
	"time"
)

// Target is anything that can answer one health probe.
type Target interface {
	Probe(ctx context.Context) error
}

// PollResult is the outcome of one probe.
type PollResult struct {
	Name    string
	At      time.Time
	Latency time.Duration
	Err     error // nil means the target reported good
}

// Good reports whether the probe succeeded.
func (r PollResult) Good() bool { return r.Err == nil }
