// internal/poller/poller_test.go
package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	cfg "github.com/tamzrod/opcua-capture/internal/config"
)

type fakeTarget struct {
	fail  bool
	calls atomic.Int32
	block bool
}

func (f *fakeTarget) Probe(ctx context.Context) error {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.fail {
		return errors.New("BadConnectionClosed")
	}
	return nil
}

func static(t Target) func() Target { return func() Target { return t } }

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Interval: time.Second}, static(&fakeTarget{})); err == nil {
		t.Fatalf("expected error for missing name")
	}
	if _, err := New(Config{Name: "k"}, static(&fakeTarget{})); err == nil {
		t.Fatalf("expected error for zero interval")
	}
	if _, err := New(Config{Name: "k", Interval: time.Second}, nil); err == nil {
		t.Fatalf("expected error for nil target")
	}
}

func TestPollOnce_Success(t *testing.T) {
	p, err := New(Config{Name: "k", Interval: time.Second}, static(&fakeTarget{}))
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	res := p.PollOnce(context.Background())
	if !res.Good() {
		t.Fatalf("PollOnce err=%v", res.Err)
	}
	if res.Name != "k" {
		t.Fatalf("name: got=%s", res.Name)
	}
}

func TestPollOnce_Failure(t *testing.T) {
	p, _ := New(Config{Name: "k", Interval: time.Second}, static(&fakeTarget{fail: true}))

	if res := p.PollOnce(context.Background()); res.Good() {
		t.Fatalf("expected failure")
	}
}

func TestPollOnce_NoTarget(t *testing.T) {
	p, _ := New(Config{Name: "k", Interval: time.Second}, func() Target { return nil })

	if res := p.PollOnce(context.Background()); res.Good() {
		t.Fatalf("expected failure without a target")
	}
}

func TestPollOnce_TimeoutBoundsProbe(t *testing.T) {
	p, _ := New(Config{Name: "k", Interval: time.Second, Timeout: 10 * time.Millisecond}, static(&fakeTarget{block: true}))

	res := p.PollOnce(context.Background())
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", res.Err)
	}
}

func TestPollOnce_ResolvesTargetEachTime(t *testing.T) {
	first, second := &fakeTarget{}, &fakeTarget{}
	cur := Target(first)

	p, _ := New(Config{Name: "k", Interval: time.Second}, func() Target { return cur })

	p.PollOnce(context.Background())
	cur = second
	p.PollOnce(context.Background())

	if first.calls.Load() != 1 || second.calls.Load() != 1 {
		t.Fatalf("expected one probe each, got %d/%d", first.calls.Load(), second.calls.Load())
	}
}

func TestRun_EmitsUntilCancelled(t *testing.T) {
	p, _ := New(Config{Name: "k", Interval: 5 * time.Millisecond}, static(&fakeTarget{}))

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan PollResult)
	done := make(chan struct{})
	go func() {
		p.Run(ctx, out)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-out:
		case <-time.After(time.Second):
			t.Fatalf("no poll result")
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestBuild_UsesKeepAliveInterval(t *testing.T) {
	p, err := Build(cfg.SessionConfig{KeepAliveIntervalMs: 250}, static(&fakeTarget{}))
	if err != nil {
		t.Fatalf("Build err=%v", err)
	}
	if p.cfg.Interval != 250*time.Millisecond {
		t.Fatalf("interval: got=%v", p.cfg.Interval)
	}
}

func TestRun_FirstProbeIsImmediate(t *testing.T) {
	p, _ := New(Config{Name: "k", Interval: time.Hour}, static(&fakeTarget{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan PollResult, 1)
	go p.Run(ctx, out)

	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatalf("first probe waited for the interval")
	}
}
