// Package runner drives one capture run: startup phases, the wait for a
// stop condition and shutdown. Run returns a *RunError tagged with the phase
// that failed; the process boundary maps it to an exit code.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/opcua-capture/internal/config"
	"github.com/tamzrod/opcua-capture/internal/metrics"
	"github.com/tamzrod/opcua-capture/internal/pointset"
	"github.com/tamzrod/opcua-capture/internal/poller"
	"github.com/tamzrod/opcua-capture/internal/protocol"
	"github.com/tamzrod/opcua-capture/internal/session"
	"github.com/tamzrod/opcua-capture/internal/sink"
	"github.com/tamzrod/opcua-capture/internal/writer"
)

// shutdownTimeout bounds the whole cleanup after the wait ends.
const shutdownTimeout = 15 * time.Second

// Archiver receives every closed output file.
type Archiver interface {
	Enqueue(path string)
}

// Deps is everything a run needs. StatusWriter and Archive are optional.
type Deps struct {
	Config       *config.Config
	Stack        protocol.Stack
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
	StatusWriter writer.StatusWriter
	Archive      Archiver

	// Now stamps notification arrival. Defaults to time.Now.
	Now func() time.Time
}

// Runner runs one capture.
type Runner struct {
	d   Deps
	log zerolog.Logger
}

// New checks deps.
func New(d Deps) (*Runner, error) {
	if d.Config == nil {
		return nil, errors.New("runner: config required")
	}
	if d.Stack == nil {
		return nil, errors.New("runner: protocol stack required")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Runner{d: d, log: d.Logger.With().Str("component", "runner").Logger()}, nil
}

// Run blocks until the run ends. nil means success, including a stop
// triggered by interrupt, by the run timer or by a late cycle.
func (r *Runner) Run(ctx context.Context) error {
	c := r.d.Config
	log := r.log

	phase := ExitCreateApplication
	fail := func(err error) error { return &RunError{Code: phase, Err: err} }

	// Cleanup runs in reverse order with its own deadline.
	var closers []func(context.Context) error
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for i := len(closers) - 1; i >= 0; i-- {
			if cerr := closers[i](cctx); cerr != nil {
				log.Warn().Err(cerr).Msg("shutdown step failed")
			}
		}
	}()

	// --------------------
	// 1 - application
	// --------------------
	log.Info().Msg("1 - Create an Application Configuration.")
	if err := r.d.Stack.Setup(ctx); err != nil {
		return fail(err)
	}

	// --------------------
	// 2 - discovery
	// --------------------
	phase = ExitDiscoverEndpoints
	log.Info().Str("url", c.Capture.EndpointURL).Msg("2 - Discover endpoints.")
	ep, err := r.d.Stack.Discover(ctx, c.Capture.EndpointURL)
	if err != nil {
		return fail(err)
	}
	log.Info().
		Str("policy", ep.SecurityPolicy).
		Str("mode", ep.SecurityMode).
		Msg("    Selected endpoint")

	// --------------------
	// 3 - session
	// --------------------
	phase = ExitCreateSession
	log.Info().Msg("3 - Create a session with OPC UA server.")
	mgr, err := session.New(session.Config{
		Reconnect: r.d.Stack.Reconnect,
		Delay:     c.Session.ReconnectDelay(),
		Logger:    r.d.Logger,
		Metrics:   r.d.Metrics,
	})
	if err != nil {
		return fail(err)
	}
	mgr.Connecting()
	sess, err := r.d.Stack.Connect(ctx, ep)
	if err != nil {
		return fail(err)
	}
	mgr.Attach(sess)
	closers = append(closers, mgr.Close)

	// --------------------
	// 5 - subscription
	// --------------------
	phase = ExitCreateSubscription
	spec := protocol.SubscriptionSpec{PublishingInterval: c.Capture.PublishingInterval()}
	log.Info().Dur("interval", spec.PublishingInterval).Msg("5 - Create a subscription.")
	if spec.PublishingInterval <= 0 {
		return fail(errors.New("publishing interval must be > 0"))
	}

	// --------------------
	// 6 - monitored items
	// --------------------
	phase = ExitMonitoredItem
	log.Info().Msg("6 - Add item(s) to the subscription.")
	loadStart := time.Now()
	set, err := pointset.Load(ctx, pointset.Source{ID: c.Capture.NodeID, File: c.Capture.NodeFile}, sess)
	if err != nil {
		return fail(err)
	}
	log.Info().
		Dur("took", time.Since(loadStart)).
		Int("points", set.Len()).
		Str("anchor", set.Anchor()).
		Msg("Loading node IDs...done")

	stop := NewSignal()

	fw, err := writer.NewFileWriter(writer.FileConfig{
		Dir:        c.Output.Dir,
		BufferSize: c.Output.WriteBufferBytes,
		OnClose:    r.onFileClosed,
	})
	if err != nil {
		return fail(err)
	}

	snk, err := sink.New(sink.Config{
		Anchor:        set.Anchor(),
		UpdateTimeout: c.Capture.UpdateTimeout(),
		RotateEvery:   c.Output.RotateEveryCycles,
		QueueSize:     c.Output.QueueSize,
		Out:           fw,
		Stop:          func() { stop.Set("subscription update timeout") },
		Now:           r.d.Now,
		Logger:        r.d.Logger,
		Metrics:       r.d.Metrics,
	})
	if err != nil {
		return fail(err)
	}
	snk.Start()
	closers = append(closers, snk.Shutdown)

	// --------------------
	// 7 - attach
	// --------------------
	phase = ExitAddSubscription
	log.Info().Msg("7 - Add the subscription to the session.")
	attachStart := time.Now()
	sub, err := sess.Subscribe(ctx, spec, set.Points(), snk)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, sub.Cancel)
	if sub.Items() == 0 {
		return fail(fmt.Errorf("none of %d monitored items accepted", set.Len()))
	}
	log.Info().
		Dur("took", time.Since(attachStart)).
		Int("items", sub.Items()).
		Msg("Create subscription done")

	// --------------------
	// 8 - running
	// --------------------
	phase = ExitRunning
	log.Info().Msg("8 - Running...Press Ctrl-C to exit...")

	bgCtx, cancelBg := context.WithCancel(context.Background())
	var bg sync.WaitGroup
	closers = append(closers, func(context.Context) error {
		cancelBg()
		bg.Wait()
		return nil
	})

	prober, err := poller.Build(c.Session, mgr.Target)
	if err != nil {
		return fail(err)
	}
	results := make(chan poller.PollResult)
	bg.Add(2)
	go func() { defer bg.Done(); prober.Run(bgCtx, results) }()
	go func() { defer bg.Done(); mgr.Watch(bgCtx, results) }()

	if r.d.StatusWriter != nil {
		src := statusSources{sink: snk.Stats, depth: snk.QueueDepth, session: mgr.Status}
		bg.Add(1)
		go func() { defer bg.Done(); runStatus(bgCtx, r.d.StatusWriter, src, time.Now, r.d.Logger) }()
	}

	r.wait(ctx, stop, c.Capture.RunDuration())

	st := snk.Stats()
	log.Info().
		Str("reason", stop.Reason()).
		Int64("cycle_count", st.CycleCount).
		Dur("hwm_elapsed", st.HWMElapsed).
		Msg("stopping")

	if mgr.KeepAliveStopped() {
		return &RunError{Code: ExitNoKeepAlive, Err: errors.New("keep-alive stopped")}
	}
	return nil
}

// wait blocks until ctx ends, the stop signal fires or d elapses (d <= 0
// waits without limit).
func (r *Runner) wait(ctx context.Context, stop *Signal, d time.Duration) {
	var timeout <-chan time.Time
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-ctx.Done():
		stop.Set("interrupted")
	case <-stop.Done():
	case <-timeout:
		stop.Set("run time elapsed")
	}
}

func (r *Runner) onFileClosed(path string) {
	r.log.Info().Str("path", path).Msg("output file closed")
	if r.d.Archive != nil {
		r.d.Archive.Enqueue(path)
	}
}
