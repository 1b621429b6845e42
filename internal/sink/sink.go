// Package sink turns concurrently delivered value notifications into rotated
// output files and tracks anchor-to-anchor cycle statistics.
//
// All batches go through one bounded queue drained by a single consumer
// goroutine, which owns the text buffer and the output file. Only the stats
// copy is shared, behind its own mutex.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/opcua-capture/internal/metrics"
	"github.com/tamzrod/opcua-capture/internal/protocol"
)

// DefaultRotateEvery is the number of cycles written to one file.
const DefaultRotateEvery = 300

// Output is where flushed lines go. Rotate closes the current file so the
// next Write opens a new one.
type Output interface {
	io.Writer
	Rotate() error
	Close() error
}

// Config wires a Sink.
type Config struct {
	// Anchor is the cycle anchor key. A batch whose point id contains it
	// closes one cycle.
	Anchor string

	// UpdateTimeout is the anchor-to-anchor budget. Exceeding it calls Stop.
	UpdateTimeout time.Duration

	// RotateEvery closes the output file every N cycles. 0 uses the default.
	RotateEvery int

	// QueueSize bounds pending batches. 0 uses 1024.
	QueueSize int

	Out Output

	// Stop is called once, on the first cycle that exceeds UpdateTimeout.
	Stop func()

	// Now stamps batch arrival. Defaults to time.Now.
	Now func() time.Time

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Sink implements protocol.Handler.
type Sink struct {
	anchor        string
	updateTimeout time.Duration
	rotateEvery   int64
	out           Output
	stop          func()
	now           func() time.Time
	log           zerolog.Logger
	metrics       *metrics.Metrics

	q *queue

	startOnce sync.Once
	started   bool
	done      chan struct{}
	finishErr error // set by the consumer before done closes

	abortOnce sync.Once
	abort     chan struct{}

	// consumer-owned
	buf        bytes.Buffer
	cycleStart time.Time
	stopped    bool

	statsMu sync.Mutex
	stats   Stats
}

var _ protocol.Handler = (*Sink)(nil)

// New validates cfg and builds a sink. Call Start before deliveries begin.
func New(cfg Config) (*Sink, error) {
	if cfg.Anchor == "" {
		return nil, errors.New("sink: anchor required")
	}
	if cfg.Out == nil {
		return nil, errors.New("sink: output required")
	}
	if cfg.UpdateTimeout <= 0 {
		return nil, errors.New("sink: update timeout must be > 0")
	}
	if cfg.RotateEvery <= 0 {
		cfg.RotateEvery = DefaultRotateEvery
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Stop == nil {
		cfg.Stop = func() {}
	}

	return &Sink{
		anchor:        cfg.Anchor,
		updateTimeout: cfg.UpdateTimeout,
		rotateEvery:   int64(cfg.RotateEvery),
		out:           cfg.Out,
		stop:          cfg.Stop,
		now:           cfg.Now,
		log:           cfg.Logger.With().Str("component", "sink").Logger(),
		metrics:       cfg.Metrics,
		q:             newQueue(cfg.QueueSize),
		done:          make(chan struct{}),
		abort:         make(chan struct{}),
		stats:         newStats(),
	}, nil
}

// Start launches the consumer goroutine. Safe to call more than once.
func (s *Sink) Start() {
	s.startOnce.Do(func() {
		s.started = true
		go func() {
			defer close(s.done)
			s.finishErr = s.consume()
		}()
	})
}

// HandleBatch queues one delivery. Safe for concurrent use. Blocks while
// the queue is full; batches arriving after Shutdown are dropped.
func (s *Sink) HandleBatch(pointID string, values []protocol.Record) {
	b := batch{pointID: pointID, values: values, at: s.now()}
	if !s.q.enqueue(b) {
		s.log.Debug().Str("point", pointID).Msg("batch after shutdown dropped")
		return
	}
	s.metrics.RecordQueueDepth(s.q.Depth())
}

// Stats returns a copy of the current counters.
func (s *Sink) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// QueueDepth returns the number of batches waiting for the consumer.
func (s *Sink) QueueDepth() int { return s.q.Depth() }

// Shutdown stops accepting batches, drains the queue, writes whatever is
// buffered and closes the output file.
//
// If ctx ends first, the consumer stops after the batch in progress, writes
// and closes what it already holds, and discards the rest of the queue.
// Shutdown then returns without waiting for that to finish.
func (s *Sink) Shutdown(ctx context.Context) error {
	s.startOnce.Do(func() {})

	closed := make(chan struct{})
	go func() {
		s.q.close()
		close(closed)
	}()

	if !s.started {
		// Nobody is draining; do it here. consume returns once close is done.
		err := s.consume()
		<-closed
		return err
	}

	select {
	case <-s.done:
		return s.finishErr
	case <-ctx.Done():
		s.abortOnce.Do(func() { close(s.abort) })
		return fmt.Errorf("sink: shutdown: %w; queued batches dropped", ctx.Err())
	}
}

// consume runs until the queue is closed and drained, or until abort.
// Either way it ends by writing the buffer and closing the output.
func (s *Sink) consume() error {
	for {
		select {
		case <-s.abort:
			err := s.finish()
			if n := s.discard(); n > 0 {
				s.log.Warn().Int("batches", n).Msg("shutdown deadline passed, queued batches dropped")
			}
			return err
		case b, ok := <-s.q.ch:
			if !ok {
				return s.finish()
			}
			s.q.markDequeued()
			s.process(b)
			s.metrics.RecordQueueDepth(s.q.Depth())
		}
	}
}

// finish writes the residual buffer and closes the output.
func (s *Sink) finish() error {
	var errs []error
	if s.buf.Len() > 0 {
		errs = append(errs, s.flush())
	}
	if err := s.out.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// discard empties the queue until it is closed, releasing blocked producers.
func (s *Sink) discard() int {
	n := 0
	for range s.q.ch {
		s.q.markDequeued()
		n++
	}
	return n
}

// process runs on the consumer goroutine only.
func (s *Sink) process(b batch) {
	if s.cycleStart.IsZero() {
		s.cycleStart = b.at
	}

	s.metrics.RecordBatch(len(b.values))

	isAnchor := strings.Contains(b.pointID, s.anchor)
	for _, v := range b.values {
		appendLine(&s.buf, b.pointID, v.Value, v.SourceTimestamp)

		if isAnchor {
			s.closeCycle(b, v)
		}
	}

	if !isAnchor {
		s.statsMu.Lock()
		s.stats.Count++
		s.statsMu.Unlock()
	}
}

func (s *Sink) closeCycle(b batch, v protocol.Record) {
	elapsed := b.at.Sub(s.cycleStart)
	s.cycleStart = b.at

	s.statsMu.Lock()
	s.stats.closeCycle(elapsed)
	st := s.stats
	s.stats.Count = 0
	s.statsMu.Unlock()

	s.metrics.RecordCycle(elapsed)

	s.log.Info().
		Str("point", b.pointID).
		Str("value", FormatValue(v.Value)).
		Str("timestamp", FormatTimestamp(v.SourceTimestamp)).
		Dur("elapsed", elapsed).
		Dur("hwm_elapsed", st.HWMElapsed).
		Int64("count", st.Count).
		Int64("hwm_count", st.HWMCount).
		Int64("lwm_count", st.LWMCount).
		Int64("cycle_count", st.CycleCount).
		Msg("cycle")

	if elapsed > s.updateTimeout && !s.stopped {
		s.stopped = true
		s.log.Warn().
			Dur("elapsed", elapsed).
			Dur("timeout", s.updateTimeout).
			Msg("subscription update exceeded timeout, stopping run")
		s.stop()
	}

	if err := s.flush(); err != nil {
		s.log.Error().Err(err).Msg("flush failed, data kept for next cycle")
	}

	if st.CycleCount%s.rotateEvery == 0 {
		if err := s.out.Rotate(); err != nil {
			s.log.Error().Err(err).Msg("rotate failed")
		}
		s.metrics.RecordRotation()
	}
}

// flush writes the buffer to the output and clears it. On error the buffer
// is kept so the next flush retries.
func (s *Sink) flush() error {
	n := s.buf.Len()
	if n == 0 {
		return nil
	}
	if _, err := s.out.Write(s.buf.Bytes()); err != nil {
		return err
	}
	s.buf.Reset()
	s.metrics.RecordFlush(n)
	return nil
}
