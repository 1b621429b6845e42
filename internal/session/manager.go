// Package session owns the live server session and drives the keep-alive
// and reconnect state machine.
//
// Transitions are driven by two messages: KeepAlive (one per probe) and
// ReconnectCompleted. Every reconnect attempt gets a monotonically increasing
// token; a completion whose token is not the current attempt is ignored.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/opcua-capture/internal/metrics"
	"github.com/tamzrod/opcua-capture/internal/poller"
	"github.com/tamzrod/opcua-capture/internal/protocol"
)

// DefaultReconnectDelay is the wait before the first reconnect attempt.
const DefaultReconnectDelay = 10 * time.Second

// ReconnectFunc re-establishes old and returns the replacement handle.
type ReconnectFunc func(ctx context.Context, old protocol.Session) (protocol.Session, error)

// KeepAlive is the result of one health probe.
type KeepAlive struct {
	At  time.Time
	Err error // nil means good
}

// ReconnectCompleted reports the end of one reconnect attempt.
type ReconnectCompleted struct {
	Token   uint64
	Session protocol.Session
	Err     error
}

// Config wires a Manager.
type Config struct {
	Reconnect ReconnectFunc
	Delay     time.Duration // 0 uses DefaultReconnectDelay

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Status is a point-in-time view of the manager.
type Status struct {
	State            State
	KeepAliveStopped bool
	FailingSince     time.Time // zero while keep-alive is good
	Reconnects       int
}

// Manager is safe for concurrent use.
type Manager struct {
	reconnect ReconnectFunc
	delay     time.Duration
	log       zerolog.Logger
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	state        State
	session      protocol.Session
	token        uint64 // in-flight attempt, 0 when none
	lastToken    uint64
	stopped      bool
	failingSince time.Time
	reconnects   int
}

// New creates a manager in the Disconnected state.
func New(cfg Config) (*Manager, error) {
	if cfg.Reconnect == nil {
		return nil, errors.New("session: reconnect func required")
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultReconnectDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		reconnect: cfg.Reconnect,
		delay:     cfg.Delay,
		log:       cfg.Logger.With().Str("component", "session").Logger(),
		metrics:   cfg.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		state:     Disconnected,
	}
	m.metrics.RecordSessionState(int(Disconnected))
	return m, nil
}

// Connecting marks the start of session creation.
func (m *Manager) Connecting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Closed {
		return
	}
	m.setStateLocked(Connecting)
}

// Attach installs the initial session and enters Connected.
func (m *Manager) Attach(s protocol.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Closed {
		return
	}
	m.session = s
	m.setStateLocked(Connected)
}

// Current returns the live session handle. It may change after a reconnect.
func (m *Manager) Current() protocol.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// KeepAliveStopped reports whether the most recent probe failed and neither
// a good probe nor a successful reconnect has happened since.
func (m *Manager) KeepAliveStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// Status returns a snapshot for status reporting.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:            m.state,
		KeepAliveStopped: m.stopped,
		FailingSince:     m.failingSince,
		Reconnects:       m.reconnects,
	}
}

// OnKeepAlive handles one probe result. Never blocks on the reconnect.
func (m *Manager) OnKeepAlive(ka KeepAlive) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Closed || m.session == nil {
		return
	}

	if ka.Err == nil {
		if m.stopped {
			m.log.Info().Msg("keep-alive recovered")
		}
		m.stopped = false
		m.failingSince = time.Time{}
		return
	}

	if !m.stopped {
		m.failingSince = ka.At
	}
	m.stopped = true
	m.metrics.RecordKeepAliveFailure()
	m.log.Warn().Err(ka.Err).Str("state", m.state.String()).Msg("keep-alive failed")

	if m.token != 0 {
		return
	}

	m.setStateLocked(KeepAliveFailed)
	m.startReconnectLocked()
}

// OnReconnectCompleted applies a reconnect result. Completions from any
// attempt other than the current one have no effect.
func (m *Manager) OnReconnectCompleted(rc ReconnectCompleted) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Closed || rc.Token == 0 || rc.Token != m.token {
		m.log.Debug().Uint64("token", rc.Token).Uint64("current", m.token).Msg("stale reconnect completion ignored")
		return
	}

	m.token = 0

	if rc.Err != nil || rc.Session == nil {
		m.log.Error().Err(rc.Err).Uint64("token", rc.Token).Msg("reconnect failed")
		m.setStateLocked(KeepAliveFailed)
		return
	}

	// The replacement session starts with a clean keep-alive record.
	m.session = rc.Session
	m.stopped = false
	m.failingSince = time.Time{}
	m.reconnects++
	m.metrics.RecordReconnect()
	m.setStateLocked(Connected)
	m.log.Info().Uint64("token", rc.Token).Msg("--- RECONNECTED ---")
}

// Watch feeds probe results into OnKeepAlive until ctx ends or results is
// closed.
func (m *Manager) Watch(ctx context.Context, results <-chan poller.PollResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-results:
			if !ok {
				return
			}
			m.OnKeepAlive(KeepAlive{At: r.At, Err: r.Err})
		}
	}
}

// Target adapts Current for the keep-alive poller.
func (m *Manager) Target() poller.Target {
	s := m.Current()
	if s == nil {
		return nil
	}
	return s
}

// Close cancels any reconnect in flight, closes the session and enters
// Closed. Further messages are ignored.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.state == Closed {
		m.mu.Unlock()
		return nil
	}
	m.token = 0
	m.setStateLocked(Closed)
	s := m.session
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()

	if s == nil {
		return nil
	}
	return s.Close(ctx)
}

func (m *Manager) startReconnectLocked() {
	m.lastToken++
	token := m.lastToken
	m.token = token
	old := m.session
	m.setStateLocked(Reconnecting)

	m.log.Warn().Uint64("token", token).Dur("delay", m.delay).Msg("--- RECONNECTING ---")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		t := time.NewTimer(m.delay)
		defer t.Stop()

		select {
		case <-m.ctx.Done():
			return
		case <-t.C:
		}

		s, err := m.reconnect(m.ctx, old)
		if m.ctx.Err() != nil {
			return
		}
		m.OnReconnectCompleted(ReconnectCompleted{Token: token, Session: s, Err: err})
	}()
}

func (m *Manager) setStateLocked(s State) {
	m.state = s
	m.metrics.RecordSessionState(int(s))
}
