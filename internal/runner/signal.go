package runner

import "sync"

// Signal is a one-shot stop signal. Setting it again is a no-op.
type Signal struct {
	once sync.Once
	ch   chan struct{}
	mu   sync.Mutex
	why  string
}

// NewSignal returns an unset signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Set fires the signal and records the first reason.
func (s *Signal) Set(reason string) {
	s.once.Do(func() {
		s.mu.Lock()
		s.why = reason
		s.mu.Unlock()
		close(s.ch)
	})
}

// Done is closed once Set has been called.
func (s *Signal) Done() <-chan struct{} { return s.ch }

// Reason returns the reason passed to the first Set.
func (s *Signal) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.why
}
