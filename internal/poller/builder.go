// internal/poller/builder.go
package poller

import (
	cfg "github.com/tamzrod/opcua-capture/internal/config"
)

// Build constructs the session keep-alive prober.
// current is called on every tick and returns the live handle.
func Build(s cfg.SessionConfig, current func() Target) (*Poller, error) {
	return New(
		Config{
			Name:     "keepalive",
			Interval: s.KeepAliveInterval(),
			Timeout:  s.KeepAliveInterval(),
		},
		current,
	)
}
