// internal/config/normalize.go
package config

import (
	"time"
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	def := Default()

	if cfg.Capture.PublishingIntervalMs == 0 {
		cfg.Capture.PublishingIntervalMs = def.Capture.PublishingIntervalMs
	}

	// Session timings: zero means "use default".
	s := &cfg.Session
	if s.TimeoutMs <= 0 {
		s.TimeoutMs = def.Session.TimeoutMs
	}
	if s.DiscoveryTimeoutMs <= 0 {
		s.DiscoveryTimeoutMs = def.Session.DiscoveryTimeoutMs
	}
	if s.ReconnectDelayMs <= 0 {
		s.ReconnectDelayMs = def.Session.ReconnectDelayMs
	}
	if s.KeepAliveIntervalMs <= 0 {
		s.KeepAliveIntervalMs = def.Session.KeepAliveIntervalMs
	}
	if s.DeliveryWorkers <= 0 {
		s.DeliveryWorkers = def.Session.DeliveryWorkers
	}

	o := &cfg.Output
	if o.Dir == "" {
		o.Dir = def.Output.Dir
	}
	if o.RotateEveryCycles == 0 {
		o.RotateEveryCycles = def.Output.RotateEveryCycles
	}
	if o.WriteBufferBytes <= 0 {
		o.WriteBufferBytes = def.Output.WriteBufferBytes
	}
	if o.QueueSize == 0 {
		o.QueueSize = def.Output.QueueSize
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.Security.ApplicationName == "" {
		cfg.Security.ApplicationName = def.Security.ApplicationName
	}

	// Truncate device_name to the 16 characters the status block can hold.
	if len(cfg.StatusBlock.DeviceName) > 16 {
		cfg.StatusBlock.DeviceName = cfg.StatusBlock.DeviceName[:16]
	}
	if cfg.StatusBlock.Kind != "" && cfg.StatusBlock.TimeoutMs <= 0 {
		cfg.StatusBlock.TimeoutMs = 2000
	}
}

// RunDuration returns the configured run time; 0 means no limit.
func (c CaptureConfig) RunDuration() time.Duration {
	if c.RunSeconds <= 0 {
		return 0
	}
	return time.Duration(c.RunSeconds) * time.Second
}

// UpdateTimeout returns the anchor-to-anchor budget.
func (c CaptureConfig) UpdateTimeout() time.Duration {
	return time.Duration(c.SubscriptionUpdateTimeoutMs) * time.Millisecond
}

// PublishingInterval returns the subscription publishing interval.
func (c CaptureConfig) PublishingInterval() time.Duration {
	return time.Duration(c.PublishingIntervalMs) * time.Millisecond
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (s SessionConfig) Timeout() time.Duration          { return ms(s.TimeoutMs) }
func (s SessionConfig) DiscoveryTimeout() time.Duration { return ms(s.DiscoveryTimeoutMs) }
func (s SessionConfig) ReconnectDelay() time.Duration   { return ms(s.ReconnectDelayMs) }
func (s SessionConfig) KeepAliveInterval() time.Duration {
	return ms(s.KeepAliveIntervalMs)
}
