package writer

import (
	"fmt"
	"time"

	cfg "github.com/tamzrod/opcua-capture/internal/config"
	"github.com/tamzrod/opcua-capture/internal/writer/ingest"
	wmodbus "github.com/tamzrod/opcua-capture/internal/writer/modbus"
)

// BuildStatusPlan converts the status block config into a plan.
// Returns nil when the status block is disabled.
// Assumes config has already passed validation.
func BuildStatusPlan(sb cfg.StatusBlockConfig) *StatusPlan {
	if sb.Kind == "" {
		return nil
	}
	return &StatusPlan{
		Endpoint:   sb.Endpoint,
		UnitID:     sb.UnitID,
		BaseSlot:   sb.BaseSlot,
		DeviceName: sb.DeviceName,
	}
}

// BuildStatusWriter creates the endpoint client for the configured kind and
// wraps it in a status writer. Returns (nil, no-op, nil) when disabled.
func BuildStatusWriter(sb cfg.StatusBlockConfig) (StatusWriter, func() error, error) {
	noop := func() error { return nil }

	plan := BuildStatusPlan(sb)
	if plan == nil {
		return nil, noop, nil
	}

	timeout := time.Duration(sb.TimeoutMs) * time.Millisecond

	var (
		cli     endpointClient
		closeFn func() error
	)

	switch sb.Kind {
	case "modbus":
		c, err := wmodbus.NewClient(wmodbus.Config{
			Endpoint: sb.Endpoint,
			Timeout:  timeout,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("status block (modbus %s): %w", sb.Endpoint, err)
		}
		cli, closeFn = c, c.Close

	case "ingest":
		c, err := ingest.NewClient(ingest.Config{
			Endpoint: sb.Endpoint,
			Timeout:  timeout,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("status block (ingest %s): %w", sb.Endpoint, err)
		}
		cli, closeFn = c, c.Close

	default:
		return nil, noop, fmt.Errorf("status block: unsupported kind %q", sb.Kind)
	}

	sw, _ := NewDeviceStatusWriter(plan, cli)
	return sw, closeFn, nil
}
