// internal/config/validate.go
package config

import (
	"fmt"
	"os"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalid)
	}

	// ------------------------------------------------------------
	// CAPTURE SOURCE
	// ------------------------------------------------------------

	c := cfg.Capture

	if c.EndpointURL == "" {
		return fmt.Errorf("%w: endpoint url is required", ErrInvalid)
	}

	if c.NodeID == "" && c.NodeFile == "" {
		return fmt.Errorf("%w: node id or node file is required", ErrInvalid)
	}

	// The node file is checked here so a bad path never reaches the network.
	if c.NodeFile != "" {
		st, err := os.Stat(c.NodeFile)
		if err != nil {
			return fmt.Errorf("%w: node file %s does not exist", ErrInvalid, c.NodeFile)
		}
		if st.IsDir() {
			return fmt.Errorf("%w: node file %s is a directory", ErrInvalid, c.NodeFile)
		}
	}

	if c.SubscriptionUpdateTimeoutMs <= 0 {
		return fmt.Errorf(
			"%w: subscription update timeout must be > 0 (got %d)",
			ErrInvalid,
			c.SubscriptionUpdateTimeoutMs,
		)
	}

	if c.PublishingIntervalMs < 0 {
		return fmt.Errorf("%w: publishing interval must be >= 0", ErrInvalid)
	}

	// ------------------------------------------------------------
	// OUTPUT
	// ------------------------------------------------------------

	if cfg.Output.RotateEveryCycles < 0 {
		return fmt.Errorf("%w: rotate_every_cycles must be >= 0", ErrInvalid)
	}
	if cfg.Output.QueueSize < 0 {
		return fmt.Errorf("%w: queue_size must be >= 0", ErrInvalid)
	}

	// ------------------------------------------------------------
	// SECURITY
	// ------------------------------------------------------------

	s := cfg.Security
	if (s.CertFile == "") != (s.KeyFile == "") {
		return fmt.Errorf("%w: cert_file and key_file must be set together", ErrInvalid)
	}

	switch s.Mode {
	case "", "None", "Sign", "SignAndEncrypt":
	default:
		return fmt.Errorf("%w: unknown security mode %q", ErrInvalid, s.Mode)
	}

	// ------------------------------------------------------------
	// LOG
	// ------------------------------------------------------------

	switch cfg.Log.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, cfg.Log.Format)
	}

	// ------------------------------------------------------------
	// STATUS BLOCK (OPT-IN)
	// ------------------------------------------------------------

	sb := cfg.StatusBlock
	switch sb.Kind {
	case "":
	case "modbus", "ingest":
		if sb.Endpoint == "" {
			return fmt.Errorf("%w: status_block.endpoint is required for kind %q", ErrInvalid, sb.Kind)
		}
		// device_name sanity (ASCII only)
		for i := 0; i < len(sb.DeviceName); i++ {
			if sb.DeviceName[i] > 0x7F {
				return fmt.Errorf("%w: status_block.device_name must contain ASCII characters only", ErrInvalid)
			}
		}
	default:
		return fmt.Errorf("%w: unknown status_block.kind %q", ErrInvalid, sb.Kind)
	}

	// ------------------------------------------------------------
	// ARCHIVE (OPT-IN)
	// ------------------------------------------------------------

	a := cfg.Archive
	switch a.Kind {
	case "":
	case "s3":
		if a.Bucket == "" {
			return fmt.Errorf("%w: archive.bucket is required for kind s3", ErrInvalid)
		}
	case "azblob":
		if a.AccountName == "" || a.AccountKey == "" || a.Container == "" {
			return fmt.Errorf(
				"%w: archive.account_name, archive.account_key and archive.container are required for kind azblob",
				ErrInvalid,
			)
		}
	default:
		return fmt.Errorf("%w: unknown archive.kind %q", ErrInvalid, a.Kind)
	}

	return nil
}
