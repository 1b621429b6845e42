// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration errors. They are fatal before any network activity.
var ErrInvalid = errors.New("invalid configuration")

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "OPCUAC_"

type Config struct {
	Capture     CaptureConfig     `yaml:"capture"`
	Security    SecurityConfig    `yaml:"security"`
	Session     SessionConfig     `yaml:"session"`
	Output      OutputConfig      `yaml:"output"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	StatusBlock StatusBlockConfig `yaml:"status_block"`
	Archive     ArchiveConfig     `yaml:"archive"`
}

// ---- CAPTURE ----

type CaptureConfig struct {
	EndpointURL string `yaml:"endpoint_url"`
	NodeID      string `yaml:"node_id"`
	NodeFile    string `yaml:"node_file"`

	// RunSeconds <= 0 means run until interrupted.
	RunSeconds int `yaml:"run_seconds"`

	// SubscriptionUpdateTimeoutMs bounds one anchor-to-anchor cycle.
	SubscriptionUpdateTimeoutMs int64 `yaml:"subscription_update_timeout_ms"`
	PublishingIntervalMs        int   `yaml:"publishing_interval_ms"`
}

// ---- SECURITY ----

type SecurityConfig struct {
	AutoAccept bool   `yaml:"auto_accept"`
	Policy     string `yaml:"policy"` // empty = pick by certificate availability
	Mode       string `yaml:"mode"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	TrustedDir string `yaml:"trusted_dir"`

	ApplicationName string `yaml:"application_name"`
	ApplicationURI  string `yaml:"application_uri"`
}

// ---- SESSION ----

type SessionConfig struct {
	TimeoutMs           int `yaml:"timeout_ms"`
	DiscoveryTimeoutMs  int `yaml:"discovery_timeout_ms"`
	ReconnectDelayMs    int `yaml:"reconnect_delay_ms"`
	KeepAliveIntervalMs int `yaml:"keepalive_interval_ms"`
	DeliveryWorkers     int `yaml:"delivery_workers"`
}

// ---- OUTPUT ----

type OutputConfig struct {
	Dir               string `yaml:"dir"`
	RotateEveryCycles int    `yaml:"rotate_every_cycles"`
	WriteBufferBytes  int    `yaml:"write_buffer_bytes"`
	QueueSize         int    `yaml:"queue_size"`
}

// ---- LOG ----

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// ---- METRICS ----

type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty = disabled
}

// ---- STATUS BLOCK (optional, opt-in) ----

type StatusBlockConfig struct {
	Kind       string `yaml:"kind"` // "", modbus, ingest
	Endpoint   string `yaml:"endpoint"`
	UnitID     uint8  `yaml:"unit_id"`
	BaseSlot   uint16 `yaml:"base_slot"`
	DeviceName string `yaml:"device_name"`
	TimeoutMs  int    `yaml:"timeout_ms"`
}

// ---- ARCHIVE (optional, opt-in) ----

type ArchiveConfig struct {
	Kind   string `yaml:"kind"` // "", s3, azblob
	Prefix string `yaml:"prefix"`

	// s3
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`

	// azblob
	AccountName string `yaml:"account_name"`
	AccountKey  string `yaml:"account_key"`
	Container   string `yaml:"container"`
}

// Default returns the configuration used when nothing else is specified.
func Default() *Config {
	return &Config{
		Capture: CaptureConfig{
			SubscriptionUpdateTimeoutMs: 20_000,
			PublishingIntervalMs:        1000,
		},
		Security: SecurityConfig{
			ApplicationName: "UA Core Sample Client",
		},
		Session: SessionConfig{
			TimeoutMs:           60_000,
			DiscoveryTimeoutMs:  15_000,
			ReconnectDelayMs:    10_000,
			KeepAliveIntervalMs: 5000,
			DeliveryWorkers:     4,
		},
		Output: OutputConfig{
			Dir:               "data",
			RotateEveryCycles: 60 * 5,
			WriteBufferBytes:  65536,
			QueueSize:         4096,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds a configuration from defaults, an optional YAML file and the environment.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read config %s: %v", ErrInvalid, path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse config %s: %v", ErrInvalid, path, err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overlays OPCUAC_* variables onto cfg.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(EnvPrefix + key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q: %v", ErrInvalid, EnvPrefix, key, v, err)
		}
		*dst = n
		return nil
	}

	str("URL", &cfg.Capture.EndpointURL)
	str("NODE_ID", &cfg.Capture.NodeID)
	str("NODE_FILE", &cfg.Capture.NodeFile)
	str("DATA_DIR", &cfg.Output.Dir)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("METRICS_LISTEN", &cfg.Metrics.Listen)
	str("ARCHIVE_ACCOUNT_KEY", &cfg.Archive.AccountKey)

	if err := integer("TIMEOUT", &cfg.Capture.RunSeconds); err != nil {
		return err
	}

	if v, ok := lookup(EnvPrefix + "SUBSCRIPTION_UPDATE_TIMEOUT"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %sSUBSCRIPTION_UPDATE_TIMEOUT=%q: %v", ErrInvalid, EnvPrefix, v, err)
		}
		cfg.Capture.SubscriptionUpdateTimeoutMs = n
	}

	if v, ok := lookup(EnvPrefix + "AUTOACCEPT"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %sAUTOACCEPT=%q: %v", ErrInvalid, EnvPrefix, v, err)
		}
		cfg.Security.AutoAccept = b
	}

	return nil
}
