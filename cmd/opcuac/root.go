package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tamzrod/opcua-capture/internal/config"
	"github.com/tamzrod/opcua-capture/internal/logging"
	"github.com/tamzrod/opcua-capture/internal/metrics"
	"github.com/tamzrod/opcua-capture/internal/protocol/uaclient"
	"github.com/tamzrod/opcua-capture/internal/runner"
	"github.com/tamzrod/opcua-capture/internal/writer"
	"github.com/tamzrod/opcua-capture/internal/writer/archive"
)

// archiveStopTimeout bounds the uploads still pending at exit.
const archiveStopTimeout = 30 * time.Second

type flags struct {
	configPath    string
	url           string
	nodeID        string
	nodeFile      string
	timeout       int
	autoAccept    bool
	updateTimeout int64
	logLevel      string
	dataDir       string
}

func newRootCmd(code *runner.ExitCode) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "opcuac",
		Short: "Capture OPC UA value changes to rotating files",
		Long: `Subscribes to one point or a list of points on an OPC UA server and writes
every value change to timestamped files under the data directory.

A run ends on Ctrl-C, when --timeout elapses, or when one full notification
cycle takes longer than --subscription-update-timeout.

Examples:
  # One point, run for an hour
  opcuac --url opc.tcp://plc-01:4840 --node-id "ns=2;s=Line1.Speed" -t 3600

  # Point list, trust the server certificate automatically
  opcuac --url opc.tcp://plc-01:4840 --node-file nodes.txt -a`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			*code = run(cmd, f)
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	fl.StringVar(&f.url, "url", "", "server endpoint URL, e.g. opc.tcp://host:4840")
	fl.StringVar(&f.nodeID, "node-id", "", "single point to monitor")
	fl.StringVar(&f.nodeFile, "node-file", "", "file with one point id per line; the last line is the cycle anchor")
	fl.IntVarP(&f.timeout, "timeout", "t", -1, "run time in seconds; <= 0 runs until interrupted")
	fl.BoolVarP(&f.autoAccept, "autoaccept", "a", false, "auto-accept untrusted server certificates")
	fl.Int64Var(&f.updateTimeout, "subscription-update-timeout", 20000, "max milliseconds between two cycle-anchor notifications")
	fl.StringVar(&f.logLevel, "log-level", "", "debug, info, warn, error")
	fl.StringVar(&f.dataDir, "data-dir", "", "output directory (default \"data\")")

	return cmd
}

// execute runs the root command and returns the run's exit code.
func execute() runner.ExitCode {
	code := runner.ExitOK
	cmd := newRootCmd(&code)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		_ = cmd.Usage()
		return runner.ExitInvalidCommandLine
	}
	return code
}

// applyFlags overlays flags the user actually set.
func applyFlags(cmd *cobra.Command, f flags, cfg *config.Config) {
	set := cmd.Flags().Changed

	if set("url") {
		cfg.Capture.EndpointURL = f.url
	}
	if set("node-id") {
		cfg.Capture.NodeID = f.nodeID
	}
	if set("node-file") {
		cfg.Capture.NodeFile = f.nodeFile
	}
	if set("timeout") {
		cfg.Capture.RunSeconds = f.timeout
	}
	if set("autoaccept") {
		cfg.Security.AutoAccept = f.autoAccept
	}
	if set("subscription-update-timeout") {
		cfg.Capture.SubscriptionUpdateTimeoutMs = f.updateTimeout
	}
	if set("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if set("data-dir") {
		cfg.Output.Dir = f.dataDir
	}
}

func run(cmd *cobra.Command, f flags) runner.ExitCode {
	start := time.Now()

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(f.configPath)
	if err == nil {
		applyFlags(cmd, f, cfg)
		err = config.Validate(cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n\n", err)
		_ = cmd.Usage()
		return runner.ExitInvalidCommandLine
	}
	config.Normalize(cfg)

	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return runner.ExitInvalidCommandLine
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := capture(ctx, cfg, log)
	log.Info().Dur("runtime", time.Since(start)).Str("exit", code.String()).Msg("Runtime")
	return code
}

// capture wires the optional outputs around one run.
func capture(ctx context.Context, cfg *config.Config, log zerolog.Logger) runner.ExitCode {
	m := metrics.New()
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen, log); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	// ---- status block (optional) ----
	sw, closeStatus, err := writer.BuildStatusWriter(cfg.StatusBlock)
	if err != nil {
		log.Error().Err(err).Msg("status block")
		return runner.ExitInvalidCommandLine
	}
	defer func() {
		if err := closeStatus(); err != nil {
			log.Warn().Err(err).Msg("status block close")
		}
	}()

	deps := runner.Deps{
		Config:       cfg,
		Logger:       log,
		Metrics:      m,
		StatusWriter: sw,
		Stack: uaclient.New(uaclient.Config{
			Security: cfg.Security,
			Session:  cfg.Session,
			Logger:   log,
		}),
	}

	// ---- archive (optional) ----
	up, err := archive.Build(ctx, cfg.Archive)
	if err != nil {
		log.Error().Err(err).Msg("archive")
		return runner.ExitInvalidCommandLine
	}
	if up != nil {
		// Uploads outlive the interrupt so the last file still gets shipped.
		w := archive.NewWorker(up, cfg.Archive.Prefix, log, m)
		w.Start(context.Background())
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), archiveStopTimeout)
			defer cancel()
			if err := w.Stop(sctx); err != nil {
				log.Warn().Err(err).Msg("archive stop")
			}
		}()
		deps.Archive = w
	}

	r, err := runner.New(deps)
	if err != nil {
		log.Error().Err(err).Msg("runner")
		return runner.ExitInvalidCommandLine
	}

	err = r.Run(ctx)
	code := runner.ExitCodeOf(err)
	if err != nil {
		var re *runner.RunError
		if errors.As(err, &re) {
			log.Error().Err(re.Err).Str("phase", re.Code.String()).Msgf("run failed with 0x%02x", int(code))
		} else {
			log.Error().Err(err).Msg("run failed")
		}
	}
	return code
}
