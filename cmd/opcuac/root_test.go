package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/opcua-capture/internal/config"
	"github.com/tamzrod/opcua-capture/internal/runner"
)

func TestApplyFlags_OnlyChangedFlagsOverride(t *testing.T) {
	var code runner.ExitCode
	cmd := newRootCmd(&code)
	require.NoError(t, cmd.Flags().Parse([]string{
		"--url", "opc.tcp://plc-01:4840",
		"-t", "60",
		"-a",
	}))

	cfg := config.Default()
	cfg.Capture.NodeFile = "from-yaml.txt"
	cfg.Capture.SubscriptionUpdateTimeoutMs = 5000

	var f flags
	f.url, _ = cmd.Flags().GetString("url")
	f.timeout, _ = cmd.Flags().GetInt("timeout")
	f.autoAccept, _ = cmd.Flags().GetBool("autoaccept")
	applyFlags(cmd, f, cfg)

	assert.Equal(t, "opc.tcp://plc-01:4840", cfg.Capture.EndpointURL)
	assert.Equal(t, 60, cfg.Capture.RunSeconds)
	assert.True(t, cfg.Security.AutoAccept)
	assert.Equal(t, "from-yaml.txt", cfg.Capture.NodeFile)
	assert.EqualValues(t, 5000, cfg.Capture.SubscriptionUpdateTimeoutMs)
}

func TestExecute_UnknownFlagIsInvalidCommandLine(t *testing.T) {
	var code runner.ExitCode
	cmd := newRootCmd(&code)
	cmd.SetArgs([]string{"--bogus"})

	assert.Error(t, cmd.Execute())
}

func TestRun_MissingURLIsInvalidCommandLine(t *testing.T) {
	t.Setenv("OPCUAC_URL", "")

	var code runner.ExitCode
	cmd := newRootCmd(&code)
	cmd.SetArgs([]string{"--node-id", "ns=2;s=A"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, runner.ExitInvalidCommandLine, code)
}
