package runner

import (
	"errors"
	"fmt"

	"github.com/tamzrod/opcua-capture/internal/config"
)

// ExitCode tags the phase a run failed in.
type ExitCode int

const (
	ExitOK                 ExitCode = 0x00
	ExitCreateApplication  ExitCode = 0x11
	ExitDiscoverEndpoints  ExitCode = 0x12
	ExitCreateSession      ExitCode = 0x13
	ExitBrowseNamespace    ExitCode = 0x14 // reserved
	ExitCreateSubscription ExitCode = 0x15
	ExitMonitoredItem      ExitCode = 0x16
	ExitAddSubscription    ExitCode = 0x17
	ExitRunning            ExitCode = 0x18
	ExitNoKeepAlive        ExitCode = 0x30
	ExitInvalidCommandLine ExitCode = 0x100
)

func (c ExitCode) String() string {
	switch c {
	case ExitOK:
		return "ok"
	case ExitCreateApplication:
		return "create_application"
	case ExitDiscoverEndpoints:
		return "discover_endpoints"
	case ExitCreateSession:
		return "create_session"
	case ExitBrowseNamespace:
		return "browse_namespace"
	case ExitCreateSubscription:
		return "create_subscription"
	case ExitMonitoredItem:
		return "monitored_item"
	case ExitAddSubscription:
		return "add_subscription"
	case ExitRunning:
		return "running"
	case ExitNoKeepAlive:
		return "no_keepalive"
	case ExitInvalidCommandLine:
		return "invalid_command_line"
	default:
		return fmt.Sprintf("0x%02x", int(c))
	}
}

// ProcessStatus is the value handed to os.Exit. Codes above 0xFF do not
// survive the OS and are reported as 0xFF.
func (c ExitCode) ProcessStatus() int {
	if c > 0xFF {
		return 0xFF
	}
	return int(c)
}

// RunError is a run failure tagged with its phase.
type RunError struct {
	Code ExitCode
	Err  error
}

func (e *RunError) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s (0x%02x): %v", e.Code, int(e.Code), e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// ExitCodeOf maps a Run result to its exit code. Configuration errors win
// over the phase they surfaced in.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, config.ErrInvalid) {
		return ExitInvalidCommandLine
	}
	var re *RunError
	if errors.As(err, &re) {
		return re.Code
	}
	return ExitRunning
}
