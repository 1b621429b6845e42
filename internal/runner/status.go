package runner

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/opcua-capture/internal/session"
	"github.com/tamzrod/opcua-capture/internal/sink"
	"github.com/tamzrod/opcua-capture/internal/status"
	"github.com/tamzrod/opcua-capture/internal/writer"
)

// statusSources are read once per tick.
type statusSources struct {
	sink    func() sink.Stats
	depth   func() int
	session func() session.Status
}

// buildSnapshot derives the status block from sink and session state.
func buildSnapshot(st sink.Stats, depth int, ss session.Status, now time.Time) status.Snapshot {
	snap := status.Snapshot{
		CycleCount:  status.Sat16(st.CycleCount),
		LastCycleMs: status.Sat16(st.LastElapsed.Milliseconds()),
		HWMCycleMs:  status.Sat16(st.HWMElapsed.Milliseconds()),
		HWMCount:    status.Sat16(st.HWMCount),
		QueueDepth:  status.Sat16(depth),
	}
	if st.HasCycle() {
		snap.LWMCount = status.Sat16(st.LWMCount)
	}

	switch {
	case ss.KeepAliveStopped:
		snap.Health = status.HealthError
		snap.LastErrorCode = uint16(ExitNoKeepAlive)
		if !ss.FailingSince.IsZero() {
			snap.SecondsInError = status.Sat16(int64(now.Sub(ss.FailingSince) / time.Second))
		}
	case ss.State == session.Reconnecting || ss.State == session.KeepAliveFailed:
		snap.Health = status.HealthStale
	case ss.State == session.Connected && st.HasCycle():
		snap.Health = status.HealthOK
	case ss.State == session.Closed:
		snap.Health = status.HealthDisabled
	default:
		snap.Health = status.HealthUnknown
	}
	return snap
}

// runStatus writes the status block once per second until ctx ends.
// Runner-owned state, 1 Hz ticker. The writer suppresses unchanged slots.
func runStatus(ctx context.Context, sw writer.StatusWriter, src statusSources, now func() time.Time, log zerolog.Logger) {
	write := func() {
		snap := buildSnapshot(src.sink(), src.depth(), src.session(), now())
		if err := sw.WriteStatus(snap); err != nil {
			log.Warn().Err(err).Msg("status write failed")
		}
	}

	// Full block write on start (identity re-assert).
	write()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			write()
		}
	}
}
