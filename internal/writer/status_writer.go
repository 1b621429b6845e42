package writer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/opcua-capture/internal/status"
)

const statusAreaHoldingRegisters byte = 3

// deviceStatusWriter mirrors capture health into a fixed register block.
//
// The first write, and the first write after any failure, re-asserts the
// whole block including the device name. Otherwise only live slots that
// changed are written, one request per contiguous run.
type deviceStatusWriter struct {
	plan *StatusPlan
	cli  endpointClient

	needFull bool
	last     []uint16
	nameRegs []uint16
}

// NewDeviceStatusWriter builds a status writer if a plan is given.
// If plan is nil, status is disabled.
func NewDeviceStatusWriter(plan *StatusPlan, cli endpointClient) (*deviceStatusWriter, bool) {
	if plan == nil {
		return nil, false
	}

	return &deviceStatusWriter{
		plan:     plan,
		cli:      cli,
		needFull: true,
		last:     status.Encode(status.Snapshot{Health: status.HealthUnknown}),
		nameRegs: encodeDeviceNameRegs(plan.DeviceName),
	}, true
}

// WriteStatus delivers one snapshot.
func (sw *deviceStatusWriter) WriteStatus(s status.Snapshot) error {
	if sw == nil || sw.plan == nil {
		return errors.New("status writer: disabled")
	}
	if sw.cli == nil {
		return fmt.Errorf("status writer: missing client for endpoint %s", sw.plan.Endpoint)
	}

	regs := status.Encode(s)

	if sw.needFull {
		if err := sw.write(0, sw.fullBlock(regs)); err != nil {
			return fmt.Errorf("status writer: full block: %w", err)
		}
		sw.needFull = false
		copy(sw.last, regs)
		return nil
	}

	var errs []string
	for _, r := range changedRuns(sw.last, regs, status.SlotLiveEnd) {
		if err := sw.write(uint16(r.start), regs[r.start:r.end]); err != nil {
			errs = append(errs, fmt.Sprintf("slots %d-%d: %v", r.start, r.end-1, err))
			continue
		}
		copy(sw.last[r.start:r.end], regs[r.start:r.end])
	}

	if len(errs) > 0 {
		sw.needFull = true
		return errors.New("status writer: " + strings.Join(errs, " | "))
	}
	return nil
}

func (sw *deviceStatusWriter) write(slot uint16, regs []uint16) error {
	addr := sw.plan.BaseSlot*status.SlotsPerDevice + slot
	return sw.cli.WriteRegisters(statusAreaHoldingRegisters, sw.plan.UnitID, addr, regs)
}

// fullBlock lays out live slots, zeroed reserved slots and the device name.
func (sw *deviceStatusWriter) fullBlock(live []uint16) []uint16 {
	block := make([]uint16, status.SlotsPerDevice)
	copy(block, live[:status.SlotLiveEnd+1])
	copy(block[status.SlotDeviceNameStart:], sw.nameRegs)
	return block
}

// run is a half-open slot range.
type run struct{ start, end int }

// changedRuns returns the contiguous ranges of slots 0..last where prev and
// next differ.
func changedRuns(prev, next []uint16, last int) []run {
	var out []run
	for i := 0; i <= last; i++ {
		if prev[i] == next[i] {
			continue
		}
		if n := len(out); n > 0 && out[n-1].end == i {
			out[n-1].end = i + 1
			continue
		}
		out = append(out, run{start: i, end: i + 1})
	}
	return out
}

// encodeDeviceNameRegs packs up to 16 printable ASCII characters into the
// name slots, two per register, high byte first. Other bytes become '?'.
func encodeDeviceNameRegs(name string) []uint16 {
	var b [status.DeviceNameMaxChars]byte
	n := copy(b[:], name)
	for i := 0; i < n; i++ {
		if b[i] < 0x20 || b[i] > 0x7E {
			b[i] = '?'
		}
	}

	out := make([]uint16, status.SlotDeviceNameSlots)
	for i := range out {
		out[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return out
}
