package status

// Snapshot represents exactly what the status writer is allowed to deliver.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Health         uint16
	LastErrorCode  uint16
	SecondsInError uint16

	CycleCount  uint16
	LastCycleMs uint16
	HWMCycleMs  uint16
	HWMCount    uint16
	LWMCount    uint16
	QueueDepth  uint16
}

// Sat16 clamps v into a register.
func Sat16[T ~int | ~int64 | ~uint64](v T) uint16 {
	if v < 0 {
		return 0
	}
	if uint64(v) > 65535 {
		return 65535
	}
	return uint16(v)
}
