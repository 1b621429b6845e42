package status

// Encode lays a Snapshot out as a full status block. Slots past SlotLiveEnd
// stay zero; the writer fills the device name itself.
func Encode(s Snapshot) []uint16 {
	live := [SlotLiveEnd + 1]uint16{
		SlotHealthCode:     s.Health,
		SlotLastErrorCode:  s.LastErrorCode,
		SlotSecondsInError: s.SecondsInError,
		SlotCycleCount:     s.CycleCount,
		SlotLastCycleMs:    s.LastCycleMs,
		SlotHWMCycleMs:     s.HWMCycleMs,
		SlotHWMCount:       s.HWMCount,
		SlotLWMCount:       s.LWMCount,
		SlotQueueDepth:     s.QueueDepth,
	}

	regs := make([]uint16, SlotsPerDevice)
	copy(regs, live[:])
	return regs
}
