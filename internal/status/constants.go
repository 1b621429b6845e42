package status

// Capture Status Block layout constants.
// These values define the register map seen by the PLC and MUST NOT be configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerDevice is the fixed number of logical slots per capture client.
const SlotsPerDevice = 20

// ---- SLOT INDICES ----

// SlotHealthCode holds the session health state.
const SlotHealthCode = 0

// SlotLastErrorCode holds the last run/phase exit code.
const SlotLastErrorCode = 1

// SlotSecondsInError holds the duration (in seconds) keep-alive has been failing.
const SlotSecondsInError = 2

// SlotCycleCount holds the number of completed anchor cycles (saturating).
const SlotCycleCount = 3

// SlotLastCycleMs holds the duration of the last cycle in milliseconds.
const SlotLastCycleMs = 4

// SlotHWMCycleMs holds the high-water mark of cycle duration in milliseconds.
const SlotHWMCycleMs = 5

// SlotHWMCount holds the high-water mark of notifications per cycle.
const SlotHWMCount = 6

// SlotLWMCount holds the low-water mark of notifications per cycle.
const SlotLWMCount = 7

// SlotQueueDepth holds the number of batches waiting to be written.
const SlotQueueDepth = 8

// SlotLiveEnd is the last live slot (inclusive).
const SlotLiveEnd = SlotQueueDepth

// ---- RESERVED RANGE ----

// Slots 9–10 are reserved for future use.
const SlotReservedStart = 9
const SlotReservedEnd = 10

// ---- DEVICE NAME ----

// SlotDeviceNameStart is the first slot used for the device name.
// Device name is always placed at the END of the status block.
const SlotDeviceNameStart = 11

// SlotDeviceNameSlots is the number of slots reserved for the device name.
const SlotDeviceNameSlots = 8

// SlotDeviceNameEnd is the last slot used for the device name (inclusive).
const SlotDeviceNameEnd = SlotDeviceNameStart + SlotDeviceNameSlots - 1

// ---- LIMITS ----

// DeviceNameMaxChars is the maximum number of ASCII characters stored for device name.
const DeviceNameMaxChars = 16

// ---- HEALTH CODES ----

// HealthUnknown represents an unknown or boot state.
const HealthUnknown uint16 = 0

// HealthOK represents a connected session with good keep-alive.
const HealthOK uint16 = 1

// HealthError represents a failed keep-alive.
const HealthError uint16 = 2

// HealthStale represents a reconnect in flight; data may be stale.
const HealthStale uint16 = 3

// HealthDisabled represents a closed session.
const HealthDisabled uint16 = 4
