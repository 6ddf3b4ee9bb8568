package wallbox

// Mode is the semantic operating state of a charger, derived from the
// numeric status code the vendor API reports.
type Mode string

const (
	ModeLocked         Mode = "lockedMode"
	ModeReady          Mode = "readyMode"
	ModeStandby        Mode = "standbyMode"
	ModeCharging       Mode = "chargingMode"
	ModeFirmwareUpdate Mode = "firmwareUpdate"
	ModeError          Mode = "errorMode"
	ModeUnknown        Mode = "unknown"
)

// Known status sub-codes that carry their own handling.
const (
	StatusDisconnected  = 0
	StatusComplete      = 4
	StatusOffline       = 5
	StatusErrorPrimary  = 14
	StatusErrorAlt      = 15
	StatusUpdating      = 166
	StatusLockedNoCar   = 209
	StatusLockedCarConn = 210
)

// StatusInfo describes one entry of the vendor status enumeration.
// Description follows the wording of the vendor web portal.
type StatusInfo struct {
	StatusID    int
	Mode        Mode
	Description string
}

// statusTable is the full enumeration of status codes observed from the
// vendor API. Codes absent from the table resolve to ModeUnknown.
var statusTable = []StatusInfo{
	{StatusDisconnected, ModeError, "Disconnected"},
	{StatusComplete, ModeStandby, "Complete"},
	{StatusOffline, ModeError, "Offline"},
	{StatusErrorPrimary, ModeError, "Error"},
	{StatusErrorAlt, ModeError, "Error"},
	{161, ModeReady, "Ready"},
	{162, ModeReady, "Ready"},
	{163, ModeError, "Disconnected"},
	{164, ModeStandby, "Waiting"},
	{165, ModeLocked, "Locked"},
	{StatusUpdating, ModeFirmwareUpdate, "Updating"},
	{177, ModeStandby, "Scheduled"},
	{178, ModeStandby, "Paused"},
	{179, ModeStandby, "Scheduled"},
	{180, ModeStandby, "Waiting for car demand"},
	{181, ModeStandby, "Waiting for car demand"},
	{182, ModeStandby, "Paused"},
	{183, ModeStandby, "Waiting in queue by Power Sharing"},
	{184, ModeStandby, "Waiting in queue by Power Sharing"},
	{185, ModeStandby, "Waiting in queue by Power Boost"},
	{186, ModeStandby, "Waiting in queue by Power Boost"},
	{187, ModeStandby, "Waiting MID failed"},
	{188, ModeStandby, "Waiting MID safety margin exceeded"},
	{189, ModeStandby, "Waiting in queue by Eco-Smart"},
	{193, ModeCharging, "Charging"},
	{194, ModeCharging, "Charging"},
	{195, ModeCharging, "Charging"},
	{196, ModeCharging, "Discharging"},
	{StatusLockedNoCar, ModeLocked, "Locked"},
	{StatusLockedCarConn, ModeLocked, "Locked, car connected"},
}

var statusIndex = buildStatusIndex()

func buildStatusIndex() map[int]StatusInfo {
	idx := make(map[int]StatusInfo, len(statusTable))
	for _, info := range statusTable {
		idx[info.StatusID] = info
	}
	return idx
}

// LookupStatus returns the enumeration entry for a status code. The second
// return is false for codes not in the table; callers treat that as
// ModeUnknown, never as a failure.
func LookupStatus(statusID int) (StatusInfo, bool) {
	info, ok := statusIndex[statusID]
	return info, ok
}

// ResolveMode maps a status code to its semantic mode. It is the single
// source of truth for command-legality decisions and must stay
// deterministic and side-effect-free.
func ResolveMode(statusID int) Mode {
	if info, ok := statusIndex[statusID]; ok {
		return info.Mode
	}
	return ModeUnknown
}

// StatusCodes returns every status code in the enumeration, for callers
// that want to iterate the table (tests, diagnostics).
func StatusCodes() []int {
	codes := make([]int, 0, len(statusTable))
	for _, info := range statusTable {
		codes = append(codes, info.StatusID)
	}
	return codes
}
