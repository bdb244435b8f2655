package domain

// ScanState is the lifecycle of one probe instance.
type ScanState int

const (
	ScanUninitialized ScanState = iota
	ScanInitialized
	ScanScanning
	ScanIdle
	ScanStopped
)

func (s ScanState) String() string {
	switch s {
	case ScanUninitialized:
		return "uninitialized"
	case ScanInitialized:
		return "initialized"
	case ScanScanning:
		return "scanning"
	case ScanIdle:
		return "idle"
	case ScanStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CanTransition reports whether next is reachable from s in one step.
// Stopped is terminal; Scanning and Idle alternate.
func (s ScanState) CanTransition(next ScanState) bool {
	if s == ScanStopped {
		return false
	}
	switch next {
	case ScanInitialized:
		return s == ScanUninitialized
	case ScanScanning:
		return s == ScanInitialized || s == ScanIdle || s == ScanScanning
	case ScanIdle:
		return s == ScanScanning
	case ScanStopped:
		return true
	default:
		return false
	}
}
