package monitor

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateFetching
	StateExtracting
	StateDelivering
	StateRecording
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFetching:
		return "fetching"
	case StateExtracting:
		return "extracting"
	case StateDelivering:
		return "delivering"
	case StateRecording:
		return "recording"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
