package connection

// State is the lifecycle state of the control link.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	ScanningForDevices
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case ScanningForDevices:
		return "scanning"
	default:
		return "unknown"
	}
}

// Linked reports whether a live link exists in this state.
func (s State) Linked() bool {
	return s == Connected || s == ScanningForDevices
}
