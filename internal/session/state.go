package session

// State is the lifecycle state of a session.
type State int

const (
	Unknown State = iota
	Idle
	Scanning
	BluetoothOff
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case BluetoothOff:
		return "bluetooth_off"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "invalid"
	}
}

// linked reports whether the session holds or is establishing a link.
func (s State) linked() bool {
	return s == Connecting || s == Connected
}
