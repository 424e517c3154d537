package device

import (
	"errors"
	"fmt"
)

// Resource names the kind of GATT entry a lookup was after.
type Resource string

const (
	ServiceResource        Resource = "service"
	CharacteristicResource Resource = "characteristic"
	DescriptorResource     Resource = "descriptor"
)

// NotFoundError reports a failed GATT lookup. ID is the UUID or handle that
// was asked for; Parent, when set, is the UUID of the entry searched in.
type NotFoundError struct {
	Resource Resource
	ID       string
	Parent   string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s %q not found", e.Resource, e.ID)
	switch {
	case e.Parent == "":
		return msg
	case e.Resource == DescriptorResource:
		return fmt.Sprintf("%s in %s %q", msg, CharacteristicResource, e.Parent)
	default:
		return fmt.Sprintf("%s in %s %q", msg, ServiceResource, e.Parent)
	}
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
	BluetoothOff     ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff, Msg: "Bluetooth is turned off or unavailable"}
)

// ErrUnsupported is returned for operations the platform adapter cannot perform
var ErrUnsupported = errors.New("unsupported")
