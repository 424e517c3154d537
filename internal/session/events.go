package session

import (
	"fmt"

	"github.com/srg/tagmon/internal/device"
)

// Event is delivered to registered listeners. The concrete types are
// StateChanged, DeviceFound, SensorData, IlluminanceData and WriteFailed.
type Event interface {
	event()
}

// StateChanged is emitted whenever the session state actually changes.
type StateChanged struct {
	State State
}

// DeviceFound carries every address recorded in the current scan window, in
// discovery order.
type DeviceFound struct {
	Addresses []string
}

// SensorData is a decoded environmental sample, scaled by 100.
type SensorData struct {
	TemperatureCentidegrees int32
	HumidityCentipercent    int32
}

// IlluminanceData is a decoded luxometer sample, scaled by 100.
type IlluminanceData struct {
	LuxCentilux int32
}

// WriteFailed reports a GATT write that completed with an error. The write
// queue has already moved on to the next write.
type WriteFailed struct {
	Kind   device.WriteKind
	Handle device.Handle
	Err    error
}

func (StateChanged) event()    {}
func (DeviceFound) event()     {}
func (SensorData) event()      {}
func (IlluminanceData) event() {}
func (WriteFailed) event()     {}

func (e StateChanged) String() string { return fmt.Sprintf("state=%s", e.State) }

func (e SensorData) String() string {
	return fmt.Sprintf("temperature=%.2f humidity=%.2f",
		float64(e.TemperatureCentidegrees)/100, float64(e.HumidityCentipercent)/100)
}

func (e IlluminanceData) String() string {
	return fmt.Sprintf("lux=%.2f", float64(e.LuxCentilux)/100)
}
