package sensor

import "github.com/srg/tagmon/internal/device"

// TargetName is the advertised local name of the SensorTag peripheral.
const TargetName = "CC1350 SensorTag"

// SensorTag GATT identifiers. These must match the peripheral firmware.
const (
	HumidityServiceUUID = "f000aa20-0451-4000-b000-000000000000"
	HumidityDataUUID    = "f000aa21-0451-4000-b000-000000000000"
	HumidityConfigUUID  = "f000aa22-0451-4000-b000-000000000000"

	LuxometerServiceUUID = "f000aa70-0451-4000-b000-000000000000"
	LuxometerDataUUID    = "f000aa71-0451-4000-b000-000000000000"
	LuxometerConfigUUID  = "f000aa72-0451-4000-b000-000000000000"

	// ClientConfigUUID is the standard Client Characteristic Configuration descriptor.
	ClientConfigUUID = "00002902-0000-1000-8000-00805f9b34fb"
)

// Payloads written during subscription setup.
var (
	EnableSensor       = []byte{0x01}
	EnableNotification = []byte{0x01, 0x00}
)

var (
	humidityData  = device.NormalizeUUID(HumidityDataUUID)
	luxometerData = device.NormalizeUUID(LuxometerDataUUID)
)

// Profile describes the GATT wiring of one SensorTag sensor.
type Profile struct {
	Name    string
	Service string
	Data    string
	Config  string
}

// Profiles returns the sensors a session subscribes to, environmental first.
func Profiles() []Profile {
	return []Profile{
		{Name: "environmental", Service: HumidityServiceUUID, Data: HumidityDataUUID, Config: HumidityConfigUUID},
		{Name: "illuminance", Service: LuxometerServiceUUID, Data: LuxometerDataUUID, Config: LuxometerConfigUUID},
	}
}
