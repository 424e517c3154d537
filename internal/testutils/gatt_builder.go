package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/tagmon/internal/device"
	"github.com/srg/tagmon/internal/sensor"
)

// DescriptorConfig is a descriptor in a GATT profile description.
type DescriptorConfig struct {
	UUID   string `json:"uuid"`
	Handle uint16 `json:"handle"`
}

// CharacteristicConfig is a characteristic in a GATT profile description.
type CharacteristicConfig struct {
	UUID        string             `json:"uuid"`
	Handle      uint16             `json:"handle"`
	Descriptors []DescriptorConfig `json:"descriptors,omitempty"`
}

// ServiceConfig is a service in a GATT profile description.
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// GATTBuilder builds the []device.Service snapshot an adapter reports from discovery.
type GATTBuilder struct {
	services []ServiceConfig
}

// NewGATTBuilder creates an empty profile builder.
func NewGATTBuilder() *GATTBuilder {
	return &GATTBuilder{}
}

// WithService adds a service to the profile
func (b *GATTBuilder) WithService(uuid string) *GATTBuilder {
	b.services = append(b.services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *GATTBuilder) WithCharacteristic(uuid string, handle uint16) *GATTBuilder {
	if len(b.services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	svc := &b.services[len(b.services)-1]
	svc.Characteristics = append(svc.Characteristics, CharacteristicConfig{UUID: uuid, Handle: handle})
	return b
}

// WithDescriptor adds a descriptor to the last added characteristic
func (b *GATTBuilder) WithDescriptor(uuid string, handle uint16) *GATTBuilder {
	if len(b.services) == 0 || len(b.services[len(b.services)-1].Characteristics) == 0 {
		panic("WithDescriptor: no characteristic added yet, call WithCharacteristic first")
	}
	svc := &b.services[len(b.services)-1]
	ch := &svc.Characteristics[len(svc.Characteristics)-1]
	ch.Descriptors = append(ch.Descriptors, DescriptorConfig{UUID: uuid, Handle: handle})
	return b
}

// FromJSON replaces the profile with a JSON array of services.
func (b *GATTBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *GATTBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var services []ServiceConfig
	if err := json.Unmarshal([]byte(jsonStr), &services); err != nil {
		panic(fmt.Sprintf("GATTBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.services = services
	return b
}

// Build returns the profile as discovery snapshots.
func (b *GATTBuilder) Build() []device.Service {
	out := make([]device.Service, 0, len(b.services))
	for _, sc := range b.services {
		svc := device.Service{UUID: sc.UUID}
		for _, cc := range sc.Characteristics {
			ch := device.Characteristic{UUID: cc.UUID, Handle: device.Handle(cc.Handle)}
			for _, dc := range cc.Descriptors {
				ch.Descriptors = append(ch.Descriptors, device.Descriptor{UUID: dc.UUID, Handle: device.Handle(dc.Handle)})
			}
			svc.Characteristics = append(svc.Characteristics, ch)
		}
		out = append(out, svc)
	}
	return out
}

// SensorTag handles used by SensorTagProfile.
const (
	HumidityDataHandle    uint16 = 0x24
	HumidityCCCHandle     uint16 = 0x25
	HumidityConfigHandle  uint16 = 0x27
	LuxometerDataHandle   uint16 = 0x44
	LuxometerCCCHandle    uint16 = 0x45
	LuxometerConfigHandle uint16 = 0x47
)

// WithHumidityService adds the complete humidity sensor wiring.
func (b *GATTBuilder) WithHumidityService() *GATTBuilder {
	return b.WithService(sensor.HumidityServiceUUID).
		WithCharacteristic(sensor.HumidityDataUUID, HumidityDataHandle).
		WithDescriptor(sensor.ClientConfigUUID, HumidityCCCHandle).
		WithCharacteristic(sensor.HumidityConfigUUID, HumidityConfigHandle)
}

// WithLuxometerService adds the complete luxometer wiring.
func (b *GATTBuilder) WithLuxometerService() *GATTBuilder {
	return b.WithService(sensor.LuxometerServiceUUID).
		WithCharacteristic(sensor.LuxometerDataUUID, LuxometerDataHandle).
		WithDescriptor(sensor.ClientConfigUUID, LuxometerCCCHandle).
		WithCharacteristic(sensor.LuxometerConfigUUID, LuxometerConfigHandle)
}

// SensorTagProfile returns a SensorTag profile with both sensors and the
// generic access service.
func SensorTagProfile() []device.Service {
	return NewGATTBuilder().
		WithService("1800").
		WithCharacteristic("2a00", 0x03).
		WithHumidityService().
		WithLuxometerService().
		Build()
}
