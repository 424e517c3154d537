// Package sensor decodes SensorTag notification payloads into physical values.
//
// All functions are pure: the same payload always yields the same value and no
// state is kept between calls. Callers select a decoder by the UUID of the
// notifying characteristic (see Decode), never by the shape of the payload.
package sensor

import (
	"errors"
	"fmt"
	"math"

	"github.com/srg/tagmon/internal/device"
)

// Decoding errors
var (
	ErrOutOfRange            = errors.New("offset out of range")
	ErrUnknownCharacteristic = errors.New("unknown characteristic")
)

// Sample is a decoded sensor value. It is implemented by Environmental and Illuminance.
type Sample interface {
	sample()
}

// Environmental is a decoded humidity service sample.
type Environmental struct {
	Temperature float64 // °C
	Humidity    float64 // %RH
}

func (Environmental) sample() {}

// Centi returns the sample scaled by 100 and truncated toward zero, which is
// the integer form carried by SensorData events.
func (e Environmental) Centi() (temperatureCentidegrees, humidityCentipercent int32) {
	return int32(e.Temperature * 100), int32(e.Humidity * 100)
}

// Illuminance is a decoded luxometer service sample.
type Illuminance struct {
	Lux float64
}

func (Illuminance) sample() {}

// Centilux returns the sample scaled by 100 and truncated toward zero.
func (i Illuminance) Centilux() int32 {
	return int32(i.Lux * 100)
}

// DecodeUint16LE composes payload[offset] (low) and payload[offset+1] (high)
// into an unsigned 16-bit value.
func DecodeUint16LE(payload []byte, offset int) (uint16, error) {
	if offset < 0 || offset+1 >= len(payload) {
		return 0, fmt.Errorf("%w: need bytes %d..%d, payload has %d", ErrOutOfRange, offset, offset+1, len(payload))
	}
	return uint16(payload[offset]) | uint16(payload[offset+1])<<8, nil
}

// DecodeEnvironmental decodes a humidity service data payload: raw temperature
// at offset 0 and raw humidity at offset 2.
func DecodeEnvironmental(payload []byte) (Environmental, error) {
	t, err := DecodeUint16LE(payload, 0)
	if err != nil {
		return Environmental{}, fmt.Errorf("temperature: %w", err)
	}
	h, err := DecodeUint16LE(payload, 2)
	if err != nil {
		return Environmental{}, fmt.Errorf("humidity: %w", err)
	}
	return Environmental{
		Temperature: float64(t)/65536*165 - 40,
		Humidity:    float64(h) / 65536 * 100,
	}, nil
}

// DecodeIlluminance decodes a luxometer data payload. The raw value is a
// 12-bit mantissa with a 4-bit exponent in the top nibble.
func DecodeIlluminance(payload []byte) (Illuminance, error) {
	v, err := DecodeUint16LE(payload, 0)
	if err != nil {
		return Illuminance{}, fmt.Errorf("illuminance: %w", err)
	}
	m := v & 0x0FFF
	e := (v & 0xF000) >> 12
	return Illuminance{Lux: float64(m) * (0.01 * math.Pow(2, float64(e)))}, nil
}

// Decode dispatches payload to the decoder registered for the characteristic uuid.
func Decode(uuid string, payload []byte) (Sample, error) {
	var (
		s   Sample
		err error
	)
	switch device.NormalizeUUID(uuid) {
	case humidityData:
		s, err = DecodeEnvironmental(payload)
	case luxometerData:
		s, err = DecodeIlluminance(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCharacteristic, uuid)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
