// Package telemetry periodically uploads the latest SensorTag readings,
// stamped with a fixed location, to an HTTP collector.
package telemetry

import (
	"fmt"
	"math"
)

// Reading is one uploaded sample.
type Reading struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Light       float64 `json:"light"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

func (r Reading) String() string {
	return fmt.Sprintf("temperature=%.2f humidity=%.2f light=%.1f at (%.5f, %.5f)",
		r.Temperature, r.Humidity, r.Light, r.Latitude, r.Longitude)
}

// Location is a fixed position attached to every reading.
type Location struct {
	Latitude  float64
	Longitude float64
}

// centiToUnit converts a value scaled by 100.
func centiToUnit(v int32) float64 {
	return float64(v) / 100
}

// centiluxToLux converts centilux to lux rounded to one decimal.
func centiluxToLux(v int32) float64 {
	return math.Round(float64(v)/10) / 10
}
