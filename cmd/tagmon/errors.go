package main

import (
	"errors"

	"github.com/srg/tagmon/internal/device"
	"github.com/srg/tagmon/internal/sensor"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while monitoring.
	ErrConnectionLost = errors.New("connection lost")
	// ErrDeviceNotFound indicates the scan window elapsed without the requested peripheral.
	ErrDeviceNotFound = errors.New("device not found")
)

// FormatUserError turns known errors into a one-line message for the terminal.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off or unavailable. Turn it on and try again."
	case errors.Is(err, device.ErrUnsupported):
		return "Bluetooth LE is not supported on this platform."
	case errors.Is(err, ErrDeviceNotFound):
		return err.Error() + ". Make sure the SensorTag is powered and advertising."
	case errors.Is(err, ErrConnectionLost):
		return "Connection to the SensorTag was lost."
	case errors.Is(err, sensor.ErrOutOfRange):
		return "Payload too short: " + err.Error()
	default:
		return err.Error()
	}
}
