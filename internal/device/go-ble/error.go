package goble

import (
	"fmt"
	"strings"

	"github.com/srg/tagmon/internal/device"
)

// errorRule maps go-ble error text onto a device sentinel. All fragments
// must appear (case-insensitively) for the rule to match.
type errorRule struct {
	fragments []string
	sentinel  error
}

// Order matters: "device not connected" must win over the broader "disconnected".
var errorRules = []errorRule{
	{[]string{"have=4", "is bluetooth turned on"}, device.ErrBluetoothOff},
	{[]string{"bluetooth is turned off"}, device.ErrBluetoothOff},
	{[]string{"can't init hci"}, device.ErrBluetoothOff},
	{[]string{"no devices available"}, device.ErrBluetoothOff},
	{[]string{"device not connected"}, device.ErrNotConnected},
	{[]string{"disconnected"}, device.ErrNotConnected},
	{[]string{"device already connected"}, device.ErrAlreadyConnected},
	{[]string{"connection is not initialized"}, device.ErrNotInitialized},
}

// NormalizeError wraps known go-ble failures in the matching device sentinel so
// callers can use errors.Is. Unknown errors are returned unchanged.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range errorRules {
		if rule.matches(msg) {
			return fmt.Errorf("%w: %v", rule.sentinel, err)
		}
	}
	return err
}

func (r errorRule) matches(msg string) bool {
	for _, f := range r.fragments {
		if !strings.Contains(msg, f) {
			return false
		}
	}
	return true
}
