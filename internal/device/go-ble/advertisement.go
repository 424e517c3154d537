package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/tagmon/internal/device"
)

// NewScanResult converts a go-ble advertisement into the adapter event posted
// for it. Advertisements without an address are reported with an empty one.
func NewScanResult(adv ble.Advertisement) device.ScanResult {
	res := device.ScanResult{
		Name: adv.LocalName(),
		RSSI: adv.RSSI(),
	}
	if addr := adv.Addr(); addr != nil {
		res.Address = addr.String()
	}
	return res
}
