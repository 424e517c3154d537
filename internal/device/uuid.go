package device

import (
	"encoding/hex"
	"strings"
)

// sigBaseSuffix is the Bluetooth SIG base UUID (0000xxxx-0000-1000-8000-00805f9b34fb)
// without its 16-bit slot, in normalized form.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal form (lowercase, no dashes).
// A leading 0x is stripped. Full 128-bit UUIDs built on the Bluetooth SIG base
// are reduced to their 16-bit short form, so "00002902-0000-1000-8000-00805f9b34fb"
// and "2902" normalize identically.
// Returns an empty string if the input is not a valid 16, 32 or 128-bit UUID.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")

	switch len(s) {
	case 4, 8, 32:
	default:
		return ""
	}
	if _, err := hex.DecodeString(s); err != nil {
		return ""
	}

	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// EqualUUID reports whether two UUID strings identify the same attribute type.
func EqualUUID(a, b string) bool {
	na := NormalizeUUID(a)
	return na != "" && na == NormalizeUUID(b)
}
