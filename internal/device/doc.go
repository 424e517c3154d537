// Package device defines the boundary between the session logic and a
// platform Bluetooth Low Energy adapter.
//
// An Adapter is driven by fire-and-forget calls. Every result comes back as an
// AdapterEvent posted to the EventSink bound with Adapter.Bind, so the caller
// never blocks on radio I/O. The package also provides:
//   - GATT snapshots (Service, Characteristic, Descriptor) produced by discovery
//   - WriteQueue, which serializes GATT writes to one in flight at a time
//   - UUID normalization helpers
//   - connection error types shared by adapter implementations
package device
