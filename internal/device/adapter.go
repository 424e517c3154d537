package device

import "fmt"

// Handle is an opaque attribute handle issued by the adapter during discovery.
type Handle uint16

func (h Handle) String() string {
	return fmt.Sprintf("0x%04x", uint16(h))
}

// Descriptor is a discovered GATT descriptor.
type Descriptor struct {
	UUID   string
	Handle Handle
}

// Characteristic is a discovered GATT characteristic with its descriptors.
type Characteristic struct {
	UUID        string
	Handle      Handle
	Descriptors []Descriptor
}

// Descriptor returns the descriptor with the given UUID, comparing normalized forms.
func (c Characteristic) Descriptor(uuid string) (Descriptor, error) {
	for _, d := range c.Descriptors {
		if EqualUUID(d.UUID, uuid) {
			return d, nil
		}
	}
	return Descriptor{}, &NotFoundError{Resource: DescriptorResource, ID: uuid, Parent: c.UUID}
}

// Service is a discovered GATT service with its characteristics.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// Characteristic returns the characteristic with the given UUID, comparing normalized forms.
func (s Service) Characteristic(uuid string) (Characteristic, error) {
	for _, c := range s.Characteristics {
		if EqualUUID(c.UUID, uuid) {
			return c, nil
		}
	}
	return Characteristic{}, &NotFoundError{Resource: CharacteristicResource, ID: uuid, Parent: s.UUID}
}

// FindService returns the first service with the given UUID.
func FindService(services []Service, uuid string) (Service, error) {
	for _, s := range services {
		if EqualUUID(s.UUID, uuid) {
			return s, nil
		}
	}
	return Service{}, &NotFoundError{Resource: ServiceResource, ID: uuid}
}

// AdapterEvent is a result reported by an Adapter. The concrete types are
// ScanResult, LinkStateChanged, ServicesDiscovered, WriteCompleted and
// CharacteristicChanged.
type AdapterEvent interface {
	adapterEvent()
}

// ScanResult is posted for each advertisement seen while scanning.
type ScanResult struct {
	Address string
	Name    string
	RSSI    int
}

// LinkStateChanged is posted when the link comes up or goes down.
// Err is set when a connection attempt failed.
type LinkStateChanged struct {
	Connected bool
	Err       error
}

// ServicesDiscovered is posted once service discovery finishes.
type ServicesDiscovered struct {
	Services []Service
	Err      error
}

// WriteCompleted is posted when a characteristic or descriptor write finishes.
type WriteCompleted struct {
	Kind   WriteKind
	Handle Handle
	Err    error
}

// CharacteristicChanged is posted for every notification received on a
// subscribed characteristic.
type CharacteristicChanged struct {
	UUID   string
	Handle Handle
	Value  []byte
}

func (ScanResult) adapterEvent()            {}
func (LinkStateChanged) adapterEvent()      {}
func (ServicesDiscovered) adapterEvent()    {}
func (WriteCompleted) adapterEvent()        {}
func (CharacteristicChanged) adapterEvent() {}

// EventSink receives adapter events. Implementations must not block for long;
// adapters may call Post from any goroutine.
type EventSink interface {
	Post(AdapterEvent)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(AdapterEvent)

// Post calls f(ev).
func (f EventSinkFunc) Post(ev AdapterEvent) { f(ev) }

// Adapter is the platform BLE central used by a session.
//
// Calls return immediately. Outcomes are delivered to the bound EventSink;
// a call whose preconditions are not met (no link, unknown handle) reports
// the failure through the matching event rather than a return value.
//
// Handles are issued per discovery and never reused, so a WriteCompleted
// carrying an old handle cannot be mistaken for one on a newer link.
type Adapter interface {
	// Bind sets the sink that receives all subsequent events.
	Bind(sink EventSink)

	// Enabled reports whether the radio is powered and usable.
	Enabled() bool

	// StartScan begins discovery. Only advertisements whose local name equals
	// nameFilter are reported; an empty filter reports everything.
	StartScan(nameFilter string)
	StopScan()

	// Connect dials address. While another link is current it posts
	// LinkStateChanged with ErrAlreadyConnected and leaves that link alone.
	Connect(address string)
	Disconnect()
	DiscoverServices()

	// Each write posts exactly one WriteCompleted. Callers keep one write in
	// flight per link.
	WriteCharacteristic(h Handle, payload []byte)
	WriteDescriptor(h Handle, payload []byte)
	// SetNotificationEnabled selects whether notifications from h are
	// delivered. It does no link I/O; the following WriteDescriptor on h's
	// CCCD performs the subscription.
	SetNotificationEnabled(h Handle, enabled bool)

	// Close releases the radio. The adapter posts no events afterwards.
	Close() error
}
