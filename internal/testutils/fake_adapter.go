package testutils

import (
	"sync"

	"github.com/srg/tagmon/internal/device"
	"github.com/stretchr/testify/mock"
)

// Call is one recorded adapter invocation.
type Call struct {
	Method string
	Args   []any
}

// FakeAdapter is a device.Adapter that records every call and lets tests
// inject adapter events. It embeds mock.Mock so tests can use AssertCalled and
// AssertNotCalled; every method is pre-registered with Maybe().
type FakeAdapter struct {
	mock.Mock

	mu      sync.Mutex
	sink    device.EventSink
	enabled bool
	calls   []Call
}

var _ device.Adapter = (*FakeAdapter)(nil)

// NewFakeAdapter creates a powered-on fake adapter.
func NewFakeAdapter() *FakeAdapter {
	f := &FakeAdapter{enabled: true}
	f.On("Bind", mock.Anything).Maybe()
	f.On("Enabled").Maybe()
	f.On("StartScan", mock.Anything).Maybe()
	f.On("StopScan").Maybe()
	f.On("Connect", mock.Anything).Maybe()
	f.On("Disconnect").Maybe()
	f.On("DiscoverServices").Maybe()
	f.On("WriteCharacteristic", mock.Anything, mock.Anything).Maybe()
	f.On("WriteDescriptor", mock.Anything, mock.Anything).Maybe()
	f.On("SetNotificationEnabled", mock.Anything, mock.Anything).Maybe()
	f.On("Close").Return(nil).Maybe()
	return f
}

func (f *FakeAdapter) record(method string, args ...any) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Method: method, Args: args})
	f.mu.Unlock()
	f.MethodCalled(method, args...)
}

// OnCall runs fn whenever method is invoked, after the call is logged.
// fn runs on the caller's goroutine, which for a session is its loop.
func (f *FakeAdapter) OnCall(method string, fn func(args mock.Arguments)) {
	for _, c := range f.ExpectedCalls {
		if c.Method == method {
			c.Run(fn)
		}
	}
}

// SetEnabled switches the simulated radio on or off.
func (f *FakeAdapter) SetEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
}

// Emit posts ev to the bound sink as the platform would.
func (f *FakeAdapter) Emit(ev device.AdapterEvent) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	if sink != nil {
		sink.Post(ev)
	}
}

// Calls returns a copy of the call log in invocation order. Bind is not logged.
func (f *FakeAdapter) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the logged calls of one method.
func (f *FakeAdapter) CallsTo(method string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Writes returns the logged characteristic and descriptor writes in order.
func (f *FakeAdapter) Writes() []device.PendingWrite {
	var out []device.PendingWrite
	for _, c := range f.Calls() {
		switch c.Method {
		case "WriteCharacteristic":
			out = append(out, device.PendingWrite{Kind: device.CharacteristicWrite, Handle: c.Args[0].(device.Handle), Payload: c.Args[1].([]byte)})
		case "WriteDescriptor":
			out = append(out, device.PendingWrite{Kind: device.DescriptorWrite, Handle: c.Args[0].(device.Handle), Payload: c.Args[1].([]byte)})
		}
	}
	return out
}

// ResetCalls clears the call log.
func (f *FakeAdapter) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *FakeAdapter) Bind(sink device.EventSink) {
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
	f.MethodCalled("Bind", sink)
}

func (f *FakeAdapter) Enabled() bool {
	f.record("Enabled")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *FakeAdapter) StartScan(nameFilter string) { f.record("StartScan", nameFilter) }
func (f *FakeAdapter) StopScan()                   { f.record("StopScan") }
func (f *FakeAdapter) Connect(address string)      { f.record("Connect", address) }
func (f *FakeAdapter) Disconnect()                 { f.record("Disconnect") }
func (f *FakeAdapter) DiscoverServices()           { f.record("DiscoverServices") }

func (f *FakeAdapter) WriteCharacteristic(h device.Handle, payload []byte) {
	f.record("WriteCharacteristic", h, payload)
}

func (f *FakeAdapter) WriteDescriptor(h device.Handle, payload []byte) {
	f.record("WriteDescriptor", h, payload)
}

func (f *FakeAdapter) SetNotificationEnabled(h device.Handle, enabled bool) {
	f.record("SetNotificationEnabled", h, enabled)
}

func (f *FakeAdapter) Close() error {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Method: "Close"})
	f.mu.Unlock()
	return f.MethodCalled("Close").Error(0)
}
