package session_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/tagmon/internal/device"
	"github.com/srg/tagmon/internal/sensor"
	"github.com/srg/tagmon/internal/session"
	"github.com/srg/tagmon/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	tagAddr   = "a4:34:f1:00:00:01"
	tagAddr2  = "a4:34:f1:00:00:02"
	otherName = "Keyboard K380"
)

// recorder keeps every event delivered to it.
type recorder struct {
	mu     sync.Mutex
	events []session.Event
	fail   error
}

func (r *recorder) Deliver(ev session.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) setFail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

func (r *recorder) all() []session.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) states() []session.State {
	var out []session.State
	for _, ev := range r.all() {
		if sc, ok := ev.(session.StateChanged); ok {
			out = append(out, sc.State)
		}
	}
	return out
}

// ofType returns the recorded events with the same dynamic type as sample.
func (r *recorder) ofType(sample session.Event) []session.Event {
	var out []session.Event
	for _, ev := range r.all() {
		if reflect.TypeOf(ev) == reflect.TypeOf(sample) {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) found() [][]string {
	var out [][]string
	for _, ev := range r.all() {
		if df, ok := ev.(session.DeviceFound); ok {
			out = append(out, df.Addresses)
		}
	}
	return out
}

type SessionTestSuite struct {
	suite.Suite
	adapter  *testutils.FakeAdapter
	session  *session.Session
	listener *recorder
	logs     *testutils.LogBuffer
	cancel   context.CancelFunc
	runErr   chan error
}

func (s *SessionTestSuite) SetupTest() {
	s.start(session.Options{ScanPeriod: time.Hour})
}

func (s *SessionTestSuite) TearDownTest() {
	s.stop()
}

func (s *SessionTestSuite) start(opts session.Options) {
	logger, buf := testutils.CaptureLogger(logrus.DebugLevel)
	s.logs = buf
	s.adapter = testutils.NewFakeAdapter()
	s.session = session.New(s.adapter, opts, logger)
	s.listener = &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.runErr = make(chan error, 1)
	go func() { s.runErr <- s.session.Run(ctx) }()

	s.Require().NoError(s.session.Register(s.listener))
	s.sync()
}

func (s *SessionTestSuite) stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	select {
	case err := <-s.runErr:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.Fail("session loop did not stop")
	}
	s.cancel = nil
}

// sync waits until the loop has handled everything posted so far.
func (s *SessionTestSuite) sync() session.State {
	st, err := s.session.State()
	s.Require().NoError(err)
	return st
}

// stateIs is safe to poll from Eventually.
func (s *SessionTestSuite) stateIs(want session.State) func() bool {
	return func() bool {
		st, err := s.session.State()
		return err == nil && st == want
	}
}

func (s *SessionTestSuite) emit(ev device.AdapterEvent) {
	s.adapter.Emit(ev)
	s.sync()
}

func (s *SessionTestSuite) scanAndFind(addresses ...string) {
	s.Require().NoError(s.session.StartScan())
	for _, a := range addresses {
		s.adapter.Emit(device.ScanResult{Address: a, Name: sensor.TargetName, RSSI: -60})
	}
	s.sync()
}

func (s *SessionTestSuite) connect() {
	s.scanAndFind(tagAddr)
	s.Require().NoError(s.session.Connect(tagAddr))
	s.emit(device.LinkStateChanged{Connected: true})
	s.Require().Equal(session.Connected, s.sync())
}

func (s *SessionTestSuite) connectAndDiscover() {
	s.connect()
	s.adapter.ResetCalls()
	s.emit(device.ServicesDiscovered{Services: testutils.SensorTagProfile()})
}

func (s *SessionTestSuite) methods() []string {
	var out []string
	for _, c := range s.adapter.Calls() {
		if c.Method != "Enabled" {
			out = append(out, c.Method)
		}
	}
	return out
}

// completeLastWrite reports the most recently submitted write as finished.
func (s *SessionTestSuite) completeLastWrite() {
	writes := s.adapter.Writes()
	s.Require().NotEmpty(writes, "no write submitted")
	last := writes[len(writes)-1]
	s.emit(device.WriteCompleted{Kind: last.Kind, Handle: last.Handle})
}

// relabel returns a copy of services with every handle moved by offset, the
// way a fresh discovery on a new link issues new handles.
func relabel(services []device.Service, offset device.Handle) []device.Service {
	out := make([]device.Service, len(services))
	for i, svc := range services {
		out[i] = device.Service{UUID: svc.UUID}
		for _, ch := range svc.Characteristics {
			c := device.Characteristic{UUID: ch.UUID, Handle: ch.Handle + offset}
			for _, d := range ch.Descriptors {
				c.Descriptors = append(c.Descriptors, device.Descriptor{UUID: d.UUID, Handle: d.Handle + offset})
			}
			out[i].Characteristics = append(out[i].Characteristics, c)
		}
	}
	return out
}

func h(v uint16) device.Handle { return device.Handle(v) }

func (s *SessionTestSuite) TestInitialStateIsUnknown() {
	s.Equal(session.Unknown, s.sync())
	s.Empty(s.listener.all())
}

func (s *SessionTestSuite) TestStartScan() {
	s.Require().NoError(s.session.StartScan())
	s.Equal(session.Scanning, s.sync())
	s.Equal([]session.State{session.Scanning}, s.listener.states())

	calls := s.adapter.CallsTo("StartScan")
	s.Require().Len(calls, 1)
	s.Equal(sensor.TargetName, calls[0].Args[0])
}

func (s *SessionTestSuite) TestStartScanWithBluetoothOff() {
	s.adapter.SetEnabled(false)
	s.Require().NoError(s.session.StartScan())

	s.Equal(session.BluetoothOff, s.sync())
	s.Equal([]session.State{session.Scanning, session.BluetoothOff}, s.listener.states())
	s.Empty(s.adapter.CallsTo("StartScan"))
}

func (s *SessionTestSuite) TestScanWindowElapses() {
	s.stop()
	s.start(session.Options{ScanPeriod: 20 * time.Millisecond})

	s.Require().NoError(s.session.StartScan())
	s.Eventually(s.stateIs(session.Idle), time.Second, 5*time.Millisecond)
	s.Equal([]session.State{session.Scanning, session.Idle}, s.listener.states())
	s.Len(s.adapter.CallsTo("StopScan"), 1)
}

func (s *SessionTestSuite) TestRescanSupersedesTimer() {
	s.stop()
	s.start(session.Options{ScanPeriod: 200 * time.Millisecond})

	s.Require().NoError(s.session.StartScan())
	time.Sleep(120 * time.Millisecond)
	s.Require().NoError(s.session.StartScan())
	time.Sleep(120 * time.Millisecond)

	// first window would have elapsed by now
	s.Equal(session.Scanning, s.sync())
	s.Empty(s.adapter.CallsTo("StopScan"))
	s.Eventually(s.stateIs(session.Idle), time.Second, 5*time.Millisecond)
	s.Len(s.adapter.CallsTo("StopScan"), 1)
}

func (s *SessionTestSuite) TestScanResultFiltering() {
	s.Require().NoError(s.session.StartScan())
	s.adapter.Emit(device.ScanResult{Address: tagAddr, Name: sensor.TargetName})
	s.adapter.Emit(device.ScanResult{Address: "11:22:33:44:55:66", Name: otherName})
	s.adapter.Emit(device.ScanResult{Address: "", Name: sensor.TargetName})
	s.adapter.Emit(device.ScanResult{Address: tagAddr, Name: sensor.TargetName})
	s.adapter.Emit(device.ScanResult{Address: tagAddr2, Name: sensor.TargetName})
	s.sync()

	s.Equal([][]string{{tagAddr}, {tagAddr, tagAddr2}}, s.listener.found())
	addrs, err := s.session.Addresses()
	s.Require().NoError(err)
	s.Equal([]string{tagAddr, tagAddr2}, addrs)
}

func (s *SessionTestSuite) TestDeviceFoundListsNeverShrinkWithinWindow() {
	s.scanAndFind(tagAddr, tagAddr2, tagAddr, "a4:34:f1:00:00:03")

	found := s.listener.found()
	s.Require().Len(found, 3)
	for i := 1; i < len(found); i++ {
		s.Greater(len(found[i]), len(found[i-1]))
		s.Equal(found[i-1], found[i][:len(found[i-1])])
	}
}

func (s *SessionTestSuite) TestRescanClearsRegistry() {
	s.scanAndFind(tagAddr, tagAddr2)
	s.scanAndFind(tagAddr2)

	addrs, err := s.session.Addresses()
	s.Require().NoError(err)
	s.Equal([]string{tagAddr2}, addrs)

	found := s.listener.found()
	s.Equal([]string{tagAddr2}, found[len(found)-1])
	// Scanning -> Scanning is not a change
	s.Equal([]session.State{session.Scanning}, s.listener.states())
}

func (s *SessionTestSuite) TestConnectUnknownAddressIgnored() {
	s.scanAndFind(tagAddr)
	s.Require().NoError(s.session.Connect(tagAddr2))

	s.Equal(session.Scanning, s.sync())
	s.Empty(s.adapter.CallsTo("Connect"))
	s.Contains(s.logs.String(), "unknown address")
}

func (s *SessionTestSuite) TestConnectStopsScan() {
	s.scanAndFind(tagAddr)
	s.adapter.ResetCalls()
	s.Require().NoError(s.session.Connect(tagAddr))

	s.Equal(session.Connecting, s.sync())
	s.Equal([]string{"StopScan", "Connect"}, s.methods())
	s.Equal(tagAddr, s.adapter.CallsTo("Connect")[0].Args[0])
}

func (s *SessionTestSuite) TestConnectAfterScanWindowDoesNotStopScan() {
	s.stop()
	s.start(session.Options{ScanPeriod: 10 * time.Millisecond})
	s.scanAndFind(tagAddr)
	s.Eventually(s.stateIs(session.Idle), time.Second, 5*time.Millisecond)
	s.adapter.ResetCalls()

	s.Require().NoError(s.session.Connect(tagAddr))
	s.Equal(session.Connecting, s.sync())
	s.Equal([]string{"Connect"}, s.methods())
}

func (s *SessionTestSuite) TestConnectWhileLinkedIgnored() {
	s.connect()
	s.adapter.ResetCalls()

	s.Require().NoError(s.session.Connect(tagAddr))
	s.Equal(session.Connected, s.sync())
	s.Empty(s.adapter.CallsTo("Connect"))
}

func (s *SessionTestSuite) TestLinkUpStartsDiscovery() {
	s.connect()

	s.Equal([]session.State{session.Scanning, session.Connecting, session.Connected}, s.listener.states())
	s.Len(s.adapter.CallsTo("DiscoverServices"), 1)
}

func (s *SessionTestSuite) TestUnexpectedLinkUpDisconnects() {
	s.scanAndFind(tagAddr)
	s.adapter.ResetCalls()

	s.emit(device.LinkStateChanged{Connected: true})
	s.Equal(session.Scanning, s.sync())
	s.Equal([]string{"Disconnect"}, s.methods())
}

func (s *SessionTestSuite) TestSubscriptionSequence() {
	s.connectAndDiscover()

	s.Equal([]string{"SetNotificationEnabled", "WriteCharacteristic", "SetNotificationEnabled"}, s.methods())
	notif := s.adapter.CallsTo("SetNotificationEnabled")
	s.Equal([]any{h(testutils.HumidityDataHandle), true}, notif[0].Args)
	s.Equal([]any{h(testutils.LuxometerDataHandle), true}, notif[1].Args)

	for i := 0; i < 3; i++ {
		s.completeLastWrite()
	}

	s.Equal([]device.PendingWrite{
		{Kind: device.CharacteristicWrite, Handle: h(testutils.HumidityConfigHandle), Payload: sensor.EnableSensor},
		{Kind: device.DescriptorWrite, Handle: h(testutils.HumidityCCCHandle), Payload: sensor.EnableNotification},
		{Kind: device.CharacteristicWrite, Handle: h(testutils.LuxometerConfigHandle), Payload: sensor.EnableSensor},
		{Kind: device.DescriptorWrite, Handle: h(testutils.LuxometerCCCHandle), Payload: sensor.EnableNotification},
	}, s.adapter.Writes())
}

func (s *SessionTestSuite) TestOneWriteInFlight() {
	s.connectAndDiscover()
	s.Len(s.adapter.Writes(), 1)

	s.completeLastWrite()
	s.Len(s.adapter.Writes(), 2)

	// a completion for anything but the in-flight write changes nothing
	s.emit(device.WriteCompleted{})
	s.emit(device.WriteCompleted{Kind: device.CharacteristicWrite, Handle: h(testutils.HumidityConfigHandle)})
	s.Len(s.adapter.Writes(), 2)

	s.completeLastWrite()
	s.completeLastWrite()
	s.Len(s.adapter.Writes(), 4)

	// extra completions beyond the queue are harmless
	for i := 0; i < 3; i++ {
		s.completeLastWrite()
	}
	s.Len(s.adapter.Writes(), 4)
}

func (s *SessionTestSuite) TestWriteFailureDrainsQueue() {
	s.connectAndDiscover()
	boom := errors.New("write not permitted")

	s.emit(device.WriteCompleted{Kind: device.CharacteristicWrite, Handle: h(testutils.HumidityConfigHandle), Err: boom})

	s.Len(s.adapter.Writes(), 2)
	var failed []session.WriteFailed
	for _, ev := range s.listener.all() {
		if wf, ok := ev.(session.WriteFailed); ok {
			failed = append(failed, wf)
		}
	}
	s.Require().Len(failed, 1)
	s.Equal(h(testutils.HumidityConfigHandle), failed[0].Handle)
	s.ErrorIs(failed[0].Err, boom)
	s.Contains(s.logs.String(), "GATT write failed")
}

func (s *SessionTestSuite) TestMissingSensorSkipped() {
	s.connect()
	s.adapter.ResetCalls()

	services := testutils.NewGATTBuilder().WithLuxometerService().Build()
	s.emit(device.ServicesDiscovered{Services: services})

	notif := s.adapter.CallsTo("SetNotificationEnabled")
	s.Require().Len(notif, 1)
	s.Equal(h(testutils.LuxometerDataHandle), notif[0].Args[0])
	s.Contains(s.logs.String(), "Sensor not available")
}

func (s *SessionTestSuite) TestMissingDescriptorSkipsProfile() {
	s.connect()
	s.adapter.ResetCalls()

	services := testutils.NewGATTBuilder().
		WithService(sensor.HumidityServiceUUID).
		WithCharacteristic(sensor.HumidityDataUUID, 0x24).
		WithCharacteristic(sensor.HumidityConfigUUID, 0x27).
		Build()
	s.emit(device.ServicesDiscovered{Services: services})

	s.Empty(s.adapter.Calls())
}

func (s *SessionTestSuite) TestDiscoveryFailureLogged() {
	s.connect()
	s.adapter.ResetCalls()

	s.emit(device.ServicesDiscovered{Err: errors.New("att timeout")})
	s.Empty(s.adapter.Calls())
	s.Equal(session.Connected, s.sync())
	s.Contains(s.logs.String(), "Service discovery failed")
}

func (s *SessionTestSuite) TestLinkDownResetsWriteQueue() {
	s.connectAndDiscover()
	s.Require().Len(s.adapter.Writes(), 1)

	s.emit(device.LinkStateChanged{Connected: false})
	s.Equal(session.Idle, s.sync())

	// reconnect; the queue starts empty so the first new write goes out at once
	s.Require().NoError(s.session.Connect(tagAddr))
	s.emit(device.LinkStateChanged{Connected: true})
	s.adapter.ResetCalls()
	s.emit(device.ServicesDiscovered{Services: testutils.SensorTagProfile()})

	writes := s.adapter.Writes()
	s.Require().Len(writes, 1)
	s.Equal(h(testutils.HumidityConfigHandle), writes[0].Handle)
}

func (s *SessionTestSuite) TestLateCompletionFromOldLinkIgnored() {
	s.connectAndDiscover()
	oldWrite := s.adapter.Writes()[0]

	s.emit(device.LinkStateChanged{Connected: false})
	s.Require().Equal(session.Idle, s.sync())

	s.Require().NoError(s.session.Connect(tagAddr))
	s.emit(device.LinkStateChanged{Connected: true})
	s.adapter.ResetCalls()
	s.emit(device.ServicesDiscovered{Services: relabel(testutils.SensorTagProfile(), 0x100)})
	s.Require().Len(s.adapter.Writes(), 1)

	// the old link's write finishes only now, with an error
	s.emit(device.WriteCompleted{Kind: oldWrite.Kind, Handle: oldWrite.Handle, Err: errors.New("link lost")})

	writes := s.adapter.Writes()
	s.Len(writes, 1, "the new link's first write is still the only one in flight")
	s.Equal(h(testutils.HumidityConfigHandle+0x100), writes[0].Handle)
	s.Empty(s.listener.ofType(session.WriteFailed{}), "no WriteFailed for a write on a dead link")

	s.completeLastWrite()
	s.Len(s.adapter.Writes(), 2)
}

func (s *SessionTestSuite) TestStartScanWhileLinkedIgnored() {
	for _, tc := range []struct {
		name  string
		setup func()
		want  session.State
	}{
		{name: "connecting", setup: func() {
			s.scanAndFind(tagAddr)
			s.Require().NoError(s.session.Connect(tagAddr))
		}, want: session.Connecting},
		{name: "connected", setup: s.connectAndDiscover, want: session.Connected},
		{name: "disconnecting", setup: func() {
			s.connect()
			s.Require().NoError(s.session.Disconnect())
		}, want: session.Disconnecting},
	} {
		s.Run(tc.name, func() {
			s.stop()
			s.start(session.Options{ScanPeriod: time.Hour})
			tc.setup()
			s.Require().Equal(tc.want, s.sync())
			s.adapter.ResetCalls()

			s.Require().NoError(s.session.StartScan())
			s.Equal(tc.want, s.sync())
			s.Empty(s.adapter.CallsTo("StartScan"))
			s.Contains(s.logs.String(), "Scan request ignored")
		})
	}
}

func (s *SessionTestSuite) TestDisconnectAfterIgnoredScan() {
	s.connectAndDiscover()
	s.Require().NoError(s.session.StartScan())
	s.adapter.ResetCalls()

	s.Require().NoError(s.session.Disconnect())
	s.Equal(session.Disconnecting, s.sync())
	s.Equal([]string{"Disconnect"}, s.methods())

	s.emit(device.LinkStateChanged{Connected: false})
	s.Equal(session.Idle, s.sync())
}

func (s *SessionTestSuite) TestNotificationOutsideConnectionIgnored() {
	s.connectAndDiscover()
	s.Require().NoError(s.session.Disconnect())
	s.sync()

	s.emit(device.CharacteristicChanged{UUID: sensor.HumidityDataUUID, Value: []byte{0x00, 0x80, 0x00, 0x40}})
	s.Equal(session.Disconnecting, s.sync())
	s.Empty(s.listener.ofType(session.SensorData{}))
}

func (s *SessionTestSuite) TestStaleLinkDownIgnored() {
	s.scanAndFind(tagAddr)
	s.emit(device.LinkStateChanged{Connected: false})
	s.Equal(session.Scanning, s.sync())
}

func (s *SessionTestSuite) TestDisconnect() {
	s.connect()
	s.adapter.ResetCalls()

	s.Require().NoError(s.session.Disconnect())
	s.Equal(session.Disconnecting, s.sync())
	s.Equal([]string{"Disconnect"}, s.methods())

	s.emit(device.LinkStateChanged{Connected: false})
	s.Equal(session.Idle, s.sync())
	s.Equal([]session.State{
		session.Scanning, session.Connecting, session.Connected, session.Disconnecting, session.Idle,
	}, s.listener.states())
}

func (s *SessionTestSuite) TestDisconnectWhenIdleIsNoop() {
	s.Require().NoError(s.session.Disconnect())
	s.Equal(session.Unknown, s.sync())
	s.Empty(s.adapter.CallsTo("Disconnect"))
}

func (s *SessionTestSuite) TestNoDuplicateStateChanged() {
	s.connect()
	s.emit(device.LinkStateChanged{Connected: false})
	s.scanAndFind(tagAddr)
	s.scanAndFind(tagAddr)

	states := s.listener.states()
	for i := 1; i < len(states); i++ {
		s.NotEqual(states[i-1], states[i], "consecutive StateChanged at %d", i)
	}
}

func (s *SessionTestSuite) TestSensorNotifications() {
	s.connectAndDiscover()

	s.emit(device.CharacteristicChanged{UUID: sensor.HumidityDataUUID, Value: []byte{0x00, 0x80, 0x00, 0x40}})
	s.emit(device.CharacteristicChanged{UUID: sensor.LuxometerDataUUID, Value: []byte{0x01, 0x10}})
	s.emit(device.CharacteristicChanged{UUID: sensor.HumidityDataUUID, Value: []byte{0x01}})
	s.emit(device.CharacteristicChanged{UUID: "2a19", Value: []byte{0x64}})

	var samples []session.Event
	for _, ev := range s.listener.all() {
		switch ev.(type) {
		case session.SensorData, session.IlluminanceData:
			samples = append(samples, ev)
		}
	}
	s.Equal([]session.Event{
		session.SensorData{TemperatureCentidegrees: 4250, HumidityCentipercent: 2500},
		session.IlluminanceData{LuxCentilux: 2},
	}, samples)
}

func (s *SessionTestSuite) TestBroadcastNewestListenerFirst() {
	var (
		mu    sync.Mutex
		order []string
	)
	first := session.ListenerFunc(func(session.Event) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "first")
		return nil
	})
	second := session.ListenerFunc(func(session.Event) error {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, "second")
		return nil
	})
	s.Require().NoError(s.session.Register(first))
	s.Require().NoError(s.session.Register(second))
	s.Require().NoError(s.session.StartScan())
	s.sync()

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]string{"second", "first"}, order)
}

func (s *SessionTestSuite) TestRegisterTwiceDeliversOnce() {
	s.Require().NoError(s.session.Register(s.listener))
	s.Require().NoError(s.session.StartScan())
	s.sync()
	s.Len(s.listener.all(), 1)
}

// batchListener holds a slice by value, so it cannot be compared with ==.
type batchListener struct {
	seen []session.Event
}

func (batchListener) Deliver(session.Event) error { return nil }

func (s *SessionTestSuite) TestRegisterNonComparableListenerRejected() {
	s.ErrorIs(s.session.Register(batchListener{}), session.ErrListenerNotComparable)
	s.ErrorIs(s.session.Register(nil), session.ErrListenerNotComparable)
	s.ErrorIs(s.session.Unregister(batchListener{}), session.ErrListenerNotComparable)

	// the loop keeps running and the existing listener still gets events
	s.Require().NoError(s.session.StartScan())
	s.Equal(session.Scanning, s.sync())
	s.Len(s.listener.all(), 1)
}

func (s *SessionTestSuite) TestUnregisterLastListenerDisconnects() {
	s.connect()
	s.adapter.ResetCalls()

	s.Require().NoError(s.session.Unregister(s.listener))
	s.Equal(session.Disconnecting, s.sync())
	s.Equal([]string{"Disconnect"}, s.methods())
}

func (s *SessionTestSuite) TestUnregisterWithRemainingListenerKeepsLink() {
	other := &recorder{}
	s.Require().NoError(s.session.Register(other))
	s.connect()
	s.adapter.ResetCalls()

	s.Require().NoError(s.session.Unregister(s.listener))
	s.Equal(session.Connected, s.sync())
	s.Empty(s.adapter.CallsTo("Disconnect"))
}

func (s *SessionTestSuite) TestUnregisterLastListenerWhileScanningKeepsScanning() {
	s.scanAndFind(tagAddr)
	s.Require().NoError(s.session.Unregister(s.listener))
	s.Equal(session.Scanning, s.sync())
	s.Empty(s.adapter.CallsTo("Disconnect"))
}

func (s *SessionTestSuite) TestFailingListenerPrunedAndLinkDropped() {
	s.connectAndDiscover()
	s.adapter.ResetCalls()
	s.listener.setFail(session.ErrListenerGone)

	s.emit(device.CharacteristicChanged{UUID: sensor.LuxometerDataUUID, Value: []byte{0x01, 0x10}})

	s.Equal(session.Disconnecting, s.sync())
	s.Equal([]string{"Disconnect"}, s.methods())
	s.Contains(s.logs.String(), "Lost connection to listener")
}

func (s *SessionTestSuite) TestChannelListener() {
	cl := session.NewChannelListener(8)
	s.Require().NoError(s.session.Register(cl))
	s.Require().NoError(s.session.StartScan())
	s.sync()

	select {
	case ev := <-cl.Events():
		s.Equal(session.StateChanged{State: session.Scanning}, ev)
	case <-time.After(time.Second):
		s.Fail("no event delivered")
	}

	cl.Close()
	s.scanAndFind(tagAddr)
	s.Equal(int64(0), cl.Dropped())
}

func (s *SessionTestSuite) TestShutdownDropsLink() {
	s.connect()
	s.adapter.ResetCalls()

	s.stop()
	s.Equal([]string{"Disconnect"}, s.methods())

	_, err := s.session.State()
	s.ErrorIs(err, session.ErrClosed)
	s.ErrorIs(s.session.StartScan(), session.ErrClosed)
}

func (s *SessionTestSuite) TestShutdownStopsScan() {
	s.scanAndFind(tagAddr)
	s.adapter.ResetCalls()

	s.stop()
	s.Equal([]string{"StopScan"}, s.methods())
}

func (s *SessionTestSuite) TestRunTwice() {
	s.ErrorIs(s.session.Run(context.Background()), session.ErrAlreadyRunning)
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}

func TestDefaultOptions(t *testing.T) {
	opts := session.DefaultOptions()
	assert.Equal(t, sensor.TargetName, opts.TargetName)
	assert.Equal(t, session.DefaultScanPeriod, opts.ScanPeriod)
	assert.Equal(t, session.DefaultMailboxSize, opts.MailboxSize)
	assert.Len(t, opts.Profiles, 2)
}

func TestCustomTargetName(t *testing.T) {
	adapter := testutils.NewFakeAdapter()
	s := session.New(adapter, session.Options{TargetName: "Thingy", ScanPeriod: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	rec := &recorder{}
	require.NoError(t, s.Register(rec))
	require.NoError(t, s.StartScan())
	adapter.Emit(device.ScanResult{Address: tagAddr, Name: sensor.TargetName})
	adapter.Emit(device.ScanResult{Address: tagAddr2, Name: "Thingy"})

	addrs, err := s.Addresses()
	require.NoError(t, err)
	assert.Equal(t, []string{tagAddr2}, addrs)
	assert.Equal(t, "Thingy", adapter.CallsTo("StartScan")[0].Args[0])
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state session.State
		want  string
	}{
		{session.Unknown, "unknown"},
		{session.Idle, "idle"},
		{session.Scanning, "scanning"},
		{session.BluetoothOff, "bluetooth_off"},
		{session.Connecting, "connecting"},
		{session.Connected, "connected"},
		{session.Disconnecting, "disconnecting"},
		{session.State(42), "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestEventStrings(t *testing.T) {
	assert.Equal(t, "state=connected", session.StateChanged{State: session.Connected}.String())
	assert.Equal(t, "temperature=42.50 humidity=25.00", session.SensorData{TemperatureCentidegrees: 4250, HumidityCentipercent: 2500}.String())
	assert.Equal(t, "lux=0.02", session.IlluminanceData{LuxCentilux: 2}.String())
}
