// Package session drives one SensorTag peripheral through scan, connect,
// service discovery and notification subscription, and fans decoded samples
// out to registered listeners.
//
// A Session is an actor. Control requests, adapter events and scan timer fires
// are all posted to one mailbox and handled by the goroutine running Run, which
// exclusively owns the state, the device registry, the write queue and the
// listener set. None of those need locking.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/tagmon/internal/device"
	"github.com/srg/tagmon/internal/sensor"
)

// Session errors
var (
	ErrClosed         = errors.New("session closed")
	ErrAlreadyRunning = errors.New("session already running")
)

// Default option values.
const (
	DefaultScanPeriod  = 3 * time.Second
	DefaultMailboxSize = 64
)

// Options configures a Session.
type Options struct {
	// TargetName is the advertised name a peripheral must carry exactly.
	TargetName string
	// ScanPeriod bounds every scan window.
	ScanPeriod time.Duration
	// MailboxSize is the capacity of the request/event mailbox.
	MailboxSize int
	// Profiles are the sensors subscribed on connect. Defaults to sensor.Profiles().
	Profiles []sensor.Profile
}

// DefaultOptions returns options for a stock CC1350 SensorTag.
func DefaultOptions() Options {
	return Options{
		TargetName:  sensor.TargetName,
		ScanPeriod:  DefaultScanPeriod,
		MailboxSize: DefaultMailboxSize,
		Profiles:    sensor.Profiles(),
	}
}

// mailbox messages besides device.AdapterEvent
type (
	registerRequest   struct{ listener Listener }
	unregisterRequest struct{ listener Listener }
	scanRequest       struct{}
	connectRequest    struct{ address string }
	disconnectRequest struct{}
	stateQuery        struct{ reply chan State }
	addressesQuery    struct{ reply chan []string }
	scanTimeout       struct{ generation uint64 }
)

// Session is the state machine for one peripheral connection.
type Session struct {
	adapter    device.Adapter
	logger     *logrus.Logger
	targetName string
	scanPeriod time.Duration
	profiles   []sensor.Profile

	mailbox chan any
	done    chan struct{}
	running atomic.Bool

	// owned by the loop
	state     State
	devices   *registry
	writes    *device.WriteQueue
	fanout    *Fanout
	scanTimer *time.Timer
	scanGen   uint64
}

// New creates a session driving adapter and binds itself as the adapter's sink.
// Zero option fields take their defaults.
func New(adapter device.Adapter, opts Options, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	defaults := DefaultOptions()
	if opts.TargetName == "" {
		opts.TargetName = defaults.TargetName
	}
	if opts.ScanPeriod <= 0 {
		opts.ScanPeriod = defaults.ScanPeriod
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = defaults.MailboxSize
	}
	if opts.Profiles == nil {
		opts.Profiles = defaults.Profiles
	}

	s := &Session{
		adapter:    adapter,
		logger:     logger,
		targetName: opts.TargetName,
		scanPeriod: opts.ScanPeriod,
		profiles:   opts.Profiles,
		mailbox:    make(chan any, opts.MailboxSize),
		done:       make(chan struct{}),
		state:      Unknown,
		devices:    newRegistry(),
		fanout:     NewFanout(logger),
	}
	s.writes = device.NewWriteQueue(s.submit)
	adapter.Bind(device.EventSinkFunc(s.postEvent))
	return s
}

// Run processes the mailbox until ctx is cancelled. On exit it stops any scan
// and drops the link. A session runs at most once.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	s.logger.WithField("target", s.targetName).Debug("Session loop started")
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case msg := <-s.mailbox:
			s.handle(msg)
		}
	}
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) post(msg any) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.mailbox <- msg:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// postEvent is the adapter's sink. Events posted after the loop exits are dropped.
func (s *Session) postEvent(ev device.AdapterEvent) {
	if err := s.post(ev); err != nil {
		s.logger.WithField("event", fmt.Sprintf("%T", ev)).Debug("Dropping adapter event, session closed")
	}
}

// Register adds a listener. Registering the same listener twice has no effect.
// It fails with ErrListenerNotComparable for a nil or non-comparable listener.
func (s *Session) Register(l Listener) error {
	if !identifiable(l) {
		return fmt.Errorf("%w: %T", ErrListenerNotComparable, l)
	}
	return s.post(registerRequest{l})
}

// Unregister removes a listener. When the last listener leaves while a link is
// up or being established, the link is torn down.
func (s *Session) Unregister(l Listener) error {
	if !identifiable(l) {
		return fmt.Errorf("%w: %T", ErrListenerNotComparable, l)
	}
	return s.post(unregisterRequest{l})
}

// StartScan starts a new scan window, forgetting previously found peripherals.
// It is ignored while a link is up, being established or being torn down.
func (s *Session) StartScan() error { return s.post(scanRequest{}) }

// Connect connects to a peripheral found in the current scan window.
// Unknown addresses are ignored.
func (s *Session) Connect(address string) error { return s.post(connectRequest{address}) }

// Disconnect tears down the link if one is up or being established.
func (s *Session) Disconnect() error { return s.post(disconnectRequest{}) }

// State returns the current state as seen by the loop.
func (s *Session) State() (State, error) {
	q := stateQuery{reply: make(chan State, 1)}
	if err := s.post(q); err != nil {
		return Unknown, err
	}
	select {
	case st := <-q.reply:
		return st, nil
	case <-s.done:
		return Unknown, ErrClosed
	}
}

// Addresses returns the peripherals found in the current scan window in discovery order.
func (s *Session) Addresses() ([]string, error) {
	q := addressesQuery{reply: make(chan []string, 1)}
	if err := s.post(q); err != nil {
		return nil, err
	}
	select {
	case a := <-q.reply:
		return a, nil
	case <-s.done:
		return nil, ErrClosed
	}
}

func (s *Session) handle(msg any) {
	switch m := msg.(type) {
	case registerRequest:
		if s.fanout.Register(m.listener) {
			s.logger.WithField("listeners", s.fanout.Len()).Debug("Listener registered")
		}
	case unregisterRequest:
		if s.fanout.Unregister(m.listener) {
			s.logger.Debug("Last listener unregistered")
			s.disconnect()
		}
	case scanRequest:
		s.startScan()
	case connectRequest:
		s.connect(m.address)
	case disconnectRequest:
		s.disconnect()
	case stateQuery:
		m.reply <- s.state
	case addressesQuery:
		m.reply <- s.devices.addresses()
	case scanTimeout:
		s.onScanTimeout(m.generation)

	case device.ScanResult:
		s.onScanResult(m)
	case device.LinkStateChanged:
		s.onLinkStateChanged(m)
	case device.ServicesDiscovered:
		s.onServicesDiscovered(m)
	case device.WriteCompleted:
		s.onWriteCompleted(m)
	case device.CharacteristicChanged:
		s.onCharacteristicChanged(m)

	default:
		s.logger.WithField("message", fmt.Sprintf("%T", msg)).Warn("Ignoring unknown mailbox message")
	}
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"from": s.state,
		"to":   st,
	}).Info("Session state changed")
	s.state = st
	s.broadcast(StateChanged{State: st})
}

// broadcast fans ev out. Losing the last listener to a failed delivery is
// treated like the last listener unregistering.
func (s *Session) broadcast(ev Event) {
	if s.fanout.Broadcast(ev) {
		s.logger.Debug("All listeners gone")
		s.disconnect()
	}
}

func (s *Session) startScan() {
	if s.state.linked() || s.state == Disconnecting {
		s.logger.WithField("state", s.state).Warn("Scan request ignored, disconnect first")
		return
	}
	s.devices.clear()
	s.setState(Scanning)

	if !s.adapter.Enabled() {
		s.cancelScanTimer()
		s.setState(BluetoothOff)
		return
	}

	s.cancelScanTimer()
	s.scanGen++
	gen := s.scanGen
	s.scanTimer = time.AfterFunc(s.scanPeriod, func() {
		_ = s.post(scanTimeout{generation: gen})
	})

	s.logger.WithFields(logrus.Fields{
		"target": s.targetName,
		"period": s.scanPeriod,
	}).Info("Scanning for peripherals...")
	s.adapter.StartScan(s.targetName)
}

func (s *Session) cancelScanTimer() {
	if s.scanTimer != nil {
		s.scanTimer.Stop()
		s.scanTimer = nil
	}
}

func (s *Session) onScanTimeout(gen uint64) {
	if gen != s.scanGen {
		return
	}
	s.scanTimer = nil
	if s.state != Scanning {
		return
	}
	s.adapter.StopScan()
	s.logger.WithField("devices", s.devices.len()).Info("Scan window elapsed")
	s.setState(Idle)
}

func (s *Session) onScanResult(r device.ScanResult) {
	if r.Name != s.targetName || r.Address == "" {
		return
	}
	if !s.devices.add(Record{Address: r.Address, Name: r.Name}) {
		return
	}
	s.logger.WithFields(logrus.Fields{
		"address": r.Address,
		"name":    r.Name,
		"rssi":    r.RSSI,
	}).Info("Found peripheral")
	s.broadcast(DeviceFound{Addresses: s.devices.addresses()})
}

func (s *Session) connect(address string) {
	rec, ok := s.devices.get(address)
	if !ok {
		s.logger.WithField("address", address).Warn("Connect request for unknown address ignored")
		return
	}
	if s.state.linked() || s.state == Disconnecting {
		s.logger.WithFields(logrus.Fields{
			"address": address,
			"state":   s.state,
		}).Warn("Connect request ignored, a link is already active")
		return
	}
	if s.state == Scanning {
		s.cancelScanTimer()
		s.adapter.StopScan()
	}
	s.setState(Connecting)
	s.logger.WithField("address", rec.Address).Info("Connecting to peripheral...")
	s.adapter.Connect(rec.Address)
}

func (s *Session) disconnect() {
	if !s.state.linked() {
		return
	}
	s.setState(Disconnecting)
	s.adapter.Disconnect()
}

func (s *Session) onLinkStateChanged(ev device.LinkStateChanged) {
	// no completion will arrive for a write on the old link
	s.writes.Reset()

	if ev.Connected {
		if s.state != Connecting {
			// link came up after the request was withdrawn
			s.logger.WithField("state", s.state).Warn("Unexpected link-up, disconnecting")
			s.adapter.Disconnect()
			return
		}
		s.setState(Connected)
		if s.state == Connected {
			s.adapter.DiscoverServices()
		}
		return
	}

	if s.state == Scanning || s.state == BluetoothOff {
		// stale report from a link that was already given up on
		s.logger.WithField("state", s.state).Debug("Ignoring link-down outside a connection")
		return
	}
	fields := logrus.Fields{"state": s.state}
	if ev.Err != nil {
		fields["error"] = ev.Err
	}
	s.logger.WithFields(fields).Info("Link down")
	s.setState(Idle)
}

func (s *Session) onServicesDiscovered(ev device.ServicesDiscovered) {
	if s.state != Connected {
		return
	}
	if ev.Err != nil {
		s.logger.WithField("error", ev.Err).Warn("Service discovery failed")
		return
	}
	s.logger.WithField("services", len(ev.Services)).Debug("Services discovered")
	s.subscribe(ev.Services)
}

// submit hands the head of the write queue to the adapter.
func (s *Session) submit(op device.PendingWrite) {
	switch op.Kind {
	case device.CharacteristicWrite:
		s.adapter.WriteCharacteristic(op.Handle, op.Payload)
	case device.DescriptorWrite:
		s.adapter.WriteDescriptor(op.Handle, op.Payload)
	}
}

func (s *Session) onWriteCompleted(ev device.WriteCompleted) {
	fields := logrus.Fields{"kind": ev.Kind, "handle": ev.Handle}
	if ev.Err != nil {
		fields["error"] = ev.Err
	}
	if !s.writes.OnWriteCompleted(ev.Kind, ev.Handle) {
		s.logger.WithFields(fields).Debug("Ignoring completion for a write that is not in flight")
		return
	}
	if ev.Err != nil {
		s.logger.WithFields(fields).Warn("GATT write failed")
		s.broadcast(WriteFailed{Kind: ev.Kind, Handle: ev.Handle, Err: ev.Err})
	}
}

func (s *Session) onCharacteristicChanged(ev device.CharacteristicChanged) {
	if s.state != Connected {
		s.logger.WithFields(logrus.Fields{"uuid": ev.UUID, "state": s.state}).Debug("Ignoring notification outside a connection")
		return
	}
	sample, err := sensor.Decode(ev.UUID, ev.Value)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"uuid":  ev.UUID,
			"error": err,
		}).Debug("Ignoring notification")
		return
	}

	switch v := sample.(type) {
	case sensor.Environmental:
		t, h := v.Centi()
		s.broadcast(SensorData{TemperatureCentidegrees: t, HumidityCentipercent: h})
	case sensor.Illuminance:
		s.broadcast(IlluminanceData{LuxCentilux: v.Centilux()})
	}
}

func (s *Session) shutdown() {
	s.cancelScanTimer()
	if s.state == Scanning {
		s.adapter.StopScan()
	}
	if s.state.linked() {
		s.adapter.Disconnect()
	}
	s.devices.clear()
	s.logger.Debug("Session loop stopped")
}
