package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/tagmon/internal/device"
	"github.com/srg/tagmon/internal/groutine"
)

// link is one connection attempt and, once dialed, the live client.
type link struct {
	address string
	cancel  context.CancelFunc
	client  ble.Client
	down    sync.Once
}

// Adapter implements device.Adapter on top of go-ble.
//
// Every blocking go-ble call runs in its own named goroutine and reports back
// through the bound sink. Attribute handles are issued by the adapter during
// discovery and resolved through concurrent maps, so writes and subscriptions
// may be posted from any goroutine. Handles are never reused across
// discoveries until the 16-bit space wraps.
//
// go-ble enables notifications by writing the client configuration descriptor
// inside Subscribe. To keep that write on the caller's write queue, Subscribe
// and Unsubscribe run only as part of WriteDescriptor on a CCCD handle.
type Adapter struct {
	logger *logrus.Logger

	mu      sync.Mutex
	dev     ble.Device
	scan    context.CancelFunc
	current *link

	sink   atomic.Pointer[device.EventSink]
	closed atomic.Bool

	chars      *hashmap.Map[device.Handle, *ble.Characteristic]
	descs      *hashmap.Map[device.Handle, *ble.Descriptor]
	cccdOwner  *hashmap.Map[device.Handle, device.Handle] // CCCD handle -> characteristic handle
	notify     *hashmap.Map[device.Handle, bool]          // characteristic handle -> local delivery wanted
	nextHandle atomic.Uint32

	ctx    context.Context
	cancel context.CancelFunc
	group  groutine.Group
}

var _ device.Adapter = (*Adapter)(nil)

// NewAdapter creates an adapter. The platform device is created lazily on first use.
func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		logger: logger,
		chars:     hashmap.New[device.Handle, *ble.Characteristic](),
		descs:     hashmap.New[device.Handle, *ble.Descriptor](),
		cccdOwner: hashmap.New[device.Handle, device.Handle](),
		notify:    hashmap.New[device.Handle, bool](),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Bind sets the sink for all subsequent events.
func (a *Adapter) Bind(sink device.EventSink) {
	a.sink.Store(&sink)
}

// postAsync posts from a fresh goroutine. Used for failures detected inside a
// call, since the caller may be the goroutine draining the sink.
func (a *Adapter) postAsync(ev device.AdapterEvent) {
	if a.closed.Load() {
		return
	}
	a.group.Go(a.ctx, "ble-event", func(context.Context) {
		a.post(ev)
	})
}

func (a *Adapter) post(ev device.AdapterEvent) {
	if a.closed.Load() {
		return
	}
	sink := a.sink.Load()
	if sink == nil || *sink == nil {
		a.logger.WithField("event", fmt.Sprintf("%T", ev)).Debug("Dropping adapter event, no sink bound")
		return
	}
	(*sink).Post(ev)
}

// platform returns the ble.Device, creating it on first call.
func (a *Adapter) platform() (ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev != nil {
		return a.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, NormalizeError(err)
	}
	a.dev = dev
	return dev, nil
}

// Enabled reports whether the platform device could be created.
func (a *Adapter) Enabled() bool {
	if a.closed.Load() {
		return false
	}
	if _, err := a.platform(); err != nil {
		a.logger.WithField("error", err).Warn("Bluetooth adapter unavailable")
		return false
	}
	return true
}

// StartScan starts a scan in the background, replacing any scan in progress.
func (a *Adapter) StartScan(nameFilter string) {
	if a.closed.Load() {
		return
	}
	dev, err := a.platform()
	if err != nil {
		a.logger.WithField("error", err).Warn("Cannot scan, Bluetooth adapter unavailable")
		return
	}

	a.mu.Lock()
	if a.scan != nil {
		a.scan()
	}
	ctx, cancel := context.WithCancel(a.ctx)
	a.scan = cancel
	a.mu.Unlock()

	a.logger.WithField("name_filter", nameFilter).Info("Starting BLE scan...")

	a.group.Go(ctx, "ble-scan", func(ctx context.Context) {
		handler := func(adv ble.Advertisement) {
			if nameFilter != "" && adv.LocalName() != nameFilter {
				return
			}
			a.post(NewScanResult(adv))
		}
		err := dev.Scan(ctx, false, handler)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			a.logger.WithField("error", NormalizeError(err)).Warn("BLE scan failed")
			return
		}
		a.logger.Debug("BLE scan finished")
	})
}

// StopScan cancels the scan in progress, if any.
func (a *Adapter) StopScan() {
	a.mu.Lock()
	cancel := a.scan
	a.scan = nil
	a.mu.Unlock()

	if cancel != nil {
		a.logger.Debug("Stopping BLE scan")
		cancel()
	}
}

// Connect dials address in the background. The outcome is posted as LinkStateChanged.
func (a *Adapter) Connect(address string) {
	if a.closed.Load() {
		return
	}
	if strings.TrimSpace(address) == "" {
		a.logger.Error("Connection attempt with empty address")
		a.postAsync(device.LinkStateChanged{Err: fmt.Errorf("device address is empty")})
		return
	}

	dev, err := a.platform()
	if err != nil {
		a.postAsync(device.LinkStateChanged{Err: err})
		return
	}

	a.mu.Lock()
	if a.current != nil {
		current := a.current.address
		a.mu.Unlock()
		a.logger.WithFields(logrus.Fields{
			"address": address,
			"current": current,
		}).Warn("Connection attempt while already connected")
		a.postAsync(device.LinkStateChanged{Err: fmt.Errorf("%w: link to %q is still up", device.ErrAlreadyConnected, current)})
		return
	}
	ctx, cancel := context.WithCancel(a.ctx)
	l := &link{address: address, cancel: cancel}
	a.current = l
	a.mu.Unlock()

	a.logger.WithField("address", address).Info("Connecting to BLE device...")

	a.group.Go(ctx, "ble-dial", func(ctx context.Context) {
		client, err := dev.Dial(ctx, ble.NewAddr(address))
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"address": address,
				"error":   err,
			}).Error("Failed to dial BLE device")
			a.linkDown(l, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err)))
			return
		}

		a.mu.Lock()
		if a.current != l || ctx.Err() != nil {
			// Disconnect won the race and posts link-down itself
			a.mu.Unlock()
			_ = client.CancelConnection()
			return
		}
		l.client = client
		a.mu.Unlock()

		a.logger.WithField("address", address).Info("BLE device connected")
		a.post(device.LinkStateChanged{Connected: true})

		a.watch(ctx, l)
	})
}

// watch posts link-down when the platform reports the peer went away.
func (a *Adapter) watch(ctx context.Context, l *link) {
	notifier, ok := l.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		a.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	select {
	case <-notifier.Disconnected():
		a.logger.WithField("address", l.address).Warn("BLE device reported disconnection")
		a.linkDown(l, nil)
	case <-ctx.Done():
	}
}

// linkDown clears l if it is still current and posts LinkStateChanged{false} once.
func (a *Adapter) linkDown(l *link, err error) {
	a.mu.Lock()
	if a.current == l {
		a.current = nil
	}
	a.mu.Unlock()

	l.down.Do(func() {
		l.cancel()
		a.clearHandles()
		a.post(device.LinkStateChanged{Connected: false, Err: err})
	})
}

func (a *Adapter) client() (ble.Client, error) {
	_, client, err := a.live()
	return client, err
}

// live returns the current link and its client, if the link is up.
func (a *Adapter) live() (*link, ble.Client, error) {
	if a.closed.Load() {
		return nil, nil, device.ErrNotConnected
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil || a.current.client == nil {
		return nil, nil, device.ErrNotConnected
	}
	return a.current, a.current.client, nil
}

func (a *Adapter) isCurrent(l *link) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current == l
}

// Disconnect cancels a pending dial or tears down the live link.
func (a *Adapter) Disconnect() {
	// cancel under the lock so a concurrent dial either publishes its client
	// first or observes the cancellation
	a.mu.Lock()
	l := a.current
	var client ble.Client
	if l != nil {
		l.cancel()
		client = l.client
	}
	a.mu.Unlock()

	if l == nil {
		a.logger.Debug("Disconnect called but already disconnected")
		return
	}

	a.logger.WithField("address", l.address).Info("Disconnecting BLE device...")
	a.group.Go(a.ctx, "ble-disconnect", func(context.Context) {
		if client != nil {
			if err := client.ClearSubscriptions(); err != nil {
				a.logger.WithField("error", NormalizeError(err)).Debug("Failed to clear subscriptions")
			}
			if err := client.CancelConnection(); err != nil {
				a.logger.WithField("error", NormalizeError(err)).Warn("BLE device disconnected with errors")
			}
		}
		a.linkDown(l, nil)
	})
}

// DiscoverServices walks the remote GATT profile and posts ServicesDiscovered.
func (a *Adapter) DiscoverServices() {
	client, err := a.client()
	if err != nil {
		a.postAsync(device.ServicesDiscovered{Err: err})
		return
	}

	a.group.Go(a.ctx, "ble-discover", func(context.Context) {
		a.logger.Debug("Discovering services and characteristics...")
		profile, err := client.DiscoverProfile(true)
		if err != nil {
			a.logger.WithField("error", err).Error("Failed to discover profile")
			a.post(device.ServicesDiscovered{Err: fmt.Errorf("failed to discover profile: %w", NormalizeError(err))})
			return
		}

		services := a.register(profile)
		a.logger.WithField("services", len(services)).Debug("Profile discovered successfully")
		a.post(device.ServicesDiscovered{Services: services})
	})
}

// register issues handles for every characteristic and descriptor in profile.
func (a *Adapter) register(profile *ble.Profile) []device.Service {
	a.clearHandles()
	if profile == nil {
		return nil
	}

	services := make([]device.Service, 0, len(profile.Services))
	for _, bs := range profile.Services {
		svc := device.Service{UUID: bs.UUID.String()}
		for _, bc := range bs.Characteristics {
			ch := device.Characteristic{UUID: bc.UUID.String(), Handle: a.issueHandle()}
			a.chars.Set(ch.Handle, bc)
			for _, bd := range bc.Descriptors {
				d := device.Descriptor{UUID: bd.UUID.String(), Handle: a.issueHandle()}
				a.descs.Set(d.Handle, bd)
				if bd.UUID.Equal(ble.ClientCharacteristicConfigUUID) {
					a.cccdOwner.Set(d.Handle, ch.Handle)
				}
				ch.Descriptors = append(ch.Descriptors, d)
			}
			svc.Characteristics = append(svc.Characteristics, ch)
		}
		services = append(services, svc)
	}
	return services
}

// issueHandle returns the next handle, skipping 0 when the counter wraps.
func (a *Adapter) issueHandle() device.Handle {
	for {
		if h := device.Handle(a.nextHandle.Add(1)); h != 0 {
			return h
		}
	}
}

func (a *Adapter) clearHandles() {
	clearMap(a.chars)
	clearMap(a.descs)
	clearMap(a.cccdOwner)
	clearMap(a.notify)
}

func clearMap[V any](m *hashmap.Map[device.Handle, V]) {
	var stale []device.Handle
	m.Range(func(h device.Handle, _ V) bool {
		stale = append(stale, h)
		return true
	})
	for _, h := range stale {
		m.Del(h)
	}
}

// WriteCharacteristic writes payload with response and posts WriteCompleted.
func (a *Adapter) WriteCharacteristic(h device.Handle, payload []byte) {
	a.write(device.CharacteristicWrite, h, func(client ble.Client) error {
		bc, ok := a.chars.Get(h)
		if !ok {
			return &device.NotFoundError{Resource: device.CharacteristicResource, ID: h.String()}
		}
		return client.WriteCharacteristic(bc, payload, false)
	})
}

// WriteDescriptor writes payload to a descriptor and posts WriteCompleted.
//
// A write to the client configuration descriptor of a characteristic passed to
// SetNotificationEnabled subscribes or unsubscribes instead, and posts
// WriteCompleted once go-ble has written the descriptor.
func (a *Adapter) WriteDescriptor(h device.Handle, payload []byte) {
	a.write(device.DescriptorWrite, h, func(client ble.Client) error {
		bd, ok := a.descs.Get(h)
		if !ok {
			return &device.NotFoundError{Resource: device.DescriptorResource, ID: h.String()}
		}
		if owner, ok := a.cccdOwner.Get(h); ok {
			if deliver, managed := a.notify.Get(owner); managed {
				return a.configureNotifications(client, owner, deliver, payload, bd)
			}
		}
		return client.WriteDescriptor(bd, payload)
	})
}

// configureNotifications applies a CCCD write to characteristic h through
// go-ble's subscription API so incoming values reach the sink.
func (a *Adapter) configureNotifications(client ble.Client, h device.Handle, deliver bool, payload []byte, bd *ble.Descriptor) error {
	bc, ok := a.chars.Get(h)
	if !ok {
		return &device.NotFoundError{Resource: device.CharacteristicResource, ID: h.String()}
	}
	uuid := bc.UUID.String()
	fields := logrus.Fields{"uuid": uuid, "handle": h}

	switch {
	case cccdDisabled(payload):
		a.logger.WithFields(fields).Debug("Unsubscribing from notifications")
		return client.Unsubscribe(bc, false)
	case deliver:
		indicate := payload[0]&0x01 == 0 && payload[0]&0x02 != 0
		a.logger.WithFields(fields).WithField("indicate", indicate).Debug("Subscribing to notifications")
		return client.Subscribe(bc, indicate, func(data []byte) {
			value := make([]byte, len(data))
			copy(value, data)
			a.post(device.CharacteristicChanged{UUID: uuid, Handle: h, Value: value})
		})
	default:
		// remote side enabled, nothing delivered locally
		return client.WriteDescriptor(bd, payload)
	}
}

func cccdDisabled(payload []byte) bool {
	for _, b := range payload {
		if b != 0 {
			return false
		}
	}
	return true
}

func (a *Adapter) write(kind device.WriteKind, h device.Handle, do func(ble.Client) error) {
	l, client, err := a.live()
	if err != nil {
		a.postAsync(device.WriteCompleted{Kind: kind, Handle: h, Err: err})
		return
	}

	a.group.Go(a.ctx, "ble-write", func(context.Context) {
		err := NormalizeError(do(client))
		fields := logrus.Fields{"kind": kind, "handle": h}
		if !a.isCurrent(l) {
			a.logger.WithFields(fields).Debug("Dropping write completion from a closed link")
			return
		}
		if err != nil {
			fields["error"] = err
			a.logger.WithFields(fields).Warn("BLE write failed")
		} else {
			a.logger.WithFields(fields).Debug("BLE write completed")
		}
		a.post(device.WriteCompleted{Kind: kind, Handle: h, Err: err})
	})
}

// SetNotificationEnabled selects whether values of characteristic h are
// delivered as CharacteristicChanged. It does no link I/O: the change takes
// effect with the next WriteDescriptor on the characteristic's CCCD.
func (a *Adapter) SetNotificationEnabled(h device.Handle, enabled bool) {
	if _, ok := a.chars.Get(h); !ok {
		a.logger.WithField("handle", h).Warn("Notification state change for unknown handle")
		return
	}
	a.notify.Set(h, enabled)
	a.logger.WithFields(logrus.Fields{"handle": h, "enabled": enabled}).Debug("Notification delivery selected")
}

// Close stops scanning, drops the link and waits for background goroutines.
// No events are posted after Close returns.
func (a *Adapter) Close() error {
	a.StopScan()
	a.Disconnect()
	a.closed.Store(true)
	a.cancel()
	a.group.Wait()

	a.mu.Lock()
	dev := a.dev
	a.dev = nil
	a.mu.Unlock()

	if dev != nil {
		return NormalizeError(dev.Stop())
	}
	return nil
}
