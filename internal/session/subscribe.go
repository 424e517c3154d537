package session

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/tagmon/internal/device"
	"github.com/srg/tagmon/internal/sensor"
)

// subscription is the resolved GATT wiring of one sensor profile.
type subscription struct {
	profile sensor.Profile
	data    device.Characteristic
	config  device.Characteristic
	ccc     device.Descriptor
}

// resolve locates the service, both characteristics and the client
// configuration descriptor of p. Any missing piece fails the whole profile.
func resolve(services []device.Service, p sensor.Profile) (subscription, error) {
	svc, err := device.FindService(services, p.Service)
	if err != nil {
		return subscription{}, err
	}
	data, err := svc.Characteristic(p.Data)
	if err != nil {
		return subscription{}, err
	}
	config, err := svc.Characteristic(p.Config)
	if err != nil {
		return subscription{}, err
	}
	ccc, err := data.Descriptor(sensor.ClientConfigUUID)
	if err != nil {
		return subscription{}, err
	}
	return subscription{profile: p, data: data, config: config, ccc: ccc}, nil
}

// subscribe enables notifications for every profile whose wiring is present.
// Writes go through the queue, so at most one is on the link at a time.
// SetNotificationEnabled only selects delivery; the queued CCCD write is what
// subscribes.
func (s *Session) subscribe(services []device.Service) {
	for _, p := range s.profiles {
		sub, err := resolve(services, p)
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"sensor": p.Name,
				"error":  err,
			}).Warn("Sensor not available on peripheral, skipping")
			continue
		}

		s.logger.WithFields(logrus.Fields{
			"sensor": p.Name,
			"data":   sub.data.Handle,
			"config": sub.config.Handle,
			"ccc":    sub.ccc.Handle,
		}).Debug("Subscribing to sensor")

		s.adapter.SetNotificationEnabled(sub.data.Handle, true)
		s.writes.Enqueue(device.PendingWrite{
			Kind:    device.CharacteristicWrite,
			Handle:  sub.config.Handle,
			Payload: sensor.EnableSensor,
		})
		s.writes.Enqueue(device.PendingWrite{
			Kind:    device.DescriptorWrite,
			Handle:  sub.ccc.Handle,
			Payload: sensor.EnableNotification,
		})
	}
}
