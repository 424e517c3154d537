package telemetry

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/tagmon/internal/session"
)

// DefaultEvery is the number of data events between two uploaded readings.
const DefaultEvery = 1000

// Enqueuer accepts readings without blocking.
type Enqueuer interface {
	Enqueue(Reading)
}

// Recorder is a session listener that tracks the latest sensor values and
// hands a reading to its Enqueuer every Every data events.
type Recorder struct {
	mu       sync.Mutex
	latest   Reading
	samples  int
	every    int
	location Location
	out      Enqueuer
	logger   *logrus.Logger
}

var _ session.Listener = (*Recorder)(nil)

// NewRecorder creates a recorder. every <= 0 selects DefaultEvery.
func NewRecorder(out Enqueuer, every int, loc Location, logger *logrus.Logger) *Recorder {
	if every <= 0 {
		every = DefaultEvery
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Recorder{
		every:    every,
		location: loc,
		out:      out,
		logger:   logger,
		latest:   Reading{Latitude: loc.Latitude, Longitude: loc.Longitude},
	}
}

// Deliver implements session.Listener. Only SensorData and IlluminanceData
// count as data events.
func (r *Recorder) Deliver(ev session.Event) error {
	r.mu.Lock()
	switch e := ev.(type) {
	case session.SensorData:
		r.latest.Temperature = centiToUnit(e.TemperatureCentidegrees)
		r.latest.Humidity = centiToUnit(e.HumidityCentipercent)
	case session.IlluminanceData:
		r.latest.Light = centiluxToLux(e.LuxCentilux)
	default:
		r.mu.Unlock()
		return nil
	}

	r.samples++
	if r.samples < r.every {
		r.mu.Unlock()
		return nil
	}
	r.samples = 0
	reading := r.latest
	r.mu.Unlock()

	r.logger.WithField("reading", reading).Debug("Queueing telemetry reading")
	r.out.Enqueue(reading)
	return nil
}

// Latest returns the most recent values.
func (r *Recorder) Latest() Reading {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}
