package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/tagmon/internal/groutine"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultBufferSize = 16
)

var ErrAlreadyStarted = errors.New("uploader already started")

// UploaderOptions configures an Uploader.
type UploaderOptions struct {
	URL        string
	Timeout    time.Duration
	BufferSize uint32
	Client     *http.Client
}

// Stats is a point-in-time copy of the uploader counters.
type Stats struct {
	Enqueued    int64
	Uploaded    int64
	Failed      int64
	Overwritten int64
}

type uploaderMetrics struct {
	enqueued    atomic.Int64
	uploaded    atomic.Int64
	failed      atomic.Int64
	overwritten atomic.Int64
}

// Uploader posts readings to an HTTP endpoint from a single worker goroutine.
// Pending readings sit in an overlapped ring; when the worker falls behind the
// oldest pending readings are overwritten.
type Uploader struct {
	url     string
	timeout time.Duration
	client  *http.Client
	logger  *logrus.Logger

	buffer mpmc.RichOverlappedRingBuffer[Reading]
	wake   chan struct{}

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	group   groutine.Group

	metrics uploaderMetrics
}

var _ Enqueuer = (*Uploader)(nil)

// NewUploader validates opts and creates a stopped uploader.
func NewUploader(opts UploaderOptions, logger *logrus.Logger) (*Uploader, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("telemetry url cannot be empty")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.BufferSize == 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Uploader{
		url:     opts.URL,
		timeout: opts.Timeout,
		client:  opts.Client,
		logger:  logger,
		buffer:  mpmc.NewOverlappedRingBuffer[Reading](opts.BufferSize),
		wake:    make(chan struct{}, 1),
	}, nil
}

// Start launches the upload worker. It stops when ctx is cancelled or Stop is called.
func (u *Uploader) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.started {
		return ErrAlreadyStarted
	}
	u.started = true

	ctx, u.cancel = context.WithCancel(ctx)
	u.group.Go(ctx, "telemetry-upload", u.run)
	u.logger.WithField("url", u.url).Debug("Telemetry uploader started")
	return nil
}

// Stop cancels the worker and waits for it to exit. Readings still pending
// are discarded.
func (u *Uploader) Stop() {
	u.mu.Lock()
	cancel := u.cancel
	u.cancel = nil
	u.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	u.group.Wait()
}

// Enqueue schedules r for upload. It never blocks.
func (u *Uploader) Enqueue(r Reading) {
	overwrites, err := u.buffer.EnqueueM(r)
	if err != nil {
		u.metrics.failed.Add(1)
		u.logger.WithError(err).Warn("Failed to queue telemetry reading")
		return
	}
	u.metrics.enqueued.Add(1)
	if overwrites > 0 {
		u.metrics.overwritten.Add(int64(overwrites))
		u.logger.WithField("dropped", overwrites).Debug("Telemetry queue full, oldest readings dropped")
	}

	select {
	case u.wake <- struct{}{}:
	default:
	}
}

// Stats returns the current counters.
func (u *Uploader) Stats() Stats {
	return Stats{
		Enqueued:    u.metrics.enqueued.Load(),
		Uploaded:    u.metrics.uploaded.Load(),
		Failed:      u.metrics.failed.Load(),
		Overwritten: u.metrics.overwritten.Load(),
	}
}

func (u *Uploader) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.wake:
			u.drain(ctx)
		}
	}
}

func (u *Uploader) drain(ctx context.Context) {
	for !u.buffer.IsEmpty() {
		if ctx.Err() != nil {
			return
		}
		r, err := u.buffer.Dequeue()
		if err != nil {
			// raced with an overwrite; the next wake retries
			return
		}
		if err := u.post(ctx, r); err != nil {
			u.metrics.failed.Add(1)
			u.logger.WithFields(logrus.Fields{
				"url":   u.url,
				"error": err,
			}).Warn("Telemetry upload failed")
			continue
		}
		u.metrics.uploaded.Add(1)
		u.logger.WithField("reading", r).Debug("Telemetry uploaded")
	}
}

func (u *Uploader) post(ctx context.Context, r Reading) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}
