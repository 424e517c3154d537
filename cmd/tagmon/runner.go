package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/tagmon/internal/device"
	goble "github.com/srg/tagmon/internal/device/go-ble"
	"github.com/srg/tagmon/internal/groutine"
	"github.com/srg/tagmon/internal/session"
	"github.com/srg/tagmon/pkg/config"
)

// adapterFactory creates the BLE adapter. Tests replace it with a fake.
var adapterFactory = func(logger *logrus.Logger) device.Adapter {
	return goble.NewAdapter(logger)
}

// loadConfig reads the file named by --config, or the default path.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFormat(format string) error {
	switch format {
	case "table", "json":
		return nil
	default:
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}
}

// dropCheckInterval is how often a waiting next looks for events the
// listener discarded while no new ones arrive.
const dropCheckInterval = 250 * time.Millisecond

// sessionRun owns one session loop for the lifetime of a command.
type sessionRun struct {
	adapter device.Adapter
	session *session.Session
	events  *session.ChannelListener
	cancel  context.CancelFunc
	logger  *logrus.Logger

	seenDropped int64
}

func startSession(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*sessionRun, error) {
	adapter := adapterFactory(logger)
	sess := session.New(adapter, session.Options{
		TargetName:  cfg.TargetName,
		ScanPeriod:  cfg.ScanPeriod,
		MailboxSize: cfg.MailboxSize,
	}, logger)

	ctx, cancel := context.WithCancel(ctx)
	groutine.Go(ctx, "session", func(ctx context.Context) {
		if err := sess.Run(ctx); err != nil {
			logger.WithError(err).Error("Session loop failed")
		}
	})

	events := session.NewChannelListener(cfg.ListenerBuffer)
	if err := sess.Register(events); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register listener: %w", err)
	}

	return &sessionRun{
		adapter: adapter,
		session: sess,
		events:  events,
		cancel:  cancel,
		logger:  logger,
	}, nil
}

// stop ends the session loop, which drops any link, then releases the adapter.
func (r *sessionRun) stop() {
	r.cancel()
	<-r.session.Done()
	r.events.Close()
	if err := r.adapter.Close(); err != nil {
		r.logger.WithError(err).Warn("Failed to close adapter")
	}
	if dropped := r.events.Dropped(); dropped > 0 {
		r.logger.WithField("dropped", dropped).Warn("Events dropped, output fell behind")
	}
}

// next waits for the next session event. Once the listener has dropped events
// the current state is reported first, so a lost StateChanged cannot leave the
// caller waiting for a transition that already happened.
func (r *sessionRun) next(ctx context.Context) (session.Event, error) {
	tick := time.NewTicker(dropCheckInterval)
	defer tick.Stop()
	for {
		if ev, ok, err := r.resync(); err != nil || ok {
			return ev, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-r.events.Events():
			if !ok {
				return nil, session.ErrClosed
			}
			return ev, nil
		case <-tick.C:
		}
	}
}

// resync re-reads the session state when the drop count has grown.
func (r *sessionRun) resync() (session.Event, bool, error) {
	dropped := r.events.Dropped()
	if dropped == r.seenDropped {
		return nil, false, nil
	}
	r.logger.WithField("dropped", dropped-r.seenDropped).Debug("Listener fell behind, re-reading session state")
	r.seenDropped = dropped
	st, err := r.session.State()
	if err != nil {
		return nil, false, err
	}
	return session.StateChanged{State: st}, true, nil
}
