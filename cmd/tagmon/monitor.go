package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/tagmon/internal/device"
	"github.com/srg/tagmon/internal/session"
	"github.com/srg/tagmon/internal/telemetry"
	"github.com/srg/tagmon/pkg/config"
)

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor [address]",
		Short: "Stream temperature, humidity and light from a SensorTag",
		Long: `Scan for a SensorTag, connect to it, enable the humidity and light
sensors and print every decoded sample until interrupted with Ctrl+C.

Without an address the first SensorTag found is used. With --telemetry-url
(or telemetry.url in the config file) readings are also uploaded as JSON,
one reading every --every samples.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runMonitor,
	}
	addSessionFlags(cmd)
	cmd.Flags().String("telemetry-url", "", "Upload readings to this URL")
	cmd.Flags().Int("every", 0, "Samples between uploads (default from config, 1000)")
	cmd.Flags().Float64("latitude", 0, "Latitude attached to uploads")
	cmd.Flags().Float64("longitude", 0, "Longitude attached to uploads")
	return cmd
}

func applyTelemetryFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("telemetry-url") {
		cfg.Telemetry.URL, _ = cmd.Flags().GetString("telemetry-url")
	}
	if cmd.Flags().Changed("every") {
		cfg.Telemetry.Every, _ = cmd.Flags().GetInt("every")
	}
	if cmd.Flags().Changed("latitude") {
		cfg.Telemetry.Latitude, _ = cmd.Flags().GetFloat64("latitude")
	}
	if cmd.Flags().Changed("longitude") {
		cfg.Telemetry.Longitude, _ = cmd.Flags().GetFloat64("longitude")
	}
	return cfg.Validate()
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applySessionFlags(cmd, cfg); err != nil {
		return err
	}
	if err := applyTelemetryFlags(cmd, cfg); err != nil {
		return err
	}
	var address string
	if len(args) == 1 {
		address = args[0]
	}

	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := startSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer run.stop()

	if cfg.Telemetry.Enabled() {
		uploader, err := startTelemetry(ctx, run, cfg, logger)
		if err != nil {
			return err
		}
		defer uploader.Stop()
	}

	m := &monitor{
		run:    run,
		target: address,
		format: cfg.OutputFormat,
		out:    cmd.OutOrStdout(),
		status: newStatusPrinter(cmd.ErrOrStderr()),
		window: cfg.ScanPeriod,
	}
	if err := run.session.StartScan(); err != nil {
		return err
	}
	return m.loop(ctx)
}

func startTelemetry(ctx context.Context, run *sessionRun, cfg *config.Config, logger *logrus.Logger) (*telemetry.Uploader, error) {
	uploader, err := telemetry.NewUploader(telemetry.UploaderOptions{
		URL:        cfg.Telemetry.URL,
		Timeout:    cfg.Telemetry.Timeout,
		BufferSize: cfg.Telemetry.Buffer,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := uploader.Start(ctx); err != nil {
		return nil, err
	}

	recorder := telemetry.NewRecorder(uploader, cfg.Telemetry.Every, telemetry.Location{
		Latitude:  cfg.Telemetry.Latitude,
		Longitude: cfg.Telemetry.Longitude,
	}, logger)
	if err := run.session.Register(recorder); err != nil {
		uploader.Stop()
		return nil, fmt.Errorf("failed to register telemetry recorder: %w", err)
	}
	return uploader, nil
}

// monitor follows one session from scan to connected streaming.
type monitor struct {
	run    *sessionRun
	target string
	format string
	out    io.Writer
	status *statusPrinter
	window time.Duration

	requested bool
	connected bool
}

func (m *monitor) loop(ctx context.Context) error {
	for {
		ev, err := m.run.next(ctx)
		if err != nil {
			return err
		}
		if err := m.handle(ev); err != nil {
			return err
		}
	}
}

func (m *monitor) handle(ev session.Event) error {
	switch e := ev.(type) {
	case session.StateChanged:
		return m.onState(e.State)
	case session.DeviceFound:
		return m.onFound(e.Addresses)
	case session.SensorData, session.IlluminanceData:
		return printSample(m.out, m.format, ev)
	case session.WriteFailed:
		m.status.warning("%s write to %s failed: %v", e.Kind, e.Handle, e.Err)
	}
	return nil
}

func (m *monitor) onFound(addresses []string) error {
	if m.requested {
		return nil
	}
	pick := m.target
	if pick == "" {
		pick = addresses[0]
	} else if !slices.Contains(addresses, pick) {
		return nil
	}
	m.status.found(pick)
	m.requested = true
	return m.run.session.Connect(pick)
}

func (m *monitor) onState(st session.State) error {
	m.status.state(st)
	switch st {
	case session.BluetoothOff:
		return device.ErrBluetoothOff
	case session.Connected:
		m.connected = true
	case session.Idle:
		switch {
		case m.connected:
			return ErrConnectionLost
		case m.requested:
			return fmt.Errorf("%w: link could not be established", ErrConnectionLost)
		case m.target != "":
			return fmt.Errorf("%w: %s not seen within %s", ErrDeviceNotFound, m.target, m.window)
		default:
			return fmt.Errorf("%w: no SensorTag seen within %s", ErrDeviceNotFound, m.window)
		}
	}
	return nil
}
