package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/tagmon/internal/device"
	"github.com/srg/tagmon/internal/session"
	"github.com/srg/tagmon/pkg/config"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for SensorTag peripherals",
		Long: `Scan for one window and list every peripheral advertising the
SensorTag name. Peripherals advertising any other name are ignored.`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}
	addSessionFlags(cmd)
	return cmd
}

// addSessionFlags registers the flags shared by scan and monitor.
func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().DurationP("duration", "d", 0, "Scan window (default from config, 3s)")
	cmd.Flags().StringP("format", "f", "", "Output format (table, json)")
	cmd.Flags().String("target", "", "Advertised name to match (default from config)")
	cmd.Flags().Bool("verbose", false, "Enable debug logging")
}

// applySessionFlags overrides config values with explicitly set flags.
func applySessionFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("duration") {
		d, _ := cmd.Flags().GetDuration("duration")
		cfg.ScanPeriod = d
	}
	if cmd.Flags().Changed("format") {
		cfg.OutputFormat, _ = cmd.Flags().GetString("format")
	}
	if cmd.Flags().Changed("target") {
		cfg.TargetName, _ = cmd.Flags().GetString("target")
	}
	if err := validateFormat(cfg.OutputFormat); err != nil {
		return err
	}
	return cfg.Validate()
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applySessionFlags(cmd, cfg); err != nil {
		return err
	}

	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := startSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer run.stop()

	status := newStatusPrinter(cmd.ErrOrStderr())
	if err := run.session.StartScan(); err != nil {
		return err
	}
	if err := waitScanWindow(ctx, run, status, cfg.ScanPeriod); err != nil {
		return err
	}

	addresses, err := run.session.Addresses()
	if err != nil {
		return err
	}
	rows := make([]deviceRow, 0, len(addresses))
	for _, a := range addresses {
		rows = append(rows, deviceRow{Address: a, Name: cfg.TargetName})
	}
	return printDevices(cmd.OutOrStdout(), cfg.OutputFormat, rows)
}

// waitScanWindow consumes events until the scan window closes.
func waitScanWindow(ctx context.Context, run *sessionRun, status *statusPrinter, period time.Duration) error {
	seen := 0
	for {
		ev, err := run.next(ctx)
		if err != nil {
			return err
		}
		switch e := ev.(type) {
		case session.StateChanged:
			switch e.State {
			case session.Scanning:
				status.state(e.State)
				run.logger.WithField("period", period).Debug("Scan window open")
			case session.Idle:
				return nil
			case session.BluetoothOff:
				return device.ErrBluetoothOff
			}
		case session.DeviceFound:
			for _, a := range e.Addresses[seen:] {
				status.found(a)
			}
			seen = len(e.Addresses)
		}
	}
}
