package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/tagmon/internal/sensor"
	"github.com/srg/tagmon/internal/session"
)

func newDecodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <environmental|illuminance> <hex>",
		Short: "Decode a captured sensor payload",
		Long: `Decode a raw notification payload the way the monitor does.

The payload is hex, optionally with spaces, colons or a 0x prefix:

  tagmon decode environmental "00 80 00 40"
  tagmon decode illuminance 0x0110`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"environmental", "illuminance"},
		RunE:      runDecode,
	}
	cmd.Flags().StringP("format", "f", "table", "Output format (table, json)")
	return cmd
}

// parseHexPayload accepts "0x0110", "01:10", "01 10" and plain "0110".
func parseHexPayload(s string) ([]byte, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "0x")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	if s == "" {
		return nil, fmt.Errorf("empty payload")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	return b, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := validateFormat(format); err != nil {
		return err
	}
	payload, err := parseHexPayload(args[1])
	if err != nil {
		return err
	}

	var ev session.Event
	switch strings.ToLower(args[0]) {
	case "environmental", "env", "humidity":
		s, err := sensor.DecodeEnvironmental(payload)
		if err != nil {
			return err
		}
		t, h := s.Centi()
		ev = session.SensorData{TemperatureCentidegrees: t, HumidityCentipercent: h}
	case "illuminance", "lux", "light":
		s, err := sensor.DecodeIlluminance(payload)
		if err != nil {
			return err
		}
		ev = session.IlluminanceData{LuxCentilux: s.Centilux()}
	default:
		return fmt.Errorf("unknown sensor kind '%s': must be environmental or illuminance", args[0])
	}

	cmd.SilenceUsage = true
	return printSample(cmd.OutOrStdout(), format, ev)
}
