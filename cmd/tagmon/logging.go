package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/tagmon/pkg/config"
)

var flagLevels = map[string]logrus.Level{
	"debug": logrus.DebugLevel,
	"info":  logrus.InfoLevel,
	"warn":  logrus.WarnLevel,
	"error": logrus.ErrorLevel,
}

// configureLogger starts from the logger described by cfg and lets the
// command line override its level: --log-level first, then --verbose.
func configureLogger(cmd *cobra.Command, verboseFlagName string, cfg *config.Config) (*logrus.Logger, error) {
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())

	if name, _ := cmd.Flags().GetString("log-level"); name != "" {
		level, ok := flagLevels[name]
		if !ok {
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", name)
		}
		logger.SetLevel(level)
		return logger, nil
	}

	if verbose, _ := cmd.Flags().GetBool(verboseFlagName); verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger, nil
}
