package cli

import (
	"github.com/urfave/cli/v2"
	"go.viam.com/rdk/logging"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/viamrobotics/scavenger-hunt/config"
)

// readConfig loads the .env files, then the config file, and validates the result.
func readConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadDotEnv(c.StringSlice(envFileFlag)...); err != nil {
		return nil, err
	}
	cfg, err := config.Read(c.String(configFlag))
	if err != nil {
		return nil, err
	}
	if c.Bool(debugFlag) {
		cfg.Log.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. When a log file is configured, entries are
// also written there and the file is rotated at its size limit. The returned func
// closes the file.
func newLogger(cfg config.LogConfig) (logging.Logger, func()) {
	var logger logging.Logger
	if cfg.Debug {
		logger = logging.NewDebugLogger("scavenger")
	} else {
		logger = logging.NewLogger("scavenger")
	}
	if cfg.File == "" {
		return logger, func() {}
	}
	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: 3,
		Compress:   true,
	}
	logger.AddAppender(logging.NewWriterAppender(file))
	return logger, func() {
		//nolint:errcheck
		file.Close()
	}
}
