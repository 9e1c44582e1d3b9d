// Package logging builds the process logger. Everything goes to stderr so that
// commands printing tables or postings can own stdout.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoder and minimum level.
type Config struct {
	// Development switches to a colored console encoder at debug level.
	Development bool `mapstructure:"development"`
	// Level overrides the mode's default level (debug, info, warn, error).
	Level string `mapstructure:"level"`
}

// ParseLevel maps a level name onto zap. An empty name yields def.
func ParseLevel(name string, def zapcore.Level) (zapcore.Level, error) {
	if strings.TrimSpace(name) == "" {
		return def, nil
	}
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil {
		return def, fmt.Errorf("logging.level: %w", err)
	}
	return lvl, nil
}

// New returns a logger for cfg.
func New(cfg Config) (*zap.Logger, error) {
	zc, def := zap.NewProductionConfig(), zapcore.InfoLevel
	if cfg.Development {
		zc, def = zap.NewDevelopmentConfig(), zapcore.DebugLevel
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	lvl, err := ParseLevel(cfg.Level, def)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.TimeKey = "ts"
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
