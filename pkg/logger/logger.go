// Package logger builds the zap loggers used by the solanapay binaries.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvProduction selects JSON output with ISO8601 timestamps
const EnvProduction = "production"

// New builds a logger for env. Production logs are JSON at info level;
// anything else gets the colourised development console encoder.
func New(env string, level string) (*zap.Logger, error) {
	var config zap.Config
	if env == EnvProduction {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		config.Level = lvl
	}

	return config.Build()
}

// Must is New that panics on error
func Must(env string, level string) *zap.Logger {
	log, err := New(env, level)
	if err != nil {
		panic(err)
	}
	return log
}
