package config

import (
	"go.uber.org/zap/zapcore"

	"github.com/peerpull/go-peerpull/log"
)

const defaultLoggingLevel = zapcore.InfoLevel

// LoggerConfig holds the root logging level, the encoder and optional
// per-module overrides keyed by module name (pool, dictionary, replication,
// notification, mux, discovery).
type LoggerConfig struct {
	Encoder log.Encoder       `mapstructure:"log-encoder"`
	Level   string            `mapstructure:"level"`
	Modules map[string]string `mapstructure:"modules"`
}

func defaultLoggingConfig() LoggerConfig {
	return LoggerConfig{
		Encoder: log.ConsoleEncoder,
		Level:   defaultLoggingLevel.String(),
		Modules: map[string]string{},
	}
}
