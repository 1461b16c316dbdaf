// Package log builds the zap loggers used by go-peerpull components.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Encoder selects how log entries are rendered.
type Encoder = string

const (
	// ConsoleEncoder renders plain text.
	ConsoleEncoder Encoder = "console"
	// JSONEncoder renders one JSON object per line.
	JSONEncoder Encoder = "json"
)

// where logs go by default.
var logWriter io.Writer = os.Stdout

// NewWithLevel creates a named logger with a fixed level and an optional set of hooks.
func NewWithLevel(
	name string,
	level zap.AtomicLevel,
	encoder Encoder,
	hooks ...func(zapcore.Entry) error,
) *zap.Logger {
	return newWithWriter(zapcore.AddSync(logWriter), name, level, encoder, hooks...)
}

func newWithWriter(
	ws zapcore.WriteSyncer,
	name string,
	level zap.AtomicLevel,
	encoder Encoder,
	hooks ...func(zapcore.Entry) error,
) *zap.Logger {
	core := zapcore.NewCore(newEncoder(encoder), ws, level)
	return zap.New(zapcore.RegisterHooks(core, hooks...)).Named(name)
}

func newEncoder(encoder Encoder) zapcore.Encoder {
	if encoder == JSONEncoder {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
}

// ParseLevel parses a textual level ("debug", "INFO", ...) into an atomic level.
func ParseLevel(level string) (zap.AtomicLevel, error) {
	lvl, err := zap.ParseAtomicLevel(strings.ToLower(level))
	if err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("parse log level %q: %w", level, err)
	}
	return lvl, nil
}

// Modules holds per-module log levels. Loggers for modules without an explicit
// level inherit the root level.
type Modules struct {
	root   *zap.Logger
	levels map[string]string
}

// NewModules creates a module logger factory from a root logger.
func NewModules(root *zap.Logger, levels map[string]string) *Modules {
	return &Modules{root: root, levels: levels}
}

// Logger returns the logger for the named module.
func (m *Modules) Logger(module string) *zap.Logger {
	lvl, ok := m.levels[module]
	if !ok || lvl == "" {
		return m.root.Named(module)
	}
	level, err := ParseLevel(lvl)
	if err != nil {
		m.root.Warn("invalid module log level, using root level",
			zap.String("module", module),
			zap.Error(err),
		)
		return m.root.Named(module)
	}
	return m.root.Named(module).WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return &coreWithLevel{Core: core, lvl: level}
	}))
}

type coreWithLevel struct {
	zapcore.Core
	lvl zap.AtomicLevel
}

func (c *coreWithLevel) Enabled(level zapcore.Level) bool {
	return c.lvl.Enabled(level)
}

func (c *coreWithLevel) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.lvl.Enabled(e.Level) {
		return ce
	}
	return ce.AddCore(e, c.Core)
}

func (c *coreWithLevel) With(fields []zapcore.Field) zapcore.Core {
	return &coreWithLevel{Core: c.Core.With(fields), lvl: c.lvl}
}
