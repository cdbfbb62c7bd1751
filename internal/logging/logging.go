// Package logging is the runtime's ambient structured-logging façade. Call
// sites never import zap directly; they call the free functions below,
// which route through whatever *zap.SugaredLogger Initialize last
// installed.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ConsoleStyle selects the human-readable encoder; JSONStyle selects the
// structured encoder used for Athena/syslog ingestion. The worker picks one
// from the exec-config file's consoleLogStyle field; its --use_color flag
// is accepted but does not affect the choice.
type Style int

const (
	ConsoleStyle Style = iota
	JSONStyle
)

var logger = zap.NewNop().Sugar()

func init() {
	// A safe no-op logger until Initialize runs, so package-init code in
	// other packages (content registry registration, etc.) never panics on
	// a nil logger.
	logger = zap.NewNop().Sugar()
}

// Initialize installs the process-wide logger. style and level are derived
// from the worker bootstrap's layered configuration (internal/config); it
// is a pure function of those two inputs, never of GOOS or other ambient
// environment sniffing.
func Initialize(style Style, level zapcore.Level) error {
	var zl *zap.Logger
	var err error

	switch style {
	case JSONStyle:
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		zl, err = cfg.Build()
	default:
		zl = zap.New(zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
			zapcore.AddSync(os.Stdout),
			level,
		))
	}
	if err != nil {
		return err
	}
	logger = zl.Sugar()
	return nil
}

// Sync flushes any buffered log entries. Errors are expected and ignorable
// when the sink is a terminal (EINVAL on some platforms); callers log but
// do not treat it as fatal.
func Sync() error {
	return logger.Sync()
}

func Info(args ...any)                            { logger.Info(args...) }
func Infof(format string, args ...any)             { logger.Infof(format, args...) }
func Infow(msg string, kv ...any)                  { logger.Infow(msg, kv...) }
func Warn(args ...any)                             { logger.Warn(args...) }
func Warnf(format string, args ...any)             { logger.Warnf(format, args...) }
func Warnw(msg string, kv ...any)                  { logger.Warnw(msg, kv...) }
func Error(args ...any)                            { logger.Error(args...) }
func Errorf(format string, args ...any)            { logger.Errorf(format, args...) }
func Errorw(msg string, kv ...any)                 { logger.Errorw(msg, kv...) }
func Debug(args ...any)                            { logger.Debug(args...) }
func Debugf(format string, args ...any)            { logger.Debugf(format, args...) }
func Debugw(msg string, kv ...any)                 { logger.Debugw(msg, kv...) }
