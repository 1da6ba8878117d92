package logger

import (
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log 全局日志实例. Defaults to a no-op logger so packages stay usable
// before Init runs (tests, tools).
var Log = zap.NewNop()

// Init builds the process logger for the given environment.
func Init(env string, debug bool) error {
	var cfg zap.Config
	if env == "prod" || env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	l, err := cfg.Build()
	if err != nil {
		return err
	}
	Log = l
	return nil
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Log.Sync()
}

// CaptureError logs err at error level and reports it to Sentry when a
// client has been initialised.
func CaptureError(err error, msg string, fields ...zap.Field) {
	if err == nil {
		return
	}
	Log.Error(msg, append(fields, zap.Error(err))...)
	sentry.CaptureException(err)
}
