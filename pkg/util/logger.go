package util

import (
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a zap-backed logr logger writing to stderr. Verbosity is the highest logr
// V-level that is emitted.
func NewLogger(development bool, verbosity int) logr.Logger {
	return NewLoggerTo(os.Stderr, development, verbosity)
}

// NewLoggerTo is like NewLogger but writes to w.
func NewLoggerTo(w io.Writer, development bool, verbosity int) logr.Logger {
	var encoder zapcore.Encoder
	if development {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	}

	// logr V(n) maps to zap level -n
	level := zap.NewAtomicLevelAt(zapcore.Level(-verbosity))
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)
	opts := []zap.Option{zap.AddStacktrace(zapcore.Level(3))}
	if development {
		opts = append(opts, zap.Development())
	}

	return zapr.NewLogger(zap.New(core, opts...))
}
