package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	level  zapcore.Level
	stderr bool
}

// Option adjusts New.
type Option func(*options)

// WithLevel sets the minimum level for both outputs.
func WithLevel(l zapcore.Level) Option { return func(o *options) { o.level = l } }

// FileOnly drops the stderr console output.
func FileOnly() Option { return func(o *options) { o.stderr = false } }

// New creates a zap logger that writes JSON to the given log file path
// and also writes to stderr. Session name and PID are included as initial fields.
func New(logPath, sessionName string, opts ...Option) (*zap.Logger, error) {
	o := options{level: zapcore.InfoLevel, stderr: true}
	for _, fn := range opts {
		fn(&o)
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), o.level),
	}
	if o.stderr {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stderr), o.level))
	}

	return zap.New(zapcore.NewTee(cores...),
		zap.Fields(
			zap.String("session", sessionName),
			zap.Int("pid", os.Getpid()),
		),
	), nil
}
