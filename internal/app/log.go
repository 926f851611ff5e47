package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logTimeLayout matches the timestamps written by the rest of the tooling.
const logTimeLayout = "2006-01-02T15:04:05Z"

// encoderConfig formats entries as:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<fields as JSON>
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		NameKey:          "op",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: "\t",
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.UTC().Format(logTimeLayout))
		},
	}
}

// newLogger creates a logger that writes entries at level and above to
// logDir/opsdesk.log, and warnings and errors to stderr as well.
// It returns the logger, the open log file (for cleanup), and any error.
func newLogger(logDir, level, opID string) (*zap.Logger, *os.File, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing log level: %w", err)
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "opsdesk.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	return newLoggerTo(f, os.Stderr, lvl, opID), f, nil
}

// newLoggerTo tees a file core at lvl with a stderr core at warn.
func newLoggerTo(file, stderr io.Writer, lvl zapcore.Level, opID string, opts ...zap.Option) *zap.Logger {
	enc := zapcore.NewConsoleEncoder(encoderConfig())
	stderrLevel := zapcore.WarnLevel
	if lvl > stderrLevel {
		stderrLevel = lvl
	}
	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.AddSync(file), lvl),
		zapcore.NewCore(enc.Clone(), zapcore.Lock(zapcore.AddSync(stderr)), stderrLevel),
	)
	return zap.New(core, opts...).Named(opID)
}

// zapAdapter wraps *zap.SugaredLogger to satisfy the desk.Logger interface.
type zapAdapter struct {
	l *zap.SugaredLogger
}

func newZapAdapter(l *zap.Logger) *zapAdapter {
	return &zapAdapter{l: l.Sugar()}
}

func (a *zapAdapter) Debug(msg string, args ...any) { a.l.Debugw(msg, args...) }
func (a *zapAdapter) Info(msg string, args ...any)  { a.l.Infow(msg, args...) }
func (a *zapAdapter) Warn(msg string, args ...any)  { a.l.Warnw(msg, args...) }
func (a *zapAdapter) Error(msg string, args ...any) { a.l.Errorw(msg, args...) }
