package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Logger provides structured logging for the proxy
type Logger interface {
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Close() error
}

// Config holds logger configuration
type Config struct {
	FilePath string
	Verbose  bool
}

type logger struct {
	zl   zerolog.Logger
	file *os.File
}

// New creates a new logger instance with file and console output
func New(cfg Config) (Logger, error) {
	var writers []io.Writer
	var file *os.File

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		var err error
		file, err = os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
	}

	writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})

	level := zerolog.InfoLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}

	zl := zerolog.New(io.MultiWriter(writers...)).Level(level).With().Timestamp().Logger()

	return &logger{zl: zl, file: file}, nil
}

// Nop returns a logger that discards everything
func Nop() Logger {
	return &logger{zl: zerolog.Nop()}
}

// Info logs informational messages
func (l *logger) Info(msg string, args ...any) {
	emit(l.zl.Info(), msg, args)
}

// Debug logs debug messages
func (l *logger) Debug(msg string, args ...any) {
	emit(l.zl.Debug(), msg, args)
}

// Warn logs warning messages
func (l *logger) Warn(msg string, args ...any) {
	emit(l.zl.Warn(), msg, args)
}

// Error logs error messages
func (l *logger) Error(msg string, args ...any) {
	emit(l.zl.Error(), msg, args)
}

// Close closes the log file
func (l *logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// emit attaches alternating key/value args to a zerolog event
func emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		switch v := args[i+1].(type) {
		case string:
			ev = ev.Str(key, v)
		case int:
			ev = ev.Int(key, v)
		case bool:
			ev = ev.Bool(key, v)
		case error:
			ev = ev.AnErr(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}
