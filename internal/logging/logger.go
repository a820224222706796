// Package logging provides structured logging for v4l2cap.
// It wraps log/slog so the capture library and the CLI share one handler,
// with child loggers carrying the device path and session id.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Log levels supported by the logger
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
)

// LogFileName is the file created inside a log directory.
const LogFileName = "v4l2cap.log"

// Logger is a *slog.Logger that may own a log file.
// It is safe for concurrent use.
type Logger struct {
	*slog.Logger

	out *logFile // shared with every child logger
}

type logFile struct {
	once sync.Once
	f    *os.File
	err  error
}

func (lf *logFile) close() error {
	lf.once.Do(func() {
		if err := lf.f.Sync(); err != nil {
			lf.err = fmt.Errorf("failed to sync log file: %w", err)
		}
		if err := lf.f.Close(); err != nil && lf.err == nil {
			lf.err = fmt.Errorf("failed to close log file: %w", err)
		}
	})
	return lf.err
}

// NewLogger creates a Logger at the given level.
//
// If dir is non-empty, logs are appended to {dir}/v4l2cap.log; otherwise they
// go to stderr. format selects the handler: "json" for JSON lines, anything
// else for slog's text format.
func NewLogger(dir, level, format string) (*Logger, error) {
	var w io.Writer = os.Stderr
	var out *logFile

	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(dir, LogFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w, out = f, &logFile{f: f}
	}

	l := New(w, level, format)
	l.out = out
	return l, nil
}

// New creates a Logger writing to w. It never owns w.
func New(w io.Writer, level, format string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler
	if strings.EqualFold(format, FormatJSON) {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h)}
}

// parseLevel converts a string log level to slog.Level.
// Defaults to INFO if the level string is not recognized.
func parseLevel(level string) slog.Level {
	switch ParseLevel(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithDevice returns a child Logger tagging every entry with the device path.
func (l *Logger) WithDevice(path string) *Logger {
	return l.derive(l.Logger.With(slog.String("device", path)))
}

// WithSession returns a child Logger tagging every entry with a session id.
func (l *Logger) WithSession(id string) *Logger {
	return l.derive(l.Logger.With(slog.String("session_id", id)))
}

// WithComponent returns a child Logger tagging every entry with a component
// name, such as "sink" or "watch".
func (l *Logger) WithComponent(name string) *Logger {
	return l.derive(l.Logger.With(slog.String("component", name)))
}

func (l *Logger) derive(s *slog.Logger) *Logger {
	return &Logger{Logger: s, out: l.out}
}

// Slog returns the underlying *slog.Logger, as accepted by the capture
// library.
func (l *Logger) Slog() *slog.Logger {
	return l.Logger
}

// Close flushes and closes the log file. Closing any logger derived from the
// same NewLogger call closes the shared file once; later calls return the
// first result. For loggers writing to stderr this is a no-op.
func (l *Logger) Close() error {
	if l.out == nil {
		return nil
	}
	return l.out.close()
}

// NopLogger returns a Logger that discards all log output.
func NopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// ParseLevel normalises a level name. Returns LevelInfo if the level string
// is not recognized.
func ParseLevel(level string) string {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "WARNING":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// ValidLevels returns the list of valid log level strings.
func ValidLevels() []string {
	return []string{LevelDebug, LevelInfo, LevelWarn, LevelError}
}

// ValidFormats returns the list of valid output formats.
func ValidFormats() []string {
	return []string{FormatText, FormatJSON}
}
