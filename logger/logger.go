package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Format represents the log format
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Logger represents a logger instance
type Logger struct {
	mu      sync.RWMutex
	slog    *slog.Logger
	writers []io.Writer
	level   slog.Level
	format  Format
}

func newHandler(format Format, level slog.Level, writers []io.Writer) slog.Handler {
	w := io.MultiWriter(writers...)
	opts := &slog.HandlerOptions{Level: level}
	if format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// New creates a new logger
func New(level slog.Level, format Format, writers ...io.Writer) *Logger {
	return &Logger{
		slog:    slog.New(newHandler(format, level, writers)),
		writers: writers,
		level:   level,
		format:  format,
	}
}

// rebuild must be called with l.mu held.
func (l *Logger) rebuild() {
	l.slog = slog.New(newHandler(l.format, l.level, l.writers))
}

// Slog returns the underlying *slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.slog
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level slog.Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.rebuild()
}

// AddOutput adds a new output destination
func (l *Logger) AddOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writers = append(l.writers, w)
	l.rebuild()
}

// SetFormat changes the log format
func (l *Logger) SetFormat(format Format) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.format = format
	l.rebuild()
}

// Rotate closes the current log file, if any, and appends to path instead.
func (l *Logger) Rotate(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := make([]io.Writer, 0, len(l.writers)+1)
	for _, writer := range l.writers {
		if isOwnedFile(writer) {
			writer.(*os.File).Close()
			continue
		}
		kept = append(kept, writer)
	}

	file, err := openLogFile(path)
	if err != nil {
		return err
	}
	l.writers = append(kept, file)
	l.rebuild()
	return nil
}

// Close closes all file writers
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, writer := range l.writers {
		if isOwnedFile(writer) {
			if err := writer.(*os.File).Close(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Level returns the current log level
func (l *Logger) Level() slog.Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func (l *Logger) Debug(msg string, args ...any) { l.Slog().Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.Slog().Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.Slog().Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.Slog().Error(msg, args...) }

// isOwnedFile reports whether w is a file this package opened. Stdout and
// stderr are never closed.
func isOwnedFile(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && file != os.Stdout && file != os.Stderr
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// Init replaces the default logger. Records always go to stderr, since stdout
// carries command output, plus every non-empty path.
func Init(level slog.Level, format Format, paths ...string) error {
	writers := []io.Writer{os.Stderr}
	for _, path := range paths {
		if path == "" {
			continue
		}
		file, err := openLogFile(path)
		if err != nil {
			return err
		}
		writers = append(writers, file)
	}

	next := New(level, format, writers...)
	defaultMu.Lock()
	prev := defaultLogger
	defaultLogger = next
	defaultMu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return nil
}

// SetDefault installs l as the default logger. Tests use it to capture output.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// Default returns the default logger.
func Default() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// GetLevelFromString returns the log level from a string
func GetLevelFromString(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = New(slog.LevelInfo, FormatText, os.Stderr)
)

// Helper functions for common logging patterns
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}
