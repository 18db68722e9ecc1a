// Package logger is the process-wide log sink. Messages are dropped until
// Init or InitWriter is called.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level filters messages by severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelTags = [...]string{"[DEBUG] ", "[INFO] ", "[WARN] ", "[ERROR] "}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "unknown"
	}
	return strings.ToLower(strings.Trim(levelTags[l], "[] "))
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

var (
	globalLogger *log.Logger
	logFile      *os.File
	out          io.Writer = io.Discard
	minLevel               = LevelDebug
	mu           sync.Mutex
)

// Init sends log output to the file at logPath, appending.
func Init(logPath string) error {
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	closeFileLocked()
	logFile = f
	setWriterLocked(f)
	return nil
}

// InitWriter sends log output to w.
func InitWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	closeFileLocked()
	setWriterLocked(w)
}

func setWriterLocked(w io.Writer) {
	out = w
	globalLogger = log.New(w, "", log.Ltime|log.Lmicroseconds)
}

func closeFileLocked() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// SetLevel drops messages below l.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = l
}

// Close closes the log file and disables logging.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeFileLocked()
	globalLogger = nil
	out = io.Discard
}

func logf(l Level, prefix, format string, v ...any) {
	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil || l < minLevel {
		return
	}
	globalLogger.Printf(levelTags[l]+prefix+format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...any) { logf(LevelDebug, "", format, v...) }

// Info logs an info message.
func Info(format string, v ...any) { logf(LevelInfo, "", format, v...) }

// Warn logs a warning message.
func Warn(format string, v ...any) { logf(LevelWarn, "", format, v...) }

// Error logs an error message.
func Error(format string, v ...any) { logf(LevelError, "", format, v...) }

// Logger tags every message with a fixed prefix, such as a run id.
type Logger struct {
	prefix string
}

// With returns a Logger whose messages start with "[tag] ".
func With(tag string) *Logger {
	return &Logger{prefix: "[" + tag + "] "}
}

// With returns a Logger nested under l.
func (l *Logger) With(tag string) *Logger {
	return &Logger{prefix: l.prefix + "[" + tag + "] "}
}

func (l *Logger) Debug(format string, v ...any) { logf(LevelDebug, l.prefix, format, v...) }
func (l *Logger) Info(format string, v ...any)  { logf(LevelInfo, l.prefix, format, v...) }
func (l *Logger) Warn(format string, v ...any)  { logf(LevelWarn, l.prefix, format, v...) }
func (l *Logger) Error(format string, v ...any) { logf(LevelError, l.prefix, format, v...) }

// GetWriter returns the current log destination.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return out
}
