// Package logging provides the leveled printf logger used across the pipeline.
// Console lines go to stderr with an [INFO]/[WARN]/[ERROR]/[DEBUG] prefix,
// gated by verbosity. When a debug log is open every line, regardless of
// level, is also appended to it with a millisecond timestamp.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05.000"

// Logger is safe for concurrent use.
type Logger struct {
	mu      sync.Mutex
	console io.Writer
	silent  bool
	verbose bool
	debug   bool
	file    io.WriteCloser
	now     func() time.Time
}

// New creates a logger writing console output to w.
func New(w io.Writer, verbose, debug bool) *Logger {
	return &Logger{
		console: w,
		verbose: verbose || debug,
		debug:   debug,
		now:     time.Now,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{console: io.Discard, silent: true, now: time.Now}
}

// OpenDebugLog starts mirroring every line to the file at path.
func (l *Logger) OpenDebugLog(path, runID string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create debug log: %w", err)
	}

	l.mu.Lock()
	l.file = f
	l.mu.Unlock()

	l.writeFile("DEBUG", fmt.Sprintf("debug log started (run %s)", runID))
	return nil
}

// SetSilent toggles console output. The debug log is unaffected.
func (l *Logger) SetSilent(silent bool) {
	l.mu.Lock()
	l.silent = silent
	l.mu.Unlock()
}

// Info logs progress information shown with --verbose.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log("INFO", l.verbose, format, args...)
}

// Print logs an unconditional console line without a level prefix.
func (l *Logger) Print(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.silent {
		_, _ = fmt.Fprintln(l.console, msg)
	}
	l.appendLocked("INFO", msg)
}

// Warn logs a recoverable problem. Always shown.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log("WARN", true, format, args...)
}

// Error logs a failure. Always shown.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log("ERROR", true, format, args...)
}

// Debug logs detail shown with --debug.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log("DEBUG", l.debug, format, args...)
}

// Close writes an end marker to the debug log and closes it.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	l.appendLocked("DEBUG", "debug log closed")
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Logger) log(level string, show bool, format string, args ...interface{}) {
	if l == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	defer l.mu.Unlock()
	if show && !l.silent {
		_, _ = fmt.Fprintf(l.console, "[%s] %s\n", level, msg)
	}
	l.appendLocked(level, msg)
}

func (l *Logger) writeFile(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(level, msg)
}

// appendLocked writes one timestamped line; os.File writes are unbuffered so
// the line is on disk when this returns.
func (l *Logger) appendLocked(level, msg string) {
	if l.file == nil {
		return
	}
	_, _ = fmt.Fprintf(l.file, "%s [%s] %s\n", l.now().Format(timestampLayout), level, msg)
}
