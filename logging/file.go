// Package logging provides the user-facing log file and the filtered
// debug log shared by every SimLink component.
package logging

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// LogFunc receives user-facing log lines. Components expose SetOnLog so the
// TUI and the log file can both see them.
type LogFunc func(format string, args ...interface{})

// FileLogger writes log messages to a file.
// It is safe for concurrent use from multiple goroutines.
type FileLogger struct {
	file   *os.File
	mu     sync.Mutex
	closed bool
}

// NewFileLogger creates a new file logger that writes to the specified path.
// The file is created if it doesn't exist, or appended to if it does.
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &FileLogger{
		file: file,
	}, nil
}

// Log writes a formatted message to the log file with a timestamp.
// This method is safe to call from any goroutine.
func (l *FileLogger) Log(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.file, "%s %s\n", timestamp, msg)
}

// Close closes the log file.
func (l *FileLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	return l.file.Close()
}

// Tee returns a LogFunc that forwards to every non-nil fn in order.
func Tee(fns ...LogFunc) LogFunc {
	active := make([]LogFunc, 0, len(fns))
	for _, fn := range fns {
		if fn != nil {
			active = append(active, fn)
		}
	}
	return func(format string, args ...interface{}) {
		for _, fn := range active {
			fn(format, args...)
		}
	}
}

// Discard is a LogFunc that drops everything.
func Discard(string, ...interface{}) {}
