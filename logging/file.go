package logging

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// FileLogger appends timestamped lines to a file. The daemon uses it as
// the write audit trail: every tag write accepted from a publisher
// write-back or the HTTP surfaces gets one line.
// Safe for concurrent use.
type FileLogger struct {
	path   string
	file   *os.File
	mu     sync.Mutex
	closed bool
}

// NewFileLogger opens (or creates) the file at path for appending.
func NewFileLogger(path string) (*FileLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("NewFileLogger: open %s: %w", path, err)
	}

	return &FileLogger{
		path: path,
		file: file,
	}, nil
}

// Path returns the file path the logger writes to.
func (l *FileLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Log appends one timestamped line. Safe to call from any goroutine and
// on a nil receiver.
func (l *FileLogger) Log(format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}

	ts := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.file, "%s %s\n", ts, msg)
}

// Close closes the underlying file. Further Log calls are dropped.
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
