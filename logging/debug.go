// Package logging provides wire-level debug logging for protocol
// troubleshooting plus a plain file logger used for write audit trails.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// DebugLogger writes verbose diagnostics to a dedicated debug file. It is
// intended for troubleshooting protocol-level issues: registration
// failures, dropped connections, malformed frames, and controller status
// errors. Every method is safe on a nil receiver so callers can log
// unconditionally.
type DebugLogger struct {
	file    *os.File
	mu      sync.Mutex
	closed  bool
	filters map[string]bool // subsystem filters (empty = log all)
}

var globalDebugLogger *DebugLogger
var globalDebugMu sync.RWMutex

// Subsystem names accepted by SetFilter.
var knownSubsystems = []string{
	"eip",
	"eip/discovery",
	"cip",
	"logix",
	"plcman",
	"mqtt",
	"valkey",
	"kafka",
	"api",
	"www",
	"tui",
	"pcap",
	"debug",
}

// KnownSubsystems returns the subsystem names usable in a debug filter.
func KnownSubsystems() []string {
	out := make([]string, len(knownSubsystems))
	copy(out, knownSubsystems)
	return out
}

// NewDebugLogger creates a debug logger writing to path. The file is
// truncated so each run starts with a fresh trace.
func NewDebugLogger(path string) (*DebugLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("NewDebugLogger: open %s: %w", path, err)
	}

	l := &DebugLogger{
		file:    file,
		filters: make(map[string]bool),
	}

	l.Log("debug", "debug logging started - %s", time.Now().Format(time.RFC3339))
	l.Log("debug", "========================================")

	return l, nil
}

// SetFilter restricts logging to a comma-separated list of subsystems.
// An empty filter logs everything. Matching is case-insensitive.
// Selecting "logix" also enables the layers underneath it.
func (l *DebugLogger) SetFilter(filter string) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.filters = make(map[string]bool)

	if filter == "" {
		return
	}

	for _, s := range strings.Split(filter, ",") {
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" {
			continue
		}
		l.filters[s] = true
		switch s {
		case "logix":
			l.filters["cip"] = true
			l.filters["eip"] = true
		case "eip":
			l.filters["eip/discovery"] = true
		case "plcman":
			l.filters["logix"] = true
		}
	}

	if len(l.filters) > 0 {
		names := make([]string, 0, len(l.filters))
		for s := range l.filters {
			names = append(names, s)
		}
		ts := time.Now().Format("2006-01-02 15:04:05.000")
		fmt.Fprintf(l.file, "%s [debug] filtering enabled for: %s\n",
			ts, strings.Join(names, ", "))
	}
}

// shouldLog reports whether the subsystem passes the filter.
// Must be called with l.mu held.
func (l *DebugLogger) shouldLog(subsystem string) bool {
	if len(l.filters) == 0 {
		return true
	}
	s := strings.ToLower(subsystem)
	if l.filters[s] {
		return true
	}
	// Header/footer lines always pass.
	return s == "debug"
}

// SetGlobalDebugLogger installs the process-wide debug logger.
func SetGlobalDebugLogger(logger *DebugLogger) {
	globalDebugMu.Lock()
	defer globalDebugMu.Unlock()
	globalDebugLogger = logger
}

// GetGlobalDebugLogger returns the process-wide debug logger, or nil.
func GetGlobalDebugLogger() *DebugLogger {
	globalDebugMu.RLock()
	defer globalDebugMu.RUnlock()
	return globalDebugLogger
}

// Log writes a timestamped message tagged with its subsystem.
func (l *DebugLogger) Log(subsystem, format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || !l.shouldLog(subsystem) {
		return
	}

	ts := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.file, "%s [%s] %s\n", ts, subsystem, msg)
}

// LogTX logs a transmitted packet with a hex dump.
func (l *DebugLogger) LogTX(subsystem string, data []byte) {
	l.logPacket(subsystem, "TX", data)
}

// LogRX logs a received packet with a hex dump.
func (l *DebugLogger) LogRX(subsystem string, data []byte) {
	l.logPacket(subsystem, "RX", data)
}

func (l *DebugLogger) logPacket(subsystem, direction string, data []byte) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || !l.shouldLog(subsystem) {
		return
	}

	ts := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(l.file, "%s [%s] %s (%d bytes):\n", ts, subsystem, direction, len(data))
	fmt.Fprintf(l.file, "%s\n", hexDump(data))
}

// LogConnect logs a connection attempt.
func (l *DebugLogger) LogConnect(subsystem, address string) {
	l.Log(subsystem, "CONNECT to %s", address)
}

// LogConnectSuccess logs a successful connection.
func (l *DebugLogger) LogConnectSuccess(subsystem, address, details string) {
	l.Log(subsystem, "CONNECTED to %s - %s", address, details)
}

// LogConnectError logs a connection failure.
func (l *DebugLogger) LogConnectError(subsystem, address string, err error) {
	l.Log(subsystem, "CONNECT FAILED to %s: %v", address, err)
}

// LogDisconnect logs a disconnection.
func (l *DebugLogger) LogDisconnect(subsystem, address, reason string) {
	l.Log(subsystem, "DISCONNECT from %s: %s", address, reason)
}

// LogError logs an error with its context.
func (l *DebugLogger) LogError(subsystem, context string, err error) {
	l.Log(subsystem, "ERROR in %s: %v", context, err)
}

// Close writes the trailer and closes the file.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	ts := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(l.file, "%s [debug] debug logging ended\n", ts)

	return l.file.Close()
}

// hexDump formats data as offset-prefixed rows of 8+8 hex bytes with an
// ASCII gutter:
//
//	0000: 65 00 04 00 00 00 00 00  00 00 00 00 00 00 00 00  e...............
//	0010: 00 00 00 00 01 00 00 00                          ........
func hexDump(data []byte) string {
	if len(data) == 0 {
		return "    (empty)"
	}

	var sb strings.Builder
	for offset := 0; offset < len(data); offset += 16 {
		sb.WriteString(fmt.Sprintf("    %04X: ", offset))

		for i := 0; i < 8; i++ {
			if offset+i < len(data) {
				sb.WriteString(fmt.Sprintf("%02X ", data[offset+i]))
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteString(" ")

		for i := 8; i < 16; i++ {
			if offset+i < len(data) {
				sb.WriteString(fmt.Sprintf("%02X ", data[offset+i]))
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteString(" ")

		for i := 0; i < 16; i++ {
			if offset+i < len(data) {
				b := data[offset+i]
				if b >= 32 && b < 127 {
					sb.WriteByte(b)
				} else {
					sb.WriteByte('.')
				}
			}
		}
		sb.WriteString("\n")
	}

	return strings.TrimSuffix(sb.String(), "\n")
}

// Package-level helpers so protocol code can log through the global
// instance without carrying a logger.

// DebugLog logs a message when debug logging is enabled.
func DebugLog(subsystem, format string, args ...interface{}) {
	GetGlobalDebugLogger().Log(subsystem, format, args...)
}

// DebugTX logs transmitted bytes when debug logging is enabled.
func DebugTX(subsystem string, data []byte) {
	GetGlobalDebugLogger().LogTX(subsystem, data)
}

// DebugRX logs received bytes when debug logging is enabled.
func DebugRX(subsystem string, data []byte) {
	GetGlobalDebugLogger().LogRX(subsystem, data)
}

// DebugConnect logs a connection attempt when debug logging is enabled.
func DebugConnect(subsystem, address string) {
	GetGlobalDebugLogger().LogConnect(subsystem, address)
}

// DebugConnectSuccess logs a successful connection when debug logging is enabled.
func DebugConnectSuccess(subsystem, address, details string) {
	GetGlobalDebugLogger().LogConnectSuccess(subsystem, address, details)
}

// DebugConnectError logs a connection error when debug logging is enabled.
func DebugConnectError(subsystem, address string, err error) {
	GetGlobalDebugLogger().LogConnectError(subsystem, address, err)
}

// DebugDisconnect logs a disconnection when debug logging is enabled.
func DebugDisconnect(subsystem, address, reason string) {
	GetGlobalDebugLogger().LogDisconnect(subsystem, address, reason)
}

// DebugError logs an error when debug logging is enabled.
func DebugError(subsystem, context string, err error) {
	GetGlobalDebugLogger().LogError(subsystem, context, err)
}
