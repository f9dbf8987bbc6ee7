package eip

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Sentinel errors for session lifecycle failures. Callers match these with
// errors.Is.
var (
	// ErrSessionNotActive is returned when a transaction is attempted
	// before Connect succeeds or after the session is torn down.
	ErrSessionNotActive = errors.New("session not active")

	// ErrTimeout is returned when the controller does not answer within
	// the client timeout.
	ErrTimeout = errors.New("request timed out")

	// ErrConnectionLost is returned when the TCP stream fails mid
	// transaction. The session is dead; the caller must reconnect.
	ErrConnectionLost = errors.New("connection lost")
)

// RegistrationError reports a RegisterSession reply the client cannot
// proceed from: a nonzero encapsulation status, or a zero session handle.
type RegistrationError struct {
	Status uint32
}

func (e *RegistrationError) Error() string {
	if e.Status == 0 {
		return "session registration rejected: controller assigned no session handle"
	}
	return fmt.Sprintf("session registration rejected: encapsulation status 0x%02X", e.Status)
}

// VersionError reports a RegisterSession reply carrying an encapsulation
// protocol version this client does not speak.
type VersionError struct {
	Got  uint16
	Want uint16
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("protocol version mismatch: controller offered %d, need %d", e.Got, e.Want)
}

// FrameError reports a frame that violates the encapsulation layer:
// truncated header, length disagreeing with the bytes on the wire,
// oversize payload, or a reply whose session handle or sender context does
// not match the request.
type FrameError struct {
	Reason string
}

func (e *FrameError) Error() string {
	return "malformed frame: " + e.Reason
}

// CommandError reports a reply carrying an encapsulation command this
// client does not recognize. The frame itself decoded fine; the caller
// sees the command code rather than a silent drop.
type CommandError struct {
	Command uint16
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("unsupported encapsulation command 0x%04X", e.Command)
}

// classifyNetErr folds a transport error into the session taxonomy:
// deadline expiry becomes ErrTimeout, stream death becomes
// ErrConnectionLost. The original error stays in the chain.
func classifyNetErr(err error) error {
	if err == nil {
		return nil
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return err
}
