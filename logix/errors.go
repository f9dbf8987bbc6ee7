package logix

import (
	"errors"
	"fmt"
)

// StatusKind classifies controller status codes into the handful of
// conditions callers actually branch on. Everything unrecognized lands in
// KindUnknown with the raw codes preserved on the error.
type StatusKind int

const (
	KindUnknown StatusKind = iota
	KindPathSegment
	KindTagNotFound
	KindServiceNotSupported
	KindInvalidAttribute
	KindTypeMismatch
	KindPrivilege
	KindDeviceState
)

func (k StatusKind) String() string {
	switch k {
	case KindPathSegment:
		return "path segment error"
	case KindTagNotFound:
		return "tag does not exist"
	case KindServiceNotSupported:
		return "service not supported"
	case KindInvalidAttribute:
		return "invalid attribute value"
	case KindTypeMismatch:
		return "data type mismatch"
	case KindPrivilege:
		return "insufficient privilege"
	case KindDeviceState:
		return "device state conflict"
	}
	return "unknown status"
}

// CIPError is a nonzero controller status on an explicit-messaging reply.
// The session stays usable after one of these; only transport and framing
// errors poison it.
type CIPError struct {
	Tag      string // tag path the request addressed, empty for object requests
	Service  byte   // request service code
	Status   byte
	Extended []uint16
}

// Kind maps the general status, refined by the extended words when the
// general status alone says nothing, onto the status taxonomy.
// 0x13/0x15 (not enough / too much data) ride with 0x0C as type-mismatch
// conditions: all three surface when the written value does not match the
// controller's declared tag type.
func (e *CIPError) Kind() StatusKind {
	switch e.Status {
	case StatusPathSegmentError:
		return KindPathSegment
	case StatusPathUnknown:
		return KindTagNotFound
	case StatusServiceNotSupport:
		return KindServiceNotSupported
	case StatusInvalidAttrValue:
		return KindInvalidAttribute
	case StatusObjectStateConfl, StatusNotEnoughData, StatusTooMuchData:
		return KindTypeMismatch
	case StatusPrivilegeViolated:
		return KindPrivilege
	case StatusDeviceStateConfl:
		return KindDeviceState
	case StatusGeneralError:
		if len(e.Extended) > 0 {
			switch e.Extended[0] {
			case ExtIllegalType, ExtSizeTooSmall, ExtSizeTooLarge:
				return KindTypeMismatch
			case ExtTagNotFound:
				return KindTagNotFound
			case ExtTagReadOnly:
				return KindPrivilege
			}
		}
	}
	return KindUnknown
}

func (e *CIPError) Error() string {
	var detail string
	if len(e.Extended) > 0 {
		detail = fmt.Sprintf("%s (status 0x%02X, extended %s 0x%04X)",
			e.Kind(), e.Status, extStatusText(e.Extended[0]), e.Extended[0])
	} else {
		detail = fmt.Sprintf("%s (status 0x%02X, %s)", e.Kind(), e.Status, statusText(e.Status))
	}
	if e.Tag != "" {
		return fmt.Sprintf("logix: %q: %s", e.Tag, detail)
	}
	return fmt.Sprintf("logix: service 0x%02X: %s", e.Service, detail)
}

// IsKind reports whether err carries a *CIPError of the given kind.
func IsKind(err error, kind StatusKind) bool {
	var ce *CIPError
	return errors.As(err, &ce) && ce.Kind() == kind
}

// statusError builds the CIPError for a failed reply.
func statusError(tag string, service byte, status byte, extended []uint16) error {
	return &CIPError{Tag: tag, Service: service, Status: status, Extended: extended}
}

// UnknownTypeError reports a wire type code the value codec has no layout
// for. Guessing a layout would corrupt data, so decoding stops here.
type UnknownTypeError struct {
	Code uint16
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("logix: unknown data type 0x%04X", e.Code)
}

// TypeMismatchError reports a typed accessor applied to a tag of a
// different type.
type TypeMismatchError struct {
	Tag  string
	Want string
	Got  string
}

func (e *TypeMismatchError) Error() string {
	if e.Tag == "" {
		return fmt.Sprintf("logix: type mismatch: want %s, got %s", e.Want, e.Got)
	}
	return fmt.Sprintf("logix: %q: type mismatch: want %s, got %s", e.Tag, e.Want, e.Got)
}

// StringTooLongError reports a string value exceeding the STRING tag
// capacity of MaxStringLength bytes.
type StringTooLongError struct {
	Length int
}

func (e *StringTooLongError) Error() string {
	return fmt.Sprintf("logix: string of %d bytes exceeds the %d byte STRING capacity", e.Length, MaxStringLength)
}

// FragmentError reports a fragmented transfer that failed partway. The
// whole operation failed; no partial data was kept.
type FragmentError struct {
	Tag    string
	Offset uint32 // byte offset of the fragment that failed
	Err    error
}

func (e *FragmentError) Error() string {
	return fmt.Sprintf("logix: %q: fragmented transfer failed at offset %d: %v", e.Tag, e.Offset, e.Err)
}

func (e *FragmentError) Unwrap() error {
	return e.Err
}

// statusText names a general status code for log and error text.
func statusText(status byte) string {
	switch status {
	case StatusSuccess:
		return "success"
	case 0x01:
		return "connection failure"
	case 0x02:
		return "resource unavailable"
	case 0x03:
		return "invalid parameter value"
	case StatusPathSegmentError:
		return "path segment error"
	case StatusPathUnknown:
		return "path destination unknown"
	case StatusPartialTransfer:
		return "partial transfer"
	case 0x07:
		return "connection lost"
	case StatusServiceNotSupport:
		return "service not supported"
	case StatusInvalidAttrValue:
		return "invalid attribute value"
	case StatusAlreadyInState:
		return "already in requested state"
	case StatusObjectStateConfl:
		return "object state conflict"
	case 0x0D:
		return "object already exists"
	case StatusAttrNotSettable:
		return "attribute not settable"
	case StatusPrivilegeViolated:
		return "privilege violation"
	case StatusDeviceStateConfl:
		return "device state conflict"
	case StatusReplyDataTooLarge:
		return "reply data too large"
	case StatusNotEnoughData:
		return "not enough data"
	case StatusAttrNotSupported:
		return "attribute not supported"
	case StatusTooMuchData:
		return "too much data"
	case StatusObjectNotExist:
		return "object does not exist"
	case StatusEmbeddedError:
		return "embedded service error"
	case StatusGeneralError:
		return "general error"
	}
	return fmt.Sprintf("status 0x%02X", status)
}

// extStatusText names the extended status words seen from Logix
// controllers and Connection Manager replies.
func extStatusText(ext uint16) string {
	switch ext {
	case ExtIllegalType:
		return "illegal data type"
	case ExtTagNotFound:
		return "tag not found"
	case ExtTagReadOnly:
		return "tag read only"
	case ExtSizeTooSmall:
		return "size too small"
	case ExtSizeTooLarge:
		return "size too large"
	case ExtBadOffset:
		return "offset out of range"
	case 0x0100:
		return "connection in use"
	case 0x0103:
		return "transport class not supported"
	case 0x0106:
		return "ownership conflict"
	case 0x0107:
		return "connection not found"
	case 0x0108:
		return "invalid connection type"
	case 0x0109:
		return "invalid connection size"
	case 0x0110:
		return "module not found"
	case 0x0111:
		return "connection request refused"
	case 0x0203:
		return "connection timed out"
	case 0x0204:
		return "unconnected send timed out"
	case 0x0205:
		return "parameter error"
	case 0x0311:
		return "invalid port"
	case 0x0312:
		return "invalid link address"
	}
	return fmt.Sprintf("extended 0x%04X", ext)
}
