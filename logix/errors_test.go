package logix

import (
	"errors"
	"fmt"
	"testing"
)

func TestCIPErrorKind(t *testing.T) {
	tests := []struct {
		name     string
		status   byte
		extended []uint16
		want     StatusKind
	}{
		{"path segment", StatusPathSegmentError, nil, KindPathSegment},
		{"path unknown", StatusPathUnknown, nil, KindTagNotFound},
		{"service not supported", StatusServiceNotSupport, nil, KindServiceNotSupported},
		{"invalid attribute", StatusInvalidAttrValue, nil, KindInvalidAttribute},
		{"object state conflict", StatusObjectStateConfl, nil, KindTypeMismatch},
		{"not enough data", StatusNotEnoughData, nil, KindTypeMismatch},
		{"too much data", StatusTooMuchData, nil, KindTypeMismatch},
		{"privilege violation", StatusPrivilegeViolated, nil, KindPrivilege},
		{"device state conflict", StatusDeviceStateConfl, nil, KindDeviceState},
		{"general illegal type", StatusGeneralError, []uint16{ExtIllegalType}, KindTypeMismatch},
		{"general size too small", StatusGeneralError, []uint16{ExtSizeTooSmall}, KindTypeMismatch},
		{"general size too large", StatusGeneralError, []uint16{ExtSizeTooLarge}, KindTypeMismatch},
		{"general tag not found", StatusGeneralError, []uint16{ExtTagNotFound}, KindTagNotFound},
		{"general tag read only", StatusGeneralError, []uint16{ExtTagReadOnly}, KindPrivilege},
		{"general without extended", StatusGeneralError, nil, KindUnknown},
		{"general unrecognized extended", StatusGeneralError, []uint16{0x0109}, KindUnknown},
		{"resource unavailable", 0x02, nil, KindUnknown},
		{"object does not exist", StatusObjectNotExist, nil, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &CIPError{Status: tt.status, Extended: tt.extended}
			if got := e.Kind(); got != tt.want {
				t.Errorf("Kind(0x%02X, %v) = %v, want %v", tt.status, tt.extended, got, tt.want)
			}
		})
	}
}

// Every possible status byte must classify without panicking and name
// itself in error text.
func TestCIPErrorKindTotal(t *testing.T) {
	for status := 0; status <= 0xFF; status++ {
		e := &CIPError{Tag: "T", Status: byte(status)}
		kind := e.Kind()
		if kind < KindUnknown || kind > KindDeviceState {
			t.Fatalf("Kind(0x%02X) = %d, outside the defined kinds", status, kind)
		}
		if kind.String() == "" {
			t.Fatalf("Kind(0x%02X).String() is empty", status)
		}
		if e.Error() == "" {
			t.Fatalf("Error() empty for status 0x%02X", status)
		}
	}
}

func TestStatusKindStringsDistinct(t *testing.T) {
	kinds := []StatusKind{
		KindUnknown, KindPathSegment, KindTagNotFound, KindServiceNotSupported,
		KindInvalidAttribute, KindTypeMismatch, KindPrivilege, KindDeviceState,
	}
	seen := make(map[string]StatusKind, len(kinds))
	for _, k := range kinds {
		s := k.String()
		if s == "" {
			t.Errorf("kind %d has empty String()", k)
		}
		if prev, dup := seen[s]; dup {
			t.Errorf("kinds %d and %d share the string %q", prev, k, s)
		}
		seen[s] = k
	}
}

func TestCIPErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *CIPError
		want string
	}{
		{
			"tag not found",
			&CIPError{Tag: "Motor.Speed", Service: ServiceReadTag, Status: StatusPathUnknown},
			`logix: "Motor.Speed": tag does not exist (status 0x05, path destination unknown)`,
		},
		{
			"extended detail",
			&CIPError{Tag: "Recipe", Service: ServiceWriteTag, Status: StatusGeneralError, Extended: []uint16{ExtTagReadOnly}},
			`logix: "Recipe": insufficient privilege (status 0xFF, extended tag read only 0x2105)`,
		},
		{
			"object request without tag",
			&CIPError{Service: ServiceGetInstanceAttrList, Status: StatusServiceNotSupport},
			`logix: service 0x55: service not supported (status 0x08, service not supported)`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsKind(t *testing.T) {
	notFound := statusError("Counter", ServiceReadTag, StatusPathUnknown, nil)

	if !IsKind(notFound, KindTagNotFound) {
		t.Error("IsKind(not found, KindTagNotFound) = false")
	}
	if IsKind(notFound, KindPrivilege) {
		t.Error("IsKind(not found, KindPrivilege) = true")
	}

	wrapped := fmt.Errorf("reading batch: %w", notFound)
	if !IsKind(wrapped, KindTagNotFound) {
		t.Error("IsKind does not see through fmt.Errorf wrapping")
	}

	if IsKind(nil, KindTagNotFound) {
		t.Error("IsKind(nil) = true")
	}
	if IsKind(errors.New("dial tcp: refused"), KindUnknown) {
		t.Error("IsKind matched a non-controller error")
	}
}

func TestFragmentErrorUnwrap(t *testing.T) {
	inner := statusError("BigArray", ServiceReadTagFragmented, StatusGeneralError, []uint16{ExtBadOffset})
	frag := &FragmentError{Tag: "BigArray", Offset: 16, Err: inner}

	var ce *CIPError
	if !errors.As(frag, &ce) {
		t.Fatal("errors.As did not find the *CIPError inside FragmentError")
	}
	if ce.Status != StatusGeneralError {
		t.Errorf("inner Status = 0x%02X, want 0xFF", ce.Status)
	}

	var fe *FragmentError
	if !errors.As(fmt.Errorf("poll: %w", frag), &fe) {
		t.Fatal("errors.As did not find the *FragmentError through wrapping")
	}
	if fe.Offset != 16 {
		t.Errorf("Offset = %d, want 16", fe.Offset)
	}

	want := `logix: "BigArray": fragmented transfer failed at offset 16: ` + inner.Error()
	if got := frag.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestUnknownTypeErrorMessage(t *testing.T) {
	e := &UnknownTypeError{Code: 0x8FA3}
	if got := e.Error(); got != "logix: unknown data type 0x8FA3" {
		t.Errorf("Error() = %q", got)
	}
}

func TestTypeMismatchErrorMessage(t *testing.T) {
	withTag := &TypeMismatchError{Tag: "Temp", Want: "float", Got: "DINT"}
	if got := withTag.Error(); got != `logix: "Temp": type mismatch: want float, got DINT` {
		t.Errorf("Error() = %q", got)
	}
	bare := &TypeMismatchError{Want: "BOOL", Got: "REAL"}
	if got := bare.Error(); got != "logix: type mismatch: want BOOL, got REAL" {
		t.Errorf("Error() = %q", got)
	}
}
