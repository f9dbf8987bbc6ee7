package logix

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  interface{} // decoding widens integers to int64/uint64
	}{
		{"bool true", true, true},
		{"bool false", false, false},
		{"sint", int8(-5), int64(-5)},
		{"int", int16(-1234), int64(-1234)},
		{"dint", int32(-123456), int64(-123456)},
		{"dint from plain int", int(7), int64(7)},
		{"lint", int64(-1) << 40, int64(-1) << 40},
		{"usint", uint8(200), uint64(200)},
		{"uint", uint16(65000), uint64(65000)},
		{"udint", uint32(4000000000), uint64(4000000000)},
		{"ulint", uint64(1) << 60, uint64(1) << 60},
		{"real", float32(3.14159), float64(float32(3.14159))},
		{"lreal", 2.718281828459045, 2.718281828459045},
		{"string", "hello, controller", "hello, controller"},
		{"empty string", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, data, err := EncodeValue(tt.value)
			if err != nil {
				t.Fatalf("EncodeValue(%v): %v", tt.value, err)
			}
			got, err := DecodeValue(code, data)
			if err != nil {
				t.Fatalf("DecodeValue(0x%04X): %v", code, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("round trip of %v (%T) = %v (%T), want %v (%T)",
					tt.value, tt.value, got, got, tt.want, tt.want)
			}
		})
	}
}

func TestDecodeValueDint(t *testing.T) {
	got, err := DecodeValue(TypeDINT, []byte{0x2A, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if got != int64(42) {
		t.Errorf("DecodeValue(DINT, 2A 00 00 00) = %v, want 42", got)
	}
}

func TestEncodeBoolWireValues(t *testing.T) {
	code, data, err := EncodeValue(true)
	if err != nil {
		t.Fatalf("EncodeValue(true): %v", err)
	}
	if code != TypeBOOL || !bytes.Equal(data, []byte{0xFF}) {
		t.Errorf("EncodeValue(true) = (0x%04X, % X), want (0x00C1, FF)", code, data)
	}

	code, data, err = EncodeValue(false)
	if err != nil {
		t.Fatalf("EncodeValue(false): %v", err)
	}
	if code != TypeBOOL || !bytes.Equal(data, []byte{0x00}) {
		t.Errorf("EncodeValue(false) = (0x%04X, % X), want (0x00C1, 00)", code, data)
	}
}

func TestBoolAcceptsAnyNonzero(t *testing.T) {
	for _, b := range []byte{0x01, 0x80, 0xFF} {
		v := TagValue{Name: "Flag", DataType: TypeBOOL, Bytes: []byte{b}}
		got, err := v.Bool()
		if err != nil {
			t.Fatalf("Bool(0x%02X): %v", b, err)
		}
		if !got {
			t.Errorf("Bool(0x%02X) = false, want true", b)
		}
	}

	v := TagValue{Name: "Flag", DataType: TypeBOOL, Bytes: []byte{0x00}}
	got, err := v.Bool()
	if err != nil {
		t.Fatalf("Bool(0x00): %v", err)
	}
	if got {
		t.Error("Bool(0x00) = true, want false")
	}
}

func TestEncodeStringCapacity(t *testing.T) {
	longest := strings.Repeat("x", MaxStringLength)
	data, err := EncodeString(longest)
	if err != nil {
		t.Fatalf("EncodeString(%d chars): %v", MaxStringLength, err)
	}
	if len(data) != 4+MaxStringLength {
		t.Errorf("encoded length = %d, want %d", len(data), 4+MaxStringLength)
	}

	_, err = EncodeString(longest + "x")
	var tooLong *StringTooLongError
	if !errors.As(err, &tooLong) {
		t.Fatalf("EncodeString(%d chars) error = %v, want *StringTooLongError", MaxStringLength+1, err)
	}
	if tooLong.Length != MaxStringLength+1 {
		t.Errorf("Length = %d, want %d", tooLong.Length, MaxStringLength+1)
	}
}

func TestEncodeStringLayout(t *testing.T) {
	data, err := EncodeString("abc")
	if err != nil {
		t.Fatalf("EncodeString: %v", err)
	}
	want := []byte{0x03, 0x00, 0x00, 0x00, 'a', 'b', 'c'}
	if !bytes.Equal(data, want) {
		t.Errorf("EncodeString(abc) = % X, want % X", data, want)
	}
}

func TestDecodeValueRejectsUnknownCodes(t *testing.T) {
	tests := []struct {
		name string
		code uint16
	}{
		{"unassigned elementary", 0x00CC},
		{"structure", 0x8FA3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeValue(tt.code, []byte{0x01, 0x02})
			var unknown *UnknownTypeError
			if !errors.As(err, &unknown) {
				t.Fatalf("DecodeValue(0x%04X) error = %v, want *UnknownTypeError", tt.code, err)
			}
			if unknown.Code != tt.code {
				t.Errorf("Code = 0x%04X, want 0x%04X", unknown.Code, tt.code)
			}
		})
	}
}

func TestDecodeValueArray(t *testing.T) {
	data := []byte{
		0x01, 0x00, 0x00, 0x00,
		0x02, 0x00, 0x00, 0x00,
		0xFE, 0xFF, 0xFF, 0xFF,
	}
	got, err := DecodeValue(TypeDINT, data)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	want := []int64{1, 2, -2}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DecodeValue(DINT, 12 bytes) = %v, want %v", got, want)
	}
}

func TestTagValueString(t *testing.T) {
	v := TagValue{Name: "Label", DataType: TypeSTRING, Bytes: []byte{0x05, 0x00, 0x00, 0x00, 'h', 'e', 'l', 'l', 'o'}}
	got, err := v.String()
	if err != nil {
		t.Fatalf("String: %v", err)
	}
	if got != "hello" {
		t.Errorf("String = %q, want hello", got)
	}

	short := TagValue{Name: "S", DataType: TypeShortSTRING, Bytes: []byte{0x03, 'a', 'b', 'c'}}
	got, err = short.String()
	if err != nil {
		t.Fatalf("String: %v", err)
	}
	if got != "abc" {
		t.Errorf("SHORT_STRING = %q, want abc", got)
	}
}

func TestTagValueStringIgnoresPadding(t *testing.T) {
	// Reads of STRING tags return the full 82-byte buffer; only the
	// length-prefixed prefix is the value.
	raw := make([]byte, 4+MaxStringLength)
	raw[0] = 2
	copy(raw[4:], "ok, the rest is stale buffer content")
	v := TagValue{DataType: TypeSTRING, Bytes: raw}
	got, err := v.String()
	if err != nil {
		t.Fatalf("String: %v", err)
	}
	if got != "ok" {
		t.Errorf("String = %q, want ok", got)
	}
}

func TestTagValueAccessorMismatch(t *testing.T) {
	real := TagValue{Name: "Temp", DataType: TypeREAL, Bytes: []byte{0, 0, 0xC0, 0x3F}}
	dint := TagValue{Name: "Count", DataType: TypeDINT, Bytes: []byte{1, 0, 0, 0}}

	if _, err := real.Int(); !isTypeMismatch(err) {
		t.Errorf("Int on REAL = %v, want *TypeMismatchError", err)
	}
	if _, err := dint.Bool(); !isTypeMismatch(err) {
		t.Errorf("Bool on DINT = %v, want *TypeMismatchError", err)
	}
	if _, err := dint.Float(); !isTypeMismatch(err) {
		t.Errorf("Float on DINT = %v, want *TypeMismatchError", err)
	}
	if _, err := dint.String(); !isTypeMismatch(err) {
		t.Errorf("String on DINT = %v, want *TypeMismatchError", err)
	}
	if _, err := dint.Uint(); !isTypeMismatch(err) {
		t.Errorf("Uint on DINT = %v, want *TypeMismatchError", err)
	}
}

func isTypeMismatch(err error) bool {
	var tm *TypeMismatchError
	return errors.As(err, &tm)
}

func TestTagValueErrorPropagates(t *testing.T) {
	bad := errors.New("batch failed")
	v := TagValue{Name: "X", Error: bad}

	if _, err := v.Int(); !errors.Is(err, bad) {
		t.Errorf("Int error = %v, want the batch error", err)
	}
	if _, err := v.Bool(); !errors.Is(err, bad) {
		t.Errorf("Bool error = %v, want the batch error", err)
	}
	if got := v.GoValue(); got != nil {
		t.Errorf("GoValue = %v, want nil for an errored read", got)
	}
}

func TestGoValueStructureFallback(t *testing.T) {
	v := TagValue{DataType: 0x8FA3, Bytes: []byte{1, 2, 3}}
	got := v.GoValue()
	want := []int{1, 2, 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GoValue(structure) = %v, want %v", got, want)
	}
}

func TestGoValueCountMarksArray(t *testing.T) {
	// A one-element read of an array tag still decodes as a scalar; a
	// Count above one forces the array form even for 4 bytes.
	v := TagValue{DataType: TypeDINT, Bytes: []byte{0x2A, 0, 0, 0}, Count: 1}
	if got := v.GoValue(); got != int64(42) {
		t.Errorf("GoValue(count 1) = %v, want 42", got)
	}

	v.Count = 2
	if _, ok := v.GoValue().([]int64); !ok {
		t.Errorf("GoValue(count 2) = %T, want []int64", v.GoValue())
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		name     string
		dataType uint16
		text     string
		want     []byte
		wantErr  bool
	}{
		{"bool 1", TypeBOOL, "1", []byte{0xFF}, false},
		{"bool true", TypeBOOL, "true", []byte{0xFF}, false},
		{"bool TRUE", TypeBOOL, "TRUE", []byte{0xFF}, false},
		{"bool on", TypeBOOL, "on", []byte{0xFF}, false},
		{"bool 0", TypeBOOL, "0", []byte{0x00}, false},
		{"bool false", TypeBOOL, "false", []byte{0x00}, false},
		{"bool OFF", TypeBOOL, "OFF", []byte{0x00}, false},
		{"bool junk", TypeBOOL, "yes", nil, true},
		{"sint max", TypeSINT, "127", []byte{0x7F}, false},
		{"sint overflow", TypeSINT, "128", nil, true},
		{"dint negative", TypeDINT, "-42", []byte{0xD6, 0xFF, 0xFF, 0xFF}, false},
		{"dint junk", TypeDINT, "fast", nil, true},
		{"uint max", TypeUINT, "65535", []byte{0xFF, 0xFF}, false},
		{"uint negative", TypeUINT, "-1", nil, true},
		{"ulint", TypeULINT, "1", []byte{1, 0, 0, 0, 0, 0, 0, 0}, false},
		{"real", TypeREAL, "1.5", []byte{0x00, 0x00, 0xC0, 0x3F}, false},
		{"lreal", TypeLREAL, "0.5", []byte{0, 0, 0, 0, 0, 0, 0xE0, 0x3F}, false},
		{"real junk", TypeREAL, "warm", nil, true},
		{"string", TypeSTRING, "abc", []byte{3, 0, 0, 0, 'a', 'b', 'c'}, false},
		{"struct", 0x8FA3, "1", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseValue(tt.dataType, tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseValue(0x%04X, %q) error = %v, wantErr %v", tt.dataType, tt.text, err, tt.wantErr)
			}
			if !tt.wantErr && !bytes.Equal(got, tt.want) {
				t.Errorf("ParseValue(0x%04X, %q) = % X, want % X", tt.dataType, tt.text, got, tt.want)
			}
		})
	}
}

func TestParseValueArrayType(t *testing.T) {
	// The array flag rides along; parsing still targets one element.
	got, err := ParseValue(TypeDINT|TypeArray1D, "9")
	if err != nil {
		t.Fatalf("ParseValue: %v", err)
	}
	if !bytes.Equal(got, []byte{9, 0, 0, 0}) {
		t.Errorf("ParseValue(DINT[], 9) = % X", got)
	}
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		dataType uint16
		want     interface{}
		wantErr  bool
	}{
		{"bool from bool", true, TypeBOOL, true, false},
		{"bool from nonzero", float64(1), TypeBOOL, true, false},
		{"bool from zero", float64(0), TypeBOOL, false, false},
		{"bool from string", "true", TypeBOOL, nil, true},

		{"sint min", float64(-128), TypeSINT, int8(-128), false},
		{"sint max", float64(127), TypeSINT, int8(127), false},
		{"sint overflow", float64(128), TypeSINT, nil, true},
		{"sint fractional", float64(1.5), TypeSINT, nil, true},

		{"int ok", float64(-32768), TypeINT, int16(-32768), false},
		{"int overflow", float64(32768), TypeINT, nil, true},

		{"dint ok", float64(42), TypeDINT, int32(42), false},
		{"dint negative", float64(-2147483648), TypeDINT, int32(-2147483648), false},
		{"dint overflow", float64(2147483648), TypeDINT, nil, true},
		{"dint fractional", float64(1.5), TypeDINT, nil, true},
		{"dint from string", "42", TypeDINT, nil, true},

		{"lint ok", float64(1 << 40), TypeLINT, int64(1 << 40), false},
		{"lint fractional", float64(0.5), TypeLINT, nil, true},

		{"usint ok", float64(255), TypeUSINT, uint8(255), false},
		{"usint negative", float64(-1), TypeUSINT, nil, true},

		{"uint ok", float64(65535), TypeUINT, uint16(65535), false},
		{"uint overflow", float64(65536), TypeUINT, nil, true},

		{"udint ok", float64(4294967295), TypeUDINT, uint32(4294967295), false},
		{"udint negative", float64(-1), TypeUDINT, nil, true},

		{"ulint ok", float64(1 << 50), TypeULINT, uint64(1 << 50), false},
		{"ulint negative", float64(-1), TypeULINT, nil, true},

		{"real", float64(1.5), TypeREAL, float32(1.5), false},
		{"real from bool", true, TypeREAL, nil, true},
		{"lreal", float64(0.25), TypeLREAL, float64(0.25), false},

		// Array flags strip down to the element type.
		{"dint array element", float64(7), TypeArray1D | TypeDINT, int32(7), false},

		// Strings pass through for string-typed and unknown tags.
		{"string passthrough", "hello", TypeSTRING, "hello", false},

		// Unknown types: whole numbers default to DINT, others pass through.
		{"unknown whole number", float64(9), uint16(0x0FA2), int32(9), false},
		{"unknown fractional", float64(9.5), uint16(0x0FA2), float64(9.5), false},

		{"unsupported value type", []interface{}{1}, TypeDINT, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CoerceValue(tt.value, tt.dataType)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("CoerceValue(%v, %#04x) = %v, want error", tt.value, tt.dataType, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CoerceValue(%v, %#04x): %v", tt.value, tt.dataType, err)
			}
			if got != tt.want {
				t.Errorf("CoerceValue(%v, %#04x) = %v (%T), want %v (%T)",
					tt.value, tt.dataType, got, got, tt.want, tt.want)
			}
		})
	}
}

// TestCoerceThenEncode checks the full write-back path from a decoded
// JSON number to wire bytes.
func TestCoerceThenEncode(t *testing.T) {
	coerced, err := CoerceValue(float64(1500), TypeINT)
	if err != nil {
		t.Fatalf("CoerceValue: %v", err)
	}
	dataType, data, err := EncodeValue(coerced)
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	if dataType != TypeINT {
		t.Errorf("dataType = %#04x, want INT", dataType)
	}
	if !bytes.Equal(data, []byte{0xDC, 0x05}) {
		t.Errorf("data = % X, want DC 05", data)
	}
}
