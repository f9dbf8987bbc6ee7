package logix

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// TagValue is the result of reading one tag: the raw little-endian bytes
// plus the type code the controller reported. Decoding is deferred to the
// typed accessors so callers pay only for the conversion they want.
type TagValue struct {
	Name     string
	DataType uint16
	Bytes    []byte
	Count    int   // element count requested (0 or 1 scalar, >1 array)
	Error    error // per-tag error from a batched read
}

// TypeName returns the controller-style name of this value's type.
func (v *TagValue) TypeName() string {
	return TypeName(v.DataType)
}

// Bool decodes a BOOL value. Controllers report 0x00 for false and 0xFF
// for true; any nonzero byte is accepted as true.
func (v *TagValue) Bool() (bool, error) {
	if v.Error != nil {
		return false, v.Error
	}
	if BaseType(v.DataType) != TypeBOOL {
		return false, &TypeMismatchError{Tag: v.Name, Want: "BOOL", Got: v.TypeName()}
	}
	if len(v.Bytes) < 1 {
		return false, fmt.Errorf("logix: %q: BOOL value missing data", v.Name)
	}
	return v.Bytes[0] != 0, nil
}

// Int decodes any signed integer type (SINT, INT, DINT, LINT) to int64.
func (v *TagValue) Int() (int64, error) {
	if v.Error != nil {
		return 0, v.Error
	}
	base := BaseType(v.DataType)
	size := TypeSize(base)
	switch base {
	case TypeSINT, TypeINT, TypeDINT, TypeLINT:
		if len(v.Bytes) < size {
			return 0, fmt.Errorf("logix: %q: %s value truncated at %d bytes", v.Name, v.TypeName(), len(v.Bytes))
		}
		return decodeInt(v.Bytes, size), nil
	}
	return 0, &TypeMismatchError{Tag: v.Name, Want: "signed integer", Got: v.TypeName()}
}

// Uint decodes any unsigned integer type (USINT, UINT, UDINT, ULINT) to
// uint64.
func (v *TagValue) Uint() (uint64, error) {
	if v.Error != nil {
		return 0, v.Error
	}
	base := BaseType(v.DataType)
	size := TypeSize(base)
	switch base {
	case TypeUSINT, TypeUINT, TypeUDINT, TypeULINT:
		if len(v.Bytes) < size {
			return 0, fmt.Errorf("logix: %q: %s value truncated at %d bytes", v.Name, v.TypeName(), len(v.Bytes))
		}
		return decodeUint(v.Bytes, size), nil
	}
	return 0, &TypeMismatchError{Tag: v.Name, Want: "unsigned integer", Got: v.TypeName()}
}

// Float decodes REAL or LREAL to float64.
func (v *TagValue) Float() (float64, error) {
	if v.Error != nil {
		return 0, v.Error
	}
	base := BaseType(v.DataType)
	size := TypeSize(base)
	switch base {
	case TypeREAL, TypeLREAL:
		if len(v.Bytes) < size {
			return 0, fmt.Errorf("logix: %q: %s value truncated at %d bytes", v.Name, v.TypeName(), len(v.Bytes))
		}
		return decodeFloat(v.Bytes, size), nil
	}
	return 0, &TypeMismatchError{Tag: v.Name, Want: "float", Got: v.TypeName()}
}

// String decodes STRING or SHORT_STRING values.
func (v *TagValue) String() (string, error) {
	if v.Error != nil {
		return "", v.Error
	}
	switch BaseType(v.DataType) {
	case TypeSTRING:
		s, _, err := decodeString(v.Bytes)
		if err != nil {
			return "", fmt.Errorf("logix: %q: %w", v.Name, err)
		}
		return s, nil
	case TypeShortSTRING:
		s, _, err := decodeShortString(v.Bytes)
		if err != nil {
			return "", fmt.Errorf("logix: %q: %w", v.Name, err)
		}
		return s, nil
	}
	return "", &TypeMismatchError{Tag: v.Name, Want: "string", Got: v.TypeName()}
}

// GoValue converts the raw bytes to a natural Go representation:
// bool, int64, uint64, float64 or string for scalars, slices of those for
// arrays, and []int raw bytes for structures and unknown codes. It never
// fails; use DecodeValue when unknown type codes must be an error.
func (v *TagValue) GoValue() interface{} {
	if v.Error != nil {
		return nil
	}

	base := BaseType(v.DataType)

	isArray := IsArray(v.DataType) || v.Count > 1
	if !isArray {
		// Some replies omit the array flag; length beyond one element
		// still means an array.
		if size := TypeSize(base); size > 0 && len(v.Bytes) > size {
			isArray = true
		}
	}

	if isArray {
		return v.decodeArray(base)
	}
	return v.decodeScalar(base)
}

func (v *TagValue) decodeScalar(base uint16) interface{} {
	size := TypeSize(base)
	if size > 0 && len(v.Bytes) < size {
		return v.bytesToIntSlice()
	}

	switch base {
	case TypeBOOL:
		return v.Bytes[0] != 0
	case TypeSINT, TypeINT, TypeDINT, TypeLINT:
		return decodeInt(v.Bytes, size)
	case TypeUSINT, TypeUINT, TypeUDINT, TypeULINT:
		return decodeUint(v.Bytes, size)
	case TypeREAL, TypeLREAL:
		return decodeFloat(v.Bytes, size)
	case TypeSTRING:
		if s, _, err := decodeString(v.Bytes); err == nil {
			return s
		}
	case TypeShortSTRING:
		if s, _, err := decodeShortString(v.Bytes); err == nil {
			return s
		}
	}
	return v.bytesToIntSlice()
}

func (v *TagValue) decodeArray(base uint16) interface{} {
	size := TypeSize(base)

	switch base {
	case TypeBOOL:
		out := make([]bool, len(v.Bytes))
		for i, b := range v.Bytes {
			out[i] = b != 0
		}
		return out

	case TypeSINT, TypeINT, TypeDINT, TypeLINT:
		out := make([]int64, len(v.Bytes)/size)
		for i := range out {
			out[i] = decodeInt(v.Bytes[i*size:], size)
		}
		return out

	case TypeUSINT, TypeUINT, TypeUDINT, TypeULINT:
		out := make([]uint64, len(v.Bytes)/size)
		for i := range out {
			out[i] = decodeUint(v.Bytes[i*size:], size)
		}
		return out

	case TypeREAL, TypeLREAL:
		out := make([]float64, len(v.Bytes)/size)
		for i := range out {
			out[i] = decodeFloat(v.Bytes[i*size:], size)
		}
		return out

	case TypeSTRING:
		var out []string
		for rest := v.Bytes; len(rest) >= 4; {
			s, n, err := decodeString(rest)
			if err != nil {
				break
			}
			out = append(out, s)
			rest = rest[n:]
		}
		return out

	case TypeShortSTRING:
		var out []string
		for rest := v.Bytes; len(rest) > 0; {
			s, n, err := decodeShortString(rest)
			if err != nil {
				break
			}
			out = append(out, s)
			rest = rest[n:]
		}
		return out
	}

	return v.bytesToIntSlice()
}

// bytesToIntSlice renders raw bytes as []int so JSON encoders emit a
// number array rather than base64.
func (v *TagValue) bytesToIntSlice() []int {
	out := make([]int, len(v.Bytes))
	for i, b := range v.Bytes {
		out[i] = int(b)
	}
	return out
}

func decodeInt(b []byte, size int) int64 {
	switch size {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	default:
		return int64(binary.LittleEndian.Uint64(b))
	}
}

func decodeUint(b []byte, size int) uint64 {
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func decodeFloat(b []byte, size int) float64 {
	if size == 4 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// decodeString reads one Logix STRING (DINT length + characters) and
// returns the consumed byte count.
func decodeString(b []byte) (string, int, error) {
	if len(b) < 4 {
		return "", 0, fmt.Errorf("STRING value truncated at %d bytes", len(b))
	}
	n := int(binary.LittleEndian.Uint32(b[:4]))
	if n > len(b)-4 {
		n = len(b) - 4
	}
	return string(b[4 : 4+n]), 4 + n, nil
}

// decodeShortString reads one SHORT_STRING (byte length + characters).
func decodeShortString(b []byte) (string, int, error) {
	if len(b) < 1 {
		return "", 0, fmt.Errorf("SHORT_STRING value missing length byte")
	}
	n := int(b[0])
	if n > len(b)-1 {
		n = len(b) - 1
	}
	return string(b[1 : 1+n]), 1 + n, nil
}

// DecodeValue interprets raw reply bytes as the given type code. Unlike
// TagValue.GoValue it refuses unknown codes instead of falling back to a
// byte dump.
func DecodeValue(dataType uint16, data []byte) (interface{}, error) {
	base := BaseType(dataType)
	if IsStructure(dataType) {
		return nil, &UnknownTypeError{Code: dataType}
	}
	switch base {
	case TypeBOOL, TypeSINT, TypeINT, TypeDINT, TypeLINT,
		TypeUSINT, TypeUINT, TypeUDINT, TypeULINT,
		TypeREAL, TypeLREAL, TypeSTRING, TypeShortSTRING:
		v := TagValue{DataType: dataType, Bytes: data}
		return v.GoValue(), nil
	}
	return nil, &UnknownTypeError{Code: dataType}
}

// EncodeValue converts a Go value to its wire type code and bytes for a
// write. BOOL true encodes as 0xFF, the value controllers themselves
// report. Plain int maps to DINT and uint to UDINT, the dominant Logix
// integer widths.
func EncodeValue(value interface{}) (uint16, []byte, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return TypeBOOL, []byte{0xFF}, nil
		}
		return TypeBOOL, []byte{0x00}, nil
	case int8:
		return TypeSINT, []byte{byte(v)}, nil
	case int16:
		return TypeINT, binary.LittleEndian.AppendUint16(nil, uint16(v)), nil
	case int32:
		return TypeDINT, binary.LittleEndian.AppendUint32(nil, uint32(v)), nil
	case int64:
		return TypeLINT, binary.LittleEndian.AppendUint64(nil, uint64(v)), nil
	case int:
		return TypeDINT, binary.LittleEndian.AppendUint32(nil, uint32(int32(v))), nil
	case uint8:
		return TypeUSINT, []byte{v}, nil
	case uint16:
		return TypeUINT, binary.LittleEndian.AppendUint16(nil, v), nil
	case uint32:
		return TypeUDINT, binary.LittleEndian.AppendUint32(nil, v), nil
	case uint64:
		return TypeULINT, binary.LittleEndian.AppendUint64(nil, v), nil
	case uint:
		return TypeUDINT, binary.LittleEndian.AppendUint32(nil, uint32(v)), nil
	case float32:
		return TypeREAL, binary.LittleEndian.AppendUint32(nil, math.Float32bits(v)), nil
	case float64:
		return TypeLREAL, binary.LittleEndian.AppendUint64(nil, math.Float64bits(v)), nil
	case string:
		data, err := EncodeString(v)
		if err != nil {
			return 0, nil, err
		}
		return TypeSTRING, data, nil
	}
	return 0, nil, fmt.Errorf("logix: unsupported value type %T", value)
}

// EncodeString builds the Logix STRING structure: DINT character count
// followed by the characters.
func EncodeString(s string) ([]byte, error) {
	if len(s) > MaxStringLength {
		return nil, &StringTooLongError{Length: len(s)}
	}
	data := binary.LittleEndian.AppendUint32(nil, uint32(len(s)))
	return append(data, s...), nil
}

// ParseValue converts textual input to wire bytes for the given type.
// The write surfaces (CLI, HTTP, publisher write-back) route user input
// through here.
func ParseValue(dataType uint16, text string) ([]byte, error) {
	base := BaseType(dataType)
	size := TypeSize(base)

	switch base {
	case TypeBOOL:
		switch text {
		case "1", "true", "True", "TRUE", "on", "ON":
			return []byte{0xFF}, nil
		case "0", "false", "False", "FALSE", "off", "OFF":
			return []byte{0x00}, nil
		}
		return nil, fmt.Errorf("logix: %q is not a BOOL value", text)

	case TypeSINT, TypeINT, TypeDINT, TypeLINT:
		n, err := strconv.ParseInt(text, 10, size*8)
		if err != nil {
			return nil, fmt.Errorf("logix: %q is not a %s value", text, TypeName(base))
		}
		return appendUint(nil, uint64(n), size), nil

	case TypeUSINT, TypeUINT, TypeUDINT, TypeULINT:
		n, err := strconv.ParseUint(text, 10, size*8)
		if err != nil {
			return nil, fmt.Errorf("logix: %q is not a %s value", text, TypeName(base))
		}
		return appendUint(nil, n, size), nil

	case TypeREAL:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return nil, fmt.Errorf("logix: %q is not a REAL value", text)
		}
		return binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(f))), nil

	case TypeLREAL:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("logix: %q is not an LREAL value", text)
		}
		return binary.LittleEndian.AppendUint64(nil, math.Float64bits(f)), nil

	case TypeSTRING:
		return EncodeString(text)
	}

	return nil, &UnknownTypeError{Code: dataType}
}

func appendUint(b []byte, v uint64, size int) []byte {
	switch size {
	case 1:
		return append(b, byte(v))
	case 2:
		return binary.LittleEndian.AppendUint16(b, uint16(v))
	case 4:
		return binary.LittleEndian.AppendUint32(b, uint32(v))
	default:
		return binary.LittleEndian.AppendUint64(b, v)
	}
}

// CoerceValue converts a JSON-decoded value to the Go type EncodeValue
// expects for the given data type. JSON numbers arrive as float64, so
// range and integrality are checked before narrowing. For unknown or
// structure types, strings pass through and whole numbers fall back to
// DINT.
func CoerceValue(value interface{}, dataType uint16) (interface{}, error) {
	base := BaseType(dataType)

	var numVal float64
	var isNumber bool
	var boolVal bool
	var isBool bool
	var strVal string
	var isString bool

	switch v := value.(type) {
	case float64:
		numVal = v
		isNumber = true
	case bool:
		boolVal = v
		isBool = true
	case string:
		strVal = v
		isString = true
	default:
		return nil, fmt.Errorf("logix: unsupported value type %T", value)
	}

	switch base {
	case TypeBOOL:
		if isBool {
			return boolVal, nil
		}
		if isNumber {
			return numVal != 0, nil
		}
		return nil, fmt.Errorf("logix: cannot convert %T to BOOL", value)

	case TypeSINT:
		if !isNumber {
			return nil, fmt.Errorf("logix: cannot convert %T to SINT", value)
		}
		if numVal < -128 || numVal > 127 || numVal != float64(int8(numVal)) {
			return nil, fmt.Errorf("logix: value %v out of range for SINT (-128 to 127)", numVal)
		}
		return int8(numVal), nil

	case TypeINT:
		if !isNumber {
			return nil, fmt.Errorf("logix: cannot convert %T to INT", value)
		}
		if numVal < -32768 || numVal > 32767 || numVal != float64(int16(numVal)) {
			return nil, fmt.Errorf("logix: value %v out of range for INT (-32768 to 32767)", numVal)
		}
		return int16(numVal), nil

	case TypeDINT:
		if !isNumber {
			return nil, fmt.Errorf("logix: cannot convert %T to DINT", value)
		}
		if numVal < -2147483648 || numVal > 2147483647 || numVal != float64(int32(numVal)) {
			return nil, fmt.Errorf("logix: value %v out of range for DINT", numVal)
		}
		return int32(numVal), nil

	case TypeLINT:
		if !isNumber {
			return nil, fmt.Errorf("logix: cannot convert %T to LINT", value)
		}
		if numVal != float64(int64(numVal)) {
			return nil, fmt.Errorf("logix: value %v cannot be represented as LINT", numVal)
		}
		return int64(numVal), nil

	case TypeUSINT:
		if !isNumber {
			return nil, fmt.Errorf("logix: cannot convert %T to USINT", value)
		}
		if numVal < 0 || numVal > 255 || numVal != float64(uint8(numVal)) {
			return nil, fmt.Errorf("logix: value %v out of range for USINT (0 to 255)", numVal)
		}
		return uint8(numVal), nil

	case TypeUINT:
		if !isNumber {
			return nil, fmt.Errorf("logix: cannot convert %T to UINT", value)
		}
		if numVal < 0 || numVal > 65535 || numVal != float64(uint16(numVal)) {
			return nil, fmt.Errorf("logix: value %v out of range for UINT (0 to 65535)", numVal)
		}
		return uint16(numVal), nil

	case TypeUDINT:
		if !isNumber {
			return nil, fmt.Errorf("logix: cannot convert %T to UDINT", value)
		}
		if numVal < 0 || numVal > 4294967295 || numVal != float64(uint32(numVal)) {
			return nil, fmt.Errorf("logix: value %v out of range for UDINT", numVal)
		}
		return uint32(numVal), nil

	case TypeULINT:
		if !isNumber {
			return nil, fmt.Errorf("logix: cannot convert %T to ULINT", value)
		}
		if numVal < 0 || numVal != float64(uint64(numVal)) {
			return nil, fmt.Errorf("logix: value %v out of range for ULINT", numVal)
		}
		return uint64(numVal), nil

	case TypeREAL:
		if !isNumber {
			return nil, fmt.Errorf("logix: cannot convert %T to REAL", value)
		}
		return float32(numVal), nil

	case TypeLREAL:
		if !isNumber {
			return nil, fmt.Errorf("logix: cannot convert %T to LREAL", value)
		}
		return numVal, nil

	default:
		if isString {
			return strVal, nil
		}
		if isNumber && numVal == float64(int32(numVal)) {
			return int32(numVal), nil
		}
		return value, nil
	}
}
