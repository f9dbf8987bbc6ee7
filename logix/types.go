package logix

import (
	"fmt"
	"strings"
)

// CIP elementary data type codes as reported by Logix controllers in read
// replies and symbol listings.
const (
	TypeBOOL  uint16 = 0x00C1 // 1 byte, 0x00 or 0xFF
	TypeSINT  uint16 = 0x00C2 // 1 byte signed
	TypeINT   uint16 = 0x00C3 // 2 bytes signed
	TypeDINT  uint16 = 0x00C4 // 4 bytes signed
	TypeLINT  uint16 = 0x00C5 // 8 bytes signed
	TypeUSINT uint16 = 0x00C6 // 1 byte unsigned
	TypeUINT  uint16 = 0x00C7 // 2 bytes unsigned
	TypeUDINT uint16 = 0x00C8 // 4 bytes unsigned
	TypeULINT uint16 = 0x00C9 // 8 bytes unsigned
	TypeREAL  uint16 = 0x00CA // 4 bytes IEEE 754
	TypeLREAL uint16 = 0x00CB // 8 bytes IEEE 754

	TypeSTRING      uint16 = 0x00D0 // Logix STRING: DINT length + 82 character bytes
	TypeShortSTRING uint16 = 0x00DA // 1 byte length + characters

	TypeBitString8  uint16 = 0x00D1
	TypeBitString16 uint16 = 0x00D2
	TypeBitString32 uint16 = 0x00D3
)

// Flag bits carried in the upper nibble of a symbol type code.
const (
	// TypeStructureMask marks a structure or UDT. The low 12 bits then hold
	// the template instance rather than an elementary code.
	TypeStructureMask uint16 = 0x8000

	// TypeSystemMask marks controller-internal symbols such as routines
	// and module-defined data.
	TypeSystemMask uint16 = 0x1000

	// Array dimension field, bits 13 and 14.
	TypeArray1D   uint16 = 0x2000
	TypeArray2D   uint16 = 0x4000
	TypeArray3D   uint16 = 0x6000
	TypeArrayMask uint16 = 0x6000
)

// MaxStringLength is the character capacity of the standard Logix STRING
// structure.
const MaxStringLength = 82

// BaseType strips the structure, system and array flags from a type code.
func BaseType(dataType uint16) uint16 {
	return dataType & 0x0FFF
}

// TypeSize returns the byte size of an elementary type, or 0 for
// structures, strings and unknown codes.
func TypeSize(dataType uint16) int {
	switch BaseType(dataType) {
	case TypeBOOL, TypeSINT, TypeUSINT:
		return 1
	case TypeINT, TypeUINT:
		return 2
	case TypeDINT, TypeUDINT, TypeREAL:
		return 4
	case TypeLINT, TypeULINT, TypeLREAL:
		return 8
	}
	return 0
}

// IsStructure reports whether the type code names a structure or UDT.
func IsStructure(dataType uint16) bool {
	return dataType&TypeStructureMask != 0
}

// IsArray reports whether the type code carries any array dimension.
func IsArray(dataType uint16) bool {
	return dataType&TypeArrayMask != 0
}

// ArrayDimensions returns the dimension count encoded in the type code,
// 0 through 3.
func ArrayDimensions(dataType uint16) int {
	switch dataType & TypeArrayMask {
	case TypeArray1D:
		return 1
	case TypeArray2D:
		return 2
	case TypeArray3D:
		return 3
	}
	return 0
}

// TemplateID extracts the template instance from a structure type code,
// or 0 when the code is not a structure.
func TemplateID(dataType uint16) uint16 {
	if !IsStructure(dataType) {
		return 0
	}
	return BaseType(dataType)
}

// TypeName renders a type code the way tag browsers show it, with array
// dimensions appended as empty brackets.
func TypeName(dataType uint16) string {
	var name string
	if IsStructure(dataType) {
		name = fmt.Sprintf("STRUCT(%d)", TemplateID(dataType))
	} else {
		switch BaseType(dataType) {
		case TypeBOOL:
			name = "BOOL"
		case TypeSINT:
			name = "SINT"
		case TypeINT:
			name = "INT"
		case TypeDINT:
			name = "DINT"
		case TypeLINT:
			name = "LINT"
		case TypeUSINT:
			name = "USINT"
		case TypeUINT:
			name = "UINT"
		case TypeUDINT:
			name = "UDINT"
		case TypeULINT:
			name = "ULINT"
		case TypeREAL:
			name = "REAL"
		case TypeLREAL:
			name = "LREAL"
		case TypeSTRING:
			name = "STRING"
		case TypeShortSTRING:
			name = "SHORT_STRING"
		default:
			name = fmt.Sprintf("UNKNOWN(0x%04X)", dataType)
		}
	}
	for i := 0; i < ArrayDimensions(dataType); i++ {
		name += "[]"
	}
	return name
}

// TypeCodeFromName resolves an elementary type name, case-insensitively.
func TypeCodeFromName(name string) (uint16, bool) {
	switch strings.ToUpper(name) {
	case "BOOL":
		return TypeBOOL, true
	case "SINT":
		return TypeSINT, true
	case "INT":
		return TypeINT, true
	case "DINT":
		return TypeDINT, true
	case "LINT":
		return TypeLINT, true
	case "USINT":
		return TypeUSINT, true
	case "UINT":
		return TypeUINT, true
	case "UDINT":
		return TypeUDINT, true
	case "ULINT":
		return TypeULINT, true
	case "REAL":
		return TypeREAL, true
	case "LREAL":
		return TypeLREAL, true
	case "STRING":
		return TypeSTRING, true
	}
	return 0, false
}

// SupportedTypeNames lists the elementary type names accepted by
// TypeCodeFromName, for prompts and validation messages.
func SupportedTypeNames() []string {
	return []string{"BOOL", "SINT", "INT", "DINT", "LINT", "USINT", "UINT", "UDINT", "ULINT", "REAL", "LREAL", "STRING"}
}
