package logix

import (
	"testing"
)

func TestTypeName(t *testing.T) {
	tests := []struct {
		code uint16
		want string
	}{
		{TypeBOOL, "BOOL"},
		{TypeSINT, "SINT"},
		{TypeINT, "INT"},
		{TypeDINT, "DINT"},
		{TypeLINT, "LINT"},
		{TypeUSINT, "USINT"},
		{TypeUINT, "UINT"},
		{TypeUDINT, "UDINT"},
		{TypeULINT, "ULINT"},
		{TypeREAL, "REAL"},
		{TypeLREAL, "LREAL"},
		{TypeSTRING, "STRING"},
		{TypeShortSTRING, "SHORT_STRING"},
		{TypeDINT | TypeArray1D, "DINT[]"},
		{TypeDINT | TypeArray2D, "DINT[][]"},
		{TypeREAL | TypeArray3D, "REAL[][][]"},
		{0x8FA3, "STRUCT(4003)"},
		{0x8FA3 | TypeArray1D, "STRUCT(4003)[]"},
		{0x00CC, "UNKNOWN(0x00CC)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := TypeName(tt.code); got != tt.want {
				t.Errorf("TypeName(0x%04X) = %q, want %q", tt.code, got, tt.want)
			}
		})
	}
}

func TestTypeCodeFromName(t *testing.T) {
	tests := []struct {
		name   string
		want   uint16
		wantOk bool
	}{
		{"BOOL", TypeBOOL, true},
		{"bool", TypeBOOL, true},
		{"Dint", TypeDINT, true},
		{"REAL", TypeREAL, true},
		{"lreal", TypeLREAL, true},
		{"STRING", TypeSTRING, true},
		{"ULINT", TypeULINT, true},
		{"TIMER", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TypeCodeFromName(tt.name)
			if got != tt.want || ok != tt.wantOk {
				t.Errorf("TypeCodeFromName(%q) = (0x%04X, %v), want (0x%04X, %v)",
					tt.name, got, ok, tt.want, tt.wantOk)
			}
		})
	}
}

func TestSupportedTypeNamesResolve(t *testing.T) {
	for _, name := range SupportedTypeNames() {
		if _, ok := TypeCodeFromName(name); !ok {
			t.Errorf("SupportedTypeNames lists %q but TypeCodeFromName rejects it", name)
		}
	}
}

func TestTypeSize(t *testing.T) {
	tests := []struct {
		code uint16
		want int
	}{
		{TypeBOOL, 1},
		{TypeSINT, 1},
		{TypeUSINT, 1},
		{TypeINT, 2},
		{TypeUINT, 2},
		{TypeDINT, 4},
		{TypeUDINT, 4},
		{TypeREAL, 4},
		{TypeLINT, 8},
		{TypeULINT, 8},
		{TypeLREAL, 8},
		{TypeSTRING, 0},
		{TypeDINT | TypeArray1D, 4}, // array flag does not change the element size
		{0x8FA3, 0},
	}
	for _, tt := range tests {
		if got := TypeSize(tt.code); got != tt.want {
			t.Errorf("TypeSize(0x%04X) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestBaseTypeStripsFlags(t *testing.T) {
	code := TypeDINT | TypeArray1D | TypeSystemMask
	if got := BaseType(code); got != TypeDINT {
		t.Errorf("BaseType(0x%04X) = 0x%04X, want 0x%04X", code, got, TypeDINT)
	}
}

func TestArrayDimensions(t *testing.T) {
	tests := []struct {
		code uint16
		want int
	}{
		{TypeDINT, 0},
		{TypeDINT | TypeArray1D, 1},
		{TypeDINT | TypeArray2D, 2},
		{TypeDINT | TypeArray3D, 3},
	}
	for _, tt := range tests {
		if got := ArrayDimensions(tt.code); got != tt.want {
			t.Errorf("ArrayDimensions(0x%04X) = %d, want %d", tt.code, got, tt.want)
		}
		if want := tt.want > 0; IsArray(tt.code) != want {
			t.Errorf("IsArray(0x%04X) = %v, want %v", tt.code, IsArray(tt.code), want)
		}
	}
}

func TestStructureHelpers(t *testing.T) {
	if !IsStructure(0x8FA3) {
		t.Error("IsStructure(0x8FA3) = false")
	}
	if IsStructure(TypeDINT) {
		t.Error("IsStructure(DINT) = true")
	}
	if got := TemplateID(0x8FA3); got != 0x0FA3 {
		t.Errorf("TemplateID(0x8FA3) = 0x%04X, want 0x0FA3", got)
	}
	if got := TemplateID(TypeDINT); got != 0 {
		t.Errorf("TemplateID(DINT) = 0x%04X, want 0", got)
	}
}
