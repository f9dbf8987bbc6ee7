package eip

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncapsulationBytesLayout(t *testing.T) {
	msg := Encapsulation{
		Command:       CommandRegisterSession,
		SessionHandle: 0x11223344,
		Context:       [8]byte{'c', 'o', 'n', 't', 'e', 'x', 't', '1'},
		Data:          []byte{1, 0, 0, 0},
	}
	want := []byte{
		0x65, 0x00, // command
		0x04, 0x00, // payload length
		0x44, 0x33, 0x22, 0x11, // session handle
		0x00, 0x00, 0x00, 0x00, // status
		'c', 'o', 'n', 't', 'e', 'x', 't', '1', // sender context
		0x00, 0x00, 0x00, 0x00, // options
		0x01, 0x00, 0x00, 0x00, // payload
	}
	if got := msg.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("Bytes = % X, want % X", got, want)
	}
}

func TestEncapsulationLengthFromData(t *testing.T) {
	// A stale Length field must not leak into the encoding.
	msg := Encapsulation{Command: CommandNop, Length: 999, Data: []byte{0xAA, 0xBB}}
	raw := msg.Bytes()
	if raw[2] != 2 || raw[3] != 0 {
		t.Errorf("encoded length = %d, want 2", uint16(raw[2])|uint16(raw[3])<<8)
	}
}

func TestEncapsulationRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Encapsulation
	}{
		{"nop empty", Encapsulation{Command: CommandNop}},
		{"register session", Encapsulation{
			Command: CommandRegisterSession,
			Context: [8]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x02, 0x03, 0x04},
			Data:    []byte{1, 0, 0, 0},
		}},
		{"full header", Encapsulation{
			Command:       CommandSendRRData,
			SessionHandle: 0xCAFEF00D,
			Status:        0x69,
			Context:       [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
			Options:       0x01020304,
			Data:          bytes.Repeat([]byte{0xAB}, 512),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEncapsulation(tt.msg.Bytes())
			if err != nil {
				t.Fatalf("ParseEncapsulation: %v", err)
			}
			if got.Command != tt.msg.Command {
				t.Errorf("Command = 0x%04X, want 0x%04X", got.Command, tt.msg.Command)
			}
			if got.SessionHandle != tt.msg.SessionHandle {
				t.Errorf("SessionHandle = 0x%08X, want 0x%08X", got.SessionHandle, tt.msg.SessionHandle)
			}
			if got.Status != tt.msg.Status {
				t.Errorf("Status = 0x%08X, want 0x%08X", got.Status, tt.msg.Status)
			}
			if got.Context != tt.msg.Context {
				t.Errorf("Context = % X, want % X", got.Context, tt.msg.Context)
			}
			if got.Options != tt.msg.Options {
				t.Errorf("Options = 0x%08X, want 0x%08X", got.Options, tt.msg.Options)
			}
			if !bytes.Equal(got.Data, tt.msg.Data) {
				t.Errorf("Data length = %d, want %d", len(got.Data), len(tt.msg.Data))
			}
			if int(got.Length) != len(tt.msg.Data) {
				t.Errorf("Length = %d, want %d", got.Length, len(tt.msg.Data))
			}
		})
	}
}

func TestParseEncapsulationErrors(t *testing.T) {
	oversize := make([]byte, HeaderSize)
	oversize[2] = 0xFF
	oversize[3] = 0xFF

	short := (&Encapsulation{Command: CommandNop, Data: []byte{1, 2, 3, 4}}).Bytes()
	short = short[:len(short)-2]

	long := (&Encapsulation{Command: CommandNop}).Bytes()
	long = append(long, 0xEE)

	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"truncated header", make([]byte, HeaderSize-1)},
		{"oversize declared payload", oversize},
		{"payload shorter than declared", short},
		{"trailing bytes", long},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEncapsulation(tt.raw)
			if err == nil {
				t.Fatalf("ParseEncapsulation(% X) succeeded, want error", tt.raw)
			}
			var fe *FrameError
			if !errors.As(err, &fe) {
				t.Errorf("error = %v, want *FrameError", err)
			}
		})
	}
}

func TestKnownCommand(t *testing.T) {
	for _, code := range []uint16{CommandNop, CommandListServices, CommandListIdentity,
		CommandRegisterSession, CommandUnRegisterSession, CommandSendRRData, CommandSendUnitData} {
		if !KnownCommand(code) {
			t.Errorf("KnownCommand(0x%04X) = false, want true", code)
		}
	}
	for _, code := range []uint16{0x01, 0x64, 0xFFFF} {
		if KnownCommand(code) {
			t.Errorf("KnownCommand(0x%04X) = true, want false", code)
		}
	}
}

func TestCommandName(t *testing.T) {
	if got := CommandName(CommandSendRRData); got != "SendRRData" {
		t.Errorf("CommandName(0x6F) = %q, want SendRRData", got)
	}
	if got := CommandName(0x1234); got != "Unknown(0x1234)" {
		t.Errorf("CommandName(0x1234) = %q", got)
	}
}

func TestCommandDataRoundTrip(t *testing.T) {
	in := CommandData{InterfaceHandle: 0, Timeout: 0, Packet: []byte{0x02, 0x00, 0x00, 0x00}}
	out, err := ParseCommandData(in.Bytes())
	if err != nil {
		t.Fatalf("ParseCommandData: %v", err)
	}
	if out.InterfaceHandle != in.InterfaceHandle || out.Timeout != in.Timeout || !bytes.Equal(out.Packet, in.Packet) {
		t.Errorf("round trip mismatch: %+v vs %+v", out, in)
	}
}

func TestParseCommandDataTruncated(t *testing.T) {
	if _, err := ParseCommandData([]byte{0, 0, 0}); err == nil {
		t.Error("ParseCommandData(3 bytes) succeeded, want error")
	}
}
