// Package eip implements the EtherNet/IP encapsulation layer: the 24-byte
// frame codec, the Common Packet Format, and a session client that
// registers, transacts, and tears down one session per TCP connection.
package eip

import (
	"encoding/binary"
	"fmt"
)

// Encapsulation commands handled by this package.
const (
	CommandNop               uint16 = 0x00
	CommandListServices      uint16 = 0x04
	CommandListIdentity      uint16 = 0x63
	CommandRegisterSession   uint16 = 0x65
	CommandUnRegisterSession uint16 = 0x66
	CommandSendRRData        uint16 = 0x6F
	CommandSendUnitData      uint16 = 0x70
)

// HeaderSize is the fixed encapsulation header length.
const HeaderSize = 24

// MaxPayload is the largest payload an encapsulation frame may declare.
// The encapsulation length field is 16 bits less the header size.
const MaxPayload = 65511

// ProtocolVersion is the encapsulation protocol version sent in
// RegisterSession and required of the controller's reply.
const ProtocolVersion uint16 = 1

// Encapsulation is one EtherNet/IP frame: the fixed header plus payload.
// All header fields are little-endian on the wire. Length always equals
// len(Data).
type Encapsulation struct {
	Command       uint16
	Length        uint16
	SessionHandle uint32
	Status        uint32
	Context       [8]byte
	Options       uint32
	Data          []byte
}

// Bytes encodes the frame. The Length field is taken from len(Data), not
// from the struct, so a caller can never emit a lying header.
func (m *Encapsulation) Bytes() []byte {
	buf := make([]byte, 0, HeaderSize+len(m.Data))
	buf = binary.LittleEndian.AppendUint16(buf, m.Command)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(m.Data)))
	buf = binary.LittleEndian.AppendUint32(buf, m.SessionHandle)
	buf = binary.LittleEndian.AppendUint32(buf, m.Status)
	buf = append(buf, m.Context[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, m.Options)
	buf = append(buf, m.Data...)
	return buf
}

// ParseEncapsulation decodes one complete frame from raw. The declared
// length must match the bytes supplied exactly; anything else is a
// *FrameError. An unrecognized command parses but is reported through
// KnownCommand by the session client.
func ParseEncapsulation(raw []byte) (*Encapsulation, error) {
	if len(raw) < HeaderSize {
		return nil, &FrameError{Reason: fmt.Sprintf("header truncated: %d bytes", len(raw))}
	}

	length := binary.LittleEndian.Uint16(raw[2:4])
	if length > MaxPayload {
		return nil, &FrameError{Reason: fmt.Sprintf("declared payload %d exceeds maximum %d", length, MaxPayload)}
	}
	if len(raw) != HeaderSize+int(length) {
		return nil, &FrameError{Reason: fmt.Sprintf("declared payload %d but %d bytes follow the header", length, len(raw)-HeaderSize)}
	}

	var ctx [8]byte
	copy(ctx[:], raw[12:20])

	return &Encapsulation{
		Command:       binary.LittleEndian.Uint16(raw[0:2]),
		Length:        length,
		SessionHandle: binary.LittleEndian.Uint32(raw[4:8]),
		Status:        binary.LittleEndian.Uint32(raw[8:12]),
		Context:       ctx,
		Options:       binary.LittleEndian.Uint32(raw[20:24]),
		Data:          raw[HeaderSize:],
	}, nil
}

// KnownCommand reports whether code is a command this package speaks.
func KnownCommand(code uint16) bool {
	switch code {
	case CommandNop, CommandListServices, CommandListIdentity,
		CommandRegisterSession, CommandUnRegisterSession,
		CommandSendRRData, CommandSendUnitData:
		return true
	}
	return false
}

// CommandName returns a readable name for an encapsulation command.
func CommandName(code uint16) string {
	switch code {
	case CommandNop:
		return "NOP"
	case CommandListServices:
		return "ListServices"
	case CommandListIdentity:
		return "ListIdentity"
	case CommandRegisterSession:
		return "RegisterSession"
	case CommandUnRegisterSession:
		return "UnRegisterSession"
	case CommandSendRRData:
		return "SendRRData"
	case CommandSendUnitData:
		return "SendUnitData"
	}
	return fmt.Sprintf("Unknown(0x%04X)", code)
}

// CommandData is the SendRRData/SendUnitData payload wrapper: interface
// handle (always 0 for CIP over TCP), a timeout the controller ignores for
// explicit messaging, and the Common Packet bytes.
type CommandData struct {
	InterfaceHandle uint32
	Timeout         uint16
	Packet          []byte
}

// Bytes encodes the wrapper little-endian.
func (r *CommandData) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint32(nil, r.InterfaceHandle)
	raw = binary.LittleEndian.AppendUint16(raw, r.Timeout)
	raw = append(raw, r.Packet...)
	return raw
}

// ParseCommandData decodes a SendRRData/SendUnitData payload.
func ParseCommandData(raw []byte) (*CommandData, error) {
	if len(raw) < 6 {
		return nil, &FrameError{Reason: fmt.Sprintf("command data truncated: need 6 bytes, got %d", len(raw))}
	}

	return &CommandData{
		InterfaceHandle: binary.LittleEndian.Uint32(raw[:4]),
		Timeout:         binary.LittleEndian.Uint16(raw[4:6]),
		Packet:          raw[6:],
	}, nil
}
