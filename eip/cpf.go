package eip

// Common Packet Format for EIP per ODVA v1.4.

import (
	"encoding/binary"
	"fmt"
)

const (
	CpfNullAddressId          uint16 = 0x00
	CpfListIdentityResponseId uint16 = 0x0C
	CpfConnectedAddressId     uint16 = 0xA1
	CpfConnectedDataId        uint16 = 0xB1
	CpfUnconnectedDataId      uint16 = 0xB2
	CpfListServicesResponseId uint16 = 0x100
	CpfSockAddrInfoOtoTId     uint16 = 0x8000
	CpfSockAddrInfoTtoOId     uint16 = 0x8001
	CpfSequencedAddressId     uint16 = 0x8002
)

// CommonPacket is the item list carried in SendRRData, SendUnitData, and
// the ListIdentity and ListServices replies.
type CommonPacket struct {
	Items []CommonPacketItem
}

// CommonPacketItem is one typed address or data item. The length word is
// derived from Data on encode.
type CommonPacketItem struct {
	TypeId uint16
	Data   []byte
}

// Generate a Little-Endian encoded byte representation of the CommonPacket.
func (p *CommonPacket) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint16(nil, uint16(len(p.Items)))
	for _, value := range p.Items {
		raw = append(raw, value.Bytes()...)
	}
	return raw
}

// Generate a Little-Endian encoded byte representation of the CommonPacketItem.
func (item *CommonPacketItem) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint16(nil, item.TypeId)
	raw = binary.LittleEndian.AppendUint16(raw, uint16(len(item.Data)))
	raw = append(raw, item.Data...)
	return raw
}

// ItemByType returns the first item with the given type ID, or nil if the
// packet carries none.
func (p *CommonPacket) ItemByType(typeId uint16) *CommonPacketItem {
	for i := range p.Items {
		if p.Items[i].TypeId == typeId {
			return &p.Items[i]
		}
	}
	return nil
}

// ParseCommonPacket parses a list of CommonPacketItems from a raw byte
// stream, checking every declared item length against the bytes present.
func ParseCommonPacket(raw []byte) (*CommonPacket, error) {

	if len(raw) < 2 {
		return nil, &FrameError{Reason: fmt.Sprintf("common packet too short: minimum 2 bytes, got %d", len(raw))}
	}

	// Get the number of items and advance the slice.
	itemCount := binary.LittleEndian.Uint16(raw[:2])
	raw = raw[2:]

	var items []CommonPacketItem

	var i uint16
	for i = 0; i < itemCount; i += 1 {

		if len(raw) < 4 {
			return nil, &FrameError{Reason: fmt.Sprintf("truncated item header at item %d: have %d bytes", i, len(raw))}
		}

		typeId := binary.LittleEndian.Uint16(raw[:2])
		length := binary.LittleEndian.Uint16(raw[2:4])

		need := int(4 + length)
		if len(raw) < need {
			return nil, &FrameError{Reason: fmt.Sprintf("item %d declares %d bytes, have %d", i, need, len(raw))}
		}

		items = append(items, CommonPacketItem{TypeId: typeId, Data: raw[4 : 4+length]})

		// advance
		raw = raw[4+length:]
	}

	return &CommonPacket{Items: items}, nil
}
