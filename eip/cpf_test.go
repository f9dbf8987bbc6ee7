package eip

import (
	"bytes"
	"errors"
	"testing"
)

func TestCommonPacketBytesLayout(t *testing.T) {
	packet := CommonPacket{Items: []CommonPacketItem{
		{TypeId: CpfNullAddressId},
		{TypeId: CpfUnconnectedDataId, Data: []byte{0xAA, 0xBB, 0xCC}},
	}}
	want := []byte{
		0x02, 0x00, // item count
		0x00, 0x00, 0x00, 0x00, // null address item
		0xB2, 0x00, 0x03, 0x00, 0xAA, 0xBB, 0xCC, // unconnected data item
	}
	if got := packet.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("Bytes = % X, want % X", got, want)
	}
}

func TestCommonPacketRoundTrip(t *testing.T) {
	in := CommonPacket{Items: []CommonPacketItem{
		{TypeId: CpfConnectedAddressId, Data: []byte{0x78, 0x56, 0x34, 0x12}},
		{TypeId: CpfConnectedDataId, Data: []byte{0x01, 0x00, 0xCC, 0x00, 0x00, 0x00}},
		{TypeId: CpfSockAddrInfoTtoOId, Data: make([]byte, 16)},
	}}

	out, err := ParseCommonPacket(in.Bytes())
	if err != nil {
		t.Fatalf("ParseCommonPacket: %v", err)
	}
	if len(out.Items) != len(in.Items) {
		t.Fatalf("item count = %d, want %d", len(out.Items), len(in.Items))
	}
	for i := range in.Items {
		if out.Items[i].TypeId != in.Items[i].TypeId {
			t.Errorf("item %d TypeId = 0x%04X, want 0x%04X", i, out.Items[i].TypeId, in.Items[i].TypeId)
		}
		if !bytes.Equal(out.Items[i].Data, in.Items[i].Data) {
			t.Errorf("item %d Data = % X, want % X", i, out.Items[i].Data, in.Items[i].Data)
		}
	}
}

func TestItemByType(t *testing.T) {
	packet := CommonPacket{Items: []CommonPacketItem{
		{TypeId: CpfNullAddressId},
		{TypeId: CpfUnconnectedDataId, Data: []byte{0x01}},
		{TypeId: CpfUnconnectedDataId, Data: []byte{0x02}},
	}}

	item := packet.ItemByType(CpfUnconnectedDataId)
	if item == nil {
		t.Fatal("ItemByType(0xB2) = nil, want item")
	}
	if !bytes.Equal(item.Data, []byte{0x01}) {
		t.Errorf("ItemByType returned data % X, want the first match 01", item.Data)
	}
	if packet.ItemByType(CpfConnectedDataId) != nil {
		t.Error("ItemByType(0xB1) found an item in a packet that has none")
	}
}

func TestParseCommonPacketErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"count only", []byte{0x01}},
		{"missing item header", []byte{0x01, 0x00, 0xB2}},
		{"item overruns payload", []byte{0x01, 0x00, 0xB2, 0x00, 0x05, 0x00, 0xAA}},
		{"second item truncated", []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0xB2, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCommonPacket(tt.raw)
			if err == nil {
				t.Fatalf("ParseCommonPacket(% X) succeeded, want error", tt.raw)
			}
			var fe *FrameError
			if !errors.As(err, &fe) {
				t.Errorf("error = %v, want *FrameError", err)
			}
		})
	}
}

func TestParseCommonPacketEmptyList(t *testing.T) {
	out, err := ParseCommonPacket([]byte{0x00, 0x00})
	if err != nil {
		t.Fatalf("ParseCommonPacket: %v", err)
	}
	if len(out.Items) != 0 {
		t.Errorf("item count = %d, want 0", len(out.Items))
	}
}
