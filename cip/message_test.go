package cip

import (
	"bytes"
	"testing"
)

func TestRequestMarshal(t *testing.T) {
	path, err := EPath().Tag("MyTag").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	req := Request{Service: 0x4C, Path: path, Data: []byte{0x01, 0x00}}

	want := []byte{
		0x4C, 0x04, // service, path words
		0x91, 0x05, 'M', 'y', 'T', 'a', 'g', 0x00, // symbolic segment
		0x01, 0x00, // element count
	}
	if got := req.Marshal(); !bytes.Equal(got, want) {
		t.Errorf("Marshal = % X, want % X", got, want)
	}
}

func TestRequestMarshalNoPathNoData(t *testing.T) {
	req := Request{Service: 0x0A}
	if got := req.Marshal(); !bytes.Equal(got, []byte{0x0A, 0x00}) {
		t.Errorf("Marshal = % X, want 0A 00", got)
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		raw      []byte
		service  byte
		status   byte
		extended []uint16
		data     []byte
	}{
		{
			"success with data",
			[]byte{0xCC, 0x00, 0x00, 0x00, 0xC4, 0x00, 0x2A, 0x00, 0x00, 0x00},
			0xCC, 0x00, nil, []byte{0xC4, 0x00, 0x2A, 0x00, 0x00, 0x00},
		},
		{
			"error with extended status",
			[]byte{0xCD, 0x00, 0xFF, 0x01, 0x04, 0x21},
			0xCD, 0xFF, []uint16{0x2104}, []byte{},
		},
		{
			"status only",
			[]byte{0xCD, 0x00, 0x05, 0x00},
			0xCD, 0x05, nil, []byte{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ParseResponse(tt.raw)
			if err != nil {
				t.Fatalf("ParseResponse: %v", err)
			}
			if resp.Service != tt.service {
				t.Errorf("Service = 0x%02X, want 0x%02X", resp.Service, tt.service)
			}
			if resp.Status != tt.status {
				t.Errorf("Status = 0x%02X, want 0x%02X", resp.Status, tt.status)
			}
			if len(resp.Extended) != len(tt.extended) {
				t.Fatalf("Extended = %v, want %v", resp.Extended, tt.extended)
			}
			for i := range tt.extended {
				if resp.Extended[i] != tt.extended[i] {
					t.Errorf("Extended[%d] = 0x%04X, want 0x%04X", i, resp.Extended[i], tt.extended[i])
				}
			}
			if !bytes.Equal(resp.Data, tt.data) {
				t.Errorf("Data = % X, want % X", resp.Data, tt.data)
			}
		})
	}
}

func TestParseResponseErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"short header", []byte{0xCC, 0x00, 0x00}},
		{"extended words overrun", []byte{0xCD, 0x00, 0xFF, 0x02, 0x04, 0x21}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseResponse(tt.raw); err == nil {
				t.Errorf("ParseResponse(% X) succeeded, want error", tt.raw)
			}
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	in := &Response{Service: 0xD2, Status: 0x01, Extended: []uint16{0x0204, 0x0001}, Data: []byte{0xAA}}
	out, err := ParseResponse(in.Marshal())
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if out.Service != in.Service || out.Status != in.Status || !bytes.Equal(out.Data, in.Data) {
		t.Errorf("round trip mismatch: %+v vs %+v", out, in)
	}
	if len(out.Extended) != 2 || out.Extended[0] != 0x0204 || out.Extended[1] != 0x0001 {
		t.Errorf("Extended = %v, want [0x0204 0x0001]", out.Extended)
	}
}

func TestReplyTo(t *testing.T) {
	resp := &Response{Service: 0xCC}
	if !resp.ReplyTo(0x4C) {
		t.Error("0xCC should answer service 0x4C")
	}
	if resp.ReplyTo(0x4D) {
		t.Error("0xCC should not answer service 0x4D")
	}
}
