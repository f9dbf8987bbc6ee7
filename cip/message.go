// Package cip implements the Common Industrial Protocol explicit-messaging
// layer: EPath encoding and decoding, Message Router request/response
// framing, connected-session management (Forward Open/Close), and the
// Multiple Service Packet. It is transport-agnostic; the eip package
// carries these frames over EtherNet/IP encapsulation.
package cip

import (
	"encoding/binary"
	"fmt"
)

// ReplyMask is set in the service byte of every Message Router reply.
const ReplyMask byte = 0x80

// Request is an explicit-messaging request: service code, request path,
// and service-specific data.
type Request struct {
	Service byte
	Path    Path
	Data    []byte
}

// Marshal renders the request for the Message Router:
// service byte, path size in words, path, data.
func (r Request) Marshal() []byte {
	out := make([]byte, 0, 2+len(r.Path)+len(r.Data))
	out = append(out, r.Service, r.Path.WordCount())
	out = append(out, r.Path...)
	out = append(out, r.Data...)
	return out
}

// Response is a parsed Message Router reply. Status holds the general
// status code and Extended any additional status words; both are carried
// verbatim so callers can map them to their own error taxonomy.
type Response struct {
	Service  byte // reply service, ReplyMask set
	Status   byte
	Extended []uint16
	Data     []byte
}

// ReplyTo reports whether the response answers the given request service.
func (r *Response) ReplyTo(service byte) bool {
	return r.Service == service|ReplyMask
}

// ParseResponse splits a raw Message Router reply into its parts. Only
// structural problems are errors here; a nonzero Status is data for the
// caller to interpret.
func ParseResponse(raw []byte) (*Response, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("cip: response truncated at %d bytes", len(raw))
	}
	resp := &Response{
		Service: raw[0],
		Status:  raw[2],
	}
	extCount := int(raw[3])
	if len(raw) < 4+2*extCount {
		return nil, fmt.Errorf("cip: response claims %d status words, only %d bytes follow", extCount, len(raw)-4)
	}
	if extCount > 0 {
		resp.Extended = make([]uint16, extCount)
		for i := 0; i < extCount; i++ {
			resp.Extended[i] = binary.LittleEndian.Uint16(raw[4+2*i : 6+2*i])
		}
	}
	resp.Data = raw[4+2*extCount:]
	return resp, nil
}

// Marshal renders the response in Message Router reply form. Used by
// tests and protocol fakes.
func (r *Response) Marshal() []byte {
	out := make([]byte, 0, 4+2*len(r.Extended)+len(r.Data))
	out = append(out, r.Service, 0x00, r.Status, byte(len(r.Extended)))
	for _, w := range r.Extended {
		out = binary.LittleEndian.AppendUint16(out, w)
	}
	return append(out, r.Data...)
}
