package cip

import (
	"encoding/binary"
	"fmt"
)

// Multiple Service Packet: batches explicit requests through the Message
// Router in a single round trip.
const ServiceMultiple byte = 0x0A

// Message Router object address, the target of Multiple Service Packets.
const (
	ClassMessageRouter    uint16 = 0x02
	InstanceMessageRouter uint32 = 0x01
)

// MaxMultipleServices caps the requests per packet. Controllers reject
// larger batches before size limits come into play.
const MaxMultipleServices = 200

// MultipleServiceRequest packs the requests into one Multiple Service
// Packet addressed to the Message Router.
func MultipleServiceRequest(requests []Request) (Request, error) {
	if len(requests) == 0 {
		return Request{}, fmt.Errorf("cip: empty multiple service packet")
	}
	if len(requests) > MaxMultipleServices {
		return Request{}, fmt.Errorf("cip: %d services in one packet, limit is %d", len(requests), MaxMultipleServices)
	}

	packed := make([][]byte, len(requests))
	total := 0
	for i, req := range requests {
		packed[i] = req.Marshal()
		total += len(packed[i])
	}

	// Data layout: service count, one 16-bit offset per service measured
	// from the count field, then the packed requests.
	headerSize := 2 + 2*len(requests)
	data := make([]byte, 0, headerSize+total)
	data = binary.LittleEndian.AppendUint16(data, uint16(len(requests)))
	offset := uint16(headerSize)
	for _, p := range packed {
		data = binary.LittleEndian.AppendUint16(data, offset)
		offset += uint16(len(p))
	}
	for _, p := range packed {
		data = append(data, p...)
	}

	mrPath, err := EPath().Class(ClassMessageRouter).Instance(InstanceMessageRouter).Build()
	if err != nil {
		return Request{}, err
	}
	return Request{Service: ServiceMultiple, Path: mrPath, Data: data}, nil
}

// ParseMultipleServiceReply splits the reply data of a Multiple Service
// Packet into one Response per packed request, in request order.
func ParseMultipleServiceReply(data []byte) ([]Response, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("cip: multiple service reply truncated at %d bytes", len(data))
	}
	count := int(binary.LittleEndian.Uint16(data[0:2]))
	if count == 0 {
		return nil, nil
	}
	if len(data) < 2+2*count {
		return nil, fmt.Errorf("cip: multiple service reply claims %d replies, offset table truncated", count)
	}

	offsets := make([]int, count)
	for i := range offsets {
		offsets[i] = int(binary.LittleEndian.Uint16(data[2+2*i : 4+2*i]))
	}

	replies := make([]Response, count)
	for i, start := range offsets {
		end := len(data)
		if i+1 < count {
			end = offsets[i+1]
		}
		if start < 2+2*count || end > len(data) || start >= end {
			return nil, fmt.Errorf("cip: multiple service reply %d has bad offset %d..%d", i, start, end)
		}
		resp, err := ParseResponse(data[start:end])
		if err != nil {
			return nil, fmt.Errorf("cip: multiple service reply %d: %w", i, err)
		}
		replies[i] = *resp
	}
	return replies, nil
}
