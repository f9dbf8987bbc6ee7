package cip

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync/atomic"
)

// Connection Manager services.
const (
	ServiceForwardOpen      byte = 0x54 // 16-bit connection parameters, sizes to 511
	ServiceForwardOpenLarge byte = 0x5B // 32-bit connection parameters
	ServiceForwardClose     byte = 0x4E
	ServiceUnconnectedSend  byte = 0x52
)

// Connection Manager object address.
const (
	ClassConnectionManager    uint16 = 0x06
	InstanceConnectionManager uint32 = 0x01
)

// Connection sizes requested at Forward Open. Large needs the 0x5B
// service; older firmware only grants the standard size.
const (
	StandardConnectionSize uint16 = 504
	LargeConnectionSize    uint16 = 4002
)

// Forward Open parameters. Values match what Logix controllers accept
// from the common open-source stacks; the RPIs work out to roughly 2.1 s,
// comfortably inside the timeout multiplier.
const (
	foPriorityTickTime byte   = 0x0A // 160 ms time tick
	foTimeoutTicks     byte   = 0x0E
	foTimeoutMult      uint32 = 0x03
	foOTConnectionID   uint32 = 0x20000002
	foOTRPI            uint32 = 0x00201234
	foTORPI            uint32 = 0x00204001
	foParamsBase       uint16 = 0x4200 // point-to-point, low priority, variable size
	foTransportTrigger byte   = 0xA3   // class 3, application triggered, server
	foVendorID         uint16 = 0x1337
	foOriginatorSerial uint32 = 42

	fcTimeoutTicks   byte = 0x01
	ucmmTimeoutTicks byte = 0x05 // 800 ms end-to-end for routed unconnected sends
)

// Connection is an established class-3 connection. It tracks the IDs the
// Forward Open exchange produced plus the sequence counter for connected
// frames.
type Connection struct {
	OTConnID     uint32 // originator to target connection ID
	TOConnID     uint32 // target to originator connection ID
	SerialNumber uint16 // connection serial, quoted in Forward Close
	VendorID     uint16
	OrigSerial   uint32
	Size         uint16 // granted connection size in bytes

	seq uint32 // low 16 bits used
}

// NextSequence returns the next connected-messaging sequence number.
func (c *Connection) NextSequence() uint16 {
	return uint16(atomic.AddUint32(&c.seq, 1))
}

// WrapConnected prefixes the 16-bit sequence number to a marshalled
// request, producing the connected-data item payload.
func (c *Connection) WrapConnected(payload []byte) []byte {
	out := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(out[0:2], c.NextSequence())
	copy(out[2:], payload)
	return out
}

// UnwrapConnected splits a connected-data item into its sequence number
// and the reply it carries.
func (c *Connection) UnwrapConnected(raw []byte) (seq uint16, payload []byte, err error) {
	if len(raw) < 2 {
		return 0, nil, fmt.Errorf("cip: connected data truncated at %d bytes", len(raw))
	}
	return binary.LittleEndian.Uint16(raw[0:2]), raw[2:], nil
}

// ForwardOpenConfig parameterizes a Forward Open request.
type ForwardOpenConfig struct {
	Size  uint16 // requested size each way, bytes
	Large bool   // use the 32-bit parameter form, required for sizes over 511
	Path  Path   // connection path: route segments plus the Message Router address
}

// ForwardOpenRequest builds the Forward Open request for the Connection
// Manager and returns it with the connection serial number the caller
// must quote at Forward Close.
func ForwardOpenRequest(cfg ForwardOpenConfig) (Request, uint16, error) {
	if len(cfg.Path) == 0 || len(cfg.Path)%2 != 0 {
		return Request{}, 0, fmt.Errorf("cip: connection path must be a nonzero even byte count, got %d", len(cfg.Path))
	}
	if !cfg.Large && cfg.Size > 511 {
		return Request{}, 0, fmt.Errorf("cip: connection size %d needs the large Forward Open", cfg.Size)
	}

	service := ServiceForwardOpen
	if cfg.Large {
		service = ServiceForwardOpenLarge
	}
	connSerial := uint16(rand.Intn(65000))

	data := make([]byte, 0, 40+len(cfg.Path))
	data = append(data, foPriorityTickTime, foTimeoutTicks)
	data = binary.LittleEndian.AppendUint32(data, foOTConnectionID)
	data = binary.LittleEndian.AppendUint32(data, uint32(rand.Intn(65000))) // T->O ID, target echoes its own
	data = binary.LittleEndian.AppendUint16(data, connSerial)
	data = binary.LittleEndian.AppendUint16(data, foVendorID)
	data = binary.LittleEndian.AppendUint32(data, foOriginatorSerial)
	data = binary.LittleEndian.AppendUint32(data, foTimeoutMult)
	data = binary.LittleEndian.AppendUint32(data, foOTRPI)
	data = appendConnParams(data, cfg.Size, cfg.Large)
	data = binary.LittleEndian.AppendUint32(data, foTORPI)
	data = appendConnParams(data, cfg.Size, cfg.Large)
	data = append(data, foTransportTrigger)
	data = append(data, byte(len(cfg.Path)/2))
	data = append(data, cfg.Path...)

	cmPath, err := EPath().Class(ClassConnectionManager).Instance(InstanceConnectionManager).Build()
	if err != nil {
		return Request{}, 0, err
	}
	return Request{Service: service, Path: cmPath, Data: data}, connSerial, nil
}

func appendConnParams(data []byte, size uint16, large bool) []byte {
	if large {
		return binary.LittleEndian.AppendUint32(data, uint32(foParamsBase)<<16|uint32(size))
	}
	return binary.LittleEndian.AppendUint16(data, foParamsBase|size)
}

// ForwardOpenReply is the successful Forward Open response body.
type ForwardOpenReply struct {
	OTConnectionID   uint32
	TOConnectionID   uint32
	ConnectionSerial uint16
	VendorID         uint16
	OriginatorSerial uint32
	OTAPI            uint32 // actual packet intervals granted by the target
	TOAPI            uint32
}

// ParseForwardOpenReply decodes the data of a successful Forward Open
// response.
func ParseForwardOpenReply(data []byte) (*ForwardOpenReply, error) {
	if len(data) < 26 {
		return nil, fmt.Errorf("cip: Forward Open reply truncated at %d bytes", len(data))
	}
	return &ForwardOpenReply{
		OTConnectionID:   binary.LittleEndian.Uint32(data[0:4]),
		TOConnectionID:   binary.LittleEndian.Uint32(data[4:8]),
		ConnectionSerial: binary.LittleEndian.Uint16(data[8:10]),
		VendorID:         binary.LittleEndian.Uint16(data[10:12]),
		OriginatorSerial: binary.LittleEndian.Uint32(data[12:16]),
		OTAPI:            binary.LittleEndian.Uint32(data[16:20]),
		TOAPI:            binary.LittleEndian.Uint32(data[20:24]),
	}, nil
}

// Connection materializes the connection record for connected messaging
// and the eventual Forward Close. size is the granted size in bytes.
func (r *ForwardOpenReply) Connection(size uint16) *Connection {
	return &Connection{
		OTConnID:     r.OTConnectionID,
		TOConnID:     r.TOConnectionID,
		SerialNumber: r.ConnectionSerial,
		VendorID:     r.VendorID,
		OrigSerial:   r.OriginatorSerial,
		Size:         size,
	}
}

// ForwardCloseRequest builds the Forward Close for an open connection.
// connectionPath must match the path given at Forward Open.
func ForwardCloseRequest(conn *Connection, connectionPath Path) (Request, error) {
	if conn == nil {
		return Request{}, fmt.Errorf("cip: Forward Close on nil connection")
	}
	if len(connectionPath)%2 != 0 {
		return Request{}, fmt.Errorf("cip: connection path must be an even byte count, got %d", len(connectionPath))
	}

	data := make([]byte, 0, 12+len(connectionPath))
	data = append(data, foPriorityTickTime, fcTimeoutTicks)
	data = binary.LittleEndian.AppendUint16(data, conn.SerialNumber)
	data = binary.LittleEndian.AppendUint16(data, conn.VendorID)
	data = binary.LittleEndian.AppendUint32(data, conn.OrigSerial)
	data = append(data, byte(len(connectionPath)/2), 0x00)
	data = append(data, connectionPath...)

	cmPath, err := EPath().Class(ClassConnectionManager).Instance(InstanceConnectionManager).Build()
	if err != nil {
		return Request{}, err
	}
	return Request{Service: ServiceForwardClose, Path: cmPath, Data: data}, nil
}

// UnconnectedSendRequest wraps an explicit request for routing through one
// or more Connection Manager hops, e.g. across a backplane to the
// controller slot. On success the target's reply comes back unwrapped; a
// routing failure answers with the Unconnected Send reply service and a
// nonzero status.
func UnconnectedSendRequest(embedded Request, routePath Path) (Request, error) {
	if len(routePath) == 0 || len(routePath)%2 != 0 {
		return Request{}, fmt.Errorf("cip: route path must be a nonzero even byte count, got %d", len(routePath))
	}

	msg := embedded.Marshal()
	data := make([]byte, 0, 4+len(msg)+1+2+len(routePath))
	data = append(data, foPriorityTickTime, ucmmTimeoutTicks)
	data = binary.LittleEndian.AppendUint16(data, uint16(len(msg)))
	data = append(data, msg...)
	if len(msg)%2 != 0 {
		data = append(data, 0x00)
	}
	data = append(data, byte(len(routePath)/2), 0x00)
	data = append(data, routePath...)

	cmPath, err := EPath().Class(ClassConnectionManager).Instance(InstanceConnectionManager).Build()
	if err != nil {
		return Request{}, err
	}
	return Request{Service: ServiceUnconnectedSend, Path: cmPath, Data: data}, nil
}
