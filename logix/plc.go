// Package logix reads and writes tags on Allen-Bradley Logix controllers
// (ControlLogix, CompactLogix) using CIP explicit messaging over an
// EtherNet/IP session.
package logix

import (
	"encoding/binary"
	"fmt"

	"taglink/cip"
	"taglink/eip"
	"taglink/logging"
)

// PLC drives explicit messaging against one controller over a single
// registered session. Requests use connected messaging once a Forward
// Open succeeds, otherwise they go out unconnected, wrapped in an
// Unconnected Send when a route path is configured.
//
// A PLC serializes one request/response exchange at a time; callers
// wanting parallel reads open separate PLC instances.
type PLC struct {
	Addr string
	Slot byte
	Conn *eip.Client

	// RoutePath selects how requests reach the processor. Empty sends
	// directly to the device. Port and link segments route through a
	// backplane or gateway, e.g. {0x01, slot} for a ControlLogix CPU
	// behind an Ethernet module.
	RoutePath cip.Path

	cipConn  *cip.Connection
	connPath cip.Path
}

// Tag holds the raw bytes of one tag read plus the type code the
// controller reported alongside them.
type Tag struct {
	Name     string
	DataType uint16
	Bytes    []byte
}

// Value wraps the raw tag for decoding through the TagValue accessors.
func (t *Tag) Value() *TagValue {
	return &TagValue{Name: t.Name, DataType: t.DataType, Bytes: t.Bytes}
}

// NewPLC dials the controller at addr on the standard EtherNet/IP port
// and registers a session.
func NewPLC(addr string) (*PLC, error) {
	if addr == "" {
		return nil, fmt.Errorf("logix: empty controller address")
	}
	conn := eip.NewClient(addr)
	if err := conn.Connect(); err != nil {
		return nil, err
	}
	return &PLC{Addr: addr, Conn: conn}, nil
}

// NewPLCWithPort dials a nonstandard port. Tests use it to talk to local
// fake controllers.
func NewPLCWithPort(addr string, port uint16) (*PLC, error) {
	if addr == "" {
		return nil, fmt.Errorf("logix: empty controller address")
	}
	conn := eip.NewClientWithPort(addr, port)
	if err := conn.Connect(); err != nil {
		return nil, err
	}
	return &PLC{Addr: addr, Conn: conn}, nil
}

// Close tears down the Forward Open connection if one is up, then
// unregisters the session. Best effort.
func (p *PLC) Close() {
	if p == nil || p.Conn == nil {
		return
	}
	if p.cipConn != nil {
		_ = p.CloseConnection()
	}
	_ = p.Conn.Disconnect()
}

// SetRoutePath configures explicit routing segments for unconnected
// requests and the Forward Open connection path. Nil disables routing.
func (p *PLC) SetRoutePath(path cip.Path) {
	if p == nil {
		return
	}
	p.RoutePath = path
}

// SetSlotRouting routes through backplane port 1 to the CPU in the given
// slot, the usual arrangement for ControlLogix reached via an Ethernet
// module.
func (p *PLC) SetSlotRouting(slot byte) {
	if p == nil {
		return
	}
	p.Slot = slot
	p.RoutePath = cip.Path{0x01, slot}
}

// chunkBudget is the data budget for one fragmented transfer piece,
// leaving headroom under the negotiated connection size for the service
// header, path and offset fields. Unconnected messaging gets the
// conservative UCMM budget.
func (p *PLC) chunkBudget() int {
	if p.cipConn != nil && p.cipConn.Size > 100 {
		return int(p.cipConn.Size) - 100
	}
	return 480
}

// exchange sends one explicit-messaging request and parses the reply.
// Transport and framing failures come back as errors; controller status
// is left on the Response for the caller, which may accept statuses like
// partial transfer.
func (p *PLC) exchange(req cip.Request) (*cip.Response, error) {
	if p == nil || p.Conn == nil {
		return nil, fmt.Errorf("logix: no session")
	}
	if p.cipConn != nil {
		return p.exchangeConnected(req)
	}
	return p.exchangeUnconnected(req)
}

// exchangeConnected sends over the Forward Open connection: the request
// rides a connected-data item prefixed with a sequence number, addressed
// by the O->T connection ID.
func (p *PLC) exchangeConnected(req cip.Request) (*cip.Response, error) {
	packet := eip.CommonPacket{Items: []eip.CommonPacketItem{
		{TypeId: eip.CpfConnectedAddressId, Data: binary.LittleEndian.AppendUint32(nil, p.cipConn.OTConnID)},
		{TypeId: eip.CpfConnectedDataId, Data: p.cipConn.WrapConnected(req.Marshal())},
	}}

	reply, err := p.Conn.SendUnitDataTransaction(packet)
	if err != nil {
		return nil, err
	}

	item := reply.ItemByType(eip.CpfConnectedDataId)
	if item == nil {
		return nil, fmt.Errorf("logix: reply carries no connected data item")
	}
	_, payload, err := p.cipConn.UnwrapConnected(item.Data)
	if err != nil {
		return nil, err
	}
	return cip.ParseResponse(payload)
}

// exchangeUnconnected sends a UCMM request over SendRRData, wrapping it
// in an Unconnected Send when a route path is configured.
func (p *PLC) exchangeUnconnected(req cip.Request) (*cip.Response, error) {
	routed := len(p.RoutePath) > 0
	if routed {
		var err error
		req, err = cip.UnconnectedSendRequest(req, p.RoutePath)
		if err != nil {
			return nil, err
		}
	}

	resp, err := p.exchangeDirect(req)
	if err != nil {
		return nil, err
	}

	// A reply from the Unconnected Send service itself means the router
	// answered: nonzero status is a routing failure, success wraps the
	// target's reply.
	if routed && resp.ReplyTo(cip.ServiceUnconnectedSend) {
		if resp.Status != StatusSuccess {
			return nil, statusError("", cip.ServiceUnconnectedSend, resp.Status, resp.Extended)
		}
		return cip.ParseResponse(resp.Data)
	}
	return resp, nil
}

// exchangeDirect sends a request to the device itself, with no routing.
// Connection Manager services like Forward Open carry their route inside
// the request and must always go out this way.
func (p *PLC) exchangeDirect(req cip.Request) (*cip.Response, error) {
	packet := eip.CommonPacket{Items: []eip.CommonPacketItem{
		{TypeId: eip.CpfNullAddressId},
		{TypeId: eip.CpfUnconnectedDataId, Data: req.Marshal()},
	}}

	reply, err := p.Conn.SendRRData(packet)
	if err != nil {
		return nil, err
	}

	item := reply.ItemByType(eip.CpfUnconnectedDataId)
	if item == nil {
		return nil, fmt.Errorf("logix: reply carries no unconnected data item")
	}
	return cip.ParseResponse(item.Data)
}

// execute sends req and verifies the reply echoes its service code.
func (p *PLC) execute(req cip.Request) (*cip.Response, error) {
	resp, err := p.exchange(req)
	if err != nil {
		return nil, err
	}
	if !resp.ReplyTo(req.Service) {
		return nil, fmt.Errorf("logix: reply service 0x%02X does not match request 0x%02X", resp.Service, req.Service)
	}
	return resp, nil
}

// checkStatus returns nil when the reply status is success or one of the
// accepted statuses, otherwise the typed controller error.
func checkStatus(tag string, service byte, resp *cip.Response, accept ...byte) error {
	if resp.Status == StatusSuccess {
		return nil
	}
	for _, a := range accept {
		if resp.Status == a {
			return nil
		}
	}
	return statusError(tag, service, resp.Status, resp.Extended)
}

// ReadTag reads a single element of the named tag.
func (p *PLC) ReadTag(tag string) (*Tag, error) {
	return p.ReadTagCount(tag, 1)
}

// ReadTagCount reads count elements of the named tag. When the reply
// does not fit one packet the controller reports a partial transfer;
// the read then continues with the fragmented service from the byte
// offset already received until the transfer completes.
func (p *PLC) ReadTagCount(tag string, count uint16) (*Tag, error) {
	if p == nil || p.Conn == nil {
		return nil, fmt.Errorf("logix: no session")
	}

	path, err := cip.EPath().Tag(tag).Build()
	if err != nil {
		return nil, err
	}

	req := cip.Request{
		Service: ServiceReadTag,
		Path:    path,
		Data:    binary.LittleEndian.AppendUint16(nil, count),
	}
	resp, err := p.execute(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(tag, ServiceReadTag, resp, StatusPartialTransfer); err != nil {
		return nil, err
	}
	if len(resp.Data) < 2 {
		return nil, fmt.Errorf("logix: %q: read reply missing type code", tag)
	}

	dataType := binary.LittleEndian.Uint16(resp.Data[:2])
	value := append([]byte(nil), resp.Data[2:]...)

	if resp.Status == StatusPartialTransfer {
		logging.DebugLog("logix", "read %s: partial transfer, continuing fragmented at offset %d", tag, len(value))
		rest, err := p.readRemainder(tag, path, count, uint32(len(value)))
		if err != nil {
			return nil, err
		}
		value = append(value, rest...)
	}

	return &Tag{Name: tag, DataType: dataType, Bytes: value}, nil
}

// ReadTagFragmented reads the named tag entirely with the fragmented
// service. Useful when even the first plain read would be rejected, such
// as structures larger than one packet.
func (p *PLC) ReadTagFragmented(tag string, count uint16) (*Tag, error) {
	if p == nil || p.Conn == nil {
		return nil, fmt.Errorf("logix: no session")
	}

	path, err := cip.EPath().Tag(tag).Build()
	if err != nil {
		return nil, err
	}

	resp, err := p.execute(readFragmentRequest(path, count, 0))
	if err != nil {
		return nil, err
	}
	if err := checkStatus(tag, ServiceReadTagFragmented, resp, StatusPartialTransfer); err != nil {
		return nil, err
	}
	if len(resp.Data) < 2 {
		return nil, fmt.Errorf("logix: %q: read reply missing type code", tag)
	}

	dataType := binary.LittleEndian.Uint16(resp.Data[:2])
	value := append([]byte(nil), resp.Data[2:]...)

	if resp.Status == StatusPartialTransfer {
		rest, err := p.readRemainder(tag, path, count, uint32(len(value)))
		if err != nil {
			return nil, err
		}
		value = append(value, rest...)
	}

	return &Tag{Name: tag, DataType: dataType, Bytes: value}, nil
}

// readFragmentRequest builds one Read Tag Fragmented request: element
// count followed by the byte offset to resume from.
func readFragmentRequest(path cip.Path, count uint16, offset uint32) cip.Request {
	data := binary.LittleEndian.AppendUint16(nil, count)
	data = binary.LittleEndian.AppendUint32(data, offset)
	return cip.Request{Service: ServiceReadTagFragmented, Path: path, Data: data}
}

// readRemainder loops Read Tag Fragmented from offset until the
// controller stops reporting a partial transfer, concatenating payloads
// in offset order. Any mid-sequence failure fails the whole read; no
// partial data is returned.
func (p *PLC) readRemainder(tag string, path cip.Path, count uint16, offset uint32) ([]byte, error) {
	var out []byte
	for {
		resp, err := p.execute(readFragmentRequest(path, count, offset))
		if err != nil {
			return nil, &FragmentError{Tag: tag, Offset: offset, Err: err}
		}
		if err := checkStatus(tag, ServiceReadTagFragmented, resp, StatusPartialTransfer); err != nil {
			return nil, &FragmentError{Tag: tag, Offset: offset, Err: err}
		}
		if len(resp.Data) < 2 {
			return nil, &FragmentError{Tag: tag, Offset: offset, Err: fmt.Errorf("reply missing type code")}
		}

		chunk := resp.Data[2:]
		if len(chunk) == 0 {
			return nil, &FragmentError{Tag: tag, Offset: offset, Err: fmt.Errorf("empty fragment")}
		}
		out = append(out, chunk...)
		offset += uint32(len(chunk))

		if resp.Status != StatusPartialTransfer {
			return out, nil
		}
	}
}

// WriteTag writes one element. The type code must match the tag's type
// in the controller or the write fails with a type mismatch status.
func (p *PLC) WriteTag(tag string, dataType uint16, value []byte) error {
	return p.WriteTagCount(tag, dataType, value, 1)
}

// WriteTagCount writes count elements. Values exceeding the connection
// budget are split into a Write Tag Fragmented sequence with increasing
// byte offsets; a failure partway is reported as a whole-write failure.
func (p *PLC) WriteTagCount(tag string, dataType uint16, value []byte, count uint16) error {
	if p == nil || p.Conn == nil {
		return fmt.Errorf("logix: no session")
	}

	path, err := cip.EPath().Tag(tag).Build()
	if err != nil {
		return err
	}

	logging.DebugLog("logix", "write %s: type=%s count=%d bytes=%d", tag, TypeName(dataType), count, len(value))

	if len(value) > p.chunkBudget() {
		return p.writeFragmented(tag, path, dataType, value, count)
	}

	data := binary.LittleEndian.AppendUint16(nil, dataType)
	data = binary.LittleEndian.AppendUint16(data, count)
	data = append(data, value...)

	resp, err := p.execute(cip.Request{Service: ServiceWriteTag, Path: path, Data: data})
	if err != nil {
		return err
	}
	return checkStatus(tag, ServiceWriteTag, resp)
}

// writeFragmented splits value at the connection budget, aligned to
// element boundaries, and issues Write Tag Fragmented requests in offset
// order.
func (p *PLC) writeFragmented(tag string, path cip.Path, dataType uint16, value []byte, count uint16) error {
	chunk := p.chunkBudget()
	if size := TypeSize(dataType); size > 0 && chunk > size {
		chunk -= chunk % size
	}

	for offset := 0; offset < len(value); offset += chunk {
		end := offset + chunk
		if end > len(value) {
			end = len(value)
		}

		data := binary.LittleEndian.AppendUint16(nil, dataType)
		data = binary.LittleEndian.AppendUint16(data, count)
		data = binary.LittleEndian.AppendUint32(data, uint32(offset))
		data = append(data, value[offset:end]...)

		resp, err := p.execute(cip.Request{Service: ServiceWriteTagFragmented, Path: path, Data: data})
		if err != nil {
			return &FragmentError{Tag: tag, Offset: uint32(offset), Err: err}
		}
		if err := checkStatus(tag, ServiceWriteTagFragmented, resp); err != nil {
			return &FragmentError{Tag: tag, Offset: uint32(offset), Err: err}
		}
	}
	return nil
}
