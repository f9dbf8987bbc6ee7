package logix

import (
	"encoding/binary"
	"fmt"

	"taglink/cip"
	"taglink/logging"
)

var verboseLogging bool

// SetVerboseLogging enables per-tag diagnostics in batched reads. Off by
// default because a busy poller would flood the debug trace.
func SetVerboseLogging(verbose bool) {
	verboseLogging = verbose
}

func debugLogVerbose(format string, args ...interface{}) {
	if verboseLogging {
		logging.DebugLog("logix", format, args...)
	}
}

// OpenConnection negotiates a Forward Open for connected messaging,
// trying the 4002-byte large form first and falling back to the standard
// 504-byte size when the target refuses it.
func (p *PLC) OpenConnection() error {
	if p == nil || p.Conn == nil {
		return fmt.Errorf("logix: no session")
	}
	if p.cipConn != nil {
		return fmt.Errorf("logix: connection already open")
	}

	var lastErr error
	for _, size := range []uint16{cip.LargeConnectionSize, cip.StandardConnectionSize} {
		if err := p.tryForwardOpen(size); err != nil {
			lastErr = err
			continue
		}
		logging.DebugLog("logix", "forward open to %s: %d byte connection", p.Addr, size)
		return nil
	}
	return fmt.Errorf("logix: forward open: %w", lastErr)
}

// tryForwardOpen attempts a Forward Open with the given connection size.
// The request goes out direct: its connection path carries the route.
func (p *PLC) tryForwardOpen(size uint16) error {
	connPath := p.connectionPath()

	req, _, err := cip.ForwardOpenRequest(cip.ForwardOpenConfig{
		Size:  size,
		Large: size > 511,
		Path:  connPath,
	})
	if err != nil {
		return err
	}

	resp, err := p.exchangeDirect(req)
	if err != nil {
		return err
	}
	if !resp.ReplyTo(req.Service) {
		return fmt.Errorf("logix: reply service 0x%02X does not match forward open", resp.Service)
	}
	if resp.Status != StatusSuccess {
		return statusError("", req.Service, resp.Status, resp.Extended)
	}

	reply, err := cip.ParseForwardOpenReply(resp.Data)
	if err != nil {
		return err
	}

	p.cipConn = reply.Connection(size)
	p.connPath = connPath
	return nil
}

// CloseConnection sends a Forward Close for the open connection. Best
// effort: the local state is cleared regardless so the session can fall
// back to unconnected messaging.
func (p *PLC) CloseConnection() error {
	if p == nil || p.Conn == nil || p.cipConn == nil {
		return nil
	}

	req, err := cip.ForwardCloseRequest(p.cipConn, p.connPath)
	p.cipConn = nil
	p.connPath = nil
	if err != nil {
		return err
	}

	_, _ = p.exchangeDirect(req)
	return nil
}

// IsConnected reports whether requests can be sent: a Forward Open
// connection is up, or the session itself is registered for unconnected
// messaging.
func (p *PLC) IsConnected() bool {
	if p == nil {
		return false
	}
	if p.cipConn != nil {
		return true
	}
	return p.Conn != nil && p.Conn.IsConnected()
}

// ConnectedSize returns the negotiated connection size in bytes, or 0
// when messaging is unconnected.
func (p *PLC) ConnectedSize() uint16 {
	if p == nil || p.cipConn == nil {
		return 0
	}
	return p.cipConn.Size
}

// connectionPath is the Forward Open connection path: the route segments
// (backplane port and slot unless overridden) followed by the Message
// Router address.
func (p *PLC) connectionPath() cip.Path {
	b := cip.EPath()
	if len(p.RoutePath) > 0 {
		b.Raw(p.RoutePath)
	} else {
		b.Port(1, p.Slot)
	}
	path, _ := b.Class(cip.ClassMessageRouter).Instance(cip.InstanceMessageRouter).Build()
	return path
}

// Keepalive nudges the connection with a NOP against the Identity object
// so the controller's inactivity timer does not close it between polls.
// A no-op when messaging is unconnected.
func (p *PLC) Keepalive() error {
	if p == nil || p.cipConn == nil {
		return nil
	}

	path, err := cip.EPath().Class(ClassIdentity).Instance(1).Build()
	if err != nil {
		return err
	}

	resp, err := p.exchange(cip.Request{Service: ServiceNop, Path: path})
	if err != nil {
		return fmt.Errorf("logix: keepalive: %w", err)
	}

	// Controllers without NOP answer service-not-supported, which still
	// proves the connection alive.
	if err := checkStatus("", ServiceNop, resp, StatusServiceNotSupport); err != nil {
		return fmt.Errorf("logix: keepalive: %w", err)
	}
	return nil
}

// ReadMultiple reads a batch of tags in one Multiple Service Packet.
// Each result carries its own controller status as a typed error; the
// call errors only when the packet itself cannot be exchanged.
func (p *PLC) ReadMultiple(tagNames []string) ([]*TagValue, error) {
	if len(tagNames) == 0 {
		return nil, nil
	}

	requests := make([]cip.Request, len(tagNames))
	for i, name := range tagNames {
		path, err := cip.EPath().Tag(name).Build()
		if err != nil {
			return nil, err
		}
		requests[i] = cip.Request{
			Service: ServiceReadTag,
			Path:    path,
			Data:    binary.LittleEndian.AppendUint16(nil, 1),
		}
	}

	req, err := cip.MultipleServiceRequest(requests)
	if err != nil {
		return nil, err
	}

	resp, err := p.execute(req)
	if err != nil {
		return nil, err
	}
	// Embedded-error status means the packet went through but some of the
	// services inside it failed; those surface per tag below.
	if err := checkStatus("", req.Service, resp, StatusEmbeddedError); err != nil {
		return nil, err
	}

	replies, err := cip.ParseMultipleServiceReply(resp.Data)
	if err != nil {
		return nil, err
	}
	if len(replies) != len(tagNames) {
		return nil, fmt.Errorf("logix: %d tags requested, %d replies", len(tagNames), len(replies))
	}

	values := make([]*TagValue, len(tagNames))
	for i := range replies {
		values[i] = readReplyValue(tagNames[i], &replies[i])
		if values[i].Error != nil {
			debugLogVerbose("read %s: %v", tagNames[i], values[i].Error)
			continue
		}
		// An embedded reply can itself be a partial transfer when one tag
		// outgrows its share of the packet. Resume with the fragmented
		// service; truncated bytes must never surface as a clean value.
		if replies[i].Status == StatusPartialTransfer {
			rest, err := p.readRemainder(tagNames[i], requests[i].Path, 1, uint32(len(values[i].Bytes)))
			if err != nil {
				values[i] = &TagValue{Name: tagNames[i], DataType: values[i].DataType, Error: err}
				debugLogVerbose("read %s: %v", tagNames[i], err)
				continue
			}
			values[i].Bytes = append(append([]byte(nil), values[i].Bytes...), rest...)
		}
	}
	return values, nil
}

// readReplyValue converts one embedded read reply into a TagValue,
// mapping a failure status to its typed error.
func readReplyValue(name string, r *cip.Response) *TagValue {
	if err := checkStatus(name, ServiceReadTag, r, StatusPartialTransfer); err != nil {
		return &TagValue{Name: name, Error: err}
	}
	if len(r.Data) < 2 {
		return &TagValue{Name: name, Error: fmt.Errorf("logix: %q: read reply missing type code", name)}
	}
	return &TagValue{
		Name:     name,
		DataType: binary.LittleEndian.Uint16(r.Data[:2]),
		Bytes:    r.Data[2:],
		Count:    1,
	}
}
