package logix

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"

	"taglink/cip"
	"taglink/eip"
)

// cipCall is one explicit request as the fake controller saw it, after
// the encapsulation, routing and connection layers are stripped away.
type cipCall struct {
	Service   byte
	Path      cip.Path
	Data      []byte
	Connected bool // arrived over the Forward Open connection
	Routed    bool // arrived wrapped in an Unconnected Send
}

// cipReply is what the test's handler wants sent back for one request.
type cipReply struct {
	Status   byte
	Extended []uint16
	Data     []byte
}

func okReply(data []byte) cipReply { return cipReply{Data: data} }

const fakeSession uint32 = 0x00BEEF01

var (
	connMgrPath   = cip.Path{0x20, 0x06, 0x24, 0x01}
	msgRouterPath = cip.Path{0x20, 0x02, 0x24, 0x01}
)

// fakeLogix speaks just enough controller to exercise the client side:
// it grants sessions and Forward Opens, unwraps Unconnected Sends and
// connected-data items, and hands every remaining request to the test's
// handler. A nil handler answers everything with empty success.
type fakeLogix struct {
	t      *testing.T
	ln     net.Listener
	handle func(call cipCall) cipReply

	mu          sync.Mutex
	calls       []cipCall
	refuseLarge bool
	refuseOpen  bool
	failRouting bool
	otConnID    uint32
	toConnID    uint32
}

func newFakeLogix(t *testing.T, handle func(call cipCall) cipReply) *fakeLogix {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeLogix{t: t, ln: ln, handle: handle, otConnID: 0x8001BEEF}
	t.Cleanup(func() { ln.Close() })
	go f.serve()
	return f
}

func (f *fakeLogix) port() uint16 {
	return uint16(f.ln.Addr().(*net.TCPAddr).Port)
}

// setRefuseLarge makes the fake reject the large Forward Open with the
// invalid-connection-size status, the way older firmware does.
func (f *fakeLogix) setRefuseLarge(v bool) {
	f.mu.Lock()
	f.refuseLarge = v
	f.mu.Unlock()
}

// setRefuseOpen makes the fake reject every Forward Open, forcing
// clients down to unconnected messaging.
func (f *fakeLogix) setRefuseOpen(v bool) {
	f.mu.Lock()
	f.refuseOpen = v
	f.mu.Unlock()
}

// setFailRouting makes the Connection Manager answer Unconnected Sends
// with a routing failure instead of forwarding them.
func (f *fakeLogix) setFailRouting(v bool) {
	f.mu.Lock()
	f.failRouting = v
	f.mu.Unlock()
}

func (f *fakeLogix) recorded() []cipCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cipCall(nil), f.calls...)
}

func (f *fakeLogix) recordedServices() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Service
	}
	return out
}

func (f *fakeLogix) record(c cipCall) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeLogix) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.serveConn(conn)
	}
}

func (f *fakeLogix) serveConn(conn net.Conn) {
	defer conn.Close()
	for {
		header := make([]byte, eip.HeaderSize)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		payload := make([]byte, binary.LittleEndian.Uint16(header[2:4]))
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		req, err := eip.ParseEncapsulation(append(header, payload...))
		if err != nil {
			f.t.Errorf("fake controller: bad frame: %v", err)
			return
		}

		resp := f.answer(req)
		if resp == nil {
			continue
		}
		if _, err := conn.Write(resp.Bytes()); err != nil {
			return
		}
	}
}

func (f *fakeLogix) answer(req *eip.Encapsulation) *eip.Encapsulation {
	switch req.Command {
	case eip.CommandRegisterSession:
		return &eip.Encapsulation{
			Command:       eip.CommandRegisterSession,
			SessionHandle: fakeSession,
			Context:       req.Context,
			Data:          []byte{0x01, 0x00, 0x00, 0x00},
		}
	case eip.CommandSendRRData:
		return f.answerExplicit(req, false)
	case eip.CommandSendUnitData:
		return f.answerExplicit(req, true)
	case eip.CommandUnRegisterSession, eip.CommandNop:
		return nil
	}
	f.t.Errorf("fake controller: unexpected command 0x%04X", req.Command)
	return nil
}

func (f *fakeLogix) answerExplicit(req *eip.Encapsulation, connected bool) *eip.Encapsulation {
	cdata, err := eip.ParseCommandData(req.Data)
	if err != nil {
		f.t.Errorf("fake controller: %v", err)
		return nil
	}
	packet, err := eip.ParseCommonPacket(cdata.Packet)
	if err != nil {
		f.t.Errorf("fake controller: %v", err)
		return nil
	}

	var replyPacket eip.CommonPacket
	if connected {
		item := packet.ItemByType(eip.CpfConnectedDataId)
		if item == nil || len(item.Data) < 2 {
			f.t.Error("fake controller: connected request without a data item")
			return nil
		}
		seq := append([]byte(nil), item.Data[:2]...)
		reply := f.dispatch(item.Data[2:], true, false)

		f.mu.Lock()
		toConn := f.toConnID
		f.mu.Unlock()
		replyPacket = eip.CommonPacket{Items: []eip.CommonPacketItem{
			{TypeId: eip.CpfConnectedAddressId, Data: binary.LittleEndian.AppendUint32(nil, toConn)},
			{TypeId: eip.CpfConnectedDataId, Data: append(seq, reply...)},
		}}
	} else {
		item := packet.ItemByType(eip.CpfUnconnectedDataId)
		if item == nil {
			f.t.Error("fake controller: request without an unconnected data item")
			return nil
		}
		replyPacket = eip.CommonPacket{Items: []eip.CommonPacketItem{
			{TypeId: eip.CpfNullAddressId},
			{TypeId: eip.CpfUnconnectedDataId, Data: f.dispatch(item.Data, false, false)},
		}}
	}

	cmd := eip.CommandData{Packet: replyPacket.Bytes()}
	return &eip.Encapsulation{
		Command:       req.Command,
		SessionHandle: req.SessionHandle,
		Context:       req.Context,
		Data:          cmd.Bytes(),
	}
}

// dispatch answers Connection Manager services itself and forwards the
// rest to the handler. Routed requests recurse on the embedded message;
// per the protocol their reply goes back unwrapped.
func (f *fakeLogix) dispatch(raw []byte, connected, routed bool) []byte {
	service, path, data, ok := splitRequest(raw)
	if !ok {
		f.t.Errorf("fake controller: malformed request % X", raw)
		return (&cip.Response{Service: cip.ReplyMask, Status: StatusGeneralError}).Marshal()
	}

	if bytes.Equal(path, connMgrPath) {
		switch service {
		case cip.ServiceUnconnectedSend:
			f.mu.Lock()
			fail := f.failRouting
			f.mu.Unlock()
			if fail {
				return (&cip.Response{
					Service:  service | cip.ReplyMask,
					Status:   0x01,
					Extended: []uint16{0x0204}, // unconnected send timed out
				}).Marshal()
			}
			if len(data) < 4 {
				f.t.Errorf("fake controller: unconnected send data only %d bytes", len(data))
				return (&cip.Response{Service: service | cip.ReplyMask, Status: StatusNotEnoughData}).Marshal()
			}
			n := int(binary.LittleEndian.Uint16(data[2:4]))
			if len(data) < 4+n {
				f.t.Errorf("fake controller: embedded message overruns: %d of %d bytes", n, len(data)-4)
				return (&cip.Response{Service: service | cip.ReplyMask, Status: StatusNotEnoughData}).Marshal()
			}
			return f.dispatch(data[4:4+n], connected, true)

		case cip.ServiceForwardOpen, cip.ServiceForwardOpenLarge:
			f.record(cipCall{Service: service, Path: path, Data: data, Connected: connected, Routed: routed})
			return f.forwardOpen(service, data)

		case cip.ServiceForwardClose:
			f.record(cipCall{Service: service, Path: path, Data: data, Connected: connected, Routed: routed})
			return f.forwardClose(service, data)
		}
	}

	call := cipCall{Service: service, Path: path, Data: data, Connected: connected, Routed: routed}
	f.record(call)

	var reply cipReply
	if f.handle != nil {
		reply = f.handle(call)
	}
	return (&cip.Response{
		Service:  service | cip.ReplyMask,
		Status:   reply.Status,
		Extended: reply.Extended,
		Data:     reply.Data,
	}).Marshal()
}

// forwardOpen grants the connection, echoing the originator's identifiers
// the way a real target does.
func (f *fakeLogix) forwardOpen(service byte, data []byte) []byte {
	if len(data) < 18 {
		f.t.Errorf("fake controller: forward open request only %d bytes", len(data))
		return (&cip.Response{Service: service | cip.ReplyMask, Status: StatusNotEnoughData}).Marshal()
	}

	f.mu.Lock()
	refuse := f.refuseOpen || (f.refuseLarge && service == cip.ServiceForwardOpenLarge)
	if !refuse {
		f.toConnID = binary.LittleEndian.Uint32(data[6:10])
	}
	otConn := f.otConnID
	f.mu.Unlock()

	if refuse {
		return (&cip.Response{
			Service:  service | cip.ReplyMask,
			Status:   0x01,
			Extended: []uint16{0x0109}, // invalid connection size
		}).Marshal()
	}

	out := binary.LittleEndian.AppendUint32(nil, otConn)
	out = append(out, data[6:10]...)  // T->O connection ID, echoed back
	out = append(out, data[10:12]...) // connection serial
	out = append(out, data[12:14]...) // originator vendor
	out = append(out, data[14:18]...) // originator serial
	out = binary.LittleEndian.AppendUint32(out, 0x00201234)
	out = binary.LittleEndian.AppendUint32(out, 0x00204001)
	out = append(out, 0x00, 0x00) // application reply size, reserved
	return (&cip.Response{Service: service | cip.ReplyMask, Data: out}).Marshal()
}

func (f *fakeLogix) forwardClose(service byte, data []byte) []byte {
	if len(data) < 10 {
		f.t.Errorf("fake controller: forward close request only %d bytes", len(data))
		return (&cip.Response{Service: service | cip.ReplyMask, Status: StatusNotEnoughData}).Marshal()
	}
	out := append([]byte(nil), data[2:10]...) // serial, vendor, originator serial
	out = append(out, 0x00, 0x00)
	return (&cip.Response{Service: service | cip.ReplyMask, Data: out}).Marshal()
}

// splitRequest splits a marshalled request into service, path and data.
func splitRequest(raw []byte) (service byte, path cip.Path, data []byte, ok bool) {
	if len(raw) < 2 {
		return 0, nil, nil, false
	}
	n := int(raw[1]) * 2
	if len(raw) < 2+n {
		return 0, nil, nil, false
	}
	return raw[0], cip.Path(raw[2 : 2+n]), raw[2+n:], true
}

// packReplies builds Multiple Service Packet reply data: count, offsets
// measured from the count field, then the packed replies.
func packReplies(replies ...[]byte) []byte {
	data := binary.LittleEndian.AppendUint16(nil, uint16(len(replies)))
	off := uint16(2 + 2*len(replies))
	for _, r := range replies {
		data = binary.LittleEndian.AppendUint16(data, off)
		off += uint16(len(r))
	}
	for _, r := range replies {
		data = append(data, r...)
	}
	return data
}

// dialFake registers a session with the fake controller, leaving
// messaging unconnected so tests choose when to open a connection.
func dialFake(t *testing.T, f *fakeLogix) *PLC {
	t.Helper()
	plc, err := NewPLCWithPort("127.0.0.1", f.port())
	if err != nil {
		t.Fatalf("NewPLCWithPort: %v", err)
	}
	t.Cleanup(plc.Close)
	return plc
}
