package logix

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"taglink/cip"
)

// connectFake runs the full Connect path against the fake controller.
func connectFake(t *testing.T, f *fakeLogix, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithPort(f.port())}, opts...)
	c, err := Connect("127.0.0.1", opts...)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestConnectNegotiatesLargeConnection(t *testing.T) {
	f := newFakeLogix(t, nil)
	c := connectFake(t, f)

	connected, size := c.ConnectionInfo()
	if !connected || size != cip.LargeConnectionSize {
		t.Errorf("ConnectionInfo = (%v, %d), want (true, %d)", connected, size, cip.LargeConnectionSize)
	}
	if got, want := c.ConnectionMode(), "Connected (Large Forward Open, 4002 bytes)"; got != want {
		t.Errorf("ConnectionMode = %q, want %q", got, want)
	}
}

func TestConnectFallsBackToStandardSize(t *testing.T) {
	f := newFakeLogix(t, nil)
	f.setRefuseLarge(true)
	c := connectFake(t, f)

	connected, size := c.ConnectionInfo()
	if !connected || size != cip.StandardConnectionSize {
		t.Errorf("ConnectionInfo = (%v, %d), want (true, %d)", connected, size, cip.StandardConnectionSize)
	}
	if got, want := c.ConnectionMode(), "Connected (Forward Open, 504 bytes)"; got != want {
		t.Errorf("ConnectionMode = %q, want %q", got, want)
	}
}

func TestConnectWithoutConnection(t *testing.T) {
	f := newFakeLogix(t, nil)
	c := connectFake(t, f, WithoutConnection())

	connected, size := c.ConnectionInfo()
	if connected || size != 0 {
		t.Errorf("ConnectionInfo = (%v, %d), want (false, 0)", connected, size)
	}
	if got, want := c.ConnectionMode(), "Unconnected messaging"; got != want {
		t.Errorf("ConnectionMode = %q, want %q", got, want)
	}
	if !c.IsConnected() {
		t.Error("session should count as connected for unconnected messaging")
	}
	if n := len(f.recorded()); n != 0 {
		t.Errorf("connect sent %d explicit requests, want none", n)
	}
}

// A target refusing every Forward Open still yields a working client on
// unconnected messaging.
func TestConnectSurvivesRefusedForwardOpen(t *testing.T) {
	f := newFakeLogix(t, func(call cipCall) cipReply {
		return okReply([]byte{0xC4, 0x00, 0x2A, 0x00, 0x00, 0x00})
	})
	f.setRefuseOpen(true)
	c := connectFake(t, f)

	if connected, _ := c.ConnectionInfo(); connected {
		t.Error("ConnectionInfo reports connected after both opens were refused")
	}
	got, err := c.ReadDint("Counter")
	if err != nil {
		t.Fatalf("ReadDint: %v", err)
	}
	if got != 42 {
		t.Errorf("ReadDint = %d, want 42", got)
	}
}

func TestConnectionModeNilClient(t *testing.T) {
	var c *Client
	if got := c.ConnectionMode(); got != "Not connected" {
		t.Errorf("ConnectionMode = %q, want Not connected", got)
	}
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
}

func TestReadHelpers(t *testing.T) {
	replies := map[string][]byte{
		"Flag":  {0xC1, 0x00, 0xFF},
		"Count": {0xC4, 0x00, 0x2A, 0x00, 0x00, 0x00},
		"Rate":  {0xC3, 0x00, 0x2A, 0x00},
		"Temp":  {0xCA, 0x00, 0x00, 0x00, 0xC0, 0x3F},
		"Label": {0xD0, 0x00, 0x03, 0x00, 0x00, 0x00, 'a', 'b', 'c'},
	}
	f := newFakeLogix(t, func(call cipCall) cipReply {
		name, err := cip.ParsePath(call.Path)
		if err != nil {
			return cipReply{Status: StatusPathSegmentError}
		}
		data, ok := replies[name]
		if !ok {
			return cipReply{Status: StatusPathUnknown}
		}
		return okReply(data)
	})
	c := connectFake(t, f, WithoutConnection())

	if got, err := c.ReadBool("Flag"); err != nil || !got {
		t.Errorf("ReadBool = %v, %v, want true", got, err)
	}
	if got, err := c.ReadDint("Count"); err != nil || got != 42 {
		t.Errorf("ReadDint = %d, %v, want 42", got, err)
	}
	if got, err := c.ReadInt("Rate"); err != nil || got != 42 {
		t.Errorf("ReadInt = %d, %v, want 42", got, err)
	}
	if got, err := c.ReadReal("Temp"); err != nil || got != 1.5 {
		t.Errorf("ReadReal = %v, %v, want 1.5", got, err)
	}
	if got, err := c.ReadString("Label"); err != nil || got != "abc" {
		t.Errorf("ReadString = %q, %v, want abc", got, err)
	}

	// Each typed helper pins its exact type instead of widening or
	// truncating a neighbor.
	var tm *TypeMismatchError
	if _, err := c.ReadDint("Temp"); !errors.As(err, &tm) {
		t.Errorf("ReadDint on REAL = %v, want *TypeMismatchError", err)
	}
	if _, err := c.ReadInt("Count"); !errors.As(err, &tm) {
		t.Errorf("ReadInt on DINT = %v, want *TypeMismatchError", err)
	}
	if _, err := c.ReadReal("Count"); !errors.As(err, &tm) {
		t.Errorf("ReadReal on DINT = %v, want *TypeMismatchError", err)
	}
	if !IsKind(mustErr(t, func() error { _, err := c.ReadBool("Nope"); return err }), KindTagNotFound) {
		t.Error("missing tag did not map to tag-not-found")
	}
}

func mustErr(t *testing.T, fn func() error) error {
	t.Helper()
	err := fn()
	if err == nil {
		t.Fatal("expected an error")
	}
	return err
}

func TestWriteHelpers(t *testing.T) {
	tests := []struct {
		name  string
		write func(c *Client) error
		want  []byte
	}{
		{
			"bool true",
			func(c *Client) error { return c.WriteBool("Flag", true) },
			[]byte{0xC1, 0x00, 0x01, 0x00, 0xFF},
		},
		{
			"int as dint",
			func(c *Client) error { return c.WriteInt("Count", -1) },
			[]byte{0xC4, 0x00, 0x01, 0x00, 0xFF, 0xFF, 0xFF, 0xFF},
		},
		{
			"float as real",
			func(c *Client) error { return c.WriteFloat("Temp", 1.5) },
			[]byte{0xCA, 0x00, 0x01, 0x00, 0x00, 0x00, 0xC0, 0x3F},
		},
		{
			"string",
			func(c *Client) error { return c.WriteString("Label", "hi") },
			[]byte{0xD0, 0x00, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 'h', 'i'},
		},
		{
			"go value",
			func(c *Client) error { return c.Write("Count", int32(7)) },
			[]byte{0xC4, 0x00, 0x01, 0x00, 0x07, 0x00, 0x00, 0x00},
		},
		{
			"pre-encoded bytes",
			func(c *Client) error { return c.WriteBytes("Count", TypeDINT, []byte{0x09, 0x00, 0x00, 0x00}) },
			[]byte{0xC4, 0x00, 0x01, 0x00, 0x09, 0x00, 0x00, 0x00},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeLogix(t, nil)
			c := connectFake(t, f, WithoutConnection())

			if err := tt.write(c); err != nil {
				t.Fatalf("write: %v", err)
			}
			calls := f.recorded()
			if len(calls) != 1 || calls[0].Service != ServiceWriteTag {
				t.Fatalf("controller saw %d requests, want one Write Tag", len(calls))
			}
			if !bytes.Equal(calls[0].Data, tt.want) {
				t.Errorf("request data = % X, want % X", calls[0].Data, tt.want)
			}
		})
	}
}

// Unconnected reads batch five tags per packet; a failed batch marks its
// own tags and leaves the rest of the read intact.
func TestReadBatches(t *testing.T) {
	f := newFakeLogix(t, func(call cipCall) cipReply {
		count := int(binary.LittleEndian.Uint16(call.Data[0:2]))
		if count == 5 {
			// One reply for five requests: the whole batch is bad.
			r := (&cip.Response{Service: ServiceReadTag | cip.ReplyMask}).Marshal()
			return cipReply{Data: packReplies(r)}
		}
		replies := make([][]byte, count)
		for i := range replies {
			replies[i] = (&cip.Response{
				Service: ServiceReadTag | cip.ReplyMask,
				Data:    []byte{0xC4, 0x00, 0x2A, 0x00, 0x00, 0x00},
			}).Marshal()
		}
		return cipReply{Data: packReplies(replies...)}
	})
	c := connectFake(t, f, WithoutConnection())

	names := []string{"T1", "T2", "T3", "T4", "T5", "T6"}
	vals, err := c.Read(names...)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(vals) != len(names) {
		t.Fatalf("got %d values, want %d", len(vals), len(names))
	}

	for i := 0; i < 5; i++ {
		if vals[i].Error == nil {
			t.Errorf("vals[%d].Error = nil, want the batch failure", i)
		}
		if vals[i].Name != names[i] {
			t.Errorf("vals[%d].Name = %q, want %q", i, vals[i].Name, names[i])
		}
	}
	if got, err := vals[5].Int(); err != nil || got != 42 {
		t.Errorf("vals[5] = %d (%v), want 42 from the second batch", got, err)
	}

	calls := f.recorded()
	if len(calls) != 2 {
		t.Fatalf("six tags took %d packets, want 2", len(calls))
	}
	for _, call := range calls {
		if call.Service != cip.ServiceMultiple {
			t.Errorf("service = 0x%02X, want Multiple Service Packet", call.Service)
		}
	}
}

func TestReadEmpty(t *testing.T) {
	f := newFakeLogix(t, nil)
	c := connectFake(t, f, WithoutConnection())

	vals, err := c.Read()
	if vals != nil || err != nil {
		t.Errorf("Read() = %v, %v, want nil, nil", vals, err)
	}
}

func TestProgramsStripPrefix(t *testing.T) {
	controller := okReply(symbolPage(
		symbolEntry(1, "Program:Main", 0x1068),
		symbolEntry(2, "Program:Aux", 0x1068),
		symbolEntry(3, "Counter", TypeDINT),
	))
	f := newFakeLogix(t, scopedTagHandler(controller, okReply(nil)))
	c := connectFake(t, f, WithoutConnection())

	programs, err := c.Programs()
	if err != nil {
		t.Fatalf("Programs: %v", err)
	}
	if want := []string{"Main", "Aux"}; !reflect.DeepEqual(programs, want) {
		t.Errorf("Programs = %v, want %v", programs, want)
	}
}

func TestControllerTagsFiltersUnreadable(t *testing.T) {
	controller := okReply(symbolPage(
		symbolEntry(1, "Counter", TypeDINT),
		symbolEntry(2, "Program:Main", 0x1068),
		symbolEntry(3, "Task:MainTask", 0x1068),
	))
	f := newFakeLogix(t, scopedTagHandler(controller, okReply(nil)))
	c := connectFake(t, f, WithoutConnection())

	tags, err := c.ControllerTags()
	if err != nil {
		t.Fatalf("ControllerTags: %v", err)
	}
	if len(tags) != 1 || tags[0].Name != "Counter" {
		t.Errorf("tags = %+v, want Counter only", tags)
	}
}
