package logix

import (
	"fmt"
	"strings"
	"time"

	"taglink/cip"
	"taglink/logging"
)

// Client wraps a PLC with lifecycle management and typed read/write
// helpers. It is what the daemon, CLI and HTTP surfaces hold.
type Client struct {
	plc *PLC
}

type options struct {
	slot            byte
	routePath       cip.Path
	skipForwardOpen bool
	timeout         time.Duration
	port            uint16
}

// Option adjusts how Connect reaches and drives the controller.
type Option func(*options)

// WithSlot routes through the backplane to the CPU in the given slot,
// the ControlLogix arrangement. Overrides any custom route path.
func WithSlot(slot byte) Option {
	return func(o *options) {
		o.slot = slot
		o.routePath = nil
	}
}

// WithRoutePath sets explicit port/link routing segments for targets
// behind gateways or communication modules.
func WithRoutePath(path cip.Path) Option {
	return func(o *options) {
		o.routePath = path
	}
}

// WithoutConnection skips the Forward Open and stays on unconnected
// messaging. Some small devices refuse connected class 3 messaging.
func WithoutConnection() Option {
	return func(o *options) {
		o.skipForwardOpen = true
	}
}

// WithTimeout bounds every blocking exchange with the controller.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithPort dials a nonstandard TCP port instead of 44818.
func WithPort(port uint16) Option {
	return func(o *options) {
		o.port = port
	}
}

// Connect registers a session with the controller at address and tries
// to bring up connected messaging. A refused Forward Open degrades to
// unconnected messaging rather than failing the connect.
func Connect(address string, opts ...Option) (*Client, error) {
	var cfg options
	for _, opt := range opts {
		opt(&cfg)
	}

	var plc *PLC
	var err error
	if cfg.port != 0 {
		plc, err = NewPLCWithPort(address, cfg.port)
	} else {
		plc, err = NewPLC(address)
	}
	if err != nil {
		return nil, err
	}

	if cfg.timeout > 0 {
		if err := plc.Conn.SetTimeout(cfg.timeout); err != nil {
			plc.Close()
			return nil, err
		}
	}

	if len(cfg.routePath) > 0 {
		plc.SetRoutePath(cfg.routePath)
	} else if cfg.slot > 0 {
		plc.SetSlotRouting(cfg.slot)
	}

	if !cfg.skipForwardOpen {
		if err := plc.OpenConnection(); err != nil {
			logging.DebugLog("logix", "connect %s: forward open refused, staying unconnected: %v", address, err)
		}
	}

	return &Client{plc: plc}, nil
}

// Close releases the connection and session.
func (c *Client) Close() {
	if c == nil || c.plc == nil {
		return
	}
	c.plc.Close()
}

// PLC exposes the underlying session for protocol-level operations.
func (c *Client) PLC() *PLC {
	return c.plc
}

// IsConnected reports whether the client can exchange requests.
func (c *Client) IsConnected() bool {
	return c != nil && c.plc != nil && c.plc.IsConnected()
}

// ConnectionInfo reports whether connected messaging is active and the
// negotiated connection size; size is 0 when unconnected.
func (c *Client) ConnectionInfo() (connected bool, size uint16) {
	if c == nil || c.plc == nil {
		return false, 0
	}
	return c.plc.cipConn != nil, c.plc.ConnectedSize()
}

// ConnectionMode describes the messaging mode for status displays.
func (c *Client) ConnectionMode() string {
	if c == nil || c.plc == nil {
		return "Not connected"
	}
	if size := c.plc.ConnectedSize(); size > 0 {
		if size > cip.StandardConnectionSize {
			return fmt.Sprintf("Connected (Large Forward Open, %d bytes)", size)
		}
		return fmt.Sprintf("Connected (Forward Open, %d bytes)", size)
	}
	return "Unconnected messaging"
}

// Programs lists the controller's program names without the "Program:"
// prefix.
func (c *Client) Programs() ([]string, error) {
	if c == nil || c.plc == nil {
		return nil, fmt.Errorf("logix: nil client")
	}

	full, err := c.plc.ListPrograms()
	if err != nil {
		return nil, err
	}

	programs := make([]string, len(full))
	for i, name := range full {
		programs[i] = strings.TrimPrefix(name, "Program:")
	}
	return programs, nil
}

// ControllerTags lists the readable controller-scope tags.
func (c *Client) ControllerTags() ([]TagInfo, error) {
	if c == nil || c.plc == nil {
		return nil, fmt.Errorf("logix: nil client")
	}

	all, err := c.plc.ListTags()
	if err != nil {
		return nil, err
	}

	var data []TagInfo
	for _, t := range all {
		if t.IsReadable() {
			data = append(data, t)
		}
	}
	return data, nil
}

// ProgramTags lists the readable tags scoped to one program.
func (c *Client) ProgramTags(program string) ([]TagInfo, error) {
	if c == nil || c.plc == nil {
		return nil, fmt.Errorf("logix: nil client")
	}

	all, err := c.plc.ListProgramTags(program)
	if err != nil {
		return nil, err
	}

	var data []TagInfo
	for _, t := range all {
		if t.IsReadable() {
			data = append(data, t)
		}
	}
	return data, nil
}

// AllTags lists every readable tag, controller-scope and program-scope.
func (c *Client) AllTags() ([]TagInfo, error) {
	if c == nil || c.plc == nil {
		return nil, fmt.Errorf("logix: nil client")
	}
	return c.plc.ListDataTags()
}

// Read reads the named tags in Multiple Service Packet batches. Each
// result carries its own error; the call fails only when a whole batch
// cannot be exchanged.
func (c *Client) Read(tagNames ...string) ([]*TagValue, error) {
	if c == nil || c.plc == nil {
		return nil, fmt.Errorf("logix: nil client")
	}
	if len(tagNames) == 0 {
		return nil, nil
	}

	// Unconnected packets are small; keep batches conservative there.
	batch := 5
	if _, size := c.ConnectionInfo(); size > 0 {
		batch = 50
	}

	results := make([]*TagValue, 0, len(tagNames))
	for start := 0; start < len(tagNames); start += batch {
		end := start + batch
		if end > len(tagNames) {
			end = len(tagNames)
		}
		names := tagNames[start:end]

		values, err := c.plc.ReadMultiple(names)
		if err != nil {
			for _, name := range names {
				results = append(results, &TagValue{Name: name, Error: err})
			}
			continue
		}
		results = append(results, values...)
	}
	return results, nil
}

// ReadAll discovers every readable tag and reads them all.
func (c *Client) ReadAll() ([]*TagValue, error) {
	tags, err := c.AllTags()
	if err != nil {
		return nil, err
	}

	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return c.Read(names...)
}

// ReadTag reads one tag, following partial transfers until the value is
// complete.
func (c *Client) ReadTag(tag string) (*TagValue, error) {
	if c == nil || c.plc == nil {
		return nil, fmt.Errorf("logix: nil client")
	}
	t, err := c.plc.ReadTag(tag)
	if err != nil {
		return nil, err
	}
	return t.Value(), nil
}

// ReadBool reads a BOOL tag.
func (c *Client) ReadBool(tag string) (bool, error) {
	v, err := c.ReadTag(tag)
	if err != nil {
		return false, err
	}
	return v.Bool()
}

// ReadInt reads an INT tag.
func (c *Client) ReadInt(tag string) (int16, error) {
	v, err := c.ReadTag(tag)
	if err != nil {
		return 0, err
	}
	if BaseType(v.DataType) != TypeINT {
		return 0, &TypeMismatchError{Tag: tag, Want: "INT", Got: v.TypeName()}
	}
	n, err := v.Int()
	return int16(n), err
}

// ReadDint reads a DINT tag.
func (c *Client) ReadDint(tag string) (int32, error) {
	v, err := c.ReadTag(tag)
	if err != nil {
		return 0, err
	}
	if BaseType(v.DataType) != TypeDINT {
		return 0, &TypeMismatchError{Tag: tag, Want: "DINT", Got: v.TypeName()}
	}
	n, err := v.Int()
	return int32(n), err
}

// ReadReal reads a REAL tag.
func (c *Client) ReadReal(tag string) (float32, error) {
	v, err := c.ReadTag(tag)
	if err != nil {
		return 0, err
	}
	if BaseType(v.DataType) != TypeREAL {
		return 0, &TypeMismatchError{Tag: tag, Want: "REAL", Got: v.TypeName()}
	}
	f, err := v.Float()
	return float32(f), err
}

// ReadString reads a STRING tag.
func (c *Client) ReadString(tag string) (string, error) {
	v, err := c.ReadTag(tag)
	if err != nil {
		return "", err
	}
	return v.String()
}

// Write encodes a Go value and writes it to the named tag. The wire type
// follows the Go type: bool, the sized ints and uints, float32/float64
// and string map to their Logix counterparts, with plain int as DINT.
func (c *Client) Write(tag string, value interface{}) error {
	if c == nil || c.plc == nil {
		return fmt.Errorf("logix: nil client")
	}
	dataType, data, err := EncodeValue(value)
	if err != nil {
		return err
	}
	return c.plc.WriteTag(tag, dataType, data)
}

// WriteBytes writes pre-encoded bytes with an explicit type code. The
// HTTP and publisher write-back paths use it after ParseValue.
func (c *Client) WriteBytes(tag string, dataType uint16, data []byte) error {
	if c == nil || c.plc == nil {
		return fmt.Errorf("logix: nil client")
	}
	return c.plc.WriteTag(tag, dataType, data)
}

// WriteBool writes a BOOL tag; true goes out as 0xFF.
func (c *Client) WriteBool(tag string, val bool) error {
	return c.Write(tag, val)
}

// WriteInt writes a DINT tag.
func (c *Client) WriteInt(tag string, val int64) error {
	return c.Write(tag, int32(val))
}

// WriteFloat writes a REAL tag.
func (c *Client) WriteFloat(tag string, val float64) error {
	return c.Write(tag, float32(val))
}

// WriteString writes a STRING tag.
func (c *Client) WriteString(tag string, val string) error {
	return c.Write(tag, val)
}
