package eip

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"taglink/logging"
)

// SessionState tracks where a client is in the session lifecycle.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateRegistering
	StateActive
	StateClosing
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateRegistering:
		return "registering"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// Client owns one TCP connection and at most one registered session on it.
// All transactions are serialized through the mutex; the controller sees
// one outstanding request at a time.
type Client struct {
	ipAddr   string
	port     uint16
	conn     net.Conn
	session  uint32
	state    SessionState
	timeout  time.Duration
	ctxNonce [4]byte
	ctxSeq   uint32
	mu       sync.Mutex
}

func (e *Client) GetAddr() string {
	if e == nil {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ipAddr
}

func (e *Client) GetTimeout() time.Duration {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeout
}

func (e *Client) GetSession() uint32 {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// State reports the current session lifecycle state.
func (e *Client) State() SessionState {
	if e == nil {
		return StateDisconnected
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Client) SetTimeout(dur time.Duration) error {
	if e == nil {
		return fmt.Errorf("SetTimeout: nil client")
	}
	e.mu.Lock()
	e.timeout = dur
	e.mu.Unlock()
	return nil
}

func (e *Client) IsConnected() bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateActive
}

// Typically EIP uses the default port of 44818.
func NewClient(ipaddr string) *Client {
	return NewClientWithPort(ipaddr, 44818)
}

// Allow for custom ports if needed.
func NewClientWithPort(ipaddr string, port uint16) *Client {
	c := &Client{
		ipAddr:  ipaddr,
		port:    port,
		conn:    nil,
		session: 0,
		state:   StateDisconnected,
		timeout: time.Second * 5, // 5 seconds matches pylogix default
	}
	if _, err := rand.Read(c.ctxNonce[:]); err != nil {
		binary.LittleEndian.PutUint32(c.ctxNonce[:], uint32(time.Now().UnixNano()))
	}
	return c
}

// nextContext returns a sender context no prior transaction on this client
// has used: a per-client nonce plus a sequence number. Callers must hold mu.
func (e *Client) nextContext() [8]byte {
	var ctx [8]byte
	copy(ctx[:4], e.ctxNonce[:])
	e.ctxSeq++
	binary.LittleEndian.PutUint32(ctx[4:], e.ctxSeq)
	return ctx
}

// Connect over EIP and register a session.
func (e *Client) Connect() error {
	if e == nil {
		return fmt.Errorf("Connect: Received nil client.")
	}

	e.mu.Lock()
	// Build the connection string.
	connString := e.ipAddr + ":" + strconv.Itoa(int(e.port))
	timeout := e.timeout
	e.mu.Unlock()

	logging.DebugConnect("eip", connString)

	// Dial with timeout.
	d := net.Dialer{Timeout: timeout}
	conn, err := d.Dial("tcp", connString)
	if err != nil {
		logging.DebugConnectError("eip", connString, err)
		return fmt.Errorf("Connect: %w", classifyNetErr(err))
	}

	logging.DebugLog("eip", "TCP connection established to %s", connString)

	// Set up a keep-alive.
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}

	var oldConn net.Conn

	e.mu.Lock()
	oldConn = e.conn
	oldSession := e.session
	oldState := e.state

	e.conn = conn
	e.session = 0
	e.state = StateRegistering

	session, err := e.registerSession()
	if err != nil {
		e.conn = oldConn
		e.session = oldSession
		e.state = oldState
		e.mu.Unlock()
		_ = conn.Close()
		logging.DebugError("eip", "RegisterSession", err)
		return fmt.Errorf("Connect: failed to register session. %w", err)
	}

	e.session = session
	e.state = StateActive
	e.mu.Unlock()

	logging.DebugConnectSuccess("eip", connString, fmt.Sprintf("session=0x%08X", session))

	if oldConn != nil {
		_ = oldConn.Close()
	}
	return nil
}

// Disconnect cleanly.
func (e *Client) Disconnect() error {

	// Treat nil client as a no-operation (no error).
	if e == nil {
		return nil
	}

	// Lock the socket
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		e.session = 0
		e.state = StateDisconnected
		return nil
	}

	logging.DebugDisconnect("eip", e.ipAddr, "client disconnect requested")
	e.state = StateClosing

	// Best-effort to unregister existing session.
	if e.session != 0 {
		err := e.unRegisterSession()
		e.state = StateDisconnected
		return err
	}

	err := e.conn.Close()
	e.conn = nil
	e.session = 0
	e.state = StateDisconnected

	return err
}

// Register a session with the controller. The reply must carry
// encapsulation status 0, a protocol version we speak, and a nonzero
// session handle; anything else aborts the connect.
func (e *Client) registerSession() (uint32, error) {

	if e == nil || e.conn == nil {
		return 0, fmt.Errorf("RegisterSession: %w", ErrSessionNotActive)
	}

	msg := Encapsulation{
		Command:       CommandRegisterSession,
		SessionHandle: 0,
		Context:       e.nextContext(),
		Data:          []byte{1, 0, 0, 0}, // protocol version 1, options 0
	}

	// Session is registered in EIP by sending command 0x65.
	resp, err := e.transactEncap(msg)
	if err != nil {
		return 0, fmt.Errorf("RegisterSession: failed transaction: %w", err)
	}

	// The PLC may throw a response error, check to make sure it's set to 0.
	if resp.Status != 0 {
		return 0, &RegistrationError{Status: resp.Status}
	}

	// The reply echoes the protocol version the controller will speak.
	if len(resp.Data) >= 2 {
		version := binary.LittleEndian.Uint16(resp.Data[:2])
		if version != ProtocolVersion {
			return 0, &VersionError{Got: version, Want: ProtocolVersion}
		}
	}

	// If we didn't get a session for some reason, this failed.
	if resp.SessionHandle == 0 {
		return 0, &RegistrationError{Status: 0}
	}

	return resp.SessionHandle, nil
}

// De-Register a session with the controller. Callers must hold mu.
func (e *Client) unRegisterSession() (err error) {

	// Guard against nil pointer, treat at no-operation if received.
	if e == nil || e.conn == nil {
		return nil
	}

	// If a session isn't set, no-operation.
	if e.session == 0 {
		return nil
	}

	// EthernetIP De-Register session message.
	msg := Encapsulation{
		Command:       CommandUnRegisterSession,
		SessionHandle: e.session,
		Context:       e.nextContext(),
		Data:          []byte{},
	}

	// Prevent hanging forever on a bad connection.
	_ = e.conn.SetWriteDeadline(time.Now().Add(e.timeout))
	defer e.conn.SetWriteDeadline(time.Time{})

	// Send the message, ignore any errors since the client may be closing already.
	err = e.sendEncap(msg)

	e.session = 0
	e.conn.Close()
	e.conn = nil

	// Success
	return err
}

// Atomic transaction: send one frame, read one frame, verify the reply
// belongs to this request by its echoed sender context.
func (e *Client) transactEncap(msg Encapsulation) (*Encapsulation, error) {
	if e == nil {
		return nil, fmt.Errorf("transactEncap: received nil client.")
	}

	if e.conn == nil {
		return nil, fmt.Errorf("transactEncap: %w", ErrSessionNotActive)
	}

	// Avoid hanging forever on write.
	_ = e.conn.SetWriteDeadline(time.Now().Add(e.timeout))
	defer e.conn.SetWriteDeadline(time.Time{})
	err := e.sendEncap(msg)
	if err != nil {
		return nil, fmt.Errorf("transactEncap: failed to send message.  %w", err)
	}

	// Avoid hanging forever on read.
	_ = e.conn.SetReadDeadline(time.Now().Add(e.timeout))
	defer e.conn.SetReadDeadline(time.Time{})
	resp, err := e.recvEncap()
	if err != nil {
		return nil, fmt.Errorf("transactEncap: failed to read response.  %w", err)
	}

	// The controller echoes the sender context verbatim. A mismatch means
	// this frame answers some other request; the stream is not trustworthy.
	if resp.Context != msg.Context {
		logging.DebugLog("eip", "RX context mismatch: sent %X, got %X", msg.Context, resp.Context)
		return nil, &FrameError{Reason: fmt.Sprintf("sender context mismatch: sent %X, got %X", msg.Context, resp.Context)}
	}

	return resp, nil
}

// Send an EIP Encapsulated message. Callers must hold mu.
func (e *Client) sendEncap(msg Encapsulation) error {
	if e == nil || e.conn == nil {
		return ErrSessionNotActive
	}
	data := msg.Bytes()
	logging.DebugTX("eip", data)
	_, err := e.conn.Write(data)
	if err != nil {
		logging.DebugError("eip", "sendEncap write", err)
		return classifyNetErr(err)
	}
	return nil
}

// Receives an EIP Encapsulated message. Callers must hold mu.
func (e *Client) recvEncap() (*Encapsulation, error) {
	if e == nil || e.conn == nil {
		return nil, ErrSessionNotActive
	}
	// Read the response encapsulation header.
	header := make([]byte, HeaderSize)
	_, err := io.ReadFull(e.conn, header)
	if err != nil {
		logging.DebugError("eip", "recvEncap read header", err)
		return nil, fmt.Errorf("recvEncap: reading header: %w", classifyNetErr(err))
	}

	// Get the payload length before committing to the read.
	payloadLength := binary.LittleEndian.Uint16(header[2:4])
	if payloadLength > MaxPayload {
		logging.DebugLog("eip", "RX excessive payload length: %d", payloadLength)
		return nil, &FrameError{Reason: fmt.Sprintf("declared payload %d exceeds maximum %d", payloadLength, MaxPayload)}
	}

	// Read the encap data payload.
	payload := make([]byte, payloadLength)
	_, err = io.ReadFull(e.conn, payload)
	if err != nil {
		logging.DebugError("eip", "recvEncap read payload", err)
		return nil, fmt.Errorf("recvEncap: reading payload: %w", classifyNetErr(err))
	}

	// Log the complete received packet
	fullPacket := append(header, payload...)
	logging.DebugRX("eip", fullPacket)

	resp, err := ParseEncapsulation(fullPacket)
	if err != nil {
		return nil, err
	}

	// Session handle validation:
	// - Session 0 in response is always valid (used by ListIdentity, etc.)
	// - Otherwise, response session must match our session
	if resp.SessionHandle != 0 && e.session != 0 && resp.SessionHandle != e.session {
		logging.DebugLog("eip", "RX session mismatch: expected 0x%08X, got 0x%08X", e.session, resp.SessionHandle)
		return nil, &FrameError{Reason: fmt.Sprintf("session mismatch: need 0x%08X, got 0x%08X", e.session, resp.SessionHandle)}
	}

	// A command we don't speak is surfaced, not silently dropped.
	if !KnownCommand(resp.Command) {
		logging.DebugLog("eip", "RX unsupported command 0x%04X", resp.Command)
		return resp, &CommandError{Command: resp.Command}
	}

	return resp, nil
}

// Send an unconnected explicit message over TCP.
// Requires a TCP connection and a non-zero session handle (RegisterSession).
func (e *Client) SendRRData(packet CommonPacket) (*CommonPacket, error) {
	if e == nil {
		return nil, fmt.Errorf("SendRRData: Received nil client.")
	}

	// Force atomic transaction
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil || e.session == 0 || e.state != StateActive {
		return nil, fmt.Errorf("SendRRData: %w", ErrSessionNotActive)
	}

	// Get the byte slice for the CommonPacket.
	packetBytes := packet.Bytes()
	if len(packetBytes) == 0 {
		return nil, fmt.Errorf("SendRRData: Conversion to bytes resulted in empty CIP request")
	}

	// Wrap in RRData
	rrdata := CommandData{
		InterfaceHandle: 0,
		Timeout:         0,
		Packet:          packetBytes,
	}

	rrdataBytes := rrdata.Bytes()

	// Wrap in Ethernet/IP Encapsulation
	req := Encapsulation{
		Command:       CommandSendRRData,
		SessionHandle: e.session,
		Context:       e.nextContext(),
		Data:          rrdataBytes,
	}

	// Transmit the Ethernet/IP frame.
	resp, err := e.transactEncap(req)
	if err != nil {
		return nil, fmt.Errorf("SendRRData: failed to transact packet. %w", err)
	}
	if resp.Status != 0 {
		return nil, fmt.Errorf("SendRRData: encapsulation status=0x%08x", resp.Status)
	}

	// Parse the response into CommandData.
	cdata, err := ParseCommandData(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("SendRRData: %w", err)
	}

	// Parse the packet into a CommonPacket format.
	cpacket, err := ParseCommonPacket(cdata.Packet)
	if err != nil {
		return nil, fmt.Errorf("SendRRData: %w", err)
	}

	// Return the parsed items to be interpreted by the CIP library.
	return cpacket, nil

}

// Send a connected explicit message over TCP without waiting for a reply.
// Requires a TCP connection and a non-zero session handle (RegisterSession).
func (e *Client) SendUnitData(packet CommonPacket) error {
	if e == nil {
		return fmt.Errorf("SendUnitData: Received nil client.")
	}

	// Force atomic transaction
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil || e.session == 0 || e.state != StateActive {
		return fmt.Errorf("SendUnitData: %w", ErrSessionNotActive)
	}

	// Get the byte slice for the CommonPacket.
	packetBytes := packet.Bytes()
	if len(packetBytes) == 0 {
		return fmt.Errorf("SendUnitData: Conversion to bytes resulted in empty CIP request")
	}

	// Wrap in CommandData
	cmd := CommandData{
		InterfaceHandle: 0,
		Timeout:         0,
		Packet:          packetBytes,
	}

	cmdBytes := cmd.Bytes()

	// Wrap in Ethernet/IP Encapsulation
	req := Encapsulation{
		Command:       CommandSendUnitData,
		SessionHandle: e.session,
		Context:       e.nextContext(),
		Data:          cmdBytes,
	}

	// Prevent hanging forever.
	_ = e.conn.SetWriteDeadline(time.Now().Add(e.timeout))
	defer e.conn.SetWriteDeadline(time.Time{})

	err := e.sendEncap(req)
	if err != nil {
		return fmt.Errorf("SendUnitData: failed to transmit packet. %w", err)
	}
	return nil
}

// SendUnitDataTransaction sends a connected explicit message and waits for
// the response. This is the connected messaging equivalent of SendRRData.
func (e *Client) SendUnitDataTransaction(packet CommonPacket) (*CommonPacket, error) {
	if e == nil {
		return nil, fmt.Errorf("SendUnitDataTransaction: nil client")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil || e.session == 0 || e.state != StateActive {
		return nil, fmt.Errorf("SendUnitDataTransaction: %w", ErrSessionNotActive)
	}

	packetBytes := packet.Bytes()
	if len(packetBytes) == 0 {
		return nil, fmt.Errorf("SendUnitDataTransaction: empty packet")
	}

	cmd := CommandData{
		InterfaceHandle: 0,
		Timeout:         0,
		Packet:          packetBytes,
	}
	cmdBytes := cmd.Bytes()

	req := Encapsulation{
		Command:       CommandSendUnitData,
		SessionHandle: e.session,
		Context:       e.nextContext(),
		Data:          cmdBytes,
	}

	resp, err := e.transactEncap(req)
	if err != nil {
		return nil, fmt.Errorf("SendUnitDataTransaction: %w", err)
	}
	if resp.Status != 0 {
		return nil, fmt.Errorf("SendUnitDataTransaction: status=0x%08x", resp.Status)
	}

	cdata, err := ParseCommandData(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("SendUnitDataTransaction: %w", err)
	}

	cpacket, err := ParseCommonPacket(cdata.Packet)
	if err != nil {
		return nil, fmt.Errorf("SendUnitDataTransaction: %w", err)
	}

	return cpacket, nil
}

// Implements the EIP No-Op command (0x00).
// Can be used to validate the connection is still open. The controller
// never answers a NOP, so success only means the write went through.
func (e *Client) SendNop() error {
	if e == nil {
		return fmt.Errorf("SendNop: Received nil client.")
	}

	// Force atomic transaction
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return fmt.Errorf("SendNop: %w", ErrSessionNotActive)
	}

	msg := Encapsulation{
		Command:       CommandNop,
		SessionHandle: e.session,
		Context:       [8]byte{}, // NOP is never answered, nothing to correlate
		Data:          nil,
	}

	// Prevent hanging forever.
	_ = e.conn.SetWriteDeadline(time.Now().Add(e.timeout))
	defer e.conn.SetWriteDeadline(time.Time{})

	err := e.sendEncap(msg)
	if err != nil {
		return fmt.Errorf("SendNop: failed to transmit message.  %w", err)
	}

	return nil
}
