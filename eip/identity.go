package eip

// ListIdentity and ListServices, the session-less discovery commands.

import (
	"encoding/binary"
	"fmt"
	"net"
	"strings"
	"time"
)

// Identity is one parsed ListIdentity response item.
type Identity struct {
	EncapsulationVersion uint16
	VendorID             uint16
	DeviceType           uint16
	ProductCode          uint16
	RevisionMajor        byte
	RevisionMinor        byte
	Status               uint16
	SerialNumber         uint32
	ProductName          string
	State                byte

	IP   net.IP
	Port uint16
}

// ServiceCapability is one parsed ListServices response item. Targets
// advertise a "Communications" service whose flags state whether CIP
// explicit messaging is spoken on this connection.
type ServiceCapability struct {
	Name         string
	Version      uint16
	Capabilities uint16
}

// Capability flag bits in a ListServices reply.
const (
	CapabilityCipTCP      uint16 = 1 << 5 // CIP encapsulation over TCP
	CapabilityClass01UDP  uint16 = 1 << 8 // class 0/1 transport over UDP
)

// SupportsCip reports whether the service speaks CIP over this TCP
// connection.
func (s ServiceCapability) SupportsCip() bool {
	return s.Capabilities&CapabilityCipTCP != 0
}

// ListIdentityTCP asks the connected target to identify itself. This is
// not broadcast discovery; it runs over the established connection and
// needs no registered session.
func (e *Client) ListIdentityTCP() ([]Identity, error) {
	if e == nil {
		return nil, fmt.Errorf("ListIdentityTCP: nil client")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil, fmt.Errorf("ListIdentityTCP: %w", ErrSessionNotActive)
	}

	msg := Encapsulation{
		Command: CommandListIdentity,
		Context: e.nextContext(),
	}
	resp, err := e.transactEncap(msg)
	if err != nil {
		return nil, fmt.Errorf("ListIdentityTCP: %w", err)
	}
	if resp.Status != 0 {
		return nil, fmt.Errorf("ListIdentityTCP: encapsulation status=0x%08x", resp.Status)
	}

	// TCP replies usually carry 0.0.0.0 in the embedded socket address;
	// the caller knows which address it dialed.
	idents, err := parseIdentityItems(resp.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("ListIdentityTCP: %w", err)
	}
	return idents, nil
}

// ListServicesTCP asks the connected target which encapsulation services
// it offers.
func (e *Client) ListServicesTCP() ([]ServiceCapability, error) {
	if e == nil {
		return nil, fmt.Errorf("ListServicesTCP: nil client")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil, fmt.Errorf("ListServicesTCP: %w", ErrSessionNotActive)
	}

	msg := Encapsulation{
		Command: CommandListServices,
		Context: e.nextContext(),
	}
	resp, err := e.transactEncap(msg)
	if err != nil {
		return nil, fmt.Errorf("ListServicesTCP: %w", err)
	}
	if resp.Status != 0 {
		return nil, fmt.Errorf("ListServicesTCP: encapsulation status=0x%08x", resp.Status)
	}

	packet, err := ParseCommonPacket(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("ListServicesTCP: %w", err)
	}

	var out []ServiceCapability
	for _, item := range packet.Items {
		if item.TypeId != CpfListServicesResponseId {
			continue
		}
		svc, err := parseServiceItem(item.Data)
		if err != nil {
			return nil, fmt.Errorf("ListServicesTCP: %w", err)
		}
		out = append(out, svc)
	}
	return out, nil
}

// ListIdentityUDP broadcasts a ListIdentity request to port 44818 and
// collects replies until the timeout expires. broadcastIP may be the
// limited broadcast 255.255.255.255 or a directed one like 10.0.0.255.
// Duplicate answers (same address and serial) are dropped.
func ListIdentityUDP(broadcastIP string, timeout time.Duration) ([]Identity, error) {
	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return nil, fmt.Errorf("ListIdentityUDP: invalid broadcast address %q", broadcastIP)
	}
	if ip = ip.To4(); ip == nil {
		return nil, fmt.Errorf("ListIdentityUDP: broadcast address must be IPv4, got %q", broadcastIP)
	}

	uc, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("ListIdentityUDP: %w", err)
	}
	defer uc.Close()

	req := Encapsulation{Command: CommandListIdentity}
	if _, err := uc.WriteToUDP(req.Bytes(), &net.UDPAddr{IP: ip, Port: 44818}); err != nil {
		return nil, fmt.Errorf("ListIdentityUDP: %w", err)
	}

	if err := uc.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("ListIdentityUDP: %w", err)
	}

	type key struct {
		addr   string
		serial uint32
	}
	seen := make(map[key]struct{})
	var out []Identity

	buf := make([]byte, 4096)
	for {
		n, src, err := uc.ReadFromUDP(buf)
		if err != nil {
			// The deadline ends collection; anything else is a failure.
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return out, nil
			}
			return nil, fmt.Errorf("ListIdentityUDP: %w", err)
		}

		resp, err := ParseEncapsulation(buf[:n])
		if err != nil || resp.Command != CommandListIdentity || resp.Status != 0 {
			// Unrelated or malformed datagrams are ignored, not fatal.
			continue
		}

		idents, err := parseIdentityItems(resp.Data, src.IP)
		if err != nil {
			continue
		}
		for _, id := range idents {
			k := key{addr: id.IP.String(), serial: id.SerialNumber}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, id)
		}
	}
}

// parseIdentityItems extracts the identity items from a ListIdentity
// payload, filling in fallbackIP when the embedded socket address is
// zero.
func parseIdentityItems(payload []byte, fallbackIP net.IP) ([]Identity, error) {
	packet, err := ParseCommonPacket(payload)
	if err != nil {
		return nil, err
	}

	var out []Identity
	for _, item := range packet.Items {
		if item.TypeId != CpfListIdentityResponseId {
			continue
		}
		id, err := parseIdentityItem(item.Data)
		if err != nil {
			return nil, err
		}
		if id.IP == nil || id.IP.Equal(net.IPv4zero) {
			id.IP = fallbackIP
		}
		out = append(out, id)
	}
	return out, nil
}

// parseIdentityItem decodes one identity item: encapsulation version,
// a 16-byte socket address in network byte order, then the identity
// object attributes ending with the product name and state byte.
func parseIdentityItem(b []byte) (Identity, error) {
	// Fixed fields through the product name length occupy 33 bytes.
	if len(b) < 33 {
		return Identity{}, &FrameError{Reason: fmt.Sprintf("identity item truncated at %d bytes", len(b))}
	}

	id := Identity{
		EncapsulationVersion: binary.LittleEndian.Uint16(b[0:2]),
		Port:                 binary.BigEndian.Uint16(b[4:6]),
		IP:                   net.IPv4(b[6], b[7], b[8], b[9]),
		VendorID:             binary.LittleEndian.Uint16(b[18:20]),
		DeviceType:           binary.LittleEndian.Uint16(b[20:22]),
		ProductCode:          binary.LittleEndian.Uint16(b[22:24]),
		RevisionMajor:        b[24],
		RevisionMinor:        b[25],
		Status:               binary.LittleEndian.Uint16(b[26:28]),
		SerialNumber:         binary.LittleEndian.Uint32(b[28:32]),
	}

	nameLen := int(b[32])
	if 33+nameLen >= len(b) {
		return Identity{}, &FrameError{Reason: "identity item product name truncated"}
	}
	id.ProductName = string(b[33 : 33+nameLen])
	id.State = b[33+nameLen]

	return id, nil
}

// parseServiceItem decodes one ListServices item: version, capability
// flags, and a 16-byte NUL-padded service name.
func parseServiceItem(b []byte) (ServiceCapability, error) {
	if len(b) < 20 {
		return ServiceCapability{}, &FrameError{Reason: fmt.Sprintf("service item truncated at %d bytes", len(b))}
	}
	return ServiceCapability{
		Version:      binary.LittleEndian.Uint16(b[0:2]),
		Capabilities: binary.LittleEndian.Uint16(b[2:4]),
		Name:         strings.TrimRight(string(b[4:20]), "\x00"),
	}, nil
}
