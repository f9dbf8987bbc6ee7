package logix

import (
	"fmt"
	"net"
	"time"

	"taglink/eip"
)

// DeviceInfo describes one EtherNet/IP device found by discovery or an
// identity query.
type DeviceInfo struct {
	IP          net.IP
	Port        uint16
	VendorID    uint16
	DeviceType  uint16
	ProductCode uint16
	Revision    string // firmware major.minor, e.g. "32.11"
	Serial      uint32
	ProductName string // e.g. "1756-L83E/B"
	Status      uint16
}

// VendorName returns a readable name for common vendor IDs.
func (d *DeviceInfo) VendorName() string {
	switch d.VendorID {
	case 1:
		return "Rockwell Automation"
	case 2:
		return "Schneider Electric"
	case 5:
		return "Omron"
	case 26:
		return "Turck"
	case 40:
		return "Molex"
	case 50:
		return "SICK"
	case 88:
		return "Cognex"
	default:
		return fmt.Sprintf("Vendor %d", d.VendorID)
	}
}

// DeviceTypeName returns a readable name for the CIP device profile code.
func (d *DeviceInfo) DeviceTypeName() string {
	switch d.DeviceType {
	case 0x00:
		return "Generic Device"
	case 0x02:
		return "AC Drive"
	case 0x07:
		return "General Purpose Discrete I/O"
	case 0x0C:
		return "Communications Adapter"
	case 0x0E:
		return "Programmable Logic Controller"
	case 0x10:
		return "Position Controller"
	case 0x25:
		return "Encoder"
	case 0x26:
		return "Safety Discrete I/O Device"
	case 0x29:
		return "CIP Motion Drive"
	case 0x2E:
		return "Safety Analog I/O Device"
	case 0x2F:
		return "Generic Device (keyable)"
	case 0x30:
		return "Managed Ethernet Switch"
	case 0x32:
		return "Safety Drive"
	case 0x33:
		return "CIP Motion Encoder"
	case 0x35:
		return "CIP Motion I/O"
	default:
		return fmt.Sprintf("Device Type 0x%02X", d.DeviceType)
	}
}

func (d *DeviceInfo) String() string {
	return fmt.Sprintf("%s (%s) at %s - %s v%s [SN: %d]",
		d.ProductName, d.DeviceTypeName(), d.IP, d.VendorName(), d.Revision, d.Serial)
}

// Discover broadcasts a ListIdentity request and reports every device
// that answers within the timeout. broadcastAddr may be the limited
// broadcast 255.255.255.255 (the default when empty) or a directed one
// like 192.168.1.255. Devices behind routers that drop broadcasts will
// not answer; query those directly with GetIdentity.
func Discover(broadcastAddr string, timeout time.Duration) ([]DeviceInfo, error) {
	if broadcastAddr == "" {
		broadcastAddr = "255.255.255.255"
	}
	if timeout <= 0 {
		timeout = time.Second
	}

	identities, err := eip.ListIdentityUDP(broadcastAddr, timeout)
	if err != nil {
		return nil, fmt.Errorf("logix: discover: %w", err)
	}

	devices := make([]DeviceInfo, len(identities))
	for i, id := range identities {
		devices[i] = identityToDeviceInfo(id)
	}
	return devices, nil
}

// DiscoverSubnet runs Discover against the broadcast address of the
// given CIDR, e.g. "192.168.1.0/24".
func DiscoverSubnet(cidr string, timeout time.Duration) ([]DeviceInfo, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("logix: discover subnet: invalid CIDR %q: %w", cidr, err)
	}

	broadcast := make(net.IP, len(ipnet.IP))
	for i := range ipnet.IP {
		broadcast[i] = ipnet.IP[i] | ^ipnet.Mask[i]
	}

	return Discover(broadcast.String(), timeout)
}

// GetIdentity asks one address for its identity over TCP. This reaches
// devices that UDP broadcast cannot, across subnets or through
// firewalls.
func GetIdentity(addr string) (*DeviceInfo, error) {
	if addr == "" {
		return nil, fmt.Errorf("logix: identity: empty address")
	}

	conn := eip.NewClient(addr)
	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("logix: identity: %w", err)
	}
	defer conn.Disconnect()

	return identityOver(conn, addr)
}

// Identity returns the identity of the controller this client is
// connected to.
func (c *Client) Identity() (*DeviceInfo, error) {
	if c == nil || c.plc == nil || c.plc.Conn == nil {
		return nil, fmt.Errorf("logix: identity: not connected")
	}
	return identityOver(c.plc.Conn, c.plc.Addr)
}

// Services returns the encapsulation services the connected controller
// advertises. Useful when diagnosing a device that registers sessions
// but rejects CIP requests.
func (c *Client) Services() ([]eip.ServiceCapability, error) {
	if c == nil || c.plc == nil || c.plc.Conn == nil {
		return nil, fmt.Errorf("logix: services: not connected")
	}
	svcs, err := c.plc.Conn.ListServicesTCP()
	if err != nil {
		return nil, fmt.Errorf("logix: services: %w", err)
	}
	return svcs, nil
}

func identityOver(conn *eip.Client, addr string) (*DeviceInfo, error) {
	identities, err := conn.ListIdentityTCP()
	if err != nil {
		return nil, fmt.Errorf("logix: identity: %w", err)
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("logix: identity: no identity returned")
	}

	device := identityToDeviceInfo(identities[0])

	// TCP replies usually leave the socket address zeroed; fall back to
	// the address we dialed.
	if device.IP == nil || device.IP.Equal(net.IPv4zero) {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			device.IP = net.ParseIP(host)
		} else {
			device.IP = net.ParseIP(addr)
		}
	}
	return &device, nil
}

func identityToDeviceInfo(id eip.Identity) DeviceInfo {
	return DeviceInfo{
		IP:          id.IP,
		Port:        id.Port,
		VendorID:    id.VendorID,
		DeviceType:  id.DeviceType,
		ProductCode: id.ProductCode,
		Revision:    fmt.Sprintf("%d.%d", id.RevisionMajor, id.RevisionMinor),
		Serial:      id.SerialNumber,
		ProductName: id.ProductName,
		Status:      id.Status,
	}
}
