// Package pcap extracts and summarizes EtherNet/IP traffic from packet
// capture files, for offline diagnosis of controller conversations.
package pcap

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	gopcap "github.com/google/gopacket/pcap"

	"taglink/eip"
	"taglink/logix"
)

// EtherNet/IP transport ports: 44818 explicit, 2222 implicit I/O.
const (
	PortExplicit uint16 = 44818
	PortImplicit uint16 = 2222
)

// Frame is one encapsulation frame recovered from a capture, with enough
// surrounding metadata to place it in the conversation.
type Frame struct {
	Command       uint16
	SessionHandle uint32
	Status        uint32
	Payload       []byte
	Raw           []byte // complete frame, header included

	Service       byte   // CIP service when the frame carries one, reply bit stripped
	IsReply       bool   // CIP reply bit was set
	GeneralStatus byte   // CIP general status on replies
	Description   string // e.g. "SendRRData request (Read Tag)"

	Timestamp time.Time
	Transport string // "tcp" or "udp"
	SrcIP     string
	DstIP     string
	SrcPort   uint16
	DstPort   uint16
}

// frameMeta carries per-packet capture metadata into the stream scanner.
type frameMeta struct {
	timestamp time.Time
	transport string
	srcIP     string
	dstIP     string
	srcPort   uint16
	dstPort   uint16
}

// ExtractFile reads a capture file and returns every EtherNet/IP frame
// found on the explicit and implicit ports. TCP payloads are reassembled
// per flow so frames split across segments still parse.
func ExtractFile(path string) ([]Frame, error) {
	handle, err := gopcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("pcap: open %s: %w", path, err)
	}
	defer handle.Close()

	var frames []Frame
	source := gopacket.NewPacketSource(handle, handle.LinkType())
	streams := make(map[string][]byte)

	for packet := range source.Packets() {
		meta := packetMeta(packet)

		if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
			tcp := tcpLayer.(*layers.TCP)
			if !enipPort(uint16(tcp.SrcPort), uint16(tcp.DstPort)) || len(tcp.Payload) == 0 {
				continue
			}
			meta.transport = "tcp"
			meta.srcPort = uint16(tcp.SrcPort)
			meta.dstPort = uint16(tcp.DstPort)

			key := flowKey(packet.NetworkLayer(), meta.srcPort, meta.dstPort)
			buf := append(streams[key], tcp.Payload...)
			parsed, remaining := scanStream(buf, meta)
			frames = append(frames, parsed...)
			streams[key] = remaining
			continue
		}

		if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
			udp := udpLayer.(*layers.UDP)
			if !enipPort(uint16(udp.SrcPort), uint16(udp.DstPort)) || len(udp.Payload) == 0 {
				continue
			}
			meta.transport = "udp"
			meta.srcPort = uint16(udp.SrcPort)
			meta.dstPort = uint16(udp.DstPort)

			// UDP frames are never split, so leftovers are garbage.
			parsed, _ := scanStream(udp.Payload, meta)
			frames = append(frames, parsed...)
		}
	}

	return frames, nil
}

// scanStream walks a reassembled byte stream extracting complete frames.
// A byte position only counts as a frame start when a known command and a
// plausible length follow; otherwise the scanner advances one byte, which
// resynchronizes after captures that begin mid-stream. Returns the frames
// found and the unconsumed tail (a frame still waiting for more segments).
func scanStream(buf []byte, meta frameMeta) ([]Frame, []byte) {
	var frames []Frame
	offset := 0

	for offset+eip.HeaderSize <= len(buf) {
		command := binary.LittleEndian.Uint16(buf[offset : offset+2])
		length := binary.LittleEndian.Uint16(buf[offset+2 : offset+4])
		if !eip.KnownCommand(command) || length > eip.MaxPayload {
			offset++
			continue
		}

		total := eip.HeaderSize + int(length)
		if offset+total > len(buf) {
			break // frame continues in the next segment
		}

		raw := make([]byte, total)
		copy(raw, buf[offset:offset+total])
		encap, err := eip.ParseEncapsulation(raw)
		if err != nil {
			offset++
			continue
		}

		frames = append(frames, describeFrame(encap, raw, meta))
		offset += total
	}

	if offset >= len(buf) {
		return frames, nil
	}
	remaining := make([]byte, len(buf)-offset)
	copy(remaining, buf[offset:])
	return frames, remaining
}

// describeFrame fills in the CIP-level fields for one parsed frame.
func describeFrame(encap *eip.Encapsulation, raw []byte, meta frameMeta) Frame {
	f := Frame{
		Command:       encap.Command,
		SessionHandle: encap.SessionHandle,
		Status:        encap.Status,
		Payload:       encap.Data,
		Raw:           raw,
		Timestamp:     meta.timestamp,
		Transport:     meta.transport,
		SrcIP:         meta.srcIP,
		DstIP:         meta.dstIP,
		SrcPort:       meta.srcPort,
		DstPort:       meta.dstPort,
	}

	desc := eip.CommandName(encap.Command)
	if cipData := cipPayload(encap); len(cipData) > 0 {
		f.Service = cipData[0] & 0x7F
		f.IsReply = cipData[0]&0x80 != 0
		dir := "request"
		if f.IsReply {
			dir = "reply"
			if len(cipData) >= 3 {
				f.GeneralStatus = cipData[2]
			}
		}
		desc = fmt.Sprintf("%s %s (%s)", desc, dir, ServiceName(f.Service))
	}
	f.Description = desc
	return f
}

// cipPayload unwraps the CIP message bytes from a SendRRData or
// SendUnitData frame, skipping the sequence count on connected data.
func cipPayload(encap *eip.Encapsulation) []byte {
	if encap.Command != eip.CommandSendRRData && encap.Command != eip.CommandSendUnitData {
		return nil
	}
	cmdData, err := eip.ParseCommandData(encap.Data)
	if err != nil {
		return nil
	}
	packet, err := eip.ParseCommonPacket(cmdData.Packet)
	if err != nil {
		return nil
	}
	if item := packet.ItemByType(eip.CpfUnconnectedDataId); item != nil {
		return item.Data
	}
	if item := packet.ItemByType(eip.CpfConnectedDataId); item != nil {
		if len(item.Data) < 2 {
			return nil
		}
		return item.Data[2:] // sequence count precedes the message
	}
	return nil
}

// ServiceName returns a readable label for the CIP services this tool
// speaks. Codes outside that set render as hex.
func ServiceName(code byte) string {
	switch code {
	case logix.ServiceGetAttributeSingle:
		return "Get Attribute Single"
	case logix.ServiceNop:
		return "NOP"
	case logix.ServiceReadTag:
		return "Read Tag"
	case logix.ServiceWriteTag:
		return "Write Tag"
	case logix.ServiceReadModifyWriteTag:
		return "Read Modify Write Tag"
	case logix.ServiceReadTagFragmented:
		return "Read Tag Fragmented"
	case logix.ServiceWriteTagFragmented:
		return "Write Tag Fragmented"
	case logix.ServiceGetInstanceAttrList:
		return "Get Instance Attribute List"
	case 0x0A:
		return "Multiple Service Packet"
	case 0x54:
		return "Forward Open"
	case 0x5B:
		return "Large Forward Open"
	case 0x4E:
		return "Forward Close"
	}
	return fmt.Sprintf("Service 0x%02X", code)
}

func enipPort(src, dst uint16) bool {
	return src == PortExplicit || dst == PortExplicit || src == PortImplicit || dst == PortImplicit
}

func flowKey(netLayer gopacket.NetworkLayer, srcPort, dstPort uint16) string {
	if netLayer != nil {
		src, dst := netLayer.NetworkFlow().Endpoints()
		return fmt.Sprintf("%s:%d->%s:%d", src, srcPort, dst, dstPort)
	}
	return fmt.Sprintf("?:%d->?:%d", srcPort, dstPort)
}

func packetMeta(packet gopacket.Packet) frameMeta {
	meta := frameMeta{}
	if md := packet.Metadata(); md != nil {
		meta.timestamp = md.Timestamp
	}
	if netLayer := packet.NetworkLayer(); netLayer != nil {
		src, dst := netLayer.NetworkFlow().Endpoints()
		meta.srcIP = src.String()
		meta.dstIP = dst.String()
	}
	return meta
}
