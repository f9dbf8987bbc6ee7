package cip

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Segment type markers (high bits of the first segment byte).
const (
	segPort         byte = 0x00
	segExtendedLink byte = 0x10 // port segment carries a multi-byte link address
	segLogical      byte = 0x20
	segSymbolic     byte = 0x91 // ANSI extended symbolic, full byte
)

// Logical segment types (bits 4..2).
const (
	logicalClass     byte = 0x00
	logicalInstance  byte = 0x04
	logicalMember    byte = 0x08
	logicalAttribute byte = 0x10
)

// Logical segment formats (bits 1..0).
const (
	format8  byte = 0x00
	format16 byte = 0x01
	format32 byte = 0x02
)

// MaxSymbolLen is the longest name a symbolic segment can carry; the
// segment length field is a single byte.
const MaxSymbolLen = 255

// Path is an encoded CIP EPath: a sequence of port, logical, and symbolic
// segments. Built paths are padded to an even byte count so the word-count
// field in requests never truncates.
type Path []byte

// WordCount returns the path length in 16-bit words, as carried in the
// path-size byte of a request.
func (p Path) WordCount() byte {
	return byte(len(p) / 2)
}

// String renders the path for diagnostics: decoded text when the path
// parses, raw hex otherwise.
func (p Path) String() string {
	if s, err := ParsePath(p); err == nil {
		return s
	}
	return fmt.Sprintf("% X", []byte(p))
}

// PathBuilder assembles an EPath segment by segment. The first error
// sticks; Build reports it and later calls are no-ops.
type PathBuilder struct {
	err  error
	path Path
}

// EPath starts a fluent path build:
//
//	p, err := cip.EPath().Class(0x6B).Instance(1).Build()
func EPath() *PathBuilder {
	return &PathBuilder{}
}

func (b *PathBuilder) add(seg []byte, err error) *PathBuilder {
	if b.err != nil {
		return b
	}
	if err != nil {
		b.err = err
		return b
	}
	b.path = append(b.path, seg...)
	return b
}

// Class appends a class logical segment, using the 8-bit form when the ID
// fits and the padded 16-bit form otherwise.
func (b *PathBuilder) Class(id uint16) *PathBuilder {
	return b.add(logicalSegment(logicalClass, id))
}

// Instance appends an instance logical segment in the smallest of the
// 8/16/32-bit encodings that holds the ID. Symbol instances run past 64k
// on large controllers, hence the 32-bit form.
func (b *PathBuilder) Instance(id uint32) *PathBuilder {
	return b.add(logicalSegment32(logicalInstance, id))
}

// Attribute appends an attribute logical segment.
func (b *PathBuilder) Attribute(id uint16) *PathBuilder {
	return b.add(logicalSegment(logicalAttribute, id))
}

// Member appends a member/element logical segment. Array indices in tag
// paths encode this way.
func (b *PathBuilder) Member(index uint32) *PathBuilder {
	return b.add(memberSegment(index))
}

// Port appends a port segment with a one-byte link address, e.g.
// Port(1, slot) to cross a ControlLogix backplane.
func (b *PathBuilder) Port(port byte, link byte) *PathBuilder {
	if port >= 15 {
		return b.add(nil, &PathError{Reason: fmt.Sprintf("port %d needs the extended port encoding", port)})
	}
	return b.add([]byte{segPort | port, link}, nil)
}

// Raw appends pre-encoded path bytes, for route paths taken from
// configuration.
func (b *PathBuilder) Raw(seg []byte) *PathBuilder {
	return b.add(seg, nil)
}

// ParseRoutePath decodes the textual route syntax used in configuration:
// comma-separated port,link pairs, "1,0" for the backplane CPU in slot 0
// or "1,3,2,192.168.1.12" hopping through an Ethernet module in slot 3.
// A numeric link is a one-byte address; anything else travels as an
// extended link address (an IP, typically).
func ParseRoutePath(s string) (Path, error) {
	fields := strings.Split(s, ",")
	if len(fields)%2 != 0 {
		return nil, &PathError{Reason: fmt.Sprintf("route %q: ports and links come in pairs", s)}
	}

	b := EPath()
	for i := 0; i < len(fields); i += 2 {
		portText := strings.TrimSpace(fields[i])
		link := strings.TrimSpace(fields[i+1])

		port, err := strconv.ParseUint(portText, 10, 8)
		if err != nil || port == 0 || port >= 15 {
			return nil, &PathError{Reason: fmt.Sprintf("route %q: bad port %q", s, portText)}
		}

		if n, err := strconv.ParseUint(link, 10, 8); err == nil {
			b = b.Port(byte(port), byte(n))
		} else {
			b = b.add(extendedLinkSegment(byte(port), link))
		}
	}
	return b.Build()
}

// extendedLinkSegment encodes a port segment whose link address is a
// string: the extended-link flag, the address length, then the address
// bytes padded to an even count.
func extendedLinkSegment(port byte, link string) ([]byte, error) {
	if link == "" || len(link) > 255 {
		return nil, &PathError{Reason: fmt.Sprintf("bad link address %q", link)}
	}
	seg := []byte{segPort | segExtendedLink | port, byte(len(link))}
	seg = append(seg, link...)
	if len(seg)%2 != 0 {
		seg = append(seg, 0x00)
	}
	return seg, nil
}

// Symbol appends one ANSI extended symbolic segment carrying name
// verbatim. A colon stays inside the segment ("Program:Main" is a single
// symbol); use Tag for dotted paths.
func (b *PathBuilder) Symbol(name string) *PathBuilder {
	return b.add(symbolicSegment(name))
}

// Tag appends the segments for a full tag path. Dots separate member
// symbols and brackets carry array indices, so
// "Program:Main.Counters[5].ACC" becomes three symbolic segments with a
// member segment after the second.
func (b *PathBuilder) Tag(tag string) *PathBuilder {
	if b.err != nil {
		return b
	}
	parts, err := splitTagPath(tag)
	if err != nil {
		b.err = err
		return b
	}
	for _, part := range parts {
		if part.isIndex {
			b = b.add(memberSegment(part.index))
		} else {
			b = b.add(symbolicSegment(part.name))
		}
	}
	return b
}

// Build finishes the path, appending a trailing pad byte when the
// segments total an odd byte count. The returned slice is a copy, so the
// builder can keep accepting segments.
func (b *PathBuilder) Build() (Path, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := append(Path{}, b.path...)
	if len(out)%2 != 0 {
		out = append(out, 0x00)
	}
	return out, nil
}

// logicalSegment encodes a class/attribute segment with automatic
// 8-vs-16-bit width. The 16-bit form carries an internal pad byte for
// word alignment per ODVA 1.4.
func logicalSegment(logicalType byte, id uint16) ([]byte, error) {
	if id <= 0xFF {
		return []byte{segLogical | logicalType | format8, byte(id)}, nil
	}
	out := []byte{segLogical | logicalType | format16, 0x00}
	return binary.LittleEndian.AppendUint16(out, id), nil
}

// logicalSegment32 extends logicalSegment with the padded 32-bit form.
func logicalSegment32(logicalType byte, id uint32) ([]byte, error) {
	if id <= 0xFFFF {
		return logicalSegment(logicalType, uint16(id))
	}
	out := []byte{segLogical | logicalType | format32, 0x00}
	return binary.LittleEndian.AppendUint32(out, id), nil
}

// memberSegment encodes an array-index segment in the smallest format.
func memberSegment(index uint32) ([]byte, error) {
	switch {
	case index <= 0xFF:
		return []byte{segLogical | logicalMember | format8, byte(index)}, nil
	case index <= 0xFFFF:
		out := []byte{segLogical | logicalMember | format16, 0x00}
		return binary.LittleEndian.AppendUint16(out, uint16(index)), nil
	default:
		out := []byte{segLogical | logicalMember | format32, 0x00}
		return binary.LittleEndian.AppendUint32(out, index), nil
	}
}

// symbolicSegment encodes one ANSI extended symbolic segment:
// 0x91, length, ASCII bytes, pad byte when the name length is odd.
func symbolicSegment(name string) ([]byte, error) {
	if name == "" {
		return nil, &PathError{Reason: "empty symbol segment"}
	}
	if len(name) > MaxSymbolLen {
		return nil, &PathError{Path: name, Reason: fmt.Sprintf("symbol exceeds %d bytes", MaxSymbolLen)}
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x21 || name[i] > 0x7E {
			return nil, &PathError{Path: name, Reason: fmt.Sprintf("non-ASCII byte 0x%02X at offset %d", name[i], i)}
		}
	}
	out := make([]byte, 0, 2+len(name)+1)
	out = append(out, segSymbolic, byte(len(name)))
	out = append(out, name...)
	if len(out)%2 != 0 {
		out = append(out, 0x00)
	}
	return out, nil
}

// tagPart is one component of a textual tag path: a symbol or an index.
type tagPart struct {
	name    string
	index   uint32
	isIndex bool
}

// splitTagPath parses "Program:Main.Counters[5].ACC" into parts. Dots
// separate symbols, brackets carry a decimal index, colons bind to their
// symbol. Malformed input fails with *PathError.
func splitTagPath(tag string) ([]tagPart, error) {
	if tag == "" {
		return nil, &PathError{Reason: "empty tag name"}
	}

	var parts []tagPart
	start := 0
	afterIndex := false

	flush := func(end int) error {
		name := tag[start:end]
		if name == "" {
			if afterIndex {
				return nil
			}
			return &PathError{Path: tag, Reason: "empty path segment"}
		}
		parts = append(parts, tagPart{name: name})
		return nil
	}

	for i := 0; i < len(tag); i++ {
		switch tag[i] {
		case '.':
			if err := flush(i); err != nil {
				return nil, err
			}
			start = i + 1
			afterIndex = false
		case '[':
			if i > start {
				if err := flush(i); err != nil {
					return nil, err
				}
			} else if !afterIndex {
				return nil, &PathError{Path: tag, Reason: "array index without a symbol"}
			}
			end := strings.IndexByte(tag[i:], ']')
			if end < 0 {
				return nil, &PathError{Path: tag, Reason: "unterminated array index"}
			}
			end += i
			idx, err := strconv.ParseUint(tag[i+1:end], 10, 32)
			if err != nil {
				return nil, &PathError{Path: tag, Reason: fmt.Sprintf("bad array index %q", tag[i+1:end])}
			}
			parts = append(parts, tagPart{index: uint32(idx), isIndex: true})
			i = end
			start = end + 1
			afterIndex = true
		case ']':
			return nil, &PathError{Path: tag, Reason: "unmatched ']'"}
		}
	}

	if start < len(tag) || !afterIndex && start == len(tag) {
		if err := flush(len(tag)); err != nil {
			return nil, err
		}
	}
	if len(parts) == 0 {
		return nil, &PathError{Path: tag, Reason: "no path segments"}
	}
	return parts, nil
}

// ParsePath decodes an encoded path back to text. Tag paths come back in
// textual form ("Program:Main.Counter[5]"); logical and port paths render
// as slash-joined segments ("Class 0x6B/Instance 1"). A lone trailing
// 0x00 is consumed as the alignment pad.
func ParsePath(p Path) (string, error) {
	var sb strings.Builder
	needDot := false
	off := 0

	sep := func(symbolic bool) {
		if sb.Len() == 0 {
			return
		}
		if symbolic {
			if needDot {
				sb.WriteByte('.')
			}
		} else {
			sb.WriteByte('/')
		}
	}

	for off < len(p) {
		seg := p[off]

		// Alignment pad at the end of the path.
		if seg == 0x00 && off == len(p)-1 {
			break
		}

		switch {
		case seg == segSymbolic:
			if off+2 > len(p) {
				return "", &PathError{Reason: "truncated symbolic segment header"}
			}
			n := int(p[off+1])
			if n == 0 {
				return "", &PathError{Reason: "zero-length symbolic segment"}
			}
			if off+2+n > len(p) {
				return "", &PathError{Reason: "truncated symbolic segment"}
			}
			sep(true)
			sb.Write(p[off+2 : off+2+n])
			off += 2 + n
			if n%2 != 0 {
				if off >= len(p) || p[off] != 0x00 {
					return "", &PathError{Reason: "missing symbolic pad byte"}
				}
				off++
			}
			needDot = true

		case seg&0xE0 == segLogical:
			value, width, err := parseLogicalValue(p, off)
			if err != nil {
				return "", err
			}
			if seg&0x1C == logicalMember {
				// Array index renders inline after its symbol.
				fmt.Fprintf(&sb, "[%d]", value)
				needDot = true
			} else {
				sep(false)
				switch seg & 0x1C {
				case logicalClass:
					fmt.Fprintf(&sb, "Class 0x%02X", value)
				case logicalInstance:
					fmt.Fprintf(&sb, "Instance %d", value)
				case logicalAttribute:
					fmt.Fprintf(&sb, "Attribute %d", value)
				default:
					fmt.Fprintf(&sb, "Logical(0x%02X) %d", seg, value)
				}
				needDot = false
			}
			off += width

		case seg&0xE0 == segPort:
			if off+2 > len(p) {
				return "", &PathError{Reason: "truncated port segment"}
			}
			sep(false)
			fmt.Fprintf(&sb, "Port %d Link %d", seg&0x0F, p[off+1])
			needDot = false
			off += 2

		default:
			return "", &PathError{Reason: fmt.Sprintf("unknown segment 0x%02X at offset %d", seg, off)}
		}
	}

	if sb.Len() == 0 {
		return "", &PathError{Reason: "empty path"}
	}
	return sb.String(), nil
}

// parseLogicalValue reads the value of the logical segment at off and
// reports the full segment width including the internal pad byte.
func parseLogicalValue(p Path, off int) (value uint32, width int, err error) {
	switch p[off] & 0x03 {
	case format8:
		if off+2 > len(p) {
			return 0, 0, &PathError{Reason: "truncated 8-bit logical segment"}
		}
		return uint32(p[off+1]), 2, nil
	case format16:
		if off+4 > len(p) {
			return 0, 0, &PathError{Reason: "truncated 16-bit logical segment"}
		}
		return uint32(binary.LittleEndian.Uint16(p[off+2 : off+4])), 4, nil
	case format32:
		if off+6 > len(p) {
			return 0, 0, &PathError{Reason: "truncated 32-bit logical segment"}
		}
		return binary.LittleEndian.Uint32(p[off+2 : off+6]), 6, nil
	}
	return 0, 0, &PathError{Reason: fmt.Sprintf("reserved logical format in segment 0x%02X", p[off])}
}
