package logix

import (
	"encoding/binary"
	"fmt"
	"strings"

	"taglink/cip"
)

// TagInfo is one entry from the controller's symbol table.
type TagInfo struct {
	Name     string
	TypeCode uint16
	Instance uint32 // symbol object instance, drives listing pagination
}

// IsProgram reports whether the entry is a program itself rather than a
// tag: "Program:Main" is a program, "Program:Main.Run" is a tag in it.
func (t TagInfo) IsProgram() bool {
	rest, ok := strings.CutPrefix(t.Name, "Program:")
	return ok && !strings.Contains(rest, ".")
}

// IsSystem reports whether the entry is controller-internal bookkeeping
// (map, task and connection symbols) rather than user data.
func (t TagInfo) IsSystem() bool {
	return strings.HasPrefix(t.Name, "Map:") ||
		strings.HasPrefix(t.Name, "Cxn:") ||
		strings.HasPrefix(t.Name, "Task:")
}

// IsRoutine reports whether the entry names a routine.
func (t TagInfo) IsRoutine() bool {
	return strings.Contains(t.Name, "Routine:")
}

// IsReadable reports whether the entry is a data tag worth offering to
// read and write paths.
func (t TagInfo) IsReadable() bool {
	return !t.IsProgram() && !t.IsRoutine() && !t.IsSystem()
}

// TypeName returns the controller-style name of the entry's type.
func (t TagInfo) TypeName() string {
	return TypeName(t.TypeCode)
}

// ListTags returns the controller-scope symbol table: data tags plus one
// entry per program.
func (p *PLC) ListTags() ([]TagInfo, error) {
	return p.listSymbols("")
}

// ListPrograms returns the program entries, names like "Program:Main".
func (p *PLC) ListPrograms() ([]string, error) {
	tags, err := p.ListTags()
	if err != nil {
		return nil, err
	}

	var programs []string
	seen := make(map[string]bool)
	for _, t := range tags {
		if t.IsProgram() && !seen[t.Name] {
			seen[t.Name] = true
			programs = append(programs, t.Name)
		}
	}
	return programs, nil
}

// ListProgramTags returns the tags scoped to one program. The name may
// be given bare ("Main") or in full ("Program:Main").
func (p *PLC) ListProgramTags(program string) ([]TagInfo, error) {
	if !strings.HasPrefix(program, "Program:") {
		program = "Program:" + program
	}
	return p.listSymbols(program)
}

// ListDataTags returns every readable data tag in the controller,
// controller-scope and program-scope, with program tags fully qualified.
func (p *PLC) ListDataTags() ([]TagInfo, error) {
	all, err := p.ListAllTags()
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

// ListAllTags returns the full symbol table: controller scope, program
// entries, and each program's tags qualified with its name.
func (p *PLC) ListAllTags() ([]TagInfo, error) {
	base, err := p.ListTags()
	if err != nil {
		return nil, err
	}

	var programs []string
	seen := make(map[string]bool)
	for _, t := range base {
		if t.IsProgram() && !seen[t.Name] {
			seen[t.Name] = true
			programs = append(programs, t.Name)
		}
	}

	all := append(make([]TagInfo, 0, len(base)), base...)
	for _, prog := range programs {
		progTags, err := p.listSymbols(prog)
		if err != nil {
			// Programs that refuse browsing are skipped, not fatal.
			continue
		}
		prefix := prog + "."
		for i := range progTags {
			if !strings.HasPrefix(progTags[i].Name, "Program:") {
				progTags[i].Name = prefix + progTags[i].Name
			}
		}
		all = append(all, progTags...)
	}
	return all, nil
}

// symbolListAttrs requests attribute 1 (symbol name) and 2 (symbol type)
// from the Symbol Object.
var symbolListAttrs = []byte{0x02, 0x00, 0x01, 0x00, 0x02, 0x00}

// listSymbols walks the Symbol Object instance space for one scope.
// Each partial-transfer reply names the last instance it covered; the
// next request resumes just past it.
func (p *PLC) listSymbols(scope string) ([]TagInfo, error) {
	if p == nil || p.Conn == nil {
		return nil, fmt.Errorf("logix: no session")
	}

	var all []TagInfo
	instance := uint32(0)

	// Page cap guards against a controller that always reports more.
	for page := 0; page < 1000; page++ {
		tags, last, more, err := p.listSymbolsPage(scope, instance)
		if err != nil {
			return nil, err
		}
		all = append(all, tags...)
		if !more || len(tags) == 0 {
			return all, nil
		}
		instance = last + 1
	}
	return all, nil
}

// listSymbolsPage fetches one Get Instance Attribute List page starting
// at the given instance.
func (p *PLC) listSymbolsPage(scope string, start uint32) (tags []TagInfo, last uint32, more bool, err error) {
	b := cip.EPath()
	if scope != "" {
		b.Symbol(scope)
	}
	path, err := b.Class(ClassSymbolObject).Instance(start).Build()
	if err != nil {
		return nil, 0, false, err
	}

	resp, err := p.execute(cip.Request{
		Service: ServiceGetInstanceAttrList,
		Path:    path,
		Data:    symbolListAttrs,
	})
	if err != nil {
		return nil, 0, false, err
	}
	if err := checkStatus(scope, ServiceGetInstanceAttrList, resp, StatusPartialTransfer); err != nil {
		return nil, 0, false, err
	}

	tags, last = parseSymbolPage(resp.Data)
	return tags, last, resp.Status == StatusPartialTransfer, nil
}

// parseSymbolPage decodes Get Instance Attribute List reply data. Each
// entry is the instance (u32), the name length (u16) and characters, and
// the symbol type (u16), all little-endian.
func parseSymbolPage(data []byte) (tags []TagInfo, last uint32) {
	for i := 0; i+8 <= len(data); {
		instance := binary.LittleEndian.Uint32(data[i:])
		nameLen := int(binary.LittleEndian.Uint16(data[i+4:]))
		i += 6

		if i+nameLen+2 > len(data) {
			break
		}
		name := string(data[i : i+nameLen])
		typeCode := binary.LittleEndian.Uint16(data[i+nameLen:])
		i += nameLen + 2

		last = instance
		if name == "" || instance == 0 {
			continue
		}
		tags = append(tags, TagInfo{Name: name, TypeCode: typeCode, Instance: instance})
	}
	return tags, last
}
