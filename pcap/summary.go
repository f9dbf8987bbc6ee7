package pcap

import (
	"fmt"
	"io"
	"sort"
	"time"

	"taglink/eip"
)

// Summary aggregates a capture's EtherNet/IP traffic by command, CIP
// service, session, and reply status.
type Summary struct {
	Frames    int
	FirstSeen time.Time
	LastSeen  time.Time

	Commands      map[uint16]int // encapsulation command -> frame count
	Services      map[byte]int   // CIP service (reply bit stripped) -> count
	Sessions      map[uint32]int // session handle -> frame count
	EncapErrors   map[uint32]int // nonzero encapsulation status -> count
	CIPErrors     map[byte]int   // nonzero CIP general status on replies -> count
	Conversations map[string]int // "src -> dst" -> frame count
}

// Summarize builds a Summary from extracted frames.
func Summarize(frames []Frame) *Summary {
	s := &Summary{
		Commands:      make(map[uint16]int),
		Services:      make(map[byte]int),
		Sessions:      make(map[uint32]int),
		EncapErrors:   make(map[uint32]int),
		CIPErrors:     make(map[byte]int),
		Conversations: make(map[string]int),
	}

	for _, f := range frames {
		s.Frames++
		s.Commands[f.Command]++
		if f.SessionHandle != 0 {
			s.Sessions[f.SessionHandle]++
		}
		if f.Status != 0 {
			s.EncapErrors[f.Status]++
		}
		if f.Command == eip.CommandSendRRData || f.Command == eip.CommandSendUnitData {
			s.Services[f.Service]++
			if f.IsReply && f.GeneralStatus != 0 {
				s.CIPErrors[f.GeneralStatus]++
			}
		}
		if f.SrcIP != "" {
			key := fmt.Sprintf("%s:%d -> %s:%d", f.SrcIP, f.SrcPort, f.DstIP, f.DstPort)
			s.Conversations[key]++
		}
		if !f.Timestamp.IsZero() {
			if s.FirstSeen.IsZero() || f.Timestamp.Before(s.FirstSeen) {
				s.FirstSeen = f.Timestamp
			}
			if f.Timestamp.After(s.LastSeen) {
				s.LastSeen = f.Timestamp
			}
		}
	}

	return s
}

// SummarizeFile extracts a capture and summarizes it in one step.
func SummarizeFile(path string) (*Summary, error) {
	frames, err := ExtractFile(path)
	if err != nil {
		return nil, err
	}
	return Summarize(frames), nil
}

// WriteSummary renders a summary as an aligned text report.
func (s *Summary) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "EtherNet/IP frames: %d\n", s.Frames)
	if !s.FirstSeen.IsZero() {
		fmt.Fprintf(w, "Capture window:     %s to %s (%s)\n",
			s.FirstSeen.Format("15:04:05.000"),
			s.LastSeen.Format("15:04:05.000"),
			s.LastSeen.Sub(s.FirstSeen).Round(time.Millisecond))
	}

	if len(s.Commands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		for _, cmd := range sortedKeys(s.Commands) {
			fmt.Fprintf(w, "  %-20s %d\n", eip.CommandName(cmd), s.Commands[cmd])
		}
	}

	if len(s.Services) > 0 {
		fmt.Fprintf(w, "\nCIP services:\n")
		for _, svc := range sortedKeys(s.Services) {
			fmt.Fprintf(w, "  %-30s %d\n", ServiceName(svc), s.Services[svc])
		}
	}

	if len(s.Sessions) > 0 {
		fmt.Fprintf(w, "\nSessions:\n")
		for _, handle := range sortedKeys(s.Sessions) {
			fmt.Fprintf(w, "  0x%08X  %d frames\n", handle, s.Sessions[handle])
		}
	}

	if len(s.EncapErrors) > 0 {
		fmt.Fprintf(w, "\nEncapsulation errors:\n")
		for _, status := range sortedKeys(s.EncapErrors) {
			fmt.Fprintf(w, "  status 0x%08X  %d\n", status, s.EncapErrors[status])
		}
	}

	if len(s.CIPErrors) > 0 {
		fmt.Fprintf(w, "\nCIP reply errors:\n")
		for _, status := range sortedKeys(s.CIPErrors) {
			fmt.Fprintf(w, "  general status 0x%02X  %d\n", status, s.CIPErrors[status])
		}
	}

	if len(s.Conversations) > 0 {
		fmt.Fprintf(w, "\nConversations:\n")
		keys := make([]string, 0, len(s.Conversations))
		for k := range s.Conversations {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-45s %d frames\n", k, s.Conversations[k])
		}
	}
}

func sortedKeys[K uint16 | uint32 | byte](m map[K]int) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
