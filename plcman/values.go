package plcman

import (
	"time"
)

// ValueChange describes one tag whose value changed during a poll.
// TagName carries the configured alias when one is set.
type ValueChange struct {
	PLCName  string
	TagName  string
	TypeName string
	Value    interface{}
}

// Key returns a stable identity for change deduplication across
// publishers: "<plc>/<tag>".
func (c ValueChange) Key() string {
	return c.PLCName + "/" + c.TagName
}

// Health is a point-in-time snapshot of one managed PLC, shaped for
// status endpoints and publisher health keys.
type Health struct {
	PLC      string    `json:"plc"`
	Address  string    `json:"address"`
	Online   bool      `json:"online"`
	Status   string    `json:"status"`
	Mode     string    `json:"mode"`
	LastPoll time.Time `json:"last_poll"`
	Error    string    `json:"error,omitempty"`
}

// GetHealth returns this PLC's current health.
func (m *ManagedPLC) GetHealth() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h := Health{
		PLC:      m.Config.Name,
		Address:  m.Config.Address,
		Online:   m.Status == StatusConnected,
		Status:   m.Status.String(),
		LastPoll: m.LastPoll,
	}
	if m.Client != nil {
		h.Mode = m.Client.ConnectionMode()
	} else {
		h.Mode = "Not connected"
	}
	if m.LastError != nil {
		h.Error = m.LastError.Error()
	}
	return h
}

// HealthSnapshot reports the current state of every managed PLC.
func (m *Manager) HealthSnapshot() []Health {
	plcs := m.ListPLCs()

	out := make([]Health, 0, len(plcs))
	for _, plc := range plcs {
		out = append(out, plc.GetHealth())
	}
	return out
}
