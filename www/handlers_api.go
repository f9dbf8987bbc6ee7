package www

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"taglink/logix"
	"taglink/plcman"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// handlePLCsData returns PLC state for the dashboard script.
func (h *Handlers) handlePLCsData(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.getPLCsData())
}

// TagRow is one row of the dashboard tag table. When an alias is
// configured, Name carries the alias and Tag the raw controller tag.
type TagRow struct {
	PLC   string      `json:"plc"`
	Name  string      `json:"name"`
	Tag   string      `json:"tag,omitempty"`
	Type  string      `json:"type,omitempty"`
	Value interface{} `json:"value"`
	Error string      `json:"error,omitempty"`
}

// handleTagsData returns the current value of every configured tag.
func (h *Handlers) handleTagsData(w http.ResponseWriter, r *http.Request) {
	rows := make([]TagRow, 0)

	for _, plc := range h.plcs.ListPLCs() {
		values := plc.GetValues()
		for _, sel := range plc.Config.Tags {
			row := TagRow{
				PLC:  plc.Config.Name,
				Name: sel.PublishName(),
			}
			if sel.Alias != "" {
				row.Tag = sel.Name
			}
			if v, ok := values[sel.Name]; ok && v != nil {
				row.Type = v.TypeName()
				row.Value = v.GoValue()
				if v.Error != nil {
					row.Error = v.Error.Error()
				}
			}
			rows = append(rows, row)
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PLC != rows[j].PLC {
			return rows[i].PLC < rows[j].PLC
		}
		return rows[i].Name < rows[j].Name
	})

	writeJSON(w, rows)
}

// handleTagRead reads one tag on demand, bypassing the poll cache.
func (h *Handlers) handleTagRead(w http.ResponseWriter, r *http.Request) {
	plcName := chi.URLParam(r, "plc")
	plcName, _ = url.PathUnescape(plcName)
	tagName := chi.URLParam(r, "*")
	tagName, _ = url.PathUnescape(tagName)

	value, err := h.plcs.ReadTag(plcName, tagName)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if value == nil {
		writeJSONError(w, http.StatusNotFound, "tag not found")
		return
	}

	row := TagRow{
		PLC:   plcName,
		Name:  tagName,
		Type:  value.TypeName(),
		Value: value.GoValue(),
	}
	if value.Error != nil {
		row.Error = value.Error.Error()
	}
	writeJSON(w, row)
}

// writeRequest is the JSON body for tag writes from the dashboard.
type writeRequest struct {
	PLC   string      `json:"plc"`
	Tag   string      `json:"tag"`
	Value interface{} `json:"value"`
}

// handleTagWrite writes a value to a tag.
func (h *Handlers) handleTagWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	plc := h.plcs.GetPLC(req.PLC)
	if plc == nil {
		writeJSONError(w, http.StatusNotFound, "PLC not found")
		return
	}
	if plc.GetStatus() != plcman.StatusConnected {
		writeJSONError(w, http.StatusServiceUnavailable, "PLC not connected")
		return
	}

	found, writable := plc.GetTagInfo(req.Tag)
	if !found {
		writeJSONError(w, http.StatusNotFound, "tag not found")
		return
	}
	if !writable {
		writeJSONError(w, http.StatusForbidden, "tag is not writable")
		return
	}

	// Narrow JSON numbers to the tag's native type before writing.
	value := req.Value
	if dt := h.plcs.GetTagType(req.PLC, req.Tag); dt != 0 {
		converted, err := logix.CoerceValue(req.Value, dt)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		value = converted
	}

	resultChan := make(chan error, 1)
	go func() {
		resultChan <- h.plcs.WriteTag(req.PLC, req.Tag, value)
	}()

	var writeErr error
	select {
	case writeErr = <-resultChan:
	case <-time.After(3 * time.Second):
		writeJSONError(w, http.StatusGatewayTimeout, "write timeout: PLC did not respond")
		return
	}

	if writeErr != nil {
		writeJSONError(w, http.StatusInternalServerError, writeErr.Error())
		return
	}

	writeJSON(w, map[string]interface{}{
		"plc":     req.PLC,
		"tag":     req.Tag,
		"value":   req.Value,
		"success": true,
	})
}

// handlePLCConnect starts a connection attempt for one PLC.
func (h *Handlers) handlePLCConnect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	name, _ = url.PathUnescape(name)

	if err := h.plcs.Connect(name); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "connecting"})
}

// handlePLCDisconnect drops the connection for one PLC.
func (h *Handlers) handlePLCDisconnect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	name, _ = url.PathUnescape(name)

	if err := h.plcs.Disconnect(name); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]string{"status": "disconnected"})
}
