// Package api serves the REST interface: PLC and tag enumeration,
// on-demand reads, tag writes, health, and a server-sent event stream
// of live value changes.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"taglink/config"
	"taglink/logix"
	"taglink/plcman"
)

// PLCResponse is the JSON response for PLC info.
type PLCResponse struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	Slot        int    `json:"slot"`
	Status      string `json:"status"`
	Mode        string `json:"mode,omitempty"`
	ProductName string `json:"product_name,omitempty"`
	Error       string `json:"error,omitempty"`
}

// TagResponse is the JSON response for a tag value. When an alias is
// configured, Name carries the alias and Tag the raw controller tag.
type TagResponse struct {
	PLC       string      `json:"plc"`
	Name      string      `json:"name"`
	Tag       string      `json:"tag,omitempty"`
	Type      string      `json:"type,omitempty"`
	Value     interface{} `json:"value"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// WriteRequest is the JSON request for writing a tag value. It matches
// the MQTT write request shape so clients can share one encoder.
type WriteRequest struct {
	PLC   string      `json:"plc"`
	Tag   string      `json:"tag"`
	Value interface{} `json:"value"`
}

// WriteResponse is the JSON response after writing a tag value.
type WriteResponse struct {
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// handlers holds the API handler state.
type handlers struct {
	manager *plcman.Manager
	hub     *eventHub

	valueListenerID  int
	changeListenerID int
}

// NewRouter creates the REST API router. The returned cleanup function
// detaches the event listeners and stops the SSE hub; call it when the
// router is unmounted.
func NewRouter(manager *plcman.Manager) (chi.Router, func()) {
	h := &handlers{
		manager: manager,
		hub:     newEventHub(),
	}
	cleanup := h.setupSSE()

	r := chi.NewRouter()

	r.Get("/", h.handleListPLCs)
	r.Get("/health", h.handleHealth)
	r.Get("/events", h.handleSSE)

	r.Route("/{plc}", func(r chi.Router) {
		r.Get("/", h.handlePLCDetails)
		r.Get("/health", h.handlePLCHealth)
		r.Get("/programs", h.handlePrograms)
		r.Get("/programs/{program}/tags", h.handleProgramTags)
		r.Get("/tags", h.handleAllTags)
		r.Get("/tags/*", h.handleSingleTag)
		r.Post("/write", h.handleWrite)
	})

	return r, cleanup
}

func (h *handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// getPLC resolves the {plc} URL parameter, writing a 404 when the name
// is unknown.
func (h *handlers) getPLC(w http.ResponseWriter, r *http.Request) *plcman.ManagedPLC {
	name := chi.URLParam(r, "plc")
	name, _ = url.PathUnescape(name)

	plc := h.manager.GetPLC(name)
	if plc == nil {
		h.writeError(w, http.StatusNotFound, "PLC not found")
	}
	return plc
}

func plcResponse(plc *plcman.ManagedPLC) PLCResponse {
	resp := PLCResponse{
		Name:    plc.Config.Name,
		Address: plc.Config.Address,
		Slot:    plc.Config.Slot,
		Status:  plc.GetStatus().String(),
		Mode:    plc.GetConnectionMode(),
	}
	if info := plc.GetIdentity(); info != nil {
		resp.ProductName = info.ProductName
	}
	if err := plc.GetError(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (h *handlers) handleListPLCs(w http.ResponseWriter, r *http.Request) {
	plcs := h.manager.ListPLCs()
	response := make([]PLCResponse, 0, len(plcs))
	for _, plc := range plcs {
		response = append(response, plcResponse(plc))
	}
	h.writeJSON(w, response)
}

func (h *handlers) handlePLCDetails(w http.ResponseWriter, r *http.Request) {
	plc := h.getPLC(w, r)
	if plc == nil {
		return
	}
	h.writeJSON(w, plcResponse(plc))
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.manager.HealthSnapshot())
}

func (h *handlers) handlePLCHealth(w http.ResponseWriter, r *http.Request) {
	plc := h.getPLC(w, r)
	if plc == nil {
		return
	}
	h.writeJSON(w, plc.GetHealth())
}

func (h *handlers) handlePrograms(w http.ResponseWriter, r *http.Request) {
	plc := h.getPLC(w, r)
	if plc == nil {
		return
	}
	programs := plc.GetPrograms()
	if programs == nil {
		programs = []string{}
	}
	h.writeJSON(w, programs)
}

// tagResponse builds the response for one configured selection from the
// cached poll values.
func tagResponse(plc *plcman.ManagedPLC, sel config.TagSelection, values map[string]*logix.TagValue) TagResponse {
	resp := TagResponse{
		PLC:  plc.Config.Name,
		Name: sel.PublishName(),
	}
	if sel.Alias != "" {
		resp.Tag = sel.Name
	}
	if v, ok := values[sel.Name]; ok && v != nil {
		resp.Type = v.TypeName()
		resp.Value = v.GoValue()
		if v.Error != nil {
			resp.Error = v.Error.Error()
		}
	}
	return resp
}

func (h *handlers) handleAllTags(w http.ResponseWriter, r *http.Request) {
	plc := h.getPLC(w, r)
	if plc == nil {
		return
	}

	values := plc.GetValues()
	response := make(map[string]TagResponse)
	for _, sel := range plc.Config.Tags {
		resp := tagResponse(plc, sel, values)
		response[plc.Config.Name+"."+resp.Name] = resp
	}
	h.writeJSON(w, response)
}

func (h *handlers) handleProgramTags(w http.ResponseWriter, r *http.Request) {
	plc := h.getPLC(w, r)
	if plc == nil {
		return
	}
	program := chi.URLParam(r, "program")
	program, _ = url.PathUnescape(program)

	values := plc.GetValues()
	prefix := "Program:" + program + "."

	response := make(map[string]TagResponse)
	for _, sel := range plc.Config.Tags {
		if !strings.HasPrefix(sel.Name, prefix) {
			continue
		}
		resp := tagResponse(plc, sel, values)
		response[plc.Config.Name+"."+resp.Name] = resp
	}
	h.writeJSON(w, response)
}

func (h *handlers) handleSingleTag(w http.ResponseWriter, r *http.Request) {
	plc := h.getPLC(w, r)
	if plc == nil {
		return
	}

	tagName := chi.URLParam(r, "*")
	tagName, _ = url.PathUnescape(tagName)

	// Resolve a configured alias to the raw controller tag.
	name := tagName
	raw := tagName
	for i := range plc.Config.Tags {
		sel := &plc.Config.Tags[i]
		if sel.Name == tagName || (sel.Alias != "" && sel.Alias == tagName) {
			name = sel.PublishName()
			raw = sel.Name
			break
		}
	}

	resp := TagResponse{
		PLC:  plc.Config.Name,
		Name: name,
	}
	if raw != name {
		resp.Tag = raw
	}

	// Polled tags answer from cache; anything else is read on demand.
	if v, ok := plc.GetValues()[raw]; ok && v != nil {
		resp.Type = v.TypeName()
		resp.Value = v.GoValue()
		if v.Error != nil {
			resp.Error = v.Error.Error()
		}
		if last := plc.GetHealth().LastPoll; !last.IsZero() {
			resp.Timestamp = last.UTC().Format(time.RFC3339)
		}
		h.writeJSON(w, resp)
		return
	}

	v, err := h.manager.ReadTag(plc.Config.Name, tagName)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if v == nil {
		h.writeError(w, http.StatusNotFound, "tag not found")
		return
	}

	resp.Type = v.TypeName()
	resp.Value = v.GoValue()
	if v.Error != nil {
		resp.Error = v.Error.Error()
	}
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339)
	h.writeJSON(w, resp)
}

// writeFailure answers a write with the given HTTP status and error.
func (h *handlers) writeFailure(w http.ResponseWriter, status int, req WriteRequest, msg string) {
	resp := WriteResponse{
		PLC:       req.PLC,
		Tag:       req.Tag,
		Value:     req.Value,
		Success:   false,
		Error:     msg,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	w.WriteHeader(status)
	h.writeJSON(w, resp)
}

func (h *handlers) handleWrite(w http.ResponseWriter, r *http.Request) {
	plc := h.getPLC(w, r)
	if plc == nil {
		return
	}

	var req WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.PLC != "" && req.PLC != plc.Config.Name {
		h.writeFailure(w, http.StatusBadRequest, req,
			fmt.Sprintf("PLC name mismatch: URL has '%s', request has '%s'", plc.Config.Name, req.PLC))
		return
	}
	req.PLC = plc.Config.Name

	if plc.GetStatus() != plcman.StatusConnected {
		h.writeFailure(w, http.StatusServiceUnavailable, req, "PLC not connected")
		return
	}

	found, writable := plc.GetTagInfo(req.Tag)
	if !found {
		h.writeFailure(w, http.StatusNotFound, req, "tag not found")
		return
	}
	if !writable {
		h.writeFailure(w, http.StatusForbidden, req, "tag is not writable")
		return
	}

	// JSON numbers arrive as float64; narrow to the tag's CIP type so a
	// DINT write does not land as LREAL.
	value := req.Value
	if dt := h.manager.GetTagType(plc.Config.Name, req.Tag); dt != 0 {
		converted, err := logix.CoerceValue(req.Value, dt)
		if err != nil {
			h.writeFailure(w, http.StatusBadRequest, req, err.Error())
			return
		}
		value = converted
	}

	// The write runs in a goroutine so a wedged PLC cannot hold the
	// HTTP worker past the timeout.
	resultChan := make(chan error, 1)
	go func() {
		resultChan <- h.manager.WriteTag(plc.Config.Name, req.Tag, value)
	}()

	var writeErr error
	select {
	case writeErr = <-resultChan:
	case <-time.After(3 * time.Second):
		writeErr = fmt.Errorf("write timeout: PLC did not respond within 3 seconds")
	}

	resp := WriteResponse{
		PLC:       req.PLC,
		Tag:       req.Tag,
		Value:     req.Value,
		Success:   writeErr == nil,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if writeErr != nil {
		resp.Error = writeErr.Error()
		w.WriteHeader(http.StatusInternalServerError)
	}
	h.writeJSON(w, resp)
}
