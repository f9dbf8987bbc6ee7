package www

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"taglink/logging"
	"taglink/plcman"
)

// SSEEvent represents an event to broadcast to SSE clients.
type SSEEvent struct {
	Type string      `json:"type"` // "value-change", "status-change", "users-change"
	Data interface{} `json:"data"`
}

// ValueUpdate represents a tag value change event.
type ValueUpdate struct {
	PLC   string      `json:"plc"`
	Tag   string      `json:"tag"`
	Value interface{} `json:"value"`
	Type  string      `json:"type,omitempty"`
}

// StatusUpdate represents a PLC connection status change event.
type StatusUpdate struct {
	PLC            string `json:"plc"`
	Status         string `json:"status"` // "connected", "disconnected", "connecting", "error"
	StatusClass    string `json:"statusClass"`
	TagCount       int    `json:"tagCount"`
	Error          string `json:"error,omitempty"`
	ProductName    string `json:"productName,omitempty"`
	SerialNumber   string `json:"serialNumber,omitempty"`
	Vendor         string `json:"vendor,omitempty"`
	ConnectionMode string `json:"connectionMode,omitempty"`
}

// sseClient represents a connected SSE client.
type sseClient struct {
	id     string
	events chan SSEEvent
}

// EventHub manages SSE client connections and broadcasts events.
type EventHub struct {
	clients    map[string]*sseClient
	register   chan *sseClient
	unregister chan *sseClient
	broadcast  chan SSEEvent
	mu         sync.RWMutex
	done       chan struct{}
}

// newEventHub creates a new EventHub.
func newEventHub() *EventHub {
	hub := &EventHub{
		clients:    make(map[string]*sseClient),
		register:   make(chan *sseClient),
		unregister: make(chan *sseClient),
		broadcast:  make(chan SSEEvent, 256),
		done:       make(chan struct{}),
	}
	go hub.run()
	return hub
}

// run processes client registration and event broadcasting.
func (h *EventHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.events)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				select {
				case client.events <- event:
				default:
					logging.DebugLog("www", "SSE client %s buffer full, dropping %s event", client.id, event.Type)
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.events)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop stops the EventHub.
func (h *EventHub) Stop() {
	close(h.done)
}

// Broadcast sends an event to all connected clients.
func (h *EventHub) Broadcast(event SSEEvent) {
	select {
	case h.broadcast <- event:
	default:
		logging.DebugLog("www", "SSE broadcast channel full, dropping %s event", event.Type)
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleSSE streams live updates to the browser.
func (h *Handlers) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	clientID := fmt.Sprintf("client-%d", time.Now().UnixNano())
	client := &sseClient{
		id:     clientID,
		events: make(chan SSEEvent, 64),
	}

	h.eventHub.register <- client

	notify := r.Context().Done()

	fmt.Fprintf(w, "event: connected\ndata: {\"id\":\"%s\"}\n\n", clientID)
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-notify:
			h.eventHub.unregister <- client
			return

		case event, ok := <-client.events:
			if !ok {
				return
			}
			data, err := json.Marshal(event.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, string(data))
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// setupEventListeners wires PLC manager callbacks into the event hub.
// The returned cleanup removes the listeners.
func (h *Handlers) setupEventListeners() func() {
	valueID := h.plcs.AddOnValueChangeListener(func(changes []plcman.ValueChange) {
		for _, change := range changes {
			h.eventHub.Broadcast(SSEEvent{
				Type: "value-change",
				Data: ValueUpdate{
					PLC:   change.PLCName,
					Tag:   change.TagName,
					Value: change.Value,
					Type:  change.TypeName,
				},
			})
		}
	})

	changeID := h.plcs.AddOnChangeListener(func() {
		for _, plc := range h.plcs.ListPLCs() {
			status := plc.GetStatus()
			statusStr := "disconnected"
			statusClass := "status-disconnected"
			switch status {
			case plcman.StatusConnected:
				statusStr = "connected"
				statusClass = "status-connected"
			case plcman.StatusConnecting:
				statusStr = "connecting"
				statusClass = "status-connecting"
			case plcman.StatusError:
				statusStr = "error"
				statusClass = "status-error"
			}

			update := StatusUpdate{
				PLC:            plc.Config.Name,
				Status:         statusStr,
				StatusClass:    statusClass,
				TagCount:       len(plc.GetTags()),
				ConnectionMode: plc.GetConnectionMode(),
			}
			if err := plc.GetError(); err != nil {
				update.Error = err.Error()
			}
			if info := plc.GetIdentity(); info != nil {
				update.ProductName = info.ProductName
				update.SerialNumber = fmt.Sprintf("%08X", info.Serial)
				update.Vendor = info.VendorName()
			}

			h.eventHub.Broadcast(SSEEvent{
				Type: "status-change",
				Data: update,
			})
		}
	})

	return func() {
		h.plcs.RemoveOnValueChangeListener(valueID)
		h.plcs.RemoveOnChangeListener(changeID)
	}
}
