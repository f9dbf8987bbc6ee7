// Package valkey mirrors tag values into a Valkey/Redis keyspace and
// accepts tag writes through a list-based queue.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"taglink/config"
	"taglink/logging"
	"taglink/logix"
)

func logValkey(format string, args ...interface{}) {
	logging.DebugLog("valkey", format, args...)
}

// joinKey joins key segments with colons, trimming stray colons from
// each segment so no key ends up with empty parts.
func joinKey(segments ...string) string {
	var parts []string
	for _, s := range segments {
		s = strings.Trim(s, ":")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ":")
}

// TagMessage is the JSON document stored under each tag key.
type TagMessage struct {
	Prefix    string      `json:"prefix"`
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value"`
	Type      string      `json:"type"`
	Writable  bool        `json:"writable"`
	Timestamp time.Time   `json:"timestamp"`
}

// WriteRequest is the JSON document popped from the write queue.
type WriteRequest struct {
	Prefix string      `json:"prefix"`
	PLC    string      `json:"plc"`
	Tag    string      `json:"tag"`
	Value  interface{} `json:"value"`
}

// WriteResponse is the JSON document published after a write attempt.
type WriteResponse struct {
	Prefix    string      `json:"prefix"`
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// HealthMessage is the JSON document stored under each PLC's health key.
type HealthMessage struct {
	Prefix    string    `json:"prefix"`
	PLC       string    `json:"plc"`
	Address   string    `json:"address"`
	Online    bool      `json:"online"`
	Status    string    `json:"status"`
	Mode      string    `json:"mode,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher maintains the connection to a single Valkey server.
type Publisher struct {
	config  *config.ValkeyConfig
	client  *redis.Client
	running bool
	mu      sync.RWMutex

	// Callbacks
	writeHandler      func(plcName, tagName string, value interface{}) error
	writeValidator    func(plcName, tagName string) bool
	tagTypeLookup     func(plcName, tagName string) uint16
	onConnectCallback func()

	// Write-back processing
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPublisher creates a Valkey publisher for a single server.
func NewPublisher(cfg *config.ValkeyConfig) *Publisher {
	return &Publisher{
		config:   cfg,
		stopChan: make(chan struct{}),
	}
}

// Start connects to the Valkey server.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := &redis.Options{
		Addr:         p.config.Address,
		Password:     p.config.Password,
		DB:           p.config.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}

	if p.config.UseTLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Dial and ping without holding the lock.
	client := redis.NewClient(opts)

	logValkey("connecting to %s (db %d, tls %v)",
		p.config.Address, p.config.Database, p.config.UseTLS)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logValkey("connection failed: %v", err)
		client.Close()
		return fmt.Errorf("connect to valkey at %s: %w", p.config.Address, err)
	}

	logValkey("connected to %s", p.config.Address)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		// Lost a start race; keep the first connection.
		client.Close()
		return nil
	}

	p.client = client
	p.running = true
	p.stopChan = make(chan struct{})

	if p.config.EnableWriteback {
		p.wg.Add(1)
		go p.writebackListener()
	}

	// Seed the keyspace with current values.
	if p.onConnectCallback != nil {
		go p.onConnectCallback()
	}

	return nil
}

// Stop disconnects from the Valkey server.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}

	p.running = false
	close(p.stopChan)

	client := p.client
	p.client = nil
	p.mu.Unlock()

	// The write-back listener blocks up to a second in BLPOP, so give
	// it a moment before closing the client out from under it.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
	}

	if client != nil {
		return client.Close()
	}

	return nil
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Name returns the publisher's name.
func (p *Publisher) Name() string {
	return p.config.Name
}

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.ValkeyConfig {
	return p.config
}

// Address returns the server address string.
func (p *Publisher) Address() string {
	scheme := "redis"
	if p.config.UseTLS {
		scheme = "rediss"
	}
	return fmt.Sprintf("%s://%s", scheme, p.config.Address)
}

// TagKey returns the key a tag value is stored under.
func (p *Publisher) TagKey(plcName, tagName string) string {
	return joinKey(p.config.KeyPrefix, plcName, "tags", tagName)
}

// HealthKey returns the key a PLC's health document is stored under.
func (p *Publisher) HealthKey(plcName string) string {
	return joinKey(p.config.KeyPrefix, plcName, "health")
}

// WriteQueueKey returns the list key polled for write requests.
func (p *Publisher) WriteQueueKey() string {
	return joinKey(p.config.KeyPrefix, "writes")
}

// Publish stores a tag value under its key and optionally announces
// the change on the Pub/Sub channels.
func (p *Publisher) Publish(plcName, tagName, typeName string, value interface{}, writable bool) error {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return nil
	}
	client := p.client
	cfg := p.config
	p.mu.RUnlock()

	// Tag names may contain colons; the tag is always the last segment
	// so the key still parses.
	key := p.TagKey(plcName, tagName)

	msg := TagMessage{
		Prefix:    cfg.KeyPrefix,
		PLC:       plcName,
		Tag:       tagName,
		Value:     value,
		Type:      typeName,
		Writable:  writable,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal tag value: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Set(ctx, key, data, cfg.KeyTTL).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	if cfg.PublishChanges {
		channel := joinKey(cfg.KeyPrefix, plcName, "changes")
		client.Publish(ctx, channel, data)

		allChannel := joinKey(cfg.KeyPrefix, "_all", "changes")
		client.Publish(ctx, allChannel, data)
	}

	return nil
}

// PublishHealth stores a PLC's health document under its health key.
func (p *Publisher) PublishHealth(plcName, address string, online bool, status, mode, errMsg string) error {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return nil
	}
	client := p.client
	cfg := p.config
	p.mu.RUnlock()

	key := p.HealthKey(plcName)

	msg := HealthMessage{
		Prefix:    cfg.KeyPrefix,
		PLC:       plcName,
		Address:   address,
		Online:    online,
		Status:    status,
		Mode:      mode,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal health status: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Set(ctx, key, data, cfg.KeyTTL).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	if cfg.PublishChanges {
		channel := joinKey(cfg.KeyPrefix, plcName, "health")
		client.Publish(ctx, channel, data)
	}

	return nil
}

// SetWriteHandler sets the callback for applying write requests.
func (p *Publisher) SetWriteHandler(handler func(plcName, tagName string, value interface{}) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeHandler = handler
}

// SetWriteValidator sets the callback for validating write requests.
func (p *Publisher) SetWriteValidator(validator func(plcName, tagName string) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeValidator = validator
}

// SetTagTypeLookup sets the callback for looking up tag types.
func (p *Publisher) SetTagTypeLookup(lookup func(plcName, tagName string) uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tagTypeLookup = lookup
}

// SetOnConnectCallback sets the callback invoked after a connection is
// established.
func (p *Publisher) SetOnConnectCallback(callback func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnectCallback = callback
}

// writebackListener pops write requests off the write queue.
func (p *Publisher) writebackListener() {
	defer p.wg.Done()

	queueKey := p.WriteQueueKey()
	responseChannel := joinKey(p.config.KeyPrefix, "write", "responses")

	for {
		select {
		case <-p.stopChan:
			return
		default:
		}

		p.mu.RLock()
		if !p.running || p.client == nil {
			p.mu.RUnlock()
			time.Sleep(100 * time.Millisecond)
			continue
		}
		client := p.client
		p.mu.RUnlock()

		// Block briefly so the stop channel gets checked once a second.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		result, err := client.BLPop(ctx, 1*time.Second, queueKey).Result()
		cancel()

		if err != nil {
			if err != redis.Nil {
				logValkey("write queue error: %v", err)
			}
			continue
		}

		if len(result) < 2 {
			continue
		}

		var req WriteRequest
		if err := json.Unmarshal([]byte(result[1]), &req); err != nil {
			logValkey("bad write request: %v", err)
			continue
		}

		p.processWriteRequest(client, req, responseChannel)
	}
}

// applyWrite validates, converts and applies one write request and
// builds the response document.
func (p *Publisher) applyWrite(req WriteRequest) WriteResponse {
	p.mu.RLock()
	handler := p.writeHandler
	validator := p.writeValidator
	typeLookup := p.tagTypeLookup
	p.mu.RUnlock()

	response := WriteResponse{
		Prefix:    req.Prefix,
		PLC:       req.PLC,
		Tag:       req.Tag,
		Value:     req.Value,
		Timestamp: time.Now().UTC(),
	}

	value := req.Value
	var convErr error
	if typeLookup != nil {
		if dataType := typeLookup(req.PLC, req.Tag); dataType != 0 {
			value, convErr = logix.CoerceValue(req.Value, dataType)
		}
	}

	switch {
	case validator != nil && !validator(req.PLC, req.Tag):
		response.Error = "tag is not writable"
	case handler == nil:
		response.Error = "no write handler configured"
	case convErr != nil:
		response.Error = convErr.Error()
	default:
		if err := handler(req.PLC, req.Tag, value); err != nil {
			response.Error = err.Error()
		} else {
			response.Success = true
		}
	}

	return response
}

// processWriteRequest applies one write request and publishes the
// outcome on the response channel.
func (p *Publisher) processWriteRequest(client *redis.Client, req WriteRequest, responseChannel string) {
	response := p.applyWrite(req)

	data, _ := json.Marshal(response)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client.Publish(ctx, responseChannel, data)

	logValkey("write %s:%s = %v -> success=%v", req.PLC, req.Tag, req.Value, response.Success)
}
