package valkey

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"taglink/config"
	"taglink/logix"
)

func TestJoinKey(t *testing.T) {
	tests := []struct {
		name     string
		segments []string
		want     string
	}{
		{"plain", []string{"plcs", "line1", "tags", "Counter"}, "plcs:line1:tags:Counter"},
		{"empty prefix dropped", []string{"", "line1", "tags", "Counter"}, "line1:tags:Counter"},
		{"stray colons trimmed", []string{"plcs:", ":line1", "tags", "Counter"}, "plcs:line1:tags:Counter"},
		{"colon only segment dropped", []string{"plcs", ":", "health"}, "plcs:health"},
		{"tag keeps inner colons", []string{"plcs", "line1", "tags", "Local:1:I.Data"}, "plcs:line1:tags:Local:1:I.Data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinKey(tt.segments...); got != tt.want {
				t.Errorf("joinKey(%v) = %q, want %q", tt.segments, got, tt.want)
			}
		})
	}
}

func TestKeyLayout(t *testing.T) {
	cfg := config.DefaultValkeyConfig("cache")
	cfg.KeyPrefix = "factory"
	p := NewPublisher(&cfg)

	if got := p.TagKey("line1", "Counter"); got != "factory:line1:tags:Counter" {
		t.Errorf("TagKey = %q", got)
	}
	if got := p.HealthKey("line1"); got != "factory:line1:health" {
		t.Errorf("HealthKey = %q", got)
	}
	if got := p.WriteQueueKey(); got != "factory:writes" {
		t.Errorf("WriteQueueKey = %q", got)
	}
}

func TestAddress(t *testing.T) {
	cfg := config.DefaultValkeyConfig("cache")
	cfg.Address = "valkey.local:6379"
	p := NewPublisher(&cfg)
	if got := p.Address(); got != "redis://valkey.local:6379" {
		t.Errorf("Address() = %q", got)
	}

	cfg2 := config.DefaultValkeyConfig("cache")
	cfg2.Address = "valkey.local:6380"
	cfg2.UseTLS = true
	p2 := NewPublisher(&cfg2)
	if got := p2.Address(); got != "rediss://valkey.local:6380" {
		t.Errorf("Address() with TLS = %q", got)
	}
}

// TestTagMessageShape checks the JSON document subscribers read from
// tag keys.
func TestTagMessageShape(t *testing.T) {
	msg := TagMessage{
		Prefix:    "plcs",
		PLC:       "line1",
		Tag:       "Counter",
		Value:     int32(100),
		Type:      "DINT",
		Writable:  true,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, field := range []string{"prefix", "plc", "tag", "value", "type", "writable", "timestamp"} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("missing field %s", field)
		}
	}
	if decoded["value"] != float64(100) {
		t.Errorf("value = %v, want 100", decoded["value"])
	}

	ts, _ := decoded["timestamp"].(string)
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		t.Errorf("timestamp %q not RFC3339: %v", ts, err)
	}
}

func TestHealthMessageShape(t *testing.T) {
	msg := HealthMessage{
		Prefix:    "plcs",
		PLC:       "line1",
		Address:   "192.168.1.10",
		Online:    false,
		Status:    "Error",
		Error:     "connection refused",
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded["online"] != false {
		t.Errorf("online = %v, want false", decoded["online"])
	}
	if decoded["error"] != "connection refused" {
		t.Errorf("error = %v", decoded["error"])
	}
	if _, present := decoded["mode"]; present {
		t.Error("empty mode should be omitted")
	}
}

// TestNullValue checks that a nil tag value stays null in JSON rather
// than becoming a zero value.
func TestNullValue(t *testing.T) {
	msg := TagMessage{
		Prefix:    "plcs",
		PLC:       "line1",
		Tag:       "Unreadable",
		Value:     nil,
		Type:      "DINT",
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := decoded["value"]; !ok || v != nil {
		t.Errorf("value = %v, want null", v)
	}
}

// TestApplyWrite drives the write-back decision path without a server.
func TestApplyWrite(t *testing.T) {
	newReq := func(value interface{}) WriteRequest {
		return WriteRequest{Prefix: "plcs", PLC: "line1", Tag: "Setpoint", Value: value}
	}

	t.Run("successful write converts the value", func(t *testing.T) {
		cfg := config.DefaultValkeyConfig("cache")
		p := NewPublisher(&cfg)

		var gotValue interface{}
		p.SetWriteHandler(func(plc, tag string, value interface{}) error {
			gotValue = value
			return nil
		})
		p.SetWriteValidator(func(plc, tag string) bool { return true })
		p.SetTagTypeLookup(func(plc, tag string) uint16 { return logix.TypeINT })

		resp := p.applyWrite(newReq(float64(1500)))
		if !resp.Success {
			t.Fatalf("write failed: %s", resp.Error)
		}
		if v, ok := gotValue.(int16); !ok || v != 1500 {
			t.Errorf("handler value = %v (%T), want int16 1500", gotValue, gotValue)
		}
		if resp.PLC != "line1" || resp.Tag != "Setpoint" || resp.Prefix != "plcs" {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("validator rejects", func(t *testing.T) {
		cfg := config.DefaultValkeyConfig("cache")
		p := NewPublisher(&cfg)
		p.SetWriteHandler(func(plc, tag string, value interface{}) error {
			t.Error("handler should not run for rejected write")
			return nil
		})
		p.SetWriteValidator(func(plc, tag string) bool { return false })

		resp := p.applyWrite(newReq(float64(1)))
		if resp.Success {
			t.Fatal("rejected write reported success")
		}
		if resp.Error != "tag is not writable" {
			t.Errorf("error = %q", resp.Error)
		}
	})

	t.Run("no handler configured", func(t *testing.T) {
		cfg := config.DefaultValkeyConfig("cache")
		p := NewPublisher(&cfg)

		resp := p.applyWrite(newReq(float64(1)))
		if resp.Success || resp.Error != "no write handler configured" {
			t.Errorf("response = %+v", resp)
		}
	})

	t.Run("conversion failure", func(t *testing.T) {
		cfg := config.DefaultValkeyConfig("cache")
		p := NewPublisher(&cfg)
		p.SetWriteHandler(func(plc, tag string, value interface{}) error { return nil })
		p.SetTagTypeLookup(func(plc, tag string) uint16 { return logix.TypeSINT })

		resp := p.applyWrite(newReq(float64(1000)))
		if resp.Success {
			t.Fatal("out of range write reported success")
		}
		if resp.Error == "" {
			t.Error("expected a conversion error message")
		}
	})

	t.Run("handler error propagates", func(t *testing.T) {
		cfg := config.DefaultValkeyConfig("cache")
		p := NewPublisher(&cfg)
		p.SetWriteHandler(func(plc, tag string, value interface{}) error {
			return errors.New("PLC not connected: line1")
		})

		resp := p.applyWrite(newReq(float64(1)))
		if resp.Success {
			t.Fatal("failed write reported success")
		}
		if resp.Error != "PLC not connected: line1" {
			t.Errorf("error = %q", resp.Error)
		}
	})
}

func TestWriteRequestParse(t *testing.T) {
	payload := []byte(`{"prefix":"plcs","plc":"line1","tag":"Setpoint","value":42}`)

	var req WriteRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Prefix != "plcs" || req.PLC != "line1" || req.Tag != "Setpoint" {
		t.Errorf("parsed request = %+v", req)
	}
	if v, ok := req.Value.(float64); !ok || v != 42 {
		t.Errorf("value = %v (%T)", req.Value, req.Value)
	}
}

func TestManagerPublishers(t *testing.T) {
	m := NewManager()

	m.LoadFromConfig([]config.ValkeyConfig{
		config.DefaultValkeyConfig("cache"),
		config.DefaultValkeyConfig("mirror"),
	})

	if got := len(m.List()); got != 2 {
		t.Fatalf("List() returned %d publishers, want 2", got)
	}
	if m.Get("cache") == nil {
		t.Error("Get(cache) returned nil")
	}
	if m.Get("missing") != nil {
		t.Error("Get(missing) should return nil")
	}
	if m.AnyRunning() {
		t.Error("AnyRunning should be false before Start")
	}

	if !m.Remove("cache") {
		t.Error("Remove(cache) returned false")
	}
	if m.Remove("cache") {
		t.Error("second Remove(cache) returned true")
	}
	if got := len(m.List()); got != 1 {
		t.Errorf("List() returned %d publishers after remove, want 1", got)
	}
}

// TestManagerAppliesCallbacks verifies callbacks set before Add reach
// new publishers.
func TestManagerAppliesCallbacks(t *testing.T) {
	m := NewManager()
	m.SetWriteHandler(func(plc, tag string, value interface{}) error { return nil })
	m.SetWriteValidator(func(plc, tag string) bool { return true })
	m.SetTagTypeLookup(func(plc, tag string) uint16 { return logix.TypeDINT })

	cfg := config.DefaultValkeyConfig("late")
	pub := m.Add(&cfg)

	pub.mu.RLock()
	defer pub.mu.RUnlock()
	if pub.writeHandler == nil || pub.writeValidator == nil || pub.tagTypeLookup == nil {
		t.Error("callbacks not applied to publisher added after Set calls")
	}
}
