package plcman

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"taglink/cip"
	"taglink/config"
	"taglink/logix"
)

func TestConnectionStatusString(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusDisconnected, "Disconnected"},
		{StatusConnecting, "Connecting"},
		{StatusConnected, "Connected"},
		{StatusError, "Error"},
		{ConnectionStatus(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("ConnectionStatus(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestAddRemovePLC(t *testing.T) {
	m := NewManager(time.Second, nil)

	cfg := &config.PLCConfig{Name: "line1", Address: "192.168.1.10"}
	if err := m.AddPLC(cfg); err != nil {
		t.Fatalf("AddPLC: %v", err)
	}
	if err := m.AddPLC(cfg); err != nil {
		t.Fatalf("duplicate AddPLC: %v", err)
	}
	if got := len(m.ListPLCs()); got != 1 {
		t.Errorf("ListPLCs after duplicate add = %d entries, want 1", got)
	}

	plc := m.GetPLC("line1")
	if plc == nil {
		t.Fatal("GetPLC returned nil")
	}
	if plc.GetStatus() != StatusDisconnected {
		t.Errorf("new PLC status = %v, want Disconnected", plc.GetStatus())
	}
	if mode := plc.GetConnectionMode(); mode != "Not connected" {
		t.Errorf("connection mode = %q, want %q", mode, "Not connected")
	}

	if err := m.RemovePLC("line1"); err != nil {
		t.Fatalf("RemovePLC: %v", err)
	}
	if m.GetPLC("line1") != nil {
		t.Error("PLC still present after remove")
	}
}

func TestLoadFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AddPLC(config.PLCConfig{Name: "a", Address: "10.0.0.1"})
	cfg.AddPLC(config.PLCConfig{Name: "b", Address: "10.0.0.2"})

	m := NewManager(time.Second, nil)
	m.LoadFromConfig(cfg)

	names := []string{}
	for _, plc := range m.ListPLCs() {
		names = append(names, plc.Config.Name)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("managed PLCs = %v, want [a b]", names)
	}
}

func TestAliasMaps(t *testing.T) {
	cfg := &config.PLCConfig{
		Name:    "line1",
		Address: "10.0.0.1",
		Tags: []config.TagSelection{
			{Name: "Counter"},
			{Name: "Program:Main.Speed", Alias: "speed"},
		},
	}

	m := NewManager(time.Second, nil)
	m.AddPLC(cfg)
	plc := m.GetPLC("line1")

	if got := plc.publishName("Program:Main.Speed"); got != "speed" {
		t.Errorf("publishName = %q, want speed", got)
	}
	if got := plc.publishName("Counter"); got != "Counter" {
		t.Errorf("publishName without alias = %q, want Counter", got)
	}
	if got := plc.rawName("speed"); got != "Program:Main.Speed" {
		t.Errorf("rawName = %q, want Program:Main.Speed", got)
	}
	if got := plc.rawName("Counter"); got != "Counter" {
		t.Errorf("rawName passthrough = %q, want Counter", got)
	}
}

func TestValueChangeKey(t *testing.T) {
	c := ValueChange{PLCName: "line1", TagName: "Counter"}
	if got := c.Key(); got != "line1/Counter" {
		t.Errorf("Key() = %q, want line1/Counter", got)
	}
}

func TestChangeBatching(t *testing.T) {
	m := NewManager(time.Second, nil)

	got := make(chan []ValueChange, 10)
	m.AddOnValueChangeListener(func(changes []ValueChange) {
		got <- changes
	})

	statusFired := make(chan struct{}, 10)
	m.AddOnChangeListener(func() {
		statusFired <- struct{}{}
	})

	m.Start()
	defer m.Stop()

	m.sendChanges([]ValueChange{{PLCName: "line1", TagName: "A", Value: int64(1)}})
	m.sendChanges([]ValueChange{{PLCName: "line1", TagName: "B", Value: int64(2)}})
	m.markStatusDirty()

	select {
	case changes := <-got:
		// Both batches may arrive in one flush or two; collect the rest.
		for len(changes) < 2 {
			select {
			case more := <-got:
				changes = append(changes, more...)
			case <-time.After(2 * time.Second):
				t.Fatalf("only %d changes delivered, want 2", len(changes))
			}
		}
		names := []string{changes[0].TagName, changes[1].TagName}
		sort.Strings(names)
		if names[0] != "A" || names[1] != "B" {
			t.Errorf("delivered tags = %v, want [A B]", names)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("value change callback never fired")
	}

	select {
	case <-statusFired:
	case <-time.After(2 * time.Second):
		t.Fatal("status change callback never fired")
	}
}

func TestSendChangesNeverBlocks(t *testing.T) {
	m := NewManager(time.Second, nil)

	// Fill the aggregation channel past capacity without a consumer.
	for i := 0; i < 150; i++ {
		done := make(chan struct{})
		go func(n int) {
			m.sendChanges([]ValueChange{{TagName: fmt.Sprintf("tag%d", n)}})
			close(done)
		}(i)
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("sendChanges blocked on batch %d", i)
		}
	}

	// The newest batch must have displaced an older one.
	var last []ValueChange
	for {
		select {
		case batch := <-m.changeChan:
			last = batch
			continue
		default:
		}
		break
	}
	if len(last) != 1 || last[0].TagName != "tag149" {
		t.Errorf("newest batch = %v, want tag149", last)
	}
}

func TestReadWriteRequireConnection(t *testing.T) {
	m := NewManager(time.Second, nil)
	m.AddPLC(&config.PLCConfig{Name: "line1", Address: "10.0.0.1"})

	if _, err := m.ReadTag("ghost", "Counter"); err == nil {
		t.Error("ReadTag for unknown PLC returned nil error")
	}
	if _, err := m.ReadTag("line1", "Counter"); err == nil {
		t.Error("ReadTag on disconnected PLC returned nil error")
	}
	if err := m.WriteTag("ghost", "Counter", int32(1)); err == nil {
		t.Error("WriteTag for unknown PLC returned nil error")
	}
	if err := m.WriteTag("line1", "Counter", int32(1)); err == nil {
		t.Error("WriteTag on disconnected PLC returned nil error")
	}
}

func TestGetTagTypeFromCache(t *testing.T) {
	m := NewManager(time.Second, nil)
	m.AddPLC(&config.PLCConfig{
		Name:    "line1",
		Address: "10.0.0.1",
		Tags:    []config.TagSelection{{Name: "Program:Main.Speed", Alias: "speed"}},
	})

	plc := m.GetPLC("line1")
	plc.mu.Lock()
	plc.Values["Program:Main.Speed"] = &logix.TagValue{
		Name:     "Program:Main.Speed",
		DataType: logix.TypeDINT,
		Bytes:    []byte{0x2A, 0x00, 0x00, 0x00},
		Count:    1,
	}
	plc.mu.Unlock()

	if got := m.GetTagType("line1", "speed"); got != logix.TypeDINT {
		t.Errorf("GetTagType via alias = 0x%04X, want 0x%04X", got, logix.TypeDINT)
	}
	if got := m.GetTagType("line1", "Program:Main.Speed"); got != logix.TypeDINT {
		t.Errorf("GetTagType via raw name = 0x%04X, want 0x%04X", got, logix.TypeDINT)
	}
	if got := m.GetTagType("line1", "Missing"); got != 0 {
		t.Errorf("GetTagType for uncached tag on disconnected PLC = 0x%04X, want 0", got)
	}
	if got := m.GetTagType("ghost", "Counter"); got != 0 {
		t.Errorf("GetTagType for unknown PLC = 0x%04X, want 0", got)
	}
}

func TestGetAllCurrentValuesAppliesAlias(t *testing.T) {
	m := NewManager(time.Second, nil)
	m.AddPLC(&config.PLCConfig{
		Name:    "line1",
		Address: "10.0.0.1",
		Tags:    []config.TagSelection{{Name: "Program:Main.Speed", Alias: "speed"}},
	})

	plc := m.GetPLC("line1")
	plc.mu.Lock()
	plc.Values["Program:Main.Speed"] = &logix.TagValue{
		Name:     "Program:Main.Speed",
		DataType: logix.TypeDINT,
		Bytes:    []byte{0x2A, 0x00, 0x00, 0x00},
		Count:    1,
	}
	plc.Values["Broken"] = &logix.TagValue{
		Name:  "Broken",
		Error: fmt.Errorf("read failed"),
	}
	plc.mu.Unlock()

	vals := m.GetAllCurrentValues()
	if len(vals) != 1 {
		t.Fatalf("GetAllCurrentValues returned %d entries, want 1", len(vals))
	}
	if vals[0].TagName != "speed" {
		t.Errorf("TagName = %q, want alias %q", vals[0].TagName, "speed")
	}
	if vals[0].TypeName != "DINT" {
		t.Errorf("TypeName = %q, want DINT", vals[0].TypeName)
	}
	if v, ok := vals[0].Value.(int64); !ok || v != 42 {
		t.Errorf("Value = %v, want int64(42)", vals[0].Value)
	}
}

func TestHealthSnapshot(t *testing.T) {
	m := NewManager(time.Second, nil)
	m.AddPLC(&config.PLCConfig{Name: "line1", Address: "10.0.0.1"})

	plc := m.GetPLC("line1")
	plc.mu.Lock()
	plc.Status = StatusError
	plc.LastError = fmt.Errorf("connection refused")
	plc.mu.Unlock()

	snap := m.HealthSnapshot()
	if len(snap) != 1 {
		t.Fatalf("HealthSnapshot returned %d entries, want 1", len(snap))
	}
	h := snap[0]
	if h.PLC != "line1" || h.Address != "10.0.0.1" {
		t.Errorf("snapshot identity = %s@%s", h.PLC, h.Address)
	}
	if h.Status != "Error" {
		t.Errorf("Status = %q, want Error", h.Status)
	}
	if h.Mode != "Not connected" {
		t.Errorf("Mode = %q, want Not connected", h.Mode)
	}
	if h.Error != "connection refused" {
		t.Errorf("Error = %q, want connection refused", h.Error)
	}
	if h.Online {
		t.Error("Online = true for an errored PLC")
	}
}

func TestListenerRemoval(t *testing.T) {
	m := NewManager(time.Second, nil)

	var fired int32
	id := m.AddOnValueChangeListener(func(changes []ValueChange) {
		atomic.AddInt32(&fired, 1)
	})
	m.RemoveOnValueChangeListener(id)

	kept := make(chan struct{}, 10)
	m.AddOnValueChangeListener(func(changes []ValueChange) {
		kept <- struct{}{}
	})

	m.Start()
	defer m.Stop()

	m.sendChanges([]ValueChange{{PLCName: "line1", TagName: "A", Value: int64(1)}})

	select {
	case <-kept:
	case <-time.After(2 * time.Second):
		t.Fatal("remaining listener never fired")
	}
	if atomic.LoadInt32(&fired) != 0 {
		t.Error("removed listener still fired")
	}
}

func TestBaseSymbol(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Counter", "Counter"},
		{"Motor.Speed", "Motor"},
		{"Counts[3]", "Counts"},
		{"Program:Main.Counter", "Program:Main.Counter"},
		{"Program:Main.Counter.ACC", "Program:Main.Counter"},
		{"Program:Main.Data[2].Value", "Program:Main.Data"},
	}
	for _, tt := range tests {
		if got := baseSymbol(tt.in); got != tt.want {
			t.Errorf("baseSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetTagInfo(t *testing.T) {
	m := NewManager(time.Second, nil)
	m.AddPLC(&config.PLCConfig{
		Name:    "line1",
		Address: "10.0.0.1",
		Tags: []config.TagSelection{
			{Name: "Program:Main.Speed", Alias: "speed"},
		},
	})
	plc := m.GetPLC("line1")

	t.Run("config fallback before browse", func(t *testing.T) {
		found, writable := plc.GetTagInfo("speed")
		if !found || !writable {
			t.Errorf("GetTagInfo(speed) = %v, %v, want true, true", found, writable)
		}
		if found, _ := plc.GetTagInfo("Bogus"); found {
			t.Error("unknown tag reported found")
		}
	})

	plc.mu.Lock()
	plc.Tags = []logix.TagInfo{
		{Name: "Counter", TypeCode: logix.TypeDINT, Instance: 1},
		{Name: "Motor", TypeCode: 0x8FA2, Instance: 2},
		{Name: "Program:Main", TypeCode: 0x1068, Instance: 3},
		{Name: "Program:Main.Speed", TypeCode: logix.TypeREAL, Instance: 4},
		{Name: "Map:Local", TypeCode: 0x1069, Instance: 5},
	}
	plc.mu.Unlock()

	tests := []struct {
		name         string
		tag          string
		wantFound    bool
		wantWritable bool
	}{
		{"plain tag", "Counter", true, true},
		{"alias resolves", "speed", true, true},
		{"structure member via base", "Motor.Speed", true, true},
		{"array element via base", "Counter[2]", true, true},
		{"program entry is not writable", "Program:Main", true, false},
		{"system symbol is not writable", "Map:Local", true, false},
		{"unknown tag", "Nope", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			found, writable := plc.GetTagInfo(tt.tag)
			if found != tt.wantFound || writable != tt.wantWritable {
				t.Errorf("GetTagInfo(%q) = %v, %v, want %v, %v",
					tt.tag, found, writable, tt.wantFound, tt.wantWritable)
			}
		})
	}
}

func TestStartStopIdempotent(t *testing.T) {
	m := NewManager(50*time.Millisecond, nil)
	m.AddPLC(&config.PLCConfig{Name: "line1", Address: "10.0.0.1"})

	m.Start()
	m.Start() // second start is a no-op
	m.Stop()
	m.Stop() // second stop is a no-op

	// Restart after stop must work.
	m.Start()
	m.Stop()
}

func TestConnectRejectsBadRoutePath(t *testing.T) {
	m := NewManager(time.Second, nil)
	cfg := &config.PLCConfig{Name: "routed", Address: "10.0.0.9", RoutePath: "1,0,2"}
	if err := m.AddPLC(cfg); err != nil {
		t.Fatalf("AddPLC: %v", err)
	}

	plc := m.GetPLC("routed")
	err := m.connectPLC(plc)
	var pe *cip.PathError
	if !errors.As(err, &pe) {
		t.Fatalf("connectPLC = %v, want *cip.PathError", err)
	}
	if got := plc.GetStatus(); got != StatusError {
		t.Errorf("status after bad route = %v, want %v", got, StatusError)
	}
	if plc.GetError() == nil {
		t.Error("LastError not recorded")
	}
}
