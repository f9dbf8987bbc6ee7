// Package plcman provides PLC connection management with background polling.
package plcman

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"taglink/cip"
	"taglink/config"
	"taglink/logix"
)

// ConnectionStatus represents the state of a PLC connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ManagedPLC represents a PLC under management.
type ManagedPLC struct {
	Config    *config.PLCConfig
	Client    *logix.Client
	Identity  *logix.DeviceInfo
	Programs  []string
	Tags      []logix.TagInfo
	Values    map[string]*logix.TagValue
	Status    ConnectionStatus
	LastError error
	LastPoll  time.Time

	// aliases maps raw tag names to publish names, writeNames the reverse.
	aliases    map[string]string
	writeNames map[string]string

	mu sync.RWMutex
}

// GetStatus returns the current connection status thread-safely.
func (m *ManagedPLC) GetStatus() ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Status
}

// GetError returns the last error thread-safely.
func (m *ManagedPLC) GetError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastError
}

// GetValues returns a copy of the current tag values.
func (m *ManagedPLC) GetValues() map[string]*logix.TagValue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]*logix.TagValue, len(m.Values))
	for k, v := range m.Values {
		result[k] = v
	}
	return result
}

// GetTags returns the discovered tags.
func (m *ManagedPLC) GetTags() []logix.TagInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Tags
}

// GetPrograms returns the discovered programs.
func (m *ManagedPLC) GetPrograms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Programs
}

// GetIdentity returns the device identity info.
func (m *ManagedPLC) GetIdentity() *logix.DeviceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Identity
}

// GetConnectionMode returns a human-readable connection mode string.
func (m *ManagedPLC) GetConnectionMode() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Client == nil {
		return "Not connected"
	}
	return m.Client.ConnectionMode()
}

// GetTagInfo reports whether a tag is known to this PLC and whether it
// accepts writes. The name may be a configured alias. A tag is writable
// when its symbol is user data rather than a program, routine, or
// controller-internal entry.
func (m *ManagedPLC) GetTagInfo(name string) (found, writable bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw := m.rawName(name)

	if len(m.Tags) == 0 {
		// No symbol table yet (still connecting, or browsing failed).
		// Fall back to the configured selections.
		for i := range m.Config.Tags {
			sel := &m.Config.Tags[i]
			if sel.Name == raw || (sel.Alias != "" && sel.Alias == name) {
				return true, true
			}
		}
		return false, false
	}

	for i := range m.Tags {
		if m.Tags[i].Name == raw {
			return true, m.Tags[i].IsReadable()
		}
	}

	// Member and element paths ("Motor.Speed", "Counts[3]") are not
	// symbol table entries; resolve them through their base symbol.
	if base := baseSymbol(raw); base != raw {
		for i := range m.Tags {
			if m.Tags[i].Name == base {
				return true, m.Tags[i].IsReadable()
			}
		}
	}
	return false, false
}

// baseSymbol strips member and index suffixes from a tag path, keeping
// any program qualifier: "Program:Main.Counter.ACC" -> "Program:Main.Counter".
func baseSymbol(name string) string {
	rest := name
	prefix := ""
	if strings.HasPrefix(rest, "Program:") {
		if i := strings.Index(rest, "."); i >= 0 {
			prefix = rest[:i+1]
			rest = rest[i+1:]
		}
	}
	if i := strings.IndexAny(rest, ".["); i >= 0 {
		rest = rest[:i]
	}
	return prefix + rest
}

// publishName maps a raw tag name to its configured alias, or returns
// the raw name unchanged.
func (m *ManagedPLC) publishName(raw string) string {
	if alias, ok := m.aliases[raw]; ok {
		return alias
	}
	return raw
}

// rawName maps a publish name (possibly an alias) back to the raw tag
// name used on the wire.
func (m *ManagedPLC) rawName(name string) string {
	if raw, ok := m.writeNames[name]; ok {
		return raw
	}
	return name
}

func buildAliasMaps(cfg *config.PLCConfig) (aliases, writeNames map[string]string) {
	aliases = make(map[string]string)
	writeNames = make(map[string]string)
	for _, sel := range cfg.Tags {
		if sel.Alias == "" {
			continue
		}
		aliases[sel.Name] = sel.Alias
		writeNames[sel.Alias] = sel.Name
	}
	return aliases, writeNames
}

// PollStats tracks polling statistics for display.
type PollStats struct {
	LastPollTime time.Time
	TagsPolled   int
	ChangesFound int
	LastError    error
}

// PLCWorker polls a single PLC in its own goroutine.
type PLCWorker struct {
	plc      *ManagedPLC
	manager  *Manager
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	pollRate time.Duration

	// Per-worker stats
	tagsPolled   int
	changesFound int
	lastError    error
	statsMu      sync.RWMutex
}

// newPLCWorker creates a new worker for a PLC. The PLC's own poll rate
// wins over the manager default when set.
func newPLCWorker(plc *ManagedPLC, manager *Manager, pollRate time.Duration) *PLCWorker {
	if plc.Config.PollRate > 0 {
		pollRate = plc.Config.PollRate
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PLCWorker{
		plc:      plc,
		manager:  manager,
		ctx:      ctx,
		cancel:   cancel,
		pollRate: pollRate,
	}
}

// Start begins the worker's poll loop.
func (w *PLCWorker) Start() {
	w.wg.Add(1)
	go w.pollLoop()
}

// Stop halts the worker and waits for it to finish.
func (w *PLCWorker) Stop() {
	w.cancel()
	w.wg.Wait()
}

// GetStats returns the worker's current stats.
func (w *PLCWorker) GetStats() (tagsPolled, changesFound int, lastError error) {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()
	return w.tagsPolled, w.changesFound, w.lastError
}

func (w *PLCWorker) pollLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollRate)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *PLCWorker) setStats(polled, changed int, err error) {
	w.statsMu.Lock()
	w.tagsPolled = polled
	w.changesFound = changed
	w.lastError = err
	w.statsMu.Unlock()
}

func (w *PLCWorker) poll() {
	plc := w.plc

	w.checkAutoReconnect()

	plc.mu.RLock()
	client := plc.Client
	status := plc.Status
	cfg := plc.Config
	plcName := cfg.Name
	oldValues := make(map[string]interface{})
	for k, v := range plc.Values {
		if v != nil && v.Error == nil {
			oldValues[k] = v.GoValue()
		}
	}
	plc.mu.RUnlock()

	if status != StatusConnected || client == nil {
		w.setStats(0, 0, nil)
		return
	}

	tagsToRead := make([]string, 0, len(cfg.Tags))
	for _, sel := range cfg.Tags {
		tagsToRead = append(tagsToRead, sel.Name)
	}
	if len(tagsToRead) == 0 {
		w.setStats(0, 0, nil)
		return
	}

	// Blocking I/O happens here, outside any lock.
	values, err := client.Read(tagsToRead...)
	if err != nil {
		plc.mu.Lock()
		plc.LastError = err
		plc.Status = StatusError
		plc.mu.Unlock()

		w.setStats(len(tagsToRead), 0, err)
		w.manager.log.Warn("poll failed",
			zap.String("plc", plcName),
			zap.Error(err))
		w.manager.markStatusDirty()
		return
	}

	var changes []ValueChange
	plc.mu.Lock()
	for _, v := range values {
		if v.Error == nil {
			newVal := v.GoValue()
			oldVal, existed := oldValues[v.Name]
			if !existed || fmt.Sprintf("%v", oldVal) != fmt.Sprintf("%v", newVal) {
				changes = append(changes, ValueChange{
					PLCName:  plcName,
					TagName:  plc.publishName(v.Name),
					TypeName: v.TypeName(),
					Value:    newVal,
				})
			}
		}
		plc.Values[v.Name] = v
	}
	plc.LastPoll = time.Now()
	plc.mu.Unlock()

	w.setStats(len(tagsToRead), len(changes), nil)

	if len(changes) > 0 {
		w.manager.sendChanges(changes)
	}
	w.manager.markStatusDirty()
}

func (w *PLCWorker) checkAutoReconnect() {
	plc := w.plc

	plc.mu.RLock()
	status := plc.Status
	enabled := plc.Config.Enabled
	plc.mu.RUnlock()

	if !enabled {
		return
	}
	if status == StatusConnected || status == StatusConnecting {
		return
	}

	// Reconnect attempt runs in this worker's goroutine.
	w.manager.connectPLC(plc)
}

// Manager manages multiple PLC connections and polling.
type Manager struct {
	plcs    map[string]*ManagedPLC
	workers map[string]*PLCWorker
	mu      sync.RWMutex

	pollRate      time.Duration
	batchInterval time.Duration
	log           *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Listener registries. Several subsystems subscribe at once (TUI,
	// SSE hubs, publishers), so callbacks are keyed by id for removal.
	listenerMu      sync.RWMutex
	nextListenerID  int
	changeListeners map[int]func()
	valueListeners  map[int]func(changes []ValueChange)

	changeChan  chan []ValueChange // aggregates value changes from workers
	statusDirty int32              // atomic flag: 1 if status listeners need a refresh

	lastPollStats PollStats
	statsMu       sync.RWMutex
}

// NewManager creates a PLC manager. A nil logger disables lifecycle
// logging.
func NewManager(pollRate time.Duration, log *zap.Logger) *Manager {
	if pollRate <= 0 {
		pollRate = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		plcs:            make(map[string]*ManagedPLC),
		workers:         make(map[string]*PLCWorker),
		pollRate:        pollRate,
		batchInterval:   100 * time.Millisecond,
		log:             log,
		changeChan:      make(chan []ValueChange, 100),
		changeListeners: make(map[int]func()),
		valueListeners:  make(map[int]func(changes []ValueChange)),
	}
}

// AddOnChangeListener registers a callback that fires when any PLC's
// connection status changes. The returned id removes it.
func (m *Manager) AddOnChangeListener(fn func()) int {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.nextListenerID++
	id := m.nextListenerID
	m.changeListeners[id] = fn
	return id
}

// RemoveOnChangeListener unregisters a status change listener.
func (m *Manager) RemoveOnChangeListener(id int) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	delete(m.changeListeners, id)
}

// AddOnValueChangeListener registers a callback that receives batches of
// changed tag values. The returned id removes it.
func (m *Manager) AddOnValueChangeListener(fn func(changes []ValueChange)) int {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.nextListenerID++
	id := m.nextListenerID
	m.valueListeners[id] = fn
	return id
}

// RemoveOnValueChangeListener unregisters a value change listener.
func (m *Manager) RemoveOnValueChangeListener(id int) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	delete(m.valueListeners, id)
}

// markStatusDirty signals that status listeners need a refresh.
func (m *Manager) markStatusDirty() {
	atomic.StoreInt32(&m.statusDirty, 1)
}

// sendChanges hands value changes to the aggregator without ever
// blocking a poll worker. When the channel is full the oldest batch is
// dropped to make room.
func (m *Manager) sendChanges(changes []ValueChange) {
	select {
	case m.changeChan <- changes:
	default:
		select {
		case <-m.changeChan:
		default:
		}
		select {
		case m.changeChan <- changes:
		default:
		}
	}
}

// AddPLC adds a PLC to management. Adding a name that already exists is
// a no-op.
func (m *Manager) AddPLC(cfg *config.PLCConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.plcs[cfg.Name]; exists {
		return nil
	}

	aliases, writeNames := buildAliasMaps(cfg)
	plc := &ManagedPLC{
		Config:     cfg,
		Status:     StatusDisconnected,
		Values:     make(map[string]*logix.TagValue),
		aliases:    aliases,
		writeNames: writeNames,
	}
	m.plcs[cfg.Name] = plc

	// If the manager is running, start a worker for this PLC.
	if m.ctx != nil {
		worker := newPLCWorker(plc, m, m.pollRate)
		m.workers[cfg.Name] = worker
		worker.Start()
	}

	m.log.Info("plc added", zap.String("plc", cfg.Name), zap.String("address", cfg.Address))
	return nil
}

// RemovePLC removes a PLC from management and disconnects it.
func (m *Manager) RemovePLC(name string) error {
	m.mu.Lock()
	plc, exists := m.plcs[name]
	worker := m.workers[name]
	if exists {
		delete(m.plcs, name)
		delete(m.workers, name)
	}
	m.mu.Unlock()

	// Stop worker first (outside lock)
	if worker != nil {
		worker.Stop()
	}

	if exists && plc.Client != nil {
		plc.Client.Close()
	}

	if exists {
		m.log.Info("plc removed", zap.String("plc", name))
	}
	m.markStatusDirty()
	return nil
}

// connectPLC establishes a connection to a PLC (called from worker goroutine).
func (m *Manager) connectPLC(plc *ManagedPLC) error {
	plc.mu.Lock()
	plc.Status = StatusConnecting
	plc.LastError = nil
	cfg := plc.Config
	plc.mu.Unlock()
	m.markStatusDirty()

	opts := []logix.Option{}
	if cfg.Slot > 0 && cfg.Slot <= 0xFF {
		opts = append(opts, logix.WithSlot(byte(cfg.Slot)))
	}
	if cfg.Port != 0 {
		opts = append(opts, logix.WithPort(cfg.Port))
	}
	if cfg.RoutePath != "" {
		route, err := cip.ParseRoutePath(cfg.RoutePath)
		if err != nil {
			plc.mu.Lock()
			plc.Status = StatusError
			plc.LastError = err
			plc.mu.Unlock()
			m.log.Warn("bad route path",
				zap.String("plc", cfg.Name),
				zap.String("route", cfg.RoutePath),
				zap.Error(err))
			m.markStatusDirty()
			return err
		}
		opts = append(opts, logix.WithRoutePath(route))
	}
	if cfg.Unconnected {
		opts = append(opts, logix.WithoutConnection())
	}

	client, err := logix.Connect(cfg.Address, opts...)
	if err != nil {
		plc.mu.Lock()
		plc.Status = StatusError
		plc.LastError = err
		plc.mu.Unlock()
		m.log.Warn("connect failed",
			zap.String("plc", cfg.Name),
			zap.String("address", cfg.Address),
			zap.Error(err))
		m.markStatusDirty()
		return err
	}

	// Identity and browse failures are tolerable; polling works without them.
	identity, _ := client.Identity()
	programs, _ := client.Programs()
	tags, _ := client.AllTags()

	plc.mu.Lock()
	plc.Client = client
	plc.Identity = identity
	plc.Programs = programs
	plc.Tags = tags
	plc.Status = StatusConnected
	plc.mu.Unlock()

	m.log.Info("plc connected",
		zap.String("plc", cfg.Name),
		zap.String("address", cfg.Address),
		zap.String("mode", client.ConnectionMode()))
	m.markStatusDirty()

	return nil
}

// Connect establishes a connection to the named PLC. The connection
// runs in the background; watch status via SetOnChange.
func (m *Manager) Connect(name string) error {
	m.mu.RLock()
	plc, exists := m.plcs[name]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("PLC not found: %s", name)
	}

	go m.connectPLC(plc)
	return nil
}

// Disconnect closes the connection to the named PLC.
func (m *Manager) Disconnect(name string) error {
	m.mu.RLock()
	plc, exists := m.plcs[name]
	m.mu.RUnlock()

	if !exists {
		return nil
	}

	plc.mu.Lock()
	if plc.Client != nil {
		plc.Client.Close()
		plc.Client = nil
	}
	plc.Status = StatusDisconnected
	plc.LastError = nil
	plc.Identity = nil
	plc.mu.Unlock()

	m.log.Info("plc disconnected", zap.String("plc", name))
	m.markStatusDirty()

	return nil
}

// GetPLC returns the managed PLC with the given name.
func (m *Manager) GetPLC(name string) *ManagedPLC {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plcs[name]
}

// ListPLCs returns all managed PLCs.
func (m *Manager) ListPLCs() []*ManagedPLC {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*ManagedPLC, 0, len(m.plcs))
	for _, plc := range m.plcs {
		result = append(result, plc)
	}
	return result
}

// Start begins background polling for all PLCs.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.ctx != nil {
		m.mu.Unlock()
		return // already running
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	for name, plc := range m.plcs {
		worker := newPLCWorker(plc, m, m.pollRate)
		m.workers[name] = worker
		worker.Start()
	}
	m.mu.Unlock()

	m.wg.Add(1)
	go m.batchedUpdateLoop()

	m.wg.Add(1)
	go m.statsAggregatorLoop()

	m.log.Info("poll manager started", zap.Duration("poll_rate", m.pollRate))
}

// Stop halts all background polling.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}

	workers := make([]*PLCWorker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[string]*PLCWorker)
	m.mu.Unlock()

	// Stop workers outside of lock
	for _, w := range workers {
		w.Stop()
	}

	m.wg.Wait()

	m.mu.Lock()
	m.ctx = nil
	m.cancel = nil
	m.mu.Unlock()

	m.log.Info("poll manager stopped")
}

// batchedUpdateLoop aggregates changes and fires callbacks at a
// controlled rate so a burst of changes becomes one notification.
func (m *Manager) batchedUpdateLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.batchInterval)
	defer ticker.Stop()

	var pendingChanges []ValueChange

	for {
		select {
		case <-m.ctx.Done():
			if len(pendingChanges) > 0 {
				m.flushValueChanges(pendingChanges)
			}
			return

		case changes := <-m.changeChan:
			pendingChanges = append(pendingChanges, changes...)

		case <-ticker.C:
			if atomic.CompareAndSwapInt32(&m.statusDirty, 1, 0) {
				m.listenerMu.RLock()
				fns := make([]func(), 0, len(m.changeListeners))
				for _, fn := range m.changeListeners {
					fns = append(fns, fn)
				}
				m.listenerMu.RUnlock()
				for _, fn := range fns {
					fn()
				}
			}

			if len(pendingChanges) > 0 {
				m.flushValueChanges(pendingChanges)
				pendingChanges = nil
			}
		}
	}
}

// flushValueChanges fans accumulated changes out to every listener.
// Listeners run outside the registry lock so they may add or remove
// other listeners.
func (m *Manager) flushValueChanges(changes []ValueChange) {
	if len(changes) == 0 {
		return
	}
	m.listenerMu.RLock()
	fns := make([]func(changes []ValueChange), 0, len(m.valueListeners))
	for _, fn := range m.valueListeners {
		fns = append(fns, fn)
	}
	m.listenerMu.RUnlock()
	for _, fn := range fns {
		fn(changes)
	}
}

// statsAggregatorLoop periodically aggregates stats from all workers.
func (m *Manager) statsAggregatorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.aggregateStats()
		}
	}
}

func (m *Manager) aggregateStats() {
	m.mu.RLock()
	workers := make([]*PLCWorker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.RUnlock()

	totalTags := 0
	totalChanges := 0
	var lastErr error

	for _, w := range workers {
		tags, changes, err := w.GetStats()
		totalTags += tags
		totalChanges += changes
		if err != nil {
			lastErr = err
		}
	}

	m.statsMu.Lock()
	m.lastPollStats = PollStats{
		LastPollTime: time.Now(),
		TagsPolled:   totalTags,
		ChangesFound: totalChanges,
		LastError:    lastErr,
	}
	m.statsMu.Unlock()
}

// ReadTag reads a single tag from a connected PLC on demand. The name
// may be a configured alias.
func (m *Manager) ReadTag(plcName, tagName string) (*logix.TagValue, error) {
	m.mu.RLock()
	plc, exists := m.plcs[plcName]
	m.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("PLC not found: %s", plcName)
	}

	plc.mu.RLock()
	client := plc.Client
	status := plc.Status
	raw := plc.rawName(tagName)
	plc.mu.RUnlock()

	if client == nil || status != StatusConnected {
		return nil, fmt.Errorf("PLC not connected: %s", plcName)
	}

	values, err := client.Read(raw)
	if err != nil {
		return nil, err
	}
	if len(values) > 0 {
		return values[0], nil
	}
	return nil, nil
}

// WriteTag writes a value to a tag on a connected PLC. The name may be
// a configured alias.
func (m *Manager) WriteTag(plcName, tagName string, value interface{}) error {
	m.mu.RLock()
	plc, exists := m.plcs[plcName]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("PLC not found: %s", plcName)
	}

	plc.mu.RLock()
	client := plc.Client
	status := plc.Status
	raw := plc.rawName(tagName)
	plc.mu.RUnlock()

	if client == nil || status != StatusConnected {
		return fmt.Errorf("PLC not connected: %s", plcName)
	}

	if err := client.Write(raw, value); err != nil {
		return err
	}
	m.log.Info("tag written",
		zap.String("plc", plcName),
		zap.String("tag", raw),
		zap.Any("value", value))
	return nil
}

// LoadFromConfig adds all PLCs from configuration.
func (m *Manager) LoadFromConfig(cfg *config.Config) {
	for i := range cfg.PLCs {
		m.AddPLC(&cfg.PLCs[i])
	}
}

// ConnectEnabled connects all PLCs marked as enabled.
func (m *Manager) ConnectEnabled() {
	m.mu.RLock()
	plcs := make([]*ManagedPLC, 0)
	for _, plc := range m.plcs {
		if plc.Config.Enabled {
			plcs = append(plcs, plc)
		}
	}
	m.mu.RUnlock()

	for _, plc := range plcs {
		go m.connectPLC(plc)
	}
}

// DisconnectAll disconnects all PLCs.
func (m *Manager) DisconnectAll() {
	m.mu.RLock()
	names := make([]string, 0, len(m.plcs))
	for name := range m.plcs {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		m.Disconnect(name)
	}
}

// GetPollStats returns the aggregated stats from all workers.
func (m *Manager) GetPollStats() PollStats {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()
	return m.lastPollStats
}

// GetAllCurrentValues returns every cached tag value across all PLCs.
// Publishers use this to seed retained topics when a broker connects.
func (m *Manager) GetAllCurrentValues() []ValueChange {
	m.mu.RLock()
	plcs := make([]*ManagedPLC, 0, len(m.plcs))
	for _, plc := range m.plcs {
		plcs = append(plcs, plc)
	}
	m.mu.RUnlock()

	var results []ValueChange
	for _, plc := range plcs {
		plc.mu.RLock()
		plcName := plc.Config.Name
		for tagName, val := range plc.Values {
			if val != nil && val.Error == nil {
				results = append(results, ValueChange{
					PLCName:  plcName,
					TagName:  plc.publishName(tagName),
					TypeName: val.TypeName(),
					Value:    val.GoValue(),
				})
			}
		}
		plc.mu.RUnlock()
	}
	return results
}

// GetTagType returns the data type code for a tag, or 0 when it cannot
// be determined.
func (m *Manager) GetTagType(plcName, tagName string) uint16 {
	m.mu.RLock()
	plc, exists := m.plcs[plcName]
	m.mu.RUnlock()

	if !exists {
		return 0
	}

	plc.mu.RLock()
	raw := plc.rawName(tagName)
	if val, ok := plc.Values[raw]; ok && val != nil {
		dataType := val.DataType
		plc.mu.RUnlock()
		return dataType
	}
	client := plc.Client
	status := plc.Status
	plc.mu.RUnlock()

	if client == nil || status != StatusConnected {
		return 0
	}

	values, err := client.Read(raw)
	if err != nil || len(values) == 0 {
		return 0
	}

	return values[0].DataType
}
