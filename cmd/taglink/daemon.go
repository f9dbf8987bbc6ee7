package main

import (
	"time"

	"go.uber.org/zap"

	"taglink/config"
	"taglink/kafka"
	"taglink/mqtt"
	"taglink/plcman"
	"taglink/valkey"
)

// daemon bundles the PLC manager and the publisher sinks that both the
// serve and monitor commands run.
type daemon struct {
	cfg     *config.Config
	manager *plcman.Manager
	mqtt    *mqtt.Manager
	valkey  *valkey.Manager
	kafka   *kafka.Manager

	stopHealth chan struct{}
}

// startDaemon builds the manager and sinks from configuration, wires
// value-change fan-out and write-back, and starts polling.
func startDaemon(cfg *config.Config, logger *zap.Logger) *daemon {
	pollRate := cfg.PollRate
	if pollRate <= 0 {
		pollRate = time.Second
	}

	d := &daemon{
		cfg:        cfg,
		manager:    plcman.NewManager(pollRate, logger),
		mqtt:       mqtt.NewManager(),
		valkey:     valkey.NewManager(),
		kafka:      kafka.NewManager(),
		stopHealth: make(chan struct{}),
	}

	d.manager.LoadFromConfig(cfg)
	d.mqtt.LoadFromConfig(cfg.MQTT)
	d.valkey.LoadFromConfig(cfg.Valkey)
	d.kafka.LoadFromConfig(cfg.Kafka)

	// Write-back: publisher subscriptions route inbound values to the
	// controller, gated on the tag being configured writable.
	writeHandler := func(plcName, tagName string, value interface{}) error {
		return d.manager.WriteTag(plcName, tagName, value)
	}
	writeValidator := func(plcName, tagName string) bool {
		plc := d.manager.GetPLC(plcName)
		if plc == nil {
			return false
		}
		_, writable := plc.GetTagInfo(tagName)
		return writable
	}

	d.mqtt.SetWriteHandler(writeHandler)
	d.mqtt.SetWriteValidator(writeValidator)
	d.mqtt.SetTagTypeLookup(d.manager.GetTagType)
	plcNames := make([]string, len(cfg.PLCs))
	for i := range cfg.PLCs {
		plcNames[i] = cfg.PLCs[i].Name
	}
	d.mqtt.SetPLCNames(plcNames)

	d.valkey.SetWriteHandler(writeHandler)
	d.valkey.SetWriteValidator(writeValidator)
	d.valkey.SetTagTypeLookup(d.manager.GetTagType)
	d.valkey.SetOnConnectCallback(d.seedValkey)

	// Change fan-out: every batched poll delta goes to every sink.
	d.manager.AddOnValueChangeListener(func(changes []plcman.ValueChange) {
		for _, c := range changes {
			writable := writeValidator(c.PLCName, c.TagName)
			d.mqtt.Publish(c.PLCName, c.TagName, c.TypeName, c.Value, false)
			d.valkey.Publish(c.PLCName, c.TagName, c.TypeName, c.Value, writable)
			d.kafka.Publish(c.PLCName, c.TagName, c.TypeName, c.Value, writable, false)
		}
	})

	d.manager.Start()
	d.manager.ConnectEnabled()
	d.mqtt.StartAll()
	d.mqtt.UpdateWriteSubscriptions()
	d.valkey.StartAll()
	d.kafka.ConnectEnabled()

	go d.healthLoop()

	return d
}

// seedValkey pushes every cached value so a freshly connected server
// starts with a complete key set rather than waiting for changes.
func (d *daemon) seedValkey() {
	for _, v := range d.manager.GetAllCurrentValues() {
		writable := false
		if plc := d.manager.GetPLC(v.PLCName); plc != nil {
			_, writable = plc.GetTagInfo(v.TagName)
		}
		d.valkey.Publish(v.PLCName, v.TagName, v.TypeName, v.Value, writable)
	}
}

// healthLoop publishes a PLC health snapshot every 10 seconds.
func (d *daemon) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopHealth:
			return
		case <-ticker.C:
			for _, h := range d.manager.HealthSnapshot() {
				d.valkey.PublishHealth(h.PLC, h.Address, h.Online, h.Status, h.Mode, h.Error)
				d.kafka.PublishHealth(h.PLC, h.Online, h.Status, h.Mode, h.Error)
			}
		}
	}
}

// stop shuts the sinks and the manager down, disconnecting every PLC.
func (d *daemon) stop() {
	close(d.stopHealth)

	d.mqtt.StopAll()
	d.valkey.StopAll()
	d.kafka.StopAll()

	d.manager.Stop()
	d.manager.DisconnectAll()
}
