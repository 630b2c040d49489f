package main

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/tracker-broker-core/internal/audit"
	"github.com/nerrad567/tracker-broker-core/internal/credential"
	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/logging"
	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/mqtt"
)

// eventQueueSize bounds the credential events waiting for the broker.
// Events beyond it are dropped; the audit log keeps the record.
const eventQueueSize = 32

// eventPublisher is the part of *mqtt.Client the events hook uses.
type eventPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Topics() mqtt.Topics
}

// provisioningCounter is the part of *influxdb.Client the events hook uses.
type provisioningCounter interface {
	WriteProvisioningEvent(action string)
}

type credentialEvent struct {
	Action    string `json:"action"`
	DeviceID  string `json:"device_id"`
	Timestamp string `json:"timestamp"`
}

type queuedEvent struct {
	topic   string
	payload []byte
}

// credentialEvents fans credential audit entries out to MQTT and InfluxDB.
// Publishing waits for the broker ack, so it happens on one worker fed by
// a bounded queue instead of on the audit writer's goroutine.
type credentialEvents struct {
	pub     eventPublisher
	counter provisioningCounter
	log     *logging.Logger

	queue chan queuedEvent
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// provisioningEvents builds the events fan-out. Either client may be nil.
// Details stay in the audit log since they can carry owner addresses.
func provisioningEvents(mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) *credentialEvents {
	var pub eventPublisher
	if mqttClient != nil {
		pub = mqttClient
	}
	var counter provisioningCounter
	if influxClient != nil {
		counter = influxClient
	}
	return newCredentialEvents(pub, counter, log, eventQueueSize)
}

func newCredentialEvents(pub eventPublisher, counter provisioningCounter, log *logging.Logger, queueSize int) *credentialEvents {
	e := &credentialEvents{
		pub:     pub,
		counter: counter,
		log:     log,
		queue:   make(chan queuedEvent, queueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if pub == nil {
		close(e.done)
		return e
	}
	go e.run()
	return e
}

// Hook is the audit.Hook that enqueues credential events.
func (e *credentialEvents) Hook(_ context.Context, entry audit.AuditLog) {
	if entry.EntityType != credential.AuditEntityCredential {
		return
	}
	if e.counter != nil {
		e.counter.WriteProvisioningEvent(entry.Action)
	}
	if e.pub == nil {
		return
	}

	payload, err := json.Marshal(credentialEvent{
		Action:    entry.Action,
		DeviceID:  entry.EntityID,
		Timestamp: entry.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		e.log.Warn("encoding credential event failed", "error", err)
		return
	}
	ev := queuedEvent{topic: e.pub.Topics().CredentialEvent(entry.EntityID), payload: payload}

	select {
	case <-e.stop:
		e.log.Debug("credential event dropped after shutdown", "topic", ev.topic)
		return
	default:
	}
	select {
	case e.queue <- ev:
	default:
		e.log.Warn("credential event queue full, dropping event", "topic", ev.topic)
	}
}

func (e *credentialEvents) run() {
	defer close(e.done)
	for {
		select {
		case ev := <-e.queue:
			e.publish(ev)
		case <-e.stop:
			// Flush what was queued before shutdown.
			for {
				select {
				case ev := <-e.queue:
					e.publish(ev)
				default:
					return
				}
			}
		}
	}
}

func (e *credentialEvents) publish(ev queuedEvent) {
	if err := e.pub.Publish(ev.topic, ev.payload, 1, false); err != nil {
		e.log.Debug("credential event not published", "topic", ev.topic, "error", err)
	}
}

// Close stops the worker after flushing queued events. It must run before
// the MQTT client is closed.
func (e *credentialEvents) Close() {
	e.once.Do(func() { close(e.stop) })
	<-e.done
}
