//go:build integration

package mqtt

import (
	"sync/atomic"
	"testing"
	"time"
)

// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_ConnectAndClose(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "brokersync-int-connect"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}

func TestIntegration_SyncRequestRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "brokersync-int-roundtrip"
	cfg.TopicRoot = "tracker-int"

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var received atomic.Int32
	topic := client.Topics().BrokerSyncRequest()
	if err := client.Subscribe(topic, 1, func(string, []byte) error {
		received.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.subscribed(topic) {
		t.Error("subscription not tracked")
	}

	if err := client.Publish(topic, []byte(`{}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for received.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if received.Load() == 0 {
		t.Error("sync request was not delivered")
	}

	if err := client.Unsubscribe(topic); err != nil {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if client.subscribed(topic) {
		t.Error("subscription still tracked after Unsubscribe")
	}
	if err := client.Unsubscribe(topic); err != nil {
		t.Errorf("second Unsubscribe() error = %v", err)
	}
}
