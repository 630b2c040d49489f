package brokersync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/influxdb"
)

// Report describes a finished sync for observers.
type Report struct {
	Result        SyncResult
	StartedAt     time.Time
	Duration      time.Duration
	PendingBefore int64
	Credentials   int
	Rules         int
	Err           error
}

// Observer is told about every finished sync, successful or not.
// Errors are logged and do not affect the sync result.
type Observer interface {
	SyncCompleted(ctx context.Context, r Report) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, r Report) error

// SyncCompleted calls f.
func (f ObserverFunc) SyncCompleted(ctx context.Context, r Report) error {
	return f(ctx, r)
}

// RetainedPublisher is the part of the MQTT client used to announce syncs.
type RetainedPublisher interface {
	IsConnected() bool
	PublishRetained(topic string, payload []byte) error
}

// EventPublisher publishes each sync outcome as a retained JSON message,
// so a subscriber always sees the latest one.
type EventPublisher struct {
	pub   RetainedPublisher
	topic string
}

// NewEventPublisher returns an observer publishing to topic.
func NewEventPublisher(pub RetainedPublisher, topic string) *EventPublisher {
	return &EventPublisher{pub: pub, topic: topic}
}

type syncEvent struct {
	Success       bool   `json:"success"`
	Reloaded      bool   `json:"reloaded"`
	Message       string `json:"message"`
	PendingBefore int64  `json:"pending_before"`
	Credentials   int    `json:"credentials"`
	Rules         int    `json:"rules"`
	DurationMS    int64  `json:"duration_ms"`
	Timestamp     string `json:"timestamp"`
}

// SyncCompleted implements Observer. It is a no-op while disconnected.
func (p *EventPublisher) SyncCompleted(_ context.Context, r Report) error {
	if !p.pub.IsConnected() {
		return nil
	}
	payload, err := json.Marshal(syncEvent{
		Success:       r.Result.Success,
		Reloaded:      r.Result.Reloaded,
		Message:       r.Result.Message,
		PendingBefore: r.PendingBefore,
		Credentials:   r.Credentials,
		Rules:         r.Rules,
		DurationMS:    r.Duration.Milliseconds(),
		Timestamp:     r.StartedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshalling sync event: %w", err)
	}
	return p.pub.PublishRetained(p.topic, payload)
}

// MetricsWriter is the part of the InfluxDB client used for sync metrics.
type MetricsWriter interface {
	WriteSyncMetric(m influxdb.SyncMetric)
}

// MetricsRecorder writes one point per sync.
type MetricsRecorder struct {
	w MetricsWriter
}

// NewMetricsRecorder returns an observer writing to w.
func NewMetricsRecorder(w MetricsWriter) *MetricsRecorder {
	return &MetricsRecorder{w: w}
}

// SyncCompleted implements Observer.
func (m *MetricsRecorder) SyncCompleted(_ context.Context, r Report) error {
	m.w.WriteSyncMetric(influxdb.SyncMetric{
		Success:       r.Result.Success,
		Reloaded:      r.Result.Reloaded,
		Duration:      r.Duration,
		PendingBefore: r.PendingBefore,
		Credentials:   r.Credentials,
		Rules:         r.Rules,
		At:            r.StartedAt,
	})
	return nil
}
