package influxdb

import (
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/config"
)

func tags(p *write.Point) map[string]string {
	out := map[string]string{}
	for _, t := range p.TagList() {
		out[t.Key] = t.Value
	}
	return out
}

func fields(p *write.Point) map[string]any {
	out := map[string]any{}
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestNewSyncPoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := newSyncPoint(SyncMetric{
		Success:       true,
		Reloaded:      false,
		Duration:      1500 * time.Millisecond,
		PendingBefore: 3,
		Credentials:   2,
		Rules:         5,
		At:            at,
	})

	if p.Name() != MeasurementSync {
		t.Errorf("Name() = %q, want %q", p.Name(), MeasurementSync)
	}
	if !p.Time().Equal(at) {
		t.Errorf("Time() = %v, want %v", p.Time(), at)
	}

	tg := tags(p)
	if tg["success"] != "true" || tg["reloaded"] != "false" {
		t.Errorf("tags = %v", tg)
	}

	f := fields(p)
	if f["duration_ms"] != int64(1500) {
		t.Errorf("duration_ms = %v (%T), want 1500", f["duration_ms"], f["duration_ms"])
	}
	if f["pending_before"] != int64(3) {
		t.Errorf("pending_before = %v, want 3", f["pending_before"])
	}
	if f["credentials"] != int64(2) || f["rules"] != int64(5) {
		t.Errorf("credentials/rules = %v/%v", f["credentials"], f["rules"])
	}
}

func TestNewSyncPoint_DefaultsTime(t *testing.T) {
	before := time.Now()
	p := newSyncPoint(SyncMetric{})
	if p.Time().Before(before) {
		t.Errorf("Time() = %v, want >= %v", p.Time(), before)
	}
}

func TestNewProvisioningPoint(t *testing.T) {
	p := newProvisioningPoint("disable", time.Now())

	if p.Name() != MeasurementProvisioning {
		t.Errorf("Name() = %q", p.Name())
	}
	if tags(p)["action"] != "disable" {
		t.Errorf("tags = %v", tags(p))
	}
	if fields(p)["count"] != int64(1) {
		t.Errorf("count = %v", fields(p)["count"])
	}
}

func TestBatchSettings(t *testing.T) {
	tests := []struct {
		name         string
		batch, flush int
		wantB, wantF int
	}{
		{"configured", 500, 2, 500, 2},
		{"zero uses defaults", 0, 0, defaultBatchSize, defaultFlushSeconds},
		{"negative uses defaults", -5, -1, defaultBatchSize, defaultFlushSeconds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, f := batchSettings(config.InfluxDBConfig{BatchSize: tt.batch, FlushInterval: tt.flush})
			if b != tt.wantB || f != tt.wantF {
				t.Errorf("batchSettings() = %d, %d; want %d, %d", b, f, tt.wantB, tt.wantF)
			}
		})
	}
}
