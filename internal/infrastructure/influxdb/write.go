package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the service.
const (
	MeasurementSync         = "mqtt_sync"
	MeasurementProvisioning = "mqtt_provisioning"
)

// SyncMetric describes one run of the broker sync.
type SyncMetric struct {
	Success       bool
	Reloaded      bool
	Duration      time.Duration
	PendingBefore int64
	Credentials   int
	Rules         int
	At            time.Time
}

// WriteSyncMetric records a sync run as an mqtt_sync point tagged with
// its outcome.
//
//	client.WriteSyncMetric(influxdb.SyncMetric{
//	    Success: true, Reloaded: true, Duration: 40 * time.Millisecond,
//	})
func (c *Client) WriteSyncMetric(m SyncMetric) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(newSyncPoint(m))
}

func newSyncPoint(m SyncMetric) *write.Point {
	at := m.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		MeasurementSync,
		map[string]string{
			"success":  strconv.FormatBool(m.Success),
			"reloaded": strconv.FormatBool(m.Reloaded),
		},
		map[string]any{
			"duration_ms":    m.Duration.Milliseconds(),
			"pending_before": m.PendingBefore,
			"credentials":    m.Credentials,
			"rules":          m.Rules,
		},
		at,
	)
}

// WriteProvisioningEvent counts a credential lifecycle action
// (create, delete, enable, ...).
func (c *Client) WriteProvisioningEvent(action string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(newProvisioningPoint(action, time.Now()))
}

func newProvisioningPoint(action string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementProvisioning,
		map[string]string{"action": action},
		map[string]any{"count": 1},
		at,
	)
}
