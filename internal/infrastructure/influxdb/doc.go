// Package influxdb records broker sync metrics in InfluxDB v2.
//
// Every sync run becomes an mqtt_sync point (tags success and reloaded;
// fields duration_ms, pending_before, credentials, rules) and every
// credential lifecycle action an mqtt_provisioning point, so operators
// can graph sync latency, reload failures and provisioning activity.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteSyncMetric(influxdb.SyncMetric{Success: true, Reloaded: true})
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Failed batches are reported through SetOnError.
package influxdb
