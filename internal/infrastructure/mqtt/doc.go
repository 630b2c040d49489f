// Package mqtt is the broker sync service's own MQTT connection.
//
// The service does not carry device traffic. It uses MQTT to:
//   - announce itself on <root>/system/status (retained, with an LWT)
//   - publish the outcome of every sync on <root>/system/broker/sync
//   - accept sync requests on <root>/command/broker/sync
//
// The connection is optional: when mqtt.enabled is false the service runs
// without it and sync results are only visible through the HTTP API.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	_ = client.PublishRetained(client.Topics().BrokerSync(), payload)
//
// Because the broker being managed may be the one we connect to, the
// client identity should be the broker admin, which every generated
// password and ACL file contains.
package mqtt
