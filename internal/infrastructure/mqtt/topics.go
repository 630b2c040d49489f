package mqtt

import "strings"

// DefaultTopicRoot is used when the configuration leaves topic_root empty.
const DefaultTopicRoot = "tracker"

// Topics builds the service's own topics under a configurable root. Device
// location traffic lives under the broker topic prefix and is never touched
// here.
//
//	topics := mqtt.NewTopics("tracker")
//	topics.BrokerSync() // "tracker/system/broker/sync"
type Topics struct {
	root string
}

// NewTopics returns topic builders rooted at root. Surrounding slashes are
// trimmed; an empty root falls back to DefaultTopicRoot.
func NewTopics(root string) Topics {
	root = strings.Trim(root, "/")
	if root == "" {
		root = DefaultTopicRoot
	}
	return Topics{root: root}
}

// Root returns the topic root.
func (t Topics) Root() string {
	return t.root
}

// SystemStatus carries the retained online/offline status and the LWT.
//
// Example: tracker/system/status
func (t Topics) SystemStatus() string {
	return t.root + "/system/status"
}

// BrokerSync carries the retained result of the latest sync.
//
// Example: tracker/system/broker/sync
func (t Topics) BrokerSync() string {
	return t.root + "/system/broker/sync"
}

// BrokerSyncRequest is where other services ask for a sync.
//
// Example: tracker/command/broker/sync
func (t Topics) BrokerSyncRequest() string {
	return t.root + "/command/broker/sync"
}

// CredentialEvent carries provisioning events for one device.
//
// Example: tracker/event/credential/42
func (t Topics) CredentialEvent(deviceID string) string {
	return t.root + "/event/credential/" + deviceID
}
